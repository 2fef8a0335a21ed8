// Package auth guards the staff API with a single configured credential and
// short-lived bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"libradesk/internal/domain"
	"libradesk/internal/httpx"
)

// Authenticator checks staff logins and bearer tokens. A nil *Authenticator
// lets every request through.
type Authenticator struct {
	username     string
	passwordHash string
	tokens       *Tokens
	log          *zap.Logger
}

func NewAuthenticator(username, passwordHash string, tokens *Tokens, log *zap.Logger) *Authenticator {
	return &Authenticator{
		username:     username,
		passwordHash: passwordHash,
		tokens:       tokens,
		log:          log.Named("auth"),
	}
}

// Session is a granted login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges the staff credential for a token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK, err := VerifyPassword(password, a.passwordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !userOK || !passOK {
		a.log.Warn("Login rejected", zap.String("username", username))
		return nil, fmt.Errorf("bad username or password: %w", domain.ErrUnauthorized)
	}

	token, expires, err := a.tokens.Issue(a.username)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	a.log.Info("Staff logged in", zap.String("username", a.username), zap.Time("expires_at", expires))
	return &Session{Token: token, ExpiresAt: expires}, nil
}

type claimsKey struct{}

// ClaimsFrom returns the claims the middleware attached to ctx.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			httpx.Fail(w, r, a.log, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized))
			return
		}
		claims, err := a.tokens.Validate(raw)
		if err != nil {
			httpx.Fail(w, r, a.log, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin serves POST /login. With authentication off it answers 404.
func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if a == nil {
		httpx.Error(w, http.StatusNotFound, "authentication is disabled")
		return
	}
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, a.log, err)
		return
	}

	session, err := a.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			a.log.Error("Login failed", zap.Error(err))
		}
		httpx.Fail(w, r, a.log, err)
		return
	}
	httpx.OK(w, "logged in", session)
}
