package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libradesk/internal/domain"
	"libradesk/internal/httpx"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("battery staple", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salts differ")
}

func TestVerifyPassword_Malformed(t *testing.T) {
	_, err := VerifyPassword("x", "no-separator")
	assert.ErrorIs(t, err, ErrMalformedHash)

	_, err = VerifyPassword("x", "!!!$AAAA")
	assert.Error(t, err)
}

func TestTokens(t *testing.T) {
	clock := domain.NewFakeClock(epoch)
	tokens := NewTokens("secret", time.Hour, clock)

	raw, expires, err := tokens.Issue("librarian")
	require.NoError(t, err)
	assert.True(t, epoch.Add(time.Hour).Equal(expires))

	claims, err := tokens.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "librarian", claims.Username)

	_, err = NewTokens("other", time.Hour, clock).Validate(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = tokens.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	clock.Advance(2 * time.Hour)
	_, err = tokens.Validate(raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func newAuthenticator(t *testing.T, clock domain.Clock) *Authenticator {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	return NewAuthenticator("librarian", hash, NewTokens("jwt-secret", time.Hour, clock), zap.NewNop())
}

func TestLogin(t *testing.T) {
	a := newAuthenticator(t, domain.NewFakeClock(epoch))
	ctx := context.Background()

	s, err := a.Login(ctx, "librarian", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)

	_, err = a.Login(ctx, "librarian", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = a.Login(ctx, "admin", "s3cret")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMiddleware(t *testing.T) {
	clock := domain.NewFakeClock(epoch)
	a := newAuthenticator(t, clock)
	s, err := a.Login(context.Background(), "librarian", "s3cret")
	require.NoError(t, err)

	protected := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		httpx.OK(w, "", claims.Username)
	}))

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/books", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("Bearer "+s.Token).Code)
	assert.Equal(t, http.StatusOK, call("bearer "+s.Token).Code)
	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+s.Token).Code)
}

func TestNilAuthenticatorIsOpen(t *testing.T) {
	var a *Authenticator
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLogin(t *testing.T) {
	a := newAuthenticator(t, domain.NewFakeClock(epoch))

	rec := httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"librarian","password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool    `json:"success"`
		Data    Session `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.Token)

	rec = httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"librarian","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
