// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"libradesk/internal/auth"
	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/domain"
	"libradesk/internal/membership"
	"libradesk/internal/reports"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Unwrap maps the unambiguous statuses back onto the domain taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	}
	return nil
}

// Client calls the LibraDesk HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges the staff credential for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.Session, error) {
	var s auth.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/login", nil, auth.LoginRequest{Username: username, Password: password}, &s); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

func (c *Client) AddBook(ctx context.Context, in catalog.BookInput) (*catalog.Book, error) {
	var b catalog.Book
	if err := c.do(ctx, http.MethodPost, "/api/v1/books", nil, in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBook(ctx context.Context, id string) (*catalog.Book, error) {
	var b catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/v1/books/"+url.PathEscape(id), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) SearchBooks(ctx context.Context, f catalog.Filter) ([]*catalog.Book, error) {
	q := url.Values{}
	if f.Search != "" {
		q.Set("q", f.Search)
	}
	if f.AvailableOnly {
		q.Set("available", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var books []*catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/v1/books", q, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) RegisterMember(ctx context.Context, in membership.MemberInput) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodPost, "/api/v1/members", nil, in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Issue lends bookID to memberID. Zero dueDays lets the server pick the default.
func (c *Client) Issue(ctx context.Context, bookID, memberID string, dueDays int) (*circulation.Transaction, error) {
	req := circulation.IssueRequest{BookID: bookID, MemberID: memberID}
	if dueDays != 0 {
		req.DueDays = &dueDays
	}
	var t circulation.Transaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) Return(ctx context.Context, transactionID string) (*circulation.Transaction, error) {
	var t circulation.Transaction
	path := "/api/v1/transactions/" + url.PathEscape(transactionID) + "/return"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListLoans(ctx context.Context, f circulation.ListFilter) ([]*circulation.Loan, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.BookID != "" {
		q.Set("book_id", f.BookID)
	}
	if f.MemberID != "" {
		q.Set("member_id", f.MemberID)
	}
	if f.OverdueOnly {
		q.Set("overdue", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var loans []*circulation.Loan
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions", q, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *Client) Overdue(ctx context.Context) ([]*circulation.Loan, error) {
	var loans []*circulation.Loan
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/overdue", nil, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *Client) Dashboard(ctx context.Context) (*reports.Dashboard, error) {
	var d reports.Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/dashboard", nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Audit(ctx context.Context) ([]circulation.Drift, error) {
	var drifts []circulation.Drift
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit", nil, nil, &drifts); err != nil {
		return nil, err
	}
	return drifts, nil
}

func (c *Client) Reconcile(ctx context.Context, bookID string) (*catalog.Book, error) {
	var b catalog.Book
	if err := c.do(ctx, http.MethodPost, "/api/v1/books/"+url.PathEscape(bookID)+"/reconcile", nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
