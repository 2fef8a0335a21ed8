// internal/circulation/handler.go
package circulation

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"libradesk/internal/events"
	"libradesk/internal/httpx"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// IssueRequest is the body of POST /transactions. DueDays defaults to
// DefaultDueDays when omitted.
type IssueRequest struct {
	BookID   string `json:"book_id"`
	MemberID string `json:"member_id"`
	DueDays  *int   `json:"due_days,omitempty"`
}

// Routes mounts the transaction endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleIssue)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/return", h.handleReturn)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	dueDays := DefaultDueDays
	if req.DueDays != nil {
		dueDays = *req.DueDays
	}

	t, err := h.service.Issue(correlated(r), req.BookID, req.MemberID, dueDays)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.Created(w, "book issued", t)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Return(correlated(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "book returned", t)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.GetLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "", loan)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	overdue, err := httpx.QueryBool(r, "overdue")
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	q := r.URL.Query()
	loans, err := h.service.ListLoans(r.Context(), ListFilter{
		Status:      Status(q.Get("status")),
		BookID:      q.Get("book_id"),
		MemberID:    q.Get("member_id"),
		OverdueOnly: overdue,
		Limit:       limit,
	})
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "", loans)
}

// HandleAudit serves the ledger drift report.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.Audit(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	if drifts == nil {
		drifts = []Drift{}
	}
	httpx.OK(w, "", drifts)
}

// HandleReconcile corrects the counters of the book named by the id URL param.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "book reconciled", book)
}

// correlated tags the request context with the request id so loan events can
// be traced back to the call that caused them.
func correlated(r *http.Request) context.Context {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return events.WithCorrelationID(r.Context(), id)
	}
	return r.Context()
}
