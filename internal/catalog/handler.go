// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"libradesk/internal/httpx"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes mounts the book endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleSearch)
	r.Post("/", h.handleAddBook)
	r.Get("/{id}", h.handleGetBook)
	r.Put("/{id}", h.handleUpdateBook)
	r.Delete("/{id}", h.handleRemoveBook)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	availableOnly, err := httpx.QueryBool(r, "available")
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	books, err := h.service.Search(r.Context(), Filter{
		Search:        r.URL.Query().Get("q"),
		AvailableOnly: availableOnly,
		Limit:         limit,
	})
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "", books)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req BookInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.Created(w, "book added", book)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "", book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var req BookInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "book updated", book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
