// internal/membership/handler.go
package membership

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

// Routes mounts the member endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleSearch)
	r.Post("/", h.handleRegister)
	r.Get("/{id}", h.handleGetMember)
	r.Put("/{id}", h.handleUpdateMember)
	r.Delete("/{id}", h.handleRemoveMember)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	members, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "", members)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req MemberInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.Created(w, "member registered", member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "", member)
}

func (h *Handler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}

	member, err := h.service.UpdateMember(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	httpx.OK(w, "member updated", member)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveMember(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Fail(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
