package reports

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"libradesk/internal/httpx"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes mounts the report endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/dashboard", serve(h, h.service.Dashboard))
	r.Get("/summary", serve(h, h.service.Summary))
	r.Get("/categories", serve(h, h.service.Categories))
	r.Get("/overdue", serve(h, h.service.Overdue))
	r.Get("/recent", serve(h, h.service.Recent))
}

func serve[T any](h *Handler, report func(context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := report(r.Context())
		if err != nil {
			httpx.Fail(w, r, h.log, err)
			return
		}
		httpx.OK(w, "", data)
	}
}
