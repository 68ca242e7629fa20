package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docvisionai/backend/pkg/utils"
)

// Checker is a dependency readiness can be probed on.
type Checker interface {
	Ping(ctx context.Context) error
}

// Handler serves liveness and readiness probes.
type Handler struct {
	name    string
	checker Checker
}

// New creates a probe handler; checker may be nil when there is nothing to probe.
func New(name string, checker Checker) *Handler {
	return &Handler{name: name, checker: checker}
}

// RegisterRoutes registers /healthz and /readyz.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleLive)
	r.Get("/readyz", h.handleReady)
}

// RegisterLiveness registers only /healthz, for services with nothing to probe
// after startup.
func (h *Handler) RegisterLiveness(r chi.Router) {
	r.Get("/healthz", h.handleLive)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", h.name: "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.checker.Ping(ctx); err != nil {
		utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			h.name:   "unreachable",
			"error":  err.Error(),
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", h.name: "ok"})
}
