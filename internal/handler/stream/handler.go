package stream

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docvisionai/backend/internal/handler/ask"
	"github.com/docvisionai/backend/internal/service/qa"
	"github.com/docvisionai/backend/pkg/logger"
	"github.com/docvisionai/backend/pkg/utils"
)

// StreamAsker answers a question while handing out reply fragments as they arrive.
type StreamAsker interface {
	AskStream(ctx context.Context, req qa.Request, onDelta func(string) error) (qa.Answer, error)
}

// Handler streams answers via Server-Sent Events
type Handler struct {
	asker StreamAsker
}

// New creates a new stream handler
func New(asker StreamAsker) *Handler {
	return &Handler{asker: asker}
}

// RegisterRoutes registers the SSE and WebSocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ask_ai/stream", h.handleStream)
	r.Get("/ask_ai/ws", NewWebSocketHandler(h.asker).ServeHTTP)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	req, err := ask.DecodeRequest(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "start", StreamResponse{}); err != nil {
		return
	}

	answer, err := h.asker.AskStream(r.Context(), req, func(delta string) error {
		return utils.SendSSEEvent(w, flusher, "delta", StreamResponse{Content: delta})
	})
	if err != nil {
		log.Error("streamed ask_ai failed", "error", err, "user_id", req.UserID, "patient_id", req.PatientID)
		_ = utils.SendSSEEvent(w, flusher, "error", StreamResponse{Error: err.Error()})
		return
	}

	_ = utils.SendSSEEvent(w, flusher, "message", StreamResponse{SessionID: answer.SessionID, Content: answer.Reply})
	_ = utils.SendSSEEvent(w, flusher, "end", StreamResponse{SessionID: answer.SessionID, Finished: true})
	log.Info("completed streamed answer", "session_id", answer.SessionID, "length", len(answer.Reply))
}
