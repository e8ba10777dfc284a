// Package stream runs a turn over Server-Sent Events, reporting each workflow stage as it starts.
package stream

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chathandler "github.com/zhouzirui/heartline/backend/internal/handler/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Handler serves GET /sessions/{sessionID}/stream?message=...
type Handler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func New(sessions *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, logger: logger.Named("stream_handler")}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
}

type stageEvent struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

type errorEvent struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
	Status    int    `json:"status"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		utils.RespondError(w, chathandler.StatusFor(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	// Stage events are written from the turn's own goroutine, so no extra locking is needed.
	observe := func(state workflow.State) {
		if state == workflow.StateIdle {
			return
		}
		_ = utils.SendSSEEvent(w, flusher, "stage", stageEvent{SessionID: sessionID, State: state.String()})
	}

	reply, err := sess.Engine.ProcessTurn(r.Context(), workflow.Input{
		Text:     r.URL.Query().Get("message"),
		Modality: chat.ModalityText,
		Observe:  observe,
	})
	if err != nil {
		h.logger.Info("stream turn rejected", zap.String("session_id", sessionID), zap.Error(err))
		_ = utils.SendSSEEvent(w, flusher, "error", errorEvent{
			SessionID: sessionID,
			Error:     err.Error(),
			Status:    chathandler.StatusFor(err),
		})
		return
	}

	event := "reply"
	if reply.Failure != nil {
		event = "failure"
	}
	_ = utils.SendSSEEvent(w, flusher, event, chathandler.NewTurnResponse(reply))
	_ = utils.SendSSEEvent(w, flusher, "done", stageEvent{SessionID: sessionID, State: workflow.StateIdle.String()})
}
