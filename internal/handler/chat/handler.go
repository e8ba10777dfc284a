package chat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Handler serves users, sessions, text turns and conflict listings.
type Handler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func New(sessions *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, logger: logger.Named("chat_handler")}
}

// RegisterRoutes mounts the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/users", h.handleRegister)
	r.Get("/users/{userID}/conflicts", h.handleListConflicts)
	r.Post("/sessions", h.handleStartSession)
	r.Delete("/sessions/{sessionID}", h.handleEndSession)
	r.Post("/sessions/{sessionID}/turns", h.handleTurn)
	r.Post("/sessions/{sessionID}/turns/{turnID}/commit", h.handleCommit)
}

type sessionResponse struct {
	ID        string           `json:"id"`
	User      chat.UserProfile `json:"user"`
	PersonaID string           `json:"personaId"`
	CreatedAt time.Time        `json:"createdAt"`
	// History is the running message history, including the system preamble.
	History []chat.Message `json:"history"`
}

func newSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:        sess.ID,
		User:      sess.User,
		PersonaID: sess.PersonaID,
		CreatedAt: sess.CreatedAt,
		History:   sess.Engine.History(),
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		Age     int    `json:"age"`
		Problem string `json:"problem"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.Register(r.Context(), payload.Name, payload.Age, payload.Problem)
	if err != nil {
		h.respondServiceError(w, "register user", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.Start(r.Context(), payload.Name)
	if err != nil {
		h.respondServiceError(w, "start session", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, "end session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, "resolve session", err)
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := sess.Engine.ProcessTurn(r.Context(), workflow.Input{
		Text:     payload.Text,
		Modality: chat.ModalityText,
	})
	if err != nil {
		h.respondServiceError(w, "process turn", err)
		return
	}
	utils.RespondJSON(w, TurnStatus(reply), NewTurnResponse(reply))
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, "resolve session", err)
		return
	}
	if err := sess.Engine.RetryCommit(r.Context(), chi.URLParam(r, "turnID")); err != nil {
		h.respondServiceError(w, "retry commit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := h.sessions.Conflicts(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.respondServiceError(w, "list conflicts", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conflicts": records})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	message := err.Error()
	var turnErr *workflow.TurnError
	if errors.As(err, &turnErr) && status == http.StatusRequestTimeout {
		message = "request cancelled during " + turnErr.Stage.String()
	}
	utils.RespondError(w, status, message)
}
