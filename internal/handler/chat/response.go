package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

// TurnResponse is the wire form of a workflow reply.
type TurnResponse struct {
	workflow.Reply
	Failure string `json:"failure,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// NewTurnResponse flattens the reply's errors into strings.
func NewTurnResponse(reply workflow.Reply) TurnResponse {
	resp := TurnResponse{Reply: reply}
	if reply.Failure != nil {
		resp.Failure = reply.Failure.Error()
	}
	if reply.Warning != nil {
		resp.Warning = reply.Warning.Error()
	}
	return resp
}

// TurnStatus picks the HTTP status for a completed turn.
func TurnStatus(reply workflow.Reply) int {
	if reply.Failure != nil {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

// StatusFor maps service errors onto HTTP statuses.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, workflow.ErrUnknownTurn):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, workflow.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrNameRequired),
		errors.Is(err, session.ErrInvalidAge),
		errors.Is(err, store.ErrInvalidUser),
		errors.Is(err, workflow.ErrEmptyInput),
		errors.Is(err, workflow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
