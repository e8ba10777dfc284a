package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heartline/backend/internal/model/persona"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// Handler lists the counselor personas.
type Handler struct {
	personas persona.Store
}

func New(personas persona.Store) *Handler {
	return &Handler{personas: personas}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}
