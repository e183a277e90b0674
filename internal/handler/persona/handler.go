package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llmpot/internal/model/persona"
	"github.com/zhouzirui/llmpot/pkg/utils"
)

// Handler serves the host persona catalogue.
type Handler struct {
	personas persona.Store
	activeID string
}

// New creates a persona handler; activeID names the persona new sessions use.
func New(personas persona.Store, activeID string) *Handler {
	return &Handler{
		personas: personas,
		activeID: activeID,
	}
}

// RegisterRoutes mounts the persona routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

type listResponse struct {
	Active string            `json:"active"`
	Items  []persona.Persona `json:"items"`
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, listResponse{
		Active: h.activeID,
		Items:  h.personas.List(),
	})
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "personaID"))
	if !ok {
		utils.RespondError(w, r, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}
