package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llmpot/internal/model/chat"
	chatService "github.com/zhouzirui/llmpot/internal/service/chat"
	"github.com/zhouzirui/llmpot/pkg/utils"
)

// Handler exposes live sessions read-only.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a session inspection handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/transcript", h.handleTranscript)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.chatSvc.ListSessions(r.Context())
	if sessions == nil {
		sessions = []chat.Session{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"count": len(sessions),
		"items": sessions,
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondLookupError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		respondLookupError(w, r, err)
		return
	}

	// The system turn is the persona instruction, not attacker traffic.
	if r.URL.Query().Get("system") != "true" && len(messages) > 0 && messages[0].Role == chat.RoleSystem {
		messages = messages[1:]
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

func respondLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, r, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondError(w, r, http.StatusInternalServerError, err.Error())
}
