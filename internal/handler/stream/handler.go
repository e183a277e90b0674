package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/llmpot/internal/service/monitor"
	"github.com/zhouzirui/llmpot/pkg/utils"
)

const defaultKeepAlive = 15 * time.Second

// Handler streams live session events over Server-Sent Events and WebSocket.
type Handler struct {
	hub       *monitor.Hub
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

// New creates a stream handler fed by hub.
func New(hub *monitor.Hub) *Handler {
	return &Handler{
		hub:       hub,
		keepAlive: defaultKeepAlive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts /stream (SSE) and /ws (WebSocket) on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleSSE)
	r.Get("/ws", h.handleWebSocket)
}

// handleSSE forwards hub events until the client goes away. The optional
// session query parameter restricts the stream to one session.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := r.URL.Query().Get("session")
	events, cancel := h.hub.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	log := logrus.WithField("remote", r.RemoteAddr)
	log.Debug("[sse] monitor stream opened")
	defer log.Debug("[sse] monitor stream closed")

	if err := utils.SendSSEEvent(w, flusher, "status", map[string]any{
		"message": "stream established",
		"session": filter,
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && ev.SessionID != filter {
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Kind), ev); err != nil {
				return
			}
		}
	}
}
