package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/llmpot/internal/handler/chat"
	"github.com/zhouzirui/llmpot/internal/handler/persona"
	"github.com/zhouzirui/llmpot/internal/handler/stream"
	personaModel "github.com/zhouzirui/llmpot/internal/model/persona"
	chatService "github.com/zhouzirui/llmpot/internal/service/chat"
	"github.com/zhouzirui/llmpot/internal/service/monitor"
	"github.com/zhouzirui/llmpot/pkg/utils"
)

// NewRouter wires the read-only monitor API. hub may be nil, in which case
// the live stream routes are not mounted. Requests are logged on log, or on
// chi's default logger when log is nil.
func NewRouter(personas personaModel.Store, activePersona string, chatSvc *chatService.Service, hub *monitor.Hub, log middleware.LoggerInterface) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if log != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	} else {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	started := time.Now()

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"sessions": chatSvc.Count(),
				"uptime":   time.Since(started).Round(time.Second).String(),
			})
		})

		persona.New(personas, activePersona).RegisterRoutes(api)
		chat.New(chatSvc).RegisterRoutes(api)

		if hub != nil {
			stream.New(hub).RegisterRoutes(api)
		}
	})

	return r
}
