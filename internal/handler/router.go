package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/handler/chat"
	"github.com/zhouzirui/heartline/backend/internal/handler/persona"
	"github.com/zhouzirui/heartline/backend/internal/handler/speech"
	"github.com/zhouzirui/heartline/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/heartline/backend/internal/middleware"
	personaModel "github.com/zhouzirui/heartline/backend/internal/model/persona"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

// RouterDeps carries what the HTTP surface needs. Speech and Gatherer are optional.
type RouterDeps struct {
	Personas       personaModel.Store
	Sessions       *session.Manager
	Speech         speech.SpeechService
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Sessions.Len(),
		})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Sessions, logger).RegisterRoutes(api)
		stream.New(deps.Sessions, logger).RegisterRoutes(api)

		// Audio turns need transcription; typed WebSocket turns are served either way.
		speech.New(deps.Speech, deps.Sessions, deps.Personas, logger).RegisterRoutes(api)
	})

	return r
}
