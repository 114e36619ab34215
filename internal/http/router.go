package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"lecture-capture-service/internal/app"
	"lecture-capture-service/internal/observability"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{
		app: application,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// recording pages are served from other origins; identity comes from X-User-ID
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(application.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.readiness)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/audio/upload", h.uploadAudio)
		r.Post("/audio/reorganize", h.reorganizeAudio)
		r.Post("/transcribe", h.transcribe)
		r.Post("/lectures/process", h.processLecture)
		r.Get("/lectures/{id}", h.getLecture)
		r.Get("/recordings/ws", h.recordingSocket)
	})

	return r
}
