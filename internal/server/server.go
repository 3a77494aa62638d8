// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pulsemap/internal/config"
	"pulsemap/internal/server/handlers"
	"pulsemap/internal/service/stream"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, registry *stream.Registry, log *slog.Logger) *Server {
	router := chi.NewRouter()

	// Middleware. No request timeout middleware here: the events and
	// websocket endpoints hold connections open indefinitely.
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	streamHandler := handlers.NewStreamHandler(registry, log)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Streams API
			r.Route("/streams", func(r chi.Router) {
				r.Post("/", streamHandler.StartStream)
				r.Get("/", streamHandler.ListStreams)
				r.Get("/{id}", streamHandler.GetStream)
				r.Delete("/{id}", streamHandler.StopStream)
				r.Get("/{id}/clusters", streamHandler.GetClusters)
				r.Get("/{id}/events", streamHandler.StreamEvents)
			})
		})
	})

	// WebSocket endpoint for real-time cluster updates
	router.Get("/ws/streams/{id}", handlers.StreamWebSocketHandler(registry, log))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
