package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/config"
	"github.com/andresmejia3/aibum/internal/logger"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Engine is the clustering surface exposed over HTTP. *cluster.Engine satisfies it.
type Engine interface {
	ProcessFace(ctx context.Context, face types.Face) (string, error)
	ProcessBatch(ctx context.Context, faces []types.Face) ([]string, error)
	Relabel(ctx context.Context, groupID, label string) error
	Merge(ctx context.Context, sourceID, targetID string) error
	ListGroups() []cluster.Group
	Group(id string) (cluster.Group, error)
}

// Server represents the web server
type Server struct {
	engine     Engine
	router     *chi.Mux
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates a new web server
func NewServer(engine Engine, cfg config.ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	r := chi.NewRouter()

	s := &Server{
		engine: engine,
		router: r,
		log:    log.WithField("component", "web"),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(time.Minute))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("Starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.WithFields(logger.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": chiMiddleware.GetReqID(r.Context()),
			}).Debug("HTTP request")
		})
	}
}
