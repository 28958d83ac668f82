// Package server exposes sessions, panels, rendered pages and exports over
// HTTP, plus a websocket stream of trace changes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-lens/internal/assembler"
	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/session"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	// maxTraceBytes bounds a single PUT body.
	maxTraceBytes = 64 << 20
)

type Server struct {
	cfg       *config.Config
	sessions  *session.Registry
	assembler *assembler.Assembler
	projector *projection.Projector
	sink      export.Sink
	cors      *CORSMiddleware
	log       *logger.Logger
	startTime time.Time
}

// New wires a server. projector and sink may be nil: projections then run
// inline and Flight push answers 503.
func New(cfg *config.Config, sessions *session.Registry, projector *projection.Projector, sink export.Sink) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		assembler: assembler.New(Palettes(cfg), projector),
		projector: projector,
		sink:      sink,
		cors:      NewCORSMiddleware(cfg.Server.AllowedOrigins),
		log:       logger.Log.With("server"),
		startTime: time.Now(),
	}
}

// Palettes resolves the configured palette names.
func Palettes(cfg *config.Config) assembler.Palettes {
	return assembler.Palettes{
		Attention: cfg.AttentionPalette(),
		Embedding: cfg.EmbeddingPalette(),
		FFN:       cfg.FFNPalette(),
		Scalar:    cfg.ScalarPalette(),
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	loggingMiddleware := NewLoggingMiddleware()

	mux.Handle("GET /health", s.HealthHandler())
	mux.Handle("GET /healthz", HealthzHandler())
	mux.Handle("GET /readyz", ReadyzHandler())
	mux.Handle("GET /version", VersionHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/palettes", s.listPalettes)
	api.HandleFunc("GET /api/sessions", s.listSessions)
	api.HandleFunc("POST /api/sessions", s.createSession)
	api.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
	api.HandleFunc("GET /api/sessions/{id}/trace", s.getTrace)
	api.HandleFunc("PUT /api/sessions/{id}/trace", s.putTrace)
	api.HandleFunc("DELETE /api/sessions/{id}/trace", s.clearTrace)
	api.HandleFunc("GET /api/sessions/{id}/panel", s.getPanel)
	api.HandleFunc("GET /api/sessions/{id}/sections/{name}", s.getSection)
	api.HandleFunc("GET /api/sessions/{id}/render", s.renderPage)
	api.HandleFunc("GET /api/sessions/{id}/export.arrow", s.exportArrow)
	api.HandleFunc("POST /api/sessions/{id}/push", s.pushFlight)
	mux.Handle("/api/", loggingMiddleware.Middleware(s.cors.Middleware(api)))

	// Upgraded connections bypass the logging wrapper, which cannot hijack.
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.websocketHandler)

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully. A
// separate metrics listener is started when MetricsPort differs from Port.
func (s *Server) Run(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}}
	if mp := s.cfg.Server.MetricsPort; mp > 0 && mp != s.cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              s.cfg.Server.MetricsAddr(),
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			s.log.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down server")
	case runErr = <-errCh:
		s.log.Error("Server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.sessions.Close()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}
	s.log.Info("Server stopped")
	return runErr
}
