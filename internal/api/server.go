package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shoebox-app/shoebox/internal/api/handlers"
	"github.com/shoebox-app/shoebox/internal/ingest"
	"github.com/shoebox-app/shoebox/internal/metrics"
	"github.com/shoebox-app/shoebox/internal/store"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, st *store.Store, mgr *ingest.Manager, intakeWorkers int, version string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Manager: mgr, Version: version}
	scanH := &handlers.ScanHandler{Manager: mgr, IntakeWorkers: intakeWorkers}
	sessionsH := &handlers.SessionsHandler{Store: st, Manager: mgr, IntakeWorkers: intakeWorkers}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scan", scanH.Create)

		r.Post("/sessions", sessionsH.Create)
		r.Get("/sessions", sessionsH.List)
		r.Get("/sessions/active", sessionsH.Active)
		r.Post("/sessions/active/pause", sessionsH.Pause)
		r.Post("/sessions/active/resume", sessionsH.Resume)
		r.Delete("/sessions/active", sessionsH.Cancel)
		r.Get("/sessions/active/events", sessionsH.Events)
		r.Get("/sessions/{id}/errors", sessionsH.Errors)
	})

	r.Handle("/metrics", metrics.Handler())

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
