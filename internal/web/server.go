package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/hsiscan/hsiscan/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and handlers.
func NewServer(addr string, handlers *Handlers) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
	}
}

// Handlers returns the server's handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/config", s.handlers.HandleConfig)
	r.Post("/scan", s.handlers.HandleScan)
	r.Post("/scan/cancel", s.handlers.HandleCancel)
	r.Post("/scan/cap", s.handlers.HandleCapOn)
	r.Get("/scan/status", s.handlers.HandleStatus)
	r.Get("/scans", s.handlers.HandleListScans)
	r.Get("/scans/{id}", s.handlers.HandleGetScan)
	r.Get("/status/stream", s.handlers.HandleStatusStream)
	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully and cancels any running acquisition.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.handlers.Shutdown()
		s.handlers.Wait()
		return err
	}
}
