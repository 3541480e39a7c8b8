// Package httptransport runs the API server under a supervisor.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/healthsync/internal/logging"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates an *http.Server for handler. Zero timeouts fall back to
// conservative defaults; sync triggers can take a while, so the write
// timeout is generous.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       withDefault(cfg.ReadTimeout, 5*time.Second),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      withDefault(cfg.WriteTimeout, 3*time.Minute),
		IdleTimeout:       withDefault(cfg.IdleTimeout, 60*time.Second),
	}
}

func withDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Service adapts an HTTP server to suture.Service.
type Service struct {
	srv             server
	addr            string
	shutdownTimeout time.Duration
}

func NewService(srv *http.Server, shutdownTimeout time.Duration) *Service {
	return &Service{srv: srv, addr: srv.Addr, shutdownTimeout: withDefault(shutdownTimeout, 15*time.Second)}
}

func (s *Service) String() string { return "http-server" }

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("address", s.addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}
