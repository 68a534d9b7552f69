// Package api exposes map sessions over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"web/estatemap/logging"
	"web/estatemap/metrics"
	"web/estatemap/runner"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	runner  *runner.SessionRunner
	metrics *metrics.Metrics
	logger  logging.Logger
	engine  *gin.Engine
	srv     *http.Server

	// background work started by requests, such as isochrone fetches,
	// outlives the request and uses this context
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer builds the router. m may be nil, in which case /metrics is not
// served.
func NewServer(cfg Config, r *runner.SessionRunner, m *metrics.Metrics, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  r,
		metrics: m,
		logger:  logger.Named("api"),
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.engine = s.routes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", logging.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown failed: %w", err)
	}
	return nil
}
