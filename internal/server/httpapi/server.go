package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/hi-space/next-memo/internal/logging"
)

// Server wraps http.Server with the memo route table and a graceful
// shutdown hook.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

func NewServer(addr string, deps Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: deps.Logger.With("module", "http_server"),
	}
}

// Run serves until Shutdown is called. http.ErrServerClosed is
// swallowed as the normal termination signal.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "http server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "http server stopping")
	return s.srv.Shutdown(ctx)
}
