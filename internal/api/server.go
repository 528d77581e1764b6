package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/logger"
)

// Server serves the API on a connection-capped listener
type Server struct {
	cfg      config.ServerConfig
	srv      *http.Server
	listener net.Listener
	done     chan error
	logger   *logger.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		done:   make(chan error, 1),
		logger: log.Named("api-server"),
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln

	s.logger.Info("API server listening",
		logger.String("addr", ln.Addr().String()),
		logger.Int("max_connections", s.cfg.MaxConnections))

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// Done yields the serve error, nil after a clean shutdown.
func (s *Server) Done() <-chan error {
	return s.done
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.srv.Shutdown(ctx)
}
