package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the side listener for the /metrics endpoint. The pipeline
// itself serves nothing; this is the only HTTP surface of a run.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer wires the handler under /metrics on the given address.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background. A bind failure
// is returned immediately so a bad metrics_addr fails the run at
// startup instead of going silently unscraped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.Info("Metrics listener started", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics listener failed", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound address, useful when the configured address
// left the port to the kernel.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the listener, waiting briefly for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
