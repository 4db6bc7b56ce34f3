package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/storage"
	"github.com/rhuss/probforge/pkg/transport"
)

// Server wraps an http.Server with the transport adapter and manages
// the full lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr            string
	Adapter         Config
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// Middleware wraps the HTTP handler. The first entry is outermost.
	Middleware []func(http.Handler) http.Handler

	// Mounts are extra routes served next to the API (metrics, MCP).
	Mounts map[string]http.Handler

	// ReadinessChecks are consulted by /readyz after the store.
	ReadinessChecks map[string]func(context.Context) error
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		Adapter:         DefaultConfig(),
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithAdapterConfig sets the adapter configuration.
func WithAdapterConfig(cfg Config) ServerOption {
	return func(s *Server) { s.config.Adapter = cfg }
}

// WithMaxBodySize limits the size of generation request bodies.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) { s.config.Adapter.MaxBodySize = n }
}

// WithValidation sets the request limits checked before a stream is opened.
func WithValidation(v api.ValidationConfig) ServerOption {
	return func(s *Server) { s.config.Adapter.Validation = v }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithHTTPMiddleware appends HTTP-level middleware such as auth or metrics.
func WithHTTPMiddleware(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.config.Middleware = append(s.config.Middleware, mw...) }
}

// WithMount serves h at pattern next to the API.
func WithMount(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		if s.config.Mounts == nil {
			s.config.Mounts = map[string]http.Handler{}
		}
		s.config.Mounts[pattern] = h
	}
}

// WithReadinessCheck makes /readyz fail while check returns an error.
func WithReadinessCheck(name string, check func(context.Context) error) ServerOption {
	return func(s *Server) {
		if s.config.ReadinessChecks == nil {
			s.config.ReadinessChecks = map[string]func(context.Context) error{}
		}
		s.config.ReadinessChecks[name] = check
	}
}

// NewServer creates a new transport server. Default middleware (recovery,
// request ID, logging) is applied to the generator automatically.
func NewServer(gen transport.ProblemGenerator, store storage.Store, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	defaultMW := []transport.Middleware{
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(s.logger),
	}
	s.adapter = NewAdapter(gen, store, s.config.Adapter, defaultMW...)
	s.adapter.logger = s.logger
	for pattern, h := range s.config.Mounts {
		s.adapter.Handle(pattern, h)
	}
	for name, check := range s.config.ReadinessChecks {
		s.adapter.AddReadinessCheck(name, check)
	}

	var handler http.Handler = s.adapter.Handler()
	for i := len(s.config.Middleware) - 1; i >= 0; i-- {
		handler = s.config.Middleware[i](handler)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Adapter returns the underlying adapter.
func (s *Server) Adapter() *Adapter { return s.adapter }

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

// ServeOn starts the server on the given listener and shuts down when ctx
// is done.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.shutdown()
}

// shutdown stops running jobs first so open progress streams end with an
// error event, then drains the HTTP server.
func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.adapter.Close(shutdownCtx); err != nil {
		s.logger.Warn("jobs still running at shutdown deadline", slog.String("error", err.Error()))
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	jobsErr := s.adapter.Close(ctx)
	return errors.Join(jobsErr, s.httpServer.Shutdown(ctx))
}
