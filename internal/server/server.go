package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"mediadump/internal/config"
	"mediadump/internal/logging"
	"mediadump/internal/manifest"
	"mediadump/internal/pipeline"
	"mediadump/internal/transcode"
)

const (
	defaultMaxBodyBytes = 8 << 20
	defaultMaxJobs      = 4
)

// Runner executes one export job.
type Runner interface {
	Run(ctx context.Context, m manifest.Manifest) (*pipeline.Result, error)
}

// Server is the HTTP job controller.
type Server struct {
	runner       Runner
	bind         string
	maxBodyBytes int64
	token        string
	version      string
	toolchain    transcode.Toolchain
	logger       *slog.Logger
	newRequestID func() string
	now          func() time.Time

	jobs    chan struct{}
	active  atomic.Int64
	started time.Time

	listener net.Listener
	http     *http.Server
}

// Option customizes the server.
type Option func(*Server)

// WithBind sets the listen address.
func WithBind(bind string) Option {
	return func(s *Server) {
		s.bind = strings.TrimSpace(bind)
	}
}

// WithMaxBodyBytes caps the manifest request body.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMaxConcurrentJobs bounds how many jobs run at once. Further requests
// wait for a slot or for their context to end.
func WithMaxConcurrentJobs(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.jobs = make(chan struct{}, n)
		}
	}
}

// WithToken requires "Authorization: Bearer <token>" on /dump.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithToolchain sets the transcoder status reported by /health.
func WithToolchain(tc transcode.Toolchain) Option {
	return func(s *Server) {
		s.toolchain = tc
	}
}

// WithRequestIDGenerator overrides request id generation (useful for tests).
func WithRequestIDGenerator(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.newRequestID = fn
		}
	}
}

// WithClock overrides the uptime clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New constructs a Server around runner.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:       runner,
		maxBodyBytes: defaultMaxBodyBytes,
		version:      "dev",
		newRequestID: newRequestID,
		now:          time.Now,
		jobs:         make(chan struct{}, defaultMaxJobs),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.NewComponentLogger(s.logger, "server")
	s.started = s.now()
	return s
}

// NewFromConfig wires a Server from configuration.
func NewFromConfig(cfg *config.Config, runner Runner, toolchain transcode.Toolchain, version string, logger *slog.Logger) *Server {
	return New(runner,
		WithBind(cfg.Server.Bind),
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		WithMaxConcurrentJobs(cfg.Server.MaxConcurrentJobs),
		WithToken(cfg.Server.Token),
		WithVersion(version),
		WithToolchain(toolchain),
		WithLogger(logger),
	)
}

// Handler returns the routed handler with panic recovery applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/dump", authMiddleware(s.token, s.handleDump))
	mux.HandleFunc("/health", s.handleHealth)
	return s.recoverMiddleware(mux)
}

// ActiveJobs reports jobs currently running.
func (s *Server) ActiveJobs() int {
	return int(s.active.Load())
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	if s.bind == "" {
		return errors.New("server bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	s.listener = listener
	// Archives stream after long fetch phases, so there is no write deadline.
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logging.Error(err))
		}
	}()

	s.logger.Info("http server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight jobs until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	s.http = nil
	s.listener = nil
	return err
}
