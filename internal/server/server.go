// Package server exposes the job runner over the local HTTP API used by
// clients: health, default project, job submission, status and input.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gpte-dev/gpte/internal/jobs"
	"github.com/gpte-dev/gpte/internal/observability"
)

// DefaultShutdownTimeout bounds graceful shutdown of connections and tasks.
const DefaultShutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Host string
	Port int

	// ProjectsRoot is reported by /api/default-project and created on demand.
	ProjectsRoot string

	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server serves the backend API for one runner.
type Server struct {
	runner *jobs.Runner
	opts   Options
	logger *slog.Logger
}

// New creates a server for runner.
func New(runner *jobs.Runner, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Server{
		runner: runner,
		opts:   opts,
		logger: observability.Component(logger, "server"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Handler returns the instrumented API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.logRequest(s.handleHealth))
	mux.HandleFunc("GET /api/default-project", s.logRequest(s.handleDefaultProject))
	mux.HandleFunc("POST /api/run", s.logRequest(s.handleRun))
	mux.HandleFunc("GET /api/jobs", s.logRequest(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.logRequest(s.handleGetJob))
	mux.HandleFunc("POST /api/jobs/{id}/input", s.logRequest(s.handleInput))
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.logRequest(s.handleCancel))
	mux.HandleFunc("/", s.logRequest(s.handleNotFound))

	return observability.InstrumentHandler(mux, "gpte.backend")
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then stops accepting,
// fails any running job and waits for its task to exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return observability.WithLogger(context.WithoutCancel(ctx), s.logger) },
	}

	s.logger.Info(
		"backend listening",
		slog.String("event.type", "server.listen"),
		slog.String("server.addr", ln.Addr().String()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()

		s.logger.Info("backend shutting down", slog.String("event.type", "server.shutdown"))

		return errors.Join(srv.Shutdown(shutCtx), s.runner.Shutdown(shutCtx))
	})

	return g.Wait()
}

func (s *Server) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		s.logger.Debug(
			"request",
			slog.String("event.type", "http.request"),
			slog.String("http.method", r.Method),
			slog.String("http.path", r.URL.Path),
			slog.Int("http.status", rec.status),
			slog.Duration("http.duration", time.Since(start)),
		)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) projectsRoot() (string, error) {
	if s.opts.ProjectsRoot == "" {
		return "", errors.New("projects root is not configured")
	}

	if err := os.MkdirAll(s.opts.ProjectsRoot, 0o755); err != nil { //nolint:gosec // project folders are user content
		return "", fmt.Errorf("create projects root: %w", err)
	}

	return s.opts.ProjectsRoot, nil
}
