package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gpte-dev/gpte/internal/engine"
	"github.com/gpte-dev/gpte/internal/observability"
	"github.com/gpte-dev/gpte/internal/provider"
)

// Runner errors.
var (
	ErrBusy   = errors.New("a job is already running")
	ErrClosed = errors.New("runner is shut down")
)

// DeliveryError is an accepted answer that could not be written to the task.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("Failed to send input: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// projectDirLayout names the directory created for a build without a project path.
const projectDirLayout = "20060102-150405"

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// ProjectsRoot holds a fresh timestamped directory for every submission
	// that names no project directory.
	ProjectsRoot string
	Logger       *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner starts at most one job at a time and is the only writer of the Registry.
type Runner struct {
	registry     *Registry
	engine       engine.Engine
	projectsRoot string
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time

	mu     sync.Mutex
	active map[string]*run
	closed bool
	wg     sync.WaitGroup
}

type run struct {
	id   string
	task engine.Task

	// deliver serializes answer delivery so queued answers reach the task in order.
	deliver sync.Mutex
}

// NewRunner creates a runner writing to registry and starting tasks on eng.
func NewRunner(registry *Registry, eng engine.Engine, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		registry:     registry,
		engine:       eng,
		projectsRoot: opts.ProjectsRoot,
		logger:       observability.Component(logger, "jobs"),
		tracer:       observability.Tracer("github.com/gpte-dev/gpte/internal/jobs"),
		active:       make(map[string]*run),
		now:          now,
	}
}

// Registry returns the registry the runner writes to.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Submit validates cfg, prepares the project directory and starts the job.
// Validation and preparation failures create no job. A task that fails to
// start leaves a failed job with the launch error in its output.
func (r *Runner) Submit(ctx context.Context, cfg Config) (string, error) {
	cfg = cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return "", err
	}

	var projectDir string

	switch {
	case cfg.ProjectPath != "":
		dir, err := resolvePath(cfg.ProjectPath)
		if err != nil {
			return "", err
		}

		projectDir = dir
	case r.projectsRoot == "":
		return "", invalid("project_path is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}

	if len(r.active) > 0 {
		return "", ErrBusy
	}

	if projectDir == "" {
		dir, err := r.newProjectDir()
		if err != nil {
			return "", err
		}

		projectDir = dir
	}

	cfg.ProjectPath = projectDir

	if err := writePrompt(projectDir, cfg.Prompt); err != nil {
		return "", err
	}

	id, err := r.registry.Create(cfg, PromptFileName)
	if err != nil {
		return "", err
	}

	logger := r.logger.With(slog.String("job.id", id))

	_, span := r.tracer.Start(context.WithoutCancel(ctx), "job.run", trace.WithAttributes(
		attribute.String("job.id", id),
		attribute.String("job.mode", cfg.Mode),
		attribute.String("job.provider", cfg.Provider),
	))

	task, err := r.engine.Start(ctx, engine.Request{
		JobID:       id,
		Prompt:      cfg.Prompt,
		PromptFile:  PromptFileName,
		ProjectPath: projectDir,
		Model:       cfg.Model,
		Improve:     Mode(cfg.Mode) == ModeImprove,
		Provider:    provider.Provider(cfg.Provider),
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
	})
	if err != nil {
		logger.Warn("job failed to start", slog.String("event.type", "job.start.error"), slog.String("error", err.Error()))

		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		span.End()

		finishErr := r.registry.Finish(id, Outcome{
			Status:     StatusFailed,
			ReturnCode: -1,
			Output:     fmt.Sprintf("\n[gpte] Failed to run command: %v\n", err),
			Error:      err.Error(),
		})

		return id, finishErr
	}

	if err := r.registry.SetStatus(id, StatusRunning); err != nil {
		_ = task.Stop()
		span.End()

		return id, err
	}

	logger.Info("job started", slog.String("event.type", "job.start"), slog.String("job.project", projectDir))

	rn := &run{id: id, task: task}
	r.active[id] = rn
	r.wg.Add(1)

	go r.consume(rn, span, logger)

	return id, nil
}

// newProjectDir creates <projects root>/<timestamp>, adding a numeric suffix
// when a build in the same second already took the name.
func (r *Runner) newProjectDir() (string, error) {
	root, err := resolvePath(r.projectsRoot)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // project folders are user content
		return "", fmt.Errorf("create projects root: %w", err)
	}

	base := filepath.Join(root, r.now().Format(projectDirLayout))
	dir := base

	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0o755) //nolint:gosec // project folders are user content
		if err == nil {
			return dir, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create project directory: %w", err)
		}

		dir = fmt.Sprintf("%s-%d", base, n)
	}
}

func resolvePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}

		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}

	return abs, nil
}

func writePrompt(projectDir, prompt string) error {
	if err := os.MkdirAll(projectDir, 0o755); err != nil { //nolint:gosec // project folders are user content
		return fmt.Errorf("create project directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(projectDir, PromptFileName), []byte(prompt), 0o644); err != nil { //nolint:gosec // prompt is user content
		return fmt.Errorf("write prompt file: %w", err)
	}

	return nil
}

// consume applies the task's events to the registry in the order they occur.
func (r *Runner) consume(rn *run, span trace.Span, logger *slog.Logger) {
	defer r.wg.Done()
	defer span.End()

	for ev := range rn.task.Events() {
		var err error

		switch ev.Kind {
		case engine.EventOutput:
			err = r.registry.AppendOutput(rn.id, ev.Text)
		case engine.EventInputState:
			err = r.registry.SetAcceptingInput(rn.id, ev.Waiting)
			if err == nil && ev.Waiting {
				logger.Debug("job waiting for input", slog.String("event.type", "job.input.waiting"))
			}
		case engine.EventExit:
			outcome := exitOutcome(ev)
			err = r.registry.Finish(rn.id, outcome)

			if err == nil {
				span.SetAttributes(attribute.Int("job.return_code", outcome.ReturnCode))

				if outcome.Status == StatusFailed {
					span.SetStatus(codes.Error, "job failed")
				}

				logger.Info("job finished",
					slog.String("event.type", "job.finish"),
					slog.String("job.status", string(outcome.Status)),
					slog.Int("job.return_code", outcome.ReturnCode),
				)
			}
		}

		// A job finished by Cancel or Shutdown still drains its task.
		if err != nil && !errors.Is(err, ErrTerminal) {
			logger.Warn("job event not applied",
				slog.String("event.type", "job.event.error"),
				slog.String("engine.event", ev.Kind.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	r.mu.Lock()
	delete(r.active, rn.id)
	r.mu.Unlock()
}

func exitOutcome(ev engine.Event) Outcome {
	switch {
	case errors.Is(ev.Err, engine.ErrStopped):
		return Outcome{Status: StatusFailed, ReturnCode: ev.ExitCode, Error: "stopped"}
	case ev.Err != nil:
		return Outcome{
			Status:     StatusFailed,
			ReturnCode: ev.ExitCode,
			Output:     fmt.Sprintf("\n[gpte] Command failed: %v\n", ev.Err),
			Error:      ev.Err.Error(),
		}
	case ev.ExitCode == 0:
		return Outcome{Status: StatusCompleted}
	default:
		return Outcome{Status: StatusFailed, ReturnCode: ev.ExitCode}
	}
}

// SendInput forwards an answer to a job that is waiting for one.
// It returns ErrNotAcceptingInput when the job is not waiting, including
// when the same answer was already consumed.
func (r *Runner) SendInput(id, text string) error {
	r.mu.Lock()
	rn := r.active[id]
	r.mu.Unlock()

	if rn == nil {
		if _, err := r.registry.Get(id); err != nil {
			return err
		}

		return ErrNotAcceptingInput
	}

	rn.deliver.Lock()
	defer rn.deliver.Unlock()

	if err := r.registry.OfferInput(id, text); err != nil {
		return err
	}

	queued, ok := r.registry.TakeInput(id)
	if !ok {
		// The job finished between accepting and delivering.
		return ErrNotAcceptingInput
	}

	if err := rn.task.WriteInput(queued); err != nil {
		r.logger.Warn("input delivery failed",
			slog.String("event.type", "job.input.error"),
			slog.String("job.id", id),
			slog.String("error", err.Error()),
		)

		return &DeliveryError{Err: err}
	}

	r.logger.Debug("input delivered", slog.String("event.type", "job.input"), slog.String("job.id", id))

	return nil
}

// Cancel fails a running job and stops its task.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	rn := r.active[id]
	r.mu.Unlock()

	if rn == nil {
		snap, err := r.registry.Get(id)
		if err != nil {
			return err
		}

		if snap.Status.IsTerminal() {
			return ErrTerminal
		}

		return fmt.Errorf("%w: job %s has no task", ErrInvalidTransition, id)
	}

	err := r.registry.Finish(id, Outcome{
		Status:     StatusFailed,
		ReturnCode: -1,
		Output:     "\n[gpte] Job cancelled\n",
		Error:      "cancelled",
	})
	if err != nil {
		return err
	}

	r.logger.Info("job cancelled", slog.String("event.type", "job.cancel"), slog.String("job.id", id))

	return rn.task.Stop()
}

// Shutdown fails every active job, stops its task and waits for the tasks to
// exit or ctx to end. New submissions are refused afterwards.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true

	runs := make([]*run, 0, len(r.active))
	for _, rn := range r.active {
		runs = append(runs, rn)
	}
	r.mu.Unlock()

	for _, rn := range runs {
		_ = r.registry.Finish(rn.id, Outcome{
			Status:     StatusFailed,
			ReturnCode: -1,
			Output:     "\n[gpte] Backend shutting down\n",
			Error:      "backend shut down",
		})

		_ = rn.task.Stop()
	}

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
