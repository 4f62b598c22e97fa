package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gpte-dev/gpte/internal/client"
	"github.com/gpte-dev/gpte/internal/config"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/observability"
	"github.com/gpte-dev/gpte/internal/paths"
	"github.com/gpte-dev/gpte/internal/probe"
	"github.com/gpte-dev/gpte/internal/session"
	"github.com/gpte-dev/gpte/internal/supervisor"
)

// outputTailLines is how much job output is scanned when classifying a failure.
const outputTailLines = 20

// newBackendClient creates a client for the configured backend address.
func newBackendClient(cfg *config.Config) *client.Client {
	return client.New(cfg.BaseURL())
}

// backendOptions describe how a CLI command launches its own backend.
type backendOptions struct {
	// Stdout and Stderr receive backend output. Both nil sends it to the
	// backend log file.
	Stdout io.Writer
	Stderr io.Writer

	// ExtraArgs are appended to `gpte serve` in self mode.
	ExtraArgs []string

	// OnStarted runs once the process is up and readiness probing begins.
	OnStarted func()
}

// launchedBackend is a started, healthy backend and how to release it.
type launchedBackend struct {
	sup     *supervisor.Supervisor
	closeFn func() error
}

// Stop ends the backend and closes its log sink.
func (b *launchedBackend) Stop() error {
	err := b.sup.Stop()

	if b.closeFn != nil {
		err = errors.Join(err, b.closeFn())
	}

	return err
}

// Done is closed once the backend has exited.
func (b *launchedBackend) Done() <-chan struct{} {
	return b.sup.Done()
}

// startBackend resolves, launches and health-checks the backend. On any
// failure nothing is left running.
func startBackend(ctx context.Context, cfg *config.Config, opts backendOptions) (*launchedBackend, error) {
	logger := observability.FromContext(ctx)

	command, err := supervisor.Resolve(supervisor.Options{
		Mode:         supervisor.Mode(cfg.BackendMode()),
		Host:         cfg.Host(),
		Port:         cfg.Port(),
		ResourcesDir: cfg.ResourcesDir(),
		AppDir:       cfg.AppDir(),
		Python:       cfg.Python(),
		ExtraArgs:    opts.ExtraArgs,
	})
	if err != nil {
		return nil, clierrors.BackendLaunchFailed(err)
	}

	sup := supervisor.New(command)
	sup.StopGrace = cfg.StopGrace()
	sup.Logger = logger

	b := &launchedBackend{sup: sup}

	if opts.Stdout != nil || opts.Stderr != nil {
		sup.Stdout = opts.Stdout
		sup.Stderr = opts.Stderr
	} else {
		sink, closeFn, sinkErr := backendLogSink()
		if sinkErr != nil {
			return nil, clierrors.BackendLaunchFailed(sinkErr)
		}

		sup.Stdout = sink
		sup.Stderr = sink
		b.closeFn = closeFn
	}

	if err := sup.Start(ctx); err != nil {
		_ = b.Stop()
		return nil, clierrors.BackendLaunchFailed(err)
	}

	if opts.OnStarted != nil {
		opts.OnStarted()
	}

	// A backend that dies while starting up fails fast instead of waiting
	// out the probe budget.
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-sup.Done():
			cancel()
		case <-probeCtx.Done():
		}
	}()

	prober := &probe.Prober{
		URL:         newBackendClient(cfg).HealthURL(),
		Client:      &http.Client{Transport: observability.InstrumentTransport(nil)},
		MaxAttempts: cfg.ProbeAttempts(),
		Interval:    cfg.ProbeInterval(),
		Logger:      logger,
	}

	if err := prober.WaitUntilReady(probeCtx); err != nil {
		_ = b.Stop()

		if code, exited := sup.ExitCode(); exited && ctx.Err() == nil {
			return nil, clierrors.BackendLaunchFailed(fmt.Errorf("backend exited with code %d during startup", code))
		}

		return nil, backendError(err)
	}

	logger.Info(
		"backend ready",
		slog.String("component", "cli"),
		slog.String("event.type", "backend.ready"),
		slog.String("backend.url", cfg.BaseURL()),
	)

	return b, nil
}

func backendLogSink() (io.Writer, func() error, error) {
	path, err := paths.BackendLogFile()
	if err != nil {
		return nil, nil, err
	}

	file, err := observability.OpenLogFile(path)
	if err != nil {
		return nil, nil, err
	}

	return file, file.Close, nil
}

// backendError maps startup failures to CLI errors.
func backendError(err error) error {
	var (
		launchErr  *supervisor.LaunchError
		timeoutErr *probe.TimeoutError
		healthErr  *probe.HealthError
	)

	switch {
	case errors.As(err, &launchErr):
		return clierrors.BackendLaunchFailed(err)
	case errors.As(err, &timeoutErr):
		return clierrors.BackendTimedOut(err)
	case errors.As(err, &healthErr):
		return clierrors.BackendUnhealthy(err)
	default:
		return err
	}
}

// jobError maps client and session failures to CLI errors.
func jobError(jobID string, err error) error {
	var (
		submitErr *session.SubmissionError
		pollErr   *session.PollError
		apiErr    *client.APIError
	)

	switch {
	case err == nil:
		return nil
	case errors.As(err, &submitErr):
		if errors.Is(err, client.ErrBusy) {
			return clierrors.JobBusy()
		}

		return clierrors.SubmissionFailed(submitErr.Err)
	case errors.As(err, &pollErr):
		return clierrors.PollFailed(pollErr.Err)
	case errors.Is(err, client.ErrJobNotFound):
		return clierrors.JobNotFound(jobID)
	case errors.Is(err, client.ErrNotAcceptingInput):
		return clierrors.InputRejected(jobID)
	case errors.Is(err, client.ErrBusy):
		return clierrors.JobBusy()
	case errors.As(err, &apiErr):
		return clierrors.Wrap(clierrors.ExitNetwork, "Backend request failed", err)
	default:
		return err
	}
}

// jobOutcome returns an error for a job that did not complete.
func jobOutcome(job *client.Job) error {
	if job == nil || job.Status == client.StatusCompleted {
		return nil
	}

	tail := tailLines(job.Output, outputTailLines)
	if job.Error != "" {
		tail = tail + "\n" + job.Error
	}

	return clierrors.JobFailed(job.ExitCode(), tail)
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n")
}
