package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gpte-dev/gpte/internal/proc"
)

// DefaultStopGrace is how long the backend may take to exit after being asked.
const DefaultStopGrace = 5 * time.Second

// ErrAlreadyStarted is returned by Start on a supervisor that already launched its backend.
var ErrAlreadyStarted = errors.New("backend already started")

// LaunchError means the backend executable could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch backend %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Supervisor runs exactly one backend process.
type Supervisor struct {
	command Command

	// Stdout and Stderr receive the backend's output. They default to the
	// parent's standard streams.
	Stdout io.Writer
	Stderr io.Writer

	StopGrace time.Duration
	Logger    *slog.Logger

	mu            sync.Mutex
	child         *exec.Cmd
	group         *proc.Group
	stopRequested bool
	exitCode      int
	exited        bool
	startedAt     time.Time
	done          chan struct{}
}

// New returns a supervisor for command. Nothing is started until Start.
func New(command Command) *Supervisor {
	return &Supervisor{
		command: command,
		done:    make(chan struct{}),
	}
}

// Command returns the command the supervisor runs.
func (s *Supervisor) Command() Command {
	return s.command
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}

	return slog.Default()
}

// Start launches the backend. It never retries: a launch failure is returned
// as a *LaunchError. ctx only bounds the launch; use Stop to end the backend.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.child != nil {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(s.command.Path, s.command.Args...) //nolint:gosec // backend command comes from local configuration
	cmd.Dir = s.command.Dir
	cmd.Env = append(os.Environ(), s.command.Env...)
	cmd.Stdout = orDefault(s.Stdout, os.Stdout)
	cmd.Stderr = orDefault(s.Stderr, os.Stderr)

	proc.Isolate(cmd)
	terminateWithParent(cmd)

	if err := cmd.Start(); err != nil {
		return &LaunchError{Path: s.command.Path, Err: err}
	}

	s.child = cmd
	s.group = proc.NewGroup(cmd.Process)
	s.startedAt = time.Now()

	s.logger().Info(
		"backend started",
		slog.String("component", "supervisor"),
		slog.String("event.type", "backend.start"),
		slog.String("backend.path", s.command.Path),
		slog.Any("backend.args", s.command.Args),
		slog.Int("backend.pid", cmd.Process.Pid),
	)

	go s.watch(cmd)

	return nil
}

func orDefault(w io.Writer, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}

	return fallback
}

func (s *Supervisor) watch(cmd *exec.Cmd) {
	err := cmd.Wait()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	s.exitCode = code
	s.exited = true
	requested := s.stopRequested
	uptime := time.Since(s.startedAt)
	s.mu.Unlock()

	attrs := []any{
		slog.String("component", "supervisor"),
		slog.String("event.type", "backend.exit"),
		slog.Int("backend.exit_code", code),
		slog.Duration("backend.uptime", uptime),
	}

	if code != 0 && !requested {
		// Surfaced to the operator, not treated as a supervisor failure.
		s.logger().Warn("backend exited unexpectedly", append(attrs, slog.Any("error", err))...)
	} else {
		s.logger().Info("backend exited", attrs...)
	}

	close(s.done)
}

// Stop terminates the backend and waits for it to exit, killing it after
// StopGrace. It is a no-op when nothing is running and safe to call repeatedly.
func (s *Supervisor) Stop() error {
	s.mu.Lock()

	if s.child == nil || s.exited {
		s.mu.Unlock()
		return nil
	}

	s.stopRequested = true
	group := s.group
	s.mu.Unlock()

	grace := s.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	if forced := proc.Stop(group, s.done, grace); forced {
		s.logger().Warn(
			"backend killed after grace period",
			slog.String("component", "supervisor"),
			slog.String("event.type", "backend.kill"),
		)
	}

	<-s.done

	return nil
}

// Done is closed once the backend has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitCode returns the backend exit code once it has exited.
func (s *Supervisor) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exitCode, s.exited
}

// Running reports whether the backend was started and has not exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.child != nil && !s.exited
}

// Pid returns the backend process id, or 0 before Start.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.group.Pid()
}
