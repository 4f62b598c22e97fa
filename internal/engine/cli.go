package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// cliModule is the Python entry point used when no CLI executable is configured.
const cliModule = "gpt_engineer.applications.cli.main"

// CLI runs builds through the gpt-engineer command line tool.
type CLI struct {
	// Executable is a standalone gpt-engineer CLI. When empty the CLI is run
	// as a Python module through Python.
	Executable string
	Python     string

	QuietPeriod time.Duration
	StopGrace   time.Duration
	Logger      *slog.Logger
}

// Command returns the program and arguments used for req.
func (c *CLI) Command(req Request) (string, []string) {
	var (
		name string
		args []string
	)

	if c.Executable != "" {
		name = c.Executable
	} else {
		name = c.Python
		if name == "" {
			name = "python"
		}

		args = append(args, "-m", cliModule)
	}

	args = append(args, req.ProjectPath, "--prompt_file", req.PromptFile)

	if req.Improve {
		args = append(args, "--improve", "--skip-file-selection")
	}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	return name, args
}

// Start launches the CLI in the project directory. The prompt file must
// already exist there. ctx only bounds the launch; the task runs until it
// exits or is stopped.
func (c *CLI) Start(ctx context.Context, req Request) (Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env, err := req.Provider.Env(os.Environ(), req.APIKey, req.BaseURL)
	if err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name, args := c.Command(req)

	logger.Debug(
		"starting build task",
		slog.String("component", "engine"),
		slog.String("event.type", "engine.task.start"),
		slog.String("job.id", req.JobID),
		slog.String("engine.command", name),
		slog.Any("engine.args", args),
	)

	cmd := exec.Command(name, args...) //nolint:gosec // program comes from local configuration
	cmd.Dir = req.ProjectPath
	cmd.Env = append(env,
		"TERM=dumb",
		"NO_COLOR=1",
		"PYTHONUNBUFFERED=1",
	)

	output, input, err := attach(cmd)
	if err != nil {
		return nil, annotateStartError(err, name)
	}

	return newProcessTask(cmd, output, input, c.QuietPeriod, c.StopGrace, logger), nil
}

func annotateStartError(err error, program string) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w (is %q installed and on PATH?)", err, program)
	case errors.Is(err, syscall.EPERM), errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w (check that %q is executable and not on a noexec filesystem)", err, program)
	default:
		return err
	}
}
