package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/client"
	"github.com/gpte-dev/gpte/internal/config"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/jobs"
	"github.com/gpte-dev/gpte/internal/observability"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/session"
	"github.com/gpte-dev/gpte/internal/settings"
	"github.com/gpte-dev/gpte/internal/watch"
)

type runOptions struct {
	promptFile string
	mode       string
	model      string
	project    string
	engineName string
	spawn      bool
	watch      bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Build a project from a prompt",
		Long: `Submit a build to the local backend and follow it until it finishes.

The prompt is the positional argument or the contents of --prompt-file. The
provider, API key, base URL and default model come from 'gpte settings'.

Build output streams to the terminal. When the build stops to ask a question,
type an answer and press Enter. With --watch the build is shown in a
full-screen view where Ctrl+Y and Ctrl+N answer yes/no questions.

Without --spawn a backend must already be running ('gpte up'). With --spawn
a backend is started for this build and stopped when it ends.`,
		Example: `  gpte run --spawn "a snake game in python"
  gpte run --prompt-file prompt.md --project ./snake --mode improve
  gpte run --spawn --watch "a todo list web app"
  gpte run --json "a CLI that prints the weather" > job.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.promptFile, "prompt-file", "p", "", "Read the prompt from a file")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(jobs.ModeGenerate), "Build mode: generate, improve")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model override for this build")
	cmd.Flags().StringVar(&opts.project, "project", "", "Project directory (default: a new directory under projects.root)")
	cmd.Flags().StringVar(&opts.engineName, "engine", "", "Build engine for a spawned backend: cli, demo")
	cmd.Flags().BoolVar(&opts.spawn, "spawn", false, "Start a backend for this build")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Follow the build in a full-screen view")

	return cmd
}

func runBuild(cmd *cobra.Command, args []string, opts *runOptions) error {
	out := output.FromContext(cmd.Context())
	logger := observability.FromContext(cmd.Context())
	cfg := config.Load()

	prompt, err := readPrompt(args, opts.promptFile)
	if err != nil {
		return err
	}

	mode := jobs.Mode(strings.ToLower(strings.TrimSpace(opts.mode)))
	if mode != jobs.ModeGenerate && mode != jobs.ModeImprove {
		return clierrors.InvalidChoice("mode", opts.mode, []string{string(jobs.ModeGenerate), string(jobs.ModeImprove)})
	}

	if opts.engineName != "" && !opts.spawn {
		return clierrors.New(clierrors.ExitUsage, "--engine only applies with --spawn").
			WithHint("Pass the engine to 'gpte up --engine' for a long-running backend")
	}

	if opts.watch && (out.JSON || !out.Terminal().FullScreenEnabled()) {
		return clierrors.New(clierrors.ExitUsage, "--watch needs an interactive terminal").
			WithHint("Drop --watch to stream plain output instead")
	}

	loaded, err := settings.NewStore().Load()
	if err != nil {
		return clierrors.ConfigFailed("load settings", err)
	}

	if err := loaded.Validate(); err != nil {
		return clierrors.SettingsIncomplete(err)
	}

	model := strings.TrimSpace(opts.model)
	if model == "" {
		model = loaded.Model
	}

	req := &client.RunRequest{
		Prompt:      prompt,
		Model:       model,
		Provider:    string(loaded.Provider),
		APIKey:      loaded.APIKey,
		BaseURL:     loaded.BaseURL,
		Mode:        string(mode),
		ProjectPath: opts.project,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendClient, alive, release, err := connectBackend(ctx, out, cfg, opts)
	if err != nil {
		return err
	}
	defer release()

	sessionOpts := session.Options{
		Interval: cfg.PollInterval(),
		Alive:    alive,
		Logger:   observability.Component(logger, "session"),
	}

	if opts.watch {
		renderer := watch.NewRenderer()
		s := session.New(backendClient, renderer, sessionOpts)

		jobID, err := s.Submit(ctx, req)
		if err != nil {
			return jobError("", err)
		}

		result, err := watch.Run(ctx, s, renderer, jobID)
		if err != nil {
			return err
		}

		return reportResult(out, jobID, result.Job, result.Err, result.Detached, alive != nil)
	}

	var renderer session.Renderer = session.NewTextRenderer(out)
	if out.JSON {
		renderer = discardRenderer{}
	}

	s := session.New(backendClient, renderer, sessionOpts)

	jobID, err := s.Submit(ctx, req)
	if err != nil {
		return jobError("", err)
	}

	if !out.NoInput {
		go forwardInput(ctx, s, cmd.InOrStdin(), logger)
	}

	job, pollErr := s.Poll(ctx, jobID)
	detached := errors.Is(pollErr, context.Canceled) && ctx.Err() != nil

	if detached {
		pollErr = nil
	}

	return reportResult(out, jobID, job, pollErr, detached, alive != nil)
}

// readPrompt takes the prompt from the argument or the prompt file.
func readPrompt(args []string, promptFile string) (string, error) {
	if len(args) > 0 && promptFile != "" {
		return "", clierrors.New(clierrors.ExitUsage, "Pass either a prompt or --prompt-file, not both")
	}

	var prompt string

	switch {
	case promptFile != "":
		data, err := os.ReadFile(promptFile) //nolint:gosec // user-chosen prompt file
		if err != nil {
			return "", clierrors.Wrap(clierrors.ExitUsage, "Cannot read prompt file", err)
		}

		prompt = string(data)
	case len(args) > 0:
		prompt = args[0]
	}

	if strings.TrimSpace(prompt) == "" {
		return "", clierrors.New(clierrors.ExitUsage, "Prompt cannot be empty").
			WithHint("Describe what to build, e.g. gpte run \"a snake game in python\"")
	}

	return prompt, nil
}

// connectBackend returns a client for a healthy backend, starting one when
// opts.spawn is set. alive is nil for a backend this command does not own.
func connectBackend(ctx context.Context, out *output.Writer, cfg *config.Config, opts *runOptions) (*client.Client, <-chan struct{}, func(), error) {
	backendClient := newBackendClient(cfg)

	if !opts.spawn {
		if err := backendClient.Health(ctx); err != nil {
			return nil, nil, nil, clierrors.BackendUnreachable(backendClient.BaseURL(), err)
		}

		return backendClient, nil, func() {}, nil
	}

	var extra []string
	if opts.engineName != "" {
		extra = []string{"--engine", opts.engineName}
	}

	spin := out.Spinner("Starting backend")
	spin.Start()

	// A backend already on the port is reused; a second one could not bind.
	if err := backendClient.Health(ctx); err == nil {
		spin.StopWithWarning(fmt.Sprintf("Using the backend already running at %s", backendClient.BaseURL()))

		return backendClient, nil, func() {}, nil
	}

	backend, err := startBackend(ctx, cfg, backendOptions{
		ExtraArgs: extra,
		OnStarted: func() { spin.UpdateMessage("Waiting for the backend to become ready") },
	})
	if err != nil {
		spin.StopWithFailure("Backend did not start")
		return nil, nil, nil, err
	}

	spin.StopWithSuccess("Backend ready")

	return backendClient, backend.Done(), func() { _ = backend.Stop() }, nil
}

// forwardInput sends each line read from r to the active job.
func forwardInput(ctx context.Context, s *session.Session, r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		s.SetDraft(line)

		if err := s.SendInput(ctx, line); err != nil && !errors.Is(err, client.ErrNotAcceptingInput) {
			logger.Warn("Failed to send input", slog.String("event.type", "input.error"), slog.String("error", err.Error()))
		}
	}
}

// reportResult prints the final job state and returns the command error.
func reportResult(out *output.Writer, jobID string, job *client.Job, err error, detached, spawned bool) error {
	if detached {
		out.Println()

		if spawned {
			out.Warning("Stopped following job %s; the backend is shutting down", jobID)
		} else {
			out.Info("Stopped following job %s; it keeps running", jobID)
			out.Muted("Check on it with 'gpte job status %s'", jobID)
		}

		return nil
	}

	if err != nil {
		// JSON mode rendered no progress, so emit the last known snapshot.
		var pollErr *session.PollError
		if out.JSON && errors.As(err, &pollErr) && pollErr.Last != nil {
			if printErr := out.PrintJSON(pollErr.Last); printErr != nil {
				return printErr
			}
		}

		return jobError(jobID, err)
	}

	if out.JSON {
		if printErr := out.PrintJSON(job); printErr != nil {
			return printErr
		}

		return jobOutcome(job)
	}

	if job != nil && job.Status == client.StatusCompleted && job.ProjectPath != "" {
		out.Println()
		out.KeyValue("Project", job.ProjectPath)
	}

	return jobOutcome(job)
}

// discardRenderer drops progress so JSON output stays machine-readable.
type discardRenderer struct{}

func (discardRenderer) Render(session.Update) {}

func (discardRenderer) Notice(string) {}
