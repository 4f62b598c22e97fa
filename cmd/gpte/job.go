package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/client"
	"github.com/gpte-dev/gpte/internal/config"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/observability"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/prompt"
	"github.com/gpte-dev/gpte/internal/session"
	"github.com/gpte-dev/gpte/internal/watch"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control builds on the backend",
		Long: `Look at builds known to the running backend, answer a build that is waiting
for input or cancel one. Job history lives in backend memory only.`,
	}

	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobStatusCmd())
	cmd.AddCommand(newJobWatchCmd())
	cmd.AddCommand(newJobInputCmd())
	cmd.AddCommand(newJobCancelCmd())

	return cmd
}

// connectedClient returns a client for a backend that answers its health check.
func connectedClient(ctx context.Context) (*client.Client, *config.Config, error) {
	cfg := config.Load()
	c := newBackendClient(cfg)

	if err := c.Health(ctx); err != nil {
		return nil, nil, clierrors.BackendUnreachable(c.BaseURL(), err)
	}

	return c, cfg, nil
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs known to the backend",
		Long:  `Display every job the running backend has accepted since it started, oldest first.`,
		Example: `  gpte job list
  gpte job list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			c, _, err := connectedClient(cmd.Context())
			if err != nil {
				return err
			}

			list, err := c.ListJobs(cmd.Context())
			if err != nil {
				return jobError("", err)
			}

			if out.JSON {
				if list == nil {
					list = []client.Job{}
				}

				return out.PrintJSON(list)
			}

			if len(list) == 0 {
				out.Muted("No jobs yet.")
				out.Info("Start one with 'gpte run \"<prompt>\"'")

				return nil
			}

			out.Print("%-36s  %-10s  %-8s  %s\n", "ID", "STATUS", "MODE", "PROJECT")

			for i := range list {
				j := &list[i]
				out.Print("%-36s  %-10s  %-8s  %s\n", j.ID, j.Status, j.Mode, out.Truncate(j.ProjectPath))
			}

			return nil
		},
	}
}

func newJobStatusCmd() *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a job",
		Long: `Display the status, project and timing of one job. Add --output to print
everything the build has written so far.`,
		Example: `  gpte job status 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10
  gpte job status 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10 --output
  gpte job status 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10 --json`,
		Args: exactArgs(1, "a job ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			jobID := args[0]

			c, _, err := connectedClient(cmd.Context())
			if err != nil {
				return err
			}

			job, err := c.GetJob(cmd.Context(), jobID)
			if err != nil {
				return jobError(jobID, err)
			}

			if out.JSON {
				return out.PrintJSON(job)
			}

			printJob(out, job)

			if showOutput && job.Output != "" {
				out.Println()
				out.Print("%s", job.Output)

				if !strings.HasSuffix(job.Output, "\n") {
					out.Println()
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&showOutput, "output", "o", false, "Print the build output")

	return cmd
}

func printJob(out *output.Writer, job *client.Job) {
	out.KeyValue("Job", job.ID)
	out.KeyValue("Status", fmt.Sprintf("%s (%s)", job.Status, session.Label(job.Status)))
	out.KeyValue("Mode", job.Mode)

	if job.Provider != "" {
		out.KeyValue("Provider", job.Provider)
	}

	if job.Model != "" {
		out.KeyValue("Model", job.Model)
	}

	out.KeyValue("Project", job.ProjectPath)

	if job.AcceptingInput {
		out.KeyValue("Input", "waiting for an answer")
	}

	if job.ReturnCode != nil {
		out.KeyValue("Exit code", *job.ReturnCode)
	}

	if job.StartedAt != nil {
		end := time.Now()
		if job.FinishedAt != nil {
			end = *job.FinishedAt
		}

		out.KeyValue("Duration", end.Sub(*job.StartedAt).Round(time.Second).String())
	}

	if job.Error != "" {
		out.KeyValue("Error", job.Error)
	}
}

func newJobWatchCmd() *cobra.Command {
	var tui bool

	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a running job",
		Long: `Follow a job that was started elsewhere, streaming its output until it
finishes. Answer questions by typing a line and pressing Enter, or use the
full-screen view with --tui.`,
		Example: `  gpte job watch 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10
  gpte job watch 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10 --tui`,
		Args: exactArgs(1, "a job ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			logger := observability.FromContext(cmd.Context())
			jobID := args[0]

			if tui && (out.JSON || !out.Terminal().FullScreenEnabled()) {
				return clierrors.New(clierrors.ExitUsage, "--tui needs an interactive terminal")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cfg, err := connectedClient(ctx)
			if err != nil {
				return err
			}

			// Fail fast on an unknown ID instead of polling into a 404.
			if _, err := c.GetJob(ctx, jobID); err != nil {
				return jobError(jobID, err)
			}

			opts := session.Options{
				Interval: cfg.PollInterval(),
				Logger:   observability.Component(logger, "session"),
			}

			if tui {
				renderer := watch.NewRenderer()
				s := session.New(c, renderer, opts)

				if err := s.Attach(jobID); err != nil {
					return err
				}

				result, err := watch.Run(ctx, s, renderer, jobID)
				if err != nil {
					return err
				}

				return reportResult(out, jobID, result.Job, result.Err, result.Detached, false)
			}

			var renderer session.Renderer = session.NewTextRenderer(out)
			if out.JSON {
				renderer = discardRenderer{}
			}

			s := session.New(c, renderer, opts)

			if !out.NoInput {
				// Attach before forwarding so early lines reach this job.
				if err := s.Attach(jobID); err != nil {
					return err
				}

				go forwardInput(ctx, s, cmd.InOrStdin(), logger)
			}

			job, pollErr := s.Poll(ctx, jobID)
			detached := errors.Is(pollErr, context.Canceled) && ctx.Err() != nil

			if detached {
				pollErr = nil
			}

			return reportResult(out, jobID, job, pollErr, detached, false)
		},
	}

	cmd.Flags().BoolVar(&tui, "tui", false, "Follow the job in a full-screen view")

	return cmd
}

func newJobInputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "input <job-id> <answer>",
		Short: "Answer a job that is waiting for input",
		Long: `Send one line of input to a build that has stopped to ask a question. The
backend rejects input while the build is not waiting.`,
		Example: `  gpte job input 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10 y
  gpte job input 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10 "use sqlite instead"`,
		Args: exactArgs(2, "a job ID and an answer"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			jobID, answer := args[0], args[1]

			c, _, err := connectedClient(cmd.Context())
			if err != nil {
				return err
			}

			if err := c.SendInput(cmd.Context(), jobID, answer); err != nil {
				return jobError(jobID, err)
			}

			out.Success("Sent input to job %s", jobID)

			return nil
		},
	}
}

func newJobCancelCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Stop a running job",
		Long: `Stop a running build. The build process is terminated and the job is marked
failed. Asks for confirmation unless --force is passed.`,
		Example: `  gpte job cancel 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10
  gpte job cancel 4f1c9a2e-3b7d-4c55-9a0e-2d8f6b1c7e10 --force`,
		Args: exactArgs(1, "a job ID"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			jobID := args[0]

			c, _, err := connectedClient(cmd.Context())
			if err != nil {
				return err
			}

			if !force {
				if out.NoInput {
					return clierrors.New(clierrors.ExitUsage, "Cannot confirm cancel in non-interactive mode").
						WithHint("Use --force to skip confirmation")
				}

				confirmed, promptErr := prompt.New(out).Confirm(fmt.Sprintf("Cancel job %s?", jobID), false)
				if promptErr != nil {
					return clierrors.Wrap(clierrors.ExitGeneral, "Failed to read confirmation", promptErr)
				}

				if !confirmed {
					out.Info("Job left running")
					return nil
				}
			}

			if err := c.CancelJob(cmd.Context(), jobID); err != nil {
				return jobError(jobID, err)
			}

			out.Success("Canceled job %s", jobID)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}
