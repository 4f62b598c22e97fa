package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/config"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/output"
)

func newUpCmd() *cobra.Command {
	var engineName string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the backend and keep it running",
		Long: `Launch the local backend, wait until it answers its health check and keep it
running until you press Ctrl+C.

While it is up, 'gpte run' and the 'gpte job' commands talk to it without
starting a backend of their own. The backend command is chosen by
backend.mode: self runs 'gpte serve', packaged runs the bundled backend and
development runs the Python server from a gpt-engineer checkout.`,
		Example: `  gpte up
  gpte up --engine demo
  GPTE_BACKEND_MODE=development GPTE_BACKEND_APP_DIR=~/src/gpt-engineer gpte up`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := backendOptions{Stdout: os.Stdout, Stderr: os.Stderr}

			if engineName != "" {
				opts.ExtraArgs = []string{"--engine", engineName}
			}

			spin := out.Spinner(fmt.Sprintf("Starting backend on %s", cfg.BaseURL()))
			spin.Start()

			if err := newBackendClient(cfg).Health(ctx); err == nil {
				spin.StopWithWarning(fmt.Sprintf("A backend is already running at %s", cfg.BaseURL()))
				out.Muted("Stop it first, or pick another port with GPTE_SERVER_PORT")

				return nil
			}

			opts.OnStarted = func() { spin.UpdateMessage("Waiting for the backend to become ready") }

			backend, err := startBackend(ctx, cfg, opts)
			if err != nil {
				spin.StopWithFailure("Backend did not start")
				return err
			}

			defer func() { _ = backend.Stop() }()

			spin.StopWithSuccess(fmt.Sprintf("Backend ready at %s", cfg.BaseURL()))
			out.Muted("Press Ctrl+C to stop")

			select {
			case <-ctx.Done():
				out.Println()
				out.Info("Stopping backend")

				return nil
			case <-backend.Done():
				code, _ := backend.sup.ExitCode()

				return clierrors.New(clierrors.ExitStartup, fmt.Sprintf("Backend exited unexpectedly (code %d)", code)).
					WithHint("See the backend output above or run 'gpte doctor'")
			}
		},
	}

	cmd.Flags().StringVar(&engineName, "engine", "", "Build engine for a self-hosted backend: cli, demo")

	return cmd
}
