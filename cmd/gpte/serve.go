package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/config"
	"github.com/gpte-dev/gpte/internal/engine"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/jobs"
	"github.com/gpte-dev/gpte/internal/observability"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/server"
)

// Engine names accepted by --engine.
const (
	engineCLI  = "cli"
	engineDemo = "demo"
)

func engineNames() []string {
	return []string{engineCLI, engineDemo}
}

func newServeCmd() *cobra.Command {
	var (
		host       string
		port       int
		engineName string
		scriptPath string
		projects   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend API in the foreground",
		Long: `Serve the local backend API that accepts builds, tracks them in memory and
streams their output to clients.

This is the process 'gpte up' and 'gpte run --spawn' supervise. Run it
directly to debug the backend or to point another client at it.

The cli engine runs gpt-engineer. The demo engine replays a scripted build,
including a question that needs an answer, without calling any model.`,
		Example: `  gpte serve
  gpte serve --port 9000
  gpte serve --engine demo
  gpte serve --engine demo --script ./scenario.yaml`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			logger := observability.FromContext(cmd.Context())
			cfg := config.Load()

			if !cmd.Flags().Changed("host") {
				host = cfg.Host()
			}

			if !cmd.Flags().Changed("port") {
				port = cfg.Port()
			}

			if engineName == "" {
				engineName = cfg.Engine()
			}

			eng, err := newEngine(cfg, engineName, scriptPath, logger)
			if err != nil {
				return err
			}

			if projects == "" {
				root, rootErr := cfg.ProjectsRoot()
				if rootErr != nil {
					return clierrors.ConfigFailed("resolve projects root", rootErr)
				}

				projects = root
			}

			runner := jobs.NewRunner(jobs.NewRegistry(), eng, jobs.RunnerOptions{
				ProjectsRoot: projects,
				Logger:       logger,
			})

			srv := server.New(runner, server.Options{
				Host:         host,
				Port:         port,
				ProjectsRoot: projects,
				Logger:       logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out.Info("Serving on http://%s (%s engine)", srv.Addr(), engineName)

			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return clierrors.Wrap(clierrors.ExitStartup, "Backend server stopped", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Address to bind")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port to bind")
	cmd.Flags().StringVar(&engineName, "engine", "", "Build engine: cli, demo (default from engine.kind)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Scenario file for the demo engine")
	cmd.Flags().StringVar(&projects, "projects-root", "", "Directory new projects are created under")

	return cmd
}

// newEngine builds the engine named name.
func newEngine(cfg *config.Config, name, scriptPath string, logger *slog.Logger) (engine.Engine, error) {
	switch name {
	case engineCLI:
		if scriptPath != "" {
			return nil, clierrors.New(clierrors.ExitUsage, "--script requires --engine demo")
		}

		return &engine.CLI{
			Executable:  cfg.CLIExecutable(),
			Python:      cfg.Python(),
			QuietPeriod: cfg.QuietPeriod(),
			StopGrace:   cfg.StopGrace(),
			Logger:      logger,
		}, nil
	case engineDemo:
		scenario := engine.DemoScenario()

		if scriptPath != "" {
			loaded, err := engine.LoadScenario(scriptPath)
			if err != nil {
				return nil, clierrors.Wrap(clierrors.ExitConfig, "Invalid demo scenario", err).
					WithHint("Check the scenario file against the bundled demo scenario")
			}

			scenario = loaded
		}

		return &engine.Script{Scenario: scenario}, nil
	default:
		return nil, clierrors.InvalidChoice("engine", name, engineNames())
	}
}
