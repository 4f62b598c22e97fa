package main

import (
	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/config"
	"github.com/gpte-dev/gpte/internal/doctor"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/settings"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to find setup problems before starting a build.

Checks performed:
  - Provider settings and where the API key comes from
  - gpt-engineer availability and the Python version
  - Projects directory is writable
  - Backend reachability at the configured address`,
		Example: `  gpte doctor
  GPTE_SERVER_PORT=9000 gpte doctor`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			projects, err := cfg.ProjectsRoot()
			if err != nil {
				projects = ""
			}

			runner := doctor.New(doctor.Options{
				Settings:      settings.NewStore(),
				Backend:       newBackendClient(cfg),
				Python:        cfg.Python(),
				CLIExecutable: cfg.CLIExecutable(),
				ProjectsRoot:  projects,
			})

			results := runner.Run(cmd.Context())
			renderDoctor(out, results)

			return nil
		},
	}
}

// renderDoctor prints the results followed by a summary line.
func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Println("gpte doctor")
	out.Println("===========")
	out.Println()

	doctor.RenderResults(results, out.Print, out.Success, out.Warning, out.Failure, out.Muted)

	passed, failed, warnings := doctor.Summary(results)

	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}
