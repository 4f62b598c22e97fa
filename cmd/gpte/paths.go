package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/auth"
	"github.com/gpte-dev/gpte/internal/config"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/paths"
)

// PathsInfo holds all resolved paths for JSON output.
type PathsInfo struct {
	ConfigRoot   string `json:"config_root"`
	StateRoot    string `json:"state_root"`
	ConfigFile   string `json:"config_file"`
	SettingsFile string `json:"settings_file"`
	Credentials  string `json:"credentials"`
	LogFile      string `json:"log_file"`
	BackendLog   string `json:"backend_log"`
	ProjectsRoot string `json:"projects_root"`
	BackendURL   string `json:"backend_url"`
	KeySource    string `json:"api_key_source"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where gpte stores files",
		Long: `Display all file and directory paths used by gpte.

Useful for debugging, scripting, and understanding where configuration,
settings, logs and generated projects live on this system.`,
		Example: `  gpte paths
  gpte paths --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			info := resolvePathsInfo()

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Print("Config root:    %s\n", info.ConfigRoot)
			out.Print("State root:     %s\n", info.StateRoot)
			out.Print("\n")
			out.Print("Config file:    %s\n", info.ConfigFile)
			out.Print("Settings file:  %s\n", info.SettingsFile)
			out.Print("Credentials:    %s\n", info.Credentials)
			out.Print("Log file:       %s\n", info.LogFile)
			out.Print("Backend log:    %s\n", info.BackendLog)
			out.Print("Projects root:  %s\n", info.ProjectsRoot)
			out.Print("\n")
			out.Print("Backend URL:    %s\n", info.BackendURL)
			out.Print("API key source: %s\n", info.KeySource)

			return nil
		},
	}
}

func resolvePathsInfo() PathsInfo {
	cfg := config.Load()

	info := PathsInfo{
		ConfigRoot:   resolveOrError(paths.ConfigRoot),
		StateRoot:    resolveOrError(paths.StateRoot),
		ConfigFile:   resolveOrError(paths.ConfigFile),
		SettingsFile: resolveOrError(paths.SettingsFile),
		Credentials:  resolveOrError(paths.CredentialsFile),
		LogFile:      resolveOrError(paths.DefaultLogFile),
		BackendLog:   resolveOrError(paths.BackendLogFile),
		ProjectsRoot: resolveOrError(cfg.ProjectsRoot),
		BackendURL:   cfg.BaseURL(),
	}

	source, _ := auth.NewStore().Get()
	if source == auth.SourceNone {
		info.KeySource = "none"
	} else {
		info.KeySource = string(source)
	}

	return info
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}
