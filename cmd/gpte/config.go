package main

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/config"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and modify gpte configuration: backend address and mode, health probe
timing, polling cadence and where projects are created.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long:  `Display every configuration key with its effective value, including built-in defaults.`,
		Example: `  gpte config list
  gpte config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			values := make(map[string]any, len(config.Keys))
			for _, key := range config.Keys {
				values[key] = cfg.Get(key)
			}

			if out.JSON {
				return out.PrintJSON(values)
			}

			for _, key := range config.Keys {
				out.Print("%s = %v\n", key, values[key])
			}

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "get <key>",
		Short:     "Get a configuration value",
		Long:      `Retrieve and display the effective value of a single configuration key.`,
		Example:   `  gpte config get server.port`,
		Args:      exactArgs(1, "a configuration key"),
		ValidArgs: config.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]
			value := config.Load().Get(key)

			if value == nil {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  `Set a configuration key to the given value. The value is persisted to the config file.`,
		Example: `  gpte config set server.port 9000
  gpte config set backend.mode development`,
		Args:      exactArgs(2, "a key and a value"),
		ValidArgs: config.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if !slices.Contains(config.Keys, key) {
				return clierrors.InvalidChoice("config key", key, config.Keys)
			}

			if err := config.Load().Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}
