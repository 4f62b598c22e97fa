package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gpte-dev/gpte/internal/auth"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/paths"
	"github.com/gpte-dev/gpte/internal/prompt"
	"github.com/gpte-dev/gpte/internal/settings"
	"github.com/gpte-dev/gpte/internal/wizard"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage model provider settings",
		Long: `Choose the model provider, API key, base URL and default model used for
builds. The API key is kept in your system keyring when one is available.`,
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetupCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsClearCmd())

	return cmd
}

// SettingsView is the settings as shown to the user. The key is masked.
type SettingsView struct {
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	KeySource string `json:"api_key_source"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	Saved     bool   `json:"saved"`
	Complete  bool   `json:"complete"`
	File      string `json:"file"`
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current provider settings",
		Long:  `Display the saved provider settings, where the API key comes from and whether builds can start with them.`,
		Example: `  gpte settings show
  gpte settings show --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			loaded, err := settings.NewStore().Load()
			if err != nil {
				return clierrors.ConfigFailed("load settings", err)
			}

			validateErr := loaded.Validate()
			view := SettingsView{
				Provider:  string(loaded.Provider),
				APIKey:    auth.Mask(loaded.APIKey),
				KeySource: string(loaded.KeySource),
				BaseURL:   loaded.BaseURL,
				Model:     loaded.Model,
				Saved:     loaded.Exists,
				Complete:  validateErr == nil,
				File:      resolveOrError(paths.SettingsFile),
			}

			if out.JSON {
				return out.PrintJSON(view)
			}

			if !loaded.Exists {
				out.Muted("No settings saved yet.")
				out.Info("Run 'gpte settings setup' to get started")

				return nil
			}

			out.KeyValue("Provider", loaded.Provider.Label())

			if view.APIKey == "" {
				out.KeyValue("API key", "(not set)")
			} else {
				out.KeyValue("API key", fmt.Sprintf("%s (from %s)", view.APIKey, view.KeySource))
			}

			if view.BaseURL != "" {
				out.KeyValue("Base URL", view.BaseURL)
			}

			if view.Model != "" {
				out.KeyValue("Model", view.Model)
			}

			out.KeyValue("File", view.File)

			if validateErr != nil {
				out.Println()
				out.Warning("%s", validateErr.Error())
			}

			return nil
		},
	}
}

func newSettingsSetupCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Choose a provider and API key interactively",
		Long: `Walk through first-run setup: pick a model provider, enter its API key or
server URL and optionally a default model.

If settings already exist, use --force to overwrite them without asking.`,
		Example: `  gpte settings setup
  gpte settings setup --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			w := wizard.New(out, prompt.New(out), settings.NewStore(), force)

			if _, err := w.Run(); err != nil {
				if prompt.IsCanceled(err) {
					out.Println()
					out.Info("Setup canceled")

					return nil
				}

				return clierrors.ConfigFailed("save settings", err)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing settings without prompting")

	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set a single provider setting",
		Long: `Update one provider setting without running the setup flow. Fields are
provider, api_key, base_url and model. An empty value clears the field.`,
		Example: `  gpte settings set provider openrouter
  gpte settings set model openai/gpt-4o
  gpte settings set base_url http://localhost:8000/v1`,
		Args:      exactArgs(2, "a field and a value"),
		ValidArgs: settings.Fields(),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			field, value := args[0], args[1]
			store := settings.NewStore()

			loaded, err := store.Load()
			if err != nil {
				return clierrors.ConfigFailed("load settings", err)
			}

			next := loaded.Settings
			if err := next.Set(field, value); err != nil {
				return clierrors.New(clierrors.ExitUsage, err.Error()).
					WithHint("Run 'gpte settings set --help' for the accepted fields")
			}

			if field == "api_key" {
				err = store.Save(next)
			} else {
				err = store.SaveFile(next)
			}

			if err != nil {
				return clierrors.ConfigFailed("save settings", err)
			}

			if field == "api_key" {
				out.Success("Set api_key = %s", auth.Mask(next.APIKey))

				if os.Getenv(auth.EnvVarName) != "" {
					out.Warning("%s is set and takes precedence over the stored key", auth.EnvVarName)
				}
			} else {
				out.Success("Set %s = %s", field, value)
			}

			if err := next.Validate(); err != nil {
				out.Warning("%s", err.Error())
			}

			return nil
		},
	}
}

func newSettingsClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove saved settings and the stored API key",
		Long: `Delete the settings file and remove the API key from the keyring or the
fallback credentials file. Asks for confirmation unless --force is passed.`,
		Example: `  gpte settings clear
  gpte settings clear --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if !force {
				if out.NoInput {
					return clierrors.New(clierrors.ExitUsage, "Cannot confirm clear in non-interactive mode").
						WithHint("Use --force to skip confirmation")
				}

				confirmed, err := prompt.New(out).Confirm("Remove saved settings and API key?", false)
				if err != nil {
					return clierrors.Wrap(clierrors.ExitGeneral, "Failed to read confirmation", err)
				}

				if !confirmed {
					out.Info("Settings kept")
					return nil
				}
			}

			if err := settings.NewStore().Clear(); err != nil {
				return clierrors.ConfigFailed("clear settings", err)
			}

			out.Success("Settings cleared")

			if os.Getenv(auth.EnvVarName) != "" {
				out.Println()
				out.Warning("%s environment variable is still set", auth.EnvVarName)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}
