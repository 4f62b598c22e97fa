// Package wizard provides the first-run setup for gpte.
//
// The wizard guides users through provider configuration:
//  1. Provider selection
//  2. API key (and server URL for private servers)
//  3. Optional model
//  4. Settings storage
//  5. Next steps guidance
package wizard

import (
	"fmt"

	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/prompt"
	"github.com/gpte-dev/gpte/internal/provider"
	"github.com/gpte-dev/gpte/internal/settings"
)

// Store is where the wizard reads and saves settings.
type Store interface {
	Load() (*settings.Loaded, error)
	Save(s settings.Settings) error
}

// Wizard handles the setup flow.
type Wizard struct {
	out      *output.Writer
	prompter *prompt.Prompter
	store    Store
	force    bool
}

// New creates a setup wizard.
func New(out *output.Writer, prompter *prompt.Prompter, store Store, force bool) *Wizard {
	return &Wizard{
		out:      out,
		prompter: prompter,
		store:    store,
		force:    force,
	}
}

// Run executes the wizard. It returns the saved settings, or nil when the
// user kept what was already stored.
func (w *Wizard) Run() (*settings.Settings, error) {
	w.out.Println("Welcome to gpte!")
	w.out.Println("================")
	w.out.Println()
	w.out.Println("gpte builds software from a plain-language description using")
	w.out.Println("gpt-engineer and the model provider you choose.")
	w.out.Println()

	current, err := w.store.Load()
	if err != nil {
		return nil, err
	}

	if current.Exists && !w.force {
		w.out.Warning("Existing settings found (%s)", current.Provider.Label())

		if !w.prompter.CanPrompt() {
			w.out.Println()
			w.out.Info("Run with --force to overwrite existing settings")
			return nil, nil
		}

		overwrite, err := w.prompter.Confirm("Overwrite existing settings?", false)
		if err != nil {
			return nil, err
		}

		if !overwrite {
			w.out.Println()
			w.out.Success("Keeping existing settings")
			w.showNextSteps()

			return nil, nil
		}

		w.out.Println()
	}

	if !w.prompter.CanPrompt() {
		w.out.Failure("Cannot run setup in non-interactive mode")
		w.out.Println()
		w.out.Info("Either:")
		w.out.Print("  1. Run without --no-input flag\n")
		w.out.Print("  2. Use 'gpte settings set <field> <value>'\n")

		return nil, nil
	}

	next, err := w.ask(current.Settings)
	if err != nil {
		return nil, err
	}

	if err := next.Validate(); err != nil {
		w.out.Failure("%s", err.Error())
		return nil, nil
	}

	w.out.Println()
	spin := w.out.Spinner("Saving settings")
	spin.Start()

	if err := w.store.Save(*next); err != nil {
		spin.StopWithFailure("Failed to save settings")
		return nil, fmt.Errorf("save settings: %w", err)
	}

	spin.StopWithSuccess("Settings saved")
	w.out.Println()
	w.out.Success("gpte is ready!")
	w.showNextSteps()

	return next, nil
}

func (w *Wizard) ask(current settings.Settings) (*settings.Settings, error) {
	w.out.Println("Step 1: Provider")
	w.out.Println("----------------")

	all := provider.All()
	labels := make([]string, len(all))
	defaultIndex := 0

	for i, p := range all {
		labels[i] = p.Label()
		if p == current.Provider {
			defaultIndex = i
		}
	}

	idx, err := w.prompter.Select("Which model provider do you want to use?", labels, defaultIndex)
	if err != nil {
		return nil, err
	}

	next := settings.Settings{Provider: all[idx]}
	hints := settings.HintsFor(next.Provider)

	w.out.Println()
	w.out.Println("Step 2: Credentials")
	w.out.Println("-------------------")
	w.out.Muted("%s", hints.Key)

	next.APIKey, err = w.prompter.Password(fmt.Sprintf("API key (%s)", hints.KeyPlaceholder))
	if err != nil {
		return nil, fmt.Errorf("failed to read API key: %w", err)
	}

	if hints.NeedsBaseURL {
		next.BaseURL, err = w.prompter.Text("Server URL", "http://localhost:8000/v1", current.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	w.out.Println()
	w.out.Println("Step 3: Model (optional)")
	w.out.Println("------------------------")

	next.Model, err = w.prompter.Text("Model", hints.ModelPlaceholder, current.Model)
	if err != nil {
		return nil, err
	}

	next.Normalize()

	return &next, nil
}

func (w *Wizard) showNextSteps() {
	w.out.Println()
	w.out.Println("Next steps:")
	w.out.Println("  gpte doctor                  Check your setup")
	w.out.Println("  gpte run --spawn \"a game\"    Build something")
	w.out.Println("  gpte --help                  See all commands")
}
