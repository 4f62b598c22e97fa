// Package settings stores the provider settings used for every build: the
// provider, its API key, an optional server URL and an optional model.
//
// Settings are read and written as a whole. Non-secret fields live in a TOML
// file under the config root; the API key lives in the OS keyring through
// internal/auth.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/gpte-dev/gpte/internal/auth"
	"github.com/gpte-dev/gpte/internal/paths"
	"github.com/gpte-dev/gpte/internal/provider"
)

// Validation messages shown by the setup flow.
//
//nolint:staticcheck // ST1005: user-facing sentences
var (
	ErrAPIKeyRequired  = errors.New("Please enter your API key to continue.")
	ErrBaseURLRequired = errors.New("Please enter your server URL.")
)

// Settings is the provider configuration blob.
type Settings struct {
	Provider provider.Provider `toml:"provider"`
	APIKey   string            `toml:"-"`
	BaseURL  string            `toml:"base_url,omitempty"`
	Model    string            `toml:"model,omitempty"`
}

// Normalize trims every field and defaults the provider to OpenAI.
func (s *Settings) Normalize() {
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.BaseURL = strings.TrimSpace(s.BaseURL)
	s.Model = strings.TrimSpace(s.Model)

	if p, err := provider.Parse(string(s.Provider)); err == nil {
		s.Provider = p
	}
}

// Validate applies the same checks as the first-run setup screen.
func (s *Settings) Validate() error {
	if !s.Provider.Valid() {
		return fmt.Errorf("provider must be one of %s", strings.Join(provider.Names(), ", "))
	}

	if s.APIKey == "" && s.Provider != provider.PrivateServer {
		return ErrAPIKeyRequired
	}

	if s.Provider == provider.PrivateServer && s.BaseURL == "" {
		return ErrBaseURLRequired
	}

	return nil
}

// Hints are the prompts shown while configuring a provider.
type Hints struct {
	Key              string
	KeyPlaceholder   string
	ModelPlaceholder string
	NeedsBaseURL     bool
}

// HintsFor returns the setup prompts for p.
func HintsFor(p provider.Provider) Hints {
	switch p {
	case provider.OpenRouter:
		return Hints{
			Key:              "Paste your OpenRouter API key. It stays on your computer.",
			KeyPlaceholder:   "sk-or-v1-...",
			ModelPlaceholder: "openai/gpt-4o",
		}
	case provider.PrivateServer:
		return Hints{
			Key:              "API key for your server (or leave blank if not needed).",
			KeyPlaceholder:   "sk-...",
			ModelPlaceholder: "your-model-name",
			NeedsBaseURL:     true,
		}
	default:
		return Hints{
			Key:              "Paste your OpenAI API key. It stays on your computer.",
			KeyPlaceholder:   "sk-...",
			ModelPlaceholder: "gpt-4o",
		}
	}
}

// Keys is where the API key is kept.
type Keys interface {
	Get() (auth.CredentialSource, string)
	Set(apiKey string) (auth.CredentialSource, error)
	Delete() error
}

// Store loads and saves Settings.
type Store struct {
	// Path is the TOML file. Empty selects the default location.
	Path string
	Keys Keys
}

// NewStore returns a Store at the default location backed by the OS keyring.
func NewStore() *Store {
	return &Store{Keys: auth.NewStore()}
}

// Loaded is a Settings value with where it came from.
type Loaded struct {
	Settings

	// Exists is false when nothing has been saved yet.
	Exists    bool
	KeySource auth.CredentialSource
}

func (st *Store) path() (string, error) {
	if st.Path != "" {
		return st.Path, nil
	}

	return paths.SettingsFile()
}

// Load reads the stored settings. A missing file yields OpenAI defaults.
func (st *Store) Load() (*Loaded, error) {
	path, err := st.path()
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}

	loaded := &Loaded{Settings: Settings{Provider: provider.OpenAI}}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from controlled config directory
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := toml.Unmarshal(data, &loaded.Settings); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}

		loaded.Exists = true
	}

	if st.Keys != nil {
		loaded.KeySource, loaded.APIKey = st.Keys.Get()
		if loaded.KeySource != auth.SourceNone {
			loaded.Exists = true
		}
	}

	loaded.Normalize()

	return loaded, nil
}

// Save replaces the stored settings with s. An empty API key removes the
// stored key.
func (st *Store) Save(s Settings) error {
	s.Normalize()

	if err := st.SaveFile(s); err != nil {
		return err
	}

	if st.Keys == nil {
		return nil
	}

	if s.APIKey == "" {
		if err := st.Keys.Delete(); err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			return fmt.Errorf("remove API key: %w", err)
		}

		return nil
	}

	if _, err := st.Keys.Set(s.APIKey); err != nil {
		return fmt.Errorf("store API key: %w", err)
	}

	return nil
}

// SaveFile writes everything except the API key, which is left as stored.
func (st *Store) SaveFile(s Settings) error {
	s.Normalize()

	path, err := st.path()
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}

	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Clear removes the settings file and the stored API key.
func (st *Store) Clear() error {
	path, err := st.path()
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove settings: %w", err)
	}

	if st.Keys != nil {
		if err := st.Keys.Delete(); err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			return fmt.Errorf("remove API key: %w", err)
		}
	}

	return nil
}

// Set updates a single field by name.
func (s *Settings) Set(field, value string) error {
	value = strings.TrimSpace(value)

	switch field {
	case "provider":
		p, err := provider.Parse(value)
		if err != nil {
			return err
		}

		s.Provider = p
	case "api_key":
		s.APIKey = value
	case "base_url":
		s.BaseURL = value
	case "model":
		s.Model = value
	default:
		return fmt.Errorf("unknown setting %q (valid: %s)", field, strings.Join(Fields(), ", "))
	}

	return nil
}

// Fields lists the names accepted by Set.
func Fields() []string {
	return []string{"provider", "api_key", "base_url", "model"}
}
