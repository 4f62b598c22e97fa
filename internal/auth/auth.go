// Package auth stores the model provider API key.
//
// The key is sourced in the following priority order:
//  1. Environment variable: GPTE_API_KEY
//  2. OS Keyring (macOS Keychain, Windows Credential Manager, Linux Secret Service)
//  3. File fallback: <user config dir>/gpte/api-key (for machines without a keyring)
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/gpte-dev/gpte/internal/paths"
)

const (
	// keyringService is the service name used in OS keyring storage.
	keyringService = "gpte"
	// keyringUser is the account name used in OS keyring storage.
	keyringUser = "provider-api-key"
	// EnvVarName overrides any stored key.
	EnvVarName = "GPTE_API_KEY"
)

// ErrNoCredentials is returned when there is nothing to delete.
var ErrNoCredentials = errors.New("no stored API key found")

// CredentialSource indicates where the key was found.
type CredentialSource string

// Credential source constants identify where the key was loaded from.
const (
	SourceEnv     CredentialSource = "environment variable"
	SourceKeyring CredentialSource = "keyring"
	SourceFile    CredentialSource = "config file"
	SourceNone    CredentialSource = ""
)

// Store reads and writes the API key.
type Store struct {
	// File is the fallback path. Empty selects the default location.
	File string
}

// NewStore returns a Store using the default file fallback.
func NewStore() *Store {
	return &Store{}
}

// Get returns the API key and its source, or SourceNone and "" when unset.
func (s *Store) Get() (CredentialSource, string) {
	if key := strings.TrimSpace(os.Getenv(EnvVarName)); key != "" {
		return SourceEnv, key
	}

	if key, err := keyring.Get(keyringService, keyringUser); err == nil && key != "" {
		return SourceKeyring, key
	}

	if key := s.readFile(); key != "" {
		return SourceFile, key
	}

	return SourceNone, ""
}

// Set stores the key in the OS keyring, falling back to the file when the
// keyring is unavailable. It returns where the key ended up.
func (s *Store) Set(apiKey string) (CredentialSource, error) {
	if err := keyring.Set(keyringService, keyringUser, apiKey); err == nil {
		// A stale file would otherwise resurface once the keyring entry is removed.
		_ = s.removeFile()
		return SourceKeyring, nil
	}

	if err := s.writeFile(apiKey); err != nil {
		return SourceNone, err
	}

	return SourceFile, nil
}

// Delete removes the key from the keyring and the file fallback.
func (s *Store) Delete() error {
	keyringErr := keyring.Delete(keyringService, keyringUser)
	fileErr := s.removeFile()

	if keyringErr != nil && fileErr != nil {
		return ErrNoCredentials
	}

	return nil
}

func (s *Store) path() string {
	if s.File != "" {
		return filepath.Clean(s.File)
	}

	path, err := paths.CredentialsFile()
	if err != nil {
		return ""
	}

	return filepath.Clean(path)
}

func (s *Store) readFile() string {
	path := s.path()
	if path == "" {
		return ""
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from controlled config directory
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func (s *Store) writeFile(apiKey string) error {
	path := s.path()
	if path == "" {
		return fmt.Errorf("could not determine config directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Owner read/write only.
	if err := os.WriteFile(path, []byte(apiKey+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	return nil
}

func (s *Store) removeFile() error {
	path := s.path()
	if path == "" {
		return fmt.Errorf("could not determine config directory")
	}

	err := os.Remove(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("credentials file not found")
	}

	if err != nil {
		return fmt.Errorf("remove credentials file: %w", err)
	}

	return nil
}

// Mask hides all but the last four characters of a key.
func Mask(apiKey string) string {
	if apiKey == "" {
		return ""
	}

	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}

	return strings.Repeat("*", 8) + apiKey[len(apiKey)-4:]
}
