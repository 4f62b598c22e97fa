package paths

import (
	"path/filepath"
	"testing"
)

func TestConfigRoot_UsesXDGConfigHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	got, err := ConfigRoot()
	if err != nil {
		t.Fatalf("ConfigRoot() error = %v", err)
	}

	want := filepath.Join(tmp, "gpte")
	if got != want {
		t.Fatalf("ConfigRoot() = %q, want %q", got, want)
	}
}

func TestConfigRoot_IgnoresRelativeXDG(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "relative/dir")

	got, err := ConfigRoot()
	if err != nil {
		t.Fatalf("ConfigRoot() error = %v", err)
	}

	if got == filepath.Join("relative/dir", "gpte") {
		t.Fatalf("ConfigRoot() = %q, relative XDG_CONFIG_HOME must be ignored", got)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := t.TempDir()
	state := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfg)
	t.Setenv("XDG_STATE_HOME", state)

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"DefaultLogFile", DefaultLogFile, filepath.Join(state, "gpte", "logs", "gpte.log")},
		{"BackendLogFile", BackendLogFile, filepath.Join(state, "gpte", "logs", "backend.log")},
		{"ConfigFile", ConfigFile, filepath.Join(cfg, "gpte", "config.yaml")},
		{"SettingsFile", SettingsFile, filepath.Join(cfg, "gpte", "settings.toml")},
		{"CredentialsFile", CredentialsFile, filepath.Join(cfg, "gpte", "api-key")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("%s() error = %v", tt.name, err)
			}

			if got != tt.want {
				t.Fatalf("%s() = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestDefaultProjectsRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := DefaultProjectsRoot()
	if err != nil {
		t.Fatalf("DefaultProjectsRoot() error = %v", err)
	}

	want := filepath.Join(home, "GPT-Engineer-Projects")
	if got != want {
		t.Fatalf("DefaultProjectsRoot() = %q, want %q", got, want)
	}
}
