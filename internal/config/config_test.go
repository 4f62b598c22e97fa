package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state (including distinguishing "unset" from "set to
// empty string").
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func isolate(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))

	for _, key := range []string{
		"GPTE_SERVER_HOST",
		"GPTE_SERVER_PORT",
		"GPTE_BACKEND_MODE",
		"GPTE_BACKEND_PYTHON",
		"GPTE_BACKEND_CLI_EXECUTABLE",
		"GPTE_PROBE_MAX_ATTEMPTS",
		"GPTE_PROBE_INTERVAL",
		"GPTE_CLIENT_POLL_INTERVAL",
		"GPTE_PROJECTS_ROOT",
		"GPTE_ENGINE_QUIET_PERIOD",
		"PYTHON_EXECUTABLE",
		"GPTE_CLI_EXECUTABLE",
	} {
		unsetEnvForTest(t, key)
	}

	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg := Load()

	tests := []struct {
		name     string
		accessor func(*Config) interface{}
		want     interface{}
	}{
		{"host", func(c *Config) interface{} { return c.Host() }, DefaultHost},
		{"port", func(c *Config) interface{} { return c.Port() }, DefaultPort},
		{"base url", func(c *Config) interface{} { return c.BaseURL() }, "http://127.0.0.1:8765"},
		{"backend mode", func(c *Config) interface{} { return c.BackendMode() }, DefaultBackendMode},
		{"python", func(c *Config) interface{} { return c.Python() }, "python"},
		{"cli executable", func(c *Config) interface{} { return c.CLIExecutable() }, ""},
		{"stop grace", func(c *Config) interface{} { return c.StopGrace() }, DefaultStopGrace},
		{"probe attempts", func(c *Config) interface{} { return c.ProbeAttempts() }, DefaultProbeAttempts},
		{"probe interval", func(c *Config) interface{} { return c.ProbeInterval() }, DefaultProbeInterval},
		{"poll interval", func(c *Config) interface{} { return c.PollInterval() }, DefaultPollInterval},
		{"engine", func(c *Config) interface{} { return c.Engine() }, DefaultEngine},
		{"quiet period", func(c *Config) interface{} { return c.QuietPeriod() }, DefaultQuietPeriod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.accessor(cfg)
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	root, err := cfg.ProjectsRoot()
	if err != nil {
		t.Fatalf("ProjectsRoot() error = %v", err)
	}

	if want := filepath.Join(home, "GPT-Engineer-Projects"); root != want {
		t.Errorf("ProjectsRoot() = %q, want %q", root, want)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	isolate(t)

	t.Setenv("GPTE_SERVER_PORT", "9000")
	t.Setenv("GPTE_PROBE_INTERVAL", "10ms")
	t.Setenv("GPTE_CLIENT_POLL_INTERVAL", "2s")
	t.Setenv("GPTE_BACKEND_MODE", "packaged")
	t.Setenv("PYTHON_EXECUTABLE", "/usr/bin/python3.11")
	t.Setenv("GPTE_CLI_EXECUTABLE", "/opt/gpte/gpte-cli")

	cfg := Load()

	if got := cfg.Port(); got != 9000 {
		t.Errorf("Port() = %d, want 9000", got)
	}

	if got := cfg.BaseURL(); got != "http://127.0.0.1:9000" {
		t.Errorf("BaseURL() = %q", got)
	}

	if got := cfg.ProbeInterval(); got != 10*time.Millisecond {
		t.Errorf("ProbeInterval() = %v, want 10ms", got)
	}

	if got := cfg.PollInterval(); got != 2*time.Second {
		t.Errorf("PollInterval() = %v, want 2s", got)
	}

	if got := cfg.BackendMode(); got != "packaged" {
		t.Errorf("BackendMode() = %q, want packaged", got)
	}

	if got := cfg.Python(); got != "/usr/bin/python3.11" {
		t.Errorf("Python() = %q", got)
	}

	if got := cfg.CLIExecutable(); got != "/opt/gpte/gpte-cli" {
		t.Errorf("CLIExecutable() = %q", got)
	}
}

func TestLoad_InvalidDurationsFallBack(t *testing.T) {
	isolate(t)

	t.Setenv("GPTE_CLIENT_POLL_INTERVAL", "-1s")
	t.Setenv("GPTE_ENGINE_QUIET_PERIOD", "0")

	cfg := Load()

	if got := cfg.PollInterval(); got != DefaultPollInterval {
		t.Errorf("PollInterval() = %v, want %v", got, DefaultPollInterval)
	}

	if got := cfg.QuietPeriod(); got != DefaultQuietPeriod {
		t.Errorf("QuietPeriod() = %v, want %v", got, DefaultQuietPeriod)
	}
}

func TestConfig_SetPersists(t *testing.T) {
	home := isolate(t)

	cfg := Load()
	if err := cfg.Set("server.port", 9100); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(home, ".config", "gpte", "config.yaml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	reloaded := Load()
	if got := reloaded.Port(); got != 9100 {
		t.Errorf("reloaded Port() = %d, want 9100", got)
	}
}

func TestConfig_All(t *testing.T) {
	isolate(t)

	all := Load().All()
	if all == nil {
		t.Fatal("All() returned nil")
	}

	for _, section := range []string{"server", "backend", "probe", "client", "projects", "engine"} {
		if _, ok := all[section]; !ok {
			t.Errorf("All() missing %q key", section)
		}
	}
}

func TestKeysHaveDefaults(t *testing.T) {
	isolate(t)

	cfg := Load()
	for _, key := range Keys {
		if !cfg.v.IsSet(key) {
			t.Errorf("key %q has no default", key)
		}
	}
}
