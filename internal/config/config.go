// Package config handles gpte configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (GPTE_*)
//  2. Config file (<user config dir>/gpte/config.yaml)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gpte-dev/gpte/internal/paths"
)

const (
	// DefaultHost is the loopback address the backend binds to.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the backend HTTP port.
	DefaultPort = 8765
	// DefaultBackendMode launches the running binary as its own backend.
	DefaultBackendMode = "self"
	// DefaultStopGrace is how long a stopping backend gets before SIGKILL.
	DefaultStopGrace = 5 * time.Second
	// DefaultProbeAttempts is the number of health check retries after the first attempt.
	DefaultProbeAttempts = 40
	// DefaultProbeInterval is the wait between health check attempts.
	DefaultProbeInterval = 250 * time.Millisecond
	// DefaultPollInterval is the job status polling period.
	DefaultPollInterval = 1200 * time.Millisecond
	// DefaultQuietPeriod is how long a partial output line must stay idle
	// before the task is considered blocked on input.
	DefaultQuietPeriod = 400 * time.Millisecond
	// DefaultEngine selects the gpt-engineer CLI engine.
	DefaultEngine = "cli"
)

// Keys lists every documented configuration key in display order.
var Keys = []string{
	"server.host",
	"server.port",
	"backend.mode",
	"backend.resources_dir",
	"backend.app_dir",
	"backend.python",
	"backend.cli_executable",
	"backend.stop_grace",
	"probe.max_attempts",
	"probe.interval",
	"client.poll_interval",
	"projects.root",
	"engine.kind",
	"engine.quiet_period",
}

// Config holds the gpte configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("backend.mode", DefaultBackendMode)
	v.SetDefault("backend.resources_dir", "")
	v.SetDefault("backend.app_dir", "")
	v.SetDefault("backend.python", "")
	v.SetDefault("backend.cli_executable", "")
	v.SetDefault("backend.stop_grace", DefaultStopGrace.String())
	v.SetDefault("probe.max_attempts", DefaultProbeAttempts)
	v.SetDefault("probe.interval", DefaultProbeInterval.String())
	v.SetDefault("client.poll_interval", DefaultPollInterval.String())
	v.SetDefault("projects.root", "")
	v.SetDefault("engine.kind", DefaultEngine)
	v.SetDefault("engine.quiet_period", DefaultQuietPeriod.String())

	if configFile, err := paths.ConfigFile(); err == nil {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GPTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
	}

	return &Config{v: v}
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok { //nolint:errorlint // viper returns the value type
		return true
	}

	return errors.Is(err, fs.ErrNotExist)
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetDuration returns a configuration value as a duration.
func (c *Config) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// Host returns the backend bind address.
func (c *Config) Host() string {
	return c.GetString("server.host")
}

// Port returns the backend port.
func (c *Config) Port() int {
	return c.GetInt("server.port")
}

// BaseURL returns the HTTP base URL of the local backend.
func (c *Config) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host(), strconv.Itoa(c.Port()))
}

// BackendMode returns the configured deployment mode.
func (c *Config) BackendMode() string {
	return c.GetString("backend.mode")
}

// ResourcesDir returns the packaged resources directory.
func (c *Config) ResourcesDir() string {
	return c.GetString("backend.resources_dir")
}

// AppDir returns the development checkout root.
func (c *Config) AppDir() string {
	return c.GetString("backend.app_dir")
}

// Python returns the interpreter used in development mode.
// PYTHON_EXECUTABLE is honored when no explicit value is configured.
func (c *Config) Python() string {
	if p := c.GetString("backend.python"); p != "" {
		return p
	}

	if p := os.Getenv("PYTHON_EXECUTABLE"); p != "" {
		return p
	}

	return "python"
}

// CLIExecutable returns the gpt-engineer CLI path, falling back to GPTE_CLI_EXECUTABLE.
func (c *Config) CLIExecutable() string {
	if p := c.GetString("backend.cli_executable"); p != "" {
		return p
	}

	return os.Getenv("GPTE_CLI_EXECUTABLE")
}

// StopGrace returns the backend termination grace period.
func (c *Config) StopGrace() time.Duration {
	return positiveOr(c.GetDuration("backend.stop_grace"), DefaultStopGrace)
}

// ProbeAttempts returns the number of health check retries.
func (c *Config) ProbeAttempts() int {
	if n := c.GetInt("probe.max_attempts"); n >= 0 {
		return n
	}

	return DefaultProbeAttempts
}

// ProbeInterval returns the wait between health checks.
func (c *Config) ProbeInterval() time.Duration {
	return positiveOr(c.GetDuration("probe.interval"), DefaultProbeInterval)
}

// PollInterval returns the job status polling period.
func (c *Config) PollInterval() time.Duration {
	return positiveOr(c.GetDuration("client.poll_interval"), DefaultPollInterval)
}

// ProjectsRoot returns the directory new projects are created under.
func (c *Config) ProjectsRoot() (string, error) {
	if root := c.GetString("projects.root"); root != "" {
		return root, nil
	}

	return paths.DefaultProjectsRoot()
}

// Engine returns the configured task engine name.
func (c *Config) Engine() string {
	return c.GetString("engine.kind")
}

// QuietPeriod returns the input-detection idle window.
func (c *Config) QuietPeriod() time.Duration {
	return positiveOr(c.GetDuration("engine.quiet_period"), DefaultQuietPeriod)
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}

	return fallback
}
