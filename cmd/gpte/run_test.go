package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/gpte-dev/gpte/internal/engine"
	clierrors "github.com/gpte-dev/gpte/internal/errors"
	"github.com/gpte-dev/gpte/internal/jobs"
	"github.com/gpte-dev/gpte/internal/observability"
	"github.com/gpte-dev/gpte/internal/server"
)

// startScriptBackend serves a backend playing scenario and points the CLI
// configuration at it.
func startScriptBackend(t *testing.T, scenario string) *jobs.Runner {
	t.Helper()

	parsed, err := engine.ParseScenario([]byte(scenario))
	require.NoError(t, err)

	projects := t.TempDir()
	runner := jobs.NewRunner(jobs.NewRegistry(), &engine.Script{Scenario: parsed}, jobs.RunnerOptions{
		ProjectsRoot: projects,
		Logger:       observability.Discard(),
	})

	var lc net.ListenConfig

	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	srv := server.New(runner, server.Options{
		Host:         host,
		Port:         portNum,
		ProjectsRoot: projects,
		Logger:       observability.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("GPTE_SERVER_HOST", host)
	t.Setenv("GPTE_SERVER_PORT", port)
	t.Setenv("GPTE_CLIENT_POLL_INTERVAL", "20ms")
	t.Setenv("GPTE_API_KEY", "sk-test")
	t.Setenv("GPTE_LOG_STDERR", "off")

	return runner
}

func executeRoot(t *testing.T, args ...string) error {
	t.Helper()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(""))

	return root.Execute()
}

func TestRun_CompletesAgainstRunningBackend(t *testing.T) {
	runner := startScriptBackend(t, `
name: quick
steps:
  - output: "Generating main.py\n"
  - exit: 0
`)

	err := executeRoot(t, "run", "--no-input", "--quiet", "a tiny script")
	require.NoError(t, err)

	list := runner.Registry().List()
	require.Len(t, list, 1)
	assert.Equal(t, jobs.StatusCompleted, list[0].Status)
	assert.Equal(t, "Generating main.py\n", list[0].Output)

	prompt, err := os.ReadFile(filepath.Join(list[0].ProjectPath, list[0].PromptFile))
	require.NoError(t, err)
	assert.Equal(t, "a tiny script", string(prompt))
}

func TestRun_FailedJobMapsToExecutionError(t *testing.T) {
	startScriptBackend(t, `
name: broken
steps:
  - output: "Error: rate limit reached for requests\n"
  - exit: 3
`)

	err := executeRoot(t, "run", "--no-input", "--quiet", "anything")
	require.Error(t, err)

	var cliErr *clierrors.CLIError
	require.True(t, clierrors.As(err, &cliErr), "want CLIError, got %T", err)
	assert.Equal(t, clierrors.ExitExecution, cliErr.Code)
	assert.Equal(t, "Model provider rate limit exceeded", cliErr.Message)
}

func TestRun_RequiresBackendWithoutSpawn(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("GPTE_API_KEY", "sk-test")
	t.Setenv("GPTE_LOG_STDERR", "off")
	t.Setenv("GPTE_SERVER_PORT", strconv.Itoa(unusedPort(t)))

	err := executeRoot(t, "run", "--no-input", "--quiet", "anything")

	var cliErr *clierrors.CLIError
	require.True(t, clierrors.As(err, &cliErr), "want CLIError, got %T: %v", err, err)
	assert.Equal(t, clierrors.ExitNetwork, cliErr.Code)
	assert.Contains(t, cliErr.Message, "Cannot reach backend")
}

func TestRun_IncompleteSettings(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("GPTE_LOG_STDERR", "off")
	t.Setenv("GPTE_API_KEY", "")
	keyring.MockInit()

	settingsDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "gpte")
	require.NoError(t, os.MkdirAll(settingsDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(settingsDir, "settings.toml"), []byte("provider = \"private_server\"\n"), 0o600))

	err := executeRoot(t, "run", "--no-input", "anything")

	var cliErr *clierrors.CLIError
	require.True(t, clierrors.As(err, &cliErr), "want CLIError, got %T: %v", err, err)
	assert.Equal(t, clierrors.ExitAuth, cliErr.Code)
	assert.Contains(t, cliErr.Cause.Error(), "server URL")
}

func TestReadPrompt(t *testing.T) {
	file := filepath.Join(t.TempDir(), "prompt.md")
	require.NoError(t, os.WriteFile(file, []byte("build a clock\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		file    string
		want    string
		wantErr string
	}{
		{name: "argument", args: []string{"a game"}, want: "a game"},
		{name: "file", file: file, want: "build a clock\n"},
		{name: "both", args: []string{"x"}, file: file, wantErr: "not both"},
		{name: "blank", args: []string{"  "}, wantErr: "Prompt cannot be empty"},
		{name: "missing", wantErr: "Prompt cannot be empty"},
		{name: "unreadable", file: filepath.Join(t.TempDir(), "nope.md"), wantErr: "Cannot read prompt file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(tt.args, tt.file)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func unusedPort(t *testing.T) int {
	t.Helper()

	var lc net.ListenConfig

	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}
