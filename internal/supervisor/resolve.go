// Package supervisor launches the backend process and owns its lifetime.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Mode selects how the backend executable is located.
type Mode string

// Deployment modes.
const (
	// ModeSelf runs this binary's own `serve` command.
	ModeSelf Mode = "self"
	// ModePackaged runs the bundled backend from an application resources directory.
	ModePackaged Mode = "packaged"
	// ModeDevelopment runs the Python web server from a source checkout.
	ModeDevelopment Mode = "development"
)

// Modes returns every supported mode.
func Modes() []string {
	return []string{string(ModeSelf), string(ModePackaged), string(ModeDevelopment)}
}

const (
	backendName = "gpte-web-backend"
	cliName     = "gpte-cli"

	// CLIExecutableEnv names the gpt-engineer CLI the backend should run.
	CLIExecutableEnv = "GPTE_CLI_EXECUTABLE"
)

// Options describe where the backend lives and where it should listen.
type Options struct {
	Mode Mode
	Host string
	Port int

	// ResourcesDir is the application resources directory (packaged mode).
	ResourcesDir string
	// AppDir is the root of a gpt-engineer checkout (development mode).
	AppDir string
	// Python is the interpreter used in development mode.
	Python string

	// Executable and ExtraArgs apply to self mode. Executable defaults to
	// the running binary.
	Executable string
	ExtraArgs  []string

	// GOOS overrides the target platform for executable names.
	GOOS string
}

// Command is a resolved backend invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env holds KEY=VALUE overrides applied on top of the parent environment.
	Env []string
}

// Resolve builds the backend command for opts.
func Resolve(opts Options) (Command, error) {
	if opts.Host == "" || opts.Port <= 0 {
		return Command{}, fmt.Errorf("backend address %s:%d is incomplete", opts.Host, opts.Port)
	}

	listen := []string{"--host", opts.Host, "--port", strconv.Itoa(opts.Port)}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	switch opts.Mode {
	case ModeSelf, "":
		exe := opts.Executable
		if exe == "" {
			self, err := os.Executable()
			if err != nil {
				return Command{}, fmt.Errorf("locate gpte executable: %w", err)
			}

			exe = self
		}

		args := append([]string{"serve"}, listen...)

		return Command{Path: exe, Args: append(args, opts.ExtraArgs...)}, nil

	case ModePackaged:
		if opts.ResourcesDir == "" {
			return Command{}, errors.New("packaged mode needs backend.resources_dir")
		}

		backendDir := filepath.Join(opts.ResourcesDir, "backend")

		return Command{
			Path: filepath.Join(backendDir, exeName(backendName, goos)),
			Args: listen,
			Env:  []string{CLIExecutableEnv + "=" + filepath.Join(backendDir, exeName(cliName, goos))},
		}, nil

	case ModeDevelopment:
		if opts.AppDir == "" {
			return Command{}, errors.New("development mode needs backend.app_dir")
		}

		python := opts.Python
		if python == "" {
			python = "python"
		}

		script := filepath.Join(opts.AppDir, "gpt_engineer", "applications", "web_local", "server.py")
		cmd := Command{
			Path: python,
			Args: append([]string{script}, listen...),
			Dir:  opts.AppDir,
		}

		// A CLI built next to the desktop shell is used only when present.
		cli := filepath.Join(opts.AppDir, "electron", "backend", "dist", exeName(cliName, goos))
		if info, err := os.Stat(cli); err == nil && !info.IsDir() {
			cmd.Env = []string{CLIExecutableEnv + "=" + cli}
		}

		return cmd, nil

	default:
		return Command{}, fmt.Errorf("unknown backend mode %q", opts.Mode)
	}
}

func exeName(name, goos string) string {
	if goos == "windows" {
		return name + ".exe"
	}

	return name
}
