// Package doctor provides diagnostic checks for a gpte installation.
//
// This package implements a check framework that validates:
//   - Provider settings and where the API key comes from
//   - The gpt-engineer CLI or Python interpreter that runs builds
//   - The projects directory
//   - Whether a backend is already serving on the configured port
//   - The CLI build
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/gpte-dev/gpte/internal/auth"
	"github.com/gpte-dev/gpte/internal/buildinfo"
	"github.com/gpte-dev/gpte/internal/settings"
)

// MinPythonVersion is the oldest interpreter gpt-engineer supports.
const MinPythonVersion = ">= 3.10"

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Result holds the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Detail  string // Optional additional detail
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// SettingsLoader reads provider settings.
type SettingsLoader interface {
	Load() (*settings.Loaded, error)
}

// HealthChecker probes a running backend.
type HealthChecker interface {
	Health(ctx context.Context) error
	DefaultProject(ctx context.Context) (string, error)
	BaseURL() string
}

// CommandFunc runs a command and returns its combined output.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options are the inputs the default checks inspect.
type Options struct {
	Settings      SettingsLoader
	Backend       HealthChecker
	Python        string
	CLIExecutable string
	ProjectsRoot  string

	// Exec defaults to running the command with os/exec.
	Exec CommandFunc
}

// New creates a diagnostic runner with the default checks.
func New(opts Options) *Runner {
	if opts.Exec == nil {
		opts.Exec = runCommand
	}

	r := &Runner{}

	r.AddCheck("Settings", func(context.Context) Result { return checkSettings(opts.Settings) })
	r.AddCheck("gpt-engineer", func(ctx context.Context) Result { return checkEngine(ctx, opts) })
	r.AddCheck("Projects", func(context.Context) Result { return checkProjectsRoot(opts.ProjectsRoot) })
	r.AddCheck("Backend", func(ctx context.Context) Result { return checkBackend(ctx, opts.Backend, opts.ProjectsRoot) })
	r.AddCheck("CLI Version", func(context.Context) Result { return checkCLIVersion() })

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// checkSettings validates the stored provider settings.
func checkSettings(loader SettingsLoader) Result {
	if loader == nil {
		return Result{Status: StatusWarn, Message: "Not checked"}
	}

	loaded, err := loader.Load()
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: "Could not read settings",
			Detail:  err.Error(),
		}
	}

	if !loaded.Exists {
		return Result{
			Status:  StatusFail,
			Message: "Not configured",
			Detail:  "Run 'gpte settings setup' to choose a provider",
		}
	}

	if err := loaded.Validate(); err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s settings incomplete", loaded.Provider.Label()),
			Detail:  err.Error(),
		}
	}

	msg := loaded.Provider.Label()
	if loaded.KeySource != auth.SourceNone {
		msg += fmt.Sprintf(" (key via %s)", loaded.KeySource)
	}

	if loaded.Model != "" {
		msg += ", model " + loaded.Model
	}

	return Result{Status: StatusPass, Message: msg}
}

// checkEngine verifies something can run gpt-engineer.
func checkEngine(ctx context.Context, opts Options) Result {
	if opts.CLIExecutable != "" {
		info, err := os.Stat(opts.CLIExecutable)
		if err != nil || info.IsDir() {
			return Result{
				Status:  StatusFail,
				Message: "Bundled CLI not found",
				Detail:  opts.CLIExecutable,
			}
		}

		return Result{Status: StatusPass, Message: "Bundled CLI at " + opts.CLIExecutable}
	}

	python := opts.Python
	if python == "" {
		python = "python"
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := opts.Exec(checkCtx, python, "--version")
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found", python),
			Detail:  "Install Python 3.10+ or set PYTHON_EXECUTABLE",
		}
	}

	version, err := ParsePythonVersion(string(out))
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s found but version unknown", python),
			Detail:  strings.TrimSpace(string(out)),
		}
	}

	ok, err := SupportedPython(version)
	if err != nil {
		return Result{Status: StatusWarn, Message: "Python " + version.String(), Detail: err.Error()}
	}

	if !ok {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("Python %s is too old", version),
			Detail:  "gpt-engineer needs Python " + MinPythonVersion,
		}
	}

	if _, err := opts.Exec(checkCtx, python, "-c", "import gpt_engineer"); err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("Python %s, gpt_engineer not installed", version),
			Detail:  "Run 'pip install gpt-engineer'",
		}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("Python %s with gpt_engineer", version)}
}

var pythonVersionPattern = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// ParsePythonVersion extracts the version from `python --version` output.
func ParsePythonVersion(out string) (*semver.Version, error) {
	match := pythonVersionPattern.FindString(out)
	if match == "" {
		return nil, fmt.Errorf("no version in %q", strings.TrimSpace(out))
	}

	return semver.NewVersion(match)
}

// SupportedPython reports whether v satisfies MinPythonVersion.
func SupportedPython(v *semver.Version) (bool, error) {
	constraint, err := semver.NewConstraint(MinPythonVersion)
	if err != nil {
		return false, err
	}

	return constraint.Check(v), nil
}

// checkProjectsRoot verifies generated projects can be written.
func checkProjectsRoot(root string) Result {
	if root == "" {
		return Result{Status: StatusWarn, Message: "Not configured"}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return Result{Status: StatusFail, Message: root, Detail: err.Error()}
	}

	probe, err := os.CreateTemp(root, ".gpte-doctor-*")
	if err != nil {
		return Result{Status: StatusFail, Message: root + " is not writable", Detail: err.Error()}
	}

	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	return Result{Status: StatusPass, Message: filepath.Clean(root)}
}

// checkBackend reports whether a backend is serving. Not running is fine;
// 'gpte up' and 'gpte run --spawn' start one. A running backend whose projects
// root differs from the configured one is a warning.
func checkBackend(ctx context.Context, backend HealthChecker, projectsRoot string) Result {
	if backend == nil {
		return Result{Status: StatusWarn, Message: "Not checked"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()

	if err := backend.Health(checkCtx); err != nil {
		detail := "Start one with 'gpte up'"
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "Health check timed out"
		}

		return Result{
			Status:  StatusWarn,
			Message: backend.BaseURL() + " not running",
			Detail:  detail,
		}
	}

	message := fmt.Sprintf("%s (%dms)", backend.BaseURL(), time.Since(start).Milliseconds())

	root, err := backend.DefaultProject(checkCtx)
	if err != nil {
		return Result{Status: StatusWarn, Message: message, Detail: "Default project lookup failed: " + err.Error()}
	}

	if projectsRoot != "" && filepath.Clean(root) != filepath.Clean(projectsRoot) {
		return Result{
			Status:  StatusWarn,
			Message: message,
			Detail:  fmt.Sprintf("Backend creates projects under %s, not %s", root, projectsRoot),
		}
	}

	return Result{Status: StatusPass, Message: message}
}

// checkCLIVersion reports the running build.
func checkCLIVersion() Result {
	if buildinfo.Version == "dev" {
		return Result{
			Status:  StatusWarn,
			Message: "Development build",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("v%s (%s)", buildinfo.Version, buildinfo.Commit),
	}
}

// RenderResults formats diagnostic results to the given output writer.
func RenderResults(results []Result, printFn, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	maxNameLen := 0
	for _, r := range results {
		if len(r.Name) > maxNameLen {
			maxNameLen = len(r.Name)
		}
	}

	for _, r := range results {
		padding := maxNameLen - len(r.Name) + 4

		switch r.Status {
		case StatusPass:
			successFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusWarn:
			warningFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusFail:
			failureFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		default:
			printFn("%s %-*s%s\n", r.Status.Symbol(), len(r.Name)+padding, r.Name, r.Message)
		}

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

// String returns the status name used in JSON output.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

const (
	checkMark   = "\u2713" // ✓
	xMark       = "\u2717" // ✗
	warningMark = "\u26A0" // ⚠
)
