// Package errors provides structured CLI error types for gpte.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0  // Successful execution
	ExitGeneral   = 1  // General error
	ExitAuth      = 2  // Credential error
	ExitNetwork   = 3  // Network/API error
	ExitConfig    = 4  // Configuration error
	ExitTimeout   = 5  // Startup or execution timeout
	ExitExecution = 6  // Job failure
	ExitStartup   = 7  // Backend could not be launched or is unhealthy
	ExitUsage     = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// CannotPrompt returns an error when interactive prompts are unavailable.
func CannotPrompt(envVar string) *CLIError {
	return &CLIError{
		Message: "Cannot prompt in non-interactive mode",
		Hint:    fmt.Sprintf("Set %s environment variable instead", envVar),
		Code:    ExitUsage,
	}
}

// APIKeyEmpty returns an error when the API key is empty.
func APIKeyEmpty() *CLIError {
	return &CLIError{
		Message: "API key cannot be empty",
		Hint:    "Enter a valid API key or set GPTE_API_KEY environment variable",
		Code:    ExitAuth,
	}
}

// SettingsIncomplete returns an error when saved settings cannot start a job.
func SettingsIncomplete(cause error) *CLIError {
	return &CLIError{
		Message: "Settings are incomplete",
		Hint:    "Run 'gpte settings setup' to choose a provider and credentials",
		Cause:   cause,
		Code:    ExitAuth,
	}
}

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your gpte config directory or run 'gpte doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// BackendLaunchFailed returns an error when the backend process cannot be started.
func BackendLaunchFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Failed to start the local backend",
		Hint:    "Check backend.mode and the backend executable path with 'gpte doctor'",
		Cause:   cause,
		Code:    ExitStartup,
	}
}

// BackendTimedOut returns an error when the backend never answered its health check.
func BackendTimedOut(cause error) *CLIError {
	return &CLIError{
		Message: "Timed out waiting for the local backend",
		Hint:    "Raise probe.max_attempts or probe.interval, or check whether the port is already in use",
		Cause:   cause,
		Code:    ExitTimeout,
	}
}

// BackendUnhealthy returns an error when the backend answered with a failing status.
func BackendUnhealthy(cause error) *CLIError {
	return &CLIError{
		Message: "Local backend is unhealthy",
		Hint:    "Another service may be bound to the configured port; see the backend log output above",
		Cause:   cause,
		Code:    ExitStartup,
	}
}

// BackendUnreachable returns an error when a running backend cannot be contacted.
func BackendUnreachable(url string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot reach backend at %s", url),
		Hint:    "Start it with 'gpte up' or pass --spawn to start one for this run",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// SubmissionFailed returns an error when a job could not be created.
func SubmissionFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Failed to start job",
		Hint:    "Check the prompt and provider settings, then try again",
		Cause:   cause,
		Code:    ExitExecution,
	}
}

// JobBusy returns an error when the backend is already running a job.
func JobBusy() *CLIError {
	return &CLIError{
		Message: "A job is already running",
		Hint:    "Wait for it to finish or cancel it with 'gpte job cancel <id>'",
		Code:    ExitGeneral,
	}
}

// PollFailed returns an error when status polling stops on a fetch failure.
func PollFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Failed to read status",
		Hint:    "The backend may have stopped; check it with 'gpte doctor'",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// JobFailed returns an error for a job that reached the failed state.
// It detects common provider error patterns in the output tail.
func JobFailed(returnCode int, outputTail string) *CLIError {
	msg := "Build failed"
	hint := ""

	switch {
	case containsAny(outputTail, "rate limit", "rate_limit", "429"):
		msg = "Model provider rate limit exceeded"
		hint = "Wait a moment and try again, or check your API usage limits"
	case containsAny(outputTail, "authentication", "unauthorized", "401", "invalid_api_key", "incorrect api key"):
		msg = "Model provider authentication failed"
		hint = "Check your API key with 'gpte settings show' or rerun 'gpte settings setup'"
	case containsAny(outputTail, "context length", "context_length", "max_tokens"):
		msg = "Model context length exceeded"
		hint = "Shorten the prompt or split it into smaller steps"
	case containsAny(outputTail, "connection", "network", "timeout"):
		msg = "Network error reaching the model provider"
		hint = "Check your network connection and provider base URL"
	case returnCode != 0:
		hint = fmt.Sprintf("The build process exited with code %d; see the output above", returnCode)
	default:
		hint = "Run with --log-level=debug for more details"
	}

	return &CLIError{
		Message: msg,
		Hint:    hint,
		Code:    ExitExecution,
	}
}

// JobNotFound returns an error for an unknown job.
func JobNotFound(jobID string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Job not found: %s", jobID),
		Hint:    "Job history is kept in memory only; the backend may have restarted",
		Code:    ExitGeneral,
	}
}

// InputRejected returns an error when a job is not waiting for input.
func InputRejected(jobID string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Job %s is not accepting input", jobID),
		Hint:    "Input is only accepted while the build is waiting on a question",
		Code:    ExitUsage,
	}
}

// InvalidChoice returns an error for a value outside an enumerated set.
func InvalidChoice(field, value string, supported []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid %s: %s", field, value),
		Hint:    fmt.Sprintf("Supported values: %s", strings.Join(supported, ", ")),
		Code:    ExitUsage,
	}
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
