// Package jobs tracks build jobs and drives them through their lifecycle.
//
// The Registry is the single source of truth for job state. The Runner is its
// only writer: it starts tasks through an engine, applies their events in
// order and forwards interactive answers. Readers only ever see deep-copied
// snapshots.
package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/gpte-dev/gpte/internal/provider"
)

// PromptFileName is the file the prompt is written to inside the project.
const PromptFileName = "prompt.web"

// Status is the lifecycle state of a job.
type Status string

// Job statuses. Completed and failed are terminal.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further change is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canMove reports whether from → to is an edge of the lifecycle.
func canMove(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Mode selects between creating a project and improving an existing one.
type Mode string

// Build modes.
const (
	ModeGenerate Mode = "generate"
	ModeImprove  Mode = "improve"
)

// ValidationError is a submission rejected before any job was created.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Config is a build submission.
type Config struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	Provider    string `json:"provider,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	Mode        string `json:"mode,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
}

// Normalize trims every field, lower-cases the enumerations and fills in the
// generate mode and openai provider defaults.
func (c Config) Normalize() Config {
	c.Prompt = strings.TrimSpace(c.Prompt)
	c.Model = strings.TrimSpace(c.Model)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.ProjectPath = strings.TrimSpace(c.ProjectPath)

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = string(ModeGenerate)
	}

	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = string(provider.OpenAI)
	}

	return c
}

// Validate checks a normalized config. Errors are *ValidationError.
func (c Config) Validate() error {
	if c.Prompt == "" {
		return invalid("prompt is required")
	}

	if Mode(c.Mode) != ModeGenerate && Mode(c.Mode) != ModeImprove {
		return invalid("mode must be generate or improve")
	}

	p := provider.Provider(c.Provider)
	if !p.Valid() {
		return invalid("provider must be openai, openrouter, or private_server")
	}

	if err := p.CheckCredentials(c.APIKey, c.BaseURL); err != nil {
		return invalid("%s", err.Error())
	}

	return nil
}

// Outcome is how a job ends.
type Outcome struct {
	Status     Status
	ReturnCode int
	// Output is appended as the final chunk when non-empty.
	Output string
	Error  string
}

// Snapshot is a point-in-time copy of a job. It never carries credentials.
type Snapshot struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	ReturnCode     *int       `json:"return_code"`
	ProjectPath    string     `json:"project_path"`
	PromptFile     string     `json:"prompt_file"`
	Model          string     `json:"model,omitempty"`
	Mode           string     `json:"mode"`
	Provider       string     `json:"provider"`
	AcceptingInput bool       `json:"accepting_input"`
	PendingInput   int        `json:"pending_input"`
	Output         string     `json:"output"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
