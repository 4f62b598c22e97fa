// Package engine runs code-generation tasks on behalf of the job runner.
//
// An Engine starts a Task for one build request. A Task reports what it is
// doing as an ordered stream of Events and accepts interactive answers while
// it is blocked on a question. The job runner never looks inside a task; it
// only consumes events and forwards input.
package engine

import (
	"context"
	"errors"

	"github.com/gpte-dev/gpte/internal/provider"
)

// ErrStopped is reported in the exit event of a task ended through Stop.
var ErrStopped = errors.New("task stopped")

// ErrTaskDone is returned when writing input to a task that has exited.
var ErrTaskDone = errors.New("task has exited")

// EventKind classifies task events.
type EventKind int

// Event kinds.
const (
	// EventOutput carries a chunk of cleaned task output.
	EventOutput EventKind = iota
	// EventInputState reports that the task started or stopped waiting for input.
	EventInputState
	// EventExit is always the final event of a task.
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventInputState:
		return "input_state"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is a single observation from a running task.
type Event struct {
	Kind EventKind

	// Text is set for EventOutput.
	Text string

	// Waiting is set for EventInputState.
	Waiting bool

	// ExitCode and Err are set for EventExit. Err is non-nil when the task
	// did not run to completion on its own.
	ExitCode int
	Err      error
}

// Request describes one build.
type Request struct {
	JobID       string
	Prompt      string
	PromptFile  string
	ProjectPath string
	Model       string
	Improve     bool
	Provider    provider.Provider
	APIKey      string
	BaseURL     string
}

// Task is a started build.
type Task interface {
	// Events delivers events in order. The channel is closed after EventExit.
	Events() <-chan Event

	// WriteInput sends one line of input to the task.
	WriteInput(text string) error

	// Stop asks the task to end. Safe to call more than once.
	Stop() error
}

// Engine starts tasks.
type Engine interface {
	Start(ctx context.Context, req Request) (Task, error)
}
