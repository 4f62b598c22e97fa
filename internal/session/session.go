// Package session drives one build from the user's side: it submits the job,
// polls its status on a fixed interval and forwards interactive answers.
//
// A Session has no knowledge of how it is displayed. Each poll produces an
// Update that a Renderer turns into terminal output or a TUI frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gpte-dev/gpte/internal/client"
	"github.com/gpte-dev/gpte/internal/observability"
)

// DefaultPollInterval is the default time between status fetches.
const DefaultPollInterval = 1200 * time.Millisecond

// Status labels shown to the user.
const (
	LabelStarting = "Starting..."
	LabelBuilding = "Building..."
	LabelDone     = "Done!"
	LabelFailed   = "Failed"
)

var (
	// ErrSubmitInFlight is returned by Submit while another job is active.
	ErrSubmitInFlight = errors.New("a job is already in progress")

	// ErrBackendExited reports that the supervised backend died mid-poll.
	ErrBackendExited = errors.New("backend process exited")
)

// SubmissionError wraps a failed job submission.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit job: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PollError stops the poll loop. Last is the most recent snapshot, if any.
type PollError struct {
	JobID string
	Last  *client.Job
	Err   error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("failed to read status of job %s: %v", e.JobID, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// Backend is the part of the API client a Session needs.
type Backend interface {
	SubmitJob(ctx context.Context, req *client.RunRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*client.Job, error)
	SendInput(ctx context.Context, jobID, text string) error
}

// Update is what a single poll iteration has to show.
type Update struct {
	Label string
	Job   *client.Job

	// Delta is the output appended since the previous update. When Reset is
	// set the backend output no longer extends what was shown and Delta holds
	// the whole output.
	Delta string
	Reset bool

	// AcceptingInput controls the interactive affordance.
	AcceptingInput bool
}

// Renderer displays session progress.
type Renderer interface {
	Render(u Update)
	Notice(message string)
}

// Options configures a Session.
type Options struct {
	Interval time.Duration

	// Alive, when set, is closed once the supervised backend has exited.
	Alive <-chan struct{}

	Logger *slog.Logger
}

// Session is the client-side state of one build at a time.
type Session struct {
	backend  Backend
	renderer Renderer
	interval time.Duration
	alive    <-chan struct{}
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight bool
	jobID    string
	draft    string
	last     *client.Job
	shown    string
}

// New creates a Session.
func New(backend Backend, renderer Renderer, opts Options) *Session {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	return &Session{
		backend:  backend,
		renderer: renderer,
		interval: interval,
		alive:    opts.Alive,
		logger:   observability.Component(logger, "session"),
	}
}

// Submit starts a job. Only one submission or job may be in flight.
func (s *Session) Submit(ctx context.Context, req *client.RunRequest) (string, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return "", ErrSubmitInFlight
	}

	s.inFlight = true
	s.jobID = ""
	s.last = nil
	s.shown = ""
	s.mu.Unlock()

	s.renderer.Render(Update{Label: LabelStarting})

	id, err := s.backend.SubmitJob(ctx, req)
	if err != nil {
		s.release()
		return "", &SubmissionError{Err: err}
	}

	s.mu.Lock()
	s.jobID = id
	s.mu.Unlock()

	s.logger.Info("Job submitted", slog.String("event.type", "job.submitted"), slog.String("job.id", id))

	return id, nil
}

// Attach follows a job that was started elsewhere.
func (s *Session) Attach(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight && s.jobID != jobID {
		return ErrSubmitInFlight
	}

	s.inFlight = true
	s.jobID = jobID
	s.last = nil
	s.shown = ""

	return nil
}

// JobID returns the active job, or "" when idle.
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jobID
}

// Last returns the most recent snapshot.
func (s *Session) Last() *client.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

// SetDraft records text the user is composing.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Draft returns the text the user is composing.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.draft
}

// Poll fetches the job every interval until it reaches a terminal status and
// returns the final snapshot. Iterations run one after another.
func (s *Session) Poll(ctx context.Context, jobID string) (*client.Job, error) {
	if err := s.Attach(jobID); err != nil {
		return nil, err
	}
	defer s.release()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.Last(), ctx.Err()
		case <-ticker.C:
		}

		job, done, err := s.pollOnce(ctx, jobID)
		if err != nil {
			return job, err
		}

		if done {
			return job, nil
		}
	}
}

func (s *Session) pollOnce(ctx context.Context, jobID string) (*client.Job, bool, error) {
	if s.backendExited() {
		return s.failBackendExited(jobID)
	}

	job, err := s.backend.GetJob(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return s.Last(), true, ctx.Err()
		}

		if s.backendExited() {
			return s.failBackendExited(jobID)
		}

		last := s.Last()

		s.logger.Warn("Job poll failed",
			slog.String("event.type", "job.poll.failed"),
			slog.String("job.id", jobID),
			slog.String("error", err.Error()),
		)
		s.renderer.Render(Update{Label: "Failed to read status", Job: last})

		return last, true, &PollError{JobID: jobID, Last: last, Err: err}
	}

	s.apply(job)

	return job, job.IsTerminal(), nil
}

func (s *Session) backendExited() bool {
	if s.alive == nil {
		return false
	}

	select {
	case <-s.alive:
		return true
	default:
		return false
	}
}

func (s *Session) failBackendExited(jobID string) (*client.Job, bool, error) {
	last := s.Last()

	failed := &client.Job{ID: jobID, Status: client.StatusFailed, Error: ErrBackendExited.Error()}
	if last != nil {
		copied := *last
		copied.Status = client.StatusFailed
		copied.AcceptingInput = false
		copied.Error = ErrBackendExited.Error()
		failed = &copied
	}

	s.mu.Lock()
	s.last = failed
	s.mu.Unlock()

	s.renderer.Render(Update{Label: LabelFailed, Job: failed})

	return failed, true, &PollError{JobID: jobID, Last: failed, Err: ErrBackendExited}
}

// apply renders job against what has already been shown.
func (s *Session) apply(job *client.Job) {
	s.mu.Lock()
	shown := s.shown
	s.last = job
	s.shown = job.Output
	s.mu.Unlock()

	u := Update{
		Label:          Label(job.Status),
		Job:            job,
		AcceptingInput: job.AcceptingInput && !job.IsTerminal(),
	}

	if strings.HasPrefix(job.Output, shown) {
		u.Delta = job.Output[len(shown):]
	} else {
		s.logger.Warn("Job output was rewritten",
			slog.String("event.type", "job.output.reset"),
			slog.String("job.id", job.ID),
		)

		u.Delta = job.Output
		u.Reset = true
	}

	s.renderer.Render(u)
}

func (s *Session) release() {
	s.mu.Lock()
	s.inFlight = false
	s.jobID = ""
	s.mu.Unlock()
}

// SendInput forwards text to the active job. Without an active job it does
// nothing. A delivered answer clears the draft when the draft is that answer.
func (s *Session) SendInput(ctx context.Context, text string) error {
	jobID := s.JobID()
	if jobID == "" {
		return nil
	}

	if err := s.backend.SendInput(ctx, jobID, text); err != nil {
		if errors.Is(err, client.ErrNotAcceptingInput) {
			s.renderer.Notice("The build is not waiting for input right now.")
		}

		return err
	}

	s.mu.Lock()
	if s.draft == text {
		s.draft = ""
	}
	s.mu.Unlock()

	return nil
}

// SendYes answers a confirmation with "y".
func (s *Session) SendYes(ctx context.Context) error {
	return s.SendInput(ctx, "y")
}

// SendNo answers a confirmation with "n".
func (s *Session) SendNo(ctx context.Context) error {
	return s.SendInput(ctx, "n")
}

// Label maps a job status to the text shown to the user.
func Label(status string) string {
	switch status {
	case client.StatusPending:
		return LabelStarting
	case client.StatusRunning:
		return LabelBuilding
	case client.StatusCompleted:
		return LabelDone
	default:
		return LabelFailed
	}
}
