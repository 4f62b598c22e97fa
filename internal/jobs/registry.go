package jobs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry errors.
var (
	ErrNotFound          = errors.New("job not found")
	ErrTerminal          = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrNotAcceptingInput = errors.New("job is not accepting input")
)

// inputEcho is how an accepted answer is recorded in the job output.
const inputEcho = "\n[web input] %s\n"

type job struct {
	mu sync.Mutex

	id          string
	projectPath string
	promptFile  string
	model       string
	mode        string
	provider    string

	status         Status
	output         []string
	acceptingInput bool
	pending        []string
	returnCode     *int
	errMsg         string

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:             j.id,
		Status:         j.status,
		ProjectPath:    j.projectPath,
		PromptFile:     j.promptFile,
		Model:          j.model,
		Mode:           j.mode,
		Provider:       j.provider,
		AcceptingInput: j.acceptingInput,
		PendingInput:   len(j.pending),
		Output:         strings.Join(j.output, ""),
		Error:          j.errMsg,
		CreatedAt:      j.createdAt,
	}

	if j.returnCode != nil {
		code := *j.returnCode
		s.ReturnCode = &code
	}

	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}

	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}

	return s
}

// Registry stores jobs in memory for the life of the process.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job

	now   func() time.Time
	newID func() string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:  make(map[string]*job),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create inserts a pending job for cfg and returns its id. cfg.ProjectPath
// should already be resolved. The API key is not retained.
func (r *Registry) Create(cfg Config, promptFile string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for attempts := 1; r.jobs[id] != nil; attempts++ {
		if attempts >= 3 {
			return "", fmt.Errorf("allocate job id: collision on %q", id)
		}

		id = r.newID()
	}

	r.jobs[id] = &job{
		id:          id,
		projectPath: cfg.ProjectPath,
		promptFile:  promptFile,
		model:       cfg.Model,
		mode:        cfg.Mode,
		provider:    cfg.Provider,
		status:      StatusPending,
		createdAt:   r.now(),
	}

	return id, nil
}

func (r *Registry) lookup(id string) (*job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	return j, nil
}

// update runs fn under the job lock.
func (r *Registry) update(id string, fn func(*job) error) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return fn(j)
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Snapshot, error) {
	j, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.snapshot(), nil
}

// List returns snapshots of every job, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	all := make([]*job, 0, len(r.jobs))

	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))

	for _, j := range all {
		j.mu.Lock()
		out = append(out, j.snapshot())
		j.mu.Unlock()
	}

	slices.SortFunc(out, func(a, b Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out
}

// AppendOutput adds a chunk to the job output.
func (r *Registry) AppendOutput(id, chunk string) error {
	return r.update(id, func(j *job) error {
		if j.status.IsTerminal() {
			return ErrTerminal
		}

		if chunk != "" {
			j.output = append(j.output, chunk)
		}

		return nil
	})
}

// SetAcceptingInput records whether the running task is waiting for an answer.
func (r *Registry) SetAcceptingInput(id string, accepting bool) error {
	return r.update(id, func(j *job) error {
		if j.status.IsTerminal() {
			return ErrTerminal
		}

		if accepting && j.status != StatusRunning {
			return fmt.Errorf("%w: accepting input while %s", ErrInvalidTransition, j.status)
		}

		j.acceptingInput = accepting

		return nil
	})
}

// SetStatus moves the job along its lifecycle.
func (r *Registry) SetStatus(id string, status Status) error {
	return r.update(id, func(j *job) error {
		return r.transition(j, status)
	})
}

// Finish moves the job to a terminal status and records how it ended in one step.
func (r *Registry) Finish(id string, outcome Outcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("%w: finish with %s", ErrInvalidTransition, outcome.Status)
	}

	return r.update(id, func(j *job) error {
		if err := r.transition(j, outcome.Status); err != nil {
			return err
		}

		if outcome.Output != "" {
			j.output = append(j.output, outcome.Output)
		}

		code := outcome.ReturnCode
		j.returnCode = &code
		j.errMsg = outcome.Error

		return nil
	})
}

func (r *Registry) transition(j *job, to Status) error {
	if j.status.IsTerminal() {
		return ErrTerminal
	}

	if !canMove(j.status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, j.status, to)
	}

	j.status = to

	switch {
	case to == StatusRunning:
		j.startedAt = r.now()
	case to.IsTerminal():
		j.finishedAt = r.now()
		j.acceptingInput = false
		j.pending = nil
	}

	return nil
}

// OfferInput accepts an answer if the job is waiting for one. The answer is
// echoed into the output, queued for delivery and the job stops accepting
// input, so a repeated answer is rejected rather than delivered twice.
func (r *Registry) OfferInput(id, text string) error {
	return r.update(id, func(j *job) error {
		if j.status != StatusRunning || !j.acceptingInput {
			return ErrNotAcceptingInput
		}

		j.output = append(j.output, fmt.Sprintf(inputEcho, text))
		j.pending = append(j.pending, text)
		j.acceptingInput = false

		return nil
	})
}

// TakeInput removes and returns the oldest queued answer.
func (r *Registry) TakeInput(id string) (string, bool) {
	var (
		text string
		ok   bool
	)

	_ = r.update(id, func(j *job) error {
		if len(j.pending) == 0 {
			return nil
		}

		text, ok = j.pending[0], true
		j.pending = j.pending[1:]

		return nil
	})

	return text, ok
}

// Active returns the job that has not finished yet, if any.
func (r *Registry) Active() (Snapshot, bool) {
	for _, s := range r.List() {
		if !s.Status.IsTerminal() {
			return s, true
		}
	}

	return Snapshot{}, false
}
