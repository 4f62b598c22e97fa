package jobs

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	r := NewRegistry()

	var (
		mu sync.Mutex
		n  int
	)

	r.newID = func() string {
		mu.Lock()
		defer mu.Unlock()

		n++

		return fmt.Sprintf("job-%d", n)
	}

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return base }

	return r
}

func mustCreate(t *testing.T, r *Registry) string {
	t.Helper()

	id, err := r.Create(Config{Prompt: "p", Mode: "generate", Provider: "openai", ProjectPath: "/tmp/p"}, PromptFileName)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	return id
}

func TestRegistry_CreateStartsPending(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	snap, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if snap.Status != StatusPending || snap.AcceptingInput || snap.ReturnCode != nil {
		t.Fatalf("snapshot = %+v, want fresh pending job", snap)
	}

	if snap.PromptFile != PromptFileName || snap.ProjectPath != "/tmp/p" {
		t.Fatalf("snapshot paths = %q %q", snap.ProjectPath, snap.PromptFile)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_CreateRetriesCollidingIDs(t *testing.T) {
	r := newTestRegistry()

	ids := []string{"same", "same", "other"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]

		return id
	}

	first := mustCreate(t, r)
	second := mustCreate(t, r)

	if first != "same" || second != "other" {
		t.Fatalf("ids = %q, %q; want same, other", first, second)
	}
}

func TestRegistry_ConcurrentCreateUniqueIDs(t *testing.T) {
	r := NewRegistry()

	const n = 64

	var wg sync.WaitGroup

	ids := make(chan string, n)

	for range n {
		wg.Go(func() {
			id, err := r.Create(Config{Prompt: "p"}, PromptFileName)
			if err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}

			ids <- id
		})
	}

	wg.Wait()
	close(ids)

	seen := make(map[string]bool)

	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}

		seen[id] = true
	}

	if len(seen) != n {
		t.Fatalf("created %d jobs, want %d", len(seen), n)
	}
}

func TestRegistry_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		wantErr error
	}{
		{"pending to running", []Status{StatusRunning}, nil},
		{"running to completed", []Status{StatusRunning, StatusCompleted}, nil},
		{"running to failed", []Status{StatusRunning, StatusFailed}, nil},
		{"pending to failed", []Status{StatusFailed}, nil},
		{"pending to completed", []Status{StatusCompleted}, ErrInvalidTransition},
		{"running to pending", []Status{StatusRunning, StatusPending}, ErrInvalidTransition},
		{"completed to failed", []Status{StatusRunning, StatusCompleted, StatusFailed}, ErrTerminal},
		{"failed to running", []Status{StatusFailed, StatusRunning}, ErrTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			id := mustCreate(t, r)

			var err error
			for _, status := range tt.path {
				if err = r.SetStatus(id, status); err != nil {
					break
				}
			}

			if tt.wantErr == nil && err != nil {
				t.Fatalf("SetStatus() error = %v", err)
			}

			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetStatus() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_AcceptingInputOnlyWhileRunning(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	if err := r.SetAcceptingInput(id, true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SetAcceptingInput(pending) error = %v, want ErrInvalidTransition", err)
	}

	_ = r.SetStatus(id, StatusRunning)

	if err := r.SetAcceptingInput(id, true); err != nil {
		t.Fatalf("SetAcceptingInput(running) error = %v", err)
	}

	if err := r.Finish(id, Outcome{Status: StatusCompleted}); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	snap, _ := r.Get(id)
	if snap.AcceptingInput {
		t.Fatal("accepting_input survived a terminal transition")
	}

	if err := r.SetAcceptingInput(id, true); !errors.Is(err, ErrTerminal) {
		t.Fatalf("SetAcceptingInput(completed) error = %v, want ErrTerminal", err)
	}
}

func TestRegistry_TerminalJobsAreFrozen(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	_ = r.SetStatus(id, StatusRunning)
	_ = r.AppendOutput(id, "building\n")

	if err := r.Finish(id, Outcome{Status: StatusFailed, ReturnCode: 2, Output: "boom\n", Error: "exit 2"}); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if err := r.AppendOutput(id, "late\n"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("AppendOutput() error = %v, want ErrTerminal", err)
	}

	if err := r.Finish(id, Outcome{Status: StatusCompleted}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("second Finish() error = %v, want ErrTerminal", err)
	}

	snap, _ := r.Get(id)
	if snap.Output != "building\nboom\n" {
		t.Errorf("output = %q", snap.Output)
	}

	if snap.ReturnCode == nil || *snap.ReturnCode != 2 || snap.Error != "exit 2" {
		t.Errorf("return code = %v, error = %q", snap.ReturnCode, snap.Error)
	}

	if snap.FinishedAt == nil || snap.StartedAt == nil {
		t.Errorf("timestamps not recorded: %+v", snap)
	}
}

func TestRegistry_FinishRequiresTerminalStatus(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	if err := r.Finish(id, Outcome{Status: StatusRunning}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Finish(running) error = %v, want ErrInvalidTransition", err)
	}
}

func TestRegistry_OfferInputAtMostOnce(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	if err := r.OfferInput(id, "y"); !errors.Is(err, ErrNotAcceptingInput) {
		t.Fatalf("OfferInput(pending) error = %v, want ErrNotAcceptingInput", err)
	}

	_ = r.SetStatus(id, StatusRunning)
	_ = r.AppendOutput(id, "Proceed? (y/n) ")
	_ = r.SetAcceptingInput(id, true)

	before, _ := r.Get(id)

	if err := r.OfferInput(id, "y"); err != nil {
		t.Fatalf("OfferInput() error = %v", err)
	}

	if err := r.OfferInput(id, "y"); !errors.Is(err, ErrNotAcceptingInput) {
		t.Fatalf("duplicate OfferInput() error = %v, want ErrNotAcceptingInput", err)
	}

	snap, _ := r.Get(id)
	if snap.AcceptingInput {
		t.Error("accepting_input still true after an answer")
	}

	if !strings.HasPrefix(snap.Output, before.Output) || !strings.HasSuffix(snap.Output, "\n[web input] y\n") {
		t.Errorf("output = %q, want echo appended", snap.Output)
	}

	if snap.PendingInput != 1 {
		t.Errorf("pending input = %d, want 1", snap.PendingInput)
	}

	text, ok := r.TakeInput(id)
	if !ok || text != "y" {
		t.Fatalf("TakeInput() = %q, %v", text, ok)
	}

	if _, ok := r.TakeInput(id); ok {
		t.Fatal("TakeInput() returned an answer twice")
	}
}

func TestRegistry_RejectedInputLeavesJobUnchanged(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	_ = r.SetStatus(id, StatusRunning)
	_ = r.AppendOutput(id, "working\n")

	before, _ := r.Get(id)

	if err := r.OfferInput(id, "y"); !errors.Is(err, ErrNotAcceptingInput) {
		t.Fatalf("OfferInput() error = %v, want ErrNotAcceptingInput", err)
	}

	after, _ := r.Get(id)
	if after.Output != before.Output || after.PendingInput != before.PendingInput || after.Status != before.Status {
		t.Fatalf("job changed by rejected input: before %+v, after %+v", before, after)
	}
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := newTestRegistry()
	id := mustCreate(t, r)

	_ = r.SetStatus(id, StatusRunning)
	_ = r.Finish(id, Outcome{Status: StatusFailed, ReturnCode: 1})

	snap, _ := r.Get(id)
	*snap.ReturnCode = 99

	again, _ := r.Get(id)
	if *again.ReturnCode != 1 {
		t.Fatalf("return code = %d, snapshot mutation leaked into registry", *again.ReturnCode)
	}
}

func TestRegistry_ListAndActive(t *testing.T) {
	r := newTestRegistry()
	first := mustCreate(t, r)
	second := mustCreate(t, r)

	_ = r.SetStatus(first, StatusFailed)

	list := r.List()
	if len(list) != 2 || list[0].ID != first || list[1].ID != second {
		t.Fatalf("List() = %+v", list)
	}

	active, ok := r.Active()
	if !ok || active.ID != second {
		t.Fatalf("Active() = %v, %v; want %s", active.ID, ok, second)
	}
}
