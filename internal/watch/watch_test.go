package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gpte-dev/gpte/internal/client"
	"github.com/gpte-dev/gpte/internal/session"
)

type fakeBackend struct {
	mu     sync.Mutex
	inputs []string
	err    error
}

func (f *fakeBackend) SubmitJob(context.Context, *client.RunRequest) (string, error) {
	return "job-1", nil
}

func (f *fakeBackend) GetJob(_ context.Context, id string) (*client.Job, error) {
	return &client.Job{ID: id, Status: client.StatusRunning}, nil
}

func (f *fakeBackend) SendInput(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.inputs = append(f.inputs, text)

	return nil
}

func newTestModel(t *testing.T, backend *fakeBackend) Model {
	t.Helper()

	r := NewRenderer()
	s := session.New(backend, r, session.Options{})

	if err := s.Attach("job-1"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	m := NewModel(context.Background(), s, r, "job-1")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	return updated.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()

	updated, cmd := m.Update(msg)

	return updated.(Model), cmd
}

func TestModel_RendersOutputAndStatus(t *testing.T) {
	m := newTestModel(t, &fakeBackend{})

	m, _ = update(t, m, updateMsg(session.Update{Label: session.LabelBuilding, Delta: "Generating code\n"}))

	view := m.View()
	if !strings.Contains(view, "Generating code") {
		t.Errorf("View() missing output:\n%s", view)
	}

	if !strings.Contains(view, session.LabelBuilding) {
		t.Errorf("View() missing status label:\n%s", view)
	}

	if strings.Contains(view, "ctrl+y") {
		t.Error("View() shows input help while not accepting input")
	}

	m, _ = update(t, m, updateMsg(session.Update{Label: session.LabelBuilding, Delta: "replaced", Reset: true}))
	if m.output != "replaced" {
		t.Errorf("output = %q, want reset content", m.output)
	}
}

func TestModel_SendsTypedAnswer(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestModel(t, backend)

	m, _ = update(t, m, updateMsg(session.Update{Label: session.LabelBuilding, Delta: "Name? ", AcceptingInput: true}))

	if !strings.Contains(m.View(), "ctrl+y") {
		t.Fatal("View() should show input help while accepting input")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("snake")})
	if m.session.Draft() != "snake" {
		t.Fatalf("Draft() = %q, want snake", m.session.Draft())
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Enter produced no command")
	}

	msg := cmd()

	sent, ok := msg.(inputSentMsg)
	if !ok || sent.err != nil || sent.text != "snake" {
		t.Fatalf("command message = %#v", msg)
	}

	m, _ = update(t, m, sent)
	if m.input.Value() != "" {
		t.Errorf("input = %q, want cleared after delivery", m.input.Value())
	}

	if strings.Join(backend.inputs, ",") != "snake" {
		t.Errorf("inputs = %v", backend.inputs)
	}
}

func TestModel_ShortcutsOnlyWhileAccepting(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestModel(t, backend)

	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY}); cmd != nil {
		t.Fatal("ctrl+y produced a command while not accepting input")
	}

	m, _ = update(t, m, updateMsg(session.Update{Label: session.LabelBuilding, AcceptingInput: true}))

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	if cmd == nil {
		t.Fatal("ctrl+n produced no command while accepting input")
	}

	if sent := cmd().(inputSentMsg); sent.text != "n" {
		t.Errorf("sent %q, want n", sent.text)
	}
}

func TestModel_InputFailureShowsNotice(t *testing.T) {
	m := newTestModel(t, &fakeBackend{})

	m, _ = update(t, m, inputSentMsg{text: "y", err: errors.New("boom")})
	if !strings.Contains(m.View(), "Failed to send input: boom") {
		t.Errorf("View() missing notice:\n%s", m.View())
	}
}

func TestModel_FinishedAllowsQuit(t *testing.T) {
	m := newTestModel(t, &fakeBackend{})

	job := &client.Job{ID: "job-1", Status: client.StatusCompleted}
	m, _ = update(t, m, updateMsg(session.Update{Label: session.LabelDone, Job: job}))
	m, _ = update(t, m, pollDoneMsg{job: job})

	if !strings.Contains(m.View(), "q quit") {
		t.Errorf("View() missing quit help:\n%s", m.View())
	}

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q produced no command")
	}

	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit once the job finished")
	}
}

func TestRenderer_DropsAfterClose(t *testing.T) {
	r := NewRenderer()
	r.close()

	for range updateBuffer + 1 {
		r.Render(session.Update{Delta: "x"})
	}

	r.close()
}
