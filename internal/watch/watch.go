// Package watch is the full-screen terminal view of a build. It renders the
// updates of a session.Session and turns keystrokes into interactive answers.
package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gpte-dev/gpte/internal/client"
	"github.com/gpte-dev/gpte/internal/session"
)

const updateBuffer = 64

type updateMsg session.Update

type noticeMsg string

type pollDoneMsg struct {
	job *client.Job
	err error
}

type inputSentMsg struct {
	text string
	err  error
}

// Renderer forwards session updates to the view. It implements
// session.Renderer and may be used before the view starts.
type Renderer struct {
	ch   chan tea.Msg
	done chan struct{}
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		ch:   make(chan tea.Msg, updateBuffer),
		done: make(chan struct{}),
	}
}

// Render implements session.Renderer.
func (r *Renderer) Render(u session.Update) {
	r.send(updateMsg(u))
}

// Notice implements session.Renderer.
func (r *Renderer) Notice(message string) {
	r.send(noticeMsg(message))
}

func (r *Renderer) send(msg tea.Msg) {
	select {
	case r.ch <- msg:
	case <-r.done:
	}
}

func (r *Renderer) close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func listen(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// Model is the bubbletea model of the build view.
type Model struct {
	ctx      context.Context
	session  *session.Session
	renderer *Renderer
	jobID    string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	label     string
	output    string
	accepting bool
	notice    string
	ready     bool
	width     int
	height    int

	finished bool
	final    *client.Job
	err      error
}

// NewModel creates the view for jobID.
func NewModel(ctx context.Context, s *session.Session, r *Renderer, jobID string) Model {
	in := textinput.New()
	in.Placeholder = "answer and press Enter"
	in.Prompt = "> "
	in.CharLimit = 4096
	in.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(buildingStyle))

	return Model{
		ctx:      ctx,
		session:  s,
		renderer: r,
		jobID:    jobID,
		viewport: viewport.New(80, 20),
		input:    in,
		spinner:  sp,
		label:    session.LabelStarting,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listen(m.renderer.ch),
		m.poll(),
		m.spinner.Tick,
		textinput.Blink,
	)
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		job, err := m.session.Poll(m.ctx, m.jobID)
		return pollDoneMsg{job: job, err: err}
	}
}

func (m Model) sendInput(text string) tea.Cmd {
	return func() tea.Msg {
		return inputSentMsg{text: text, err: m.session.SendInput(m.ctx, text)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()

	case updateMsg:
		m.apply(session.Update(msg))
		return m, listen(m.renderer.ch)

	case noticeMsg:
		m.notice = string(msg)
		return m, listen(m.renderer.ch)

	case inputSentMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Failed to send input: %v", msg.err)
		} else {
			m.notice = ""
			m.input.SetValue(m.session.Draft())
		}

	case pollDoneMsg:
		m.finished = true
		m.accepting = false
		m.final = msg.job
		m.err = msg.err

		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.notice = msg.err.Error()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyCtrlY:
		if m.accepting {
			return m, m.sendInput("y")
		}

		return m, nil
	case tea.KeyCtrlN:
		if m.accepting {
			return m, m.sendInput("n")
		}

		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if m.accepting && text != "" {
			return m, m.sendInput(text)
		}

		return m, nil
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)

		return m, cmd
	}

	if m.finished && msg.String() == "q" {
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.session.SetDraft(m.input.Value())

	return m, cmd
}

func (m *Model) apply(u session.Update) {
	if u.Label != "" {
		m.label = u.Label
	}

	if u.Reset {
		m.output = ""
	}

	if u.Delta != "" || u.Reset {
		atBottom := m.viewport.AtBottom()
		m.output += u.Delta
		m.viewport.SetContent(m.output)

		if atBottom {
			m.viewport.GotoBottom()
		}
	}

	m.accepting = u.AcceptingInput
}

func (m *Model) layout() {
	// title, status line, input box (3 rows) and help line
	chrome := 7

	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 3)
	m.input.Width = max(m.width-8, 10)
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("gpte build " + m.jobID))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.accepting {
		b.WriteString(inputStyle.Width(max(m.width-2, 10)).Render(m.input.View()))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString(mutedStyle.Render(m.help()))

	return b.String()
}

func (m Model) statusLine() string {
	switch m.label {
	case session.LabelDone:
		return doneStyle.Render(m.label)
	case session.LabelBuilding, session.LabelStarting:
		if m.finished {
			return buildingStyle.Render(m.label)
		}

		return lipgloss.JoinHorizontal(lipgloss.Top, m.spinner.View(), " ", buildingStyle.Render(m.label))
	default:
		return failedStyle.Render(m.label)
	}
}

func (m Model) help() string {
	switch {
	case m.finished:
		return "q quit"
	case m.accepting:
		return "enter send • ctrl+y yes • ctrl+n no • ↑/↓ scroll • esc quit"
	default:
		return "↑/↓ scroll • esc quit"
	}
}

// Result is how the view ended.
type Result struct {
	Job *client.Job
	Err error

	// Detached is set when the user left before the job finished.
	Detached bool
}

// Run shows the view until the user quits. The session must already own
// jobID, either through Submit or Attach.
func Run(ctx context.Context, s *session.Session, r *Renderer, jobID string) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.close()

	program := tea.NewProgram(
		NewModel(ctx, s, r, jobID),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	final, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return Result{}, fmt.Errorf("run build view: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return Result{Detached: true}, nil
	}

	if !m.finished {
		return Result{Job: s.Last(), Detached: true}, nil
	}

	return Result{Job: m.final, Err: m.err}, nil
}
