package session

import (
	"sync"

	"github.com/gpte-dev/gpte/internal/output"
)

// TextRenderer writes session progress as plain terminal output: status
// changes on their own line, build output streamed as it arrives.
type TextRenderer struct {
	out *output.Writer

	mu        sync.Mutex
	label     string
	accepting bool
	midLine   bool
}

// NewTextRenderer creates a TextRenderer writing through out.
func NewTextRenderer(out *output.Writer) *TextRenderer {
	return &TextRenderer{out: out}
}

// Render implements Renderer.
func (r *TextRenderer) Render(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.Reset {
		r.breakLine()
		r.out.Muted("(output restarted)")
	}

	if u.Delta != "" {
		_, _ = r.out.Write([]byte(u.Delta))
		r.midLine = u.Delta[len(u.Delta)-1] != '\n'
	}

	if u.Label != "" && u.Label != r.label {
		r.label = u.Label
		r.breakLine()
		r.status(u.Label)
	}

	if u.AcceptingInput && !r.accepting {
		r.breakLine()
		r.out.Info("Waiting for input: type an answer and press Enter (y/n to confirm)")
	}

	r.accepting = u.AcceptingInput
}

// Notice implements Renderer.
func (r *TextRenderer) Notice(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakLine()
	r.out.Warning("%s", r.out.Truncate(message))
}

func (r *TextRenderer) status(label string) {
	switch label {
	case LabelDone:
		r.out.Success("%s", label)
	case LabelFailed:
		r.out.Failure("%s", label)
	default:
		r.out.Info("%s", r.out.Truncate(label))
	}
}

func (r *TextRenderer) breakLine() {
	if r.midLine {
		r.out.Println()
		r.midLine = false
	}
}
