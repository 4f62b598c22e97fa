package engine

import (
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gpte-dev/gpte/internal/ansi"
	"github.com/gpte-dev/gpte/internal/proc"
)

const (
	// DefaultQuietPeriod is how long a task must stay silent before its
	// output is checked for a pending question.
	DefaultQuietPeriod = 400 * time.Millisecond

	// DefaultStopGrace is how long a stopped task may take to exit before it is killed.
	DefaultStopGrace = 5 * time.Second

	// exitDrain bounds how long output is still read after the process exits.
	// Grandchildren can keep the terminal open indefinitely.
	exitDrain = 250 * time.Millisecond

	readBufferSize = 4096
	eventBuffer    = 64
)

// processTask drives one child process attached to a terminal or pipes.
type processTask struct {
	cmd    *exec.Cmd
	group  *proc.Group
	output io.ReadCloser
	input  io.WriteCloser
	quiet  time.Duration
	grace  time.Duration
	logger *slog.Logger

	events   chan Event
	answered chan chan struct{}
	pumped   chan struct{}
	exited   chan struct{}
	waitErr  error

	writeMu     sync.Mutex
	stopped     atomic.Bool
	stopOnce    sync.Once
	closeOutput sync.Once
}

func newProcessTask(cmd *exec.Cmd, output io.ReadCloser, input io.WriteCloser, quiet, grace time.Duration, logger *slog.Logger) *processTask {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}

	if grace <= 0 {
		grace = DefaultStopGrace
	}

	t := &processTask{
		cmd:      cmd,
		group:    proc.NewGroup(cmd.Process),
		output:   output,
		input:    input,
		quiet:    quiet,
		grace:    grace,
		logger:   logger,
		events:   make(chan Event, eventBuffer),
		answered: make(chan chan struct{}),
		pumped:   make(chan struct{}),
		exited:   make(chan struct{}),
	}

	chunks := make(chan []byte, eventBuffer)

	go t.wait()
	go t.read(chunks)
	go t.pump(chunks)

	return t
}

func (t *processTask) Events() <-chan Event {
	return t.events
}

func (t *processTask) WriteInput(text string) error {
	select {
	case <-t.exited:
		return ErrTaskDone
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	// The pump forgets the answered question before the child can print the
	// next one, so a prompt that follows immediately is still detected.
	ack := make(chan struct{})
	select {
	case t.answered <- ack:
		<-ack
	case <-t.pumped:
		return ErrTaskDone
	}

	_, err := io.WriteString(t.input, text+"\n")

	return err
}

func (t *processTask) Stop() error {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)

		go proc.Stop(t.group, t.exited, t.grace)
	})

	return nil
}

func (t *processTask) wait() {
	t.waitErr = t.cmd.Wait()
	close(t.exited)
}

func (t *processTask) read(chunks chan<- []byte) {
	defer close(chunks)

	buf := make([]byte, readBufferSize)

	for {
		n, err := t.output.Read(buf)
		if n > 0 {
			chunks <- append([]byte(nil), buf[:n]...)
		}

		// EOF on pipes, EIO on a terminal whose other side closed.
		if err != nil {
			return
		}
	}
}

func (t *processTask) closeOutputOnce() {
	t.closeOutput.Do(func() {
		_ = t.output.Close()
	})
}

// pump turns raw output into ordered events. It is the only sender on t.events.
func (t *processTask) pump(chunks <-chan []byte) {
	defer close(t.events)
	defer close(t.pumped)

	var (
		stripper ansi.Stripper
		detector inputDetector
		waiting  bool
		exited   = t.exited
		drain    <-chan time.Time
	)

	quiet := time.NewTimer(t.quiet)
	quiet.Stop()

	defer quiet.Stop()

	setWaiting := func(v bool) {
		if waiting == v {
			return
		}

		waiting = v
		t.events <- Event{Kind: EventInputState, Waiting: v}
	}

	emit := func(text string) {
		if text == "" {
			return
		}

		setWaiting(false)
		detector.observe(text)
		t.events <- Event{Kind: EventOutput, Text: text}
		quiet.Reset(t.quiet)
	}

	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}

			emit(stripper.Write(chunk))
		case <-quiet.C:
			if detector.blocked() {
				setWaiting(true)
			}
		case ack := <-t.answered:
			setWaiting(false)
			detector.reset()
			quiet.Stop()
			close(ack)
		case <-exited:
			exited = nil
			drain = time.After(exitDrain)
		case <-drain:
			drain = nil

			t.closeOutputOnce()
		}
	}

	emit(stripper.Flush())
	setWaiting(false)

	<-t.exited
	t.closeOutputOnce()

	t.events <- t.exitEvent()
}

func (t *processTask) exitEvent() Event {
	code := -1
	if t.cmd.ProcessState != nil {
		code = t.cmd.ProcessState.ExitCode()
	}

	ev := Event{Kind: EventExit, ExitCode: code}

	switch {
	case t.stopped.Load():
		ev.Err = ErrStopped
	case code < 0 && t.waitErr != nil:
		ev.Err = t.waitErr
	}

	t.logger.Debug(
		"task exited",
		slog.String("component", "engine"),
		slog.String("event.type", "engine.task.exit"),
		slog.Int("engine.exit_code", code),
		slog.Bool("engine.stopped", t.stopped.Load()),
	)

	return ev
}
