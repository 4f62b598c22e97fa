package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios/demo.yaml
var demoScenario []byte

// errNotAsking is returned when a scripted task receives input it did not ask for.
var errNotAsking = errors.New("task is not waiting for input")

// Scenario is a scripted build.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scenario action. Exactly one of Output, Delay, Ask or Exit is set.
//
// Output, Ask and answers may reference {{prompt}}, {{project}},
// {{prompt_file}} and {{model}}.
type Step struct {
	Output string        `yaml:"output"`
	Delay  time.Duration `yaml:"delay"`

	// Ask prints a question and waits for an answer. Answers maps a
	// lower-cased answer to the text printed in response; "*" matches anything.
	Ask     string            `yaml:"ask"`
	Answers map[string]string `yaml:"answers"`

	Exit *int `yaml:"exit"`
}

// DemoScenario returns the built-in demo scenario.
func DemoScenario() *Scenario {
	s, err := ParseScenario(demoScenario)
	if err != nil {
		panic(fmt.Sprintf("embedded demo scenario: %v", err))
	}

	return s
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}

	return s, nil
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks that every step does exactly one thing.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("scenario has no steps")
	}

	for i, step := range s.Steps {
		actions := 0

		if step.Output != "" {
			actions++
		}

		if step.Delay != 0 {
			actions++
		}

		if step.Ask != "" {
			actions++
		}

		if step.Exit != nil {
			actions++
		}

		if actions != 1 {
			return fmt.Errorf("step %d: want exactly one of output, delay, ask, exit; got %d", i+1, actions)
		}

		if step.Delay < 0 {
			return fmt.Errorf("step %d: negative delay", i+1)
		}

		if step.Answers != nil && step.Ask == "" {
			return fmt.Errorf("step %d: answers without ask", i+1)
		}
	}

	return nil
}

// Script is an engine that plays a Scenario instead of running a program.
type Script struct {
	Scenario *Scenario
}

// Start begins playing the scenario for req.
func (s *Script) Start(ctx context.Context, req Request) (Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scenario := s.Scenario
	if scenario == nil {
		scenario = DemoScenario()
	}

	t := &scriptTask{
		steps: scenario.Steps,
		vars: strings.NewReplacer(
			"{{prompt}}", req.Prompt,
			"{{project}}", req.ProjectPath,
			"{{prompt_file}}", req.PromptFile,
			"{{model}}", req.Model,
		),
		events:  make(chan Event, eventBuffer),
		answers: make(chan string, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go t.run()

	return t, nil
}

type scriptTask struct {
	steps []Step
	vars  *strings.Replacer

	events   chan Event
	answers  chan string
	asking   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (t *scriptTask) Events() <-chan Event {
	return t.events
}

func (t *scriptTask) WriteInput(text string) error {
	select {
	case <-t.done:
		return ErrTaskDone
	default:
	}

	if !t.asking.Load() {
		return errNotAsking
	}

	select {
	case t.answers <- text:
		return nil
	default:
		return errNotAsking
	}
}

func (t *scriptTask) Stop() error {
	t.stopOnce.Do(func() { close(t.stop) })

	return nil
}

func (t *scriptTask) run() {
	defer close(t.events)
	defer close(t.done)

	for _, step := range t.steps {
		switch {
		case step.Output != "":
			t.output(step.Output)
		case step.Delay > 0:
			if !t.sleep(step.Delay) {
				t.stopped()
				return
			}
		case step.Ask != "":
			if !t.ask(step) {
				t.stopped()
				return
			}
		case step.Exit != nil:
			t.events <- Event{Kind: EventExit, ExitCode: *step.Exit}
			return
		}

		select {
		case <-t.stop:
			t.stopped()
			return
		default:
		}
	}

	t.events <- Event{Kind: EventExit}
}

func (t *scriptTask) output(text string) {
	t.events <- Event{Kind: EventOutput, Text: t.vars.Replace(text)}
}

func (t *scriptTask) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-t.stop:
		return false
	}
}

func (t *scriptTask) ask(step Step) bool {
	t.output(step.Ask)
	t.asking.Store(true)
	t.events <- Event{Kind: EventInputState, Waiting: true}

	var answer string

	select {
	case answer = <-t.answers:
	case <-t.stop:
		t.asking.Store(false)
		return false
	}

	t.asking.Store(false)
	t.events <- Event{Kind: EventInputState, Waiting: false}

	key := strings.ToLower(strings.TrimSpace(answer))

	reply, ok := step.Answers[key]
	if !ok {
		reply = step.Answers["*"]
	}

	if reply != "" {
		t.output(reply)
	}

	return true
}

func (t *scriptTask) stopped() {
	t.events <- Event{Kind: EventExit, ExitCode: -1, Err: ErrStopped}
}
