// Package prompt provides interactive prompts for the gpte CLI.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/gpte-dev/gpte/internal/output"
)

// errCanceled is returned when input ends before an answer was given.
var errCanceled = errors.New("prompt canceled")

// IsCanceled reports whether err came from the user closing input.
func IsCanceled(err error) bool {
	return errors.Is(err, errCanceled)
}

// Prompter handles interactive prompts.
type Prompter struct {
	out    *output.Writer
	reader *bufio.Reader
	stdin  *os.File
}

// New creates a Prompter reading from stdin.
func New(out *output.Writer) *Prompter {
	return &Prompter{
		out:    out,
		reader: bufio.NewReader(os.Stdin),
		stdin:  os.Stdin,
	}
}

// NewWithReader creates a Prompter reading answers from r. Password input is
// read as a plain line.
func NewWithReader(out *output.Writer, r io.Reader) *Prompter {
	return &Prompter{
		out:    out,
		reader: bufio.NewReader(r),
	}
}

// CanPrompt returns true if interactive prompts are available.
func (p *Prompter) CanPrompt() bool {
	if p.out.NoInput {
		return false
	}

	if p.stdin == nil {
		return true
	}

	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(p.stdin.Fd()))
}

func (p *Prompter) readLine() (string, error) {
	input, err := p.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && input != "" {
			return strings.TrimSpace(input), nil
		}

		if errors.Is(err, io.EOF) {
			return "", errCanceled
		}

		return "", fmt.Errorf("failed to read input: %w", err)
	}

	return strings.TrimSpace(input), nil
}

// Confirm prompts for a yes/no confirmation.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	p.out.Print("%s [%s]: ", message, defaultStr)

	input, err := p.readLine()
	if err != nil {
		return defaultValue, err
	}

	input = strings.ToLower(input)
	if input == "" {
		return defaultValue, nil
	}

	return input == "y" || input == "yes", nil
}

// Text prompts for a line of text. An empty answer returns defaultValue.
func (p *Prompter) Text(message, placeholder, defaultValue string) (string, error) {
	switch {
	case defaultValue != "":
		p.out.Print("%s [%s]: ", message, defaultValue)
	case placeholder != "":
		p.out.Print("%s (e.g. %s): ", message, placeholder)
	default:
		p.out.Print("%s: ", message)
	}

	input, err := p.readLine()
	if err != nil {
		return "", err
	}

	if input == "" {
		return defaultValue, nil
	}

	return input, nil
}

// Password prompts for a secret without echoing it on a terminal.
func (p *Prompter) Password(prompt string) (string, error) {
	p.out.Print("%s: ", prompt)

	if p.stdin == nil || !term.IsTerminal(int(p.stdin.Fd())) {
		return p.readLine()
	}

	password, err := term.ReadPassword(int(p.stdin.Fd()))
	p.out.Println() // ReadPassword swallows the newline

	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return strings.TrimSpace(string(password)), nil
}

// Select prompts the user to pick one of options and returns its index.
// An empty answer selects defaultIndex when it is in range.
func (p *Prompter) Select(message string, options []string, defaultIndex int) (int, error) {
	p.out.Println(message)
	for i, opt := range options {
		p.out.Print("  [%d] %s\n", i+1, opt)
	}
	p.out.Println()

	for {
		if defaultIndex >= 0 && defaultIndex < len(options) {
			p.out.Print("Select [1-%d] (%d): ", len(options), defaultIndex+1)
		} else {
			p.out.Print("Select [1-%d]: ", len(options))
		}

		input, err := p.readLine()
		if err != nil {
			return -1, err
		}

		if input == "" {
			if defaultIndex >= 0 && defaultIndex < len(options) {
				return defaultIndex, nil
			}

			continue
		}

		num, err := strconv.Atoi(input)
		if err != nil || num < 1 || num > len(options) {
			p.out.Warning("Invalid selection. Please enter a number between 1 and %d", len(options))
			continue
		}

		return num - 1, nil
	}
}
