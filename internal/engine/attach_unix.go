//go:build unix

package engine

import (
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

const (
	termRows = 40
	termCols = 120
)

// attach starts cmd on a new pseudo-terminal so that prompts which only
// appear on a TTY are still printed. Echo is disabled so answers written to
// the terminal are not reported back as output.
func attach(cmd *exec.Cmd) (io.ReadCloser, io.WriteCloser, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open pseudo-terminal: %w", err)
	}

	defer func() { _ = tty.Close() }()

	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: termRows, Cols: termCols}); err != nil {
		_ = ptmx.Close()
		return nil, nil, fmt.Errorf("size pseudo-terminal: %w", err)
	}

	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		_ = ptmx.Close()
		return nil, nil, fmt.Errorf("configure pseudo-terminal: %w", err)
	}

	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		_ = ptmx.Close()
		return nil, nil, err
	}

	return ptmx, ptmx, nil
}
