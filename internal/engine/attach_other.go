//go:build !unix

package engine

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// attach starts cmd with plain pipes. Output from stdout and stderr is merged.
func attach(cmd *exec.Cmd) (io.ReadCloser, io.WriteCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("open stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("open output pipe: %w", err)
	}

	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()

		return nil, nil, err
	}

	_ = outW.Close()

	return outR, stdin, nil
}
