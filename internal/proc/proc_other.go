//go:build !unix

package proc

import (
	"os"
	"os/exec"
)

// Isolate is a no-op on platforms without process groups.
func Isolate(*exec.Cmd) {}

func groupID(*os.Process) int { return 0 }

// Interrupts cannot be delivered to console processes here, so terminate kills.
func (g *Group) terminate() {
	_ = g.process.Kill()
}

func (g *Group) kill() {
	_ = g.process.Kill()
}
