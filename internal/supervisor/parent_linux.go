//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// terminateWithParent has the kernel signal the backend if this process dies
// without running its cleanup.
func terminateWithParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	cmd.SysProcAttr.Pdeathsig = syscall.SIGTERM
}
