//go:build unix

package proc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Isolate makes cmd start in its own process group so the whole tree it
// spawns can be signalled at once.
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	cmd.SysProcAttr.Setpgid = true
}

func groupID(p *os.Process) int {
	if p == nil || p.Pid <= 0 {
		return 0
	}

	pgid, err := unix.Getpgid(p.Pid)
	if err != nil {
		return 0
	}

	return pgid
}

func (g *Group) terminate() {
	sendSignal(g.process.Pid, g.pgid, unix.SIGTERM)
}

func (g *Group) kill() {
	sendSignal(g.process.Pid, g.pgid, unix.SIGKILL)
}

func sendSignal(pid, pgid int, sig unix.Signal) {
	// Never signal our own group.
	if pgid > 0 && pgid != unix.Getpgrp() {
		if err := unix.Kill(-pgid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return
		}
	}

	if pid <= 0 {
		return
	}

	_ = unix.Kill(pid, sig)
}
