// Package proc signals child processes together with the process group they lead.
package proc

import (
	"log/slog"
	"os"
	"time"
)

// Group is a started child process and the process group it leads.
type Group struct {
	process *os.Process
	pgid    int
}

// NewGroup records the process group of p. Call it right after the process starts.
func NewGroup(p *os.Process) *Group {
	return &Group{process: p, pgid: groupID(p)}
}

// Pid returns the process id of the group leader.
func (g *Group) Pid() int {
	if g == nil || g.process == nil {
		return 0
	}

	return g.process.Pid
}

// Stop asks the group to terminate and kills it if it has not exited within
// grace. exited must be closed once the leader has been reaped. Stop reports
// whether the kill was needed.
func Stop(g *Group, exited <-chan struct{}, grace time.Duration) bool {
	if g == nil || g.process == nil {
		return false
	}

	select {
	case <-exited:
		return false
	default:
	}

	slog.Default().Debug(
		"terminating process group",
		slog.String("component", "proc"),
		slog.String("event.type", "proc.terminate"),
		slog.Int("proc.pid", g.Pid()),
	)

	g.terminate()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-exited:
		return false
	case <-timer.C:
	}

	slog.Default().Warn(
		"process group ignored termination, killing",
		slog.String("component", "proc"),
		slog.String("event.type", "proc.kill"),
		slog.Int("proc.pid", g.Pid()),
		slog.Duration("proc.grace", grace),
	)

	g.kill()

	return true
}
