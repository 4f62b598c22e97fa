//go:build unix

package supervisor

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gpte-dev/gpte/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func shell(script string) Command {
	return Command{Path: "sh", Args: []string{"-c", script}}
}

func newTestSupervisor(cmd Command) (*Supervisor, *syncBuffer) {
	out := &syncBuffer{}

	s := New(cmd)
	s.Stdout = out
	s.Stderr = out
	s.StopGrace = 500 * time.Millisecond
	s.Logger = observability.Discard()

	return s, out
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("backend did not exit")
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s, out := newTestSupervisor(shell(`echo "listening on $GPTE_TEST_PORT"; exec sleep 30`))
	s.command.Env = []string{"GPTE_TEST_PORT=8765"}

	require.NoError(t, s.Start(t.Context()))
	require.True(t, s.Running())
	require.NotZero(t, s.Pid())

	require.Eventually(t, func() bool {
		return out.String() == "listening on 8765\n"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	waitDone(t, s)
	require.False(t, s.Running())

	_, exited := s.ExitCode()
	require.True(t, exited)

	// Repeated stops are no-ops.
	require.NoError(t, s.Stop())
}

func TestSupervisor_StartTwice(t *testing.T) {
	s, _ := newTestSupervisor(shell("exec sleep 30"))

	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })

	require.ErrorIs(t, s.Start(t.Context()), ErrAlreadyStarted)
}

func TestSupervisor_LaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gpte-web-backend")
	s, _ := newTestSupervisor(Command{Path: missing})

	err := s.Start(t.Context())

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	require.Equal(t, missing, launchErr.Path)
	require.False(t, s.Running())
	require.NoError(t, s.Stop())
}

func TestSupervisor_UnexpectedExit(t *testing.T) {
	s, _ := newTestSupervisor(shell("exit 3"))

	require.NoError(t, s.Start(t.Context()))
	waitDone(t, s)

	code, exited := s.ExitCode()
	require.True(t, exited)
	require.Equal(t, 3, code)
	require.NoError(t, s.Stop())
}

func TestSupervisor_StopKillsStubbornBackend(t *testing.T) {
	s, out := newTestSupervisor(shell(`trap "" TERM; echo ready; while :; do sleep 1; done`))

	require.NoError(t, s.Start(t.Context()))
	require.Eventually(t, func() bool { return out.String() == "ready\n" }, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop())
	require.GreaterOrEqual(t, time.Since(start), s.StopGrace)
	waitDone(t, s)
}
