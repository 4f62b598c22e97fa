package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gpte-dev/gpte/internal/observability"
)

func newProber(url string, attempts int, interval time.Duration) *Prober {
	return &Prober{
		URL:         url,
		MaxAttempts: attempts,
		Interval:    interval,
		Logger:      observability.Discard(),
	}
}

func countingServer(t *testing.T, handler func(n int32, w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/health", r.URL.Path)
		handler(calls.Add(1), w)
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestWaitUntilReady_ImmediateSuccess(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	err := newProber(srv.URL+"/api/health", 5, 50*time.Millisecond).WaitUntilReady(t.Context())

	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestWaitUntilReady_AnySuccessStatus(t *testing.T) {
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, newProber(srv.URL+"/api/health", 1, 10*time.Millisecond).WaitUntilReady(t.Context()))
}

func TestWaitUntilReady_RecoversAfterFailures(t *testing.T) {
	srv, calls := countingServer(t, func(n int32, w http.ResponseWriter) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	})

	err := newProber(srv.URL+"/api/health", 5, 10*time.Millisecond).WaitUntilReady(t.Context())

	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestWaitUntilReady_UnhealthyBackend(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := newProber(srv.URL+"/api/health", 3, 10*time.Millisecond).WaitUntilReady(t.Context())

	var healthErr *HealthError
	require.ErrorAs(t, err, &healthErr)
	require.Equal(t, http.StatusInternalServerError, healthErr.StatusCode)
	require.Equal(t, 4, healthErr.Attempts)
	require.Equal(t, int32(4), calls.Load())
}

func TestWaitUntilReady_NegativeAttemptsSendsOneRequest(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := newProber(srv.URL+"/api/health", -1, 10*time.Millisecond).WaitUntilReady(t.Context())

	var healthErr *HealthError
	require.ErrorAs(t, err, &healthErr)
	require.Equal(t, 1, healthErr.Attempts)
	require.Equal(t, int32(1), calls.Load())
}

func TestWaitUntilReady_LastAttemptDecidesErrorKind(t *testing.T) {
	srv, calls := countingServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// The backend answers once, then goes away before the retry.
	p := newProber(srv.URL+"/api/health", 1, 50*time.Millisecond)

	go func() {
		for calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		srv.CloseClientConnections()
		_ = srv.Listener.Close()
	}()

	err := p.WaitUntilReady(t.Context())

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, int32(1), calls.Load())
}

func TestWaitUntilReady_UnreachableTiming(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/api/health"
	srv.Close()

	const (
		attempts = 4
		interval = 40 * time.Millisecond
	)

	start := time.Now()
	err := newProber(url, attempts, interval).WaitUntilReady(t.Context())
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Error(t, timeoutErr.Err)
	require.GreaterOrEqual(t, elapsed, attempts*interval)
	require.LessOrEqual(t, elapsed, (attempts+1)*interval+100*time.Millisecond)
}

func TestWaitUntilReady_ContextCancelled(t *testing.T) {
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	err := newProber(srv.URL+"/api/health", 100, 20*time.Millisecond).WaitUntilReady(ctx)

	require.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}

func TestErrorMessages(t *testing.T) {
	timeout := &TimeoutError{URL: "http://127.0.0.1:8765/api/health", Attempts: 41, Err: errors.New("connection refused")}
	require.Equal(t, "backend at http://127.0.0.1:8765/api/health did not respond after 41 attempts: connection refused", timeout.Error())

	health := &HealthError{URL: "http://127.0.0.1:8765/api/health", Attempts: 41, StatusCode: 503}
	require.Equal(t, "backend at http://127.0.0.1:8765/api/health is unhealthy: health check returned HTTP 503 after 41 attempts", health.Error())
}
