// Package probe waits for a freshly started backend to answer its health check.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Defaults used when a Prober leaves a field zero.
const (
	DefaultMaxAttempts    = 40
	DefaultInterval       = 250 * time.Millisecond
	DefaultAttemptTimeout = time.Second
)

// TimeoutError means the final attempt got no HTTP response: nothing bound
// the port, or the connection failed. Earlier attempts may have answered.
type TimeoutError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend at %s did not respond after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// HealthError means the final attempt got a non-2xx response. The error kind
// is decided by that attempt alone, so a backend that answered 500 once and
// then stopped listening reports a TimeoutError.
type HealthError struct {
	URL        string
	Attempts   int
	StatusCode int
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("backend at %s is unhealthy: health check returned HTTP %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
}

// Prober polls a health endpoint with a bounded number of retries.
type Prober struct {
	URL    string
	Client *http.Client

	// MaxAttempts is the number of retries after the first request. Zero
	// means DefaultMaxAttempts; use a negative value for a single request
	// with no retries.
	MaxAttempts int
	Interval    time.Duration

	// AttemptTimeout bounds a single request.
	AttemptTimeout time.Duration

	Logger *slog.Logger
}

type attempt struct {
	status int
	err    error
}

// WaitUntilReady returns nil as soon as the endpoint answers with a 2xx
// status. Against a target that never becomes ready it gives up after
// MaxAttempts retries spaced Interval apart, and never later than
// (MaxAttempts+1)*Interval. Cancelling ctx returns the context error.
func (p *Prober) WaitUntilReady(ctx context.Context) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	} else if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	budget := time.Duration(maxAttempts+1) * interval

	probeCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		last  attempt
		tries int
	)

	backoff := retry.WithMaxRetries(uint64(maxAttempts), retry.NewConstant(interval)) //nolint:gosec // maxAttempts is non-negative

	err := retry.Do(probeCtx, backoff, func(ctx context.Context) error {
		tries++
		last = p.check(ctx)

		if last.err == nil && last.status >= 200 && last.status < 300 {
			return nil
		}

		logger.Debug(
			"backend not ready",
			slog.String("component", "probe"),
			slog.String("event.type", "probe.attempt"),
			slog.Int("probe.attempt", tries),
			slog.Int("probe.status", last.status),
			slog.Any("error", last.err),
		)

		return retry.RetryableError(errors.New("not ready"))
	})
	if err == nil {
		logger.Debug(
			"backend ready",
			slog.String("component", "probe"),
			slog.String("event.type", "probe.ready"),
			slog.Int("probe.attempts", tries),
		)

		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if last.err == nil && last.status != 0 {
		return &HealthError{URL: p.URL, Attempts: tries, StatusCode: last.status}
	}

	cause := last.err
	if cause == nil {
		cause = err
	}

	return &TimeoutError{URL: p.URL, Attempts: tries, Err: cause}
}

func (p *Prober) check(ctx context.Context) attempt {
	timeout := p.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, http.NoBody)
	if err != nil {
		return attempt{err: err}
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return attempt{err: err}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return attempt{status: resp.StatusCode}
}
