// Package client provides the HTTP client for the local gpte backend API.
//
// The client handles:
//   - Health checks and the default project lookup
//   - Submitting build jobs
//   - Reading job status and output
//   - Forwarding interactive answers and cancelling jobs
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/gpte-dev/gpte/internal/buildinfo"
	"github.com/gpte-dev/gpte/internal/observability"
)

const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://127.0.0.1:8765"
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
)

// Errors reported through APIError.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrNotAcceptingInput = errors.New("job is not accepting input")
	ErrBusy              = errors.New("a job is already running")
	ErrInvalidRequest    = errors.New("invalid request")
)

// APIError is a non-success response from the backend.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string

	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Unwrap exposes the matching sentinel error, if any.
func (e *APIError) Unwrap() error {
	return e.kind
}

// Client is the backend API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RunRequest is the body of a job submission.
type RunRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	Provider    string `json:"provider,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	Mode        string `json:"mode,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
}

// Job is a job snapshot as reported by the backend.
type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ReturnCode     *int       `json:"return_code"`
	ProjectPath    string     `json:"project_path"`
	PromptFile     string     `json:"prompt_file"`
	Model          string     `json:"model,omitempty"`
	Mode           string     `json:"mode"`
	Provider       string     `json:"provider"`
	AcceptingInput bool       `json:"accepting_input"`
	Output         string     `json:"output"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ExitCode returns the return code, or -1 when none was recorded.
func (j *Job) ExitCode() int {
	if j.ReturnCode == nil {
		return -1
	}

	return *j.ReturnCode
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: observability.InstrumentTransport(http.DefaultTransport),
		},
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthURL returns the readiness endpoint.
func (c *Client) HealthURL() string {
	return c.baseURL + "/api/health"
}

// Health checks that the backend is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health check", http.MethodGet, "/api/health", nil, nil)
}

// DefaultProject returns the backend's default project directory.
func (c *Client) DefaultProject(ctx context.Context) (string, error) {
	var resp struct {
		ProjectPath string `json:"project_path"`
	}

	if err := c.do(ctx, "default project lookup", http.MethodGet, "/api/default-project", nil, &resp); err != nil {
		return "", err
	}

	return resp.ProjectPath, nil
}

// SubmitJob starts a job and returns its id.
func (c *Client) SubmitJob(ctx context.Context, req *RunRequest) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}

	if err := c.do(ctx, "submit job", http.MethodPost, "/api/run", req, &resp); err != nil {
		return "", err
	}

	if resp.JobID == "" {
		return "", errors.New("submit job: response did not include a job id")
	}

	return resp.JobID, nil
}

// GetJob fetches the current snapshot of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, "get job", http.MethodGet, "/api/jobs/"+neturl.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// ListJobs returns every job known to the backend, oldest first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp struct {
		Jobs []Job `json:"jobs"`
	}

	if err := c.do(ctx, "list jobs", http.MethodGet, "/api/jobs", nil, &resp); err != nil {
		return nil, err
	}

	return resp.Jobs, nil
}

// SendInput forwards an answer to a job waiting for input.
func (c *Client) SendInput(ctx context.Context, jobID, text string) error {
	body := map[string]string{"input": text}

	return c.do(ctx, "send input", http.MethodPost, "/api/jobs/"+neturl.PathEscape(jobID)+"/input", body, nil)
}

// CancelJob stops a running job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, "cancel job", http.MethodPost, "/api/jobs/"+neturl.PathEscape(jobID)+"/cancel", struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, in, out any) error {
	var body io.Reader = http.NoBody

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setRequestHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unexpectedStatus(operation, resp.StatusCode, resp.Body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

func (c *Client) setRequestHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
}

// unexpectedStatus builds an APIError from an error response.
func unexpectedStatus(operation string, statusCode int, body io.Reader) error {
	respBody, readErr := io.ReadAll(io.LimitReader(body, 64<<10))
	if readErr != nil {
		return &APIError{Operation: operation, StatusCode: statusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
	}

	message := strings.TrimSpace(string(respBody))

	var parsed errorResponse
	if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
		message = parsed.Error
	}

	return &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		kind:       classify(statusCode, message),
	}
}

func classify(statusCode int, message string) error {
	switch {
	case statusCode == http.StatusNotFound && message == "Job not found":
		return ErrJobNotFound
	case statusCode == http.StatusBadRequest && message == "Job is not accepting input":
		return ErrNotAcceptingInput
	case statusCode == http.StatusConflict && message == "A job is already running":
		return ErrBusy
	case statusCode == http.StatusBadRequest:
		return ErrInvalidRequest
	default:
		return nil
	}
}
