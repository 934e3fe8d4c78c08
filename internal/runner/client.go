// Package runner is the HTTP client for the external transcription job
// runner. The runner is an opaque asynchronous service: submission returns a
// job handle, results are fetched by polling a status endpoint.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Job states as reported by the runner's status endpoint. The runner also
// reports transitional states (IN_QUEUE, IN_PROGRESS) which are mapped to
// the queued/running pair here.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrNoJobHandle means the runner accepted the request but returned no id.
var ErrNoJobHandle = errors.New("runner returned no job id")

// SubmitRequest describes one transcription job.
type SubmitRequest struct {
	UserEmail string
	MediaURL  string
	Engine    string
	Model     string
	Language  string
	Diarize   bool
}

// StatusResponse is the parsed poll result. Output is present only when the
// status is COMPLETED and its shape is runner-specific; callers pass it to
// the segment normalizer untouched.
type StatusResponse struct {
	Status Status
	Output json.RawMessage
	Error  string
}

// Client talks to a runner-proxy compatible endpoint:
// POST {base}/transcribe and GET {base}/status/{id}.
type Client struct {
	baseURL string
	engine  string
	model   string
	client  *http.Client
}

// New creates a runner client. engine and model are defaults applied when a
// submit request leaves them empty.
func New(baseURL, engine, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		engine:  engine,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type submitBody struct {
	UserEmail string      `json:"user_email,omitempty"`
	FileURL   string      `json:"file_url"`
	Input     submitInput `json:"input"`
}

type submitInput struct {
	Engine         string         `json:"engine"`
	Model          string         `json:"model"`
	TranscribeArgs transcribeArgs `json:"transcribe_args"`
}

type transcribeArgs struct {
	URL            string `json:"url"`
	Language       string `json:"language,omitempty"`
	Diarize        bool   `json:"diarize"`
	VAD            bool   `json:"vad"`
	WordTimestamps bool   `json:"word_timestamps"`
}

// Submit sends a transcription request and returns the opaque job handle.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	engine := req.Engine
	if engine == "" {
		engine = c.engine
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(submitBody{
		UserEmail: req.UserEmail,
		FileURL:   req.MediaURL,
		Input: submitInput{
			Engine: engine,
			Model:  model,
			TranscribeArgs: transcribeArgs{
				URL:            req.MediaURL,
				Language:       req.Language,
				Diarize:        req.Diarize,
				VAD:            true,
				WordTimestamps: true,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("runner rejected submission (status %d): %s", resp.StatusCode, truncate(data))
	}

	var parsed struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.ID == "" {
		if parsed.Error != "" {
			return "", fmt.Errorf("runner error: %s", parsed.Error)
		}
		return "", ErrNoJobHandle
	}
	return parsed.ID, nil
}

// Status polls one job. Network failures and non-2xx responses come back as
// errors; the caller treats them as transient and keeps polling.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	u := c.baseURL + "/status/" + url.PathEscape(jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status check failed (status %d): %s", resp.StatusCode, truncate(data))
	}

	var parsed struct {
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &StatusResponse{
		Status: mapStatus(parsed.Status),
		Output: parsed.Output,
		Error:  parsed.Error,
	}, nil
}

func mapStatus(s string) Status {
	switch s {
	case "IN_QUEUE", "QUEUED", "PENDING":
		return StatusQueued
	case "IN_PROGRESS", "RUNNING":
		return StatusRunning
	case "COMPLETED":
		return StatusCompleted
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return StatusFailed
	default:
		// Unknown states are treated as still-running so polling continues.
		return StatusRunning
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
