package syncop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
)

// Request is what the scheduler hands to the sync service for one run.
type Request struct {
	UserID        string          `json:"user_id"`
	ProviderID    string          `json:"provider_id"`
	ConnectionID  string          `json:"connection_id"`
	OperationType string          `json:"operation_type"`
	Priority      domain.Priority `json:"priority"`
	Parameters    map[string]any  `json:"parameters,omitempty"`
}

// RequestFor builds the request for one schedule run.
func RequestFor(s *domain.Schedule) Request {
	return Request{
		UserID:        s.UserID,
		ProviderID:    s.ProviderID,
		ConnectionID:  s.ConnectionID,
		OperationType: s.Config.OperationType,
		Priority:      s.Config.Priority,
		Parameters:    s.Config.Parameters,
	}
}

// Operation starts a sync job and blocks until it finishes. A nil error means
// the job succeeded.
type Operation interface {
	Run(ctx context.Context, req Request) (jobID string, err error)
}

// HTTPOperation runs syncs against the sync service's HTTP API. The service
// answers once the job is done, with a 2xx status on success.
type HTTPOperation struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewHTTPOperation(baseURL string, timeout time.Duration) *HTTPOperation {
	return &HTTPOperation{
		client:  &http.Client{}, // each run sets its own deadline
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

type syncResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

func (o *HTTPOperation) Run(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/syncs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out syncResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return out.JobID, fmt.Errorf("sync job failed with status %d: %s", resp.StatusCode, msg)
	}
	if out.JobID == "" {
		return "", errors.New("sync service returned no job_id")
	}
	return out.JobID, nil
}
