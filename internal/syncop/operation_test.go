package syncop_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/syncop"
)

func TestHTTPOperation_Success(t *testing.T) {
	var got syncop.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/syncs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"job_id":"job-42"}`))
	}))
	defer srv.Close()

	op := syncop.NewHTTPOperation(srv.URL+"/", time.Second)
	s := &domain.Schedule{
		ConnectionID: "conn-1",
		UserID:       "u1",
		ProviderID:   "google",
		Config: domain.TaskConfig{
			OperationType: "incremental",
			Priority:      domain.PriorityHigh,
			Parameters:    map[string]any{"folder": "inbox"},
		},
	}

	jobID, err := op.Run(context.Background(), syncop.RequestFor(s))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "job-42" {
		t.Fatalf("expected job-42, got %q", jobID)
	}
	if got.ConnectionID != "conn-1" || got.OperationType != "incremental" || got.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected request body %+v", got)
	}
	if got.Parameters["folder"] != "inbox" {
		t.Fatalf("expected parameters forwarded, got %v", got.Parameters)
	}
}

func TestHTTPOperation_FailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"job_id":"job-7","error":"provider unavailable"}`))
	}))
	defer srv.Close()

	jobID, err := syncop.NewHTTPOperation(srv.URL, time.Second).Run(context.Background(), syncop.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "provider unavailable") || !strings.Contains(err.Error(), "502") {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "job-7" {
		t.Fatalf("job id should still be reported, got %q", jobID)
	}
}

func TestHTTPOperation_MissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := syncop.NewHTTPOperation(srv.URL, time.Second).Run(context.Background(), syncop.Request{}); err == nil {
		t.Fatal("expected error for missing job_id")
	}
}

func TestHTTPOperation_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	if _, err := syncop.NewHTTPOperation(srv.URL, 50*time.Millisecond).Run(context.Background(), syncop.Request{}); err == nil {
		t.Fatal("expected timeout error")
	}
}
