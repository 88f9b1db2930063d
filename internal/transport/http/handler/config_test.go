package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

type fakeConfigStore struct {
	cfg domain.SchedulerConfig
}

func (f *fakeConfigStore) Config() domain.SchedulerConfig { return f.cfg }

func (f *fakeConfigStore) UpdateConfig(patch domain.SchedulerConfigPatch) (domain.SchedulerConfig, error) {
	next := patch.Apply(f.cfg)
	if next.MaxConcurrentSchedules < 1 {
		return f.cfg, fmt.Errorf("%w: max_concurrent_schedules must be at least 1", domain.ErrInvalidConfig)
	}
	f.cfg = next
	return next, nil
}

func setupConfigRouter(store *fakeConfigStore) *gin.Engine {
	h := handler.NewConfigHandler(store, discardLogger())
	r := gin.New()
	r.GET("/config", h.Get)
	r.PATCH("/config", h.Update)
	return r
}

func patchConfig(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestGetConfig_DurationsAsStrings(t *testing.T) {
	r := setupConfigRouter(&fakeConfigStore{cfg: domain.DefaultSchedulerConfig()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["retry_base_delay"] != "30s" {
		t.Errorf("retry_base_delay = %v, want 30s", body["retry_base_delay"])
	}
	if body["conflict_resolution_strategy"] != "prevent" {
		t.Errorf("strategy = %v", body["conflict_resolution_strategy"])
	}
}

func TestUpdateConfig(t *testing.T) {
	store := &fakeConfigStore{cfg: domain.DefaultSchedulerConfig()}
	r := setupConfigRouter(store)

	w := patchConfig(r, `{"max_concurrent_schedules": 8, "poll_interval": "15s", "conflict_resolution_strategy": "queue"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if store.cfg.MaxConcurrentSchedules != 8 {
		t.Errorf("max concurrent = %d, want 8", store.cfg.MaxConcurrentSchedules)
	}
	if store.cfg.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %v, want 15s", store.cfg.PollInterval)
	}
	if store.cfg.ConflictResolutionStrategy != domain.ResolutionQueue {
		t.Errorf("strategy = %q, want queue", store.cfg.ConflictResolutionStrategy)
	}
	if store.cfg.RetryBaseDelay != 30*time.Second {
		t.Errorf("untouched field changed: retry base delay = %v", store.cfg.RetryBaseDelay)
	}
}

func TestUpdateConfig_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad duration", body: `{"poll_interval": "often"}`},
		{name: "invalid value", body: `{"max_concurrent_schedules": 0}`},
		{name: "malformed json", body: `{"enabled": `},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeConfigStore{cfg: domain.DefaultSchedulerConfig()}
			r := setupConfigRouter(store)

			w := patchConfig(r, tc.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if store.cfg != domain.DefaultSchedulerConfig() {
				t.Error("config changed on rejected update")
			}
		})
	}
}
