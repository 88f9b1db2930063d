package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

type fakeReporter struct {
	stats  func(ctx context.Context, userID string) (domain.ScheduleStats, error)
	report func(ctx context.Context, userID string, window time.Duration) (*domain.ScheduleReport, error)
}

func (f *fakeReporter) Stats(ctx context.Context, userID string) (domain.ScheduleStats, error) {
	return f.stats(ctx, userID)
}

func (f *fakeReporter) GenerateReport(ctx context.Context, userID string, window time.Duration) (*domain.ScheduleReport, error) {
	return f.report(ctx, userID, window)
}

type fakeExecutorControl struct {
	cancelled int
}

func (f *fakeExecutorControl) ResourceMetrics(context.Context) domain.ResourceMetrics {
	return domain.ResourceMetrics{ActiveSchedules: 2, QueuedTasks: 3, MaxConcurrentTasks: 5}
}

func (f *fakeExecutorControl) CancelAllPendingTasks() int {
	n := f.cancelled
	f.cancelled = 0
	return n
}

func TestStats(t *testing.T) {
	var gotUser string
	rep := &fakeReporter{
		stats: func(_ context.Context, userID string) (domain.ScheduleStats, error) {
			gotUser = userID
			return domain.ScheduleStats{Total: 4, Enabled: 3, Disabled: 1}, nil
		},
	}
	h := handler.NewReportHandler(rep, discardLogger())
	r := gin.New()
	r.GET("/stats", h.Stats)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats?user_id=u1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUser != "u1" {
		t.Errorf("user = %q, want u1", gotUser)
	}
	if st := decode[domain.ScheduleStats](t, w); st.Total != 4 || st.Disabled != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReport_Window(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantWindow time.Duration
	}{
		{name: "default", query: "", wantStatus: http.StatusOK, wantWindow: 24 * time.Hour},
		{name: "week", query: "?window=168h", wantStatus: http.StatusOK, wantWindow: 168 * time.Hour},
		{name: "garbage", query: "?window=soon", wantStatus: http.StatusBadRequest},
		{name: "negative", query: "?window=-1h", wantStatus: http.StatusBadRequest},
		{name: "too long", query: "?window=2161h", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotWindow time.Duration
			rep := &fakeReporter{
				report: func(_ context.Context, _ string, window time.Duration) (*domain.ScheduleReport, error) {
					gotWindow = window
					return &domain.ScheduleReport{}, nil
				},
			}
			h := handler.NewReportHandler(rep, discardLogger())
			r := gin.New()
			r.GET("/reports", h.Report)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reports"+tc.query, nil))

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusOK && gotWindow != tc.wantWindow {
				t.Errorf("window = %v, want %v", gotWindow, tc.wantWindow)
			}
		})
	}
}

func TestExecutorEndpoints(t *testing.T) {
	exec := &fakeExecutorControl{cancelled: 3}
	h := handler.NewExecutorHandler(exec, discardLogger())
	r := gin.New()
	r.GET("/executor", h.Metrics)
	r.POST("/executor/cancel-pending", h.CancelPending)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/executor", nil))
	if m := decode[domain.ResourceMetrics](t, w); m.MaxConcurrentTasks != 5 || m.QueuedTasks != 3 {
		t.Errorf("metrics = %+v", m)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/executor/cancel-pending", nil))
	if body := decode[struct {
		Cancelled int `json:"cancelled"`
	}](t, w); body.Cancelled != 3 {
		t.Errorf("cancelled = %d, want 3", body.Cancelled)
	}
}
