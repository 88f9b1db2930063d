package conflict_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/conflict"
	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/jonboulle/clockwork"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type failingRecorder struct {
	err   error
	calls int
}

func (f *failingRecorder) RecordConflict(_ context.Context, _ *domain.ScheduleConflict) error {
	f.calls++
	return f.err
}

func newDetector(rec conflict.Recorder) *conflict.Detector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return conflict.NewDetector(rec, clockwork.NewFakeClockAt(base), logger)
}

func sched(id, conn, user, provider string, next time.Time) *domain.Schedule {
	return &domain.Schedule{
		ID:           id,
		ConnectionID: conn,
		UserID:       user,
		ProviderID:   provider,
		Frequency:    domain.FrequencyDaily,
		Enabled:      true,
		NextRunAt:    next,
	}
}

func TestDetect_DuplicateIsSymmetric(t *testing.T) {
	d := newDetector(memory.NewStore())
	a := sched("a", "conn-1", "u1", "google", base)
	b := sched("b", "conn-1", "u1", "google", base.Add(6*time.Hour))

	for _, pair := range [][2]*domain.Schedule{{a, b}, {b, a}} {
		found := d.Detect(pair[0], []*domain.Schedule{pair[1]})
		if len(found) != 1 {
			t.Fatalf("candidate %s: expected 1 conflict, got %d", pair[0].ID, len(found))
		}
		c := found[0]
		if c.Type != domain.ConflictOverlap {
			t.Fatalf("expected overlap, got %s", c.Type)
		}
		if len(c.Details.ScheduleIDs) != 1 || c.Details.ScheduleIDs[0] != pair[1].ID {
			t.Fatalf("expected duplicate id %s, got %v", pair[1].ID, c.Details.ScheduleIDs)
		}
		if c.ScheduleID != pair[0].ID {
			t.Fatalf("conflict should reference candidate %s, got %s", pair[0].ID, c.ScheduleID)
		}
	}
}

func TestDetect_DisabledDuplicateIgnored(t *testing.T) {
	d := newDetector(memory.NewStore())
	other := sched("a", "conn-1", "u1", "google", base.Add(6*time.Hour))
	other.Enabled = false

	if found := d.Detect(sched("b", "conn-1", "u1", "google", base), []*domain.Schedule{other}); len(found) != 0 {
		t.Fatalf("expected no conflicts, got %d", len(found))
	}
}

func TestDetect_SelfExcluded(t *testing.T) {
	d := newDetector(memory.NewStore())
	s := sched("a", "conn-1", "u1", "google", base)

	if found := d.Detect(s, []*domain.Schedule{s.Clone()}); len(found) != 0 {
		t.Fatalf("expected no conflicts against itself, got %d", len(found))
	}
}

func TestDetect_OverlapWindow(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"same instant", 0, true},
		{"59 minutes later", 59 * time.Minute, true},
		{"59 minutes earlier", -59 * time.Minute, true},
		{"exactly one hour", time.Hour, false},
		{"two hours earlier", -2 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(memory.NewStore())
			// different connections so only the window check can fire
			other := sched("a", "conn-1", "u1", "google", base.Add(tt.offset))
			found := d.Detect(sched("b", "conn-2", "u1", "google", base), []*domain.Schedule{other})

			got := len(found) == 1 && found[0].Details.WindowStart != nil
			if got != tt.want {
				t.Fatalf("overlap = %v, want %v (conflicts: %d)", got, tt.want, len(found))
			}
		})
	}
}

func TestDetect_OverlapRequiresSameProvider(t *testing.T) {
	d := newDetector(memory.NewStore())
	other := sched("a", "conn-1", "u1", "slack", base)

	if found := d.Detect(sched("b", "conn-2", "u1", "google", base), []*domain.Schedule{other}); len(found) != 0 {
		t.Fatalf("expected no conflicts across providers, got %d", len(found))
	}
}

func TestDetect_ResourceLimit(t *testing.T) {
	d := newDetector(memory.NewStore())

	var existing []*domain.Schedule
	for i := range conflict.MaxSchedulesPerUser {
		// spread out so none overlap
		existing = append(existing, sched(fmt.Sprintf("s%d", i), fmt.Sprintf("conn-%d", i), "u1", "google",
			base.Add(time.Duration(i+2)*3*time.Hour)))
	}

	found := d.Detect(sched("new", "conn-new", "u1", "google", base), existing)
	if len(found) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(found))
	}
	if found[0].Type != domain.ConflictResourceLimit {
		t.Fatalf("expected resource_limit, got %s", found[0].Type)
	}
	if found[0].Details.Count != conflict.MaxSchedulesPerUser+1 || found[0].Details.Limit != conflict.MaxSchedulesPerUser {
		t.Fatalf("unexpected details %+v", found[0].Details)
	}

	// at the ceiling exactly is fine
	if found := d.Detect(sched("new", "conn-new", "u1", "google", base), existing[1:]); len(found) != 0 {
		t.Fatalf("expected no conflict at the ceiling, got %d", len(found))
	}
}

func TestDetect_AllChecksRun(t *testing.T) {
	d := newDetector(memory.NewStore())
	dup := sched("dup", "conn-1", "u1", "google", base.Add(30*time.Minute))

	found := d.Detect(sched("new", "conn-1", "u1", "google", base), []*domain.Schedule{dup})
	if len(found) != 2 {
		t.Fatalf("expected duplicate and window conflicts, got %d", len(found))
	}
}

func TestDetectAndRecord_PersistsFindings(t *testing.T) {
	store := memory.NewStore()
	d := newDetector(store)
	other := sched("a", "conn-1", "u1", "google", base)

	found, err := d.DetectAndRecord(context.Background(), sched("b", "conn-1", "u1", "google", base), []*domain.Schedule{other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, err := store.ListConflicts(context.Background(), repository.ConflictFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(stored) != len(found) {
		t.Fatalf("expected %d stored conflicts, got %d", len(found), len(stored))
	}
}

func TestDetectAndRecord_ReturnsFindingsOnRecordFailure(t *testing.T) {
	rec := &failingRecorder{err: errors.New("db down")}
	d := newDetector(rec)
	other := sched("a", "conn-1", "u1", "google", base)

	found, err := d.DetectAndRecord(context.Background(), sched("b", "conn-1", "u1", "google", base), []*domain.Schedule{other})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected joined record error, got %v", err)
	}
	if len(found) == 0 {
		t.Fatal("findings must be returned even when recording fails")
	}
	if rec.calls != len(found) {
		t.Fatalf("expected %d record attempts, got %d", len(found), rec.calls)
	}
}

func TestResolve(t *testing.T) {
	store := memory.NewStore()
	d := newDetector(store)
	ctx := context.Background()

	found, _ := d.DetectAndRecord(ctx, sched("b", "conn-1", "u1", "google", base),
		[]*domain.Schedule{sched("a", "conn-1", "u1", "google", base)})
	c := found[0]

	if err := d.Resolve(ctx, c, "ignore"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if err := d.Resolve(ctx, c, domain.ResolutionQueue); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := store.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatalf("get conflict: %v", err)
	}
	if !got.Resolved || got.Resolution != domain.ResolutionQueue || got.ResolvedAt == nil || !got.ResolvedAt.Equal(base) {
		t.Fatalf("conflict not resolved as expected: %+v", got)
	}
}

func TestPreventConflicts(t *testing.T) {
	store := memory.NewStore()
	d := newDetector(store)
	ctx := context.Background()

	ok, found, err := d.PreventConflicts(ctx, sched("b", "conn-1", "u1", "google", base),
		[]*domain.Schedule{sched("a", "conn-1", "u1", "google", base)}, domain.ResolutionPrevent)
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	for _, c := range found {
		if !c.Resolved || c.Resolution != domain.ResolutionPrevent {
			t.Fatalf("conflict %s not resolved: %+v", c.ID, c)
		}
	}

	unresolved, _ := store.ListConflicts(ctx, repository.ConflictFilter{UnresolvedOnly: true})
	if len(unresolved) != 0 {
		t.Fatalf("expected no unresolved conflicts, got %d", len(unresolved))
	}

	ok, _, err = d.PreventConflicts(ctx, sched("c", "conn-9", "u2", "google", base), nil, domain.ResolutionPrevent)
	if err != nil || !ok {
		t.Fatalf("no conflicts should be a success, got ok=%v err=%v", ok, err)
	}
}
