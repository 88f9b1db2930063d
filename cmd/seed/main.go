// seed inserts demo sync schedules into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/conflict"
	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/sync-scheduler/internal/log"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/ErlanBelekov/sync-scheduler/internal/validation"
	"github.com/jonboulle/clockwork"
)

const seedUser = "seed-user"

type scheduleSpec struct {
	id         string
	connection string
	provider   string
	frequency  domain.Frequency
	priority   domain.Priority
	offset     time.Duration
}

var schedules = []scheduleSpec{
	// Due right away
	{"seed-001", "conn-gmail-1", "google", domain.FrequencyHourly, domain.PriorityHigh, 0},
	{"seed-002", "conn-slack-1", "slack", domain.FrequencyDaily, domain.PriorityNormal, 0},
	{"seed-003", "conn-notion-1", "notion", domain.FrequencyDaily, domain.PriorityNormal, 0},

	// Due in a few minutes
	{"seed-004", "conn-github-1", "github", domain.FrequencyHourly, domain.PriorityLow, 5 * time.Minute},
	{"seed-005", "conn-jira-1", "jira", domain.FrequencyWeekly, domain.PriorityNormal, 10 * time.Minute},

	// Far out
	{"seed-006", "conn-dropbox-1", "dropbox", domain.FrequencyMonthly, domain.PriorityLow, 72 * time.Hour},

	// Rejected: same connection and provider as seed-001
	{"seed-007", "conn-gmail-1", "google", domain.FrequencyDaily, domain.PriorityNormal, 3 * time.Hour},

	// Rejected: google again, within an hour of seed-001
	{"seed-008", "conn-gmail-2", "google", domain.FrequencyDaily, domain.PriorityNormal, 30 * time.Minute},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	logger := ctxlog.New("local", slog.LevelWarn)
	clock := clockwork.NewRealClock()
	store := postgres.NewStore(pool, logger)

	manager := usecase.NewScheduleManager(store, nil, clock, logger)
	if err := manager.Load(ctx); err != nil {
		log.Fatalf("load schedules: %v", err)
	}
	detector := conflict.NewDetector(store, clock, logger)
	validator := validation.NewValidator(detector, clock, logger)
	service := usecase.NewScheduleService(manager, validator, detector, func() domain.ResolutionStrategy {
		return domain.ResolutionPrevent
	}, logger)

	var created, skipped, rejected int
	now := clock.Now()

	for _, spec := range schedules {
		if _, err := manager.Get(spec.id); err == nil {
			skipped++
			continue
		}

		next := now.Add(spec.offset)
		_, res, err := service.Create(ctx, usecase.CreateScheduleInput{
			ID:           spec.id,
			ConnectionID: spec.connection,
			UserID:       seedUser,
			ProviderID:   spec.provider,
			Frequency:    spec.frequency,
			Config:       domain.TaskConfig{OperationType: "full_sync", Priority: spec.priority},
			NextRunAt:    &next,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrScheduleConflict), errors.Is(err, domain.ErrValidation):
			rejected++
			fmt.Printf("  %s rejected:\n", spec.id)
			for _, e := range res.Errors {
				fmt.Printf("    - %s\n", e)
			}
		default:
			log.Fatalf("create %s: %v", spec.id, err)
		}
	}

	fmt.Println()
	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User:      %s\n", seedUser)
	fmt.Printf("  Created:   %d  (skipped %d already existing, %d rejected)\n", created, skipped, rejected)
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — list the seeded schedules:")
	fmt.Println()
	fmt.Printf("    curl -s 'http://localhost:8080/schedules?user_id=%s'\n", seedUser)
	fmt.Println()
	fmt.Println("  Step 2 — watch executions as they happen:")
	fmt.Println()
	fmt.Println("    websocat 'ws://localhost:8080/events?schedule_id=seed-001'")
	fmt.Println()
	fmt.Println("  Step 3 — after a minute, check stats, the report and recorded conflicts:")
	fmt.Println()
	fmt.Printf("    curl -s 'http://localhost:8080/stats?user_id=%s'\n", seedUser)
	fmt.Printf("    curl -s 'http://localhost:8080/reports?user_id=%s&window=168h'\n", seedUser)
	fmt.Printf("    curl -s 'http://localhost:8080/conflicts?user_id=%s&unresolved=true'\n", seedUser)
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    seed-001..003  →  run on the first due-check")
	fmt.Println("    seed-004..005  →  run within ~10 minutes")
	fmt.Println("    seed-007..008  →  rejected with a recorded conflict")
}
