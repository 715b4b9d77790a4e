// workers/scheduler.go
package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"burn-settlement-system/exports"
	"burn-settlement-system/metrics"
	"burn-settlement-system/services"
)

// Scheduler runs the day-boundary jobs in UTC.
type Scheduler struct {
	sched    gocron.Scheduler
	ledger   *services.CapLedger
	exporter *exports.BurnExporter
	now      func() time.Time
}

// NewScheduler wires the jobs. exporter may be nil when uploads are not configured.
func NewScheduler(ledger *services.CapLedger, exporter *exports.BurnExporter) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		sched:    sched,
		ledger:   ledger,
		exporter: exporter,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start registers the jobs and starts the scheduler. Jobs stop with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	// Midnight UTC: zero asset counters from the previous day
	if _, err := s.sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() { s.ResetDailyCaps(ctx) }),
		gocron.WithName("reset-daily-caps"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule cap reset: %w", err)
	}

	if s.exporter != nil {
		if _, err := s.sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 10, 0))),
			gocron.NewTask(func() { s.ExportPreviousDay(ctx) }),
			gocron.WithName("export-burns"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("schedule burn export: %w", err)
		}
	}

	s.sched.Start()
	go func() {
		<-ctx.Done()
		if err := s.sched.Shutdown(); err != nil {
			log.Printf("[Scheduler] shutdown: %v", err)
		}
	}()
	return nil
}

func (s *Scheduler) ResetDailyCaps(ctx context.Context) {
	n, err := s.ledger.ResetStaleDailyCounters(ctx, s.now())
	if err != nil {
		log.Printf("[Scheduler] DB error resetting daily caps: %v", err)
		return
	}
	metrics.Engine().AddCapResets(n)
	log.Printf("✅ [Scheduler] Reset %d asset daily counter(s)", n)
}

func (s *Scheduler) ExportPreviousDay(ctx context.Context) {
	day := s.now().Add(-24 * time.Hour)
	key, rows, err := s.exporter.ExportDay(ctx, day)
	if err != nil {
		log.Printf("[Scheduler] Failed to export burns for %s: %v", day.Format("2006-01-02"), err)
		return
	}
	log.Printf("✅ [Scheduler] Exported %d burn(s) to %s", rows, key)
}
