// Package audit runs a scheduled sweep over the trigger store, reporting
// triggers stuck in operator-actionable states. The sweep is informational:
// it counts, logs, updates gauges and alerts, but never mutates triggers.
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/schedule"
)

type Store interface {
	CountTriggersByStatus(ctx context.Context, status domain.TriggerStatus) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// MetricsSink defines the interface for recording audit metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RedriveBacklogUpdate(count int)
	TerminalFailuresUpdate(count int)
}

// Sweeper periodically counts stuck triggers on a cron schedule.
type Sweeper struct {
	sched    schedule.Schedule
	store    Store
	notifier Notifier    // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func New(sched schedule.Schedule, store Store) *Sweeper {
	return &Sweeper{
		sched: sched,
		store: store,
		clock: time.Now,
	}
}

// WithNotifier attaches a notifier for redrive-backlog alerts.
func (s *Sweeper) WithNotifier(n Notifier) *Sweeper {
	s.notifier = n
	return s
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run blocks until ctx is cancelled, executing one sweep at every scheduled
// fire time.
func (s *Sweeper) Run(ctx context.Context) {
	log.Println("audit: started")

	for {
		now := s.clock()
		next := s.sched.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			log.Println("audit: stopped")
			return
		case <-timer.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep executes one audit pass.
func (s *Sweeper) runSweep(ctx context.Context) {
	exhausted, err := s.store.CountTriggersByStatus(ctx, domain.TriggerStatusExhausted)
	if err != nil {
		log.Printf("audit: count exhausted triggers: %v", err)
		return
	}
	terminal, err := s.store.CountTriggersByStatus(ctx, domain.TriggerStatusTerminalFailure)
	if err != nil {
		log.Printf("audit: count terminal failures: %v", err)
		return
	}

	log.Printf("audit: sweep complete (exhausted_needs_redrive=%d, terminal_failure=%d)", exhausted, terminal)

	if s.metrics != nil {
		s.metrics.RedriveBacklogUpdate(exhausted)
		s.metrics.TerminalFailuresUpdate(terminal)
	}

	if exhausted > 0 && s.notifier != nil {
		now := s.clock().UTC()
		s.notifier.Notify(ctx, domain.Notification{
			ID:        uuid.New(),
			Source:    "audit-sweeper",
			Type:      "REDRIVE_BACKLOG",
			Severity:  domain.SeverityWarning,
			DedupKey:  "redrive-backlog:" + now.Format("2006-01-02"),
			Message:   fmt.Sprintf("%d trigger(s) awaiting operator redrive", exhausted),
			CreatedAt: now,
		})
	}
}
