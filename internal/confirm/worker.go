// Package confirm reconciles submitted triggers against reality.
//
// A trigger is submitted when its ledger write went out but the downstream
// indexer has not yet observed the resulting event. The worker polls on a
// fixed interval: it first tries a rate-limited direct ledger read once a
// trigger is old enough (the indexer may simply be lagging), then the
// indexer, and past a hard timeout it gives up and escalates so an operator
// can redrive.
//
// The on-chain fallback is always attempted before declaring hard timeout;
// a trigger that genuinely succeeded on-chain is never marked exhausted
// merely because the indexer is behind.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/errclass"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"
)

type Store interface {
	GetTriggersByStatus(ctx context.Context, status domain.TriggerStatus, limit int) ([]domain.Trigger, error)
	MarkConfirmedByIndexer(ctx context.Context, idempotencyKey, eventID string) error
	MarkConfirmedOnChain(ctx context.Context, idempotencyKey string) error
	MarkExhausted(ctx context.Context, idempotencyKey, lastError, errorType string) error
}

type LedgerReader interface {
	GetTrade(ctx context.Context, tradeID int64) (domain.Trade, error)
}

type IndexerClient interface {
	// FindConfirmationEvent returns the most recent event matching the
	// transaction hash and trade id, or nil if none has been observed yet.
	FindConfirmationEvent(ctx context.Context, txHash string, tradeID int64) (*domain.ConfirmationEvent, error)
}

// Notifier delivers operator alerts. Implementations are fire-and-forget:
// they log failures internally and never block the worker.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// MetricsSink defines the interface for recording worker metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ConfirmationOutcome(path string) // "indexer", "on_chain", "hard_timeout", "stranded"
	ConfirmationLatency(d time.Duration)
	SubmittedBacklogUpdate(count int)
	FallbackCheck(allowed bool)
}

// Config holds confirmation worker configuration.
type Config struct {
	// PollInterval is how often the worker scans submitted triggers.
	// Default: 10 seconds.
	PollInterval time.Duration

	// BatchSize is the maximum number of submitted triggers per cycle.
	// Default: 50.
	BatchSize int

	// SoftTimeout is the age past which lag warnings are logged.
	// Default: 5 minutes.
	SoftTimeout time.Duration

	// FallbackAfter is the age past which direct ledger reads may be used
	// to confirm instead of the indexer. Default: 20 minutes.
	FallbackAfter time.Duration

	// HardTimeout is the age past which an unconfirmed trigger is moved to
	// exhausted and escalated. Default: 30 minutes.
	HardTimeout time.Duration

	// FallbackMinInterval rate-limits direct ledger reads per trade id.
	// Default: 5 minutes.
	FallbackMinInterval time.Duration

	// StaleAfter is the age past which an executing or failed trigger is
	// treated as stranded by a crashed process and moved to exhausted for
	// operator redrive. Must comfortably exceed the longest retry backoff,
	// or live rows between attempts would be swept up. 0 disables recovery.
	// Default: 30 minutes.
	StaleAfter time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:        10 * time.Second,
		BatchSize:           50,
		SoftTimeout:         5 * time.Minute,
		FallbackAfter:       20 * time.Minute,
		HardTimeout:         30 * time.Minute,
		FallbackMinInterval: 5 * time.Minute,
		StaleAfter:          30 * time.Minute,
	}
}

// Worker reconciles submitted triggers against indexed events and, on
// suspected indexer lag, against direct ledger reads.
type Worker struct {
	config   Config
	store    Store
	ledger   LedgerReader
	indexer  IndexerClient
	notifier Notifier    // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time

	// lastFallback is intentionally process-local, best-effort state: a
	// restart resets it, costing at most one redundant ledger read per
	// in-flight trade.
	mu           sync.Mutex
	lastFallback map[int64]time.Time
}

// New creates a new Worker.
func New(config Config, store Store, ledger LedgerReader, indexer IndexerClient) *Worker {
	return &Worker{
		config:       config,
		store:        store,
		ledger:       ledger,
		indexer:      indexer,
		clock:        time.Now,
		lastFallback: make(map[int64]time.Time),
	}
}

// WithNotifier attaches a notifier for hard-timeout escalation.
func (w *Worker) WithNotifier(n Notifier) *Worker {
	w.notifier = n
	return w
}

// WithMetrics attaches a metrics sink to the worker.
func (w *Worker) WithMetrics(sink MetricsSink) *Worker {
	w.metrics = sink
	return w
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	log.Printf("confirm: started (interval=%s, soft=%s, fallback=%s, hard=%s, batch=%d)",
		w.config.PollInterval, w.config.SoftTimeout, w.config.FallbackAfter,
		w.config.HardTimeout, w.config.BatchSize)

	// Run immediately on startup, then on ticker
	w.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("confirm: stopped")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (w *Worker) runCycle(ctx context.Context) {
	triggers, err := w.store.GetTriggersByStatus(ctx, domain.TriggerStatusSubmitted, w.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		log.Printf("confirm: failed to fetch submitted triggers: %v", err)
		return
	}

	if w.metrics != nil {
		w.metrics.SubmittedBacklogUpdate(len(triggers))
	}

	for _, t := range triggers {
		// Check context before each trigger to allow graceful shutdown
		if ctx.Err() != nil {
			return
		}
		w.reconcile(ctx, t)
	}

	w.recoverStranded(ctx)
}

// recoverStranded escalates triggers abandoned mid-execution by a crashed
// process. A row parked in executing means the process died between marking
// and recording the write outcome; a row parked in failed means it died
// during the retry backoff. Neither has a live goroutine driving it, so
// past StaleAfter the row is moved to exhausted, releasing its action key
// for operator redrive. Rows younger than StaleAfter are left alone: they
// may still belong to a live retry loop on this or another instance.
func (w *Worker) recoverStranded(ctx context.Context) {
	if w.config.StaleAfter <= 0 {
		return
	}

	now := w.clock().UTC()
	for _, status := range []domain.TriggerStatus{domain.TriggerStatusExecuting, domain.TriggerStatusFailed} {
		if ctx.Err() != nil {
			return
		}

		triggers, err := w.store.GetTriggersByStatus(ctx, status, w.config.BatchSize)
		if err != nil {
			log.Printf("confirm: failed to fetch %s triggers for recovery: %v", status, err)
			continue
		}

		for _, t := range triggers {
			if ctx.Err() != nil {
				return
			}
			age := now.Sub(t.UpdatedAt)
			if age < w.config.StaleAfter {
				continue
			}
			w.escalateStranded(ctx, t, age)
		}
	}
}

// escalateStranded moves one abandoned trigger to exhausted and alerts an
// operator for redrive.
func (w *Worker) escalateStranded(ctx context.Context, t domain.Trigger, age time.Duration) {
	msg := fmt.Sprintf("stranded in %s for %s with no live retry loop", t.Status, age.Round(time.Second))

	if err := w.store.MarkExhausted(ctx, t.IdempotencyKey, msg, string(errclass.TypeNetwork)); err != nil {
		w.logMarkError(t, "stranded recovery", err)
		return
	}

	log.Printf("confirm: trigger %s recovered from stranded %s state (trade=%d, age=%s)",
		t.IdempotencyKey, t.Status, t.TradeID, age.Round(time.Second))
	if w.metrics != nil {
		w.metrics.ConfirmationOutcome("stranded")
	}

	if w.notifier != nil {
		w.notifier.Notify(ctx, domain.Notification{
			ID:             uuid.New(),
			Source:         "confirmation-worker",
			Type:           "TRIGGER_STRANDED",
			Severity:       domain.SeverityCritical,
			DedupKey:       "stranded:" + t.IdempotencyKey,
			TradeID:        t.TradeID,
			IdempotencyKey: t.IdempotencyKey,
			Message:        msg,
			CreatedAt:      w.clock().UTC(),
		})
	}
}

// reconcile advances one submitted trigger through the confirmation paths.
func (w *Worker) reconcile(ctx context.Context, t domain.Trigger) {
	now := w.clock().UTC()
	if t.SubmittedAt == nil {
		// Submitted rows always carry a submission time; guard anyway.
		log.Printf("confirm: trigger %s submitted without timestamp, skipping", t.IdempotencyKey)
		return
	}
	age := now.Sub(*t.SubmittedAt)

	if age >= w.config.SoftTimeout {
		log.Printf("confirm: trigger %s unconfirmed for %s (trade=%d tx=%s), indexer may be lagging",
			t.IdempotencyKey, age.Round(time.Second), t.TradeID, t.TxHash)
	}

	pastHard := age >= w.config.HardTimeout

	// On-chain fallback: once the trigger is old enough, check whether the
	// trade's status already advanced past the precondition the trigger
	// required. Rate-limited per trade, except that the check is always
	// attempted once the hard timeout is reached.
	if age >= w.config.FallbackAfter {
		if w.allowFallback(t.TradeID, now, pastHard) {
			confirmed, err := w.checkOnChain(ctx, t)
			if err != nil {
				log.Printf("confirm: on-chain fallback for trigger %s failed: %v", t.IdempotencyKey, err)
			} else if confirmed {
				if err := w.store.MarkConfirmedOnChain(ctx, t.IdempotencyKey); err != nil {
					w.logMarkError(t, "on-chain confirm", err)
					return
				}
				log.Printf("confirm: trigger %s confirmed via on-chain fallback (trade=%d, age=%s)",
					t.IdempotencyKey, t.TradeID, age.Round(time.Second))
				w.observeConfirmed(t, now, "on_chain")
				return
			}
		}
	}

	event, err := w.indexer.FindConfirmationEvent(ctx, t.TxHash, t.TradeID)
	if err != nil {
		log.Printf("confirm: indexer query for trigger %s failed: %v", t.IdempotencyKey, err)
	} else if event != nil && w.matches(t, *event) {
		if err := w.store.MarkConfirmedByIndexer(ctx, t.IdempotencyKey, event.ID); err != nil {
			w.logMarkError(t, "indexer confirm", err)
			return
		}
		log.Printf("confirm: trigger %s confirmed by indexer (event=%s, trade=%d)",
			t.IdempotencyKey, event.ID, t.TradeID)
		w.observeConfirmed(t, now, "indexer")
		return
	}

	if pastHard {
		w.escalate(ctx, t, age)
	}
}

// allowFallback implements the per-trade rate limit. force bypasses the
// limit but still records the check time.
func (w *Worker) allowFallback(tradeID int64, now time.Time, force bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.lastFallback[tradeID]
	allowed := force || !ok || now.Sub(last) >= w.config.FallbackMinInterval
	if allowed {
		w.lastFallback[tradeID] = now
	}
	if w.metrics != nil {
		w.metrics.FallbackCheck(allowed)
	}
	return allowed
}

// checkOnChain reads the trade directly and reports whether its status has
// advanced past the precondition the trigger required.
func (w *Worker) checkOnChain(ctx context.Context, t domain.Trigger) (bool, error) {
	trade, err := w.ledger.GetTrade(ctx, t.TradeID)
	if err != nil {
		return false, err
	}
	return advancedPastPrecondition(t.Type, trade.Status), nil
}

// advancedPastPrecondition reports whether status is no longer the state the
// trigger type required, meaning the action (or a later one) took effect.
func advancedPastPrecondition(typ domain.TriggerType, status domain.TradeStatus) bool {
	if status == "" {
		return false
	}
	switch typ {
	case domain.TriggerTypeReleaseStage1:
		return status != domain.TradeStatusLocked
	case domain.TriggerTypeConfirmArrival:
		return status != domain.TradeStatusInTransit
	case domain.TriggerTypeFinalizeTrade:
		return status != domain.TradeStatusArrivalConfirmed
	default:
		return false
	}
}

// matches cross-checks an indexed event against the trigger it would
// confirm. Hash equality alone is not enough: the event must also name the
// expected contract event and the same trade.
func (w *Worker) matches(t domain.Trigger, event domain.ConfirmationEvent) bool {
	return event.TradeID == t.TradeID &&
		event.TxHash == t.TxHash &&
		event.Name == ExpectedEventName(t.Type)
}

// ExpectedEventName maps a trigger type to the contract event the indexer
// records when the action lands.
func ExpectedEventName(typ domain.TriggerType) string {
	switch typ {
	case domain.TriggerTypeReleaseStage1:
		return "FundsReleased"
	case domain.TriggerTypeConfirmArrival:
		return "ArrivalConfirmed"
	case domain.TriggerTypeFinalizeTrade:
		return "TradeFinalized"
	default:
		return ""
	}
}

// escalate moves a hard-timed-out trigger to exhausted and alerts an
// operator for redrive.
func (w *Worker) escalate(ctx context.Context, t domain.Trigger, age time.Duration) {
	msg := fmt.Sprintf("no confirmation from indexer or chain %s after submission (tx=%s)",
		age.Round(time.Second), t.TxHash)

	if err := w.store.MarkExhausted(ctx, t.IdempotencyKey, msg, string(errclass.TypeIndexerLag)); err != nil {
		w.logMarkError(t, "hard-timeout escalation", err)
		return
	}

	log.Printf("confirm: trigger %s exhausted on hard timeout (trade=%d, age=%s)",
		t.IdempotencyKey, t.TradeID, age.Round(time.Second))
	if w.metrics != nil {
		w.metrics.ConfirmationOutcome("hard_timeout")
	}

	if w.notifier != nil {
		w.notifier.Notify(ctx, domain.Notification{
			ID:             uuid.New(),
			Source:         "confirmation-worker",
			Type:           "TRIGGER_HARD_TIMEOUT",
			Severity:       domain.SeverityCritical,
			DedupKey:       "hard-timeout:" + t.IdempotencyKey,
			TradeID:        t.TradeID,
			IdempotencyKey: t.IdempotencyKey,
			Message:        msg,
			CreatedAt:      w.clock().UTC(),
		})
	}
}

func (w *Worker) observeConfirmed(t domain.Trigger, now time.Time, path string) {
	if w.metrics == nil {
		return
	}
	w.metrics.ConfirmationOutcome(path)
	if t.SubmittedAt != nil {
		w.metrics.ConfirmationLatency(now.Sub(*t.SubmittedAt))
	}
}

// logMarkError downgrades "someone else got there first" to a debug-level
// note; any other store failure is a real error.
func (w *Worker) logMarkError(t domain.Trigger, op string, err error) {
	if errors.Is(err, trigger.ErrStatusTransitionDenied) {
		log.Printf("confirm: trigger %s already transitioned, skipping %s", t.IdempotencyKey, op)
		return
	}
	log.Printf("confirm: %s for trigger %s failed: %v", op, t.IdempotencyKey, err)
}
