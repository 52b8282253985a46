// Package trigger orchestrates on-chain trigger execution: it dedupes
// requests by idempotency key, optionally gates execution behind manual
// approval, executes ledger writes with bounded retry and backoff, and
// persists every state transition so a restart can resume from the store.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/errclass"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/validator"
)

var (
	// ErrNotFound is returned by the store when no trigger matches a key.
	ErrNotFound = errors.New("trigger not found")

	// ErrDuplicateActionKey is returned by the store when an insert
	// conflicts with an active trigger for the same action key.
	ErrDuplicateActionKey = errors.New("active trigger already exists for action key")

	// ErrDuplicateIdempotencyKey is returned by the store when an insert
	// conflicts with an existing trigger for the same idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("trigger already exists for idempotency key")

	// ErrStatusTransitionDenied is returned when a status update would
	// regress from a state the row has already left. Implementations MUST
	// enforce transitions atomically; callers treat a denial as "someone
	// else got there first" and re-read.
	ErrStatusTransitionDenied = errors.New("status transition denied: trigger no longer in expected state")

	// ErrTradeNotFound is returned by the ledger client for trades that do
	// not exist on-chain.
	ErrTradeNotFound = errors.New("trade not found")
)

type Store interface {
	CreateTrigger(ctx context.Context, t domain.Trigger) error
	GetTriggerByIdempotencyKey(ctx context.Context, key string) (domain.Trigger, error)
	GetLatestTriggerByActionKey(ctx context.Context, actionKey string) (domain.Trigger, error)

	MarkPendingApproval(ctx context.Context, idempotencyKey string) error
	MarkApproved(ctx context.Context, idempotencyKey, actor string) error
	MarkRejected(ctx context.Context, idempotencyKey, actor, reason string) error

	MarkExecuting(ctx context.Context, idempotencyKey string, attempt int) error
	MarkSubmitted(ctx context.Context, idempotencyKey, txHash string, blockNumber int64) error
	MarkFailed(ctx context.Context, idempotencyKey string, attempt int, lastError string, errorType string) error
	MarkTerminalFailure(ctx context.Context, idempotencyKey, lastError, errorType string) error
	MarkExhausted(ctx context.Context, idempotencyKey, lastError, errorType string) error
}

type LedgerClient interface {
	GetTrade(ctx context.Context, tradeID int64) (domain.Trade, error)
	ReleaseFundsStage1(ctx context.Context, tradeID int64) (domain.TxReceipt, error)
	ConfirmArrival(ctx context.Context, tradeID int64) (domain.TxReceipt, error)
	FinalizeTrade(ctx context.Context, tradeID int64) (domain.TxReceipt, error)
}

// MetricsSink defines the interface for recording manager metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TriggerRequested(triggerType string)
	TriggerOutcome(status string)
	ExecutionAttempt(attempt int, errorType string)
	LedgerWriteDuration(d time.Duration)
}

// AnalyticsSink records trigger outcomes as a best-effort side-effect.
// Implementations handle errors internally.
type AnalyticsSink interface {
	Record(ctx context.Context, tradeID int64, typ domain.TriggerType, outcome domain.TriggerStatus)
}

// Result is the caller-visible outcome of a trigger operation.
type Result struct {
	IdempotencyKey string
	Status         domain.TriggerStatus
	TxHash         string
	BlockNumber    int64
	Message        string
}

type Config struct {
	// MaxAttempts bounds the retry loop. Default: 3.
	MaxAttempts int

	// BackoffBase is the first retry delay; each subsequent delay doubles.
	// Default: 2s.
	BackoffBase time.Duration

	// JitterMax caps the random jitter added to every backoff sleep.
	// Default: 500ms.
	JitterMax time.Duration

	// ApprovalRequired gates fresh triggers behind manual approval.
	// Redrives of exhausted triggers bypass the gate.
	ApprovalRequired bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		JitterMax:   500 * time.Millisecond,
	}
}

type Manager struct {
	config    Config
	store     Store
	ledger    LedgerClient
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time
	jitter    func(max time.Duration) time.Duration
}

func NewManager(config Config, store Store, ledger LedgerClient) *Manager {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 2 * time.Second
	}
	return &Manager{
		config: config,
		store:  store,
		ledger: ledger,
		clock:  time.Now,
		jitter: randomJitter,
	}
}

// WithMetrics attaches a metrics sink to the manager.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

// WithAnalytics attaches an analytics sink to the manager.
func (m *Manager) WithAnalytics(sink AnalyticsSink) *Manager {
	m.analytics = sink
	return m
}

// ExecuteTrigger runs the full trigger pipeline for one caller request:
// validate, dedupe, create, then execute (or park for approval).
//
// Replays and concurrent duplicates never error: they resolve to the state
// of the trigger that already owns the action.
func (m *Manager) ExecuteTrigger(ctx context.Context, tradeID int64, requestID string, typ domain.TriggerType) (Result, error) {
	if tradeID <= 0 {
		return Result{}, fmt.Errorf("invalid trade id %d", tradeID)
	}
	if requestID == "" {
		return Result{}, errors.New("request id is required")
	}
	if !typ.Valid() {
		return Result{}, fmt.Errorf("invalid trigger type %q", typ)
	}

	if m.metrics != nil {
		m.metrics.TriggerRequested(string(typ))
	}

	// Precondition check against live chain state. A failure here returns
	// without creating a record.
	trade, err := m.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) {
			return m.terminalResult("", errclass.Validationf("trade %d not found on chain", tradeID)), nil
		}
		return Result{}, fmt.Errorf("get trade %d: %w", tradeID, err)
	}
	if verr := validator.Validate(trade, typ, m.clock().UTC()); verr != nil {
		log.Printf("manager: trade=%d type=%s precondition rejected: %v", tradeID, typ, verr)
		if m.metrics != nil {
			m.metrics.TriggerOutcome(string(domain.TriggerStatusTerminalFailure))
		}
		return m.terminalResult("", errclass.Classify(verr)), nil
	}

	actionKey := ActionKey(typ, tradeID)

	// Idempotent short-circuit: if the action already went out on-chain,
	// return its recorded outcome. No new write, no new attempt.
	latest, err := m.store.GetLatestTriggerByActionKey(ctx, actionKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Result{}, fmt.Errorf("lookup action key %s: %w", actionKey, err)
	}
	haveLatest := err == nil
	if haveLatest && (latest.Status == domain.TriggerStatusSubmitted || latest.Status == domain.TriggerStatusConfirmed) {
		return describe(latest), nil
	}

	idempotencyKey := IdempotencyKey(actionKey, requestID)

	// Exact request replay, including replays of failed attempts.
	if existing, err := m.store.GetTriggerByIdempotencyKey(ctx, idempotencyKey); err == nil {
		return describe(existing), nil
	} else if !errors.Is(err, ErrNotFound) {
		return Result{}, fmt.Errorf("lookup idempotency key %s: %w", idempotencyKey, err)
	}

	isRedrive := haveLatest && latest.Status == domain.TriggerStatusExhausted

	now := m.clock().UTC()
	t := domain.Trigger{
		ID:             uuid.New(),
		ActionKey:      actionKey,
		IdempotencyKey: idempotencyKey,
		TradeID:        tradeID,
		Type:           typ,
		Status:         domain.TriggerStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.CreateTrigger(ctx, t); err != nil {
		// Creation raced with another request. Re-read and reuse the
		// concurrently-created row; concurrent duplicates collapse onto
		// one trigger.
		switch {
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			existing, rerr := m.store.GetTriggerByIdempotencyKey(ctx, idempotencyKey)
			if rerr != nil {
				return Result{}, fmt.Errorf("re-read after idempotency conflict: %w", rerr)
			}
			return describe(existing), nil
		case errors.Is(err, ErrDuplicateActionKey):
			winner, rerr := m.store.GetLatestTriggerByActionKey(ctx, actionKey)
			if rerr != nil {
				return Result{}, fmt.Errorf("re-read after action key conflict: %w", rerr)
			}
			log.Printf("manager: trade=%d type=%s concurrent duplicate, reusing trigger %s",
				tradeID, typ, winner.IdempotencyKey)
			return describe(winner), nil
		default:
			return Result{}, fmt.Errorf("create trigger: %w", err)
		}
	}

	if m.config.ApprovalRequired && !isRedrive {
		if err := m.store.MarkPendingApproval(ctx, idempotencyKey); err != nil {
			return Result{}, fmt.Errorf("mark pending approval: %w", err)
		}
		log.Printf("manager: trade=%d type=%s awaiting manual approval (key=%s)", tradeID, typ, idempotencyKey)
		return Result{
			IdempotencyKey: idempotencyKey,
			Status:         domain.TriggerStatusPendingApproval,
			Message:        "trigger created, awaiting manual approval",
		}, nil
	}

	if isRedrive {
		log.Printf("manager: trade=%d type=%s redrive of exhausted trigger %s (key=%s)",
			tradeID, typ, latest.IdempotencyKey, idempotencyKey)
	}

	return m.executeWithRetry(ctx, idempotencyKey, tradeID, typ)
}

// ResumeAfterApproval transitions a pending-approval trigger to approved and
// runs it. If the trigger already left pending_approval its current state is
// returned idempotently.
func (m *Manager) ResumeAfterApproval(ctx context.Context, idempotencyKey, actor string) (Result, error) {
	err := m.store.MarkApproved(ctx, idempotencyKey, actor)
	if err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			existing, rerr := m.store.GetTriggerByIdempotencyKey(ctx, idempotencyKey)
			if rerr != nil {
				return Result{}, fmt.Errorf("re-read after approval denial: %w", rerr)
			}
			return describe(existing), nil
		}
		return Result{}, fmt.Errorf("approve trigger %s: %w", idempotencyKey, err)
	}

	t, err := m.store.GetTriggerByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return Result{}, fmt.Errorf("read approved trigger %s: %w", idempotencyKey, err)
	}

	log.Printf("manager: trigger %s approved by %s", idempotencyKey, actor)
	return m.executeWithRetry(ctx, idempotencyKey, t.TradeID, t.Type)
}

// RejectPendingTrigger transitions a pending-approval trigger to rejected.
// Same idempotent-replay behavior as ResumeAfterApproval.
func (m *Manager) RejectPendingTrigger(ctx context.Context, idempotencyKey, actor, reason string) (Result, error) {
	err := m.store.MarkRejected(ctx, idempotencyKey, actor, reason)
	if err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			existing, rerr := m.store.GetTriggerByIdempotencyKey(ctx, idempotencyKey)
			if rerr != nil {
				return Result{}, fmt.Errorf("re-read after rejection denial: %w", rerr)
			}
			return describe(existing), nil
		}
		return Result{}, fmt.Errorf("reject trigger %s: %w", idempotencyKey, err)
	}

	log.Printf("manager: trigger %s rejected by %s (reason=%q)", idempotencyKey, actor, reason)
	m.recordOutcome(ctx, idempotencyKey, domain.TriggerStatusRejected)
	return Result{
		IdempotencyKey: idempotencyKey,
		Status:         domain.TriggerStatusRejected,
		Message:        "trigger rejected",
	}, nil
}

// executeWithRetry runs the bounded retry loop. Every failure path writes an
// updated status before returning or looping, so a crash never leaves the
// row stale relative to what actually happened.
func (m *Manager) executeWithRetry(ctx context.Context, idempotencyKey string, tradeID int64, typ domain.TriggerType) (Result, error) {
	var lastErr *errclass.Error

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		// Re-validate live chain state: it may have advanced between
		// enqueue and execute (or between retries).
		trade, err := m.ledger.GetTrade(ctx, tradeID)
		if err != nil {
			if errors.Is(err, ErrTradeNotFound) {
				ce := errclass.Validationf("trade %d not found on chain", tradeID)
				return m.failTerminal(ctx, idempotencyKey, ce)
			}
			lastErr = errclass.Classify(err)
			if lastErr.Terminal {
				return m.failTerminal(ctx, idempotencyKey, lastErr)
			}
			if res, done := m.failRetryable(ctx, idempotencyKey, attempt, lastErr); done {
				return res, nil
			}
			continue
		}
		if verr := validator.Validate(trade, typ, m.clock().UTC()); verr != nil {
			return m.failTerminal(ctx, idempotencyKey, errclass.Classify(verr))
		}

		if err := m.store.MarkExecuting(ctx, idempotencyKey, attempt); err != nil {
			return Result{}, fmt.Errorf("mark executing (attempt %d): %w", attempt, err)
		}

		start := m.clock()
		receipt, err := m.submit(ctx, typ, tradeID)
		if m.metrics != nil {
			m.metrics.LedgerWriteDuration(m.clock().Sub(start))
		}

		if err == nil {
			if m.metrics != nil {
				m.metrics.ExecutionAttempt(attempt, "")
			}
			if err := m.store.MarkSubmitted(ctx, idempotencyKey, receipt.TxHash, receipt.BlockNumber); err != nil {
				return Result{}, fmt.Errorf("mark submitted: %w", err)
			}
			log.Printf("manager: trade=%d type=%s submitted tx=%s block=%d attempt=%d",
				tradeID, typ, receipt.TxHash, receipt.BlockNumber, attempt)
			m.recordOutcome(ctx, idempotencyKey, domain.TriggerStatusSubmitted)
			return Result{
				IdempotencyKey: idempotencyKey,
				Status:         domain.TriggerStatusSubmitted,
				TxHash:         receipt.TxHash,
				BlockNumber:    receipt.BlockNumber,
				Message:        "transaction submitted, awaiting confirmation",
			}, nil
		}

		lastErr = errclass.Classify(err)
		if m.metrics != nil {
			m.metrics.ExecutionAttempt(attempt, string(lastErr.Type))
		}
		if lastErr.Terminal {
			return m.failTerminal(ctx, idempotencyKey, lastErr)
		}
		if res, done := m.failRetryable(ctx, idempotencyKey, attempt, lastErr); done {
			return res, nil
		}
	}

	// Attempts exhausted: recoverable terminal state, distinct from
	// terminal failure so operator tooling knows a redrive is appropriate.
	msg := "retry attempts exhausted"
	errType := string(errclass.TypeNetwork)
	if lastErr != nil {
		msg = fmt.Sprintf("retry attempts exhausted: %s", lastErr.Message)
		errType = string(lastErr.Type)
	}
	if err := m.store.MarkExhausted(ctx, idempotencyKey, msg, errType); err != nil {
		return Result{}, fmt.Errorf("mark exhausted: %w", err)
	}
	log.Printf("manager: trigger %s exhausted after %d attempts: %s", idempotencyKey, m.config.MaxAttempts, msg)
	m.recordOutcome(ctx, idempotencyKey, domain.TriggerStatusExhausted)
	return Result{
		IdempotencyKey: idempotencyKey,
		Status:         domain.TriggerStatusExhausted,
		Message:        msg,
	}, nil
}

// failRetryable records a failed attempt and sleeps the backoff when more
// attempts remain. done=true means the loop should stop and return res now
// (only on context cancellation mid-backoff).
func (m *Manager) failRetryable(ctx context.Context, idempotencyKey string, attempt int, ce *errclass.Error) (Result, bool) {
	if err := m.store.MarkFailed(ctx, idempotencyKey, attempt, ce.Message, string(ce.Type)); err != nil {
		log.Printf("manager: failed to record attempt %d for %s: %v", attempt, idempotencyKey, err)
	}
	log.Printf("manager: trigger %s attempt=%d failed (%s): %s", idempotencyKey, attempt, ce.Type, ce.Message)

	if attempt >= m.config.MaxAttempts {
		return Result{}, false
	}

	backoff := m.backoffForAttempt(attempt)
	timer := time.NewTimer(backoff)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return Result{
			IdempotencyKey: idempotencyKey,
			Status:         domain.TriggerStatusFailed,
			Message:        "execution interrupted: " + ctx.Err().Error(),
		}, true
	case <-timer.C:
		return Result{}, false
	}
}

func (m *Manager) failTerminal(ctx context.Context, idempotencyKey string, ce *errclass.Error) (Result, error) {
	if err := m.store.MarkTerminalFailure(ctx, idempotencyKey, ce.Message, string(ce.Type)); err != nil {
		return Result{}, fmt.Errorf("mark terminal failure: %w", err)
	}
	log.Printf("manager: trigger %s terminal failure (%s): %s", idempotencyKey, ce.Type, ce.Message)
	m.recordOutcome(ctx, idempotencyKey, domain.TriggerStatusTerminalFailure)
	return m.terminalResult(idempotencyKey, ce), nil
}

func (m *Manager) terminalResult(idempotencyKey string, ce *errclass.Error) Result {
	return Result{
		IdempotencyKey: idempotencyKey,
		Status:         domain.TriggerStatusTerminalFailure,
		Message:        ce.Message,
	}
}

func (m *Manager) submit(ctx context.Context, typ domain.TriggerType, tradeID int64) (domain.TxReceipt, error) {
	switch typ {
	case domain.TriggerTypeReleaseStage1:
		return m.ledger.ReleaseFundsStage1(ctx, tradeID)
	case domain.TriggerTypeConfirmArrival:
		return m.ledger.ConfirmArrival(ctx, tradeID)
	case domain.TriggerTypeFinalizeTrade:
		return m.ledger.FinalizeTrade(ctx, tradeID)
	default:
		return domain.TxReceipt{}, errclass.Validationf("invalid trigger type %q", typ)
	}
}

// backoffForAttempt computes base * 2^(attempt-1) plus random jitter capped
// by JitterMax. One consistent jitter policy for every code path.
func (m *Manager) backoffForAttempt(attempt int) time.Duration {
	backoff := m.config.BackoffBase << (attempt - 1)
	if m.config.JitterMax > 0 {
		backoff += m.jitter(m.config.JitterMax)
	}
	return backoff
}

func randomJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(max)))
}

func (m *Manager) recordOutcome(ctx context.Context, idempotencyKey string, status domain.TriggerStatus) {
	if m.metrics != nil {
		m.metrics.TriggerOutcome(string(status))
	}
	if m.analytics == nil {
		return
	}
	t, err := m.store.GetTriggerByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return
	}
	m.analytics.Record(ctx, t.TradeID, t.Type, status)
}

// describe maps a stored trigger to the caller-visible result for replays
// and short-circuits.
func describe(t domain.Trigger) Result {
	r := Result{
		IdempotencyKey: t.IdempotencyKey,
		Status:         t.Status,
		TxHash:         t.TxHash,
		BlockNumber:    t.BlockNumber,
	}
	switch t.Status {
	case domain.TriggerStatusSubmitted:
		r.Message = fmt.Sprintf("transaction already submitted (tx=%s)", t.TxHash)
	case domain.TriggerStatusConfirmed:
		r.Message = fmt.Sprintf("action already confirmed (tx=%s)", t.TxHash)
	case domain.TriggerStatusPendingApproval:
		r.Message = "trigger awaiting manual approval"
	case domain.TriggerStatusPending, domain.TriggerStatusExecuting:
		r.Message = "trigger execution in progress"
	case domain.TriggerStatusFailed:
		r.Message = fmt.Sprintf("last attempt failed: %s", t.LastError)
	case domain.TriggerStatusTerminalFailure:
		r.Message = t.LastError
	case domain.TriggerStatusExhausted:
		r.Message = t.LastError
	case domain.TriggerStatusRejected:
		r.Message = "trigger rejected"
	default:
		r.Message = string(t.Status)
	}
	return r
}
