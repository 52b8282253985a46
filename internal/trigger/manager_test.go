package trigger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/errclass"
)

// mockStore is an in-memory trigger store that enforces the same status
// transition guards as the postgres implementation.
type mockStore struct {
	mu       sync.Mutex
	triggers map[string]domain.Trigger
	order    []string
}

func newMockStore() *mockStore {
	return &mockStore{triggers: make(map[string]domain.Trigger)}
}

// actionKeyActive mirrors the partial unique index on action_key: rows in
// these statuses no longer hold the key, so a fresh row may be inserted.
func actionKeyActive(s domain.TriggerStatus) bool {
	switch s {
	case domain.TriggerStatusTerminalFailure, domain.TriggerStatusExhausted, domain.TriggerStatusRejected:
		return false
	}
	return true
}

func (s *mockStore) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.IdempotencyKey]; ok {
		return ErrDuplicateIdempotencyKey
	}
	for _, key := range s.order {
		existing := s.triggers[key]
		if existing.ActionKey == t.ActionKey && actionKeyActive(existing.Status) {
			return ErrDuplicateActionKey
		}
	}
	s.triggers[t.IdempotencyKey] = t
	s.order = append(s.order, t.IdempotencyKey)
	return nil
}

func (s *mockStore) GetTriggerByIdempotencyKey(ctx context.Context, key string) (domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[key]
	if !ok {
		return domain.Trigger{}, ErrNotFound
	}
	return t, nil
}

func (s *mockStore) GetLatestTriggerByActionKey(ctx context.Context, actionKey string) (domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.triggers[s.order[i]]
		if t.ActionKey == actionKey {
			return t, nil
		}
	}
	return domain.Trigger{}, ErrNotFound
}

// transition applies a guarded status update the way the SQL store does:
// the update only lands when the row is still in one of the from statuses.
func (s *mockStore) transition(key string, from []domain.TriggerStatus, apply func(*domain.Trigger)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[key]
	if !ok {
		return ErrNotFound
	}
	for _, f := range from {
		if t.Status == f {
			apply(&t)
			s.triggers[key] = t
			return nil
		}
	}
	return ErrStatusTransitionDenied
}

func (s *mockStore) MarkPendingApproval(ctx context.Context, key string) error {
	return s.transition(key, []domain.TriggerStatus{domain.TriggerStatusPending}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusPendingApproval
	})
}

func (s *mockStore) MarkApproved(ctx context.Context, key, actor string) error {
	return s.transition(key, []domain.TriggerStatus{domain.TriggerStatusPendingApproval}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusPending
		t.ApprovedBy = actor
	})
}

func (s *mockStore) MarkRejected(ctx context.Context, key, actor, reason string) error {
	return s.transition(key, []domain.TriggerStatus{domain.TriggerStatusPendingApproval}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusRejected
		t.RejectedBy = actor
		t.RejectionReason = reason
	})
}

func (s *mockStore) MarkExecuting(ctx context.Context, key string, attempt int) error {
	return s.transition(key, []domain.TriggerStatus{
		domain.TriggerStatusPending, domain.TriggerStatusExecuting, domain.TriggerStatusFailed,
	}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusExecuting
		t.AttemptCount = attempt
	})
}

func (s *mockStore) MarkSubmitted(ctx context.Context, key, txHash string, blockNumber int64) error {
	return s.transition(key, []domain.TriggerStatus{domain.TriggerStatusExecuting}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusSubmitted
		t.TxHash = txHash
		t.BlockNumber = blockNumber
	})
}

func (s *mockStore) MarkFailed(ctx context.Context, key string, attempt int, lastError, errorType string) error {
	return s.transition(key, []domain.TriggerStatus{
		domain.TriggerStatusPending, domain.TriggerStatusExecuting, domain.TriggerStatusFailed,
	}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusFailed
		t.AttemptCount = attempt
		t.LastError = lastError
		t.ErrorType = errorType
	})
}

func (s *mockStore) MarkTerminalFailure(ctx context.Context, key, lastError, errorType string) error {
	return s.transition(key, []domain.TriggerStatus{
		domain.TriggerStatusPending, domain.TriggerStatusExecuting, domain.TriggerStatusFailed,
	}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusTerminalFailure
		t.LastError = lastError
		t.ErrorType = errorType
	})
}

func (s *mockStore) MarkExhausted(ctx context.Context, key, lastError, errorType string) error {
	return s.transition(key, []domain.TriggerStatus{
		domain.TriggerStatusPending, domain.TriggerStatusExecuting,
		domain.TriggerStatusFailed, domain.TriggerStatusSubmitted,
	}, func(t *domain.Trigger) {
		t.Status = domain.TriggerStatusExhausted
		t.LastError = lastError
		t.ErrorType = errorType
	})
}

func (s *mockStore) get(key string) domain.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers[key]
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// mockLedger serves a fixed set of trades and scripts submit outcomes:
// submitErrs are consumed one per write call, then writes succeed.
type mockLedger struct {
	mu          sync.Mutex
	trades      map[int64]domain.Trade
	tradeSeq    []domain.Trade // consumed one per GetTrade before the map
	tradeErrs   []error        // consumed one per GetTrade first; nil = read normally
	submitErrs  []error
	submitCalls int
	receipt     domain.TxReceipt
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		trades:  make(map[int64]domain.Trade),
		receipt: domain.TxReceipt{TxHash: "0xabc123", BlockNumber: 777},
	}
}

func (l *mockLedger) GetTrade(ctx context.Context, tradeID int64) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tradeErrs) > 0 {
		err := l.tradeErrs[0]
		l.tradeErrs = l.tradeErrs[1:]
		if err != nil {
			return domain.Trade{}, err
		}
	}
	if len(l.tradeSeq) > 0 {
		trade := l.tradeSeq[0]
		l.tradeSeq = l.tradeSeq[1:]
		return trade, nil
	}
	trade, ok := l.trades[tradeID]
	if !ok {
		return domain.Trade{}, ErrTradeNotFound
	}
	return trade, nil
}

func (l *mockLedger) write(tradeID int64) (domain.TxReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitCalls++
	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		if err != nil {
			return domain.TxReceipt{}, err
		}
	}
	return l.receipt, nil
}

func (l *mockLedger) ReleaseFundsStage1(ctx context.Context, tradeID int64) (domain.TxReceipt, error) {
	return l.write(tradeID)
}

func (l *mockLedger) ConfirmArrival(ctx context.Context, tradeID int64) (domain.TxReceipt, error) {
	return l.write(tradeID)
}

func (l *mockLedger) FinalizeTrade(ctx context.Context, tradeID int64) (domain.TxReceipt, error) {
	return l.write(tradeID)
}

func (l *mockLedger) writeCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitCalls
}

func (l *mockLedger) setTrade(trade domain.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades[trade.ID] = trade
}

func newTestManager(store *mockStore, ledger *mockLedger, cfg Config) *Manager {
	m := NewManager(cfg, store, ledger)
	// Deterministic, fast backoff for tests.
	m.jitter = func(max time.Duration) time.Duration { return 0 }
	return m
}

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		JitterMax:   0,
	}
}

func TestManager_ExecuteTrigger_SubmitsOnFirstAttempt(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusSubmitted {
		t.Fatalf("status = %s, want submitted", res.Status)
	}
	if res.TxHash != "0xabc123" || res.BlockNumber != 777 {
		t.Errorf("receipt = (%s, %d), want (0xabc123, 777)", res.TxHash, res.BlockNumber)
	}
	if ledger.writeCalls() != 1 {
		t.Errorf("write calls = %d, want 1", ledger.writeCalls())
	}

	row := store.get(res.IdempotencyKey)
	if row.Status != domain.TriggerStatusSubmitted {
		t.Errorf("stored status = %s, want submitted", row.Status)
	}
	if row.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", row.AttemptCount)
	}
}

func TestManager_ExecuteTrigger_PreconditionFailureCreatesNoRecord(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusCreated})
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusTerminalFailure {
		t.Fatalf("status = %s, want terminal_failure", res.Status)
	}
	if store.count() != 0 {
		t.Errorf("trigger rows = %d, want 0", store.count())
	}
	if ledger.writeCalls() != 0 {
		t.Errorf("write calls = %d, want 0", ledger.writeCalls())
	}
}

func TestManager_ExecuteTrigger_UnknownTradeCreatesNoRecord(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 999, "req-1", domain.TriggerTypeFinalizeTrade)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusTerminalFailure {
		t.Fatalf("status = %s, want terminal_failure", res.Status)
	}
	if store.count() != 0 {
		t.Errorf("trigger rows = %d, want 0", store.count())
	}
}

func TestManager_ExecuteTrigger_ReplayReturnsRecordedResultWithoutNewWrite(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	m := newTestManager(store, ledger, fastConfig())

	first, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("first ExecuteTrigger: %v", err)
	}
	replay, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("replay ExecuteTrigger: %v", err)
	}

	if replay.IdempotencyKey != first.IdempotencyKey {
		t.Errorf("replay key = %s, want %s", replay.IdempotencyKey, first.IdempotencyKey)
	}
	if replay.Status != domain.TriggerStatusSubmitted || replay.TxHash != first.TxHash {
		t.Errorf("replay = (%s, %s), want (submitted, %s)", replay.Status, replay.TxHash, first.TxHash)
	}
	if ledger.writeCalls() != 1 {
		t.Errorf("write calls = %d, want 1", ledger.writeCalls())
	}
	if store.count() != 1 {
		t.Errorf("trigger rows = %d, want 1", store.count())
	}
}

func TestManager_ExecuteTrigger_ActionKeyShortCircuitAcrossRequestIDs(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	m := newTestManager(store, ledger, fastConfig())

	first, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("first ExecuteTrigger: %v", err)
	}

	// A different caller asking for the same logical action must not cause
	// a second on-chain write.
	second, err := m.ExecuteTrigger(context.Background(), 42, "req-2", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("second ExecuteTrigger: %v", err)
	}
	if second.Status != domain.TriggerStatusSubmitted || second.TxHash != first.TxHash {
		t.Errorf("second = (%s, %s), want (submitted, %s)", second.Status, second.TxHash, first.TxHash)
	}
	if ledger.writeCalls() != 1 {
		t.Errorf("write calls = %d, want 1", ledger.writeCalls())
	}
	if store.count() != 1 {
		t.Errorf("trigger rows = %d, want 1", store.count())
	}
}

func TestManager_ExecuteTrigger_ConcurrentDuplicatesCollapseToOneWrite(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	m := newTestManager(store, ledger, fastConfig())

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Result, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if ledger.writeCalls() != 1 {
		t.Errorf("write calls = %d, want 1", ledger.writeCalls())
	}
	if store.count() != 1 {
		t.Errorf("trigger rows = %d, want 1", store.count())
	}
	for i, res := range results {
		if res.IdempotencyKey != results[0].IdempotencyKey {
			t.Errorf("worker %d key = %s, want %s", i, res.IdempotencyKey, results[0].IdempotencyKey)
		}
	}
}

func TestManager_ExecuteTrigger_RetryableFailuresExhaustAttempts(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusInTransit})
	ledger.submitErrs = []error{
		errors.New("connection refused"),
		errors.New("i/o timeout"),
		errors.New("connection refused"),
	}
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeConfirmArrival)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusExhausted {
		t.Fatalf("status = %s, want exhausted_needs_redrive", res.Status)
	}
	if !strings.HasPrefix(res.Message, "retry attempts exhausted") {
		t.Errorf("message = %q, want retry-exhausted prefix", res.Message)
	}
	if ledger.writeCalls() != 3 {
		t.Errorf("write calls = %d, want 3", ledger.writeCalls())
	}

	row := store.get(res.IdempotencyKey)
	if row.Status != domain.TriggerStatusExhausted {
		t.Errorf("stored status = %s, want exhausted_needs_redrive", row.Status)
	}
	if row.ErrorType != string(errclass.TypeNetwork) {
		t.Errorf("error type = %s, want NETWORK", row.ErrorType)
	}
	if row.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", row.AttemptCount)
	}
}

// The pre-attempt trade read can fail before the row ever reaches executing.
// Those failures must still be recorded and the row must still exhaust, or
// the action key stays held by a wedged pending row forever.
func TestManager_ExecuteTrigger_RetryableGetTradeFailuresExhaust(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	// Precondition read succeeds, every in-loop re-validation read fails.
	ledger.tradeErrs = []error{
		nil,
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusExhausted {
		t.Fatalf("status = %s, want exhausted_needs_redrive", res.Status)
	}
	if ledger.writeCalls() != 0 {
		t.Errorf("write calls = %d, want 0 (re-validation never passed)", ledger.writeCalls())
	}

	row := store.get(res.IdempotencyKey)
	if row.Status != domain.TriggerStatusExhausted {
		t.Fatalf("stored status = %s, want exhausted_needs_redrive", row.Status)
	}
	if row.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", row.AttemptCount)
	}
	if row.LastError == "" || row.ErrorType != string(errclass.TypeNetwork) {
		t.Errorf("failure not recorded: last_error=%q error_type=%q", row.LastError, row.ErrorType)
	}

	// Exhausted released the action key: a fresh request id redrives.
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	res2, err := m.ExecuteTrigger(context.Background(), 42, "req-2", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("redrive ExecuteTrigger: %v", err)
	}
	if res2.Status != domain.TriggerStatusSubmitted {
		t.Fatalf("redrive status = %s, want submitted", res2.Status)
	}
}

func TestManager_ExecuteTrigger_RetryThenSuccess(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	ledger.submitErrs = []error{errors.New("connection reset by peer")}
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusSubmitted {
		t.Fatalf("status = %s, want submitted", res.Status)
	}
	if ledger.writeCalls() != 2 {
		t.Errorf("write calls = %d, want 2", ledger.writeCalls())
	}
	if row := store.get(res.IdempotencyKey); row.AttemptCount != 2 {
		t.Errorf("attempt count = %d, want 2", row.AttemptCount)
	}
}

func TestManager_ExecuteTrigger_TerminalErrorStopsAfterOneAttempt(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	ledger.submitErrs = []error{
		errors.New("execution reverted: already executed"),
		errors.New("execution reverted: already executed"),
		errors.New("execution reverted: already executed"),
	}
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusTerminalFailure {
		t.Fatalf("status = %s, want terminal_failure", res.Status)
	}
	if ledger.writeCalls() != 1 {
		t.Errorf("write calls = %d, want 1", ledger.writeCalls())
	}
	if row := store.get(res.IdempotencyKey); row.ErrorType != string(errclass.TypeContract) {
		t.Errorf("error type = %s, want CONTRACT", row.ErrorType)
	}
}

func TestManager_ExecuteTrigger_ApprovalModeParksTriggerWithoutWrite(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	cfg := fastConfig()
	cfg.ApprovalRequired = true
	m := newTestManager(store, ledger, cfg)

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", res.Status)
	}
	if ledger.writeCalls() != 0 {
		t.Errorf("write calls = %d, want 0", ledger.writeCalls())
	}

	approved, err := m.ResumeAfterApproval(context.Background(), res.IdempotencyKey, "ops@example.com")
	if err != nil {
		t.Fatalf("ResumeAfterApproval: %v", err)
	}
	if approved.Status != domain.TriggerStatusSubmitted {
		t.Fatalf("approved status = %s, want submitted", approved.Status)
	}
	if ledger.writeCalls() != 1 {
		t.Errorf("write calls after approval = %d, want 1", ledger.writeCalls())
	}
	if row := store.get(res.IdempotencyKey); row.ApprovedBy != "ops@example.com" {
		t.Errorf("approved by = %q, want ops@example.com", row.ApprovedBy)
	}
}

func TestManager_RejectPendingTrigger(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	cfg := fastConfig()
	cfg.ApprovalRequired = true
	m := newTestManager(store, ledger, cfg)

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}

	rejected, err := m.RejectPendingTrigger(context.Background(), res.IdempotencyKey, "ops@example.com", "manual review failed")
	if err != nil {
		t.Fatalf("RejectPendingTrigger: %v", err)
	}
	if rejected.Status != domain.TriggerStatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if ledger.writeCalls() != 0 {
		t.Errorf("write calls = %d, want 0", ledger.writeCalls())
	}

	// Approving a rejected trigger resolves idempotently to its state
	// instead of erroring or executing.
	after, err := m.ResumeAfterApproval(context.Background(), res.IdempotencyKey, "ops@example.com")
	if err != nil {
		t.Fatalf("ResumeAfterApproval after rejection: %v", err)
	}
	if after.Status != domain.TriggerStatusRejected {
		t.Errorf("status = %s, want rejected", after.Status)
	}
	if ledger.writeCalls() != 0 {
		t.Errorf("write calls = %d, want 0", ledger.writeCalls())
	}
}

func TestManager_ExecuteTrigger_RedriveBypassesApprovalGate(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	ledger.setTrade(domain.Trade{ID: 42, Status: domain.TradeStatusLocked})
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	m := newTestManager(store, ledger, cfg)

	ledger.submitErrs = []error{errors.New("connection refused")}
	first, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("first ExecuteTrigger: %v", err)
	}
	if first.Status != domain.TriggerStatusExhausted {
		t.Fatalf("first status = %s, want exhausted_needs_redrive", first.Status)
	}

	// Approval mode comes on after the exhaustion; the redrive of the same
	// action must still run without waiting for approval.
	cfg.ApprovalRequired = true
	m2 := newTestManager(store, ledger, cfg)
	redrive, err := m2.ExecuteTrigger(context.Background(), 42, "req-2", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("redrive ExecuteTrigger: %v", err)
	}
	if redrive.Status != domain.TriggerStatusSubmitted {
		t.Fatalf("redrive status = %s, want submitted", redrive.Status)
	}
	if store.count() != 2 {
		t.Errorf("trigger rows = %d, want 2 (exhausted + redrive)", store.count())
	}
}

func TestManager_ExecuteTrigger_InvalidArguments(t *testing.T) {
	m := newTestManager(newMockStore(), newMockLedger(), fastConfig())
	ctx := context.Background()

	if _, err := m.ExecuteTrigger(ctx, 0, "req-1", domain.TriggerTypeReleaseStage1); err == nil {
		t.Error("expected error for trade id 0")
	}
	if _, err := m.ExecuteTrigger(ctx, 42, "", domain.TriggerTypeReleaseStage1); err == nil {
		t.Error("expected error for empty request id")
	}
	if _, err := m.ExecuteTrigger(ctx, 42, "req-1", domain.TriggerType("MELT_FUNDS")); err == nil {
		t.Error("expected error for unknown trigger type")
	}
}

func TestManager_BackoffForAttempt_DoublesPerAttempt(t *testing.T) {
	m := newTestManager(newMockStore(), newMockLedger(), Config{
		MaxAttempts: 5,
		BackoffBase: 2 * time.Second,
		JitterMax:   500 * time.Millisecond,
	})
	m.jitter = func(max time.Duration) time.Duration { return max }

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2*time.Second + 500*time.Millisecond},
		{2, 4*time.Second + 500*time.Millisecond},
		{3, 8*time.Second + 500*time.Millisecond},
	}
	for _, tc := range cases {
		if got := m.backoffForAttempt(tc.attempt); got != tc.want {
			t.Errorf("backoffForAttempt(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestManager_ExecuteTrigger_TradeAdvancedBetweenRetries(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	// Precheck and attempt 1 see LOCKED; by the retry the trade has
	// advanced, so the re-validation before attempt 2 fails terminally.
	ledger.tradeSeq = []domain.Trade{
		{ID: 42, Status: domain.TradeStatusLocked},
		{ID: 42, Status: domain.TradeStatusLocked},
		{ID: 42, Status: domain.TradeStatusInTransit},
	}
	ledger.submitErrs = []error{errors.New("connection refused")}
	m := newTestManager(store, ledger, fastConfig())

	res, err := m.ExecuteTrigger(context.Background(), 42, "req-1", domain.TriggerTypeReleaseStage1)
	if err != nil {
		t.Fatalf("ExecuteTrigger: %v", err)
	}
	if res.Status != domain.TriggerStatusTerminalFailure {
		t.Errorf("status = %s, want terminal_failure", res.Status)
	}
	if calls := ledger.writeCalls(); calls != 1 {
		t.Errorf("write calls = %d, want 1", calls)
	}
}
