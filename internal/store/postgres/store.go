package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/audit"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/confirm"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"
)

// Store implements trigger.Store and confirm.Store using PostgreSQL.
// Status transitions use atomic UPDATEs with the expected prior state in the
// WHERE clause; this, not in-process locking, is what keeps concurrent
// instances from double-submitting.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// New creates a new PostgreSQL store. opTimeout bounds every operation;
// zero disables the per-op deadline.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, clock: time.Now}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateTrigger inserts a new pending trigger row.
// Returns trigger.ErrDuplicateIdempotencyKey or trigger.ErrDuplicateActionKey
// on the respective uniqueness conflict.
func (s *Store) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID,
		t.ActionKey,
		t.IdempotencyKey,
		t.TradeID,
		string(t.Type),
		string(t.Status),
		t.CreatedAt,
	)
	if err != nil {
		if dup, which := duplicateKey(err); dup {
			if which == "idempotency_key" {
				return trigger.ErrDuplicateIdempotencyKey
			}
			return trigger.ErrDuplicateActionKey
		}
		return err
	}
	return nil
}

// GetTriggerByIdempotencyKey returns the trigger for one caller request.
func (s *Store) GetTriggerByIdempotencyKey(ctx context.Context, key string) (domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetTriggerByIdempotencyKey, key)
	return scanTrigger(row)
}

// GetLatestTriggerByActionKey returns the most recently created trigger for
// a logical action.
func (s *Store) GetLatestTriggerByActionKey(ctx context.Context, actionKey string) (domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetLatestTriggerByActionKey, actionKey)
	return scanTrigger(row)
}

// GetTriggersByStatus returns up to limit triggers in the given status,
// oldest first.
func (s *Store) GetTriggersByStatus(ctx context.Context, status domain.TriggerStatus, limit int) ([]domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetTriggersByStatus, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

// ListTriggersByTrade returns triggers for a trade, newest first.
func (s *Store) ListTriggersByTrade(ctx context.Context, tradeID int64, limit, offset int) ([]domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTriggersByTrade, tradeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

// CountTriggersByStatus returns the number of triggers in the given status.
func (s *Store) CountTriggersByStatus(ctx context.Context, status domain.TriggerStatus) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx, queryCountTriggersByStatus, string(status)).Scan(&count)
	return count, err
}

func (s *Store) MarkPendingApproval(ctx context.Context, idempotencyKey string) error {
	return s.guardedUpdate(ctx, queryMarkPendingApproval, idempotencyKey, s.clock().UTC())
}

func (s *Store) MarkApproved(ctx context.Context, idempotencyKey, actor string) error {
	return s.guardedUpdate(ctx, queryMarkApproved, idempotencyKey, actor, s.clock().UTC())
}

func (s *Store) MarkRejected(ctx context.Context, idempotencyKey, actor, reason string) error {
	return s.guardedUpdate(ctx, queryMarkRejected, idempotencyKey, actor, reason, s.clock().UTC())
}

func (s *Store) MarkExecuting(ctx context.Context, idempotencyKey string, attempt int) error {
	return s.guardedUpdate(ctx, queryMarkExecuting, idempotencyKey, attempt, s.clock().UTC())
}

func (s *Store) MarkSubmitted(ctx context.Context, idempotencyKey, txHash string, blockNumber int64) error {
	return s.guardedUpdate(ctx, queryMarkSubmitted, idempotencyKey, txHash, blockNumber, s.clock().UTC())
}

func (s *Store) MarkFailed(ctx context.Context, idempotencyKey string, attempt int, lastError, errorType string) error {
	return s.guardedUpdate(ctx, queryMarkFailed, idempotencyKey, attempt, lastError, errorType, s.clock().UTC())
}

func (s *Store) MarkTerminalFailure(ctx context.Context, idempotencyKey, lastError, errorType string) error {
	return s.guardedUpdate(ctx, queryMarkTerminalFailure, idempotencyKey, lastError, errorType, s.clock().UTC())
}

func (s *Store) MarkExhausted(ctx context.Context, idempotencyKey, lastError, errorType string) error {
	return s.guardedUpdate(ctx, queryMarkExhausted, idempotencyKey, lastError, errorType, s.clock().UTC())
}

func (s *Store) MarkConfirmedByIndexer(ctx context.Context, idempotencyKey, eventID string) error {
	return s.guardedUpdate(ctx, queryMarkConfirmedByIndexer, idempotencyKey, eventID, s.clock().UTC())
}

func (s *Store) MarkConfirmedOnChain(ctx context.Context, idempotencyKey string) error {
	return s.guardedUpdate(ctx, queryMarkConfirmedOnChain, idempotencyKey, s.clock().UTC())
}

// guardedUpdate runs a status transition whose WHERE clause encodes the
// allowed prior states. Zero rows affected means either the trigger does
// not exist (trigger.ErrNotFound) or it already left the expected state
// (trigger.ErrStatusTransitionDenied). PostgreSQL acquires the row lock
// before evaluating WHERE, so concurrent transitions serialize.
func (s *Store) guardedUpdate(ctx context.Context, query string, idempotencyKey string, args ...any) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	all := append([]any{idempotencyKey}, args...)
	result, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, queryGetTriggerStatus, idempotencyKey).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return trigger.ErrNotFound
	}
	if err != nil {
		return err
	}
	return trigger.ErrStatusTransitionDenied
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTrigger.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTrigger reads one trigger row. Columns that are NULL until a later
// transition fills them (tx_hash, approval audit fields, last_error, ...)
// go through Null* holders; a fresh pending row has all of them NULL.
func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var (
		t           domain.Trigger
		typ, status string
		txHash      sql.NullString
		blockNumber sql.NullInt64
		eventID     sql.NullString
		approvedBy  sql.NullString
		rejectedBy  sql.NullString
		rejection   sql.NullString
		lastError   sql.NullString
		errorType   sql.NullString
	)

	err := row.Scan(
		&t.ID,
		&t.ActionKey,
		&t.IdempotencyKey,
		&t.TradeID,
		&typ,
		&status,
		&t.AttemptCount,
		&txHash,
		&blockNumber,
		&t.IndexerConfirmed,
		&t.IndexerConfirmedAt,
		&eventID,
		&t.OnChainVerified,
		&t.OnChainVerifiedAt,
		&approvedBy,
		&t.ApprovedAt,
		&rejectedBy,
		&t.RejectedAt,
		&rejection,
		&lastError,
		&errorType,
		&t.CreatedAt,
		&t.SubmittedAt,
		&t.ConfirmedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trigger{}, trigger.ErrNotFound
	}
	if err != nil {
		return domain.Trigger{}, err
	}

	t.Type = domain.TriggerType(typ)
	t.Status = domain.TriggerStatus(status)
	t.TxHash = txHash.String
	t.BlockNumber = blockNumber.Int64
	t.IndexerEventID = eventID.String
	t.ApprovedBy = approvedBy.String
	t.RejectedBy = rejectedBy.String
	t.RejectionReason = rejection.String
	t.LastError = lastError.String
	t.ErrorType = errorType.String
	return t, nil
}

func scanTriggers(rows *sql.Rows) ([]domain.Trigger, error) {
	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// duplicateKey reports whether err is a PostgreSQL unique violation and
// which logical key it hit ("idempotency_key" or "action_key").
func duplicateKey(err error) (bool, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "idempotency_key") {
			return true, "idempotency_key"
		}
		return true, "action_key"
	}
	// Fall back to message matching for drivers that do not expose codes.
	msg := err.Error()
	if strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
		if strings.Contains(msg, "idempotency_key") {
			return true, "idempotency_key"
		}
		return true, "action_key"
	}
	return false, ""
}

// Compile-time interface assertions
var (
	_ trigger.Store = (*Store)(nil)
	_ confirm.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)
