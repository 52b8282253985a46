package postgres

const triggerColumns = `
    id, action_key, idempotency_key, trade_id, trigger_type, status,
    attempt_count, tx_hash, block_number,
    indexer_confirmed, indexer_confirmed_at, indexer_event_id,
    on_chain_verified, on_chain_verified_at,
    approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
    last_error, error_type,
    created_at, submitted_at, confirmed_at, updated_at`

const queryInsertTrigger = `
INSERT INTO triggers (
    id, action_key, idempotency_key, trade_id, trigger_type, status,
    attempt_count, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
`

const queryGetTriggerByIdempotencyKey = `
SELECT` + triggerColumns + `
FROM triggers
WHERE idempotency_key = $1
`

const queryGetLatestTriggerByActionKey = `
SELECT` + triggerColumns + `
FROM triggers
WHERE action_key = $1
ORDER BY created_at DESC
LIMIT 1
`

const queryGetTriggersByStatus = `
SELECT` + triggerColumns + `
FROM triggers
WHERE status = $1
ORDER BY created_at ASC
LIMIT $2
`

const queryListTriggersByTrade = `
SELECT` + triggerColumns + `
FROM triggers
WHERE trade_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryCountTriggersByStatus = `
SELECT COUNT(*) FROM triggers WHERE status = $1
`

const queryGetTriggerStatus = `
SELECT status FROM triggers WHERE idempotency_key = $1
`

const queryMarkPendingApproval = `
UPDATE triggers
SET status = 'pending_approval', updated_at = $2
WHERE idempotency_key = $1
  AND status = 'pending'
`

const queryMarkApproved = `
UPDATE triggers
SET status = 'pending', approved_by = $2, approved_at = $3, updated_at = $3
WHERE idempotency_key = $1
  AND status = 'pending_approval'
`

const queryMarkRejected = `
UPDATE triggers
SET status = 'rejected', rejected_by = $2, rejected_at = $4, rejection_reason = $3, updated_at = $4
WHERE idempotency_key = $1
  AND status = 'pending_approval'
`

const queryMarkExecuting = `
UPDATE triggers
SET status = 'executing', attempt_count = $2, updated_at = $3
WHERE idempotency_key = $1
  AND status IN ('pending', 'executing', 'failed')
`

const queryMarkSubmitted = `
UPDATE triggers
SET status = 'submitted', tx_hash = $2, block_number = $3, submitted_at = $4, updated_at = $4
WHERE idempotency_key = $1
  AND status = 'executing'
`

const queryMarkFailed = `
UPDATE triggers
SET status = 'failed', attempt_count = $2, last_error = $3, error_type = $4, updated_at = $5
WHERE idempotency_key = $1
  AND status IN ('pending', 'executing', 'failed')
`

const queryMarkTerminalFailure = `
UPDATE triggers
SET status = 'terminal_failure', last_error = $2, error_type = $3, updated_at = $4
WHERE idempotency_key = $1
  AND status IN ('pending', 'executing', 'failed')
`

const queryMarkExhausted = `
UPDATE triggers
SET status = 'exhausted_needs_redrive', last_error = $2, error_type = $3, updated_at = $4
WHERE idempotency_key = $1
  AND status IN ('pending', 'executing', 'failed', 'submitted')
`

const queryMarkConfirmedByIndexer = `
UPDATE triggers
SET status = 'confirmed', indexer_confirmed = TRUE, indexer_confirmed_at = $3,
    indexer_event_id = $2, confirmed_at = $3, updated_at = $3
WHERE idempotency_key = $1
  AND status = 'submitted'
`

const queryMarkConfirmedOnChain = `
UPDATE triggers
SET status = 'confirmed', on_chain_verified = TRUE, on_chain_verified_at = $2,
    confirmed_at = $2, updated_at = $2
WHERE idempotency_key = $1
  AND status = 'submitted'
`
