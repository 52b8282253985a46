package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies the on-chain action a trigger performs.
// Values match the contract-side action names and appear verbatim
// inside action keys.
type TriggerType string

const (
	TriggerTypeReleaseStage1  TriggerType = "RELEASE_STAGE_1"
	TriggerTypeConfirmArrival TriggerType = "CONFIRM_ARRIVAL"
	TriggerTypeFinalizeTrade  TriggerType = "FINALIZE_TRADE"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeReleaseStage1, TriggerTypeConfirmArrival, TriggerTypeFinalizeTrade:
		return true
	}
	return false
}

type TriggerStatus string

const (
	TriggerStatusPending         TriggerStatus = "pending"
	TriggerStatusPendingApproval TriggerStatus = "pending_approval"
	TriggerStatusExecuting       TriggerStatus = "executing"
	TriggerStatusSubmitted       TriggerStatus = "submitted"
	TriggerStatusConfirmed       TriggerStatus = "confirmed"
	TriggerStatusFailed          TriggerStatus = "failed"
	TriggerStatusTerminalFailure TriggerStatus = "terminal_failure"
	TriggerStatusExhausted       TriggerStatus = "exhausted_needs_redrive"
	TriggerStatusRejected        TriggerStatus = "rejected"
)

// Terminal reports whether no further automatic processing happens in this
// status. Exhausted is terminal for the retry loop but recoverable via an
// operator redrive under a fresh idempotency key.
func (s TriggerStatus) Terminal() bool {
	switch s {
	case TriggerStatusConfirmed, TriggerStatusTerminalFailure, TriggerStatusExhausted, TriggerStatusRejected:
		return true
	}
	return false
}

// Trigger records one attempted on-chain action. Rows are never deleted;
// they are the audit trail of everything the oracle tried to do.
type Trigger struct {
	ID uuid.UUID

	// ActionKey identifies the logical action for a trade, independent of
	// which caller requested it ("RELEASE_STAGE_1:42").
	ActionKey string

	// IdempotencyKey identifies one specific caller request
	// (action key + caller-supplied request id).
	IdempotencyKey string

	TradeID int64
	Type    TriggerType
	Status  TriggerStatus

	AttemptCount int

	TxHash      string
	BlockNumber int64

	IndexerConfirmed   bool
	IndexerConfirmedAt *time.Time
	IndexerEventID     string

	OnChainVerified   bool
	OnChainVerifiedAt *time.Time

	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string

	LastError string
	ErrorType string

	CreatedAt   time.Time
	SubmittedAt *time.Time
	ConfirmedAt *time.Time
	UpdatedAt   time.Time
}
