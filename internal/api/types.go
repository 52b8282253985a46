package api

import (
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"
)

type ExecuteTriggerRequest struct {
	TradeID     int64  `json:"trade_id"`
	RequestID   string `json:"request_id"`
	TriggerType string `json:"trigger_type"`
}

type ApprovalRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// TriggerResultResponse is the envelope for every trigger operation.
type TriggerResultResponse struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Status         string `json:"status"`
	TxHash         string `json:"tx_hash,omitempty"`
	BlockNumber    int64  `json:"block_number,omitempty"`
	Message        string `json:"message"`
}

type TriggerResponse struct {
	ID             string `json:"id"`
	ActionKey      string `json:"action_key"`
	IdempotencyKey string `json:"idempotency_key"`
	TradeID        int64  `json:"trade_id"`
	TriggerType    string `json:"trigger_type"`
	Status         string `json:"status"`
	AttemptCount   int    `json:"attempt_count"`
	TxHash         string `json:"tx_hash,omitempty"`
	BlockNumber    int64  `json:"block_number,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
	CreatedAt      string `json:"created_at"`
	SubmittedAt    string `json:"submitted_at,omitempty"`
	ConfirmedAt    string `json:"confirmed_at,omitempty"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toResultResponse(r trigger.Result) TriggerResultResponse {
	return TriggerResultResponse{
		IdempotencyKey: r.IdempotencyKey,
		Status:         string(r.Status),
		TxHash:         r.TxHash,
		BlockNumber:    r.BlockNumber,
		Message:        r.Message,
	}
}

func toTriggerResponse(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:             t.ID.String(),
		ActionKey:      t.ActionKey,
		IdempotencyKey: t.IdempotencyKey,
		TradeID:        t.TradeID,
		TriggerType:    string(t.Type),
		Status:         string(t.Status),
		AttemptCount:   t.AttemptCount,
		TxHash:         t.TxHash,
		BlockNumber:    t.BlockNumber,
		LastError:      t.LastError,
		ErrorType:      t.ErrorType,
		CreatedAt:      formatTime(t.CreatedAt),
	}
	if t.SubmittedAt != nil {
		resp.SubmittedAt = formatTime(*t.SubmittedAt)
	}
	if t.ConfirmedAt != nil {
		resp.ConfirmedAt = formatTime(*t.ConfirmedAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
