package domain

import "time"

// ConfirmationEvent is an indexed contract event observed by the downstream
// indexer. Name and TradeID are cross-checked against the trigger before a
// match counts, guarding against hash collisions across unrelated state.
type ConfirmationEvent struct {
	ID          string
	Name        string
	TxHash      string
	TradeID     int64
	BlockNumber int64
	ObservedAt  time.Time
}
