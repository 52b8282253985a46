package domain

import "time"

// TradeStatus mirrors the escrow contract's lifecycle enum. Values arrive
// uppercase from the ledger and are compared verbatim.
type TradeStatus string

const (
	TradeStatusCreated          TradeStatus = "CREATED"
	TradeStatusLocked           TradeStatus = "LOCKED"
	TradeStatusInTransit        TradeStatus = "IN_TRANSIT"
	TradeStatusArrivalConfirmed TradeStatus = "ARRIVAL_CONFIRMED"
	TradeStatusFinalized        TradeStatus = "FINALIZED"
	TradeStatusDisputed         TradeStatus = "DISPUTED"
)

// Trade is the oracle's read model of an on-chain escrow trade.
type Trade struct {
	ID     int64
	Status TradeStatus

	Buyer  string
	Seller string

	// ArrivalConfirmedAt is set once CONFIRM_ARRIVAL has landed; the
	// finalize dispute window is measured from it.
	ArrivalConfirmedAt *time.Time
}

// TxReceipt is returned by the ledger for a submitted write.
type TxReceipt struct {
	TxHash      string
	BlockNumber int64
}
