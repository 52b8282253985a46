// Package validator checks that a trade's current on-chain status satisfies
// a trigger type's precondition before any ledger write is attempted.
package validator

import (
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/errclass"
)

// DisputeWindow is the fixed period after arrival confirmation during which
// a trade cannot be finalized.
const DisputeWindow = 24 * time.Hour

// Validate returns nil when the trade's status satisfies the precondition
// for typ, or a terminal validation error describing the mismatch. It is a
// pure function: now is passed in so the dispute-window check is
// deterministic.
func Validate(trade domain.Trade, typ domain.TriggerType, now time.Time) error {
	switch typ {
	case domain.TriggerTypeReleaseStage1:
		if trade.Status != domain.TradeStatusLocked {
			return errclass.Validationf(
				"precondition failed for trade %d: %s requires status LOCKED, got %s",
				trade.ID, typ, trade.Status)
		}
		return nil

	case domain.TriggerTypeConfirmArrival:
		if trade.Status != domain.TradeStatusInTransit {
			return errclass.Validationf(
				"precondition failed for trade %d: %s requires status IN_TRANSIT, got %s",
				trade.ID, typ, trade.Status)
		}
		return nil

	case domain.TriggerTypeFinalizeTrade:
		if trade.Status != domain.TradeStatusArrivalConfirmed {
			return errclass.Validationf(
				"precondition failed for trade %d: %s requires status ARRIVAL_CONFIRMED, got %s",
				trade.ID, typ, trade.Status)
		}
		if trade.ArrivalConfirmedAt == nil {
			return errclass.Validationf(
				"precondition failed for trade %d: %s requires a recorded arrival timestamp",
				trade.ID, typ)
		}
		elapsed := now.Sub(*trade.ArrivalConfirmedAt)
		if elapsed < DisputeWindow {
			remaining := (DisputeWindow - elapsed).Round(time.Second)
			return errclass.Validationf(
				"precondition failed for trade %d: dispute window open for another %s",
				trade.ID, remaining)
		}
		return nil

	default:
		return errclass.Validationf("invalid trigger type %q for trade %d", typ, trade.ID)
	}
}
