package trigger

import (
	"fmt"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

// ActionKey identifies "this logical action for this trade", independent of
// which caller requested it. Concurrent duplicate submissions collapse on it
// even before an idempotency key exists.
func ActionKey(typ domain.TriggerType, tradeID int64) string {
	return fmt.Sprintf("%s:%d", typ, tradeID)
}

// IdempotencyKey identifies one specific caller request. It is the unit of
// caller-visible idempotency: replaying the same request id yields the same
// trigger row.
func IdempotencyKey(actionKey, requestID string) string {
	return actionKey + ":" + requestID
}
