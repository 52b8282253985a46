package trigger

import (
	"testing"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

func TestActionKey(t *testing.T) {
	got := ActionKey(domain.TriggerTypeReleaseStage1, 42)
	if got != "RELEASE_STAGE_1:42" {
		t.Errorf("ActionKey = %q, want RELEASE_STAGE_1:42", got)
	}
}

func TestActionKey_DistinctPerTypeAndTrade(t *testing.T) {
	a := ActionKey(domain.TriggerTypeReleaseStage1, 42)
	b := ActionKey(domain.TriggerTypeConfirmArrival, 42)
	c := ActionKey(domain.TriggerTypeReleaseStage1, 43)
	if a == b || a == c || b == c {
		t.Errorf("action keys collide: %q %q %q", a, b, c)
	}
}

func TestIdempotencyKey(t *testing.T) {
	actionKey := ActionKey(domain.TriggerTypeFinalizeTrade, 7)
	got := IdempotencyKey(actionKey, "req-abc")
	if got != "FINALIZE_TRADE:7:req-abc" {
		t.Errorf("IdempotencyKey = %q, want FINALIZE_TRADE:7:req-abc", got)
	}
}
