package validator

import (
	"strings"
	"testing"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/errclass"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestValidate_ReleaseStage1(t *testing.T) {
	cases := []struct {
		status domain.TradeStatus
		valid  bool
	}{
		{domain.TradeStatusLocked, true},
		{domain.TradeStatusCreated, false},
		{domain.TradeStatusInTransit, false},
		{domain.TradeStatusArrivalConfirmed, false},
		{domain.TradeStatusFinalized, false},
		{domain.TradeStatusDisputed, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			trade := domain.Trade{ID: 1, Status: tc.status}
			err := Validate(trade, domain.TriggerTypeReleaseStage1, testNow)
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected precondition error")
			}
		})
	}
}

func TestValidate_ConfirmArrival(t *testing.T) {
	trade := domain.Trade{ID: 2, Status: domain.TradeStatusInTransit}
	if err := Validate(trade, domain.TriggerTypeConfirmArrival, testNow); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	trade.Status = domain.TradeStatusLocked
	if err := Validate(trade, domain.TriggerTypeConfirmArrival, testNow); err == nil {
		t.Error("expected precondition error for LOCKED trade")
	}
}

func TestValidate_FinalizeTrade_DisputeWindow(t *testing.T) {
	cases := []struct {
		name      string
		confirmed time.Time
		valid     bool
	}{
		{"window just closed", testNow.Add(-DisputeWindow), true},
		{"window long closed", testNow.Add(-48 * time.Hour), true},
		{"window still open", testNow.Add(-23 * time.Hour), false},
		{"just confirmed", testNow.Add(-time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade := domain.Trade{
				ID:                 3,
				Status:             domain.TradeStatusArrivalConfirmed,
				ArrivalConfirmedAt: timePtr(tc.confirmed),
			}
			err := Validate(trade, domain.TriggerTypeFinalizeTrade, testNow)
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("expected dispute-window error")
				}
				if !strings.Contains(err.Error(), "dispute window") {
					t.Errorf("error = %q, want dispute window mention", err)
				}
			}
		})
	}
}

func TestValidate_FinalizeTrade_MissingArrivalTimestamp(t *testing.T) {
	trade := domain.Trade{ID: 4, Status: domain.TradeStatusArrivalConfirmed}
	if err := Validate(trade, domain.TriggerTypeFinalizeTrade, testNow); err == nil {
		t.Error("expected error for missing arrival timestamp")
	}
}

func TestValidate_FailuresAreTerminal(t *testing.T) {
	trade := domain.Trade{ID: 5, Status: domain.TradeStatusCreated}
	err := Validate(trade, domain.TriggerTypeReleaseStage1, testNow)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errclass.IsTerminal(err) {
		t.Error("precondition failure must classify terminal")
	}
}

func TestValidate_UnknownTriggerType(t *testing.T) {
	trade := domain.Trade{ID: 6, Status: domain.TradeStatusLocked}
	if err := Validate(trade, domain.TriggerType("BURN_IT_ALL"), testNow); err == nil {
		t.Error("expected error for unknown trigger type")
	}
}
