package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/circuitbreaker"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/errclass"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"
)

func TestClient_GetTrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades/42" || r.Method != http.MethodGet {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{
			"id": 42, "status": "LOCKED",
			"buyer": "0xb1", "seller": "0xs1",
			"arrival_confirmed_at": null
		}`))
	}))
	defer server.Close()

	trade, err := NewClient(server.URL).GetTrade(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if trade.ID != 42 || trade.Status != domain.TradeStatusLocked {
		t.Errorf("trade = %+v", trade)
	}
	if trade.ArrivalConfirmedAt != nil {
		t.Error("arrival_confirmed_at should be nil")
	}
}

func TestClient_GetTrade_ParsesArrivalTimestamp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": 42, "status": "ARRIVAL_CONFIRMED",
			"arrival_confirmed_at": "2026-03-14T12:00:00Z"
		}`))
	}))
	defer server.Close()

	trade, err := NewClient(server.URL).GetTrade(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if trade.ArrivalConfirmedAt == nil {
		t.Fatal("arrival_confirmed_at not parsed")
	}
	want := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if !trade.ArrivalConfirmedAt.Equal(want) {
		t.Errorf("arrival_confirmed_at = %s, want %s", trade.ArrivalConfirmedAt, want)
	}
}

func TestClient_GetTrade_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "trade not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).GetTrade(context.Background(), 999)
	if !errors.Is(err, trigger.ErrTradeNotFound) {
		t.Errorf("err = %v, want ErrTradeNotFound", err)
	}
}

func TestClient_ReleaseFundsStage1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades/42/release-stage-1" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"tx_hash": "0xabc", "block_number": 101}`))
	}))
	defer server.Close()

	receipt, err := NewClient(server.URL).ReleaseFundsStage1(context.Background(), 42)
	if err != nil {
		t.Fatalf("ReleaseFundsStage1: %v", err)
	}
	if receipt.TxHash != "0xabc" || receipt.BlockNumber != 101 {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestClient_SubmitPaths(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"tx_hash": "0x1", "block_number": 1}`))
	}))
	defer server.Close()
	c := NewClient(server.URL)
	ctx := context.Background()

	if _, err := c.ConfirmArrival(ctx, 7); err != nil {
		t.Fatalf("ConfirmArrival: %v", err)
	}
	if gotPath != "/trades/7/confirm-arrival" {
		t.Errorf("path = %s, want /trades/7/confirm-arrival", gotPath)
	}

	if _, err := c.FinalizeTrade(ctx, 7); err != nil {
		t.Fatalf("FinalizeTrade: %v", err)
	}
	if gotPath != "/trades/7/finalize" {
		t.Errorf("path = %s, want /trades/7/finalize", gotPath)
	}
}

func TestClient_RevertMessageReachesClassifierIntact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error": "execution reverted: already executed"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).ReleaseFundsStage1(context.Background(), 42)
	if err == nil {
		t.Fatal("expected revert error")
	}
	if !strings.Contains(err.Error(), "execution reverted: already executed") {
		t.Fatalf("revert string mangled: %v", err)
	}
	ce := errclass.Classify(err)
	if !ce.Terminal || ce.Type != errclass.TypeContract {
		t.Errorf("classification = %+v, want terminal CONTRACT", ce)
	}
}

func TestClient_CircuitBreakerOpensOnServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL).WithCircuitBreaker(circuitbreaker.New(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.ReleaseFundsStage1(ctx, 42); err == nil {
			t.Fatal("expected error from 500 response")
		}
	}

	// Threshold reached: the breaker now rejects without hitting the wire.
	_, err := c.ReleaseFundsStage1(ctx, 42)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("err = %v, want circuit open", err)
	}
}

func TestClient_RevertsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error": "execution reverted: paused"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL).WithCircuitBreaker(circuitbreaker.New(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.ReleaseFundsStage1(ctx, 42)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			t.Fatal("breaker opened on contract reverts; endpoint is healthy")
		}
	}

	// Operations are keyed independently: reads stay unaffected too.
	if _, err := c.GetTrade(ctx, 42); errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Error("getTrade breaker opened without getTrade failures")
	}
}
