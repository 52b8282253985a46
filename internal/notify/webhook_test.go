package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

func testNotification() domain.Notification {
	return domain.Notification{
		ID:             uuid.New(),
		Source:         "confirmation-worker",
		Type:           "TRIGGER_HARD_TIMEOUT",
		Severity:       domain.SeverityCritical,
		DedupKey:       "hard-timeout:k1",
		TradeID:        42,
		IdempotencyKey: "k1",
		Message:        "no confirmation after 31m",
		CreatedAt:      time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_DeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSignature, gotID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Oracle-Signature")
		gotID = r.Header.Get("X-Oracle-Notification-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "test-secret")
	notification := testNotification()
	n.Notify(context.Background(), notification)

	mu.Lock()
	defer mu.Unlock()

	if gotID != notification.ID.String() {
		t.Errorf("notification id header = %s, want %s", gotID, notification.ID)
	}
	if !VerifySignature("test-secret", gotBody, gotSignature) {
		t.Error("signature does not verify against the delivered body")
	}
	if VerifySignature("wrong-secret", gotBody, gotSignature) {
		t.Error("signature verifies with the wrong secret")
	}

	var p payload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.DedupKey != "hard-timeout:k1" || p.Severity != "critical" || p.TradeID != 42 {
		t.Errorf("payload = %+v", p)
	}
	if p.CreatedAt != "2026-03-15T12:00:00Z" {
		t.Errorf("created_at = %q, want RFC3339 UTC", p.CreatedAt)
	}
}

func TestWebhookNotifier_ReceiverFailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "test-secret")
	n.Notify(context.Background(), testNotification())
}

func TestWebhookNotifier_UnreachableReceiverDoesNotPanic(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", "test-secret")
	n.Notify(context.Background(), testNotification())
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	body := []byte(`{"message":"original"}`)
	sig := computeSignature("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("secret", []byte(`{"message":"tampered"}`), sig) {
		t.Error("tampered body accepted")
	}
}
