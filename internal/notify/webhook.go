// Package notify delivers operator alerts as HMAC-signed webhooks.
// Delivery is fire-and-forget: failures are logged, never propagated, so a
// down receiver cannot stall the confirmation worker.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/confirm"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

const defaultTimeout = 10 * time.Second

type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{},
	}
}

type payload struct {
	ID             string `json:"id"`
	Source         string `json:"source"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	DedupKey       string `json:"dedup_key"`
	TradeID        int64  `json:"trade_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Message        string `json:"message"`
	CreatedAt      string `json:"created_at"`
}

// Notify posts the notification with HMAC signature.
// Headers: X-Oracle-Notification-ID, X-Oracle-Signature
func (n *WebhookNotifier) Notify(ctx context.Context, notification domain.Notification) {
	body, err := json.Marshal(payload{
		ID:             notification.ID.String(),
		Source:         notification.Source,
		Type:           notification.Type,
		Severity:       string(notification.Severity),
		DedupKey:       notification.DedupKey,
		TradeID:        notification.TradeID,
		IdempotencyKey: notification.IdempotencyKey,
		Message:        notification.Message,
		CreatedAt:      notification.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("notify: marshal: %v", err)
		return
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: create request: %v", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Oracle-Notification-ID", notification.ID.String())
	req.Header.Set("X-Oracle-Signature", computeSignature(n.secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("notify: send %s: %v", notification.Type, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("notify: %s delivery returned status %d", notification.Type, resp.StatusCode)
		return
	}
	log.Printf("notify: delivered %s (dedup=%s)", notification.Type, notification.DedupKey)
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Compile-time interface assertion
var _ confirm.Notifier = (*WebhookNotifier)(nil)
