// notification-receiver is a development tool that receives operator
// notifications from the oracle, verifies their HMAC signatures and keeps
// recent alerts queryable. Run it locally and point NOTIFY_WEBHOOK_URL at it.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/notify"
)

type notification struct {
	ReceivedAt     string `json:"received_at"`
	NotificationID string `json:"notification_id"`
	Signed         bool   `json:"signature_valid"`
	Source         string `json:"source"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	DedupKey       string `json:"dedup_key"`
	TradeID        int64  `json:"trade_id,omitempty"`
	Message        string `json:"message"`
}

type stats struct {
	Count         int64          `json:"count"`
	BadSignatures int64          `json:"bad_signatures"`
	ByDedupKey    map[string]int `json:"by_dedup_key"`
	LastAlerts    []notification `json:"last_alerts"`
	Since         string         `json:"since"`
}

var (
	mu            sync.Mutex
	count         int64
	badSignatures int64
	byDedupKey    = make(map[string]int)
	lastAlerts    []notification
	since         time.Time
	maxStored     = 50

	secret string
)

func main() {
	since = time.Now().UTC()

	addr := ":9000"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret = os.Getenv("NOTIFY_SECRET")
	if secret == "" {
		log.Println("notification-receiver: NOTIFY_SECRET not set; signatures will not verify")
	}

	http.HandleFunc("/notifications", notificationHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignatures = 0
		byDedupKey = make(map[string]int)
		lastAlerts = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("notification-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func notificationHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	signed := notify.VerifySignature(secret, body, r.Header.Get("X-Oracle-Signature"))

	var parsed struct {
		Source   string `json:"source"`
		Type     string `json:"type"`
		Severity string `json:"severity"`
		DedupKey string `json:"dedup_key"`
		TradeID  int64  `json:"trade_id"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("notification-receiver: unparseable body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n := notification{
		ReceivedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		NotificationID: r.Header.Get("X-Oracle-Notification-ID"),
		Signed:         signed,
		Source:         parsed.Source,
		Type:           parsed.Type,
		Severity:       parsed.Severity,
		DedupKey:       parsed.DedupKey,
		TradeID:        parsed.TradeID,
		Message:        parsed.Message,
	}

	mu.Lock()
	count++
	if !signed {
		badSignatures++
	}
	if parsed.DedupKey != "" {
		byDedupKey[parsed.DedupKey]++
	}
	lastAlerts = append(lastAlerts, n)
	if len(lastAlerts) > maxStored {
		lastAlerts = lastAlerts[len(lastAlerts)-maxStored:]
	}
	current := count
	mu.Unlock()

	if !signed {
		log.Printf("notification-receiver: #%d BAD SIGNATURE %s: %s", current, parsed.Type, parsed.Message)
	} else {
		log.Printf("notification-receiver: #%d [%s] %s: %s", current, parsed.Severity, parsed.Type, parsed.Message)
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	keys := make(map[string]int, len(byDedupKey))
	for k, v := range byDedupKey {
		keys[k] = v
	}
	s := stats{
		Count:         count,
		BadSignatures: badSignatures,
		ByDedupKey:    keys,
		LastAlerts:    lastAlerts,
		Since:         since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
