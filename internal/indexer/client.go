// Package indexer queries the downstream event-indexing pipeline for
// contract events confirming submitted transactions.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/confirm"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type eventRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TxHash      string    `json:"tx_hash"`
	TradeID     int64     `json:"trade_id"`
	BlockNumber int64     `json:"block_number"`
	ObservedAt  time.Time `json:"observed_at"`
}

type eventsResponse struct {
	Events []eventRecord `json:"events"`
}

// FindConfirmationEvent returns the first event matching txHash and tradeID
// in reverse-chronological order, or nil if the indexer has not observed
// one yet.
func (c *Client) FindConfirmationEvent(ctx context.Context, txHash string, tradeID int64) (*domain.ConfirmationEvent, error) {
	q := url.Values{}
	q.Set("tx_hash", txHash)
	q.Set("trade_id", strconv.FormatInt(tradeID, 10))
	q.Set("order", "desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/events?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("indexer query: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var er eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if len(er.Events) == 0 {
		return nil, nil
	}

	ev := er.Events[0]
	return &domain.ConfirmationEvent{
		ID:          ev.ID,
		Name:        ev.Name,
		TxHash:      ev.TxHash,
		TradeID:     ev.TradeID,
		BlockNumber: ev.BlockNumber,
		ObservedAt:  ev.ObservedAt,
	}, nil
}

// Compile-time interface assertion
var _ confirm.IndexerClient = (*Client)(nil)
