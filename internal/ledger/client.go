// Package ledger implements the trigger manager's ledger client against the
// signer sidecar's HTTP API. The sidecar owns keys, ABI encoding and gas;
// this client only moves requests and surfaces failures verbatim so the
// error classifier's pattern rules apply to real revert messages.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/circuitbreaker"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// WithCircuitBreaker attaches a breaker keyed per operation.
func (c *Client) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

type tradeResponse struct {
	ID                 int64      `json:"id"`
	Status             string     `json:"status"`
	Buyer              string     `json:"buyer"`
	Seller             string     `json:"seller"`
	ArrivalConfirmedAt *time.Time `json:"arrival_confirmed_at"`
}

type receiptResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetTrade reads the current on-chain state of a trade.
// Returns trigger.ErrTradeNotFound for trades that do not exist.
func (c *Client) GetTrade(ctx context.Context, tradeID int64) (domain.Trade, error) {
	const op = "getTrade"
	if err := c.allow(op); err != nil {
		return domain.Trade{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/trades/%d", c.baseURL, tradeID), nil)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(op)
		return domain.Trade{}, fmt.Errorf("ledger get trade: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.recordSuccess(op)
		return domain.Trade{}, fmt.Errorf("trade %d: %w", tradeID, trigger.ErrTradeNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		c.recordOutcome(op, resp.StatusCode)
		return domain.Trade{}, remoteError("ledger get trade", resp)
	}
	c.recordSuccess(op)

	var tr tradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.Trade{}, fmt.Errorf("decode trade: %w", err)
	}
	return domain.Trade{
		ID:                 tr.ID,
		Status:             domain.TradeStatus(tr.Status),
		Buyer:              tr.Buyer,
		Seller:             tr.Seller,
		ArrivalConfirmedAt: tr.ArrivalConfirmedAt,
	}, nil
}

func (c *Client) ReleaseFundsStage1(ctx context.Context, tradeID int64) (domain.TxReceipt, error) {
	return c.submit(ctx, "releaseFundsStage1", tradeID, "release-stage-1")
}

func (c *Client) ConfirmArrival(ctx context.Context, tradeID int64) (domain.TxReceipt, error) {
	return c.submit(ctx, "confirmArrival", tradeID, "confirm-arrival")
}

func (c *Client) FinalizeTrade(ctx context.Context, tradeID int64) (domain.TxReceipt, error) {
	return c.submit(ctx, "finalizeTrade", tradeID, "finalize")
}

func (c *Client) submit(ctx context.Context, op string, tradeID int64, path string) (domain.TxReceipt, error) {
	if err := c.allow(op); err != nil {
		return domain.TxReceipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/trades/%d/%s", c.baseURL, tradeID, path), nil)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(op)
		return domain.TxReceipt{}, fmt.Errorf("ledger %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.recordOutcome(op, resp.StatusCode)
		return domain.TxReceipt{}, remoteError("ledger "+op, resp)
	}
	c.recordSuccess(op)

	var rr receiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return domain.TxReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return domain.TxReceipt{TxHash: rr.TxHash, BlockNumber: rr.BlockNumber}, nil
}

// remoteError surfaces the sidecar's error body unmodified: revert strings
// like "execution reverted: oracle disabled" must reach the classifier
// intact.
func remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return fmt.Errorf("%s: %s", op, er.Error)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) allow(op string) error {
	if c.breaker == nil {
		return nil
	}
	if err := c.breaker.Allow(op); err != nil {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	return nil
}

func (c *Client) recordSuccess(op string) {
	if c.breaker != nil {
		c.breaker.RecordSuccess(op)
	}
}

func (c *Client) recordFailure(op string) {
	if c.breaker != nil {
		c.breaker.RecordFailure(op)
	}
}

// recordOutcome treats server-side (5xx) responses as endpoint failures;
// 4xx responses, reverts included, mean the endpoint itself is healthy.
func (c *Client) recordOutcome(op string, statusCode int) {
	if c.breaker == nil {
		return
	}
	if statusCode >= 500 {
		c.breaker.RecordFailure(op)
	} else {
		c.breaker.RecordSuccess(op)
	}
}

// Compile-time interface assertion
var _ trigger.LedgerClient = (*Client)(nil)
