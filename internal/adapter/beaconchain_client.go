// Package adapter provides clients for external data APIs.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chain-ledger/internal/circuitbreaker"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// BeaconChainClient fetches validator daily stats and withdrawals from a
// beaconcha.in-compatible API. Amounts come back in gwei. A circuit
// breaker stops the poller from hammering the API through an outage.
type BeaconChainClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewBeaconChainClient creates a client. An empty baseURL uses the public
// beaconcha.in endpoint; apiKey may be empty for the anonymous tier.
func NewBeaconChainClient(baseURL, apiKey string) *BeaconChainClient {
	if baseURL == "" {
		baseURL = "https://beaconcha.in"
	}
	return &BeaconChainClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("beaconchain")),
	}
}

// beaconResponse is the common envelope of the API.
type beaconResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// validatorDayStats is one day of validator performance.
type validatorDayStats struct {
	Day          int64 `json:"day"`
	DayStart     int64 `json:"day_start"` // unix seconds
	StartBalance int64 `json:"start_balance"`
	EndBalance   int64 `json:"end_balance"`
	Deposits     int64 `json:"deposits_amount"`
	Withdrawals  int64 `json:"withdrawals_amount"`
}

// validatorWithdrawal is one withdrawal processed for a validator.
type validatorWithdrawal struct {
	Epoch          int64  `json:"epoch"`
	Slot           int64  `json:"slot"`
	BlockNumber    int64  `json:"blocknumber"`
	Timestamp      int64  `json:"timestamp"` // unix seconds
	Address        string `json:"address"`
	Amount         int64  `json:"amount"`
	ValidatorIndex uint64 `json:"validatorindex"`
}

func (c *BeaconChainClient) get(ctx context.Context, path string, out interface{}) error {
	return c.breaker.Execute(ctx, func() error {
		return c.doGet(ctx, path, out)
	})
}

func (c *BeaconChainClient) doGet(ctx context.Context, path string, out interface{}) error {
	url := c.baseURL + path
	if c.apiKey != "" {
		url += "?apikey=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to beacon chain API failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("beacon chain API returned %d: %s", resp.StatusCode, string(body))
	}

	var envelope beaconResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode beacon chain response: %w", err)
	}
	if envelope.Status != "OK" {
		return fmt.Errorf("beacon chain API status %q", envelope.Status)
	}
	return json.Unmarshal(envelope.Data, out)
}

// gweiToEth converts an integer gwei amount to an ETH decimal.
func gweiToEth(gwei int64) decimal.Decimal {
	return decimal.New(gwei, -9)
}

// FetchDailyStats returns the validator's daily PnL since the given
// timestamp. PnL is the balance delta net of deposits, so a top-up never
// counts as staking income.
func (c *BeaconChainClient) FetchDailyStats(ctx context.Context, validatorIndex uint64, since types.Timestamp) ([]*models.ValidatorDailyStats, error) {
	var days []validatorDayStats
	if err := c.get(ctx, fmt.Sprintf("/api/v1/validator/%d/stats", validatorIndex), &days); err != nil {
		return nil, err
	}

	var stats []*models.ValidatorDailyStats
	for _, day := range days {
		if day.DayStart <= int64(since) {
			continue
		}
		pnl := gweiToEth(day.EndBalance - day.StartBalance - day.Deposits + day.Withdrawals)
		stats = append(stats, &models.ValidatorDailyStats{
			ValidatorIndex: validatorIndex,
			Timestamp:      types.Timestamp(day.DayStart),
			PnL:            pnl,
		})
	}
	return stats, nil
}

// FetchWithdrawals returns the validator's withdrawals since the given
// timestamp as staking history events with deterministic identifiers, so
// refetching the same withdrawal never duplicates it.
func (c *BeaconChainClient) FetchWithdrawals(ctx context.Context, validatorIndex uint64, since types.Timestamp) ([]*models.HistoryEvent, error) {
	var withdrawals []validatorWithdrawal
	if err := c.get(ctx, fmt.Sprintf("/api/v1/validator/%d/withdrawals", validatorIndex), &withdrawals); err != nil {
		return nil, err
	}

	index := validatorIndex
	var events []*models.HistoryEvent
	for _, w := range withdrawals {
		if w.Timestamp <= int64(since) {
			continue
		}
		events = append(events, &models.HistoryEvent{
			EventIdentifier: fmt.Sprintf("EW_%d_%d", validatorIndex, w.BlockNumber),
			SequenceIndex:   0,
			Timestamp:       types.TimestampMS(w.Timestamp * 1000),
			Location:        types.LocationEthereum,
			LocationLabel:   w.Address,
			Asset:           "ETH",
			Amount:          gweiToEth(w.Amount),
			USDValue:        decimal.Zero,
			Type:            types.EventTypeStaking,
			SubType:         types.SubTypeRemoveAsset,
			ValidatorIndex:  &index,
		})
	}
	return events, nil
}
