// Package horizonapi implements remote.DataClient against a horizon-style
// REST indexing service that serves ledger history as JSON pages.
package horizonapi

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

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/remote"
)

// Client talks to the remote indexing service over HTTP. Raw transport
// errors are returned as-is; classification happens in the resilience
// layer, not here.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

type ledgerJSON struct {
	Sequence  uint64 `json:"sequence"`
	Hash      string `json:"hash"`
	CloseTime int64  `json:"close_time"`
	TxCount   int    `json:"tx_count"`
	OpCount   int    `json:"op_count"`
}

func (l *ledgerJSON) toDomain() domain.LedgerRecord {
	return domain.LedgerRecord{
		Sequence:  l.Sequence,
		Hash:      l.Hash,
		CloseTime: time.Unix(l.CloseTime, 0).UTC(),
		TxCount:   l.TxCount,
		OpCount:   l.OpCount,
	}
}

// FetchLedgers returns one page of ledgers in ascending sequence order.
func (c *Client) FetchLedgers(ctx context.Context, start uint64, limit int, cursor string) (*remote.LedgerPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "asc")
	if cursor != "" {
		q.Set("cursor", cursor)
	} else if start > 0 {
		q.Set("from", strconv.FormatUint(start, 10))
	}

	var out struct {
		Ledgers []ledgerJSON `json:"ledgers"`
		Cursor  string       `json:"cursor"`
	}
	if err := c.get(ctx, "/ledgers", q, &out); err != nil {
		return nil, err
	}

	page := &remote.LedgerPage{Cursor: out.Cursor}
	for _, l := range out.Ledgers {
		page.Ledgers = append(page.Ledgers, l.toDomain())
	}
	return page, nil
}

// FetchPaymentsForLedger returns all payments closed in the given ledger.
func (c *Client) FetchPaymentsForLedger(ctx context.Context, sequence uint64) ([]domain.IngestedPayment, error) {
	var out struct {
		Payments []struct {
			ID        string `json:"id"`
			TxHash    string `json:"transaction_hash"`
			From      string `json:"from"`
			To        string `json:"to"`
			AssetCode string `json:"asset_code"`
			Amount    string `json:"amount"`
			CreatedAt string `json:"created_at"`
		} `json:"payments"`
	}
	if err := c.get(ctx, fmt.Sprintf("/ledgers/%d/payments", sequence), nil, &out); err != nil {
		return nil, err
	}

	payments := make([]domain.IngestedPayment, 0, len(out.Payments))
	for _, p := range out.Payments {
		createdAt, _ := time.Parse(time.RFC3339, p.CreatedAt)
		payments = append(payments, domain.IngestedPayment{
			OperationID:    p.ID,
			LedgerSequence: sequence,
			TxHash:         p.TxHash,
			From:           p.From,
			To:             p.To,
			AssetCode:      p.AssetCode,
			Amount:         p.Amount,
			CreatedAt:      createdAt,
		})
	}
	return payments, nil
}

// FetchTransactionsForLedger returns all transactions in the given ledger.
func (c *Client) FetchTransactionsForLedger(ctx context.Context, sequence uint64) ([]domain.IngestedTransaction, error) {
	var out struct {
		Transactions []struct {
			Hash           string `json:"hash"`
			SourceAccount  string `json:"source_account"`
			FeeCharged     int64  `json:"fee_charged"`
			OperationCount int    `json:"operation_count"`
			Successful     bool   `json:"successful"`
			FeeBumpSource  string `json:"fee_account,omitempty"`
			MergedAccount  string `json:"merged_account,omitempty"`
		} `json:"transactions"`
	}
	if err := c.get(ctx, fmt.Sprintf("/ledgers/%d/transactions", sequence), nil, &out); err != nil {
		return nil, err
	}

	txs := make([]domain.IngestedTransaction, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		txs = append(txs, domain.IngestedTransaction{
			TxHash:         t.Hash,
			LedgerSequence: sequence,
			SourceAccount:  t.SourceAccount,
			FeeCharged:     t.FeeCharged,
			OperationCount: t.OperationCount,
			Successful:     t.Successful,
			FeeBumpSource:  t.FeeBumpSource,
			MergedAccount:  t.MergedAccount,
		})
	}
	return txs, nil
}

// FetchOperationsForLedger returns raw operations for the given ledger.
func (c *Client) FetchOperationsForLedger(ctx context.Context, sequence uint64) ([]map[string]any, error) {
	var out struct {
		Operations []map[string]any `json:"operations"`
	}
	if err := c.get(ctx, fmt.Sprintf("/ledgers/%d/operations", sequence), nil, &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// FetchContractEvents returns contract events matching the query.
func (c *Client) FetchContractEvents(ctx context.Context, query remote.EventQuery) ([]domain.ContractEvent, error) {
	q := url.Values{}
	q.Set("start_ledger", strconv.FormatUint(query.StartLedger, 10))
	if query.EndLedger > 0 {
		q.Set("end_ledger", strconv.FormatUint(query.EndLedger, 10))
	}
	if len(query.ContractIDs) > 0 {
		q.Set("contract_ids", strings.Join(query.ContractIDs, ","))
	}
	if len(query.EventTypes) > 0 {
		q.Set("event_types", strings.Join(query.EventTypes, ","))
	}
	if query.Network != "" {
		q.Set("network", query.Network)
	}

	var out struct {
		Events []struct {
			Ledger     uint64         `json:"ledger"`
			TxHash     string         `json:"tx_hash"`
			EventIndex int            `json:"event_index"`
			ContractID string         `json:"contract_id"`
			Type       string         `json:"type"`
			Network    string         `json:"network"`
			Payload    map[string]any `json:"payload"`
		} `json:"events"`
	}
	if err := c.get(ctx, "/contract-events", q, &out); err != nil {
		return nil, err
	}

	events := make([]domain.ContractEvent, 0, len(out.Events))
	for _, e := range out.Events {
		events = append(events, domain.ContractEvent{
			LedgerSequence: e.Ledger,
			TxHash:         e.TxHash,
			EventIndex:     e.EventIndex,
			ContractID:     e.ContractID,
			EventType:      e.Type,
			Network:        e.Network,
			Payload:        e.Payload,
		})
	}
	return events, nil
}

// Health probes the remote service and reports the retention window.
func (c *Client) Health(ctx context.Context) (*remote.HealthInfo, error) {
	var out struct {
		Status       string `json:"status"`
		OldestLedger uint64 `json:"oldest_ledger"`
		LatestLedger uint64 `json:"latest_ledger"`
	}
	if err := c.get(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &remote.HealthInfo{
		Healthy:      out.Status == "healthy",
		OldestLedger: out.OldestLedger,
		LatestLedger: out.LatestLedger,
	}, nil
}

var _ remote.DataClient = (*Client)(nil)
