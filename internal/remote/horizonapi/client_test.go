package horizonapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/ledgerflow/internal/remote"
)

func TestFetchLedgers(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ledgers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ledgers": [
				{"sequence": 100, "hash": "aa", "close_time": 1700000000, "tx_count": 2, "op_count": 5},
				{"sequence": 101, "hash": "bb", "close_time": 1700000005, "tx_count": 1, "op_count": 1}
			],
			"cursor": "next-token"
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	page, err := c.FetchLedgers(context.Background(), 100, 50, "")
	if err != nil {
		t.Fatalf("fetch ledgers: %v", err)
	}

	if !strings.Contains(gotQuery, "from=100") || !strings.Contains(gotQuery, "limit=50") {
		t.Errorf("unexpected query: %s", gotQuery)
	}
	if len(page.Ledgers) != 2 {
		t.Fatalf("expected 2 ledgers, got %d", len(page.Ledgers))
	}
	if page.Ledgers[0].Sequence != 100 || page.Ledgers[0].Hash != "aa" {
		t.Errorf("unexpected first ledger: %+v", page.Ledgers[0])
	}
	if page.Ledgers[0].CloseTime != time.Unix(1700000000, 0).UTC() {
		t.Errorf("unexpected close time: %s", page.Ledgers[0].CloseTime)
	}
	if page.Cursor != "next-token" {
		t.Errorf("expected cursor next-token, got %q", page.Cursor)
	}
}

func TestFetchLedgersPrefersCursor(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"ledgers": [], "cursor": ""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	if _, err := c.FetchLedgers(context.Background(), 100, 10, "tok"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotQuery, "cursor=tok") {
		t.Errorf("expected cursor param, got %s", gotQuery)
	}
	if strings.Contains(gotQuery, "from=") {
		t.Errorf("cursor should supersede from, got %s", gotQuery)
	}
}

func TestFetchContractEventsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contract-events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"events": [
			{"ledger": 100, "tx_hash": "tx", "event_index": 1, "contract_id": "c1",
			 "type": "snapshot_submitted", "network": "testnet",
			 "payload": {"epoch": 7}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	events, err := c.FetchContractEvents(context.Background(), remote.EventQuery{
		StartLedger: 100,
		EndLedger:   110,
		ContractIDs: []string{"c1", "c2"},
		Network:     "testnet",
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"start_ledger=100", "end_ledger=110", "network=testnet"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("missing %s in query %s", want, gotQuery)
		}
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.LedgerSequence != 100 || ev.EventType != "snapshot_submitted" || ev.EventIndex != 1 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Payload["epoch"].(float64) != 7 {
		t.Errorf("unexpected payload: %v", ev.Payload)
	}
}

func TestRateLimitErrorSurfacesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.FetchLedgers(context.Background(), 1, 10, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate limited (429)") || !strings.Contains(err.Error(), "17") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestServerErrorIncludesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "http 502") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "healthy", "oldest_ledger": 50, "latest_ledger": 900}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	info, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !info.Healthy || info.OldestLedger != 50 || info.LatestLedger != 900 {
		t.Errorf("unexpected health info: %+v", info)
	}
}
