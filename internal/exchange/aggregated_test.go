package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestAggregated(t *testing.T, handler http.HandlerFunc) (*Aggregated, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewAggregated(AggregatedOptions{
		Slug:         "kraken",
		BaseURL:      srv.URL,
		ParsingLimit: 10,
		Timeout:      time.Second,
		UserAgent:    "test",
	}, nil, noopLogger())
	return client, srv
}

func TestAggregatedFetchSuccess(t *testing.T) {
	client, _ := newTestAggregated(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") != "kraken" {
			t.Fatalf("expected slug query, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "data": {"marketPairs": [
                {"marketPair": "BTC/USD", "price": 64250.5, "volumeUsd": 120000.25, "marketUrl": "https://example.com/btc"},
                {"marketPair": "ETH/USD", "price": 3420.1, "volumeUsd": 98000, "marketUrl": "https://example.com/eth"}
            ]},
            "status": {"timestamp": "2026-03-01T12:00:00Z"}
        }`))
	})

	tickers, err := client.FetchTickers(context.Background())
	if err != nil {
		t.Fatalf("successful response should not error: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(tickers))
	}
	if tickers[0].Symbol != "BTC/USD" || tickers[0].Price != "64250.5" {
		t.Fatalf("unexpected first ticker: %+v", tickers[0])
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !tickers[1].ObservedAt.Equal(want) {
		t.Fatalf("expected status timestamp, got %s", tickers[1].ObservedAt)
	}
}

func TestAggregatedFetchRateLimited(t *testing.T) {
	client, _ := newTestAggregated(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	if _, err := client.FetchTickers(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("429 should map to ErrRateLimited, got %v", err)
	}
}

func TestAggregatedFetchAuthError(t *testing.T) {
	client, _ := newTestAggregated(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	if _, err := client.FetchTickers(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("403 should map to ErrAuth, got %v", err)
	}
}

func TestAggregatedFetchMalformedBody(t *testing.T) {
	client, _ := newTestAggregated(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": `))
	})

	if _, err := client.FetchTickers(context.Background()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("truncated JSON should map to ErrMalformed, got %v", err)
	}
}

func TestAggregatedFetchServerError(t *testing.T) {
	client, _ := newTestAggregated(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.FetchTickers
	if _, fetchErr := err(context.Background()); !errors.Is(fetchErr, ErrTransient) {
		t.Fatalf("502 should map to ErrTransient, got %v", fetchErr)
	}
}

func TestArchiverWritesRawPayload(t *testing.T) {
	dir := t.TempDir()
	archiver := NewArchiver(dir, noopLogger())

	archiver.Store("kraken", []byte(`{"ok":true}`))

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("read archive dir: %v", readErr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one archived file, got %d", len(entries))
	}
	payload, readErr := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if readErr != nil {
		t.Fatalf("read archived file: %v", readErr)
	}
	if string(payload) != `{"ok":true}` {
		t.Fatalf("archived payload altered: %s", payload)
	}
}

func TestArchiverNilReceiverIsNoop(t *testing.T) {
	var archiver *Archiver
	archiver.Store("kraken", []byte("ignored"))
}
