package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.URL, 5*time.Second, Config{
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/finance/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "apple" {
			t.Errorf("q = %q, want apple", got)
		}
		w.Write([]byte(`{"quotes":[{"symbol":"AAPL","shortname":"Apple Inc.","longname":"Apple Inc. (NASDAQ)"}]}`))
	}))

	result, err := c.Search(context.Background(), "apple")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result == nil || result.Symbol != "AAPL" {
		t.Fatalf("got %+v", result)
	}
	if result.Name() != "Apple Inc. (NASDAQ)" {
		t.Errorf("Name() = %q, want long name", result.Name())
	}
}

func TestSearch_NoMatches(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"quotes":[]}`))
	}))

	result, err := c.Search(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result != nil {
		t.Errorf("got %+v, want nil", result)
	}
}

func TestSearchResultName_Fallbacks(t *testing.T) {
	tests := []struct {
		result SearchResult
		want   string
	}{
		{SearchResult{Symbol: "AAPL", ShortName: "Apple", LongName: "Apple Inc."}, "Apple Inc."},
		{SearchResult{Symbol: "AAPL", ShortName: "Apple"}, "Apple"},
		{SearchResult{Symbol: "AAPL"}, "AAPL"},
	}
	for _, tt := range tests {
		if got := tt.result.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestGetBars(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/AAPL" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"currency":"USD","symbol":"AAPL","exchangeTimezoneName":"America/New_York"},
			"timestamp":[1756387800,1756387860,1756387920],
			"indicators":{"quote":[{
				"open":[100.0,null,102.0],
				"high":[101.0,null,103.0],
				"low":[99.5,null,101.5],
				"close":[100.5,null,102.5]
			}]}
		}],"error":null}}`))
	}))

	series, err := c.GetBars(context.Background(), "AAPL", "1d", "1m")
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if series.Currency != "USD" || series.Timezone != "America/New_York" {
		t.Errorf("meta not mapped: %+v", series)
	}
	// The null minute is dropped.
	if len(series.Bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(series.Bars))
	}
	if series.Bars[0].Open != 100.0 || series.Bars[1].Close != 102.5 {
		t.Errorf("bars mismapped: %+v", series.Bars)
	}
	if !series.Bars[0].Time.Equal(time.Unix(1756387800, 0)) {
		t.Errorf("bar time = %v", series.Bars[0].Time)
	}
}

func TestGetBars_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))

	if _, err := c.GetBars(context.Background(), "NOPE", "1d", "1m"); err == nil {
		t.Error("expected error from chart API error payload")
	}
}

func TestNextEarnings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v10/finance/quoteSummary/AAPL" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"quoteSummary":{"result":[{"calendarEvents":{"earnings":{"earningsDate":[{"raw":1761840000}]}}}]}}`))
	}))

	got, err := c.NextEarnings(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("NextEarnings: %v", err)
	}
	if !got.Equal(time.Unix(1761840000, 0)) {
		t.Errorf("earnings date = %v", got)
	}
}

func TestNextEarnings_NoneScheduled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[{"calendarEvents":{"earnings":{"earningsDate":[]}}}]}}`))
	}))

	got, err := c.NextEarnings(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("NextEarnings: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("earnings date = %v, want zero", got)
	}
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"quotes":[]}`))
	}))

	if _, err := c.Search(context.Background(), "apple"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDoRequest_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	if _, err := c.Search(context.Background(), "apple"); err == nil {
		t.Error("expected error for 404")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}
