// Package yahoo provides access to the Yahoo Finance public endpoints used
// as the market data provider: quote search, intraday chart bars, and
// upcoming earnings dates.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/exislow/telegram-stonks-bot/internal/models"
)

// Config tunes the HTTP retry behavior.
type Config struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client provides access to the Yahoo Finance API.
type Client struct {
	queryAPIURL  string
	searchAPIURL string
	httpClient   *http.Client
	config       Config
}

// SearchResult is one quote match from the search endpoint.
type SearchResult struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"shortname"`
	LongName  string `json:"longname"`
}

// Name returns the best available display name for the match.
func (r SearchResult) Name() string {
	if r.LongName != "" {
		return r.LongName
	}
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.Symbol
}

// NewClient creates a new Yahoo Finance client.
func NewClient(queryAPIURL, searchAPIURL string, timeout time.Duration, config Config) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelayBase <= 0 {
		config.RetryDelayBase = time.Second
	}
	return &Client{
		queryAPIURL:  queryAPIURL,
		searchAPIURL: searchAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config: config,
	}
}

// Search resolves a free-form query (ticker or ISIN) against the quote
// search endpoint. Returns nil when the provider knows no matching symbol.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	u, err := url.Parse(c.searchAPIURL + "/v1/finance/search")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("q", query)
	q.Set("quotesCount", "1")
	q.Set("newsCount", "0")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to search symbol: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Quotes []SearchResult `json:"quotes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(body.Quotes) == 0 {
		return nil, nil
	}
	result := body.Quotes[0]
	return &result, nil
}

// chartResponse mirrors the v8 chart endpoint payload. Price arrays use
// pointers because Yahoo emits null for minutes without trades.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency             string `json:"currency"`
				Symbol               string `json:"symbol"`
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetBars fetches OHLC bars for symbol over the given range ("1d", "5d", …)
// and interval ("1m", "15m", "1d", …). Bars carry the provider's native
// currency and exchange timezone; callers convert to the local locale.
func (c *Client) GetBars(ctx context.Context, symbol, rng, interval string) (models.BarSeries, error) {
	u, err := url.Parse(c.queryAPIURL + "/v8/finance/chart/" + url.PathEscape(symbol))
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("range", rng)
	q.Set("interval", interval)
	q.Set("includePrePost", "true")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("failed to fetch bars: %w", err)
	}
	defer resp.Body.Close()

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.BarSeries{}, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if body.Chart.Error != nil {
		return models.BarSeries{}, fmt.Errorf("chart API error: %s (%s)", body.Chart.Error.Description, body.Chart.Error.Code)
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return models.BarSeries{}, fmt.Errorf("chart API returned no data for %s", symbol)
	}

	result := body.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	series := models.BarSeries{
		Symbol:   symbol,
		Currency: result.Meta.Currency,
		Timezone: result.Meta.ExchangeTimezoneName,
	}
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		// Minutes without trades come back as nulls; skip them.
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}
		series.Bars = append(series.Bars, models.Bar{
			Time:  time.Unix(ts, 0),
			Open:  *quote.Open[i],
			High:  *quote.High[i],
			Low:   *quote.Low[i],
			Close: *quote.Close[i],
		})
	}

	return series, nil
}

// NextEarnings returns the symbol's next scheduled earnings date, or the
// zero time when the provider has none on the calendar.
func (c *Client) NextEarnings(ctx context.Context, symbol string) (time.Time, error) {
	u, err := url.Parse(c.queryAPIURL + "/v10/finance/quoteSummary/" + url.PathEscape(symbol))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("modules", "calendarEvents")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch earnings calendar: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		QuoteSummary struct {
			Result []struct {
				CalendarEvents struct {
					Earnings struct {
						EarningsDate []struct {
							Raw int64 `json:"raw"`
						} `json:"earningsDate"`
					} `json:"earnings"`
				} `json:"calendarEvents"`
			} `json:"result"`
		} `json:"quoteSummary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode quote summary: %w", err)
	}

	if len(body.QuoteSummary.Result) == 0 {
		return time.Time{}, nil
	}
	dates := body.QuoteSummary.Result[0].CalendarEvents.Earnings.EarningsDate
	if len(dates) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(dates[0].Raw, 0), nil
}

// doRequest performs an HTTP GET with linear-backoff retry on transport
// errors and 5xx responses. 4xx responses are returned to the caller.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.config.MaxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "stonksbot/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelayBase * time.Duration(i+1)):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelayBase * time.Duration(i+1)):
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("request failed: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
