// Package currency converts provider prices into the configured local
// currency using exchange rates fetched from the market data provider.
package currency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exislow/telegram-stonks-bot/internal/logger"
	"github.com/exislow/telegram-stonks-bot/internal/models"
)

// RateSource fetches price bars for a rate symbol such as "USDEUR=X".
type RateSource interface {
	GetBars(ctx context.Context, symbol, rng, interval string) (models.BarSeries, error)
}

type exchangeRate struct {
	rate      float64
	fetchedAt time.Time
}

// Converter caches exchange rates per calendar day. Rates older than the
// current day are re-fetched on access.
type Converter struct {
	source RateSource
	local  string

	mu    sync.Mutex
	store map[string]exchangeRate

	now func() time.Time
}

// New creates a converter targeting the given local currency.
func New(source RateSource, localCurrency string) *Converter {
	return &Converter{
		source: source,
		local:  localCurrency,
		store:  make(map[string]exchangeRate),
		now:    time.Now,
	}
}

// Local returns the configured local currency code.
func (c *Converter) Local() string {
	return c.local
}

// Rate returns the conversion rate from the given currency into the local
// one. Identity currencies yield 1. An empty rate series also yields 1, the
// provider has no quote for some crosses.
func (c *Converter) Rate(ctx context.Context, from string) (float64, error) {
	if from == c.local || from == "" {
		return 1.0, nil
	}

	c.mu.Lock()
	cached, ok := c.store[from]
	c.mu.Unlock()
	if ok && models.SameDay(cached.fetchedAt, c.now()) {
		return cached.rate, nil
	}

	rate, err := c.fetchRate(ctx, from)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.store[from] = exchangeRate{rate: rate, fetchedAt: c.now()}
	c.mu.Unlock()

	return rate, nil
}

// ConvertSeries returns a copy of series with all prices converted into the
// local currency. A series already in the local currency passes through.
func (c *Converter) ConvertSeries(ctx context.Context, series models.BarSeries) (models.BarSeries, error) {
	if series.Currency == c.local || series.Currency == "" {
		return series, nil
	}

	rate, err := c.Rate(ctx, series.Currency)
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("failed to get %s/%s rate: %w", series.Currency, c.local, err)
	}

	converted := series
	converted.Currency = c.local
	converted.Bars = make([]models.Bar, len(series.Bars))
	for i, b := range series.Bars {
		converted.Bars[i] = models.Bar{
			Time:  b.Time,
			Open:  b.Open * rate,
			High:  b.High * rate,
			Low:   b.Low * rate,
			Close: b.Close * rate,
		}
	}
	return converted, nil
}

func (c *Converter) fetchRate(ctx context.Context, from string) (float64, error) {
	symbol := fmt.Sprintf("%s%s=X", from, c.local)
	series, err := c.source.GetBars(ctx, symbol, "1d", "1d")
	if err != nil {
		return 0, err
	}
	if series.Empty() {
		logger.Warn("No rate data for %s, falling back to 1.0", symbol)
		return 1.0, nil
	}
	return series.Bars[len(series.Bars)-1].Close, nil
}
