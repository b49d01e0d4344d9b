// Package quotes resolves user-supplied tickers against the market data
// provider and fetches price series normalized to the local currency and
// timezone.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exislow/telegram-stonks-bot/internal/models"
	"github.com/exislow/telegram-stonks-bot/internal/yahoo"
)

// ErrInvalidSymbol marks a ticker the market data provider cannot resolve.
var ErrInvalidSymbol = errors.New("symbol does not exist")

// Provider is the market data capability consumed by the resolver.
type Provider interface {
	Search(ctx context.Context, query string) (*yahoo.SearchResult, error)
	GetBars(ctx context.Context, symbol, rng, interval string) (models.BarSeries, error)
	NextEarnings(ctx context.Context, symbol string) (time.Time, error)
}

// Converter rewrites a series' prices into the local currency.
type Converter interface {
	ConvertSeries(ctx context.Context, series models.BarSeries) (models.BarSeries, error)
}

// Resolver validates symbols and fetches locale-adjusted bar series.
type Resolver struct {
	provider  Provider
	converter Converter
	location  *time.Location
}

// NewResolver creates a resolver reporting prices in the converter's
// currency and timestamps in the given location.
func NewResolver(provider Provider, converter Converter, location *time.Location) *Resolver {
	return &Resolver{
		provider:  provider,
		converter: converter,
		location:  location,
	}
}

// Lookup resolves a free-form ticker or ISIN into a watchlist entry.
func (r *Resolver) Lookup(ctx context.Context, raw string) (models.WatchedSymbol, error) {
	match, err := r.provider.Search(ctx, raw)
	if err != nil {
		return models.WatchedSymbol{}, fmt.Errorf("%q: %w", raw, ErrInvalidSymbol)
	}
	if match == nil {
		return models.WatchedSymbol{}, fmt.Errorf("%q: %w", raw, ErrInvalidSymbol)
	}

	return models.WatchedSymbol{
		Symbol:   match.Symbol,
		Name:     match.Name(),
		Currency: currencyFromSymbol(match.Symbol),
		AddedAt:  time.Now(),
	}, nil
}

// ResolveAndFetch validates raw against the provider and returns the
// canonical symbol plus its bar series for the given range and interval,
// with prices in the local currency and timestamps in the local timezone.
// Unresolvable symbols, provider failures, and empty series all surface as
// ErrInvalidSymbol; the caller owns user-facing messaging.
func (r *Resolver) ResolveAndFetch(ctx context.Context, raw, rng, interval string) (string, models.BarSeries, error) {
	match, err := r.provider.Search(ctx, raw)
	if err != nil || match == nil {
		return "", models.BarSeries{}, fmt.Errorf("%q: %w", raw, ErrInvalidSymbol)
	}

	series, err := r.provider.GetBars(ctx, match.Symbol, rng, interval)
	if err != nil || series.Empty() {
		return "", models.BarSeries{}, fmt.Errorf("%q: %w", match.Symbol, ErrInvalidSymbol)
	}

	series, err = r.converter.ConvertSeries(ctx, series)
	if err != nil {
		return "", models.BarSeries{}, fmt.Errorf("%q: %w", match.Symbol, ErrInvalidSymbol)
	}

	return match.Symbol, r.toLocalTime(series), nil
}

// DailyPrice returns the day's OHLC summary for an already-canonical symbol.
func (r *Resolver) DailyPrice(ctx context.Context, symbol string) (models.DailyPrice, error) {
	_, series, err := r.ResolveAndFetch(ctx, symbol, "1d", "1d")
	if err != nil {
		return models.DailyPrice{}, err
	}
	bar := series.Bars[0]
	return models.DailyPrice{
		Open:  models.RoundCurrency(bar.Open),
		High:  models.RoundCurrency(bar.High),
		Low:   models.RoundCurrency(bar.Low),
		Close: models.RoundCurrency(bar.Close),
	}, nil
}

// NextEarnings returns the symbol's next earnings date, zero when unknown.
func (r *Resolver) NextEarnings(ctx context.Context, symbol string) (time.Time, error) {
	return r.provider.NextEarnings(ctx, symbol)
}

func (r *Resolver) toLocalTime(series models.BarSeries) models.BarSeries {
	for i := range series.Bars {
		series.Bars[i].Time = series.Bars[i].Time.In(r.location)
	}
	series.Timezone = r.location.String()
	return series
}

// currencyFromSymbol derives the trading currency from crypto-style symbols
// such as "BTC-USD"; plain tickers trade in the provider's default.
func currencyFromSymbol(symbol string) string {
	if i := strings.LastIndex(symbol, "-"); i >= 0 && i < len(symbol)-1 {
		return symbol[i+1:]
	}
	return "USD"
}
