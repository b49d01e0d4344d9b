// Package perf computes daily rise/fall performance snapshots from intraday
// bar series.
package perf

import (
	"time"

	"github.com/exislow/telegram-stonks-bot/internal/models"
)

// Calculate folds a day's intraday series into the rise and fall snapshots
// in place. It returns false without touching either snapshot when the
// series is not dated today (market closed, stale data); true whenever the
// dates match, whether or not a snapshot actually updated. Callers check
// each snapshot's own CalculatedAt for freshness.
//
// A snapshot already calculated today is left alone, so the first
// computation of the day wins until the date rolls over.
func Calculate(rise, fall *models.Performance, series models.BarSeries, now time.Time) bool {
	if series.Empty() {
		return false
	}
	if !models.SameDay(series.Bars[0].Time, now) {
		return false
	}

	priceOpen := series.OpenPrice()
	if priceOpen == 0 {
		return false
	}

	// The daily maximum is taken over closes, the minimum over opens.
	priceMax := series.MaxClose()
	priceMin := series.MinOpen()

	if models.BeforeDay(rise.CalculatedAt, now) && priceMax > priceOpen {
		rise.Price = priceMax
		rise.Percent = ((priceMax / priceOpen) - 1) * 100
		rise.CalculatedAt = now
	}

	if models.BeforeDay(fall.CalculatedAt, now) && priceMin < priceOpen {
		fall.Price = priceMin
		fall.Percent = ((priceMin / priceOpen) - 1) * 100
		fall.CalculatedAt = now
	}

	return true
}
