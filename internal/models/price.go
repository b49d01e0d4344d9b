package models

import "time"

// Bar is one OHLC price bar.
type Bar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// BarSeries is an ordered series of bars for one symbol. Currency and
// Timezone describe the prices and timestamps as returned by the provider;
// the resolver rewrites both to the configured locale before handing the
// series to callers.
type BarSeries struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
	Timezone string `json:"timezone"`
	Bars     []Bar  `json:"bars"`
}

// Empty reports whether the series holds no bars.
func (s BarSeries) Empty() bool {
	return len(s.Bars) == 0
}

// OpenPrice returns the first bar's open, the day's opening price for an
// intraday series.
func (s BarSeries) OpenPrice() float64 {
	if s.Empty() {
		return 0
	}
	return s.Bars[0].Open
}

// MaxClose returns the maximum close across all bars.
func (s BarSeries) MaxClose() float64 {
	var max float64
	for i, b := range s.Bars {
		if i == 0 || b.Close > max {
			max = b.Close
		}
	}
	return max
}

// MinOpen returns the minimum open across all bars.
func (s BarSeries) MinOpen() float64 {
	var min float64
	for i, b := range s.Bars {
		if i == 0 || b.Open < min {
			min = b.Open
		}
	}
	return min
}

// DailyPrice summarizes one trading day of a symbol.
type DailyPrice struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Diff returns the close-to-open difference, rounded for display.
func (d DailyPrice) Diff() float64 {
	return RoundCurrency(d.Close - d.Open)
}

// Percent returns the magnitude of the day's move in percent, rounded to two
// decimals. Always non-negative; the sign is carried by Diff.
func (d DailyPrice) Percent() float64 {
	if d.Open == 0 {
		return 0
	}
	ratio := d.Close / d.Open
	var pct float64
	if d.Close > d.Open {
		pct = (ratio - 1) * 100
	} else {
		pct = (1 - ratio) * 100
	}
	return round(pct, 2)
}

// RoundCurrency rounds a price for display: two decimals for values of at
// least one unit, four below that to keep penny quotes readable.
func RoundCurrency(v float64) float64 {
	if v >= 1 || v <= -1 {
		return round(v, 2)
	}
	return round(v, 4)
}

func round(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v < 0 {
		return float64(int64(v*scale-0.5)) / scale
	}
	return float64(int64(v*scale+0.5)) / scale
}
