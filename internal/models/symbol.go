// Package models defines the core domain entities: watched symbols, price
// bars, and daily performance snapshots.
package models

import (
	"errors"
	"time"
)

// Alert kinds recorded in the per-chat dedup state.
const (
	KindRise = "rise"
	KindFall = "fall"
)

// WatchedSymbol is a ticker tracked within one chat's watchlist.
type WatchedSymbol struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	ISIN     string    `json:"isin,omitempty"`
	Currency string    `json:"currency"`
	AddedAt  time.Time `json:"added_at"`
}

// Validate checks watched symbol field constraints.
func (w *WatchedSymbol) Validate() error {
	if w.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if w.Name == "" {
		return errors.New("display name must not be empty")
	}
	if w.Currency == "" {
		return errors.New("currency must not be empty")
	}
	if w.AddedAt.After(time.Now()) {
		return errors.New("added at must not be in the future")
	}
	return nil
}

// SentAlert is one delivered rise/fall notification, kept for history.
type SentAlert struct {
	ID      string    `json:"id"`
	ChatID  int64     `json:"chat_id"`
	Symbol  string    `json:"symbol"`
	Kind    string    `json:"kind"`
	Price   float64   `json:"price"`
	Percent float64   `json:"percent"`
	SentAt  time.Time `json:"sent_at"`
}
