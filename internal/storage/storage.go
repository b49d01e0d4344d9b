// Package storage provides the SQLite-backed chat store: per-chat
// watchlists, rise/fall notification dedup timestamps, and alert history.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/exislow/telegram-stonks-bot/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/stonksbot/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "stonksbot", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watchlist (
			chat_id   INTEGER NOT NULL,
			symbol    TEXT NOT NULL,
			name      TEXT NOT NULL,
			isin      TEXT,
			currency  TEXT NOT NULL,
			added_at  INTEGER NOT NULL,
			PRIMARY KEY (chat_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			chat_id          INTEGER NOT NULL,
			symbol           TEXT NOT NULL,
			kind             TEXT NOT NULL CHECK (kind IN ('rise', 'fall')),
			last_notified_at INTEGER NOT NULL,
			PRIMARY KEY (chat_id, symbol, kind),
			FOREIGN KEY (chat_id, symbol)
				REFERENCES watchlist (chat_id, symbol) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id      TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			symbol  TEXT NOT NULL,
			kind    TEXT NOT NULL,
			price   REAL NOT NULL,
			percent REAL NOT NULL,
			sent_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_chat_sent ON alerts(chat_id, sent_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddSymbol adds a symbol to a chat's watchlist. Adding a symbol that is
// already watched fails on the primary key; callers check HasSymbol first.
func (s *Storage) AddSymbol(chatID int64, ws models.WatchedSymbol) error {
	if err := ws.Validate(); err != nil {
		return fmt.Errorf("invalid watched symbol: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO watchlist (chat_id, symbol, name, isin, currency, added_at)
		VALUES (?,?,?,?,?,?)`,
		chatID, ws.Symbol, ws.Name, ws.ISIN, ws.Currency, ws.AddedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert watchlist entry: %w", err)
	}
	return nil
}

// HasSymbol reports whether the chat already watches the symbol.
func (s *Storage) HasSymbol(chatID int64, symbol string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM watchlist WHERE chat_id = ? AND symbol = ?`,
		chatID, symbol).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query watchlist: %w", err)
	}
	return n > 0, nil
}

// RemoveSymbol removes a symbol from a chat's watchlist. The cascade also
// drops the symbol's rise/fall dedup rows, so a re-added symbol starts with
// a clean notification slate. Returns false when the symbol was not watched.
func (s *Storage) RemoveSymbol(chatID int64, symbol string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM watchlist WHERE chat_id = ? AND symbol = ?`, chatID, symbol)
	if err != nil {
		return false, fmt.Errorf("failed to delete watchlist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListSymbols returns a chat's watchlist sorted by symbol.
func (s *Storage) ListSymbols(chatID int64) ([]models.WatchedSymbol, error) {
	rows, err := s.db.Query(`
		SELECT symbol, name, isin, currency, added_at
		FROM watchlist WHERE chat_id = ? ORDER BY symbol`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var symbols []models.WatchedSymbol
	for rows.Next() {
		var ws models.WatchedSymbol
		var isin sql.NullString
		var addedAtNano int64
		if err := rows.Scan(&ws.Symbol, &ws.Name, &isin, &ws.Currency, &addedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		ws.ISIN = isin.String
		ws.AddedAt = time.Unix(0, addedAtNano)
		symbols = append(symbols, ws)
	}
	return symbols, rows.Err()
}

// CountSymbols returns the number of symbols a chat watches.
func (s *Storage) CountSymbols(chatID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM watchlist WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count watchlist: %w", err)
	}
	return n, nil
}

// ListChats returns every chat id with at least one watched symbol.
func (s *Storage) ListChats() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT chat_id FROM watchlist ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chat id: %w", err)
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}

// DedupState returns the chat's symbol → last-notified maps, one for rise
// and one for fall. Absent symbols simply have no entry; readers fall back
// to the zero time.
func (s *Storage) DedupState(chatID int64) (rise, fall map[string]time.Time, err error) {
	rows, err := s.db.Query(`
		SELECT symbol, kind, last_notified_at
		FROM notifications WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	rise = make(map[string]time.Time)
	fall = make(map[string]time.Time)
	for rows.Next() {
		var symbol, kind string
		var notifiedAtNano int64
		if err := rows.Scan(&symbol, &kind, &notifiedAtNano); err != nil {
			return nil, nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		t := time.Unix(0, notifiedAtNano)
		switch kind {
		case models.KindRise:
			rise[symbol] = t
		case models.KindFall:
			fall[symbol] = t
		}
	}
	return rise, fall, rows.Err()
}

// SetLastNotified records that an alert of the given kind was sent for the
// chat's symbol at t, overwriting any prior timestamp.
func (s *Storage) SetLastNotified(chatID int64, symbol, kind string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO notifications (chat_id, symbol, kind, last_notified_at)
		VALUES (?,?,?,?)`,
		chatID, symbol, kind, t.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// RecordAlert appends a delivered alert to the history.
func (s *Storage) RecordAlert(alert models.SentAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (id, chat_id, symbol, kind, price, percent, sent_at)
		VALUES (?,?,?,?,?,?,?)`,
		alert.ID, alert.ChatID, alert.Symbol, alert.Kind,
		alert.Price, alert.Percent, alert.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns a chat's latest delivered alerts, newest first.
func (s *Storage) RecentAlerts(chatID int64, limit int) ([]models.SentAlert, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, symbol, kind, price, percent, sent_at
		FROM alerts WHERE chat_id = ? ORDER BY sent_at DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.SentAlert
	for rows.Next() {
		var a models.SentAlert
		var sentAtNano int64
		if err := rows.Scan(&a.ID, &a.ChatID, &a.Symbol, &a.Kind, &a.Price, &a.Percent, &sentAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.SentAt = time.Unix(0, sentAtNano)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ClearChat wipes one chat's watchlist and, via cascade, its dedup state.
// Returns false when the chat had nothing stored.
func (s *Storage) ClearChat(chatID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM watchlist WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("failed to clear chat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearAll wipes every chat's watchlist and dedup state and returns the ids
// of the chats that actually had data, so callers can notify them.
func (s *Storage) ClearAll() ([]int64, error) {
	chats, err := s.ListChats()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM watchlist`); err != nil {
		return nil, fmt.Errorf("failed to clear watchlists: %w", err)
	}
	return chats, nil
}
