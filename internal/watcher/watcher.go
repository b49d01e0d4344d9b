// Package watcher implements the periodic rise/fall notifier: on every tick
// it re-evaluates each chat's watched symbols, applies threshold and
// same-day dedup policy, and dispatches alerts with per-chat failure
// isolation.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/exislow/telegram-stonks-bot/internal/logger"
	"github.com/exislow/telegram-stonks-bot/internal/models"
	"github.com/exislow/telegram-stonks-bot/internal/perf"
)

// ErrRecipientUnavailable marks a send failure caused by the recipient
// blocking or removing the bot. Senders wrap their transport error with it.
var ErrRecipientUnavailable = errors.New("recipient unavailable")

// Store is the chat-store capability the watcher drives.
type Store interface {
	ListChats() ([]int64, error)
	ListSymbols(chatID int64) ([]models.WatchedSymbol, error)
	DedupState(chatID int64) (rise, fall map[string]time.Time, err error)
	SetLastNotified(chatID int64, symbol, kind string, t time.Time) error
	RecordAlert(alert models.SentAlert) error
	ClearChat(chatID int64) (bool, error)
	ClearAll() ([]int64, error)
}

// Resolver fetches a validated symbol's bar series.
type Resolver interface {
	ResolveAndFetch(ctx context.Context, raw, rng, interval string) (string, models.BarSeries, error)
}

// Sender delivers outbound messages to a chat.
type Sender interface {
	SendText(chatID int64, text string) error
	SendPhoto(chatID int64, photo []byte, caption string) error
}

// Renderer produces a companion chart image for an alerted symbol.
// Optional; a nil renderer disables chart attachments.
type Renderer interface {
	RenderChart(ctx context.Context, symbol string) ([]byte, error)
}

// Reporter receives operator-facing error notifications. Optional.
type Reporter interface {
	ReportError(context string, err error)
	ReportRecovery(failureCount int)
}

// Config holds the watcher's thresholds and schedule.
type Config struct {
	Interval      time.Duration
	RiseThreshold float64 // percent, positive
	FallThreshold float64 // percent, negative
	FetchTimeout  time.Duration
	Currency      string
}

type snapshotKey struct {
	chatID int64
	symbol string
}

// snapshotPair holds a symbol's in-memory daily snapshots. Never persisted;
// recomputed each trading day.
type snapshotPair struct {
	rise models.Performance
	fall models.Performance
}

type pendingAlert struct {
	kind string
	text string
	perf models.Performance
}

// Watcher runs the rise/fall decision procedure across all chats.
type Watcher struct {
	store    Store
	resolver Resolver
	sender   Sender
	renderer Renderer
	reporter Reporter
	config   Config
	cron     *cron.Cron
	now      func() time.Time

	mu        sync.Mutex
	snapshots map[snapshotKey]*snapshotPair

	// consecutiveFailures counts scheduled ticks that failed wholesale,
	// so the operator is pinged once per failure streak. Only touched
	// from the cron goroutine.
	consecutiveFailures int
}

// New creates a watcher. renderer and reporter may be nil.
func New(store Store, resolver Resolver, sender Sender, renderer Renderer, reporter Reporter, config Config, location *time.Location) *Watcher {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 45 * time.Second
	}
	return &Watcher{
		store:     store,
		resolver:  resolver,
		sender:    sender,
		renderer:  renderer,
		reporter:  reporter,
		config:    config,
		cron:      cron.New(),
		now:       func() time.Time { return time.Now().In(location) },
		snapshots: make(map[snapshotKey]*snapshotPair),
	}
}

// Start schedules the recurring tick. The first scheduled run fires one
// interval after Start; callers wanting an immediate pass call Tick.
func (w *Watcher) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.config.Interval), func() {
		if err := w.Tick(ctx); err != nil {
			logger.Error("Rise/fall tick failed: %v", err)
			w.consecutiveFailures++
			if w.consecutiveFailures == 1 {
				w.report("scheduled tick", err)
			}
			return
		}
		if w.consecutiveFailures > 0 && w.reporter != nil {
			w.reporter.ReportRecovery(w.consecutiveFailures)
		}
		w.consecutiveFailures = 0
	})
	if err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}
	w.cron.Start()
	logger.Info("Rise/fall watcher started (interval: %v, rise >= %.2f%%, fall <= %.2f%%)",
		w.config.Interval, w.config.RiseThreshold, w.config.FallThreshold)
	return nil
}

// Stop halts the schedule. An in-flight tick finishes on its own.
func (w *Watcher) Stop() {
	w.cron.Stop()
}

// ForceTick runs one out-of-schedule tick in the background. Fire and
// forget; it neither cancels nor waits for a concurrently scheduled tick.
func (w *Watcher) ForceTick(ctx context.Context) {
	go func() {
		if err := w.Tick(ctx); err != nil {
			logger.Error("Forced tick failed: %v", err)
			w.report("forced tick", err)
		}
	}()
}

// Tick evaluates every chat's watchlist once. Errors inside a single chat
// or symbol never abort the rest of the tick; only a failure to enumerate
// chats is returned.
func (w *Watcher) Tick(ctx context.Context) error {
	start := w.now()

	chats, err := w.store.ListChats()
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}

	for _, chatID := range chats {
		w.processChat(ctx, chatID)
	}

	logger.Info("Rise/fall tick completed in %v (%d chats)", time.Since(start).Round(time.Millisecond), len(chats))
	return nil
}

// processChat runs the decision procedure for every symbol the chat tracks.
// A recipient-unavailable delivery failure deletes the chat's data and
// abandons its remaining symbols; any other failure only skips the symbol.
func (w *Watcher) processChat(ctx context.Context, chatID int64) {
	symbols, err := w.store.ListSymbols(chatID)
	if err != nil {
		w.report(fmt.Sprintf("list symbols for chat %d", chatID), err)
		return
	}
	riseState, fallState, err := w.store.DedupState(chatID)
	if err != nil {
		w.report(fmt.Sprintf("dedup state for chat %d", chatID), err)
		return
	}

	for _, ws := range symbols {
		now := w.now()
		queued := w.evaluateSymbol(ctx, chatID, ws, riseState[ws.Symbol], fallState[ws.Symbol], now)

		for _, alert := range queued {
			sendErr := w.deliver(ctx, chatID, ws.Symbol, alert)

			// Dedup is recorded for every queued alert, delivered or not,
			// so a transient send failure cannot turn into an alert storm.
			if err := w.store.SetLastNotified(chatID, ws.Symbol, alert.kind, now); err != nil {
				w.report(fmt.Sprintf("record %s notification for chat %d symbol %s", alert.kind, chatID, ws.Symbol), err)
			}

			if sendErr == nil {
				if err := w.store.RecordAlert(models.SentAlert{
					ChatID:  chatID,
					Symbol:  ws.Symbol,
					Kind:    alert.kind,
					Price:   alert.perf.Price,
					Percent: alert.perf.Percent,
					SentAt:  now,
				}); err != nil {
					logger.Warn("Failed to record alert history for chat %d: %v", chatID, err)
				}
				continue
			}

			if errors.Is(sendErr, ErrRecipientUnavailable) {
				logger.Warn("Chat %d blocked the bot, dropping its watchlist", chatID)
				if _, err := w.store.ClearChat(chatID); err != nil {
					w.report(fmt.Sprintf("clear blocked chat %d", chatID), err)
				}
				w.forgetChat(chatID)
				w.report(fmt.Sprintf("chat %d", chatID), sendErr)
				return
			}

			w.report(fmt.Sprintf("deliver %s alert to chat %d for %s", alert.kind, chatID, ws.Symbol), sendErr)
		}
	}
}

// evaluateSymbol runs steps 1-6 of the per-symbol decision procedure and
// returns the alerts to deliver. Provider failures skip the symbol for this
// tick; the next scheduled tick retries naturally.
func (w *Watcher) evaluateSymbol(ctx context.Context, chatID int64, ws models.WatchedSymbol, lastRise, lastFall time.Time, now time.Time) []pendingAlert {
	// Both alert kinds already fired today: nothing left to detect, and
	// skipping saves the provider round trip.
	if models.SameDay(lastRise, now) && models.SameDay(lastFall, now) {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.config.FetchTimeout)
	defer cancel()

	_, series, err := w.resolver.ResolveAndFetch(fetchCtx, ws.Symbol, "1d", "1m")
	if err != nil {
		logger.Debug("Skipping %s for chat %d this tick: %v", ws.Symbol, chatID, err)
		return nil
	}

	snap := w.snapshot(chatID, ws.Symbol)
	if !perf.Calculate(&snap.rise, &snap.fall, series, now) {
		// Non-trading day or stale series.
		return nil
	}

	var queued []pendingAlert
	if snap.rise.FreshOn(now) && models.BeforeDay(lastRise, now) && snap.rise.Percent >= w.config.RiseThreshold {
		queued = append(queued, pendingAlert{
			kind: models.KindRise,
			perf: snap.rise,
			text: fmt.Sprintf("🚀🚀🚀 %s (%s) is rocketing to %v %s (+%.2f%%)",
				ws.Name, ws.Symbol, models.RoundCurrency(snap.rise.Price), w.config.Currency, snap.rise.Percent),
		})
	}
	if snap.fall.FreshOn(now) && models.BeforeDay(lastFall, now) && snap.fall.Percent <= w.config.FallThreshold {
		queued = append(queued, pendingAlert{
			kind: models.KindFall,
			perf: snap.fall,
			text: fmt.Sprintf("📉📉📉 %s (%s) is drowning to %v %s (%.2f%%)",
				ws.Name, ws.Symbol, models.RoundCurrency(snap.fall.Price), w.config.Currency, snap.fall.Percent),
		})
	}
	return queued
}

func (w *Watcher) deliver(ctx context.Context, chatID int64, symbol string, alert pendingAlert) error {
	if err := w.sender.SendText(chatID, alert.text); err != nil {
		return err
	}
	if w.renderer == nil {
		return nil
	}
	photo, err := w.renderer.RenderChart(ctx, symbol)
	if err != nil {
		logger.Warn("Failed to render chart for %s: %v", symbol, err)
		return nil
	}
	return w.sender.SendPhoto(chatID, photo, symbol)
}

// ClearAll wipes every chat's watchlist and dedup state and notifies each
// affected chat that symbols must be re-added. Send failures are isolated
// per chat. Returns the number of chats cleared.
func (w *Watcher) ClearAll(ctx context.Context) (int, error) {
	chats, err := w.store.ClearAll()
	if err != nil {
		return 0, fmt.Errorf("failed to purge chat store: %w", err)
	}

	w.mu.Lock()
	w.snapshots = make(map[snapshotKey]*snapshotPair)
	w.mu.Unlock()

	const notice = "🖤 Your watch list had to be purged due to maintenance reasons. " +
		"All symbols need to be re-added by you again. Sorry for the inconvenience."
	for _, chatID := range chats {
		if err := w.sender.SendText(chatID, notice); err != nil {
			if errors.Is(err, ErrRecipientUnavailable) {
				logger.Warn("Chat %d unavailable during purge notice", chatID)
				continue
			}
			w.report(fmt.Sprintf("purge notice to chat %d", chatID), err)
		}
	}
	return len(chats), nil
}

// snapshot returns the symbol's in-memory snapshot pair, creating it on
// first access. Ticks may run concurrently (a forced tick alongside a
// scheduled one), so map access is guarded.
func (w *Watcher) snapshot(chatID int64, symbol string) *snapshotPair {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := snapshotKey{chatID: chatID, symbol: symbol}
	if snap, ok := w.snapshots[key]; ok {
		return snap
	}
	snap := &snapshotPair{}
	w.snapshots[key] = snap
	return snap
}

func (w *Watcher) forgetChat(chatID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.snapshots {
		if key.chatID == chatID {
			delete(w.snapshots, key)
		}
	}
}

func (w *Watcher) report(context string, err error) {
	if w.reporter == nil {
		return
	}
	w.reporter.ReportError(context, err)
}
