package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/exislow/telegram-stonks-bot/internal/models"
	"github.com/exislow/telegram-stonks-bot/internal/storage"
)

var testNow = time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)

type fakeResolver struct {
	series map[string]models.BarSeries
	calls  map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		series: make(map[string]models.BarSeries),
		calls:  make(map[string]int),
	}
}

func (r *fakeResolver) ResolveAndFetch(_ context.Context, raw, _, _ string) (string, models.BarSeries, error) {
	r.calls[raw]++
	series, ok := r.series[raw]
	if !ok {
		return "", models.BarSeries{}, fmt.Errorf("no quote data for %s", raw)
	}
	return raw, series, nil
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	sent     []sentMessage
	failWith map[int64]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{failWith: make(map[int64]error)}
}

func (s *fakeSender) SendText(chatID int64, text string) error {
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
	return s.failWith[chatID]
}

func (s *fakeSender) SendPhoto(chatID int64, _ []byte, caption string) error {
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: "photo:" + caption})
	return s.failWith[chatID]
}

func (s *fakeSender) sentTo(chatID int64) []sentMessage {
	var out []sentMessage
	for _, m := range s.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeReporter struct {
	errorContexts []string
	recoveries    []int
}

func (r *fakeReporter) ReportError(context string, _ error) {
	r.errorContexts = append(r.errorContexts, context)
}

func (r *fakeReporter) ReportRecovery(failureCount int) {
	r.recoveries = append(r.recoveries, failureCount)
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestWatcher(t *testing.T, store *storage.Storage, resolver Resolver, sender Sender, reporter Reporter) *Watcher {
	t.Helper()
	w := New(store, resolver, sender, nil, reporter, Config{
		Interval:      5 * time.Minute,
		RiseThreshold: 5.0,
		FallThreshold: -5.0,
		Currency:      "EUR",
	}, time.UTC)
	w.now = func() time.Time { return testNow }
	return w
}

func watch(t *testing.T, store *storage.Storage, chatID int64, symbol string) {
	t.Helper()
	err := store.AddSymbol(chatID, models.WatchedSymbol{
		Symbol:   symbol,
		Name:     symbol + " Corp",
		Currency: "EUR",
		AddedAt:  testNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
}

// daySeries builds a one-day series opening at open whose maximum close is
// maxClose and minimum open is minOpen.
func daySeries(day time.Time, open, maxClose, minOpen float64) models.BarSeries {
	base := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location())
	return models.BarSeries{
		Symbol:   "TEST",
		Currency: "EUR",
		Bars: []models.Bar{
			{Time: base, Open: open, High: open, Low: open, Close: open},
			{Time: base.Add(time.Minute), Open: minOpen, High: maxClose, Low: minOpen, Close: maxClose},
			{Time: base.Add(2 * time.Minute), Open: open, High: open, Low: open, Close: open},
		},
	}
}

func TestTick_RiseAlert(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow, 100, 110, 99)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].text, "rocketing") {
		t.Errorf("unexpected alert text: %q", sender.sent[0].text)
	}
	if !strings.Contains(sender.sent[0].text, "+10.00%") {
		t.Errorf("alert text missing percentage: %q", sender.sent[0].text)
	}

	rise, _, err := store.DedupState(1)
	if err != nil {
		t.Fatalf("DedupState: %v", err)
	}
	if !rise["AAA"].Equal(testNow) {
		t.Errorf("rise dedup not recorded: %v", rise)
	}

	alerts, err := store.RecentAlerts(1, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Kind != models.KindRise {
		t.Errorf("alert history not recorded: %+v", alerts)
	}
}

func TestTick_FallAlert(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow, 100, 100, 94)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].text, "drowning") {
		t.Errorf("unexpected alert text: %q", sender.sent[0].text)
	}
	if !strings.Contains(sender.sent[0].text, "-6.00%") {
		t.Errorf("alert text missing percentage: %q", sender.sent[0].text)
	}
}

func TestTick_SecondTickSendsNothing(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow, 100, 110, 99)

	for i := 0; i < 2; i++ {
		if err := w.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if len(sender.sent) != 1 {
		t.Errorf("got %d sends across two ticks, want 1", len(sender.sent))
	}
}

func TestTick_SkipsFetchWhenBothKindsNotifiedToday(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	if err := store.SetLastNotified(1, "AAA", models.KindRise, testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("SetLastNotified: %v", err)
	}
	if err := store.SetLastNotified(1, "AAA", models.KindFall, testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("SetLastNotified: %v", err)
	}

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if resolver.calls["AAA"] != 0 {
		t.Errorf("resolver called %d times, want 0", resolver.calls["AAA"])
	}
	if len(sender.sent) != 0 {
		t.Errorf("got %d sends, want 0", len(sender.sent))
	}
}

func TestTick_OneKindNotifiedLeavesOtherArmed(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	if err := store.SetLastNotified(1, "AAA", models.KindRise, testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("SetLastNotified: %v", err)
	}
	// Rises past the threshold in both directions; only the fall may fire.
	resolver.series["AAA"] = daySeries(testNow, 100, 110, 94)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].text, "drowning") {
		t.Errorf("expected fall alert, got %q", sender.sent[0].text)
	}
}

func TestTick_ThresholdNotMet(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow, 100, 102, 99)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("got %d sends, want 0", len(sender.sent))
	}
	rise, fall, _ := store.DedupState(1)
	if len(rise) != 0 || len(fall) != 0 {
		t.Errorf("dedup recorded without an alert: rise=%v fall=%v", rise, fall)
	}
}

func TestTick_NonTradingDay(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow.AddDate(0, 0, -1), 100, 110, 94)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("got %d sends on stale series, want 0", len(sender.sent))
	}
}

func TestTick_ProviderFailureSkipsSymbolOnly(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	watch(t, store, 1, "BBB")
	// No series for AAA; BBB resolves fine.
	resolver.series["BBB"] = daySeries(testNow, 100, 110, 99)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].text, "BBB") {
		t.Errorf("expected BBB alert, got %q", sender.sent[0].text)
	}
}

func TestTick_RecipientUnavailableAbortsChatAndClearsIt(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	reporter := &fakeReporter{}
	w := newTestWatcher(t, store, resolver, sender, reporter)

	watch(t, store, 1, "AAA")
	watch(t, store, 1, "BBB")
	watch(t, store, 2, "AAA")
	for _, sym := range []string{"AAA", "BBB"} {
		resolver.series[sym] = daySeries(testNow, 100, 110, 99)
	}
	sender.failWith[1] = fmt.Errorf("send: %w", ErrRecipientUnavailable)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if got := sender.sentTo(1); len(got) != 1 {
		t.Errorf("blocked chat got %d send attempts, want 1", len(got))
	}
	symbols, _ := store.ListSymbols(1)
	if len(symbols) != 0 {
		t.Errorf("blocked chat's watchlist not cleared: %v", symbols)
	}
	if got := sender.sentTo(2); len(got) != 1 {
		t.Errorf("chat 2 got %d sends, want 1", len(got))
	}
	if len(reporter.errorContexts) == 0 {
		t.Error("blocked chat was not reported")
	}
}

func TestTick_OtherSendErrorStillRecordsDedup(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	reporter := &fakeReporter{}
	w := newTestWatcher(t, store, resolver, sender, reporter)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow, 100, 110, 99)
	sender.failWith[1] = errors.New("telegram: timeout")

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rise, _, _ := store.DedupState(1)
	if !rise["AAA"].Equal(testNow) {
		t.Errorf("dedup not recorded after failed send: %v", rise)
	}
	symbols, _ := store.ListSymbols(1)
	if len(symbols) != 1 {
		t.Errorf("chat cleared on a transient error: %v", symbols)
	}
	alerts, _ := store.RecentAlerts(1, 10)
	if len(alerts) != 0 {
		t.Errorf("failed send recorded in history: %+v", alerts)
	}
	if len(reporter.errorContexts) == 0 {
		t.Error("transient send failure was not reported")
	}
}

func TestTick_RemoveAndReAddReArmsSameDay(t *testing.T) {
	store := newTestStorage(t)
	resolver := newFakeResolver()
	sender := newFakeSender()
	w := newTestWatcher(t, store, resolver, sender, nil)

	watch(t, store, 1, "AAA")
	resolver.series["AAA"] = daySeries(testNow, 100, 110, 99)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sent))
	}

	if _, err := store.RemoveSymbol(1, "AAA"); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	w.forgetChat(1)
	watch(t, store, 1, "AAA")

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Errorf("re-added symbol did not alert again: %d sends", len(sender.sent))
	}
}

func TestClearAll(t *testing.T) {
	store := newTestStorage(t)
	sender := newFakeSender()
	w := newTestWatcher(t, store, newFakeResolver(), sender, nil)

	watch(t, store, 1, "AAA")
	watch(t, store, 2, "BBB")
	sender.failWith[1] = fmt.Errorf("send: %w", ErrRecipientUnavailable)

	cleared, err := w.ClearAll(context.Background())
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}

	chats, _ := store.ListChats()
	if len(chats) != 0 {
		t.Errorf("chats remain after purge: %v", chats)
	}
	got := sender.sentTo(2)
	if len(got) != 1 || !strings.Contains(got[0].text, "purged") {
		t.Errorf("chat 2 purge notice missing: %v", got)
	}
}
