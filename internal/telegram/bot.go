package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/exislow/telegram-stonks-bot/internal/logger"
	"github.com/exislow/telegram-stonks-bot/internal/models"
	"github.com/exislow/telegram-stonks-bot/internal/quotes"
	"github.com/exislow/telegram-stonks-bot/internal/storage"
	"github.com/exislow/telegram-stonks-bot/internal/watcher"
)

const commandTimeout = 60 * time.Second

const helpText = `Hi, I am the STONKS BOT! Try the following commands:
* /add <SYMBOL/ISIN> | /sa -> Add a stock to the watchlist.
* /del <SYMBOL> | /sd -> Delete a stock from the watchlist.
* /list | /sl -> Show the watchlist.
* /prices | /lp -> List watchlist daily prices.
* /earnings | /sue -> Show upcoming earnings for watched stocks.
* /alerts -> Show recently sent alerts.
* /clear | /sc -> Purge this chat's watchlist.
* /forcetick | /ft -> Run the rise/fall check now (admin).
* /purgeall | /pa -> Purge every chat's watchlist (admin).`

// handlerFunc processes one incoming command message.
type handlerFunc func(ctx context.Context, msg *tgbotapi.Message)

// guard allows or denies a command before its handler runs. A non-empty
// return value is the denial reply.
type guard func(msg *tgbotapi.Message) string

// Bot wires the interactive command surface onto the store, resolver, and
// watcher.
type Bot struct {
	client      *Client
	store       *storage.Storage
	resolver    *quotes.Resolver
	watcher     *watcher.Watcher
	admins      map[int64]bool
	symbolLimit int
	currency    string
	handlers    map[string]handlerFunc
}

// NewBot creates the command dispatcher.
func NewBot(client *Client, store *storage.Storage, resolver *quotes.Resolver, w *watcher.Watcher, adminUserIDs []int64, symbolLimit int, currency string) *Bot {
	b := &Bot{
		client:      client,
		store:       store,
		resolver:    resolver,
		watcher:     w,
		admins:      make(map[int64]bool, len(adminUserIDs)),
		symbolLimit: symbolLimit,
		currency:    currency,
	}
	for _, id := range adminUserIDs {
		b.admins[id] = true
	}
	b.registerHandlers()
	return b
}

func (b *Bot) registerHandlers() {
	b.handlers = make(map[string]handlerFunc)
	register := func(h handlerFunc, names ...string) {
		for _, name := range names {
			b.handlers[name] = h
		}
	}

	register(b.handleHelp, "start", "help", "h")
	register(b.handleAdd, "add", "sa")
	register(b.handleDel, "del", "sd")
	register(b.handleList, "list", "sl")
	register(b.handlePrices, "prices", "lp")
	register(b.handleEarnings, "earnings", "sue")
	register(b.handleAlerts, "alerts")
	register(b.guarded(b.handleClear, b.groupForbidden), "clear", "sc")
	register(b.guarded(b.handleForceTick, b.adminOnly), "forcetick", "ft")
	register(b.guarded(b.handlePurgeAll, b.adminOnly), "purgeall", "pa")
}

// Listen starts a goroutine that polls for updates and dispatches bot
// commands. It returns immediately; the goroutine stops when ctx is
// cancelled.
func (b *Bot) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.client.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.client.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					b.dispatch(ctx, update.Message)
				}
			}
		}
	}()
}

func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	handler, ok := b.handlers[msg.Command()]
	if !ok {
		b.reply(msg, "Command does not exist.")
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	handler(cmdCtx, msg)
}

// guarded composes guards around a handler; the first denial wins.
func (b *Bot) guarded(h handlerFunc, guards ...guard) handlerFunc {
	return func(ctx context.Context, msg *tgbotapi.Message) {
		for _, g := range guards {
			if denial := g(msg); denial != "" {
				b.reply(msg, denial)
				return
			}
		}
		h(ctx, msg)
	}
}

func (b *Bot) adminOnly(msg *tgbotapi.Message) string {
	if msg.From == nil || !b.admins[msg.From.ID] {
		return "Command execution forbidden (restricted access)."
	}
	return ""
}

func (b *Bot) groupForbidden(msg *tgbotapi.Message) string {
	if msg.Chat != nil && (msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
		return "Execution of this command in a group chat is forbidden (restricted access)."
	}
	return ""
}

func (b *Bot) handleHelp(_ context.Context, msg *tgbotapi.Message) {
	b.reply(msg, helpText)
}

func (b *Bot) handleAdd(ctx context.Context, msg *tgbotapi.Message) {
	raw, ok := symbolArg(msg)
	if !ok {
		b.reply(msg, "Usage: /add <SYMBOL/ISIN>")
		return
	}

	count, err := b.store.CountSymbols(msg.Chat.ID)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if count >= b.symbolLimit {
		b.reply(msg, fmt.Sprintf("⚠️ Watchlist limit of %d symbols reached.", b.symbolLimit))
		return
	}

	ws, err := b.resolver.Lookup(ctx, raw)
	if err != nil {
		if errors.Is(err, quotes.ErrInvalidSymbol) {
			b.reply(msg, fmt.Sprintf("❌ Symbol %s does not exist.", raw))
			return
		}
		b.replyInternalError(msg, err)
		return
	}

	watched, err := b.store.HasSymbol(msg.Chat.ID, ws.Symbol)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if watched {
		b.reply(msg, fmt.Sprintf("⚠️ %s (%s) is already in the watchlist.", ws.Name, ws.Symbol))
		return
	}

	if err := b.store.AddSymbol(msg.Chat.ID, ws); err != nil {
		b.replyInternalError(msg, err)
		return
	}
	b.reply(msg, fmt.Sprintf("✅ %s (%s) added to watchlist.", ws.Name, ws.Symbol))
}

func (b *Bot) handleDel(_ context.Context, msg *tgbotapi.Message) {
	symbol, ok := symbolArg(msg)
	if !ok {
		b.reply(msg, "Usage: /del <SYMBOL>")
		return
	}

	removed, err := b.store.RemoveSymbol(msg.Chat.ID, symbol)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if removed {
		b.reply(msg, fmt.Sprintf("✅ Symbol %s was removed.", symbol))
	} else {
		b.reply(msg, fmt.Sprintf("⚠️ Symbol %s is not in watchlist.", symbol))
	}
}

func (b *Bot) handleList(_ context.Context, msg *tgbotapi.Message) {
	symbols, err := b.store.ListSymbols(msg.Chat.ID)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if len(symbols) == 0 {
		b.reply(msg, "🧻🤲 Watch list is empty.")
		return
	}

	var lines []string
	for _, ws := range symbols {
		lines = append(lines, fmt.Sprintf("💎 %s (%s)", ws.Name, ws.Symbol))
	}
	b.reply(msg, strings.Join(lines, "\n"))
}

func (b *Bot) handlePrices(ctx context.Context, msg *tgbotapi.Message) {
	symbols, err := b.store.ListSymbols(msg.Chat.ID)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if len(symbols) == 0 {
		b.reply(msg, "🧻🤲 Watch list is empty.")
		return
	}

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Sym.\t⬆️ H\t⬇️ L\t🛬 C\t±%s\t±%%\n", b.currency)
	for _, ws := range symbols {
		dp, err := b.resolver.DailyPrice(ctx, ws.Symbol)
		if err != nil {
			logger.Warn("Failed to fetch daily price for %s: %v", ws.Symbol, err)
			fmt.Fprintf(tw, "%s\tN/A\tN/A\tN/A\tN/A\tN/A\n", ws.Symbol)
			continue
		}
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t%v\t%v\n", ws.Symbol, dp.High, dp.Low, dp.Close, dp.Diff(), dp.Percent())
	}
	tw.Flush()

	b.reply(msg, "🚀 🚀 🚀 📉 📉 📉\n\n"+sb.String())
}

func (b *Bot) handleEarnings(ctx context.Context, msg *tgbotapi.Message) {
	symbols, err := b.store.ListSymbols(msg.Chat.ID)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if len(symbols) == 0 {
		b.reply(msg, "🧻🤲 Watch list is empty.")
		return
	}

	now := time.Now()
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Company\tSym.\tDate\t-days")
	for _, ws := range symbols {
		date, daysLeft := "N/A", "N/A"
		earnings, err := b.resolver.NextEarnings(ctx, ws.Symbol)
		if err != nil {
			logger.Warn("Failed to fetch earnings date for %s: %v", ws.Symbol, err)
		} else if !earnings.IsZero() {
			date = earnings.Format("2006-01-02")
			daysLeft = fmt.Sprintf("%d", int(earnings.Sub(now).Hours()/24))
		}
		fmt.Fprintf(tw, "%.10s\t%s\t%s\t%s\n", ws.Name, ws.Symbol, date, daysLeft)
	}
	tw.Flush()

	b.reply(msg, "📅 📅 📅\n\n"+sb.String())
}

func (b *Bot) handleAlerts(_ context.Context, msg *tgbotapi.Message) {
	alerts, err := b.store.RecentAlerts(msg.Chat.ID, 10)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	if len(alerts) == 0 {
		b.reply(msg, "🔕 No alerts sent yet.")
		return
	}

	var lines []string
	for _, a := range alerts {
		emoji := "🚀"
		if a.Kind == models.KindFall {
			emoji = "📉"
		}
		lines = append(lines, fmt.Sprintf("%s %s %.2f%% at %v %s (%s)",
			emoji, a.Symbol, a.Percent, models.RoundCurrency(a.Price), b.currency,
			a.SentAt.Format("2006-01-02 15:04")))
	}
	b.reply(msg, strings.Join(lines, "\n"))
}

func (b *Bot) handleClear(_ context.Context, msg *tgbotapi.Message) {
	if _, err := b.store.ClearChat(msg.Chat.ID); err != nil {
		b.replyInternalError(msg, err)
		return
	}
	b.reply(msg, "🖤 Watch list purged.")
}

func (b *Bot) handleForceTick(ctx context.Context, msg *tgbotapi.Message) {
	// Fire and forget; runs the identical tick procedure out of schedule.
	b.watcher.ForceTick(context.WithoutCancel(ctx))
	b.reply(msg, "⏱ Rise/fall check triggered.")
}

func (b *Bot) handlePurgeAll(ctx context.Context, msg *tgbotapi.Message) {
	cleared, err := b.watcher.ClearAll(ctx)
	if err != nil {
		b.replyInternalError(msg, err)
		return
	}
	b.reply(msg, fmt.Sprintf("🖤 Purged watchlists of %d chat(s).", cleared))
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	if err := b.client.SendText(msg.Chat.ID, text); err != nil {
		logger.Warn("Failed to reply to chat %d: %v", msg.Chat.ID, err)
	}
}

func (b *Bot) replyInternalError(msg *tgbotapi.Message, err error) {
	logger.Error("Command %s failed for chat %d: %v", msg.Command(), msg.Chat.ID, err)
	b.client.ReportError(fmt.Sprintf("command /%s in chat %d", msg.Command(), msg.Chat.ID), err)
	b.reply(msg, "💥 Something went wrong, the operator has been notified.")
}

func symbolArg(msg *tgbotapi.Message) (string, bool) {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToUpper(fields[0]), true
}
