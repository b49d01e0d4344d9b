// Package telegram provides the bot transport: outbound message delivery
// and the interactive command surface over the Telegram Bot API.
package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/exislow/telegram-stonks-bot/internal/logger"
	"github.com/exislow/telegram-stonks-bot/internal/watcher"
)

// maxMessageLength is Telegram's hard limit for one text message.
const maxMessageLength = 4096

// Client handles outbound Telegram delivery. It satisfies watcher.Sender;
// 403 responses from the Bot API surface as watcher.ErrRecipientUnavailable.
type Client struct {
	bot            *tgbotapi.BotAPI
	masterChatID   int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client. masterChatID receives operator
// error reports.
func NewClient(botToken string, masterChatID int64, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		masterChatID:   masterChatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendText sends plain text to a chat, splitting messages beyond Telegram's
// length limit at line boundaries into sequential sends.
func (c *Client) SendText(chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLength) {
		if err := c.send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return err
		}
	}
	return nil
}

// SendPhoto sends an image with a caption to a chat.
func (c *Client) SendPhoto(chatID int64, photo []byte, caption string) error {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "chart.png", Bytes: photo})
	msg.Caption = caption
	return c.send(msg)
}

// ReportError sends an operator notification to the master chat. Best
// effort; a failed report is only logged.
func (c *Client) ReportError(context string, err error) {
	text := fmt.Sprintf("⚠️ *%s*\n`%s`", escapeMarkdownV2(context), escapeMarkdownV2(err.Error()))
	if sendErr := c.sendMarkdownV2(c.masterChatID, text); sendErr != nil {
		logger.Warn("Failed to report error to master chat: %v", sendErr)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message, split like SendText.
func (c *Client) sendMarkdownV2(chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "MarkdownV2"
		if err := c.send(msg); err != nil {
			return err
		}
	}
	return nil
}

// ReportRecovery notifies the master chat after consecutive tick failures.
func (c *Client) ReportRecovery(failureCount int) {
	text := fmt.Sprintf("✅ Watcher recovered after %d consecutive failure(s)", failureCount)
	if err := c.SendText(c.masterChatID, text); err != nil {
		logger.Warn("Failed to send recovery notice to master chat: %v", err)
	}
}

// send delivers one message with linear-backoff retry. A 403 from the Bot
// API means the recipient blocked or removed the bot; that is not retried.
func (c *Client) send(msg tgbotapi.Chattable) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		if isForbidden(err) {
			return fmt.Errorf("%w: %v", watcher.ErrRecipientUnavailable, err)
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func isForbidden(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 403
	}
	return false
}

// splitMessage splits text into chunks of at most limit bytes, preferring
// line boundaries. A single line longer than the limit is hard-cut.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if b.Len() > 0 {
				parts = append(parts, b.String())
				b.Reset()
			}
			parts = append(parts, line[:limit])
			line = line[limit:]
		}
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			parts = append(parts, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
