// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats analysis recommendations and execution decisions into human-readable
// messages and handles delivery with retry logic for reliability.
//
// The client supports Markdown formatting and includes error handling for
// common Telegram API issues like rate limiting and network failures.
package telegram

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/polyagent/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendRecommendation sends one analysis outcome with its execution decision.
func (c *Client) SendRecommendation(question string, rec models.Recommendation, dec models.ExecutionDecision) error {
	message := formatMessage(question, rec, dec)

	// Create message
	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2" // Use MarkdownV2 for better escaping support

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats a recommendation into a Telegram message
func formatMessage(question string, rec models.Recommendation, dec models.ExecutionDecision) string {
	actionEmoji := "⏸"
	switch rec.Action {
	case models.ActionBuy:
		actionEmoji = "📈"
	case models.ActionSell:
		actionEmoji = "📉"
	}

	message := "🤖 *Market Analysis*\n\n"
	message += fmt.Sprintf("❓ %s\n\n", escapeMarkdownV2(question))
	message += fmt.Sprintf("%s Action: *%s*\n", actionEmoji, escapeMarkdownV2(string(rec.Action)))
	message += fmt.Sprintf("🎯 Confidence: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", rec.Confidence*100)))

	if dec.Execute {
		message += fmt.Sprintf("✅ Trade: %s side, up to %s USDC\n",
			escapeMarkdownV2(dec.Side), escapeMarkdownV2(fmt.Sprintf("%.2f", dec.Amount)))
	} else {
		message += fmt.Sprintf("🚫 No trade: %s\n", escapeMarkdownV2(string(dec.Reason)))
	}

	if len(rec.ToolInvocations) > 0 {
		message += fmt.Sprintf("🔧 Tools used: %d\n", len(rec.ToolInvocations))
	}

	reasoning := rec.Reasoning
	if len(reasoning) > 400 {
		reasoning = reasoning[:400] + "..."
	}
	message += fmt.Sprintf("\n💬 %s\n", escapeMarkdownV2(reasoning))
	message += fmt.Sprintf("\n🔖 Trace: `%s`\n", rec.TraceID)

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	// Note: We escape all of them with \ prefix

	result := ""
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			result += "\\" + string(char)
		default:
			result += string(char)
		}
	}
	return result
}
