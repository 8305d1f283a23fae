// Package telegram delivers alerts to a Telegram chat through the Bot API.
// One beacon.MessageSink call sends one HTML message to the chat fixed at
// construction.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram caps message text at 4096 characters.
const maxMessageRunes = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sink sends HTML messages to one chat.
type Sink struct {
	bot    sender
	chatID int64
}

// New authenticates the bot token and returns a Sink bound to chatID.
func New(token string, chatID int64, timeout time.Duration) (*Sink, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newSink(bot, chatID), nil
}

func newSink(bot sender, chatID int64) *Sink {
	return &Sink{bot: bot, chatID: chatID}
}

// SendMessage posts text with HTML parse mode. The Bot API client has no
// context support, so ctx only short-circuits calls that are already late.
func (s *Sink) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	msg := tgbotapi.NewMessage(s.chatID, truncate(text, maxMessageRunes))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// truncate cuts s to limit runes. The cut backs up to the last line break, or
// failing that to before an unfinished entity or tag, so the HTML stays valid.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit-1])
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		return cut[:i] + "…"
	}
	if i := strings.LastIndexByte(cut, '&'); i >= 0 && !strings.Contains(cut[i:], ";") {
		cut = cut[:i]
	}
	if i := strings.LastIndexByte(cut, '<'); i >= 0 && !strings.Contains(cut[i:], ">") {
		cut = cut[:i]
	}
	return cut + "…"
}
