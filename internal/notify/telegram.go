package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/scheduler"
	"github.com/cardwatch/cardwatch/pkg/types"
)

// Sender is the part of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Source publishes change events.
type Source interface {
	Subscribe() (int, <-chan types.ChangeEvent)
	Unsubscribe(id int)
}

// Telegram posts accumulated-set changes to one chat.
type Telegram struct {
	sender  Sender
	chatID  int64
	limiter *scheduler.ErrorLimiter
}

// NewTelegram authorizes the bot token and returns a notifier for chatID.
func NewTelegram(token string, chatID int64, cooldown time.Duration) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	logger.Info("Notify", "Authorized on account %s", api.Self.UserName)
	return NewTelegramWithSender(api, chatID, cooldown), nil
}

// NewTelegramWithSender builds a notifier on an existing sender.
func NewTelegramWithSender(sender Sender, chatID int64, cooldown time.Duration) *Telegram {
	return &Telegram{
		sender:  sender,
		chatID:  chatID,
		limiter: scheduler.NewErrorLimiter(cooldown),
	}
}

// Run forwards events from src until ctx ends or src closes the channel.
func (t *Telegram) Run(ctx context.Context, src Source) {
	id, events := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.Notify(ev)
		}
	}
}

// Notify sends one message for ev. Send errors are logged, not returned.
func (t *Telegram) Notify(ev types.ChangeEvent) {
	text := FormatEvent(ev)
	if text == "" {
		return
	}
	if _, err := t.sender.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.limiter.Log("send", fmt.Sprintf("Send failed: %v", err), func(f string, a ...interface{}) {
			logger.Warn("Notify", f, a...)
		})
	}
}

// FormatEvent renders a change event as a chat message.
func FormatEvent(ev types.ChangeEvent) string {
	switch {
	case ev.Reset:
		return "🔄 Cards cleared"
	case len(ev.Added) > 0:
		return fmt.Sprintf("🃏 New cards: %s\nSeen so far: %s",
			strings.Join(ev.Added, ", "), strings.Join(ev.Snapshot.Cards, ", "))
	default:
		return ""
	}
}
