package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

// sender is the slice of the Telegram API the bridge needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBridge pushes events to the admin through a dedicated admin
// bot. The admin bot is separate from the user-facing bot so the admin
// chat never mixes with user traffic.
type TelegramBridge struct {
	api      sender
	chatID   int64
	fallback *FallbackLog
	log      *logger.Logger
}

// NewTelegramBridge connects to the admin bot. An empty token disables
// the transport; every event then goes straight to the fallback log.
func NewTelegramBridge(token string, chatID int64, fallback *FallbackLog, log *logger.Logger) (*TelegramBridge, error) {
	b := &TelegramBridge{chatID: chatID, fallback: fallback, log: log}

	if token == "" {
		log.Warnw("Admin bot token not set, notifications go to fallback log only")
		return b, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin bot API: %w", err)
	}
	b.api = api

	log.Infow("Admin notification bridge ready", "chat_id", chatID)
	return b, nil
}

func (b *TelegramBridge) Send(ctx context.Context, ev models.NotificationEvent) error {
	if b.api == nil {
		b.fallback.Append(ev)
		return nil
	}

	msg := tgbotapi.NewMessage(b.chatID, Format(ev))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := b.api.Send(msg); err != nil {
		b.log.Errorw("Admin notification delivery failed",
			"kind", ev.Kind, "user_id", ev.UserID, "error", err)
		b.fallback.Append(ev)
	}
	return nil
}

func (b *TelegramBridge) Close() error {
	if b.fallback != nil {
		return b.fallback.Close()
	}
	return nil
}
