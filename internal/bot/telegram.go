// Package bot adapts Telegram traffic to engine events: inbound messages
// are decoded into typed payloads, outbound prompts are rendered into
// messages with the right keyboard.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

// handleTimeout bounds the processing of a single inbound message,
// including store round trips and prompt delivery.
const handleTimeout = 30 * time.Second

// Handler consumes decoded inbound events. Implemented by the engine.
type Handler interface {
	HandleInbound(ctx context.Context, ev models.InboundEvent) error
}

// TelegramBot runs the long-polling loop and owns the chat surface.
type TelegramBot struct {
	api    *tgbotapi.BotAPI
	engine Handler
	logger *logger.Logger
}

func NewTelegramBot(token string, engine Handler, logger *logger.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Infow("Authorized on Telegram", "username", api.Self.UserName)

	return &TelegramBot{
		api:    api,
		engine: engine,
		logger: logger,
	}, nil
}

// Username returns the bot's Telegram handle as reported by the API.
func (t *TelegramBot) Username() string {
	return t.api.Self.UserName
}

// Start begins receiving updates from Telegram via polling. Pending
// updates accumulated while the bot was down are dropped so a restart
// does not replay stale conversations.
func (t *TelegramBot) Start(ctx context.Context) error {
	_, err := t.api.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.api.GetUpdatesChan(updateConfig)

	t.logger.Infow("Started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)

	return nil
}

// Stop terminates update polling and gives in-flight handlers a moment
// to finish.
func (t *TelegramBot) Stop(ctx context.Context) {
	t.api.StopReceivingUpdates()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
	}

	t.logger.Infow("Bot stopped")
}

// handleUpdates processes incoming updates from Telegram
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		go func(update tgbotapi.Update) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Errorw("Recovered from panic while processing update", "error", r)
				}
			}()

			t.handleUpdate(ctx, update)
		}(update)
	}
}

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	t.logger.Debugw("Received message",
		"chat_id", update.Message.Chat.ID,
		"from", update.Message.From.UserName)

	if update.Message.IsCommand() {
		t.handleCommand(ctx, update.Message)
		return
	}
	t.handleMessage(ctx, update.Message)
}

// handleCommand processes bot commands
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		// Returning from the checkout page arrives as a deep link:
		// t.me/<bot>?start=paid_<order> confirms, cancel_<order> does not.
		args := message.CommandArguments()
		if strings.HasPrefix(args, "paid_") {
			t.dispatch(ctx, message, models.PaymentConfirmation{})
			return
		}
		t.dispatch(ctx, message, models.FreeTextAnswer{Text: message.Text})
	case "restart", "reset":
		t.dispatch(ctx, message, models.ResetCommand{})
	case "help":
		prompt := models.OutboundPrompt{
			UserID:     message.From.ID,
			ChatID:     message.Chat.ID,
			TemplateID: models.TplHelp,
		}
		if err := t.SendPrompt(ctx, prompt); err != nil {
			t.logger.Errorw("Failed to send help", "user_id", message.From.ID, "error", err)
		}
	default:
		t.reply(message.Chat.ID, "Неизвестная команда. Напиши /help, чтобы посмотреть, что я умею.")
	}
}

// handleMessage decodes a plain message and hands it to the engine
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	t.dispatch(ctx, message, DecodePayload(message.Text))
}

func (t *TelegramBot) dispatch(ctx context.Context, message *tgbotapi.Message, payload models.EventPayload) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	ev := models.InboundEvent{
		UserID:      message.From.ID,
		ChatID:      message.Chat.ID,
		Username:    message.From.UserName,
		DisplayName: strings.TrimSpace(message.From.FirstName + " " + message.From.LastName),
		RawText:     message.Text,
		At:          time.Now().UTC(),
		Payload:     payload,
	}

	if err := t.engine.HandleInbound(ctx, ev); err != nil {
		t.logger.Errorw("Failed to handle inbound message", "user_id", ev.UserID, "error", err)
	}
}

// SendPrompt renders the template and delivers it to the user's chat.
func (t *TelegramBot) SendPrompt(_ context.Context, prompt models.OutboundPrompt) error {
	text, markup := RenderPrompt(prompt)

	msg := tgbotapi.NewMessage(prompt.ChatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (t *TelegramBot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Errorw("Failed to send reply", "chat_id", chatID, "error", err)
	}
}
