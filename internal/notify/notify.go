// Package notify alerts the operations team about trades that need a human.
package notify

import (
	"context"
	"fmt"

	"trade-settlement-go/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers a plain-text alert to operators.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Log writes alerts to the application log. It is used when no bot is configured.
type Log struct{}

func (Log) Notify(_ context.Context, text string) error {
	zap.L().Warn("Ops notification", zap.String("text", text))
	return nil
}

// sender is the part of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to the ops chat.
type Telegram struct {
	bot    sender
	chatId int64
}

func NewTelegram(cfg models.TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.OpsChatId == 0 {
		return nil, fmt.Errorf("telegram bot token and ops chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	zap.L().Info("Telegram ops notifier ready", zap.String("bot", bot.Self.UserName))
	return &Telegram{bot: bot, chatId: cfg.OpsChatId}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatId, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// New returns the Telegram notifier when configured and the log notifier otherwise.
func New(cfg models.TelegramConfig) Notifier {
	if cfg.BotToken == "" {
		return Log{}
	}
	t, err := NewTelegram(cfg)
	if err != nil {
		zap.L().Warn("Telegram notifier unavailable, falling back to log", zap.Error(err))
		return Log{}
	}
	return t
}
