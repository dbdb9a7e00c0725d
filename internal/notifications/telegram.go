package notifications

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramBot is the slice of the Bot API client the sender uses.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers chat messages through the Telegram Bot API.
type TelegramSender struct {
	bot    telegramBot
	logger func(ctx context.Context, event string, fields map[string]any)
}

// TelegramSenderDeps wires the dependencies for a TelegramSender.
type TelegramSenderDeps struct {
	Bot    telegramBot
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// NewTelegramSender constructs a TelegramSender validating required dependencies.
func NewTelegramSender(deps TelegramSenderDeps) (*TelegramSender, error) {
	if deps.Bot == nil {
		return nil, errors.New("notifications: telegram bot is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TelegramSender{bot: deps.Bot, logger: logger}, nil
}

// SendMessage pushes a plain-text message into the chat.
func (s *TelegramSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send message: %w", err)
	}
	s.logger(ctx, "notify.telegram.sent", map[string]any{"chatId": chatID})
	return nil
}

// SendPhoto pushes an image by URL with a caption into the chat.
func (s *TelegramSender) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	if _, err := s.bot.Send(photo); err != nil {
		return fmt.Errorf("telegram send photo: %w", err)
	}
	s.logger(ctx, "notify.telegram.sent", map[string]any{"chatId": chatID, "photo": true})
	return nil
}
