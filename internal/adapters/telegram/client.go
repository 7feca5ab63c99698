// Package telegram delivers verification codes through a Telegram bot.
// Sandbox environments have no SMS gateway; a private chat with the
// bot stands in for one.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender sends one plain-text message to a chat. The dispatcher is
// written against this so tests can swap in a fake.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Client is the bot API wrapper implementing Sender.
type Client struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ Sender = (*Client)(nil)

// NewClient connects the bot API with the given token.
func NewClient(token string, baseLogger *zerolog.Logger) (*Client, error) {
	log := baseLogger.With().Str("component", "tg_client").Logger()

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect bot API")
		return nil, err
	}
	log.Info().Str("username", api.Self.UserName).Msg("Bot API connected")
	return &Client{api: api, log: log}, nil
}

// SendText sends a plain-text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.api.Send(msg); err != nil {
		c.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
		return err
	}
	return nil
}
