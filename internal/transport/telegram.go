package transport

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"prenotabot/internal/dialog"
)

// TelegramChannel runs one shop on Telegram instead of WhatsApp: long-polled
// updates are adapted into the same engine, the chat id standing in for the
// customer phone.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	engine Engine
	shops  ShopDirectory
	shopID string
	logger *zerolog.Logger
}

// NewTelegramChannel connects the bot token bound to one shop id.
func NewTelegramChannel(token, shopID string, engine Engine, shops ShopDirectory, logger *zerolog.Logger) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramChannel{bot: bot, engine: engine, shops: shops, shopID: shopID, logger: logger}, nil
}

// Run polls updates until the context is done.
func (c *TelegramChannel) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handle(ctx, update)
		}
	}
}

func (c *TelegramChannel) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if update.Message.Text == "" {
		c.send(chatID, dialog.MsgTextOnly())
		return
	}

	cfg, err := c.shops.ShopByID(ctx, c.shopID)
	if err != nil {
		c.logger.Error().Err(err).Str("shop", c.shopID).Msg("telegram: tenant load failed")
		return
	}

	reply, err := c.engine.HandleTurn(ctx, *cfg, strconv.FormatInt(chatID, 10), update.Message.Text)
	if err != nil {
		c.logger.Error().Err(err).Msg("telegram: turn failed")
		return
	}
	c.send(chatID, reply)
}

func (c *TelegramChannel) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		c.logger.Error().Err(err).Int64("chat", chatID).Msg("telegram: send failed")
	}
}
