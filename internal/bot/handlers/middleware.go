// Package handlers contains Telegram bot update handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// IgnoreBots creates a middleware that drops messages sent by other bots, so
// bots in the same group cannot issue title commands.
func IgnoreBots(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if update.Message != nil && update.Message.From != nil && update.Message.From.IsBot {
				deps.Logger.DebugContext(ctx, "Ignoring message from bot",
					"middleware", "IgnoreBots",
					"user_id", update.Message.From.ID,
					"chat_id", update.Message.Chat.ID)
				return
			}

			next(ctx, bot, update)
		}
	}
}
