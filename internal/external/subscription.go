// Package external implements the engine's collaborator interfaces:
// subscription checks, the product catalog, roles, and payments.
package external

import (
	"context"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/flowbot-app/flowbot/internal/errors"
)

// TelegramSubscriptionChecker verifies channel membership via the bot API.
type TelegramSubscriptionChecker struct {
	bot     *telebot.Bot
	breaker *errors.CircuitBreaker
	log     *slog.Logger
}

// NewTelegramSubscriptionChecker wraps the bot instance with a circuit
// breaker so a flapping Telegram API does not stall every chain.
func NewTelegramSubscriptionChecker(bot *telebot.Bot, log *slog.Logger) *TelegramSubscriptionChecker {
	if log == nil {
		log = slog.Default()
	}

	return &TelegramSubscriptionChecker{
		bot:     bot,
		breaker: errors.NewCircuitBreaker(),
		log:     log,
	}
}

// IsSubscribed reports whether the user is a member of the channel. Left,
// kicked, and restricted members count as not subscribed.
func (c *TelegramSubscriptionChecker) IsSubscribed(ctx context.Context, channel string, userID int64) (bool, error) {
	if c.bot == nil {
		return false, fmt.Errorf("bot is not configured for subscription checks")
	}

	var member *telebot.ChatMember
	err := c.breaker.Call(func() error {
		chat, err := c.bot.ChatByUsername(channel)
		if err != nil {
			return fmt.Errorf("resolve channel %s: %w", channel, err)
		}

		member, err = c.bot.ChatMemberOf(chat, &telebot.User{ID: userID})
		if err != nil {
			return fmt.Errorf("chat member of %s: %w", channel, err)
		}

		return nil
	})
	if err != nil {
		return false, errors.NewExternalAPIError("telegram", err)
	}

	switch member.Role {
	case telebot.Creator, telebot.Administrator, telebot.Member:
		return true, nil
	default:
		return false, nil
	}
}
