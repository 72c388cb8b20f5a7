package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/flowbot-app/flowbot/internal/bot/keyboard"
	"github.com/flowbot-app/flowbot/internal/engine"
)

// TelegramSink realizes engine effects as Telegram API calls, in emission
// order. Navigation effects are skipped here; the flow service renders the
// destination menu after the chain settles.
type TelegramSink struct {
	bot       *telebot.Bot
	recipient telebot.Recipient
	keyboard  *keyboard.Builder
	parseMode string
	log       *slog.Logger
}

var _ engine.Sink = (*TelegramSink)(nil)

// NewTelegramSink builds a sink delivering to a single chat.
func NewTelegramSink(bot *telebot.Bot, recipient telebot.Recipient, kb *keyboard.Builder, parseMode string, log *slog.Logger) *TelegramSink {
	if log == nil {
		log = slog.Default()
	}

	return &TelegramSink{
		bot:       bot,
		recipient: recipient,
		keyboard:  kb,
		parseMode: parseMode,
		log:       log,
	}
}

// Emit sends one effect to the chat.
func (s *TelegramSink) Emit(ctx context.Context, effect engine.Effect) error {
	switch e := effect.(type) {
	case engine.SendMessage:
		opts := &telebot.SendOptions{ParseMode: s.resolveParseMode(e.ParseMode)}
		if _, err := s.bot.Send(s.recipient, e.Text, opts); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		return nil
	case engine.ShowTyping:
		// The engine's clock holds the chain for the configured duration;
		// the sink only flips the indicator on.
		if err := s.bot.Notify(s.recipient, telebot.Typing); err != nil {
			return fmt.Errorf("send typing action: %w", err)
		}
		return nil
	case engine.OpenURL:
		markup := s.keyboard.URLButton(e.Label, e.URL)
		if _, err := s.bot.Send(s.recipient, e.URL, markup); err != nil {
			return fmt.Errorf("send url button: %w", err)
		}
		return nil
	case engine.CommerceUpdate:
		if _, err := s.bot.Send(s.recipient, formatCart(e)); err != nil {
			return fmt.Errorf("send cart update: %w", err)
		}
		return nil
	case engine.Navigate:
		return nil
	default:
		s.log.Warn("unhandled effect type", slog.String("effect", effect.EffectType()))
		return nil
	}
}

func (s *TelegramSink) resolveParseMode(mode string) string {
	if mode != "" {
		return mode
	}
	return s.parseMode
}

func formatCart(update engine.CommerceUpdate) string {
	var sb strings.Builder

	if update.Note != "" {
		sb.WriteString(update.Note)
		sb.WriteString("\n\n")
	}

	if len(update.Cart) == 0 {
		sb.WriteString("Your cart is empty.")
		return sb.String()
	}

	sb.WriteString("🛒 Your cart:\n")
	for _, item := range update.Cart {
		sb.WriteString(fmt.Sprintf("• %s ×%d — %s\n", item.ProductID, item.Quantity, formatPrice(item.PriceSnapshot*float64(item.Quantity))))
	}
	sb.WriteString(fmt.Sprintf("\nTotal: %s", formatPrice(update.Total)))

	return sb.String()
}

func formatPrice(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
