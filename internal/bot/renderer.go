package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/flowbot-app/flowbot/internal/bot/keyboard"
	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/flow"
)

// Renderer turns an authored menu into a Telegram message: interpolated
// text, optional media attachment, and the inline keyboard.
type Renderer struct {
	bot       *telebot.Bot
	keyboard  *keyboard.Builder
	parseMode string
	log       *slog.Logger
}

// NewRenderer builds a menu renderer.
func NewRenderer(bot *telebot.Bot, kb *keyboard.Builder, parseMode string, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}

	return &Renderer{bot: bot, keyboard: kb, parseMode: parseMode, log: log}
}

// SendMenu delivers the menu to the recipient. Unknown menu ids are logged
// and skipped; a stale navigation target must not surface as an error.
func (r *Renderer) SendMenu(recipient telebot.Recipient, def *flow.Definition, menuID string, uctx map[string]string) error {
	menu := def.Menu(menuID)
	if menu == nil {
		r.log.Warn("cannot render unknown menu",
			slog.String("flow_id", def.ID), slog.String("menu_id", menuID))
		return nil
	}

	text := engine.Interpolate(menu.Text, uctx)
	markup := r.keyboard.Menu(menuID, menu)

	opts := &telebot.SendOptions{ParseMode: r.parseMode}
	if markup != nil {
		opts.ReplyMarkup = markup
	}

	if menu.Media != nil && menu.Media.URL != "" {
		return r.sendWithMedia(recipient, menu.Media, text, opts)
	}

	if text == "" {
		// A menu with buttons but no text still needs a message body.
		text = menu.Name
	}

	if _, err := r.bot.Send(recipient, text, opts); err != nil {
		return fmt.Errorf("send menu %s: %w", menuID, err)
	}

	return nil
}

func (r *Renderer) sendWithMedia(recipient telebot.Recipient, media *flow.MediaRef, caption string, opts *telebot.SendOptions) error {
	var sendable interface{}

	switch media.Kind {
	case "photo":
		sendable = &telebot.Photo{File: telebot.FromURL(media.URL), Caption: caption}
	case "video":
		sendable = &telebot.Video{File: telebot.FromURL(media.URL), Caption: caption}
	case "document":
		sendable = &telebot.Document{File: telebot.FromURL(media.URL), Caption: caption}
	default:
		r.log.Warn("unknown media kind, sending text only", slog.String("kind", media.Kind))
		_, err := r.bot.Send(recipient, caption, opts)
		return err
	}

	if _, err := r.bot.Send(recipient, sendable, opts); err != nil {
		return fmt.Errorf("send menu media: %w", err)
	}

	return nil
}
