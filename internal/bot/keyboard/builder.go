// Package keyboard renders flow menu buttons as Telegram inline keyboards.
package keyboard

import (
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/flowbot-app/flowbot/internal/flow"
)

// CallbackPrefix marks callback data produced by the menu keyboard.
const CallbackPrefix = "btn"

// Builder creates inline keyboards from authored menu definitions.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// Menu renders the menu's button rows as inline markup, preserving the
// authored row and column order. Menus without buttons yield nil markup.
func (b *Builder) Menu(menuID string, menu *flow.Menu) *telebot.ReplyMarkup {
	rows := menu.ButtonRows()
	if len(rows) == 0 {
		return nil
	}

	inline := make([][]telebot.InlineButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telebot.InlineButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, telebot.InlineButton{
				Text: btn.Text,
				Data: EncodeButton(menuID, btn.ID),
			})
		}
		inline = append(inline, buttons)
	}

	return &telebot.ReplyMarkup{InlineKeyboard: inline}
}

// URLButton renders a single link button row.
func (b *Builder) URLButton(label, url string) *telebot.ReplyMarkup {
	if label == "" {
		label = url
	}

	return &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{{{Text: label, URL: url}}},
	}
}

// EncodeButton packs a menu button reference into callback data.
func EncodeButton(menuID, buttonID string) string {
	return fmt.Sprintf("%s:%s:%s", CallbackPrefix, menuID, buttonID)
}

// DecodeButton unpacks callback data produced by EncodeButton. The second
// return value reports whether the data carried the keyboard's prefix.
func DecodeButton(data string) (menuID, buttonID string, ok bool) {
	data = strings.TrimPrefix(data, "\f")

	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != CallbackPrefix {
		return "", "", false
	}

	return parts[1], parts[2], true
}
