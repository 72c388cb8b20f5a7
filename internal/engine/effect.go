package engine

import (
	"context"

	"github.com/flowbot-app/flowbot/internal/session"
)

// Effect is an abstract side effect emitted by the engine, realized by the
// host as a chat UI update or a Telegram API call.
type Effect interface {
	EffectType() string
}

// SendMessage delivers a text message to the user.
type SendMessage struct {
	Text      string
	ParseMode string
}

func (SendMessage) EffectType() string { return "send_message" }

// ShowTyping displays the typing indicator for a number of seconds.
type ShowTyping struct {
	Seconds int
}

func (ShowTyping) EffectType() string { return "show_typing" }

// OpenURL offers a link to the user.
type OpenURL struct {
	URL   string
	Label string
}

func (OpenURL) EffectType() string { return "open_url" }

// CommerceUpdate reports the cart after a commerce operation.
type CommerceUpdate struct {
	Cart  []session.CartItem
	Total float64
	Note  string
}

func (CommerceUpdate) EffectType() string { return "commerce_update" }

// Navigate reports the menu the chain navigated to. It is appended by hosts
// that render navigation as an effect stream entry.
type Navigate struct {
	MenuID string
}

func (Navigate) EffectType() string { return "navigate" }

// Sink receives effects in emission order. Hosts realize them immediately
// (live chat) or buffer them (preview, tests).
type Sink interface {
	Emit(ctx context.Context, effect Effect) error
}

// Collector is a Sink that buffers effects in order.
type Collector struct {
	Effects []Effect
}

// Emit appends the effect to the buffer.
func (c *Collector) Emit(_ context.Context, effect Effect) error {
	c.Effects = append(c.Effects, effect)
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, effect Effect) error

// Emit calls the wrapped function.
func (f SinkFunc) Emit(ctx context.Context, effect Effect) error {
	return f(ctx, effect)
}
