package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	tele "gopkg.in/telebot.v3"
)

// Messenger satisfies the engine's outbound messaging dependency by
// enqueuing asynq tasks. Notifications go straight to the admin chat
// instead of through the queue so operators see them immediately.
type Messenger struct {
	client      *asynq.Client
	bot         *tele.Bot
	adminChatID int64
	log         *slog.Logger
}

func NewMessenger(client *asynq.Client, bot *tele.Bot, adminChatID int64, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}

	return &Messenger{
		client:      client,
		bot:         bot,
		adminChatID: adminChatID,
		log:         log,
	}
}

// SetBot attaches the Telegram transport once it exists. The bot is built
// after the engine, so notification delivery is wired late.
func (m *Messenger) SetBot(bot *tele.Bot) {
	m.bot = bot
}

func (m *Messenger) Notify(ctx context.Context, text string) error {
	if m.bot == nil || m.adminChatID == 0 {
		m.log.Warn("notification dropped, no admin chat configured", slog.String("text", text))
		return nil
	}

	_, err := m.bot.Send(&tele.Chat{ID: m.adminChatID}, text)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	return nil
}

func (m *Messenger) ScheduleMessage(ctx context.Context, flowID string, userID int64, text string, delay time.Duration) error {
	task, opts, err := NewScheduledMessageTask(flowID, userID, text, delay)
	if err != nil {
		return fmt.Errorf("build scheduled message task: %w", err)
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue scheduled message: %w", err)
	}

	m.log.Debug("scheduled message enqueued",
		slog.String("task_id", info.ID),
		slog.Int64("user_id", userID),
		slog.Duration("delay", delay))

	return nil
}

func (m *Messenger) Broadcast(ctx context.Context, flowID, tag, text string) error {
	task, opts, err := NewBroadcastTask(flowID, tag, text)
	if err != nil {
		return fmt.Errorf("build broadcast task: %w", err)
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue broadcast: %w", err)
	}

	m.log.Info("broadcast enqueued",
		slog.String("task_id", info.ID),
		slog.String("flow_id", flowID),
		slog.String("tag", tag))

	return nil
}

func (m *Messenger) ScheduleWaitTimeout(ctx context.Context, flowID string, userID int64, nodeID string, generation int64, delay time.Duration) error {
	task, opts, err := NewWaitTimeoutTask(flowID, userID, nodeID, generation, delay)
	if err != nil {
		return fmt.Errorf("build wait timeout task: %w", err)
	}

	if _, err := m.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue wait timeout: %w", err)
	}

	return nil
}
