package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/flowbot-app/flowbot/internal/jobs"
)

// TextSender delivers a plain text message to a user.
type TextSender interface {
	SendText(ctx context.Context, userID int64, text string) error
}

type ScheduledMessageHandler struct {
	sender TextSender
	log    *slog.Logger
}

func NewScheduledMessageHandler(sender TextSender, log *slog.Logger) *ScheduledMessageHandler {
	return &ScheduledMessageHandler{sender: sender, log: log}
}

func (h *ScheduledMessageHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.ScheduledMessagePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "scheduled message: failed to decode payload",
				slog.String("task_type", t.Type()), slog.String("error", err.Error()))
		}
		return err
	}

	if err := h.sender.SendText(ctx, payload.UserID, payload.Text); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "scheduled message: send failed",
				slog.Int64("user_id", payload.UserID), slog.String("error", err.Error()))
		}
		return err
	}

	if h.log != nil {
		h.log.InfoContext(ctx, "scheduled message delivered",
			slog.String("flow_id", payload.FlowID), slog.Int64("user_id", payload.UserID))
	}

	return nil
}
