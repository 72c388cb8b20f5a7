package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/flowbot-app/flowbot/internal/jobs"
)

// RecipientLister resolves the audience of a broadcast. An empty tag
// means every session of the flow.
type RecipientLister interface {
	UsersByTag(ctx context.Context, flowID, tag string) ([]int64, error)
}

type BroadcastHandler struct {
	recipients RecipientLister
	sender     TextSender
	log        *slog.Logger
}

func NewBroadcastHandler(recipients RecipientLister, sender TextSender, log *slog.Logger) *BroadcastHandler {
	return &BroadcastHandler{recipients: recipients, sender: sender, log: log}
}

func (h *BroadcastHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.BroadcastPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "broadcast: failed to decode payload",
				slog.String("task_type", t.Type()), slog.String("error", err.Error()))
		}
		return err
	}

	ids, err := h.recipients.UsersByTag(ctx, payload.FlowID, payload.Tag)
	if err != nil {
		return err
	}

	// One failed recipient must not fail the whole fan-out; blocked users
	// and deleted chats are expected.
	var delivered, failed int
	for _, id := range ids {
		if err := h.sender.SendText(ctx, id, payload.Text); err != nil {
			failed++
			if h.log != nil {
				h.log.WarnContext(ctx, "broadcast: send failed",
					slog.Int64("user_id", id), slog.String("error", err.Error()))
			}
			continue
		}
		delivered++
	}

	if h.log != nil {
		h.log.InfoContext(ctx, "broadcast completed",
			slog.String("flow_id", payload.FlowID),
			slog.String("tag", payload.Tag),
			slog.Int("delivered", delivered),
			slog.Int("failed", failed))
	}

	return nil
}
