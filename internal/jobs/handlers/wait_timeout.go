package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/flowbot-app/flowbot/internal/jobs"
)

// WaitExpirer runs the timeout branch of a wait node. Implementations
// must treat a stale generation as a no-op.
type WaitExpirer interface {
	ExpireWait(ctx context.Context, flowID string, userID int64, nodeID string, generation int64) error
}

type WaitTimeoutHandler struct {
	expirer WaitExpirer
	log     *slog.Logger
}

func NewWaitTimeoutHandler(expirer WaitExpirer, log *slog.Logger) *WaitTimeoutHandler {
	return &WaitTimeoutHandler{expirer: expirer, log: log}
}

func (h *WaitTimeoutHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.WaitTimeoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "wait timeout: failed to decode payload",
				slog.String("task_type", t.Type()), slog.String("error", err.Error()))
		}
		return err
	}

	if err := h.expirer.ExpireWait(ctx, payload.FlowID, payload.UserID, payload.NodeID, payload.Generation); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "wait timeout: expire failed",
				slog.String("flow_id", payload.FlowID),
				slog.Int64("user_id", payload.UserID),
				slog.String("node_id", payload.NodeID),
				slog.String("error", err.Error()))
		}
		return err
	}

	return nil
}
