package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/flowbot-app/flowbot/internal/jobs"
)

// TriggerFirer runs a timer trigger chain for every session of the flow.
type TriggerFirer interface {
	FireTimerTrigger(ctx context.Context, flowID, nodeID string) error
}

type TimerTriggerHandler struct {
	firer TriggerFirer
	log   *slog.Logger
}

func NewTimerTriggerHandler(firer TriggerFirer, log *slog.Logger) *TimerTriggerHandler {
	return &TimerTriggerHandler{firer: firer, log: log}
}

func (h *TimerTriggerHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.TimerTriggerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "timer trigger: failed to decode payload",
				slog.String("task_type", t.Type()), slog.String("error", err.Error()))
		}
		return err
	}

	if h.log != nil {
		h.log.InfoContext(ctx, "timer trigger firing",
			slog.String("flow_id", payload.FlowID), slog.String("node_id", payload.NodeID))
	}

	return h.firer.FireTimerTrigger(ctx, payload.FlowID, payload.NodeID)
}
