// Package jobs runs deferred work through asynq: scheduled messages,
// broadcast fan-out, wait-response timeouts, and timer triggers.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeScheduledMessage = "flow:scheduled_message"
	TaskTypeBroadcast        = "flow:broadcast"
	TaskTypeWaitTimeout      = "flow:wait_timeout"
	TaskTypeTimerTrigger     = "flow:timer_trigger"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type ScheduledMessagePayload struct {
	FlowID string `json:"flow_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

type BroadcastPayload struct {
	FlowID string `json:"flow_id"`
	Tag    string `json:"tag"`
	Text   string `json:"text"`
}

type WaitTimeoutPayload struct {
	FlowID     string `json:"flow_id"`
	UserID     int64  `json:"user_id"`
	NodeID     string `json:"node_id"`
	Generation int64  `json:"generation"`
}

type TimerTriggerPayload struct {
	FlowID string `json:"flow_id"`
	NodeID string `json:"node_id"`
}

func NewScheduledMessageTask(flowID string, userID int64, text string, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(ScheduledMessagePayload{FlowID: flowID, UserID: userID, Text: text})
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.ProcessIn(delay)}
	return asynq.NewTask(TaskTypeScheduledMessage, payload), opts, nil
}

func NewBroadcastTask(flowID, tag, text string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(BroadcastPayload{FlowID: flowID, Tag: tag, Text: text})
	if err != nil {
		return nil, nil, err
	}

	return asynq.NewTask(TaskTypeBroadcast, payload), []asynq.Option{asynq.Queue(QueueLow)}, nil
}

func NewWaitTimeoutTask(flowID string, userID int64, nodeID string, generation int64, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(WaitTimeoutPayload{
		FlowID:     flowID,
		UserID:     userID,
		NodeID:     nodeID,
		Generation: generation,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{asynq.Queue(QueueCritical), asynq.ProcessIn(delay)}
	return asynq.NewTask(TaskTypeWaitTimeout, payload), opts, nil
}

func NewTimerTriggerTask(flowID, nodeID string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(TimerTriggerPayload{FlowID: flowID, NodeID: nodeID})
	if err != nil {
		return nil, nil, err
	}

	return asynq.NewTask(TaskTypeTimerTrigger, payload), []asynq.Option{asynq.Queue(QueueDefault)}, nil
}
