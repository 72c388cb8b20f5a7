package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/flowbot-app/flowbot/internal/flow"
)

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	registry       *flow.Registry
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, registry *flow.Registry, log *slog.Logger) Scheduler {
	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		registry:       registry,
		log:            log,
	}
}

// RegisterTasks registers one cron entry per timer trigger node found in
// the loaded flows. Nodes with a malformed cron config are skipped at
// asynq registration time and logged.
func (s *scheduler) RegisterTasks() error {
	for _, def := range s.registry.All() {
		for _, node := range def.TriggerNodes(flow.TypeOnTimer) {
			params, ok := node.Params.(*flow.OnTimerParams)
			if !ok || params == nil {
				continue
			}

			task, _, err := NewTimerTriggerTask(def.ID, node.ID)
			if err != nil {
				return fmt.Errorf("build timer trigger task: %w", err)
			}

			entryID, err := s.asynqScheduler.Register(params.Cron, task, asynq.Queue(QueueDefault))
			if err != nil {
				if s.log != nil {
					s.log.WarnContext(context.Background(), "scheduler: skipping timer trigger",
						slog.String("flow_id", def.ID),
						slog.String("node_id", node.ID),
						slog.String("cron", params.Cron),
						slog.String("error", err.Error()))
				}
				continue
			}

			if s.log != nil {
				s.log.InfoContext(context.Background(), "scheduler: registered timer trigger",
					slog.String("flow_id", def.ID),
					slog.String("node_id", node.ID),
					slog.String("cron", params.Cron),
					slog.String("entry_id", entryID))
			}
		}
	}

	return nil
}

func (s *scheduler) Run() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	go func() {
		if err := s.asynqScheduler.Run(); err != nil && s.log != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
