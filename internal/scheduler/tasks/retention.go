package tasks

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/config"
	"github.com/reclaimarr/reclaimarr/internal/queue"
	"github.com/reclaimarr/reclaimarr/internal/retention"
	"github.com/reclaimarr/reclaimarr/internal/scheduler"
)

const (
	RuleEvaluationTaskID = "rule-evaluation"
	QueueSweepTaskID     = "queue-sweep"
)

// Evaluator runs the retention rules.
type Evaluator interface {
	Run(ctx context.Context) (*retention.RunResult, error)
}

// Sweeper processes the expired part of the deletion queue.
type Sweeper interface {
	ProcessQueue(ctx context.Context) (*queue.SweepResult, error)
}

// RegisterRuleEvaluationTask registers the periodic rule evaluation.
func RegisterRuleEvaluationTask(sched *scheduler.Scheduler, evaluator Evaluator, cfg config.ScheduleConfig, logger zerolog.Logger) error {
	logger = logger.With().Str("task", RuleEvaluationTaskID).Logger()
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          RuleEvaluationTaskID,
		Name:        "Rule Evaluation",
		Description: "Evaluates retention rules and queues matching media for deletion",
		Cron:        cfg.Evaluation,
		RunOnStart:  cfg.RunOnStart,
		Func: func(ctx context.Context) error {
			result, err := evaluator.Run(ctx)
			if errors.Is(err, retention.ErrRunInProgress) {
				logger.Info().Msg("Evaluation already running, skipping")
				return nil
			}
			if err != nil {
				return err
			}
			if len(result.Errors) > 0 {
				logger.Warn().Int("errors", len(result.Errors)).Msg("Some rule verdicts could not be applied")
			}
			return nil
		},
	})
}

// RegisterQueueSweepTask registers the periodic queue sweep.
func RegisterQueueSweepTask(sched *scheduler.Scheduler, sweeper Sweeper, cfg config.ScheduleConfig, logger zerolog.Logger) error {
	logger = logger.With().Str("task", QueueSweepTaskID).Logger()
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          QueueSweepTaskID,
		Name:        "Queue Sweep",
		Description: "Deletes queued media whose grace period has ended",
		Cron:        cfg.Sweep,
		RunOnStart:  cfg.RunOnStart,
		Func: func(ctx context.Context) error {
			result, err := sweeper.ProcessQueue(ctx)
			if errors.Is(err, queue.ErrSweepInProgress) {
				logger.Info().Msg("Sweep already running, skipping")
				return nil
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				logger.Warn().Int("failed", result.Failed).Msg("Some deletions failed and stay queued")
			}
			return nil
		},
	})
}
