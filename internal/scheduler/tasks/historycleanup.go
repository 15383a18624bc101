package tasks

import (
	"context"

	"github.com/reclaimarr/reclaimarr/internal/scheduler"
)

const HistoryCleanupTaskID = "history-cleanup"

// HistoryCleaner deletes expired history entries.
type HistoryCleaner interface {
	CleanupOldEntries(ctx context.Context) (int64, error)
}

// RegisterHistoryCleanupTask registers the history cleanup task with the scheduler.
// It deletes entries older than the configured retention period.
func RegisterHistoryCleanupTask(sched *scheduler.Scheduler, history HistoryCleaner, cron string) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          HistoryCleanupTaskID,
		Name:        "History Cleanup",
		Description: "Deletes history entries older than the configured retention period",
		Cron:        cron,
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			_, err := history.CleanupOldEntries(ctx)
			return err
		},
	})
}
