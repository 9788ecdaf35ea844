package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type RefreshRemoteDataTask struct {
	Task
	refresher Refresher
}

func NewRefreshRemoteDataTask(trigger string, refresher Refresher) *RefreshRemoteDataTask {
	return &RefreshRemoteDataTask{
		Task:      NewTask(TaskTypeRefreshRemoteData, trigger),
		refresher: refresher,
	}
}

func (t *RefreshRemoteDataTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	count, err := t.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh remote data: %w", err)
	}

	slog.Info("Task completed",
		"type", "RefreshRemoteData",
		"trigger", t.Trigger,
		"payloads", count,
		"duration", t.GetDuration())

	return nil
}
