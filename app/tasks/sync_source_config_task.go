package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/tender-comb/app/database"
	"github.com/lysyi3m/tender-comb/app/feed"
)

type SyncSourceConfigTask struct {
	Task
	source     *feed.Source
	sourceRepo database.SourceStore
}

func NewSyncSourceConfigTask(source *feed.Source, sourceRepo database.SourceStore) *SyncSourceConfigTask {
	return &SyncSourceConfigTask{
		Task:       NewTask(TaskTypeSyncSourceConfig, source.Code),
		source:     source,
		sourceRepo: sourceRepo,
	}
}

func (t *SyncSourceConfigTask) Execute(ctx context.Context) error {
	t.Start()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	urlChanged, err := t.sourceRepo.UpsertSource(ctx, t.source)
	if err != nil {
		slog.Error("Task failed", "type", "SyncSourceConfig", "source", t.SourceCode, "error", err)
		return fmt.Errorf("failed to sync source config to database: %w", err)
	}

	if urlChanged {
		slog.Info("Source URL changed", "source", t.SourceCode, "url", t.source.URL)
	}

	slog.Info("Task completed",
		"type", "SyncSourceConfig",
		"source", t.SourceCode,
		"duration", t.GetDuration())

	return nil
}
