package database

import (
	"context"

	"github.com/lysyi3m/tender-comb/app/feed"
)

type RecordStore interface {
	UpsertRecord(ctx context.Context, record feed.Record) (string, error)
	UpsertRecords(ctx context.Context, records []feed.Record) ([]string, error)
	AssignCategories(ctx context.Context, recordID string) error

	GetRecords(ctx context.Context, sourceCode string, limit int) ([]StoredRecord, error)
	GetRecordCount(ctx context.Context, sourceCode string) (int, error)
}

type SourceStore interface {
	UpsertSource(ctx context.Context, source *feed.Source) (bool, error)
	GetSource(ctx context.Context, code string) (*Source, error)
	GetSources(ctx context.Context) ([]Source, error)
}

type RunStore interface {
	SaveRun(ctx context.Context, run SourceRun) error
	GetLatestRuns(ctx context.Context) ([]SourceRun, error)
}

type CategoryStore interface {
	SyncCategories(ctx context.Context, categories map[string][]string) error
	GetCategories(ctx context.Context) (map[string][]string, error)
}
