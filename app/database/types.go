package database

import (
	"time"

	"github.com/lysyi3m/tender-comb/app/feed"
)

type StoredRecord struct {
	ID string // Database UUID
	feed.Record
	Categories []string
	CreatedAt  time.Time
	UpdatedAt  time.Time // Last upsert, including no-op re-ingestion
}

type Source struct {
	Code      string
	Name      string
	Kind      feed.Kind
	URL       string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceRun is the persisted outcome of one source within a run.
type SourceRun struct {
	ID         string
	RunID      string // Shared by every source of the same run
	SourceCode string
	State      string
	Candidates int
	Filtered   int
	Duplicates int
	Attempted  int
	Succeeded  int
	Failed     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
