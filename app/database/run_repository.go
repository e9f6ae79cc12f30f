package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

var runColumns = []string{
	"id", "run_id", "source_code", "state", "candidates", "filtered", "duplicates",
	"attempted", "succeeded", "failed", "error", "started_at", "finished_at",
}

// RunRepository keeps the per-source history of ingestion runs.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) SaveRun(ctx context.Context, run SourceRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	var runErr sql.NullString
	if run.Error != "" {
		runErr = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := r.db.exec(ctx, r.db.builder.
		Insert("source_runs").
		Columns(runColumns...).
		Values(
			run.ID, run.RunID, run.SourceCode, run.State, run.Candidates, run.Filtered, run.Duplicates,
			run.Attempted, run.Succeeded, run.Failed, runErr, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		))
	if err != nil {
		return fmt.Errorf("failed to save source run: %w", err)
	}

	return nil
}

// GetLatestRuns returns the most recent run of every source, ordered by
// source code.
func (r *RunRepository) GetLatestRuns(ctx context.Context) ([]SourceRun, error) {
	columns := make([]string, len(runColumns))
	for i, c := range runColumns {
		columns[i] = "r." + c
	}

	rows, err := r.db.query(ctx, r.db.builder.
		Select(columns...).
		From("source_runs r").
		Where("r.finished_at = (SELECT MAX(l.finished_at) FROM source_runs l WHERE l.source_code = r.source_code)").
		OrderBy("r.source_code", "r.id"))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest runs: %w", err)
	}
	defer rows.Close()

	var runs []SourceRun
	for rows.Next() {
		var run SourceRun
		var runErr sql.NullString
		err := rows.Scan(
			&run.ID, &run.RunID, &run.SourceCode, &run.State, &run.Candidates, &run.Filtered, &run.Duplicates,
			&run.Attempted, &run.Succeeded, &run.Failed, &runErr, &run.StartedAt, &run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Error = runErr.String

		// Runs finishing at the same instant keep the first row only.
		if n := len(runs); n > 0 && runs[n-1].SourceCode == run.SourceCode {
			continue
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return runs, nil
}
