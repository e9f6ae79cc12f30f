package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lysyi3m/tender-comb/app/feed"
)

var sourceColumns = []string{"code", "name", "kind", "url", "enabled", "created_at", "updated_at"}

// SourceRepository is the registry of configured sources.
type SourceRepository struct {
	db  *DB
	now func() time.Time
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db, now: time.Now}
}

// UpsertSource registers a source descriptor and reports whether its URL
// changed since the last registration.
func (r *SourceRepository) UpsertSource(ctx context.Context, source *feed.Source) (bool, error) {
	existing, err := r.GetSource(ctx, source.Code)
	if err != nil {
		return false, fmt.Errorf("failed to check existing source: %w", err)
	}

	now := r.now().UTC()

	var q sqlizer
	if existing != nil {
		q = r.db.builder.
			Update("sources").
			Set("name", source.Name).
			Set("kind", string(source.Kind)).
			Set("url", source.URL).
			Set("enabled", source.Enabled()).
			Set("updated_at", now).
			Where(sq.Eq{"code": source.Code})
	} else {
		q = r.db.builder.
			Insert("sources").
			Columns(sourceColumns...).
			Values(source.Code, source.Name, string(source.Kind), source.URL, source.Enabled(), now, now)
	}

	if _, err := r.db.exec(ctx, q); err != nil {
		return false, fmt.Errorf("failed to upsert source: %w", err)
	}

	return existing != nil && existing.URL != source.URL, nil
}

func (r *SourceRepository) GetSource(ctx context.Context, code string) (*Source, error) {
	row, err := r.db.queryRow(ctx, r.db.builder.
		Select(sourceColumns...).
		From("sources").
		Where(sq.Eq{"code": code}))
	if err != nil {
		return nil, err
	}

	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return source, nil
}

func (r *SourceRepository) GetSources(ctx context.Context) ([]Source, error) {
	rows, err := r.db.query(ctx, r.db.builder.
		Select(sourceColumns...).
		From("sources").
		OrderBy("code"))
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(s scanner) (*Source, error) {
	var source Source
	var kind string
	err := s.Scan(&source.Code, &source.Name, &kind, &source.URL, &source.Enabled, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return nil, err
	}
	source.Kind = feed.Kind(kind)
	return &source, nil
}
