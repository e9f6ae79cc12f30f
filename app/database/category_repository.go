package database

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// CategoryRepository mirrors the configured category vocabulary so that
// stored assignments can be interpreted later.
type CategoryRepository struct {
	db  *DB
	now func() time.Time
}

func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{db: db, now: time.Now}
}

// SyncCategories replaces the stored vocabulary with categories.
func (r *CategoryRepository) SyncCategories(ctx context.Context, categories map[string][]string) error {
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	slices.Sort(names)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del := r.db.builder.Delete("categories")
	if len(names) > 0 {
		del = del.Where(sq.NotEq{"name": names})
	}
	query, args, err := del.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune categories: %w", err)
	}

	now := r.now().UTC()
	for _, name := range names {
		keywords, err := json.Marshal(categories[name])
		if err != nil {
			return fmt.Errorf("failed to encode keywords for %s: %w", name, err)
		}

		query, args, err := r.db.builder.
			Insert("categories").
			Columns("name", "keywords", "updated_at").
			Values(name, string(keywords), now).
			Suffix("ON CONFLICT (name) DO UPDATE SET keywords = excluded.keywords, updated_at = excluded.updated_at").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert category %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit categories: %w", err)
	}

	return nil
}

func (r *CategoryRepository) GetCategories(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.query(ctx, r.db.builder.Select("name", "keywords").From("categories").OrderBy("name"))
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	defer rows.Close()

	categories := make(map[string][]string)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		var keywords []string
		if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords for %s: %w", name, err)
		}
		categories[name] = keywords
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}

	return categories, nil
}
