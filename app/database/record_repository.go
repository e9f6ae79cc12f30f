package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lysyi3m/tender-comb/app/feed"
	"github.com/lysyi3m/tender-comb/app/sink"
)

const upsertConflictClause = `ON CONFLICT (source_code, external_id) DO UPDATE SET
	title = excluded.title,
	summary = excluded.summary,
	body = excluded.body,
	url = excluded.url,
	status = excluded.status,
	currency = excluded.currency,
	country = excluded.country,
	region = excluded.region,
	published_at = excluded.published_at,
	deadline_at = excluded.deadline_at,
	updated_at = excluded.updated_at
RETURNING id`

var recordColumns = []string{
	"id", "source_code", "external_id", "title", "summary", "body", "url", "status",
	"currency", "country", "region", "published_at", "deadline_at", "created_at", "updated_at",
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RecordRepository is the SQL sink. It stores records keyed by
// (source_code, external_id) and assigns categories from a keyword vocabulary.
type RecordRepository struct {
	db          *DB
	categorizer *feed.Categorizer
	now         func() time.Time
}

func NewRecordRepository(db *DB, categorizer *feed.Categorizer) *RecordRepository {
	return &RecordRepository{
		db:          db,
		categorizer: categorizer,
		now:         time.Now,
	}
}

// UpsertRecord inserts a record or refreshes the stored copy, returning the
// stable database id.
func (r *RecordRepository) UpsertRecord(ctx context.Context, record feed.Record) (string, error) {
	id, err := r.upsert(ctx, r.db, record, r.now().UTC())
	if err != nil {
		return "", &sink.DispatchFailure{SourceCode: record.SourceCode, ExternalID: record.ExternalID, Err: err}
	}
	return id, nil
}

// UpsertRecords stores a chunk in one transaction. A rejected record is
// rolled back to its savepoint and leaves an empty id in its slot.
func (r *RecordRepository) UpsertRecords(ctx context.Context, records []feed.Record) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	ids := make([]string, len(records))
	var failures []error

	for i, record := range records {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT record_upsert"); err != nil {
			return nil, fmt.Errorf("failed to create savepoint: %w", err)
		}

		id, err := r.upsert(ctx, tx, record, now)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT record_upsert"); rbErr != nil {
				return nil, fmt.Errorf("failed to roll back savepoint: %w", rbErr)
			}
			failures = append(failures, &sink.DispatchFailure{SourceCode: record.SourceCode, ExternalID: record.ExternalID, Err: err})
		} else {
			ids[i] = id
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT record_upsert"); err != nil {
			return nil, fmt.Errorf("failed to release savepoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit records: %w", err)
	}

	return ids, errors.Join(failures...)
}

func (r *RecordRepository) upsert(ctx context.Context, q queryRower, record feed.Record, now time.Time) (string, error) {
	query, args, err := r.db.builder.
		Insert("records").
		Columns(recordColumns...).
		Values(
			uuid.NewString(), record.SourceCode, record.ExternalID, record.Title,
			nullString(record.Summary), nullString(record.Body), record.URL, record.Status,
			record.Currency, record.Country, nullString(record.Region),
			nullTime(record.PublishedAt), nullTime(record.DeadlineAt), now, now,
		).
		Suffix(upsertConflictClause).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build upsert query: %w", err)
	}

	var id string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to upsert record: %w", err)
	}

	return id, nil
}

// AssignCategories replaces the categories of a stored record with those its
// title and summary match.
func (r *RecordRepository) AssignCategories(ctx context.Context, recordID string) error {
	if r.categorizer == nil {
		return nil
	}

	row, err := r.db.queryRow(ctx, r.db.builder.
		Select("title", "summary").
		From("records").
		Where(sq.Eq{"id": recordID}))
	if err != nil {
		return err
	}

	var title string
	var summary sql.NullString
	if err := row.Scan(&title, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record %s not found", recordID)
		}
		return fmt.Errorf("failed to load record: %w", err)
	}

	categories := r.categorizer.Match(title, summary.String)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := r.db.builder.Delete("record_categories").Where(sq.Eq{"record_id": recordID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}

	if len(categories) > 0 {
		insert := r.db.builder.Insert("record_categories").Columns("record_id", "category")
		for _, category := range categories {
			insert = insert.Values(recordID, category)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to assign categories: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit categories: %w", err)
	}

	return nil
}

// GetRecords returns stored records, newest publication first. An empty
// sourceCode selects every source.
func (r *RecordRepository) GetRecords(ctx context.Context, sourceCode string, limit int) ([]StoredRecord, error) {
	q := r.db.builder.
		Select(recordColumns...).
		From("records").
		OrderBy("published_at IS NULL", "published_at DESC", "created_at DESC")
	if sourceCode != "" {
		q = q.Where(sq.Eq{"source_code": sourceCode})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := r.db.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var (
			rec                   StoredRecord
			summary, body, region sql.NullString
			published, deadline   sql.NullTime
		)
		err := rows.Scan(
			&rec.ID, &rec.SourceCode, &rec.ExternalID, &rec.Title, &summary, &body, &rec.URL, &rec.Status,
			&rec.Currency, &rec.Country, &region, &published, &deadline, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		rec.Summary = stringPtr(summary)
		rec.Body = stringPtr(body)
		rec.Region = stringPtr(region)
		rec.PublishedAt = timePtr(published)
		rec.DeadlineAt = timePtr(deadline)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}

	if err := r.loadCategories(ctx, records); err != nil {
		return nil, err
	}

	return records, nil
}

func (r *RecordRepository) loadCategories(ctx context.Context, records []StoredRecord) error {
	if len(records) == 0 {
		return nil
	}

	index := make(map[string]int, len(records))
	ids := make([]string, 0, len(records))
	for i, rec := range records {
		index[rec.ID] = i
		ids = append(ids, rec.ID)
	}

	rows, err := r.db.query(ctx, r.db.builder.
		Select("record_id", "category").
		From("record_categories").
		Where(sq.Eq{"record_id": ids}).
		OrderBy("category"))
	if err != nil {
		return fmt.Errorf("failed to get record categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordID, category string
		if err := rows.Scan(&recordID, &category); err != nil {
			return fmt.Errorf("failed to scan category row: %w", err)
		}
		i := index[recordID]
		records[i].Categories = append(records[i].Categories, category)
	}

	return rows.Err()
}

func (r *RecordRepository) GetRecordCount(ctx context.Context, sourceCode string) (int, error) {
	q := r.db.builder.Select("COUNT(*)").From("records")
	if sourceCode != "" {
		q = q.Where(sq.Eq{"source_code": sourceCode})
	}

	row, err := r.db.queryRow(ctx, q)
	if err != nil {
		return 0, err
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
