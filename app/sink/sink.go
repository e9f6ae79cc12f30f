package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lysyi3m/tender-comb/app/feed"
)

// DefaultBatchSize bounds the records sent in one batched call.
const DefaultBatchSize = 200

// Sink receives normalized records. UpsertRecord must be idempotent per
// (SourceCode, ExternalID).
type Sink interface {
	UpsertRecord(ctx context.Context, record feed.Record) (string, error)
	AssignCategories(ctx context.Context, recordID string) error
}

// BatchSink accepts a chunk of records in one call. Returned ids are aligned
// with the input; ids[i] is empty when records[i] was rejected, and the error
// is non-nil when any record was.
type BatchSink interface {
	Sink
	UpsertRecords(ctx context.Context, records []feed.Record) ([]string, error)
}

// DispatchFailure reports that a sink rejected a record.
type DispatchFailure struct {
	SourceCode string
	ExternalID string
	Err        error
}

func (f *DispatchFailure) Error() string {
	return fmt.Sprintf("failed to dispatch record %s:%s: %v", f.SourceCode, f.ExternalID, f.Err)
}

func (f *DispatchFailure) Unwrap() error {
	return f.Err
}

// RecordKey is the scoped identity of a record.
func RecordKey(record feed.Record) string {
	return record.SourceCode + ":" + record.ExternalID
}

// DocumentID is a path-safe, fixed-length form of RecordKey.
func DocumentID(record feed.Record) string {
	sum := sha256.Sum256([]byte(record.SourceCode + "\x00" + record.ExternalID))
	return hex.EncodeToString(sum[:])
}

// Document is the JSON form of a record published to queues and indexes.
type Document struct {
	Key         string     `json:"key"`
	SourceCode  string     `json:"source_code"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Summary     *string    `json:"summary"`
	Body        *string    `json:"body"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	Currency    string     `json:"currency"`
	Country     string     `json:"country"`
	Region      *string    `json:"region"`
	PublishedAt *time.Time `json:"published_at"`
	DeadlineAt  *time.Time `json:"deadline_at"`
	IngestedAt  time.Time  `json:"ingested_at"`
}

func NewDocument(record feed.Record, ingestedAt time.Time) Document {
	return Document{
		Key:         RecordKey(record),
		SourceCode:  record.SourceCode,
		ExternalID:  record.ExternalID,
		Title:       record.Title,
		Summary:     record.Summary,
		Body:        record.Body,
		URL:         record.URL,
		Status:      record.Status,
		Currency:    record.Currency,
		Country:     record.Country,
		Region:      record.Region,
		PublishedAt: record.PublishedAt,
		DeadlineAt:  record.DeadlineAt,
		IngestedAt:  ingestedAt.UTC(),
	}
}
