package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/lysyi3m/tender-comb/app/feed"
)

// ElasticSink indexes records as documents keyed by DocumentID, so
// re-indexing a record overwrites it. Categories are computed at index time.
type ElasticSink struct {
	es          *elasticsearch.Client
	index       string
	categorizer *feed.Categorizer
	now         func() time.Time
}

type elasticDocument struct {
	Document
	Categories []string `json:"categories,omitempty"`
}

func NewElasticSink(address, index string, categorizer *feed.Categorizer) (*ElasticSink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{address},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &ElasticSink{
		es:          es,
		index:       index,
		categorizer: categorizer,
		now:         time.Now,
	}, nil
}

func (s *ElasticSink) document(record feed.Record) elasticDocument {
	var summary string
	if record.Summary != nil {
		summary = *record.Summary
	}
	return elasticDocument{
		Document:   NewDocument(record, s.now()),
		Categories: s.categorizer.Match(record.Title, summary),
	}
}

func (s *ElasticSink) UpsertRecord(ctx context.Context, record feed.Record) (string, error) {
	body, err := json.Marshal(s.document(record))
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	id := DocumentID(record)
	res, err := s.es.Index(
		s.index,
		bytes.NewReader(body),
		s.es.Index.WithDocumentID(id),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	return id, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// UpsertRecords sends one bulk request per chunk.
func (s *ElasticSink) UpsertRecords(ctx context.Context, records []feed.Record) ([]string, error) {
	var buf bytes.Buffer
	ids := make([]string, len(records))

	for i, record := range records {
		ids[i] = DocumentID(record)

		meta := map[string]map[string]string{"index": {"_index": s.index, "_id": ids[i]}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(s.document(record)); err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
	}

	res, err := s.es.Bulk(&buf, s.es.Bulk.WithContext(ctx))
	if err != nil {
		return make([]string, len(records)), fmt.Errorf("failed to send bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return make([]string, len(records)), fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return make([]string, len(records)), fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return ids, nil
	}

	var errs []error
	for i, item := range parsed.Items {
		if i >= len(records) {
			break
		}
		for _, result := range item {
			if result.Status >= 300 {
				ids[i] = ""
				errs = append(errs, &DispatchFailure{
					SourceCode: records[i].SourceCode,
					ExternalID: records[i].ExternalID,
					Err:        fmt.Errorf("bulk item status %d: %s", result.Status, strings.TrimSpace(string(result.Error))),
				})
			}
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("bulk request reported errors"))
	}

	return ids, errors.Join(errs...)
}

func (s *ElasticSink) AssignCategories(ctx context.Context, recordID string) error {
	return nil
}
