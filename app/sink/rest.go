package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/tender-comb/app/feed"
)

const (
	upsertRPC     = "rpc/upsert_tender"
	categoriesRPC = "rpc/assign_categories_from_keywords"
	maxErrorBody  = 300
)

// RESTSink calls the PostgREST RPC endpoints of the tenders database.
type RESTSink struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewRESTSink expects baseURL to be the PostgREST root, e.g.
// https://project.supabase.co/rest/v1.
func NewRESTSink(httpClient *http.Client, baseURL, apiKey string, timeout time.Duration) *RESTSink {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RESTSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

type upsertPayload struct {
	SourceCode string  `json:"p_source_code"`
	ExternalID string  `json:"p_external_id"`
	Title      string  `json:"p_title"`
	Summary    *string `json:"p_summary"`
	Body       *string `json:"p_body"`
	URL        string  `json:"p_url"`
	Status     string  `json:"p_status"`
	Budget     *string `json:"p_budget"`
	Currency   string  `json:"p_currency"`
	Entity     *string `json:"p_entity"`
	CPV        *string `json:"p_cpv"`
	Country    string  `json:"p_country"`
	Region     *string `json:"p_region"`
	Published  *string `json:"p_published"`
	Deadline   *string `json:"p_deadline"`
}

func newUpsertPayload(record feed.Record) upsertPayload {
	return upsertPayload{
		SourceCode: record.SourceCode,
		ExternalID: record.ExternalID,
		Title:      record.Title,
		Summary:    record.Summary,
		Body:       record.Body,
		URL:        record.URL,
		Status:     record.Status,
		Currency:   record.Currency,
		Country:    record.Country,
		Region:     record.Region,
		Published:  formatTime(record.PublishedAt),
		Deadline:   formatTime(record.DeadlineAt),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func (s *RESTSink) UpsertRecord(ctx context.Context, record feed.Record) (string, error) {
	data, err := s.call(ctx, upsertRPC, newUpsertPayload(record))
	if err != nil {
		return "", err
	}

	id, err := parseRecordID(data)
	if err != nil {
		return "", fmt.Errorf("failed to read upsert response: %w", err)
	}
	return id, nil
}

func (s *RESTSink) AssignCategories(ctx context.Context, recordID string) error {
	_, err := s.call(ctx, categoriesRPC, map[string]string{"p_tender_id": recordID})
	return err
}

func (s *RESTSink) call(ctx context.Context, rpc string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, s.baseURL+"/"+rpc, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", rpc, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, fmt.Errorf("%s returned %s: %s", rpc, resp.Status, text)
	}

	return data, nil
}

// parseRecordID accepts the shapes PostgREST returns for a scalar or
// row-returning function: a bare value, an object with "id", or a list of
// either.
func parseRecordID(data []byte) (string, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return "", err
	}

	if list, ok := value.([]any); ok {
		if len(list) == 0 {
			return "", fmt.Errorf("empty result")
		}
		value = list[0]
	}

	if obj, ok := value.(map[string]any); ok {
		for _, key := range []string{"id", "tender_id", "upsert_tender"} {
			if v, ok := obj[key]; ok {
				value = v
				break
			}
		}
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty record id")
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unexpected record id %v", value)
	}
}
