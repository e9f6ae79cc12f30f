package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lysyi3m/tender-comb/app/feed"
)

func testRecord(externalID string) feed.Record {
	summary := "Servicio de ciberseguridad"
	published := time.Date(2025, 9, 9, 22, 0, 0, 0, time.UTC)
	return feed.Record{
		SourceCode:  "ES-BOE",
		ExternalID:  externalID,
		Title:       "Contrato de ciberseguridad",
		Summary:     &summary,
		URL:         "https://www.boe.es/diario_boe/txt.php?id=" + externalID,
		Status:      feed.StatusOpen,
		Currency:    "EUR",
		Country:     "ES",
		PublishedAt: &published,
	}
}

func TestRESTSink_UpsertRecord(t *testing.T) {
	var gotPath string
	var gotHeaders http.Header
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "5f1c2b9e-0000-4000-8000-000000000001"}]`))
	}))
	defer server.Close()

	s := NewRESTSink(server.Client(), server.URL+"/rest/v1/", "secret", time.Second)

	id, err := s.UpsertRecord(context.Background(), testRecord("BOE-B-2025-1"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != "5f1c2b9e-0000-4000-8000-000000000001" {
		t.Errorf("Unexpected record id %s", id)
	}

	if gotPath != "/rest/v1/rpc/upsert_tender" {
		t.Errorf("Expected upsert RPC path, got %s", gotPath)
	}
	if gotHeaders.Get("apikey") != "secret" || gotHeaders.Get("Authorization") != "Bearer secret" {
		t.Errorf("Expected API key headers, got %v", gotHeaders)
	}
	if gotHeaders.Get("Prefer") != "return=representation" {
		t.Errorf("Expected Prefer header, got %s", gotHeaders.Get("Prefer"))
	}

	expected := map[string]any{
		"p_source_code": "ES-BOE",
		"p_external_id": "BOE-B-2025-1",
		"p_status":      "open",
		"p_currency":    "EUR",
		"p_country":     "ES",
		"p_published":   "2025-09-09T22:00:00Z",
	}
	for key, value := range expected {
		if gotPayload[key] != value {
			t.Errorf("Expected %s=%v, got %v", key, value, gotPayload[key])
		}
	}
	for _, key := range []string{"p_body", "p_region", "p_deadline", "p_budget", "p_cpv", "p_entity"} {
		if v, ok := gotPayload[key]; !ok || v != nil {
			t.Errorf("Expected %s to be present and null, got %v", key, v)
		}
	}
}

func TestRESTSink_AssignCategories(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewRESTSink(server.Client(), server.URL, "secret", time.Second)
	if err := s.AssignCategories(context.Background(), "42"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if gotPath != "/rpc/assign_categories_from_keywords" {
		t.Errorf("Expected categories RPC path, got %s", gotPath)
	}
	if gotPayload["p_tender_id"] != "42" {
		t.Errorf("Expected p_tender_id 42, got %v", gotPayload)
	}
}

func TestRESTSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message": "duplicate key"}`))
	}))
	defer server.Close()

	s := NewRESTSink(server.Client(), server.URL, "secret", time.Second)
	if _, err := s.UpsertRecord(context.Background(), testRecord("1")); err == nil {
		t.Error("Expected error for 409 response")
	}
}

func TestParseRecordID(t *testing.T) {
	tests := []struct {
		body     string
		expected string
		wantErr  bool
	}{
		{`"abc"`, "abc", false},
		{`17`, "17", false},
		{`[17]`, "17", false},
		{`{"id": 9}`, "9", false},
		{`[{"tender_id": "t-1"}]`, "t-1", false},
		{`[{"upsert_tender": "u-1"}]`, "u-1", false},
		{`[]`, "", true},
		{`""`, "", true},
		{`null`, "", true},
		{`not json`, "", true},
	}

	for _, test := range tests {
		id, err := parseRecordID([]byte(test.body))
		if test.wantErr {
			if err == nil {
				t.Errorf("Expected error for %s", test.body)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for %s: %v", test.body, err)
		}
		if id != test.expected {
			t.Errorf("Expected id %s for %s, got %s", test.expected, test.body, id)
		}
	}
}

func TestDispatchFailure(t *testing.T) {
	cause := errors.New("boom")
	var err error = &DispatchFailure{SourceCode: "ES-BOE", ExternalID: "1", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected DispatchFailure to unwrap its cause")
	}
	if err.Error() != "failed to dispatch record ES-BOE:1: boom" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestDocumentID(t *testing.T) {
	a := DocumentID(feed.Record{SourceCode: "A", ExternalID: "1"})
	b := DocumentID(feed.Record{SourceCode: "B", ExternalID: "1"})

	if a == b {
		t.Error("Expected source code to partition document ids")
	}
	if len(a) != 64 {
		t.Errorf("Expected hex sha256 id, got %s", a)
	}
	if a != DocumentID(feed.Record{SourceCode: "A", ExternalID: "1"}) {
		t.Error("Expected deterministic document id")
	}
}
