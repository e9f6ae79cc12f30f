package api

import (
	"context"

	"github.com/lysyi3m/tender-comb/app/database"
	"github.com/lysyi3m/tender-comb/app/feed"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, records []feed.Record) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// FeedCacheInterface stores generated feed documents. Implemented by
// *cache.FeedCache.
type FeedCacheInterface interface {
	GetFeed(ctx context.Context, sourceCode string) (string, int, bool, error)
	SetFeed(ctx context.Context, sourceCode, content string, items int) error
}

type Handler struct {
	configCache  *feed.ConfigCache
	recordRepo   database.RecordStore
	sourceRepo   database.SourceStore
	runRepo      database.RunStore
	categoryRepo database.CategoryStore
	generator    GeneratorInterface
	feedCache    FeedCacheInterface
	baseURL      string
	version      string
}

type sourceResponse struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	URL         string   `json:"url"`
	Enabled     bool     `json:"enabled"`
	MaxItems    int      `json:"max_items"`
	Timeout     string   `json:"timeout"`
	Keywords    []string `json:"keywords,omitempty"`
	Filters     int      `json:"filters"`
	RecordCount *int     `json:"record_count,omitempty"`
	Registered  bool     `json:"registered"`
}

type recordResponse struct {
	ID          string   `json:"id"`
	SourceCode  string   `json:"source_code"`
	ExternalID  string   `json:"external_id"`
	Title       string   `json:"title"`
	Summary     *string  `json:"summary"`
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	Currency    string   `json:"currency"`
	Country     string   `json:"country"`
	Region      *string  `json:"region"`
	PublishedAt *string  `json:"published_at"`
	Categories  []string `json:"categories"`
	UpdatedAt   string   `json:"updated_at"`
}

type runResponse struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Candidates int    `json:"candidates"`
	Filtered   int    `json:"filtered"`
	Duplicates int    `json:"duplicates"`
	Attempted  int    `json:"attempted"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Duration   string `json:"duration"`
}
