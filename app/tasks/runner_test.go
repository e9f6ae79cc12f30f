package tasks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/tender-comb/app/database"
	"github.com/lysyi3m/tender-comb/app/feed"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewConnection("sqlite", filepath.Join(t.TempDir(), "runner.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func newTestConfigCache(t *testing.T) *feed.ConfigCache {
	t.Helper()

	cc := feed.NewConfigCache("", feed.SourceSettings{})
	err := cc.AddInline("ES-A|Fuente A|RSS|https://a.example.es/rss,ES-B|Fuente B|RSS|https://b.example.es/rss")
	if err != nil {
		t.Fatalf("Failed to add sources: %v", err)
	}
	return cc
}

func TestRunner_RunOnce(t *testing.T) {
	db := newTestDB(t)
	records := database.NewRecordRepository(db, nil)
	runs := database.NewRunRepository(db)
	sources := database.NewSourceRepository(db)

	pipeline := newTestPipeline(t, &fakeResolver{data: []byte(twoItemFeed)}, records, true)
	runner := NewRunner(newTestConfigCache(t), pipeline, sources, runs, 0, 0)

	ctx := context.Background()
	runner.SyncSources(ctx)
	report := runner.RunOnce(ctx)

	if len(report.Sources) != 2 {
		t.Fatalf("Expected 2 source reports, got %d", len(report.Sources))
	}
	if report.Sources[0].SourceCode != "ES-A" || report.Sources[1].SourceCode != "ES-B" {
		t.Errorf("Expected configured order, got %s, %s", report.Sources[0].SourceCode, report.Sources[1].SourceCode)
	}

	totals := report.Totals()
	if totals.Succeeded != 2 || totals.Filtered != 2 || totals.FailedSources != 0 {
		t.Errorf("Unexpected totals %+v", totals)
	}

	count, err := records.GetRecordCount(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected one stored record per source, got %d", count)
	}

	latest, err := runs.GetLatestRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].RunID != report.RunID || latest[0].State != string(StateDone) {
		t.Errorf("Expected persisted run history, got %+v", latest)
	}

	registered, err := sources.GetSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(registered) != 2 {
		t.Errorf("Expected 2 registered sources, got %d", len(registered))
	}

	// A second run upserts the same identities.
	runner.RunOnce(ctx)
	count, err = records.GetRecordCount(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected idempotent re-ingestion, got %d records", count)
	}
}

func TestRunner_FailedSourceDoesNotStopRun(t *testing.T) {
	s := &fakeSink{}
	resolver := &fakeResolver{err: &feed.FetchFailure{Source: "ES-A"}}
	runner := NewRunner(newTestConfigCache(t), newTestPipeline(t, resolver, s, false), nil, nil, 0, 0)

	report := runner.RunOnce(context.Background())

	if len(report.Sources) != 2 {
		t.Fatalf("Expected every source attempted, got %d", len(report.Sources))
	}
	if report.Totals().FailedSources != 2 {
		t.Errorf("Expected 2 failed sources, got %d", report.Totals().FailedSources)
	}
}

func TestRunner_CourtesyDelay(t *testing.T) {
	s := &fakeSink{}
	delay := 50 * time.Millisecond
	runner := NewRunner(newTestConfigCache(t), newTestPipeline(t, &fakeResolver{data: []byte(twoItemFeed)}, s, false), nil, nil, delay, 0)

	start := time.Now()
	runner.RunOnce(context.Background())

	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("Expected at least %v between sources, took %v", delay, elapsed)
	}
}

type slowResolver struct {
	fakeResolver
	latency time.Duration
	mu      sync.Mutex
	calls   []time.Time
	done    []time.Time
}

func (r *slowResolver) Resolve(ctx context.Context, source *feed.Source) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, time.Now())
	r.mu.Unlock()

	time.Sleep(r.latency)

	r.mu.Lock()
	r.done = append(r.done, time.Now())
	r.mu.Unlock()

	return r.data, r.err
}

func TestRunner_DelayAfterSlowSource(t *testing.T) {
	s := &fakeSink{}
	delay := 80 * time.Millisecond
	resolver := &slowResolver{fakeResolver: fakeResolver{data: []byte(twoItemFeed)}, latency: 2 * delay}
	runner := NewRunner(newTestConfigCache(t), newTestPipeline(t, resolver, s, false), nil, nil, delay, 0)

	runner.RunOnce(context.Background())

	if len(resolver.calls) != 2 {
		t.Fatalf("Expected 2 fetches, got %d", len(resolver.calls))
	}
	if gap := resolver.calls[1].Sub(resolver.done[0]); gap < delay {
		t.Errorf("Expected at least %v after the first source finished, got %v", delay, gap)
	}
}

func TestRunner_NoDelayBeforeFirstSource(t *testing.T) {
	s := &fakeSink{}
	delay := time.Second
	resolver := &slowResolver{fakeResolver: fakeResolver{data: []byte(twoItemFeed)}}
	runner := NewRunner(newTestConfigCache(t), newTestPipeline(t, resolver, s, false), nil, nil, delay, 0)

	ctx, cancel := context.WithTimeout(context.Background(), delay/2)
	defer cancel()

	report := runner.RunOnce(ctx)

	if len(report.Sources) != 1 {
		t.Errorf("Expected only the first source before the delay, got %d", len(report.Sources))
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	s := &fakeSink{}
	runner := NewRunner(newTestConfigCache(t), newTestPipeline(t, &fakeResolver{data: []byte(twoItemFeed)}, s, false), nil, nil, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := runner.RunOnce(ctx)
	if len(report.Sources) != 0 || len(s.records) != 0 {
		t.Errorf("Expected no sources processed, got %d", len(report.Sources))
	}
}

type notifySink struct {
	fakeSink
	want int
	done chan struct{}
}

func (s *notifySink) UpsertRecord(ctx context.Context, record feed.Record) (string, error) {
	id, err := s.fakeSink.UpsertRecord(ctx, record)
	if len(s.records) == s.want {
		close(s.done)
	}
	return id, err
}

func TestRunner_StartStop(t *testing.T) {
	s := &notifySink{want: 4, done: make(chan struct{})}
	runner := NewRunner(newTestConfigCache(t), newTestPipeline(t, &fakeResolver{data: []byte(twoItemFeed)}, s, false), nil, nil, 0, time.Hour)

	runner.Start()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Error("Timed out waiting for the first run")
	}

	runner.Stop()

	if len(s.records) != 4 {
		t.Errorf("Expected first run to dispatch 4 records, got %d", len(s.records))
	}
}

func TestReport_Totals(t *testing.T) {
	report := &Report{Sources: []SourceReport{
		{SourceCode: "A", State: StateDone, Attempted: 3, Succeeded: 2, Failed: 1, Duplicates: 1, Filtered: 4},
		{SourceCode: "B", State: StateFetchFailed},
		{SourceCode: "C", State: StateParseFailed},
	}}

	totals := report.Totals()
	expected := Totals{Sources: 3, FailedSources: 2, Attempted: 3, Succeeded: 2, Failed: 1, Duplicates: 1, Filtered: 4}
	if totals != expected {
		t.Errorf("Expected %+v, got %+v", expected, totals)
	}
}
