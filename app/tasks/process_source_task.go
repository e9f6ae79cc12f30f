package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/tender-comb/app/feed"
	"github.com/lysyi3m/tender-comb/app/sink"
)

// Pipeline holds the components shared by every ProcessSourceTask of a run.
// Extractor and Cache may be nil, which disables body extraction and cache
// invalidation.
type Pipeline struct {
	Resolver  SourceResolver
	Parser    *feed.Parser
	Filterer  *feed.Filterer
	Extractor BodyExtractor
	Sink      sink.Sink
	Cache     FeedInvalidator
	BatchSize int
}

type ProcessSourceTask struct {
	Task
	source   *feed.Source
	pipeline *Pipeline
	report   SourceReport
}

func NewProcessSourceTask(source *feed.Source, pipeline *Pipeline) *ProcessSourceTask {
	return &ProcessSourceTask{
		Task:     NewTask(TaskTypeProcessSource, source.Code),
		source:   source,
		pipeline: pipeline,
		report:   SourceReport{SourceCode: source.Code, State: StatePending},
	}
}

// Report returns the counters collected by Execute.
func (t *ProcessSourceTask) Report() SourceReport {
	return t.report
}

// Execute runs fetch, parse, filter, normalize, dedupe and dispatch for one
// source. A fetch or parse failure is returned and stops the source; record
// dispatch failures are only counted.
func (t *ProcessSourceTask) Execute(ctx context.Context) error {
	t.Start()
	t.report.StartedAt = time.Now().UTC()
	defer func() { t.report.FinishedAt = time.Now().UTC() }()

	if err := ctx.Err(); err != nil {
		return err
	}

	t.setState(StateFetching)
	data, err := t.pipeline.Resolver.Resolve(ctx, t.source)
	if err != nil {
		t.fail(StateFetchFailed, err)
		return err
	}
	t.setState(StateFetched)

	t.setState(StateParsing)
	candidates, err := t.pipeline.Parser.Run(data, t.source.Kind)
	if err != nil {
		t.fail(StateParseFailed, err)
		return err
	}
	t.setState(StateParsed)
	t.report.Candidates = len(candidates)

	t.setState(StateFiltering)
	relevant := t.pipeline.Filterer.Run(candidates, t.source)
	t.report.Filtered = len(candidates) - len(relevant)
	if limit := t.source.Settings.MaxItems; limit > 0 && len(relevant) > limit {
		relevant = relevant[:limit]
	}

	t.setState(StateNormalizing)
	records := make([]feed.Record, 0, len(relevant))
	for _, candidate := range relevant {
		records = append(records, t.normalize(ctx, candidate))
	}

	t.setState(StateDeduping)
	records, t.report.Duplicates = Dedupe(records)

	t.setState(StateDispatching)
	if batchSink, ok := t.pipeline.Sink.(sink.BatchSink); ok && t.pipeline.BatchSize > 1 {
		t.dispatchBatches(ctx, batchSink, records)
	} else {
		t.dispatchEach(ctx, records)
	}

	if t.report.Succeeded > 0 && t.pipeline.Cache != nil {
		if err := t.pipeline.Cache.Invalidate(ctx, t.SourceCode); err != nil {
			slog.Warn("Feed cache invalidation failed", "source", t.SourceCode, "error", err)
		}
	}

	t.setState(StateDone)

	slog.Info("Task completed",
		"type", "ProcessSource",
		"source", t.SourceCode,
		"duration", t.GetDuration(),
		"candidates", t.report.Candidates,
		"filtered", t.report.Filtered,
		"duplicates", t.report.Duplicates,
		"succeeded", t.report.Succeeded,
		"failed", t.report.Failed)

	return nil
}

func (t *ProcessSourceTask) setState(state State) {
	t.report.State = state
	slog.Debug("Source state changed", "source", t.SourceCode, "state", string(state))
}

func (t *ProcessSourceTask) fail(state State, err error) {
	t.setState(state)
	t.report.Error = err.Error()

	var fetchFailure *feed.FetchFailure
	if errors.As(err, &fetchFailure) {
		for _, attempt := range fetchFailure.Attempts {
			slog.Debug("Fetch attempt", "source", t.SourceCode, "url", attempt.URL, "reason", attempt.Reason)
		}
		slog.Warn("Source fetch failed", "source", t.SourceCode, "url", t.source.URL, "attempts", len(fetchFailure.Attempts))
		return
	}

	slog.Warn("Source parse failed", "source", t.SourceCode, "url", t.source.URL, "error", err)
}

func (t *ProcessSourceTask) normalize(ctx context.Context, candidate feed.Candidate) feed.Record {
	record := feed.NormalizeCandidate(t.source, candidate)

	if !t.source.Settings.ExtractBody || t.pipeline.Extractor == nil || record.URL == "" {
		return record
	}

	body, err := t.pipeline.Extractor.Extract(ctx, record.URL)
	if err != nil {
		slog.Warn("Body extraction failed", "source", t.SourceCode, "url", record.URL, "error", err)
		return record
	}
	record.Body = &body

	return record
}

// Dedupe drops records repeating an earlier (URL, Title) pair, keeping order.
func Dedupe(records []feed.Record) ([]feed.Record, int) {
	type key struct{ url, title string }

	seen := make(map[key]struct{}, len(records))
	unique := make([]feed.Record, 0, len(records))
	for _, record := range records {
		k := key{record.URL, record.Title}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, record)
	}

	return unique, len(records) - len(unique)
}

func (t *ProcessSourceTask) dispatchEach(ctx context.Context, records []feed.Record) {
	for _, record := range records {
		t.report.Attempted++

		id, err := t.pipeline.Sink.UpsertRecord(ctx, record)
		if err != nil {
			t.report.Failed++
			slog.Warn("Record dispatch failed", "source", t.SourceCode, "external_id", record.ExternalID, "error", err)
			continue
		}

		t.report.Succeeded++
		t.assignCategories(ctx, id)
	}
}

func (t *ProcessSourceTask) dispatchBatches(ctx context.Context, batchSink sink.BatchSink, records []feed.Record) {
	size := t.pipeline.BatchSize

	for start := 0; start < len(records); start += size {
		chunk := records[start:min(start+size, len(records))]
		t.report.Attempted += len(chunk)

		ids, err := batchSink.UpsertRecords(ctx, chunk)
		if len(ids) != len(chunk) {
			if err == nil {
				err = fmt.Errorf("sink returned %d ids for %d records", len(ids), len(chunk))
			}
			t.report.Failed += len(chunk)
			slog.Warn("Batch dispatch failed", "source", t.SourceCode, "records", len(chunk), "error", err)
			continue
		}

		if err != nil {
			slog.Warn("Record dispatch failed", "source", t.SourceCode, "error", err)
		}

		for _, id := range ids {
			if id == "" {
				t.report.Failed++
				continue
			}
			t.report.Succeeded++
			t.assignCategories(ctx, id)
		}
	}
}

func (t *ProcessSourceTask) assignCategories(ctx context.Context, recordID string) {
	if err := t.pipeline.Sink.AssignCategories(ctx, recordID); err != nil {
		slog.Warn("Category assignment failed", "source", t.SourceCode, "record_id", recordID, "error", err)
	}
}
