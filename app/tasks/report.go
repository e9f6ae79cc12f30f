package tasks

import (
	"log/slog"
	"time"
)

// State is a step of the per-source pipeline.
type State string

const (
	StatePending     State = "PENDING"
	StateFetching    State = "FETCHING"
	StateFetched     State = "FETCHED"
	StateFetchFailed State = "FETCH_FAILED"
	StateParsing     State = "PARSING"
	StateParsed      State = "PARSED"
	StateParseFailed State = "PARSE_FAILED"
	StateFiltering   State = "FILTERING"
	StateNormalizing State = "NORMALIZING"
	StateDeduping    State = "DEDUPING"
	StateDispatching State = "DISPATCHING"
	StateDone        State = "DONE"
)

// Failed reports whether the source stopped before dispatch.
func (s State) Failed() bool {
	return s == StateFetchFailed || s == StateParseFailed
}

// SourceReport counts what happened to one source's candidates.
type SourceReport struct {
	SourceCode string
	State      State
	Candidates int // parsed from the payload
	Filtered   int // dropped by relevance filtering
	Duplicates int // dropped by (url, title) deduplication
	Attempted  int
	Succeeded  int
	Failed     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceReport
}

type Totals struct {
	Sources       int
	FailedSources int
	Attempted     int
	Succeeded     int
	Failed        int
	Duplicates    int
	Filtered      int
}

func (r *Report) Totals() Totals {
	totals := Totals{Sources: len(r.Sources)}
	for _, s := range r.Sources {
		if s.State.Failed() {
			totals.FailedSources++
		}
		totals.Attempted += s.Attempted
		totals.Succeeded += s.Succeeded
		totals.Failed += s.Failed
		totals.Duplicates += s.Duplicates
		totals.Filtered += s.Filtered
	}
	return totals
}

// Log writes one line per source followed by the run totals.
func (r *Report) Log() {
	for _, s := range r.Sources {
		attrs := []any{
			"run", r.RunID,
			"source", s.SourceCode,
			"state", string(s.State),
			"candidates", s.Candidates,
			"filtered", s.Filtered,
			"duplicates", s.Duplicates,
			"attempted", s.Attempted,
			"succeeded", s.Succeeded,
			"failed", s.Failed,
		}
		if s.Error != "" {
			slog.Warn("Source report", append(attrs, "error", s.Error)...)
			continue
		}
		slog.Info("Source report", attrs...)
	}

	totals := r.Totals()
	slog.Info("Run completed",
		"run", r.RunID,
		"duration", r.FinishedAt.Sub(r.StartedAt),
		"sources", totals.Sources,
		"failed_sources", totals.FailedSources,
		"attempted", totals.Attempted,
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
		"duplicates", totals.Duplicates,
		"filtered", totals.Filtered)
}
