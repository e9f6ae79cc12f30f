package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/tender-comb/app/database"
	"github.com/lysyi3m/tender-comb/app/feed"
)

// Runner processes the enabled sources one at a time, in configured order,
// pausing between sources. With a positive interval it repeats on a ticker.
type Runner struct {
	configCache *feed.ConfigCache
	pipeline    *Pipeline
	sourceRepo  database.SourceStore
	runRepo     database.RunStore
	delay       time.Duration
	interval    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRunner creates a runner. sourceRepo and runRepo may be nil, in which
// case the registry sync and run history are skipped.
func NewRunner(configCache *feed.ConfigCache, pipeline *Pipeline, sourceRepo database.SourceStore,
	runRepo database.RunStore, delay, interval time.Duration) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		configCache: configCache,
		pipeline:    pipeline,
		sourceRepo:  sourceRepo,
		runRepo:     runRepo,
		delay:       delay,
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs in the background until Stop is called.
func (r *Runner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(r.ctx)
	}()
}

func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Run syncs the source registry, performs a run and, with a positive
// interval, keeps running on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.SyncSources(ctx)
	r.RunOnce(ctx)

	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// SyncSources registers every configured source, enabled or not.
func (r *Runner) SyncSources(ctx context.Context) {
	if r.sourceRepo == nil {
		return
	}

	for _, source := range r.configCache.GetSources() {
		if err := r.execute(ctx, NewSyncSourceConfigTask(source, r.sourceRepo)); err != nil {
			slog.Warn("Failed to sync source", "source", source.Code, "error", err)
		}
	}
}

// RunOnce processes every enabled source and returns the run report. A
// cancelled ctx stops the run between sources.
func (r *Runner) RunOnce(ctx context.Context) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	sources := r.configCache.GetEnabledSources()
	if len(sources) == 0 {
		slog.Debug("No enabled sources found")
	}

	for i, source := range sources {
		if err := r.pause(ctx, i == 0); err != nil {
			slog.Info("Run interrupted", "run", report.RunID, "error", err)
			break
		}

		task := NewProcessSourceTask(source, r.pipeline)
		if err := r.execute(ctx, task); err != nil {
			slog.Debug("Source skipped", "source", source.Code, "error", err)
		}

		sourceReport := task.Report()
		report.Sources = append(report.Sources, sourceReport)
		r.saveRun(ctx, report.RunID, sourceReport)
	}

	report.FinishedAt = time.Now().UTC()
	report.Log()

	return report
}

func (r *Runner) execute(ctx context.Context, task TaskInterface) error {
	slog.Debug("Task started", "task", task.GetID(), "type", task.GetType(), "source", task.GetSourceCode())
	return task.Execute(ctx)
}

// pause waits the courtesy delay after the previous source has finished.
// The limiter starts with its only token spent, so Wait blocks for one full
// interval no matter how long the previous source took.
func (r *Runner) pause(ctx context.Context, first bool) error {
	if first || r.delay <= 0 {
		return ctx.Err()
	}

	limiter := rate.NewLimiter(rate.Every(r.delay), 1)
	limiter.Allow()

	return limiter.Wait(ctx)
}

func (r *Runner) saveRun(ctx context.Context, runID string, s SourceReport) {
	if r.runRepo == nil {
		return
	}

	run := database.SourceRun{
		RunID:      runID,
		SourceCode: s.SourceCode,
		State:      string(s.State),
		Candidates: s.Candidates,
		Filtered:   s.Filtered,
		Duplicates: s.Duplicates,
		Attempted:  s.Attempted,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
		Error:      s.Error,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}

	// History of an interrupted source is still recorded.
	if err := r.runRepo.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("Failed to save source run", "source", s.SourceCode, "error", err)
	}
}
