package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/tender-comb/app/database"
	"github.com/lysyi3m/tender-comb/app/feed"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

func NewHandler(configCache *feed.ConfigCache, recordRepo database.RecordStore, sourceRepo database.SourceStore,
	runRepo database.RunStore, categoryRepo database.CategoryStore, baseURL, version string) *Handler {
	return &Handler{
		configCache:  configCache,
		recordRepo:   recordRepo,
		sourceRepo:   sourceRepo,
		runRepo:      runRepo,
		categoryRepo: categoryRepo,
		generator:    feed.NewGenerator(),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		version:      version,
	}
}

// SetFeedCache enables caching of generated feeds.
func (h *Handler) SetFeedCache(feedCache FeedCacheInterface) {
	h.feedCache = feedCache
}

// GetFeed republishes the stored records of a source as RSS 2.0.
func (h *Handler) GetFeed(c *gin.Context) {
	code := c.Param("code")

	source, err := h.configCache.GetSource(code)
	if err != nil {
		slog.Debug("Source configuration not found", "source", code, "error", err)
		c.Status(http.StatusNotFound)
		return
	}

	ctx := c.Request.Context()

	if h.feedCache != nil {
		content, items, ok, err := h.feedCache.GetFeed(ctx, code)
		if err != nil {
			slog.Warn("Feed cache error", "source", code, "error", err)
		}
		if ok {
			c.Header("Content-Type", "application/xml; charset=utf-8")
			c.Header("X-Feed-Items", strconv.Itoa(items))
			c.Header("X-Feed-Source", code)
			c.Header("X-Cache", "HIT")
			c.String(http.StatusOK, content)
			return
		}
	}

	stored, err := h.recordRepo.GetRecords(ctx, code, source.Settings.MaxItems)
	if err != nil {
		slog.Error("Database error", "operation", "get_records", "source", code, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	records := make([]feed.Record, 0, len(stored))
	for _, rec := range stored {
		records = append(records, rec.Record)
	}

	channel := feed.Channel{
		Title:     source.Name,
		Link:      source.URL,
		Generator: "Tender Comb " + h.version,
	}
	if h.baseURL != "" {
		channel.SelfLink = h.baseURL + "/feeds/" + code
	}

	rss, err := h.generator.Run(channel, records)
	if err != nil {
		slog.Error("RSS generation error", "source", code, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if h.feedCache != nil {
		if err := h.feedCache.SetFeed(ctx, code, rss, len(records)); err != nil {
			slog.Warn("Feed cache error", "source", code, "error", err)
		}
		c.Header("X-Cache", "MISS")
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(records)))
	c.Header("X-Feed-Source", code)
	if len(stored) > 0 {
		c.Header("X-Last-Updated", stored[0].UpdatedAt.Format(time.RFC3339))
	}

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	}

	if count, err := h.recordRepo.GetRecordCount(c.Request.Context(), ""); err == nil {
		health["records"] = count
	} else {
		health["status"] = "degraded"
		slog.Warn("Health check database error", "error", err)
	}

	health["loaded_sources"] = h.configCache.GetSourceCount()

	c.JSON(http.StatusOK, health)
}

// GetStats returns the latest run of every source.
func (h *Handler) GetStats(c *gin.Context) {
	runs, err := h.runRepo.GetLatestRuns(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_latest_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	sources := make(map[string]runResponse, len(runs))
	var attempted, succeeded, failed int
	for _, run := range runs {
		sources[run.SourceCode] = newRunResponse(run)
		attempted += run.Attempted
		succeeded += run.Succeeded
		failed += run.Failed
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"totals": gin.H{
			"sources":   len(runs),
			"attempted": attempted,
			"succeeded": succeeded,
			"failed":    failed,
		},
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	ctx := c.Request.Context()

	registered := make(map[string]bool)
	if rows, err := h.sourceRepo.GetSources(ctx); err == nil {
		for _, row := range rows {
			registered[row.Code] = true
		}
	} else {
		slog.Warn("Database error", "operation", "get_sources", "error", err)
	}

	sources := h.configCache.GetSources()
	response := make([]sourceResponse, 0, len(sources))
	for _, source := range sources {
		info := newSourceResponse(source)
		info.Registered = registered[source.Code]
		if count, err := h.recordRepo.GetRecordCount(ctx, source.Code); err == nil {
			info.RecordCount = &count
		}
		response = append(response, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": response,
		"total":   len(response),
	})
}

func (h *Handler) APIGetSource(c *gin.Context) {
	code := c.Param("code")

	source, err := h.configCache.GetSource(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source configuration not found"})
		return
	}

	ctx := c.Request.Context()
	details := gin.H{"source": newSourceResponse(source), "filters": source.Filters}

	row, err := h.sourceRepo.GetSource(ctx, code)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if row != nil {
		details["database"] = gin.H{
			"created_at": row.CreatedAt,
			"updated_at": row.UpdatedAt,
		}
	}

	if count, err := h.recordRepo.GetRecordCount(ctx, code); err == nil {
		details["record_count"] = count
	}

	c.JSON(http.StatusOK, details)
}

// APIListRecords lists stored records, optionally for one source.
func (h *Handler) APIListRecords(c *gin.Context) {
	source := c.Query("source")

	limit := defaultRecordLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxRecordLimit)
	}

	stored, err := h.recordRepo.GetRecords(c.Request.Context(), source, limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_records", "source", source, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	records := make([]recordResponse, 0, len(stored))
	for _, rec := range stored {
		records = append(records, newRecordResponse(rec))
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
		"limit":   limit,
	})
}

func (h *Handler) APIListCategories(c *gin.Context) {
	categories, err := h.categoryRepo.GetCategories(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_categories", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"categories": categories,
		"total":      len(categories),
	})
}

func newSourceResponse(source *feed.Source) sourceResponse {
	return sourceResponse{
		Code:     source.Code,
		Name:     source.Name,
		Kind:     source.Kind.String(),
		URL:      source.URL,
		Enabled:  source.Enabled(),
		MaxItems: source.Settings.MaxItems,
		Timeout:  (time.Duration(source.Settings.Timeout) * time.Second).String(),
		Keywords: source.Keywords,
		Filters:  len(source.Filters),
	}
}

func newRecordResponse(rec database.StoredRecord) recordResponse {
	response := recordResponse{
		ID:         rec.ID,
		SourceCode: rec.SourceCode,
		ExternalID: rec.ExternalID,
		Title:      rec.Title,
		Summary:    rec.Summary,
		URL:        rec.URL,
		Status:     rec.Status,
		Currency:   rec.Currency,
		Country:    rec.Country,
		Region:     rec.Region,
		Categories: rec.Categories,
		UpdatedAt:  rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if response.Categories == nil {
		response.Categories = []string{}
	}
	if rec.PublishedAt != nil {
		published := rec.PublishedAt.UTC().Format(time.RFC3339)
		response.PublishedAt = &published
	}
	return response
}

func newRunResponse(run database.SourceRun) runResponse {
	return runResponse{
		RunID:      run.RunID,
		State:      run.State,
		Candidates: run.Candidates,
		Filtered:   run.Filtered,
		Duplicates: run.Duplicates,
		Attempted:  run.Attempted,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
		Duration:   run.FinishedAt.Sub(run.StartedAt).String(),
	}
}
