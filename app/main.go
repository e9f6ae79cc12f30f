package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/tender-comb/app/api"
	"github.com/lysyi3m/tender-comb/app/cache"
	"github.com/lysyi3m/tender-comb/app/cfg"
	"github.com/lysyi3m/tender-comb/app/database"
	"github.com/lysyi3m/tender-comb/app/feed"
	"github.com/lysyi3m/tender-comb/app/sink"
	"github.com/lysyi3m/tender-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Tender Comb", "version", appCfg.Version, "sink", appCfg.Sink, "strict", appCfg.Strict)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configCache := feed.NewConfigCache(appCfg.SourcesDir, feed.SourceSettings{
		MaxItems:          appCfg.MaxItems,
		Timeout:           appCfg.FetchTimeout,
		Currency:          appCfg.Currency,
		Country:           appCfg.Country,
		Timezone:          appCfg.Timezone,
		TitleLimit:        appCfg.TitleLimit,
		SummaryLimit:      appCfg.SummaryLimit,
		PublishedFallback: feed.TimePolicy(appCfg.PublishedFallback),
	})
	if err := configCache.Run(); err != nil {
		fatal("Failed to load source configurations", err)
	}
	if err := configCache.AddInline(appCfg.Sources); err != nil {
		fatal("Failed to load inline sources", err)
	}
	if configCache.GetSourceCount() == 0 {
		fatal("No sources configured", fmt.Errorf("set --sources or add files to %s", appCfg.SourcesDir))
	}
	slog.Info("Sources loaded", "count", configCache.GetSourceCount(), "enabled", len(configCache.GetEnabledSources()))

	keywords := feed.DefaultKeywords
	if appCfg.KeywordsFile != "" {
		if keywords, err = feed.LoadKeywords(appCfg.KeywordsFile); err != nil {
			fatal("Failed to load keywords", err)
		}
	}
	vocabulary, err := feed.NewVocabulary(keywords)
	if err != nil {
		fatal("Failed to compile keywords", err)
	}

	var categories map[string][]string
	var categorizer *feed.Categorizer
	if appCfg.CategoriesFile != "" {
		if categories, err = feed.LoadCategories(appCfg.CategoriesFile); err != nil {
			fatal("Failed to load categories", err)
		}
		if categorizer, err = feed.NewCategorizer(categories); err != nil {
			fatal("Failed to compile categories", err)
		}
	}

	db, err := database.NewConnection(appCfg.DBDriver, appCfg.DBDSN)
	if err != nil {
		fatal("Failed to connect to database", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		fatal("Failed to run migrations", err)
	}
	slog.Info("Database ready", "driver", appCfg.DBDriver, "migration", version, "dirty", dirty)

	recordRepo := database.NewRecordRepository(db, categorizer)
	sourceRepo := database.NewSourceRepository(db)
	runRepo := database.NewRunRepository(db)
	categoryRepo := database.NewCategoryRepository(db)

	if err := categoryRepo.SyncCategories(ctx, categories); err != nil {
		fatal("Failed to sync categories", err)
	}

	httpClient := &http.Client{}
	fetchTimeout := time.Duration(appCfg.FetchTimeout) * time.Second

	recordSink, closeSink, err := newSink(appCfg, httpClient, recordRepo, categorizer)
	if err != nil {
		fatal("Failed to initialize sink", err)
	}
	defer closeSink()

	var feedCache *cache.FeedCache
	if appCfg.RedisAddr != "" {
		if feedCache, err = cache.NewFeedCache(ctx, appCfg.RedisAddr, appCfg.CacheTTL); err != nil {
			fatal("Failed to initialize feed cache", err)
		}
		defer feedCache.Close()
	}

	parser := feed.NewParser()
	pipeline := &tasks.Pipeline{
		Resolver:  feed.NewResolver(httpClient, parser, appCfg.UserAgent, appCfg.ProxyURL),
		Parser:    parser,
		Filterer:  feed.NewFilterer(vocabulary, appCfg.Strict),
		Extractor: feed.NewContentExtractor(httpClient, appCfg.UserAgent, fetchTimeout),
		Sink:      recordSink,
		BatchSize: appCfg.BatchSize,
	}
	if feedCache != nil {
		pipeline.Cache = feedCache
	}

	runner := tasks.NewRunner(configCache, pipeline, sourceRepo, runRepo, appCfg.SourceDelay, appCfg.Interval)

	var httpServer *http.Server
	serverErrChan := make(chan error, 1)
	if appCfg.Port != "" {
		handler := api.NewHandler(configCache, recordRepo, sourceRepo, runRepo, categoryRepo, appCfg.BaseUrl, appCfg.Version)
		if feedCache != nil {
			handler.SetFeedCache(feedCache)
		}

		httpServer = &http.Server{
			Addr:         ":" + appCfg.Port,
			Handler:      api.NewServer(handler, appCfg.APIAccessKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			slog.Info("HTTP server starting", "port", appCfg.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	if appCfg.Interval > 0 {
		runner.Start()
		wait(ctx, serverErrChan)
		runner.Stop()
	} else {
		runner.Run(ctx)
		if httpServer != nil {
			wait(ctx, serverErrChan)
		}
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}

	slog.Info("Tender Comb stopped")
}

// newSink builds the configured record sink. The returned close function is
// always safe to call.
func newSink(appCfg *cfg.Cfg, httpClient *http.Client, recordRepo *database.RecordRepository,
	categorizer *feed.Categorizer) (sink.Sink, func(), error) {
	noop := func() {}

	switch appCfg.Sink {
	case cfg.SinkREST:
		timeout := time.Duration(appCfg.FetchTimeout) * time.Second
		return sink.NewRESTSink(httpClient, appCfg.RESTURL, appCfg.RESTAPIKey, timeout), noop, nil
	case cfg.SinkAMQP:
		amqpSink, err := sink.NewAMQPSink(appCfg.AMQPURL, appCfg.AMQPQueue)
		if err != nil {
			return nil, noop, err
		}
		return amqpSink, amqpSink.Close, nil
	case cfg.SinkElasticsearch:
		elasticSink, err := sink.NewElasticSink(appCfg.ESAddress, appCfg.ESIndex, categorizer)
		if err != nil {
			return nil, noop, err
		}
		return elasticSink, noop, nil
	default:
		return recordRepo, noop, nil
	}
}

func wait(ctx context.Context, serverErrChan <-chan error) {
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
