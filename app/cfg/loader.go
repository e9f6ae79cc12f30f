package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

const (
	SinkDB            = "db"
	SinkREST          = "rest"
	SinkAMQP          = "amqp"
	SinkElasticsearch = "elasticsearch"
)

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	EnvFile string `long:"env-file" env:"ENV_FILE" default:".env" description:"Optional dotenv file loaded before parsing"`

	// Database configuration
	DBDriver string `long:"db-driver" env:"DB_DRIVER" default:"sqlite" choice:"sqlite" choice:"postgres" description:"Database driver"`
	DBDSN    string `long:"db-dsn" env:"DB_DSN" default:"tender-comb.db" description:"Database DSN (file path for sqlite)"`

	// Sources and vocabularies
	SourcesDir     string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	Sources        string `long:"sources" env:"SOURCES" description:"Inline sources as CODE|Name|KIND|URL, comma separated"`
	KeywordsFile   string `long:"keywords-file" env:"KEYWORDS_FILE" description:"YAML list of relevance keyword patterns"`
	CategoriesFile string `long:"categories-file" env:"CATEGORIES_FILE" description:"YAML map of category name to keyword patterns"`

	// Pipeline configuration
	FilterMode        string        `long:"filter-mode" env:"FILTER_MODE" default:"strict" choice:"strict" choice:"off" description:"Relevance filtering mode"`
	MaxItems          int           `long:"max-items" env:"MAX_ITEMS" default:"200" description:"Maximum records per source and run"`
	BatchSize         int           `long:"batch-size" env:"BATCH_SIZE" default:"200" description:"Records per batched sink call (1 disables batching)"`
	Currency          string        `long:"currency" env:"CURRENCY" default:"EUR" description:"Default ISO currency code"`
	Country           string        `long:"country" env:"COUNTRY" default:"ES" description:"Default ISO country code"`
	Timezone          string        `long:"timezone" env:"SOURCE_TIMEZONE" default:"UTC" description:"Time zone for feed dates without offset"`
	TitleLimit        int           `long:"title-limit" env:"TITLE_LIMIT" default:"500" description:"Maximum title length in characters"`
	SummaryLimit      int           `long:"summary-limit" env:"SUMMARY_LIMIT" default:"6000" description:"Maximum summary length in characters"`
	PublishedFallback string        `long:"published-fallback" env:"PUBLISHED_FALLBACK" default:"absent" choice:"absent" choice:"now" description:"Value used when a publication date cannot be parsed"`
	SourceDelay       time.Duration `long:"source-delay" env:"SOURCE_DELAY" default:"2s" description:"Courtesy delay between sources"`
	Interval          time.Duration `long:"interval" env:"INTERVAL" default:"0" description:"Repeat runs on this interval (0 runs once)"`

	// HTTP fetching
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) TenderComb/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"60" description:"Per-request timeout in seconds"`
	ProxyURL     string `long:"proxy-url" env:"PROXY_URL" default:"https://r.jina.ai/" description:"Read-only text proxy tried as a last resort (empty disables)"`

	// Sink configuration
	Sink       string `long:"sink" env:"SINK" default:"db" choice:"db" choice:"rest" choice:"amqp" choice:"elasticsearch" description:"Downstream sink for normalized records"`
	RESTURL    string `long:"rest-url" env:"REST_URL" description:"PostgREST base URL for the rest sink"`
	RESTAPIKey string `long:"rest-api-key" env:"REST_API_KEY" description:"API key for the rest sink"`
	AMQPURL    string `long:"amqp-url" env:"AMQP_URL" description:"Broker URL for the amqp sink"`
	AMQPQueue  string `long:"amqp-queue" env:"AMQP_QUEUE" default:"tenders" description:"Queue for the amqp sink"`
	ESAddress  string `long:"es-address" env:"ES_ADDRESS" description:"Elasticsearch address for the elasticsearch sink"`
	ESIndex    string `long:"es-index" env:"ES_INDEX" default:"tenders" description:"Index for the elasticsearch sink"`

	// Feed cache
	RedisAddr string        `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for caching generated feeds (empty disables)"`
	CacheTTL  time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"10m" description:"Lifetime of a cached feed"`

	// Operator API
	Port         string `long:"port" env:"PORT" description:"HTTP server port (empty disables the API)"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://tenders.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	Debug bool `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load reads an optional dotenv file, then flags and environment. It returns
// nil without error when help was requested.
func Load(args []string) (*Cfg, error) {
	if err := loadEnvFile(envFileArg(args)); err != nil {
		return nil, err
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBDriver:          raw.DBDriver,
		DBDSN:             raw.DBDSN,
		SourcesDir:        raw.SourcesDir,
		Sources:           raw.Sources,
		KeywordsFile:      raw.KeywordsFile,
		CategoriesFile:    raw.CategoriesFile,
		Strict:            raw.FilterMode == "strict",
		MaxItems:          raw.MaxItems,
		BatchSize:         raw.BatchSize,
		Currency:          raw.Currency,
		Country:           raw.Country,
		Timezone:          raw.Timezone,
		TitleLimit:        raw.TitleLimit,
		SummaryLimit:      raw.SummaryLimit,
		PublishedFallback: raw.PublishedFallback,
		SourceDelay:       raw.SourceDelay,
		Interval:          raw.Interval,
		UserAgent:         raw.UserAgent,
		FetchTimeout:      raw.FetchTimeout,
		ProxyURL:          raw.ProxyURL,
		Sink:              raw.Sink,
		RESTURL:           raw.RESTURL,
		RESTAPIKey:        raw.RESTAPIKey,
		AMQPURL:           raw.AMQPURL,
		AMQPQueue:         raw.AMQPQueue,
		ESAddress:         raw.ESAddress,
		ESIndex:           raw.ESIndex,
		RedisAddr:         raw.RedisAddr,
		CacheTTL:          raw.CacheTTL,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		APIAccessKey:      raw.APIAccessKey,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	requiredBySink := map[string][2]string{
		SinkREST:          {"rest-url", c.RESTURL},
		SinkAMQP:          {"amqp-url", c.AMQPURL},
		SinkElasticsearch: {"es-address", c.ESAddress},
	}
	if required, ok := requiredBySink[c.Sink]; ok && required[1] == "" {
		return fmt.Errorf("--%s is required for the %s sink", required[0], c.Sink)
	}

	nonNegativeFields := map[string]int{
		"max-items":     c.MaxItems,
		"batch-size":    c.BatchSize,
		"fetch-timeout": c.FetchTimeout,
		"title-limit":   c.TitleLimit,
		"summary-limit": c.SummaryLimit,
	}
	for name, value := range nonNegativeFields {
		if value < 0 {
			return fmt.Errorf("--%s must be non-negative", name)
		}
	}

	if c.SourceDelay < 0 || c.Interval < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("durations must be non-negative")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// envFileArg finds --env-file ahead of flag parsing so that the file can
// feed the env defaults of every other option.
func envFileArg(args []string) string {
	for i, arg := range args {
		if value, ok := strings.CutPrefix(arg, "--env-file="); ok {
			return value
		}
		if arg == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return cmp.Or(os.Getenv("ENV_FILE"), ".env")
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
