package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBDriver string
	DBDSN    string

	// Sources and vocabularies
	SourcesDir     string
	Sources        string
	KeywordsFile   string
	CategoriesFile string

	// Pipeline configuration
	Strict            bool
	MaxItems          int
	BatchSize         int
	Currency          string
	Country           string
	Timezone          string
	TitleLimit        int
	SummaryLimit      int
	PublishedFallback string
	SourceDelay       time.Duration
	Interval          time.Duration

	// HTTP fetching
	UserAgent    string
	FetchTimeout int
	ProxyURL     string

	// Sink configuration
	Sink       string
	RESTURL    string
	RESTAPIKey string
	AMQPURL    string
	AMQPQueue  string
	ESAddress  string
	ESIndex    string

	// Feed cache
	RedisAddr string
	CacheTTL  time.Duration

	// Operator API
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Application metadata
	Debug   bool
	Version string
}
