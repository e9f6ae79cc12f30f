package feed

import (
	"cmp"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ConfigCache holds the source descriptors of a run in configured order.
type ConfigCache struct {
	sourcesDir string
	defaults   SourceSettings
	cache      map[string]*Source
	order      []string
	mu         sync.RWMutex
}

func NewConfigCache(sourcesDir string, defaults SourceSettings) *ConfigCache {
	return &ConfigCache{
		sourcesDir: sourcesDir,
		defaults:   defaults,
		cache:      make(map[string]*Source),
	}
}

// Run loads every *.yml/*.yaml file of the sources directory, sorted by file name.
func (cc *ConfigCache) Run() error {
	if cc.sourcesDir == "" {
		return nil
	}
	if _, err := os.Stat(cc.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(cc.sourcesDir, pattern))
		if err != nil {
			return fmt.Errorf("failed to find YML files: %w", err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)

	for _, file := range files {
		source, err := cc.LoadConfig(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "source", source.Code, "kind", source.Kind.String(), "enabled", source.Enabled())
	}

	return nil
}

// LoadConfig parses a single source file. The source code defaults to the
// file name without extension.
func (cc *ConfigCache) LoadConfig(configFile string) (*Source, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var source Source
	if err := yaml.Unmarshal(data, &source); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	fileName := filepath.Base(configFile)
	source.Code = cmp.Or(source.Code, strings.TrimSuffix(fileName, filepath.Ext(fileName)))

	if err := cc.Add(&source); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	return &source, nil
}

// AddInline registers sources from a comma separated "CODE|Name|KIND|URL" list.
func (cc *ConfigCache) AddInline(list string) error {
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		parts := strings.SplitN(raw, "|", 4)
		if len(parts) != 4 {
			return fmt.Errorf("invalid source definition %q: expected CODE|Name|KIND|URL", raw)
		}

		kind, err := ParseKind(parts[2])
		if err != nil {
			return fmt.Errorf("invalid source definition %q: %w", raw, err)
		}

		source := &Source{
			Code: strings.TrimSpace(parts[0]),
			Name: strings.TrimSpace(parts[1]),
			Kind: kind,
			URL:  strings.TrimSpace(parts[3]),
		}
		if err := cc.Add(source); err != nil {
			return fmt.Errorf("invalid source definition %q: %w", raw, err)
		}
	}

	return nil
}

// Add validates a source, fills defaults and appends it to the run order.
func (cc *ConfigCache) Add(source *Source) error {
	cc.applyDefaults(source)

	if err := cc.validateConfig(source); err != nil {
		return err
	}

	if len(source.Keywords) > 0 {
		vocabulary, err := NewVocabulary(source.Keywords)
		if err != nil {
			return fmt.Errorf("invalid keywords: %w", err)
		}
		source.vocabulary = vocabulary
	}

	if source.Settings.Timezone != "" {
		loc, err := time.LoadLocation(source.Settings.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", source.Settings.Timezone, err)
		}
		source.location = loc
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if _, exists := cc.cache[source.Code]; exists {
		return fmt.Errorf("duplicate source code '%s'", source.Code)
	}
	cc.cache[source.Code] = source
	cc.order = append(cc.order, source.Code)

	return nil
}

func (cc *ConfigCache) GetSource(code string) (*Source, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	source, ok := cc.cache[code]
	if !ok {
		return nil, fmt.Errorf("source config with code '%s' not found", code)
	}
	return source, nil
}

// GetSources returns all sources in configured order.
func (cc *ConfigCache) GetSources() []*Source {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	sources := make([]*Source, 0, len(cc.order))
	for _, code := range cc.order {
		sources = append(sources, cc.cache[code])
	}
	return sources
}

func (cc *ConfigCache) GetEnabledSources() []*Source {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	sources := make([]*Source, 0, len(cc.order))
	for _, code := range cc.order {
		if source := cc.cache[code]; source.Enabled() {
			sources = append(sources, source)
		}
	}
	return sources
}

func (cc *ConfigCache) GetSourceCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) applyDefaults(source *Source) {
	source.Code = strings.TrimSpace(source.Code)
	source.Name = cmp.Or(strings.TrimSpace(source.Name), source.Code)
	source.Kind = Kind(strings.ToUpper(string(source.Kind)))

	s := &source.Settings
	s.MaxItems = cmp.Or(s.MaxItems, cc.defaults.MaxItems, 200)
	s.Timeout = cmp.Or(s.Timeout, cc.defaults.Timeout, 60)
	s.Currency = cmp.Or(s.Currency, cc.defaults.Currency, "EUR")
	s.Country = cmp.Or(s.Country, cc.defaults.Country, "ES")
	s.TitleLimit = cmp.Or(s.TitleLimit, cc.defaults.TitleLimit, 500)
	s.SummaryLimit = cmp.Or(s.SummaryLimit, cc.defaults.SummaryLimit, 6000)
	s.PublishedFallback = cmp.Or(s.PublishedFallback, cc.defaults.PublishedFallback, KeepAbsent)
	s.Timezone = cmp.Or(s.Timezone, cc.defaults.Timezone)
}

func (cc *ConfigCache) validateConfig(source *Source) error {
	if source == nil {
		return fmt.Errorf("source is nil")
	}

	requiredFields := map[string]string{
		"source code": source.Code,
		"source URL":  source.URL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if strings.ContainsAny(source.Code, " /|") {
		return fmt.Errorf("source code '%s' must not contain spaces, '/' or '|'", source.Code)
	}

	u, err := url.Parse(source.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source URL must be an absolute http(s) URL: %s", source.URL)
	}

	if _, err := ParseKind(string(source.Kind)); err != nil {
		return err
	}

	nonNegativeFields := map[string]int{
		"max items":     source.Settings.MaxItems,
		"timeout":       source.Settings.Timeout,
		"title limit":   source.Settings.TitleLimit,
		"summary limit": source.Settings.SummaryLimit,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if p := source.Settings.PublishedFallback; p != KeepAbsent && p != SubstituteNow {
		return fmt.Errorf("invalid published_fallback: %s", p)
	}

	validFields := map[string]bool{
		"title":   true,
		"summary": true,
		"link":    true,
	}

	for i, filter := range source.Filters {
		if !validFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

// LoadKeywords reads a YAML list of keyword patterns.
func LoadKeywords(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords file: %w", err)
	}

	var keywords []string
	if err := yaml.Unmarshal(data, &keywords); err != nil {
		return nil, fmt.Errorf("failed to parse keywords YAML: %w", err)
	}
	return keywords, nil
}

// LoadCategories reads a YAML mapping of category name to keyword patterns.
func LoadCategories(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories file: %w", err)
	}

	var categories map[string][]string
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("failed to parse categories YAML: %w", err)
	}
	return categories, nil
}
