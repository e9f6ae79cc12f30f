package feed

import (
	"fmt"
	"strings"
	"time"
)

// Feed processing types

// Kind tags the payload shape a source serves.
type Kind string

const (
	KindUnknown Kind = ""
	KindRSS     Kind = "RSS"
	KindAtom    Kind = "ATOM"
	KindJSON    Kind = "JSON"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindRSS:
		return KindRSS, nil
	case KindAtom:
		return KindAtom, nil
	case KindJSON:
		return KindJSON, nil
	case KindUnknown:
		return KindUnknown, nil
	default:
		return KindUnknown, fmt.Errorf("unknown feed kind: %s", s)
	}
}

// IsXML reports whether the kind is served as an XML document.
func (k Kind) IsXML() bool {
	return k == KindRSS || k == KindAtom
}

func (k Kind) String() string {
	if k == KindUnknown {
		return "UNKNOWN"
	}
	return string(k)
}

// Candidate is a single item extracted from a feed before normalization.
// Absent fields are empty strings.
type Candidate struct {
	Title        string
	Link         string
	Summary      string
	PublishedRaw string
}

const (
	StatusOpen          = "open"
	MaxExternalIDLength = 120
)

// Record is the canonical unit handed to a sink. Identity is the
// (SourceCode, ExternalID) pair.
type Record struct {
	SourceCode  string
	ExternalID  string
	Title       string
	Summary     *string
	Body        *string
	URL         string
	Status      string
	Currency    string
	Country     string
	Region      *string
	PublishedAt *time.Time
	DeadlineAt  *time.Time // never populated by the engine
}

// TimePolicy decides what a call site gets when a date cannot be parsed.
type TimePolicy string

const (
	KeepAbsent    TimePolicy = "absent"
	SubstituteNow TimePolicy = "now"
)

// Configuration types

type Source struct {
	Code     string         `yaml:"code"`
	Name     string         `yaml:"name"`
	Kind     Kind           `yaml:"kind"`
	URL      string         `yaml:"url"`
	Settings SourceSettings `yaml:"settings"`
	Keywords []string       `yaml:"keywords"` // overrides the global vocabulary
	Filters  []ConfigFilter `yaml:"filters"`

	vocabulary *Vocabulary
	location   *time.Location
}

type SourceSettings struct {
	Disabled          bool       `yaml:"disabled"`
	MaxItems          int        `yaml:"max_items"`
	Timeout           int        `yaml:"timeout"` // seconds
	Currency          string     `yaml:"currency"`
	Country           string     `yaml:"country"`
	Region            string     `yaml:"region"`
	Timezone          string     `yaml:"timezone"` // applied to dates without offset
	TitleLimit        int        `yaml:"title_limit"`
	SummaryLimit      int        `yaml:"summary_limit"`
	ExtractBody       bool       `yaml:"extract_body"`
	PublishedFallback TimePolicy `yaml:"published_fallback"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// Vocabulary returns the source-specific keyword vocabulary, nil when the
// source relies on the global one.
func (s *Source) Vocabulary() *Vocabulary {
	return s.vocabulary
}

// Location is the time zone used for dates that carry no offset.
func (s *Source) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

func (s *Source) Enabled() bool {
	return !s.Settings.Disabled
}
