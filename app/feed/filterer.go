package feed

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultKeywords is the technology procurement vocabulary used when no
// keywords file is configured.
var DefaultKeywords = []string{
	"inteligencia artificial", "ai", "machine learning", "deep learning",
	"datos", "data", "big data", "anal[ií]tica", "visualizaci[oó]n",
	"cloud", "nube", "aws", "azure", "gcp", "kubernetes", "devops",
	"software", "desarrollo", "ux", "ui", "diseño", "ciberseguridad",
	"seguridad inform[aá]tica", "iot", "realidad (virtual|aumentada)",
	"blockchain", "gemelos digitales", "5g", "hpc", "supercomputaci[oó]n",
	"plataforma digital", "data lake", "data mesh",
}

// Vocabulary is a compiled, accent-insensitive keyword matcher.
type Vocabulary struct {
	pattern *regexp.Regexp
	size    int
}

// NewVocabulary compiles patterns into one case-insensitive, word-bounded
// alternation. Patterns may use regexp alternation and character classes.
func NewVocabulary(patterns []string) (*Vocabulary, error) {
	parts := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		folded := FoldAccents(p)
		if _, err := regexp.Compile(folded); err != nil {
			return nil, fmt.Errorf("invalid keyword pattern %q: %w", p, err)
		}
		parts = append(parts, "(?:"+folded+")")
	}

	if len(parts) == 0 {
		return &Vocabulary{}, nil
	}

	pattern, err := regexp.Compile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile vocabulary: %w", err)
	}

	return &Vocabulary{pattern: pattern, size: len(parts)}, nil
}

func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return v.size
}

// Match reports whether any keyword occurs in text.
func (v *Vocabulary) Match(text string) bool {
	return v.Find(text) != ""
}

// Find returns the first keyword occurrence in the folded text.
func (v *Vocabulary) Find(text string) string {
	if v == nil || v.pattern == nil {
		return ""
	}
	return v.pattern.FindString(FoldAccents(text))
}

// FoldAccents strips combining marks so "analítica" and "analitica" compare equal.
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

type Filterer struct {
	vocabulary *Vocabulary
	strict     bool
}

func NewFilterer(vocabulary *Vocabulary, strict bool) *Filterer {
	return &Filterer{
		vocabulary: vocabulary,
		strict:     strict,
	}
}

func (f *Filterer) Strict() bool {
	return f.strict
}

// IsRelevant matches the global vocabulary against title and summary.
// With strict filtering off every candidate is relevant.
func (f *Filterer) IsRelevant(title, summary string) bool {
	if !f.strict {
		return true
	}
	return f.vocabulary.Match(title + "\n" + summary)
}

// Run keeps the relevant candidates of a source, preserving order. In strict
// mode the source vocabulary (or the global one) and the source field filters
// apply; otherwise candidates pass through unchanged.
func (f *Filterer) Run(candidates []Candidate, source *Source) []Candidate {
	if !f.strict {
		return candidates
	}

	vocabulary := f.vocabulary
	if source != nil && source.Vocabulary() != nil {
		vocabulary = source.Vocabulary()
	}

	kept := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if !vocabulary.Match(candidate.Title + "\n" + candidate.Summary) {
			slog.Debug("Candidate filtered", "title", truncateRunes(candidate.Title, 80), "reason", "no keyword match")
			continue
		}

		if source != nil {
			if isFiltered, reason := f.applyFilters(candidate, source.Filters); isFiltered {
				slog.Debug("Candidate filtered", "title", truncateRunes(candidate.Title, 80), "reason", reason)
				continue
			}
		}

		kept = append(kept, candidate)
	}

	return kept
}

func (f *Filterer) applyFilters(candidate Candidate, filters []ConfigFilter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(candidate, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(FoldAccents(value)), strings.ToLower(FoldAccents(pattern)))
}

func (f *Filterer) getFieldValue(candidate Candidate, field string) string {
	switch field {
	case "title":
		return candidate.Title
	case "summary":
		return candidate.Summary
	case "link":
		return candidate.Link
	default:
		return ""
	}
}
