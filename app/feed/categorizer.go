package feed

import (
	"fmt"
	"slices"
)

// Categorizer assigns category names to records by keyword vocabulary.
type Categorizer struct {
	names        []string
	vocabularies map[string]*Vocabulary
}

func NewCategorizer(categories map[string][]string) (*Categorizer, error) {
	c := &Categorizer{vocabularies: make(map[string]*Vocabulary, len(categories))}

	for name, patterns := range categories {
		vocabulary, err := NewVocabulary(patterns)
		if err != nil {
			return nil, fmt.Errorf("invalid category %s: %w", name, err)
		}
		c.names = append(c.names, name)
		c.vocabularies[name] = vocabulary
	}
	slices.Sort(c.names)

	return c, nil
}

// Names returns the category names in sorted order.
func (c *Categorizer) Names() []string {
	if c == nil {
		return nil
	}
	return c.names
}

// Match returns the categories whose vocabulary occurs in title or summary.
func (c *Categorizer) Match(title, summary string) []string {
	if c == nil {
		return nil
	}

	var matched []string
	text := title + "\n" + summary
	for _, name := range c.names {
		if c.vocabularies[name].Match(text) {
			matched = append(matched, name)
		}
	}
	return matched
}
