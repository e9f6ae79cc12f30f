package feed

import "strings"

// NormalizeCandidate turns a candidate into a Record using the source's
// defaults, limits and date policy. Body is left for the caller to fill.
func NormalizeCandidate(source *Source, c Candidate) Record {
	s := source.Settings

	title := truncateRunes(collapseWhitespace(c.Title), s.TitleLimit)
	summary := truncateRunes(collapseWhitespace(c.Summary), s.SummaryLimit)
	link := strings.TrimSpace(c.Link)

	record := Record{
		SourceCode:  source.Code,
		ExternalID:  DeriveID(link, title, summary),
		Title:       title,
		URL:         link,
		Status:      StatusOpen,
		Currency:    s.Currency,
		Country:     s.Country,
		PublishedAt: NormalizeTime(c.PublishedRaw, source.Location(), s.PublishedFallback),
	}

	if summary != "" {
		record.Summary = &summary
	}
	if region := strings.TrimSpace(s.Region); region != "" {
		record.Region = &region
	}

	return record
}
