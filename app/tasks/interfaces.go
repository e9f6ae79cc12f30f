package tasks

import (
	"context"

	"github.com/lysyi3m/tender-comb/app/feed"
)

// SourceResolver obtains validated feed bytes for a source.
// Implemented by *feed.Resolver.
type SourceResolver interface {
	Resolve(ctx context.Context, source *feed.Source) ([]byte, error)
}

// BodyExtractor fetches the readable text of a record's landing page.
// Implemented by *feed.ContentExtractor.
type BodyExtractor interface {
	Extract(ctx context.Context, link string) (string, error)
}

// FeedInvalidator drops derived data of a source once new records landed.
// Implemented by *cache.FeedCache.
type FeedInvalidator interface {
	Invalidate(ctx context.Context, sourceCode string) error
}
