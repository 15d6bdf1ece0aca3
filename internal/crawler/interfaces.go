package crawler

import (
	"context"
	"time"
)

// PageFetcher navigates to a URL and blocks until readySelector is present.
// Failures wrap ErrNavigationTimeout or ErrNavigationError. No retries.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, readySelector string) (*Document, error)
}

// Session is the single navigation resource a crawl owns for its lifetime.
type Session interface {
	PageFetcher
	Close() error
}

// SessionOpener acquires a Session.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// RecordExtractor maps a listing document to records in document order.
// Per-field misses and per-candidate failures never escape.
type RecordExtractor interface {
	Extract(doc *Document) []ListingRecord
}

// DetailEnricher fetches a detail page with fetcher and extracts its data.
type DetailEnricher interface {
	Enrich(ctx context.Context, fetcher PageFetcher, detailURL string) (Detail, error)
}

// Sink persists the final ordered records and returns a location URI.
type Sink interface {
	Write(ctx context.Context, batch Batch) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// Delayer blocks for a politeness delay and returns how long it waited.
type Delayer interface {
	Wait(ctx context.Context) time.Duration
}

// Observer receives crawl progress for metrics.
type Observer interface {
	PageFetched(records int)
	PageFailed(err error)
	DetailEnriched()
	DetailFailed(err error)
	Throttled(phase string, d time.Duration)
}

// FetchObserver receives fetcher-level events that do not surface as errors.
type FetchObserver interface {
	RobotsFallback(host, reason string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
