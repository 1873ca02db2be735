package archive

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TaskQueue hands fetch tasks to workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task FetchTask) error
	Dequeue(ctx context.Context) (FetchTask, error)
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// FetchPolicy admits or rejects a URL before any request is made.
type FetchPolicy interface {
	AllowFetch(url string) error
}

// Hasher computes digests used to disambiguate local file names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
