package ports

import (
	"context"
	"time"
)

// FetchCache memoises fetched page bodies and resolved media URLs so
// repeated /jl requests skip the scrape. Implementations must be safe for
// concurrent use. A miss is an empty value with a nil error.
type FetchCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
