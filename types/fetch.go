package types

import (
	"context"
)

// Response is the raw answer of one upstream call.
type Response struct {
	Status int
	Body   []byte
}

// Fetcher performs one GET round trip. Implementations own timeouts and retries,
// and report failures as typed errors.
type Fetcher interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// TokenProvider hands out a valid bearer token, refreshing it transparently.
// It must be safe for concurrent use.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
