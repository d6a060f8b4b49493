// Package blob wraps object storage behind a small gateway interface:
// put/get/delete plus the two read-time URL strategies (presigned or
// canonical/CDN).
package blob

import (
	"context"
	"time"
)

// Gateway is the blob-store contract used by the memo services.
//
// Stored memo records keep only canonical URLs (ObjectURL); presigned
// URLs are derived at read time and never persisted.
type Gateway interface {
	// Put stores an object, overwriting any object at the same key.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object bytes and content type.
	Get(ctx context.Context, key string) ([]byte, string, error)

	// Delete removes the object. Deleting a non-existent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// PresignGet produces a time-bounded retrieval URL for private
	// buckets.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// ObjectURL returns the permanent canonical URL for a key.
	ObjectURL(key string) string

	// KeyFromURL derives the storage key back out of a canonical URL.
	KeyFromURL(rawURL string) (string, error)
}
