// Package memos provides the PostgreSQL-backed repository for memo
// records: point reads/writes, cursor-paginated listing, ranked
// full-text search, and the enrichment patch.
package memos

import (
	"context"

	"github.com/hi-space/next-memo/internal/server/models"
)

// DefaultPageSize bounds List results when the caller does not say otherwise.
const DefaultPageSize = 10

// Filter is the structured predicate applied by List and Search.
type Filter struct {
	// Priority, when non-nil, matches memos with exactly this priority.
	Priority *int
	// Prefix, when non-empty, matches memos with exactly this prefix label.
	Prefix string
	// SearchTerm, when non-empty, matches memos whose title, content,
	// summary or tags contain the term (List only; Search uses its own
	// ranked query instead).
	SearchTerm string
}

type Repository interface {
	// Get returns the memo with the given id, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.Memo, error)

	// Put fully upserts the record (create or replace).
	Put(ctx context.Context, memo *models.Memo) error

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns a page of memos ordered newest-updated-first. cursor
	// is the opaque token returned by the previous call; "" starts from
	// the newest record. The returned cursor is "" when no further pages
	// exist.
	List(ctx context.Context, f Filter, cursor string, pageSize int) ([]*models.Memo, string, error)

	// UpdateEnrichment patches summary/tags (and title, only when the
	// memo has none) without touching updated_at.
	UpdateEnrichment(ctx context.Context, id, title, summary string, tags []string) error

	// Search runs a ranked full-text query over title/content/summary/
	// tags, applying the filter's priority/prefix equality terms.
	Search(ctx context.Context, query string, f Filter, size int) ([]*models.Memo, int, error)
}
