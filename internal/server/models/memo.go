// Package models defines the data model persisted by the memo server.
package models

import "time"

// Priority bounds for a memo. The UI renders these as colored badges;
// the server only validates the range and uses the value for filtering.
const (
	PriorityMin     = 1
	PriorityMax     = 5
	PriorityDefault = 3
)

// AttachmentRef describes one stored file associated with a memo.
type AttachmentRef struct {
	// FileName is the original uploaded file name. It is used both for
	// display and for matching in-content references.
	FileName string `json:"fileName"`
	// FileUrl is the canonical, storage-key-derived URL. Signed or CDN
	// URLs are derived at read time and never stored.
	FileUrl string `json:"fileUrl"`
	// FileType is the MIME type as supplied by the uploader.
	FileType string `json:"fileType"`
}

// Memo is the central entity: a markdown note with optional attachments
// and optional AI-derived summary metadata.
type Memo struct {
	// ID is assigned at creation and immutable afterwards.
	ID string `json:"id"`

	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	// Prefix is a short decorative label (typically a single emoji).
	Prefix   string `json:"prefix,omitempty"`
	Priority int    `json:"priority"`

	// Files holds attachment metadata in insertion order.
	Files []AttachmentRef `json:"files"`
	// FileCount is a cached count; it must always equal len(Files).
	FileCount int `json:"fileCount"`

	// Summary and Tags are written out-of-band by the enrichment step
	// and are absent until generated.
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	// CreatedAt never changes after creation; UpdatedAt moves on every
	// create/update (but not on enrichment patches).
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
