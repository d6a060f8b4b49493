// Package common defines shared sentinel errors used across the memo
// server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound   = errors.New("not found")
	ErrorRepository = errors.New("repository error")

	// Blob-storage errors.
	ErrorStorage = errors.New("storage error")

	// Request validation errors.
	ErrorValidation = errors.New("validation error")

	// Summary enrichment errors (never surfaced to memo callers).
	ErrorEnrichment = errors.New("enrichment error")

	// Generic internal flow control.
	ErrorInternal = errors.New("internal error")
)
