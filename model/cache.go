package model

import "time"

// CacheKey identifies one cache entry: a fingerprint/schema-version pair,
// plus either a field key or the literal "whole-document" sentinel.
type CacheKey struct {
	Fingerprint   string
	SchemaVersion string
	FieldKey      string // "" or "whole-document" for the document-level entry
}

// WholeDocumentKey is the CacheKey.FieldKey sentinel for a document-level
// (as opposed to per-field) cache entry.
const WholeDocumentKey = "whole-document"

// CacheEntry is one cached extraction value.
type CacheEntry struct {
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Tier       int       `json:"tier"`
	Tokens     int       `json:"tokens"`
	CreatedAt  time.Time `json:"created_at"`
	ProducerVersion string `json:"producer_version"`
}
