package cache

// schemaSQL returns the DDL for the three cache tables: one for
// whole-document metadata, one for per-field extraction results keyed
// by fingerprint/schema-version/field, and one for embeddings keyed by
// chunk hash and embedding model.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS document_cache (
	fingerprint TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	char_count INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	fingerprint TEXT NOT NULL REFERENCES document_cache(fingerprint) ON DELETE CASCADE,
	schema_version TEXT NOT NULL,
	field_key TEXT NOT NULL,
	value JSON NOT NULL,
	confidence REAL NOT NULL,
	tier INTEGER NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	producer_version TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (fingerprint, schema_version, field_key)
);

CREATE TABLE IF NOT EXISTS embedding_cache (
	chunk_hash TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chunk_hash, embedding_model)
);

CREATE INDEX IF NOT EXISTS idx_extraction_cache_lookup
	ON extraction_cache(fingerprint, schema_version);
`
