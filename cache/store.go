// Package cache implements the Result Cache & Fingerprinter: a
// content-addressed SQLite store of per-field and whole-document
// extraction results, keyed by a normalized-text fingerprint, with
// at-most-one-concurrent-build-per-key semantics.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/brunobiangulo/scireview/model"
)

// ErrCorrupt is returned when a cached value fails to unmarshal.
var ErrCorrupt = errors.New("cache: entry corrupted")

// Store wraps the SQLite-backed extraction cache.
type Store struct {
	db    *sql.DB
	group singleflight.Group
}

// New opens (or creates) a SQLite database at path and applies pending
// migrations.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cache: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("cache: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterDocument upserts the document_cache row for fingerprint. This
// must be called before any extraction_cache row referencing it, since
// extraction_cache has a foreign key against document_cache.
func (s *Store) RegisterDocument(ctx context.Context, fingerprint, filename string, charCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_cache (fingerprint, filename, char_count)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, fingerprint, filename, charCount)
	return err
}

// Get looks up one cached field entry. found is false on a cache miss.
func (s *Store) Get(ctx context.Context, key model.CacheKey) (entry model.CacheEntry, found bool, err error) {
	var valueJSON string
	row := s.db.QueryRowContext(ctx, `
		SELECT value, confidence, tier, tokens, producer_version, created_at
		FROM extraction_cache
		WHERE fingerprint = ? AND schema_version = ? AND field_key = ?
	`, key.Fingerprint, key.SchemaVersion, key.FieldKey)

	if err := row.Scan(&valueJSON, &entry.Confidence, &entry.Tier, &entry.Tokens, &entry.ProducerVersion, &entry.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.CacheEntry{}, false, nil
		}
		return model.CacheEntry{}, false, fmt.Errorf("cache: get: %w", err)
	}

	if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return entry, true, nil
}

// Put writes (or overwrites) one cached field entry. The caller must
// have already registered the document via RegisterDocument.
func (s *Store) Put(ctx context.Context, key model.CacheKey, entry model.CacheEntry) error {
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("cache: marshaling value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_cache (fingerprint, schema_version, field_key, value, confidence, tier, tokens, producer_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint, schema_version, field_key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			tier = excluded.tier,
			tokens = excluded.tokens,
			producer_version = excluded.producer_version,
			created_at = CURRENT_TIMESTAMP
	`, key.Fingerprint, key.SchemaVersion, key.FieldKey, string(valueJSON), entry.Confidence, entry.Tier, entry.Tokens, entry.ProducerVersion)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// GetOrBuild returns the cached entry for key if present; otherwise it
// calls build exactly once even under concurrent callers racing on the
// same key (via singleflight), stores the result, and returns it.
func (s *Store) GetOrBuild(ctx context.Context, key model.CacheKey, build func(ctx context.Context) (model.CacheEntry, error)) (model.CacheEntry, error) {
	if entry, found, err := s.Get(ctx, key); err != nil {
		return model.CacheEntry{}, err
	} else if found {
		return entry, nil
	}

	groupKey := key.Fingerprint + "|" + key.SchemaVersion + "|" + key.FieldKey
	v, err, _ := s.group.Do(groupKey, func() (any, error) {
		// Re-check: another goroutine in this same process may have
		// populated the cache between the first Get and acquiring the
		// singleflight slot.
		if entry, found, err := s.Get(ctx, key); err != nil {
			return model.CacheEntry{}, err
		} else if found {
			return entry, nil
		}

		entry, err := build(ctx)
		if err != nil {
			return model.CacheEntry{}, err
		}
		if err := s.Put(ctx, key, entry); err != nil {
			return model.CacheEntry{}, err
		}
		return entry, nil
	})
	if err != nil {
		return model.CacheEntry{}, err
	}
	return v.(model.CacheEntry), nil
}

// Invalidate removes every cached entry (document row and all its
// per-field extraction rows) for fingerprint.
func (s *Store) Invalidate(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM document_cache WHERE fingerprint = ?", fingerprint)
	return err
}
