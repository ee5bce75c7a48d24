package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// HashEntry is one content-addressed file record. Immutable once inserted.
type HashEntry struct {
	Hash        string
	IsMedia     bool
	FileName    string
	FilePath    string
	PreviewPath string
}

// Hashes gates the hash-addressed file index.
type Hashes struct {
	cql *gocql.Session
}

func (h *Hashes) Exists(ctx context.Context, hash string) (bool, error) {
	var got string
	err := h.cql.Query(`SELECT hash FROM hashes WHERE hash = ?`, hash).
		WithContext(ctx).Scan(&got)
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check hash: %w", err)
	}
	return true, nil
}

func (h *Hashes) Fetch(ctx context.Context, hash string) (*HashEntry, error) {
	entry := &HashEntry{}
	err := h.cql.Query(
		`SELECT hash, is_media, file_name, file_path, preview_path FROM hashes WHERE hash = ?`,
		hash,
	).WithContext(ctx).
		Scan(&entry.Hash, &entry.IsMedia, &entry.FileName, &entry.FilePath, &entry.PreviewPath)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch hash: %w", err)
	}
	return entry, nil
}

// Add records the entry. Re-inserting the same hash only rewrites identical
// values, so duplicate uploads stay idempotent.
func (h *Hashes) Add(ctx context.Context, entry *HashEntry) error {
	err := h.cql.Query(
		`INSERT INTO hashes (hash, is_media, file_name, file_path, preview_path) VALUES (?, ?, ?, ?, ?)`,
		entry.Hash, entry.IsMedia, entry.FileName, entry.FilePath, entry.PreviewPath,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert hash: %w", err)
	}
	return nil
}
