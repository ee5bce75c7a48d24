package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
)

// Upload accumulates one file into an exclusive temp path while hashing the
// bytes incrementally. Finalize commits it under its digest; Abort discards
// it. Exactly one of the two must be called.
type Upload struct {
	store   *Store
	name    string
	isMedia bool
	kind    MediaKind

	tmpPath string
	f       *os.File
	hasher  hash.Hash
	written uint64
}

// NewUpload opens the temp file. Media names are classified up front so an
// unsupported extension fails before any bytes are consumed.
func (s *Store) NewUpload(name string, isMedia bool) (*Upload, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	kind := MediaNone
	if isMedia {
		kind, err = DetectMediaKind(clean)
		if err != nil {
			return nil, err
		}
	}

	tmpPath := filepath.Join(s.baseDir, ".upload-"+uuid.NewString())
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload temp file: %w", err)
	}
	return &Upload{
		store:   s,
		name:    clean,
		isMedia: isMedia,
		kind:    kind,
		tmpPath: tmpPath,
		f:       f,
		hasher:  sha256.New(),
	}, nil
}

// Write appends a chunk to the temp file and the digest.
func (u *Upload) Write(p []byte) (int, error) {
	n, err := u.f.Write(p)
	u.hasher.Write(p[:n])
	u.written += uint64(n)
	if err != nil {
		return n, fmt.Errorf("write upload chunk: %w", err)
	}
	return n, nil
}

// Written reports the bytes accepted so far.
func (u *Upload) Written() uint64 { return u.written }

// Abort removes the temp file. Safe after a failed Finalize.
func (u *Upload) Abort() {
	if u.f != nil {
		u.f.Close()
		u.f = nil
	}
	if u.tmpPath != "" {
		os.Remove(u.tmpPath)
		u.tmpPath = ""
	}
}

// Finalize computes the digest and commits the upload. Content already
// known to the index deduplicates: the temp file is dropped and the stored
// entry stands. Fresh content is renamed into <base>/<digest>/<name>, gets
// a preview when it is media, and is registered in the index.
func (u *Upload) Finalize(ctx context.Context, index HashIndex) (string, error) {
	if err := u.f.Close(); err != nil {
		u.Abort()
		return "", fmt.Errorf("close upload temp file: %w", err)
	}
	u.f = nil
	digest := hex.EncodeToString(u.hasher.Sum(nil))

	if _, err := index.Fetch(ctx, digest); err == nil {
		u.store.log.Debug().Str("hash", digest).Str("name", u.name).Msg("deduplicated upload")
		u.Abort()
		return digest, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		u.Abort()
		return "", err
	}

	dir := u.store.digestDir(digest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		u.Abort()
		return "", fmt.Errorf("create digest directory: %w", err)
	}
	finalPath := filepath.Join(dir, u.name)
	if err := os.Rename(u.tmpPath, finalPath); err != nil {
		u.Abort()
		return "", fmt.Errorf("commit upload: %w", err)
	}
	u.tmpPath = ""

	entry := &db.HashEntry{
		Hash:     digest,
		IsMedia:  u.isMedia,
		FileName: u.name,
		FilePath: finalPath,
	}
	if u.isMedia {
		previewPath := filepath.Join(dir, previewName)
		if err := u.store.preview.Preview(ctx, finalPath, previewPath, u.kind); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("generate preview: %w", err)
		}
		entry.PreviewPath = previewPath
	}
	if err := index.Add(ctx, entry); err != nil {
		return "", err
	}
	u.store.log.Debug().Str("hash", digest).Str("name", u.name).Uint64("size", u.written).Msg("stored upload")
	return digest, nil
}
