package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
)

// previewName is the fixed basename of generated thumbnails inside a
// digest directory.
const previewName = "preview.jpeg"

// HashIndex is the slice of the hashes gateway the store depends on.
type HashIndex interface {
	Fetch(ctx context.Context, hash string) (*db.HashEntry, error)
	Add(ctx context.Context, entry *db.HashEntry) error
}

// Store keeps uploaded files under <base>/<hex sha256>/<original name>,
// deduplicating by content digest.
type Store struct {
	baseDir string
	preview PreviewGenerator
	log     zerolog.Logger
}

func NewStore(baseDir string, preview PreviewGenerator, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &Store{baseDir: baseDir, preview: preview, log: log}, nil
}

func (s *Store) BaseDir() string { return s.baseDir }

func (s *Store) digestDir(digest string) string {
	return filepath.Join(s.baseDir, digest)
}

// DownloadFile describes one streamable file body of a download.
type DownloadFile struct {
	Name string
	Size int64
	Path string
}

// Download resolves a digest into the ordered list of file bodies for the
// requested mode: preview first, then the main file.
func (s *Store) Download(ctx context.Context, index HashIndex, digest, mode string) ([]DownloadFile, error) {
	entry, err := index.Fetch(ctx, digest)
	if err != nil {
		return nil, err
	}

	var paths []struct{ name, path string }
	switch mode {
	case ModePreviewOnly:
		if entry.PreviewPath == "" {
			return nil, ErrNoPreview
		}
		paths = append(paths, struct{ name, path string }{previewName, entry.PreviewPath})
	case ModeMediaOnly:
		paths = append(paths, struct{ name, path string }{entry.FileName, entry.FilePath})
	case ModeFull, "": // an omitted mode downloads everything
		if entry.PreviewPath != "" {
			paths = append(paths, struct{ name, path string }{previewName, entry.PreviewPath})
		}
		paths = append(paths, struct{ name, path string }{entry.FileName, entry.FilePath})
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}

	out := make([]DownloadFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p.path)
		if err != nil {
			return nil, fmt.Errorf("stat stored file: %w", err)
		}
		out = append(out, DownloadFile{Name: p.name, Size: info.Size(), Path: p.path})
	}
	return out, nil
}

// Download modes, mirrored from the wire protocol.
const (
	ModePreviewOnly = "preview_only"
	ModeMediaOnly   = "media_only"
	ModeFull        = "full"
)
