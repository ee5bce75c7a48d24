package files

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
)

// fakeIndex is an in-memory hashes gateway.
type fakeIndex struct {
	entries map[string]*db.HashEntry
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]*db.HashEntry)}
}

func (f *fakeIndex) Fetch(_ context.Context, hash string) (*db.HashEntry, error) {
	e, ok := f.entries[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return e, nil
}

func (f *fakeIndex) Add(_ context.Context, entry *db.HashEntry) error {
	f.entries[entry.Hash] = entry
	return nil
}

// stubPreview writes a fixed marker instead of shelling out.
type stubPreview struct {
	fail bool
}

func (s stubPreview) Preview(_ context.Context, _, dst string, _ MediaKind) error {
	if s.fail {
		return errors.New("preview refused")
	}
	return os.WriteFile(dst, []byte("jpeg-preview"), 0o644)
}

func newTestStore(t *testing.T, preview PreviewGenerator) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), preview, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func uploadBytes(t *testing.T, s *Store, index HashIndex, name string, isMedia bool, body []byte) string {
	t.Helper()
	up, err := s.NewUpload(name, isMedia)
	if err != nil {
		t.Fatalf("NewUpload: %v", err)
	}
	if _, err := up.Write(body); err != nil {
		t.Fatalf("Write: %v", err)
	}
	digest, err := up.Finalize(context.Background(), index)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return digest
}

func TestUploadCommitsUnderDigest(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	body := []byte("file contents")

	digest := uploadBytes(t, s, index, "x.bin", false, body)

	sum := sha256.Sum256(body)
	if want := hex.EncodeToString(sum[:]); digest != want {
		t.Errorf("digest: got %s, want %s", digest, want)
	}
	stored, err := os.ReadFile(filepath.Join(s.BaseDir(), digest, "x.bin"))
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	if !bytes.Equal(stored, body) {
		t.Error("stored bytes differ from upload")
	}

	entry, err := index.Fetch(context.Background(), digest)
	if err != nil {
		t.Fatalf("index entry: %v", err)
	}
	if entry.IsMedia || entry.FileName != "x.bin" || entry.PreviewPath != "" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestUploadDeduplicates(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	body := []byte("identical bytes")

	first := uploadBytes(t, s, index, "x.bin", false, body)
	second := uploadBytes(t, s, index, "x.bin", false, body)
	if first != second {
		t.Fatalf("digests differ: %s vs %s", first, second)
	}

	dir, err := os.ReadDir(filepath.Join(s.BaseDir(), first))
	if err != nil {
		t.Fatalf("digest dir: %v", err)
	}
	if len(dir) != 1 {
		t.Errorf("digest dir entries: got %d, want 1", len(dir))
	}

	// No temp residue in the base dir, just the digest directory.
	base, err := os.ReadDir(s.BaseDir())
	if err != nil {
		t.Fatalf("base dir: %v", err)
	}
	if len(base) != 1 {
		t.Errorf("base dir entries: got %d, want 1", len(base))
	}
}

func TestUploadMediaGeneratesPreview(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()

	digest := uploadBytes(t, s, index, "clip.mp4", true, []byte("not really video"))

	entry, err := index.Fetch(context.Background(), digest)
	if err != nil {
		t.Fatalf("index entry: %v", err)
	}
	if entry.PreviewPath == "" {
		t.Fatal("media entry must carry a preview path")
	}
	preview, err := os.ReadFile(entry.PreviewPath)
	if err != nil {
		t.Fatalf("preview file: %v", err)
	}
	if string(preview) != "jpeg-preview" {
		t.Errorf("preview bytes: got %q", preview)
	}
}

func TestUploadRejectsUnknownMediaExtension(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	if _, err := s.NewUpload("document.pdf", true); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("got %v, want ErrUnsupportedMedia", err)
	}
}

func TestUploadPreviewFailureDropsCommit(t *testing.T) {
	s := newTestStore(t, stubPreview{fail: true})
	index := newFakeIndex()

	up, err := s.NewUpload("clip.mp4", true)
	if err != nil {
		t.Fatalf("NewUpload: %v", err)
	}
	if _, err := up.Write([]byte("bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := up.Finalize(context.Background(), index); err == nil {
		t.Fatal("expected preview failure to fail the upload")
	}

	base, err := os.ReadDir(s.BaseDir())
	if err != nil {
		t.Fatalf("base dir: %v", err)
	}
	if len(base) != 0 {
		t.Errorf("base dir entries after failed upload: got %d, want 0", len(base))
	}
	if len(index.entries) != 0 {
		t.Errorf("index entries after failed upload: got %d, want 0", len(index.entries))
	}
}

func TestAbortRemovesTempFile(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	up, err := s.NewUpload("x.bin", false)
	if err != nil {
		t.Fatalf("NewUpload: %v", err)
	}
	if _, err := up.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	up.Abort()

	base, err := os.ReadDir(s.BaseDir())
	if err != nil {
		t.Fatalf("base dir: %v", err)
	}
	if len(base) != 0 {
		t.Errorf("base dir entries after abort: got %d, want 0", len(base))
	}
}

func TestUploadStripsPathComponents(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()

	digest := uploadBytes(t, s, index, "../../evil.bin", false, []byte("payload"))
	if _, err := os.Stat(filepath.Join(s.BaseDir(), digest, "evil.bin")); err != nil {
		t.Fatalf("sanitized file missing: %v", err)
	}
}

func TestUploadRejectsPreviewName(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	if _, err := s.NewUpload("preview.jpeg", false); !errors.Is(err, ErrInvalidFileName) {
		t.Fatalf("got %v, want ErrInvalidFileName", err)
	}
}

// ---------------------------------------------------------------------------
// Download
// ---------------------------------------------------------------------------

func TestDownloadFull(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	digest := uploadBytes(t, s, index, "clip.mp4", true, []byte("0123456789"))

	got, err := s.Download(context.Background(), index, digest, ModeFull)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("files: got %d, want 2", len(got))
	}
	if got[0].Name != "preview.jpeg" {
		t.Errorf("first file: got %q, want preview", got[0].Name)
	}
	if got[1].Name != "clip.mp4" || got[1].Size != 10 {
		t.Errorf("second file: got %q size %d, want clip.mp4 size 10", got[1].Name, got[1].Size)
	}
}

func TestDownloadPreviewOnly(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	digest := uploadBytes(t, s, index, "clip.mp4", true, []byte("0123456789"))

	got, err := s.Download(context.Background(), index, digest, ModePreviewOnly)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 1 || got[0].Name != "preview.jpeg" {
		t.Fatalf("got %+v, want only the preview", got)
	}
}

func TestDownloadMediaOnly(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	digest := uploadBytes(t, s, index, "clip.mp4", true, []byte("0123456789"))

	got, err := s.Download(context.Background(), index, digest, ModeMediaOnly)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 1 || got[0].Name != "clip.mp4" {
		t.Fatalf("got %+v, want only the main file", got)
	}
}

func TestDownloadPreviewOnlyWithoutPreview(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	digest := uploadBytes(t, s, index, "x.bin", false, []byte("plain"))

	if _, err := s.Download(context.Background(), index, digest, ModePreviewOnly); !errors.Is(err, ErrNoPreview) {
		t.Fatalf("got %v, want ErrNoPreview", err)
	}
}

func TestDownloadUnknownHash(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()

	if _, err := s.Download(context.Background(), index, "deadbeef", ModeFull); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("got %v, want db.ErrNotFound", err)
	}
}

func TestDownloadOmittedModeMeansFull(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	digest := uploadBytes(t, s, index, "clip.mp4", true, []byte("0123456789"))

	got, err := s.Download(context.Background(), index, digest, "")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 2 || got[0].Name != "preview.jpeg" || got[1].Name != "clip.mp4" {
		t.Fatalf("got %+v, want preview then main file", got)
	}
}

func TestDownloadUnknownMode(t *testing.T) {
	s := newTestStore(t, stubPreview{})
	index := newFakeIndex()
	digest := uploadBytes(t, s, index, "x.bin", false, []byte("plain"))

	if _, err := s.Download(context.Background(), index, digest, "sideways"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
