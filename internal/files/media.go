package files

import (
	"errors"
	"path/filepath"
	"strings"
)

// MediaKind classifies an upload by filename extension.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaVideo
)

var (
	ErrUnsupportedMedia = errors.New("media type not supported")
	ErrInvalidFileName  = errors.New("invalid file name")
	ErrNoPreview        = errors.New("no preview for hash")
	ErrUnknownMode      = errors.New("unknown download mode")
)

// DetectMediaKind maps the extension onto photo or video.
func DetectMediaKind(name string) (MediaKind, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "mp4", "mov", "webm", "flv":
		return MediaVideo, nil
	case "jpeg", "jpg", "png", "heic":
		return MediaPhoto, nil
	default:
		return MediaNone, ErrUnsupportedMedia
	}
}

// sanitizeName strips any path components a client smuggles into the file
// name; stored files always sit directly under their digest directory.
func sanitizeName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", ErrInvalidFileName
	}
	if name == previewName {
		return "", ErrInvalidFileName
	}
	return name, nil
}
