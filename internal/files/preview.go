package files

import (
	"context"
	"fmt"
	"os/exec"
)

// PreviewGenerator renders a JPEG thumbnail for a committed media file.
// The server core only moves bytes; format-specific work stays behind this
// seam so deployments can swap the implementation.
type PreviewGenerator interface {
	Preview(ctx context.Context, src, dst string, kind MediaKind) error
}

// FFmpeg shells out to an ffmpeg binary for both photo and video
// thumbnails. Videos sample one frame a second in.
type FFmpeg struct {
	Bin string
}

func NewFFmpeg() FFmpeg { return FFmpeg{Bin: "ffmpeg"} }

func (f FFmpeg) Preview(ctx context.Context, src, dst string, kind MediaKind) error {
	args := []string{"-y", "-loglevel", "error"}
	if kind == MediaVideo {
		args = append(args, "-ss", "00:00:01")
	}
	args = append(args, "-i", src, "-frames:v", "1", "-vf", "scale=320:-2", dst)

	cmd := exec.CommandContext(ctx, f.Bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg preview: %w: %s", err, out)
	}
	return nil
}
