package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"github.com/Um11aut/PPgram-api-sub000/internal/db"
	"github.com/Um11aut/PPgram-api-sub000/internal/files"
	"github.com/Um11aut/PPgram-api-sub000/internal/metrics"
	"github.com/Um11aut/PPgram-api-sub000/internal/protocol"
	"github.com/Um11aut/PPgram-api-sub000/internal/wire"
)

// terminalError marks a failure after which the byte stream can no longer
// be trusted to sit on a frame boundary. The loop emits the wrapped
// protocol error, if any, and closes the connection.
type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

func terminal(err error) error { return terminalError{err: err} }

// serveFilePlane runs the upload/download loop. Connections on the file
// listener start here directly and stay anonymous: knowing a content hash
// is the whole authorization. Control connections arrive via bind.
func (c *client) serveFilePlane(ctx context.Context) {
	for {
		meta, err := c.r.ReadFrame(wire.MaxControlFrame)
		if err != nil {
			var tooBig *wire.FrameTooBigError
			switch {
			case errors.Is(err, wire.ErrZeroSize):
				c.sendError(protocol.MethodFileOperation, protocol.ErrZeroFrame)
				continue
			case errors.As(err, &tooBig):
				c.sendError(protocol.MethodFileOperation, protocol.ErrFrameTooBig)
				if derr := c.r.Discard(tooBig.Size); derr != nil {
					return
				}
				continue
			default:
				return
			}
		}
		c.metrics.FramesTotal.WithLabelValues(metrics.PlaneFile).Inc()

		if !utf8.Valid(meta) {
			c.sendError(protocol.MethodFileOperation, protocol.ErrInvalidUTF8)
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(meta, &env); err != nil {
			c.sendError(protocol.MethodFileOperation, protocol.ErrBadRequest)
			continue
		}

		switch env.Method {
		case protocol.MethodUploadFile:
			err = c.handleUpload(ctx, meta)
		case protocol.MethodDownloadFile:
			err = c.handleDownload(ctx, meta)
		default:
			err = protocol.ErrUnknownMethod
		}
		if err == nil {
			continue
		}
		var term terminalError
		if errors.As(err, &term) {
			var perr *protocol.Error
			if errors.As(term.err, &perr) {
				c.sendError(protocol.MethodFileOperation, perr)
			} else {
				c.log.Debug().Err(term.err).Msg("file plane stream failed")
			}
			return
		}
		c.fail(protocol.MethodFileOperation, err)
	}
}

// handleUpload consumes one composite upload: the already-read metadata
// frame, then a size-prefixed body. Name and media-type rejections discard
// the declared body and keep the connection; mid-body failures are terminal
// because the peer streams the body without waiting for an acknowledgement.
func (c *client) handleUpload(ctx context.Context, meta []byte) error {
	var req protocol.UploadFileRequest
	if err := json.Unmarshal(meta, &req); err != nil {
		return terminal(protocol.ErrBadRequest)
	}
	up, err := c.store.NewUpload(req.Name, req.IsMedia)
	if err != nil {
		switch {
		case errors.Is(err, files.ErrUnsupportedMedia):
			return c.rejectUploadBody(protocol.ErrMediaUnsupported)
		case errors.Is(err, files.ErrInvalidFileName):
			return c.rejectUploadBody(protocol.ErrBadRequest)
		default:
			return terminal(err)
		}
	}

	size, err := c.r.ReadFileSize()
	if err != nil {
		up.Abort()
		return terminal(err)
	}
	if size == 0 {
		// nothing follows a zero size, the stream is still aligned
		up.Abort()
		return protocol.ErrZeroFrame
	}
	if size > wire.MaxFileSize {
		up.Abort()
		return terminal(protocol.ErrFrameTooBig)
	}

	buf := make([]byte, wire.ChunkSize)
	if _, err := io.CopyBuffer(up, c.r.Body(size), buf); err != nil {
		up.Abort()
		return terminal(err)
	}
	if up.Written() != size {
		up.Abort()
		return terminal(io.ErrUnexpectedEOF)
	}

	digest, err := up.Finalize(ctx, c.stores.Hashes())
	if err != nil {
		// the body was consumed in full, so the next frame is readable
		up.Abort()
		return err
	}
	c.metrics.UploadsTotal.Inc()
	c.log.Info().Str("hash", digest).Uint64("size", size).Str("name", req.Name).Msg("file uploaded")
	c.send(protocol.UploadFileResponse{Ack: protocol.AckOf(protocol.MethodUploadFile), SHA256Hash: digest})
	return nil
}

// rejectUploadBody drains the declared body of a rejected upload so the
// stream lands on the next metadata frame, then surfaces perr as the
// error frame for this operation.
func (c *client) rejectUploadBody(perr *protocol.Error) error {
	size, err := c.r.ReadFileSize()
	if err != nil {
		return terminal(err)
	}
	if size > wire.MaxFileSize {
		return terminal(perr)
	}
	if size > 0 {
		if err := c.r.DiscardBody(size); err != nil {
			return terminal(err)
		}
	}
	return perr
}

// handleDownload answers with one metadata frame listing the bodies that
// follow, then streams each body. preview_only and full put the preview
// first.
func (c *client) handleDownload(ctx context.Context, meta []byte) error {
	var req protocol.DownloadFileRequest
	if err := json.Unmarshal(meta, &req); err != nil {
		return protocol.ErrBadRequest
	}
	if req.SHA256Hash == "" {
		return protocol.ErrBadRequest
	}

	dl, err := c.store.Download(ctx, c.stores.Hashes(), req.SHA256Hash, req.Mode)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return protocol.ErrHashNotFound
		case errors.Is(err, files.ErrNoPreview):
			return protocol.ErrPreviewNotFound
		case errors.Is(err, files.ErrUnknownMode):
			return protocol.ErrBadRequest
		default:
			return err
		}
	}

	metas := make([]protocol.FileMetadata, 0, len(dl))
	for _, f := range dl {
		metas = append(metas, protocol.FileMetadata{FileName: f.Name, FileSize: f.Size})
	}
	resp := protocol.DownloadFileResponse{Ack: protocol.AckOf(protocol.MethodDownloadFile), Metadatas: metas}
	if err := c.w.WriteJSON(resp); err != nil {
		return terminal(err)
	}
	for _, f := range dl {
		if err := c.streamStoredFile(f); err != nil {
			// the metadata frame already promised this body
			return terminal(err)
		}
	}
	c.metrics.DownloadsTotal.Inc()
	c.log.Debug().Str("hash", req.SHA256Hash).Str("mode", req.Mode).Int("files", len(dl)).Msg("file downloaded")
	return nil
}

func (c *client) streamStoredFile(f files.DownloadFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()
	return c.w.StreamFile(uint64(f.Size), src)
}
