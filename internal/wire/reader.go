package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrZeroSize reports a frame header declaring a zero-length payload.
var ErrZeroSize = errors.New("zero frame size")

// FrameTooBigError reports a frame header exceeding the plane's cap. The
// stream itself is still intact; callers that want to keep the connection
// alive discard Size payload bytes and continue reading.
type FrameTooBigError struct {
	Size uint32
	Max  uint32
}

func (e *FrameTooBigError) Error() string {
	return fmt.Sprintf("frame of %d bytes exceeds limit of %d", e.Size, e.Max)
}

// Reader decodes length-prefixed frames from a byte stream. A frame is a
// 4-byte big-endian size followed by that many payload bytes. File bodies
// are not framed this way; they follow an 8-byte big-endian size and are
// consumed through Body.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, ChunkSize)}
}

// ReadFrame reads one complete frame with payload capped at max bytes.
// Returns ErrZeroSize for a zero header and *FrameTooBigError for an
// oversized one; both leave the stream positioned after the header.
func (r *Reader) ReadFrame(max uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 {
		return nil, ErrZeroSize
	}
	if size > max {
		return nil, &FrameTooBigError{Size: size, Max: max}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Discard skips n payload bytes, resynchronizing the stream after an
// oversized frame was rejected.
func (r *Reader) Discard(n uint32) error {
	_, err := io.CopyN(io.Discard, r.br, int64(n))
	return err
}

// DiscardBody skips n file-body bytes, resynchronizing the stream after a
// declared upload was rejected.
func (r *Reader) DiscardBody(n uint64) error {
	_, err := io.CopyN(io.Discard, r.br, int64(n))
	return err
}

// ReadFileSize reads the 8-byte big-endian size prefix of a file body.
func (r *Reader) ReadFileSize() (uint64, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(hdr[:]), nil
}

// Body returns a reader over the next n raw stream bytes.
func (r *Reader) Body(n uint64) io.Reader {
	return io.LimitReader(r.br, int64(n))
}
