package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
)

// Writer encodes length-prefixed frames onto a byte stream. All writes are
// serialized by an internal mutex so frames from concurrent goroutines
// (responses and fan-out events share one socket) never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame emits one frame: 4-byte big-endian size plus payload, in a
// single underlying write.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrZeroSize
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("payload of %d bytes does not fit a frame header", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}

// WriteJSON marshals v and emits it as one frame.
func (w *Writer) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame payload: %w", err)
	}
	return w.WriteFrame(payload)
}

// StreamFile emits a file body: 8-byte big-endian size followed by exactly
// size bytes copied from src in ChunkSize pieces. The writer lock is held
// for the whole body so concurrent event frames cannot interleave with it.
func (w *Writer) StreamFile(size uint64, src io.Reader) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], size)
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(w.w, io.LimitReader(src, int64(size)), buf)
	if err != nil {
		return err
	}
	if uint64(n) != size {
		return fmt.Errorf("file body truncated: wrote %d of %d bytes", n, size)
	}
	return nil
}
