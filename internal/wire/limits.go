package wire

// Frame limits for the two protocol planes.
const (
	// MaxControlFrame caps JSON frames. Anything larger is a client bug
	// or an attack; the reader reports it and the stream can be resynced
	// by discarding the declared payload.
	MaxControlFrame uint32 = 4096

	// MaxFileSize caps a single declared file body (64 GiB).
	MaxFileSize uint64 = 64 << 30

	// ChunkSize is the allocation unit for streaming file bodies.
	ChunkSize = 64 << 10
)
