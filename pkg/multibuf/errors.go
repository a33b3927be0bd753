package multibuf

import "errors"

var (
	// ErrPositionNotBuffered is returned when a position lies in a gap or
	// beyond all buffered data. Callers should wait for more chunks.
	ErrPositionNotBuffered = errors.New("position not buffered")

	// ErrNoData is returned by Cursor.Init when no chunk has been inserted yet.
	ErrNoData = errors.New("no buffered data")

	// ErrMisalignedStream is returned by Cursor.Init when the first buffered
	// chunk does not start at offset 0.
	ErrMisalignedStream = errors.New("first chunk does not start at offset 0")

	// ErrInvalidChunk is returned by Registry.Insert for chunks with a
	// negative start or an empty payload.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvariantViolation reports a chunk list that is no longer sorted and
	// non-overlapping. Parsing cannot safely continue once this is seen.
	ErrInvariantViolation = errors.New("chunk list invariant violated")

	// ErrNotInitialized is returned by cursor operations that need an anchored cursor.
	ErrNotInitialized = errors.New("cursor not initialized")
)
