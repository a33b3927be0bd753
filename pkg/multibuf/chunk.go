package multibuf

import "fmt"

// Chunk is a contiguous run of bytes tagged with its absolute offset in the
// logical stream. The payload is owned by the chunk.
type Chunk struct {
	// Start is the absolute offset of the first payload byte.
	Start int64
	// UsedBytes counts the bytes from Start already consumed by the parser.
	UsedBytes int64

	data []byte
}

// NewChunk creates a chunk starting at start. The payload is copied so the
// caller may reuse data afterwards.
func NewChunk(start int64, data []byte) *Chunk {
	payload := make([]byte, len(data))
	copy(payload, data)
	return &Chunk{Start: start, data: payload}
}

// Len returns the payload length.
func (c *Chunk) Len() int64 {
	return int64(len(c.data))
}

// End returns the absolute offset just past the last payload byte.
func (c *Chunk) End() int64 {
	return c.Start + int64(len(c.data))
}

// Bytes returns the payload. It must not be modified.
func (c *Chunk) Bytes() []byte {
	return c.data
}

// Remaining returns the number of payload bytes not yet marked as used.
func (c *Chunk) Remaining() int64 {
	return c.Len() - c.UsedBytes
}

// FullyUsed reports whether every byte of the chunk has been consumed.
func (c *Chunk) FullyUsed() bool {
	return c.UsedBytes == c.Len()
}

// Contains reports whether pos lies in [Start, End).
func (c *Chunk) Contains(pos int64) bool {
	return pos >= c.Start && pos < c.End()
}

// Trim returns a new chunk holding length bytes of c starting at offset.
// The bytes are copied, so the result does not keep the rest of c alive.
// Like a slice expression, Trim panics when the range is out of bounds.
func (c *Chunk) Trim(offset, length int64) *Chunk {
	if offset < 0 || length < 0 || offset+length > c.Len() {
		panic(fmt.Sprintf("multibuf: trim [%d:%d] out of range for chunk of length %d", offset, offset+length, c.Len()))
	}
	payload := make([]byte, length)
	copy(payload, c.data[offset:offset+length])
	return &Chunk{Start: c.Start + offset, data: payload}
}

// String implements fmt.Stringer.
func (c *Chunk) String() string {
	return fmt.Sprintf("[%d-%d) used %d/%d", c.Start, c.End(), c.UsedBytes, c.Len())
}

// concat joins b after a. The used byte count of b is discarded: only a
// contiguous prefix from a's start can have been consumed.
func concat(a, b *Chunk) *Chunk {
	payload := make([]byte, 0, len(a.data)+len(b.data))
	payload = append(payload, a.data...)
	payload = append(payload, b.data...)
	return &Chunk{Start: a.Start, UsedBytes: a.UsedBytes, data: payload}
}
