package multibuf

import (
	"fmt"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
)

// Cursor is the sequential read position over a Registry: an active chunk
// and an offset into it. It holds no payload of its own.
//
// After the registry's list is mutated the cursor must be re-anchored with
// Sync, which Buffer does automatically.
type Cursor struct {
	reg *Registry

	initialized bool
	// index is the active chunk's list position, -1 while detached
	index  int
	chunk  *Chunk
	offset int64
}

// NewCursor creates an uninitialized cursor over reg.
func NewCursor(reg *Registry) *Cursor {
	return &Cursor{reg: reg, index: -1}
}

// Init anchors the cursor to the chunk starting at offset 0. It returns nil
// once the cursor is anchored, ErrNoData when nothing is buffered and
// ErrMisalignedStream when the first chunk starts later. Both errors mean the
// caller should wait for more data.
func (c *Cursor) Init() error {
	if c.initialized {
		return nil
	}
	if c.reg.Len() == 0 {
		c.reg.logger.Warn("No chunk to start parsing from")
		c.reg.Report()
		return ErrNoData
	}
	first := c.reg.At(0)
	if first.Start != 0 {
		c.reg.logger.Warn("The first chunk should start at offset 0", "start", first.Start)
		c.reg.emit(EventMisaligned, 0, first)
		c.reg.Report()
		return fmt.Errorf("%w: first chunk starts at %d", ErrMisalignedStream, first.Start)
	}
	c.initialized = true
	c.attach(0, 0)
	c.reg.logger.Debug("Stream ready for parsing")
	return nil
}

// Initialized reports whether Init has succeeded.
func (c *Cursor) Initialized() bool {
	return c.initialized
}

// Attached reports whether the cursor currently points into a chunk of the
// list. A cursor whose chunk was reclaimed stays detached until the next
// successful Reposition.
func (c *Cursor) Attached() bool {
	return c.index >= 0
}

// Index returns the active chunk's position in the list, or -1.
func (c *Cursor) Index() int {
	return c.index
}

// Chunk returns the active chunk, or nil.
func (c *Cursor) Chunk() *Chunk {
	if c.index < 0 {
		return nil
	}
	return c.chunk
}

func (c *Cursor) attach(index int, offset int64) {
	c.index = index
	c.chunk = c.reg.chunks[index]
	c.offset = offset
}

// Locate finds the chunk holding the absolute position target. The scan
// starts at the first chunk when fromStart is set and at the active chunk
// otherwise, so backward seeks need fromStart. With markUsed, every chunk
// visited is marked as consumed up to target. It returns the chunk index and
// false when target is not buffered.
func (c *Cursor) Locate(fromStart bool, target int64, markUsed bool) (int, bool) {
	i := 0
	if !fromStart && c.index >= 0 {
		i = c.index
	}

	candidate := -1
	for ; i < len(c.reg.chunks); i++ {
		ch := c.reg.chunks[i]
		if ch.Start > target {
			break
		}
		candidate = i
		if markUsed {
			if ch.End() <= target {
				ch.UsedBytes = ch.Len()
			} else {
				ch.UsedBytes = target - ch.Start
			}
		}
	}

	if candidate >= 0 && c.reg.chunks[candidate].End() >= target {
		c.reg.logger.Debug("Found position in chunk", "position", target, "index", candidate)
		return candidate, true
	}
	return -1, false
}

// Reposition moves the cursor to the absolute position target. When target
// is not buffered the cursor is left unchanged and false is returned; this is
// a signal to wait for more data, not an error.
func (c *Cursor) Reposition(fromStart bool, target int64, markUsed bool) bool {
	index, ok := c.Locate(fromStart, target, markUsed)
	if !ok {
		c.reg.logger.Debug("Position not found in buffered data", "position", target)
		return false
	}
	c.attach(index, target-c.reg.chunks[index].Start)
	return true
}

// ContiguousEnd returns the absolute position where the run of contiguous
// chunks containing the active chunk ends. It is the furthest position that
// can be read without hitting a gap. It returns the file position when the
// cursor is detached.
func (c *Cursor) ContiguousEnd() int64 {
	if c.index < 0 {
		return c.FilePosition()
	}
	return c.ContiguousEndFrom(c.index)
}

// ContiguousEndFrom is ContiguousEnd starting at chunk index. It returns -1
// for an index outside the list. Nothing is merged or modified.
func (c *Cursor) ContiguousEndFrom(index int) int64 {
	if index < 0 || index >= len(c.reg.chunks) {
		return -1
	}
	cur := c.reg.chunks[index]
	for i := index + 1; i < len(c.reg.chunks); i++ {
		next := c.reg.chunks[i]
		if next.Start != cur.End() {
			break
		}
		cur = next
	}
	return cur.End()
}

// Position returns the offset into the active chunk.
func (c *Cursor) Position() int64 {
	return c.offset
}

// FilePosition returns the absolute position of the cursor.
func (c *Cursor) FilePosition() int64 {
	if c.chunk == nil {
		return 0
	}
	return c.chunk.Start + c.offset
}

// ChunkStart returns the absolute start of the active chunk.
func (c *Cursor) ChunkStart() int64 {
	if c.chunk == nil {
		return 0
	}
	return c.chunk.Start
}

// ChunkEnd returns the absolute end of the active chunk.
func (c *Cursor) ChunkEnd() int64 {
	if c.chunk == nil {
		return 0
	}
	return c.chunk.End()
}

// MarkUsed adds n to the active chunk's used byte count, clamped to the chunk length.
func (c *Cursor) MarkUsed(n int64) {
	if c.index < 0 {
		return
	}
	used := c.chunk.UsedBytes + n
	switch {
	case used < 0:
		used = 0
	case used > c.chunk.Len():
		used = c.chunk.Len()
	}
	c.chunk.UsedBytes = used
}

// MarkAllUsed marks the whole active chunk as consumed.
func (c *Cursor) MarkAllUsed() {
	if c.index < 0 {
		return
	}
	c.chunk.UsedBytes = c.chunk.Len()
}

// MergeNext concatenates the active chunk with the next one when they are
// contiguous. The cursor stays at the same file position.
func (c *Cursor) MergeNext() bool {
	if c.index < 0 || !c.reg.MergeForward(c.index) {
		return false
	}
	c.chunk = c.reg.chunks[c.index]
	return true
}

// Payload returns the active chunk's bytes from the cursor onwards.
func (c *Cursor) Payload() []byte {
	if c.index < 0 {
		return nil
	}
	return c.chunk.data[c.offset:]
}

// Advance moves the cursor n bytes forward inside the active chunk.
func (c *Cursor) Advance(n int64) error {
	if c.index < 0 {
		return ErrNotInitialized
	}
	if n < 0 || c.offset+n > c.chunk.Len() {
		return fmt.Errorf("%w: cannot advance %d bytes from %d in chunk %s", ErrPositionNotBuffered, n, c.offset, c.chunk)
	}
	c.offset += n
	return nil
}

// FieldReader returns a kaitai stream reading at the cursor. Its positions
// are absolute file positions and it reads across contiguous chunks.
func (c *Cursor) FieldReader() *kaitai.Stream {
	return kaitai.NewStream(&chunkReader{cur: c})
}

// Sync re-anchors the cursor after an insertion. A redundant insertion leaves
// the list untouched and needs no work.
func (c *Cursor) Sync(res InsertResult) {
	if res.Outcome == Redundant {
		return
	}
	c.resync()
}

// resync finds the active chunk again after the list changed. When the chunk
// is gone (superseded, merged or reclaimed) the cursor is relocated by file
// position, which makes a new head chunk the read source for position 0.
func (c *Cursor) resync() {
	if c.chunk == nil {
		return
	}
	if i := c.reg.Find(c.chunk); i >= 0 {
		c.index = i
		return
	}
	pos := c.FilePosition()
	if index, ok := c.Locate(true, pos, false); ok {
		c.attach(index, pos-c.reg.chunks[index].Start)
		return
	}
	c.reg.logger.Debug("Active chunk removed, cursor detached", "position", pos)
	// keep chunk and offset so FilePosition stays meaningful
	c.index = -1
}
