package multibuf

import "github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

// Buffer pairs a Registry with its Cursor. Every list mutation goes through
// the Buffer so the cursor is re-anchored right after it.
type Buffer struct {
	reg *Registry
	cur *Cursor
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	reg := NewRegistry(opts...)
	return &Buffer{reg: reg, cur: NewCursor(reg)}
}

// Registry returns the underlying chunk list.
func (b *Buffer) Registry() *Registry {
	return b.reg
}

// Cursor returns the read cursor.
func (b *Buffer) Cursor() *Cursor {
	return b.cur
}

// Insert copies data into a chunk starting at the absolute position start
// and inserts it.
func (b *Buffer) Insert(start int64, data []byte) (InsertResult, error) {
	return b.InsertChunk(NewChunk(start, data))
}

// InsertChunk inserts c, taking ownership of its payload.
func (b *Buffer) InsertChunk(c *Chunk) (InsertResult, error) {
	res, err := b.reg.Insert(c)
	b.cur.Sync(res)
	return res, err
}

// Report logs the buffer level and reclaims fully used chunks.
func (b *Buffer) Report() Level {
	lvl := b.reg.Report()
	b.cur.resync()
	return lvl
}

// Reclaim removes fully used chunks and returns how many were removed.
func (b *Buffer) Reclaim() int {
	n := b.reg.Reclaim()
	if n > 0 {
		b.cur.resync()
	}
	return n
}

// FieldReader returns a kaitai stream reading at the cursor.
func (b *Buffer) FieldReader() *kaitai.Stream {
	return b.cur.FieldReader()
}
