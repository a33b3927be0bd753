package multibuf

import (
	"fmt"
	"io"
)

// chunkReader is an io.ReadSeeker over the cursor in absolute file
// positions. Reads continue into the next chunk only when it is contiguous.
type chunkReader struct {
	cur *Cursor
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cur := r.cur
	if cur.index < 0 {
		return 0, io.EOF
	}

	chunks := cur.reg.chunks
	index, offset := cur.index, cur.offset
	n := 0
	for n < len(p) {
		ch := chunks[index]
		m := copy(p[n:], ch.data[offset:])
		n += m
		offset += int64(m)
		if offset < ch.Len() {
			break
		}
		if index+1 >= len(chunks) || chunks[index+1].Start != ch.End() {
			break
		}
		index++
		offset = 0
	}
	cur.attach(index, offset)

	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *chunkReader) Seek(offset int64, whence int) (int64, error) {
	cur := r.cur
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = cur.FilePosition() + offset
	case io.SeekEnd:
		target = cur.ContiguousEnd() + offset
	default:
		return cur.FilePosition(), fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return cur.FilePosition(), fmt.Errorf("negative position %d", target)
	}

	fromStart := cur.index < 0 || target < cur.FilePosition()
	if !cur.Reposition(fromStart, target, false) {
		return cur.FilePosition(), fmt.Errorf("seeking to %d: %w", target, ErrPositionNotBuffered)
	}
	return target, nil
}
