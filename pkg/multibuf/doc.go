// Package multibuf keeps a sparse, ordered view of a byte stream that is
// delivered as discrete chunks, and exposes a sequential-read cursor over it.
//
// Chunks may arrive in any order, may overlap and may be duplicated. The
// Registry keeps them sorted by absolute start offset and non-overlapping,
// trimming or dropping the parts of a new chunk that are already buffered.
// The Cursor tracks the active chunk and an offset into it, and lets a
// structural parser reposition to absolute file positions, mark consumed
// bytes and ask how far contiguous data extends.
//
// Basic usage:
//
//	buf := multibuf.New(multibuf.WithLogger(logger))
//	if _, err := buf.Insert(0, firstChunk); err != nil {
//	    return err
//	}
//	cur := buf.Cursor()
//	if err := cur.Init(); err != nil {
//	    // wait for the chunk starting at offset 0
//	}
//	if !cur.Reposition(false, 8, true) {
//	    // position 8 is not buffered yet, wait for more data
//	}
//	stream := cur.FieldReader() // *kaitai.Stream reading at the cursor
//
// "Not enough data" is never an error: Locate and Reposition report it through
// their boolean result and the caller retries after inserting more chunks.
//
// None of the types in this package are safe for concurrent use.
package multibuf
