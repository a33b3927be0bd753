// Package testutil builds ISO base media test streams and splits them into
// the chunk sequences the parsing tests feed through a buffer.
package testutil

import (
	"bytes"
	"encoding/binary"
	"math/rand"

	"github.com/google/go-cmp/cmp"
)

// Box encodes a box with a 32-bit size header around the concatenated body parts.
func Box(typ string, body ...[]byte) []byte {
	payload := bytes.Join(body, nil)
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:], typ)
	return append(out, payload...)
}

// LargeBox encodes a box using the 64-bit largesize header.
func LargeBox(typ string, body []byte) []byte {
	out := make([]byte, 16, 16+len(body))
	binary.BigEndian.PutUint32(out, 1)
	copy(out[4:], typ)
	binary.BigEndian.PutUint64(out[8:], uint64(16+len(body)))
	return append(out, body...)
}

// SetSize overwrites the 32-bit size field of the box header at b.
func SetSize(b []byte, size uint32) []byte {
	binary.BigEndian.PutUint32(b, size)
	return b
}

// Filler returns n bytes counting up from seed.
func Filler(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// Piece is the half-open byte range [Start, End) of a stream.
type Piece struct {
	Start, End int
}

// SplitEvery cuts a stream of size bytes into pieces of n bytes.
func SplitEvery(size, n int) []Piece {
	var out []Piece
	for i := 0; i < size; i += n {
		out = append(out, Piece{Start: i, End: min(i+n, size)})
	}
	return out
}

// Shuffled returns pieces in an order drawn from rng.
func Shuffled(rng *rand.Rand, pieces []Piece) []Piece {
	out := append([]Piece(nil), pieces...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// DiffPaths reports the difference between two box path listings, or "".
func DiffPaths(want, got []string) string {
	return cmp.Diff(want, got)
}
