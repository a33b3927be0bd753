package multibuf

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// span is a comparable snapshot of a chunk
type span struct {
	Start, Len, Used int64
}

func spans(reg *Registry) []span {
	out := make([]span, 0, reg.Len())
	for _, c := range reg.Chunks() {
		out = append(out, span{Start: c.Start, Len: c.Len(), Used: c.UsedBytes})
	}
	return out
}

func assertSpans(t *testing.T, reg *Registry, want []span) {
	t.Helper()
	if diff := cmp.Diff(want, spans(reg)); diff != "" {
		t.Errorf("chunk list mismatch (-want +got):\n%s", diff)
	}
}

// pattern returns n bytes whose value encodes their absolute position
func pattern(start, n int64) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((start + int64(i)) % 251)
	}
	return b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBuffer(opts ...Option) *Buffer {
	return New(append([]Option{WithLogger(quietLogger())}, opts...)...)
}
