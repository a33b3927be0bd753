package kbin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinfer/kbin-multibuf/pkg/boxparse"
	"github.com/twinfer/kbin-multibuf/pkg/multibuf"
	"github.com/twinfer/kbin-multibuf/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFile is ftyp, moov{mvhd, trak{tkhd}, trak{tkhd}}, mdat
func testFile() []byte {
	trak := testutil.Box("trak", testutil.Box("tkhd", make([]byte, 8)))
	return bytes.Join([][]byte{
		testutil.Box("ftyp", []byte("isom\x00\x00\x02\x00")),
		testutil.Box("moov", testutil.Box("mvhd", make([]byte, 12)), trak, trak),
		testutil.Box("mdat", make([]byte, 500)),
	}, nil)
}

func paths(boxes []boxparse.Box) []string {
	out := make([]string, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, b.Path)
	}
	return out
}

var allPaths = []string{"ftyp", "moov", "moov/mvhd", "moov/trak", "moov/trak/tkhd", "moov/trak", "moov/trak/tkhd", "mdat"}

func TestSessionAppendInOrder(t *testing.T) {
	file := testFile()
	session, err := NewSession(WithLogger(quietLogger()))
	require.NoError(t, err)

	var got []boxparse.Box
	for i := 0; i < len(file); i += 17 {
		end := min(i+17, len(file))
		boxes, err := session.Append(context.Background(), int64(i), file[i:end])
		require.NoError(t, err)
		got = append(got, boxes...)
	}
	assert.Equal(t, allPaths, paths(got))
	assert.Equal(t, got, session.Boxes())
	assert.Equal(t, int64(len(file)), session.Next())
	assert.False(t, session.Done())
	assert.Zero(t, session.Level().Chunks, "everything consumed was reclaimed")
}

func TestSessionAppendShuffled(t *testing.T) {
	file := testFile()
	pieces := testutil.Shuffled(rand.New(rand.NewSource(42)), testutil.SplitEvery(len(file), 25))

	session, err := NewSession(WithLogger(quietLogger()), WithReportEvery(3))
	require.NoError(t, err)
	for _, pc := range pieces {
		_, err := session.Append(context.Background(), int64(pc.Start), file[pc.Start:pc.End])
		require.NoError(t, err)
	}
	assert.Empty(t, testutil.DiffPaths(allPaths, paths(session.Boxes())))
}

func TestSessionFilter(t *testing.T) {
	tests := []struct {
		name     string
		language string
		source   string
		want     []string
	}{
		{name: "cel type", language: "cel", source: `fourcc == "tkhd"`, want: []string{"moov/trak/tkhd", "moov/trak/tkhd"}},
		{name: "cel inside", language: "cel", source: `inside(path, "moov") && depth == 1`, want: []string{"moov/mvhd", "moov/trak", "moov/trak"}},
		{name: "expr top level", language: "expr", source: `depth == 0 && size > 50`, want: []string{"moov", "mdat"}},
		{name: "expr parent", language: "expr", source: `parent(path) == "trak"`, want: []string{"moov/trak/tkhd", "moov/trak/tkhd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxes, err := ParseBinary(testFile(), WithLogger(quietLogger()), WithFilter(tt.language, tt.source))
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(boxes))
		})
	}
}

func TestSessionFilterRuntimeError(t *testing.T) {
	// division by zero on the depth 1 boxes only
	session, err := NewSession(WithLogger(quietLogger()), WithFilter("cel", `size / (depth - 1) > 0`))
	require.NoError(t, err)

	boxes, err := session.Append(context.Background(), 0, testFile())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilterEvaluation)
	want := []string{"moov/trak/tkhd", "moov/trak/tkhd"}
	assert.Equal(t, want, paths(boxes), "boxes after the failing ones are still evaluated")
	assert.Equal(t, want, paths(session.Boxes()))
	assert.Equal(t, int64(len(testFile())), session.Next())
}

func TestSessionOptionErrors(t *testing.T) {
	_, err := NewSession(WithFilter("lua", "true"))
	assert.Error(t, err)

	_, err = NewSession(WithFilter("cel", "fourcc =="))
	assert.Error(t, err)

	_, err = NewSession(WithCatalogPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestSessionCatalogPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boxes:\n  wrap: {container: true}\n"), 0o644))

	file := testutil.Box("wrap", testutil.Box("free", []byte("abcd")))
	boxes, err := ParseBinary(file, WithLogger(quietLogger()), WithCatalogPath(path))
	require.NoError(t, err)
	assert.Equal(t, []string{"wrap", "wrap/free"}, paths(boxes))
}

func TestSessionCanceledContext(t *testing.T) {
	session, err := NewSession(WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Append(ctx, 0, testFile())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, session.Level().Chunks)
}

func TestSessionInvalidChunk(t *testing.T) {
	session, err := NewSession(WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = session.Append(context.Background(), -1, []byte{1})
	assert.ErrorIs(t, err, multibuf.ErrInvalidChunk)
}

func TestSessionMalformedBox(t *testing.T) {
	bad := testutil.SetSize(testutil.Box("free"), 3)
	_, err := ParseBinary(bad, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, boxparse.ErrMalformedBox)
}

func TestSessionEvents(t *testing.T) {
	var kinds []multibuf.EventKind
	session, err := NewSession(
		WithLogger(quietLogger()),
		WithEventHandler(func(e multibuf.Event) { kinds = append(kinds, e.Kind) }),
	)
	require.NoError(t, err)

	file := testFile()
	_, err = session.Append(context.Background(), 0, file[:40])
	require.NoError(t, err)
	_, err = session.Append(context.Background(), 0, file[:20])
	require.NoError(t, err)

	assert.Contains(t, kinds, multibuf.EventAppended)
	assert.Contains(t, kinds, multibuf.EventRedundant)
	assert.Contains(t, kinds, multibuf.EventLevel)
}

func TestParseReader(t *testing.T) {
	file := testFile()
	boxes, err := ParseReader(context.Background(), bytes.NewReader(file), 10, WithLogger(quietLogger()), WithCapturePayloads(false))
	require.NoError(t, err)
	assert.Equal(t, allPaths, paths(boxes))
	for _, b := range boxes {
		assert.Nil(t, b.Payload)
	}

	_, err = ParseReader(context.Background(), bytes.NewReader(file), 0)
	assert.Error(t, err)
}

func TestBoxesToJSON(t *testing.T) {
	boxes, err := ParseBinary(testFile(), WithLogger(quietLogger()), WithFilter("cel", `fourcc == "ftyp"`))
	require.NoError(t, err)

	data, err := BoxesToJSON(boxes)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "ftyp", decoded[0]["fourcc"])
	assert.Equal(t, float64(16), decoded[0]["size"])
}
