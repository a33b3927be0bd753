package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinfer/kbin-multibuf/pkg/kbin"
	"github.com/twinfer/kbin-multibuf/pkg/multibuf"
	"github.com/twinfer/kbin-multibuf/testutil"
)

// --- Test Helpers ---

// testStream is ftyp(12), moov{mvhd(16)}(24), mdat(24)
func testStream() []byte {
	return bytes.Join([][]byte{
		testutil.Box("ftyp", []byte("isom")),
		testutil.Box("moov", testutil.Box("mvhd", make([]byte, 8))),
		testutil.Box("mdat", make([]byte, 16)),
	}, nil)
}

func newTestProcessor(t *testing.T, yamlConf string) *BoxProcessor {
	t.Helper()
	pConf, err := boxProcessorConfig().ParseYAML(yamlConf, nil)
	require.NoError(t, err)
	processor, err := newBoxProcessorFromConfig(pConf, service.MockResources())
	require.NoError(t, err)
	return processor
}

func chunkMessage(data []byte, streamID string, offset int) *service.Message {
	msg := service.NewMessage(data)
	msg.MetaSet("stream_id", streamID)
	msg.MetaSet("chunk_offset", strconv.Itoa(offset))
	return msg
}

func boxPaths(t *testing.T, batch service.MessageBatch) []string {
	t.Helper()
	var out []string
	for _, msg := range batch {
		require.NoError(t, msg.GetError())
		path, ok := msg.MetaGet("box_path")
		require.True(t, ok)
		out = append(out, path)
	}
	return out
}

// --- Tests ---

func TestBoxProcessor_OutOfOrderChunks(t *testing.T) {
	ctx := context.Background()
	processor := newTestProcessor(t, "")
	data := testStream()

	batch, err := processor.Process(ctx, chunkMessage(data[20:40], "a", 20))
	require.NoError(t, err)
	assert.Empty(t, batch, "stream start missing")

	batch, err = processor.Process(ctx, chunkMessage(data[:20], "a", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp", "moov", "moov/mvhd"}, boxPaths(t, batch))

	structured, err := batch[1].AsStructured()
	require.NoError(t, err)
	fields := structured.(map[string]any)
	assert.Equal(t, "moov", fields["fourcc"])
	assert.EqualValues(t, 12, fields["start"])
	assert.EqualValues(t, 24, fields["size"])
	assert.Equal(t, "a", fields["stream"])

	boxType, _ := batch[1].MetaGet("box_type")
	assert.Equal(t, "moov", boxType)
	streamID, _ := batch[1].MetaGet("stream_id")
	assert.Equal(t, "a", streamID, "metadata copied from the chunk")

	batch, err = processor.Process(ctx, chunkMessage(data[40:], "a", 40))
	require.NoError(t, err)
	assert.Equal(t, []string{"mdat"}, boxPaths(t, batch))
}

func TestBoxProcessor_IndependentStreams(t *testing.T) {
	ctx := context.Background()
	processor := newTestProcessor(t, "")
	data := testStream()

	batch, err := processor.Process(ctx, chunkMessage(data[:10], "a", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp"}, boxPaths(t, batch))

	batch, err = processor.Process(ctx, chunkMessage(data, "b", 0))
	require.NoError(t, err)
	assert.Len(t, batch, 4)

	batch, err = processor.Process(ctx, chunkMessage(data[10:], "a", 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"moov", "moov/mvhd", "mdat"}, boxPaths(t, batch))
	assert.Len(t, processor.sessions, 2)

	require.NoError(t, processor.Close(ctx))
	assert.Empty(t, processor.sessions)
}

func TestBoxProcessor_SequentialWithoutOffset(t *testing.T) {
	ctx := context.Background()
	processor := newTestProcessor(t, "")
	data := testStream()

	var paths []string
	for i := 0; i < len(data); i += 7 {
		msg := service.NewMessage(data[i:min(i+7, len(data))])
		batch, err := processor.Process(ctx, msg)
		require.NoError(t, err)
		paths = append(paths, boxPaths(t, batch)...)
	}
	assert.Equal(t, []string{"ftyp", "moov", "moov/mvhd", "mdat"}, paths)
}

func TestBoxProcessor_RedundantChunk(t *testing.T) {
	ctx := context.Background()
	processor := newTestProcessor(t, "")
	data := testStream()

	_, err := processor.Process(ctx, chunkMessage(data[:30], "a", 0))
	require.NoError(t, err)
	batch, err := processor.Process(ctx, chunkMessage(data[:30], "a", 0))
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestBoxProcessor_FilterAndPayload(t *testing.T) {
	processor := newTestProcessor(t, `
filter: 'fourcc == "ftyp"'
filter_language: expr
emit_payload: true
`)
	batch, err := processor.Process(context.Background(), chunkMessage(testStream(), "a", 0))
	require.NoError(t, err)
	require.Equal(t, []string{"ftyp"}, boxPaths(t, batch))

	structured, err := batch[0].AsStructured()
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("isom")), structured.(map[string]any)["payload"])
}

func TestBoxProcessor_CatalogPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boxes:\n  wrap: {container: true}\n"), 0o644))
	processor := newTestProcessor(t, "catalog_path: "+path)

	batch, err := processor.Process(context.Background(), chunkMessage(testutil.Box("wrap", testutil.Box("free")), "a", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"wrap", "wrap/free"}, boxPaths(t, batch))
}

func TestBoxProcessor_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		conf string
	}{
		{name: "missing catalog", conf: "catalog_path: /does/not/exist.yaml"},
		{name: "bad filter", conf: "filter: 'fourcc =='"},
		{name: "unknown language", conf: "filter: 'true'\nfilter_language: lua"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pConf, err := boxProcessorConfig().ParseYAML(tt.conf, nil)
			require.NoError(t, err)
			_, err = newBoxProcessorFromConfig(pConf, service.MockResources())
			assert.Error(t, err)
		})
	}
}

func TestBoxProcessor_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("bad offset", func(t *testing.T) {
		processor := newTestProcessor(t, "")
		msg := service.NewMessage([]byte{1, 2, 3})
		msg.MetaSet("chunk_offset", "abc")
		batch, err := processor.Process(ctx, msg)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Error(t, batch[0].GetError())
	})

	t.Run("malformed box drops the stream", func(t *testing.T) {
		processor := newTestProcessor(t, "")
		bad := testutil.SetSize(testutil.Box("free"), 2)
		batch, err := processor.Process(ctx, chunkMessage(bad, "a", 0))
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Error(t, batch[0].GetError())
		assert.Empty(t, processor.sessions)
	})

	t.Run("invalid chunk keeps the stream", func(t *testing.T) {
		processor := newTestProcessor(t, "")
		data := testStream()

		_, err := processor.Process(ctx, chunkMessage(data[:20], "a", 0))
		require.NoError(t, err)

		batch, err := processor.Process(ctx, chunkMessage(data[20:30], "a", -5))
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.ErrorIs(t, batch[0].GetError(), multibuf.ErrInvalidChunk)
		require.Contains(t, processor.sessions, "a")

		batch, err = processor.Process(ctx, chunkMessage(data[20:], "a", 20))
		require.NoError(t, err)
		assert.Equal(t, []string{"moov/mvhd", "mdat"}, boxPaths(t, batch), "buffered data survived the bad chunk")
	})

	t.Run("filter failure keeps the stream and the matching boxes", func(t *testing.T) {
		// division by zero on mvhd, the only depth 1 box
		processor := newTestProcessor(t, "filter: 'size / (depth - 1) < 0'")
		batch, err := processor.Process(ctx, chunkMessage(testStream(), "a", 0))
		require.NoError(t, err)
		require.Len(t, batch, 4)

		var paths []string
		for _, msg := range batch[:3] {
			require.NoError(t, msg.GetError())
			path, _ := msg.MetaGet("box_path")
			paths = append(paths, path)
		}
		assert.Equal(t, []string{"ftyp", "moov", "mdat"}, paths)
		assert.ErrorIs(t, batch[3].GetError(), kbin.ErrFilterEvaluation)
		assert.Contains(t, processor.sessions, "a")
	})

	t.Run("empty chunk", func(t *testing.T) {
		processor := newTestProcessor(t, "")
		batch, err := processor.Process(ctx, service.NewMessage(nil))
		require.NoError(t, err)
		assert.Empty(t, batch)
	})
}
