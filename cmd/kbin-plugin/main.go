package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/twinfer/kbin-multibuf/pkg/boxparse"
	"github.com/twinfer/kbin-multibuf/pkg/kbin"
	"github.com/twinfer/kbin-multibuf/pkg/multibuf"
)

// BoxProcessor is a Benthos processor that reassembles chunks of ISO base
// media streams, delivered in any order, and emits one message per box.
type BoxProcessor struct {
	config   BoxConfig
	logger   *service.Logger
	mu       sync.Mutex
	sessions map[string]*stream

	mChunks    *service.MetricCounter
	mBoxes     *service.MetricCounter
	mRedundant *service.MetricCounter
	mErrors    *service.MetricCounter
}

// BoxConfig contains configuration parameters for the box processor.
type BoxConfig struct {
	OffsetMetadata string `json:"offset_metadata" yaml:"offset_metadata"`
	StreamMetadata string `json:"stream_metadata" yaml:"stream_metadata"`
	CatalogPath    string `json:"catalog_path" yaml:"catalog_path"`
	Filter         string `json:"filter" yaml:"filter"`
	FilterLanguage string `json:"filter_language" yaml:"filter_language"`
	EmitPayload    bool   `json:"emit_payload" yaml:"emit_payload"`
}

// stream is the parsing state of one input stream
type stream struct {
	session *kbin.Session
	// next is where a chunk without offset metadata is placed
	next int64
}

func init() {
	err := service.RegisterProcessor(
		"multibuf_boxes",
		boxProcessorConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return newBoxProcessorFromConfig(conf, mgr)
		},
	)
	if err != nil {
		panic(err)
	}
}

func main() {
	service.RunCLI(context.Background())
}

// boxProcessorConfig returns a config spec for a multibuf_boxes processor.
func boxProcessorConfig() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Discovers the boxes of ISO base media streams arriving as out-of-order chunks.").
		Description("Each message is a chunk of a stream. Its absolute offset is read from metadata; chunks may overlap or repeat. " +
			"For every box whose header becomes readable a structured message is emitted with the box fields. " +
			"Messages that complete no box produce an empty batch.").
		Field(service.NewStringField("offset_metadata").
			Description("Metadata key holding the absolute offset of the chunk. Chunks without it are appended after the previous chunk of the stream.").
			Default("chunk_offset")).
		Field(service.NewStringField("stream_metadata").
			Description("Metadata key identifying the stream a chunk belongs to.").
			Default("stream_id")).
		Field(service.NewStringField("catalog_path").
			Description("Path to a YAML box catalog extending the built-in one.").
			Example("./catalog.yaml").
			Default("")).
		Field(service.NewStringField("filter").
			Description("Predicate selecting the boxes to emit. Leave empty to emit all boxes.").
			Example(`inside(path, "trak") && fourcc == "tkhd"`).
			Default("")).
		Field(service.NewStringField("filter_language").
			Description("Language of the filter predicate: cel or expr.").
			Default("cel")).
		Field(service.NewBoolField("emit_payload").
			Description("Include the base64 encoded body of captured boxes.").
			Default(false)).
		Version("0.2.0")
}

// newBoxProcessorFromConfig creates a new BoxProcessor from a parsed config.
func newBoxProcessorFromConfig(conf *service.ParsedConfig, mgr *service.Resources) (*BoxProcessor, error) {
	var config BoxConfig
	var err error
	if config.OffsetMetadata, err = conf.FieldString("offset_metadata"); err != nil {
		return nil, err
	}
	if config.StreamMetadata, err = conf.FieldString("stream_metadata"); err != nil {
		return nil, err
	}
	if config.CatalogPath, err = conf.FieldString("catalog_path"); err != nil {
		return nil, err
	}
	if config.Filter, err = conf.FieldString("filter"); err != nil {
		return nil, err
	}
	if config.FilterLanguage, err = conf.FieldString("filter_language"); err != nil {
		return nil, err
	}
	if config.EmitPayload, err = conf.FieldBool("emit_payload"); err != nil {
		return nil, err
	}

	if config.CatalogPath != "" {
		if _, err := os.Stat(config.CatalogPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found at path: %s", config.CatalogPath)
		}
	}

	metrics := mgr.Metrics()
	p := &BoxProcessor{
		config:     config,
		logger:     mgr.Logger(),
		sessions:   map[string]*stream{},
		mChunks:    metrics.NewCounter("multibuf_chunks"),
		mBoxes:     metrics.NewCounter("multibuf_boxes"),
		mRedundant: metrics.NewCounter("multibuf_redundant_chunks"),
		mErrors:    metrics.NewCounter("multibuf_errors"),
	}

	// fail on a bad filter or catalog at startup rather than on the first message
	if _, err := kbin.NewSession(p.sessionOptions("")...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *BoxProcessor) sessionOptions(streamID string) []kbin.Option {
	opts := []kbin.Option{
		kbin.WithLogger(slog.New(newServiceHandler(p.logger)).With("stream", streamID)),
		kbin.WithCapturePayloads(p.config.EmitPayload),
		kbin.WithEventHandler(func(e multibuf.Event) {
			if e.Kind == multibuf.EventRedundant {
				p.mRedundant.Incr(1)
			}
		}),
	}
	if p.config.CatalogPath != "" {
		opts = append(opts, kbin.WithCatalogPath(p.config.CatalogPath))
	}
	if p.config.Filter != "" {
		opts = append(opts, kbin.WithFilter(p.config.FilterLanguage, p.config.Filter))
	}
	return opts
}

// Process inserts the chunk carried by msg into its stream and emits the boxes it completes.
func (p *BoxProcessor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	data, err := msg.AsBytes()
	if err != nil {
		return p.fail(msg, fmt.Errorf("failed to get chunk data from message: %w", err))
	}
	if len(data) == 0 {
		p.logger.Warn("Empty chunk provided")
		return service.MessageBatch{}, nil
	}
	streamID, _ := msg.MetaGet(p.config.StreamMetadata)

	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.stream(streamID)
	if err != nil {
		return p.fail(msg, err)
	}
	offset := st.next
	if raw, ok := msg.MetaGet(p.config.OffsetMetadata); ok {
		if offset, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return p.fail(msg, fmt.Errorf("invalid chunk offset %q: %w", raw, err))
		}
		if offset < 0 {
			return p.fail(msg, fmt.Errorf("%w: negative chunk offset %d", multibuf.ErrInvalidChunk, offset))
		}
	}
	p.mChunks.Incr(1)

	boxes, err := st.session.Append(ctx, offset, data)
	if errors.Is(err, multibuf.ErrInvalidChunk) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// nothing was inserted, the stream is intact
		return p.fail(msg, fmt.Errorf("failed to insert chunk at offset %d of stream %q: %w", offset, streamID, err))
	}
	st.next = max(st.next, offset+int64(len(data)))
	p.logger.Tracef("Chunk at %d of stream %q completed %d boxes", offset, streamID, len(boxes))

	switch {
	case errors.Is(err, boxparse.ErrMalformedBox) || errors.Is(err, multibuf.ErrInvariantViolation):
		p.logger.Warnf("Dropping stream %q: %v", streamID, err)
		delete(p.sessions, streamID)
	case st.session.Done():
		p.logger.Debugf("Stream %q ended", streamID)
		delete(p.sessions, streamID)
	}

	batch := make(service.MessageBatch, 0, len(boxes))
	for _, b := range boxes {
		fields := b.Fields()
		fields["stream"] = streamID
		if p.config.EmitPayload && b.Payload != nil {
			fields["payload"] = base64.StdEncoding.EncodeToString(b.Payload)
		}

		newMsg := service.NewMessage(nil)
		newMsg.SetStructured(fields)
		_ = msg.MetaWalk(func(key, value string) error {
			newMsg.MetaSet(key, value)
			return nil
		})
		newMsg.MetaSet("box_type", b.Type)
		newMsg.MetaSet("box_path", b.Path)
		batch = append(batch, newMsg)
	}
	p.mBoxes.Incr(int64(len(boxes)))
	if err != nil {
		failed, _ := p.fail(msg, fmt.Errorf("failed to process chunk at offset %d of stream %q: %w", offset, streamID, err))
		batch = append(batch, failed...)
	}
	return batch, nil
}

// stream returns the state of streamID, creating it on first use. Callers hold p.mu.
func (p *BoxProcessor) stream(streamID string) (*stream, error) {
	if st, ok := p.sessions[streamID]; ok {
		return st, nil
	}
	session, err := kbin.NewSession(p.sessionOptions(streamID)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for stream %q: %w", streamID, err)
	}
	st := &stream{session: session}
	p.sessions[streamID] = st
	return st, nil
}

func (p *BoxProcessor) fail(msg *service.Message, err error) (service.MessageBatch, error) {
	p.logger.Errorf("%v", err)
	p.mErrors.Incr(1)
	msg.SetError(err)
	return service.MessageBatch{msg}, nil
}

// Close drops every open stream
func (p *BoxProcessor) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Debugf("Closing box processor with %d open streams", len(p.sessions))
	p.sessions = map[string]*stream{}
	return nil
}
