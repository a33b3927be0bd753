package boxparse

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/twinfer/kbin-multibuf/pkg/multibuf"
)

// ErrMalformedBox is returned for box headers that cannot be valid.
var ErrMalformedBox = errors.New("malformed box")

const (
	headerSize      = 8
	largeHeaderSize = 16
	userTypeSize    = 16
)

// Parser walks the boxes of a stream held in a multibuf.Buffer. Parse can be
// called again after each insertion; it resumes where it stopped.
type Parser struct {
	buf     *multibuf.Buffer
	catalog *Catalog
	logger  *slog.Logger
	capture bool

	next    int64
	parents []Box
	done    bool
}

// options holds parser configuration
type options struct {
	catalog *Catalog
	logger  *slog.Logger
	capture bool
}

// Option configures a Parser
type Option func(*options)

// WithCatalog sets the box catalog (default: DefaultCatalog)
func WithCatalog(c *Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCapture enables copying the body of boxes marked capture in the catalog
func WithCapture(enabled bool) Option {
	return func(o *options) {
		o.capture = enabled
	}
}

// NewParser creates a parser reading from buf.
func NewParser(buf *multibuf.Buffer, opts ...Option) *Parser {
	o := options{catalog: DefaultCatalog(), logger: slog.Default(), capture: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.catalog == nil {
		o.catalog = DefaultCatalog()
	}
	return &Parser{buf: buf, catalog: o.catalog, logger: o.logger, capture: o.capture}
}

// Next returns the absolute position of the next box header.
func (p *Parser) Next() int64 {
	return p.next
}

// Done reports whether a box extending to the end of the stream was found.
func (p *Parser) Done() bool {
	return p.done
}

// Depth returns the number of open container boxes.
func (p *Parser) Depth() int {
	return len(p.parents)
}

// Parse returns the boxes that became readable since the last call. Running
// out of buffered data is not an error: Parse returns what it has and the
// caller calls it again after inserting more chunks.
func (p *Parser) Parse() ([]Box, error) {
	if p.done {
		return nil, nil
	}
	cur := p.buf.Cursor()
	if err := cur.Init(); err != nil {
		if errors.Is(err, multibuf.ErrNoData) || errors.Is(err, multibuf.ErrMisalignedStream) {
			p.logger.Debug("Waiting for the start of the stream", "reason", err)
			return nil, nil
		}
		return nil, err
	}

	var boxes []Box
	for !p.done {
		box, ok, err := p.parseBox(cur)
		if err != nil {
			return boxes, err
		}
		if !ok {
			break
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// parseBox reads the box at p.next. It returns false when more data is needed.
func (p *Parser) parseBox(cur *multibuf.Cursor) (Box, bool, error) {
	pos := p.next
	fromStart := !cur.Attached() || pos < cur.FilePosition()
	if !cur.Reposition(fromStart, pos, true) {
		p.logger.Debug("Box start not buffered yet", "position", pos)
		return Box{}, false, nil
	}
	p.closeParents(pos)

	avail := cur.ContiguousEnd() - pos
	if avail < headerSize {
		return p.pending(pos, headerSize)
	}

	stream := cur.FieldReader()
	size32, err := stream.ReadU4be()
	if err != nil {
		return Box{}, false, fmt.Errorf("reading box size at %d: %w", pos, err)
	}
	rawType, err := stream.ReadBytes(4)
	if err != nil {
		return Box{}, false, fmt.Errorf("reading box type at %d: %w", pos, err)
	}
	box := Box{
		Type:       decodeFourCC(rawType),
		Start:      pos,
		Size:       int64(size32),
		HeaderSize: headerSize,
		Depth:      len(p.parents),
	}

	if size32 == 1 {
		if avail < largeHeaderSize {
			return p.pending(pos, largeHeaderSize)
		}
		large, err := stream.ReadU8be()
		if err != nil {
			return Box{}, false, fmt.Errorf("reading large size of %q at %d: %w", box.Type, pos, err)
		}
		if large > math.MaxInt64 {
			return Box{}, false, fmt.Errorf("%w: %q at %d has size %d", ErrMalformedBox, box.Type, pos, large)
		}
		box.Size = int64(large)
		box.HeaderSize = largeHeaderSize
	}
	if box.Type == "uuid" {
		if avail < box.HeaderSize+userTypeSize {
			return p.pending(pos, box.HeaderSize+userTypeSize)
		}
		if box.UserType, err = stream.ReadBytes(userTypeSize); err != nil {
			return Box{}, false, fmt.Errorf("reading user type at %d: %w", pos, err)
		}
		box.HeaderSize += userTypeSize
	}

	if err := p.checkSize(box); err != nil {
		return Box{}, false, err
	}

	spec, _ := p.catalog.Lookup(box.Type)
	if p.capture && spec.Capture && box.Size != 0 {
		if cur.ContiguousEnd() < box.End() {
			return p.pending(pos, box.Size)
		}
		if err := p.capturePayload(cur, &box); err != nil {
			return Box{}, false, err
		}
	}

	box.Path = box.Type
	if n := len(p.parents); n > 0 {
		box.Path = p.parents[n-1].Path + "/" + box.Type
	}

	switch {
	case spec.Container:
		if box.Size != 0 && box.BodyStart()+spec.ChildOffset > box.End() {
			return Box{}, false, fmt.Errorf("%w: container %q at %d is too small for its children", ErrMalformedBox, box.Type, box.Start)
		}
		p.parents = append(p.parents, box)
		p.next = box.BodyStart() + spec.ChildOffset
	case box.Size == 0:
		p.done = true
		p.next = cur.ContiguousEnd()
	default:
		p.next = box.End()
	}
	p.logger.Debug("Found box", "type", box.Type, "start", box.Start, "size", box.Size, "depth", box.Depth)
	return box, true, nil
}

func (p *Parser) checkSize(box Box) error {
	if box.Size == 0 {
		if len(p.parents) > 0 {
			return fmt.Errorf("%w: %q at %d extends to the end of the stream inside %q", ErrMalformedBox, box.Type, box.Start, p.parents[len(p.parents)-1].Type)
		}
		return nil
	}
	if box.Size < box.HeaderSize {
		return fmt.Errorf("%w: %q at %d has size %d smaller than its %d byte header", ErrMalformedBox, box.Type, box.Start, box.Size, box.HeaderSize)
	}
	if box.Size > math.MaxInt64-box.Start {
		return fmt.Errorf("%w: %q at %d has size %d past the largest file position", ErrMalformedBox, box.Type, box.Start, box.Size)
	}
	if n := len(p.parents); n > 0 {
		parent := p.parents[n-1]
		if parent.Size != 0 && box.End() > parent.End() {
			return fmt.Errorf("%w: %q at %d ends past its parent %q", ErrMalformedBox, box.Type, box.Start, parent.Type)
		}
	}
	return nil
}

// capturePayload coalesces the chunks holding the box so its body can be
// copied from a single payload.
func (p *Parser) capturePayload(cur *multibuf.Cursor, box *Box) error {
	if !cur.Reposition(true, box.Start, false) {
		return fmt.Errorf("box %q at %d: %w", box.Type, box.Start, multibuf.ErrPositionNotBuffered)
	}
	for cur.ChunkEnd() < box.End() {
		if !cur.MergeNext() {
			return fmt.Errorf("box %q at %d: %w", box.Type, box.Start, multibuf.ErrPositionNotBuffered)
		}
	}
	if err := cur.Advance(box.HeaderSize); err != nil {
		return err
	}
	payload := cur.Payload()
	if int64(len(payload)) < box.Size-box.HeaderSize {
		return fmt.Errorf("box %q at %d: %w", box.Type, box.Start, multibuf.ErrPositionNotBuffered)
	}
	body := payload[:box.Size-box.HeaderSize]
	box.Payload = make([]byte, len(body))
	copy(box.Payload, body)
	return nil
}

// closeParents pops the containers ending at or before pos.
func (p *Parser) closeParents(pos int64) {
	for n := len(p.parents); n > 0; n = len(p.parents) {
		top := p.parents[n-1]
		if top.Size == 0 || top.End() > pos {
			return
		}
		p.parents = p.parents[:n-1]
	}
}

func (p *Parser) pending(pos, need int64) (Box, bool, error) {
	p.logger.Debug("Not enough contiguous data for box", "position", pos, "needed", need)
	return Box{}, false, nil
}
