package kbin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/twinfer/kbin-multibuf/internal/filter"
	"github.com/twinfer/kbin-multibuf/pkg/boxparse"
	"github.com/twinfer/kbin-multibuf/pkg/multibuf"
)

// ErrFilterEvaluation is returned when the filter fails on a box. The
// session is still usable and the remaining boxes were evaluated.
var ErrFilterEvaluation = errors.New("filter evaluation failed")

// options holds configuration for a session
type options struct {
	logger      *slog.Logger
	catalog     *boxparse.Catalog
	catalogPath string
	filterLang  string
	filterSrc   string
	handler     multibuf.EventHandler
	reportEvery int
	capture     bool
	debugMode   bool
}

// Option is a function that configures session options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCatalog sets the box catalog
func WithCatalog(c *boxparse.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithCatalogPath loads the box catalog from a YAML file, extending the default catalog
func WithCatalogPath(path string) Option {
	return func(o *options) {
		o.catalogPath = path
	}
}

// WithFilter only returns boxes matching the predicate. language is "cel" or "expr".
func WithFilter(language, source string) Option {
	return func(o *options) {
		o.filterLang = language
		o.filterSrc = source
	}
}

// WithEventHandler receives the buffer's diagnostic events
func WithEventHandler(h multibuf.EventHandler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithReportEvery reports the buffer level and reclaims consumed chunks every n appends.
// Zero disables reclamation.
func WithReportEvery(n int) Option {
	return func(o *options) {
		o.reportEvery = n
	}
}

// WithCapturePayloads enables copying the bodies of boxes marked capture in the catalog
func WithCapturePayloads(enabled bool) Option {
	return func(o *options) {
		o.capture = enabled
	}
}

// WithDebugMode enables debug logging
func WithDebugMode(enabled bool) Option {
	return func(o *options) {
		o.debugMode = enabled
	}
}

// defaultOptions returns the default configuration
func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		reportEvery: 1,
		capture:     true,
	}
}

// Global predicate pool shared by sessions
var globalPool *filter.Pool
var globalPoolErr error
var globalPoolOnce sync.Once

func getGlobalPool() (*filter.Pool, error) {
	globalPoolOnce.Do(func() {
		globalPool, globalPoolErr = filter.NewPool()
	})
	return globalPool, globalPoolErr
}

// Session turns chunks of one stream into boxes.
type Session struct {
	buf       *multibuf.Buffer
	parser    *boxparse.Parser
	predicate filter.Predicate
	logger    *slog.Logger
	options   options

	appends int
	boxes   []boxparse.Box
}

// NewSession creates a session with the given options
func NewSession(opts ...Option) (*Session, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.debugMode {
		options.logger = options.logger.With("debug", true)
	}

	catalog := options.catalog
	if catalog == nil {
		catalog = boxparse.DefaultCatalog()
	}
	if options.catalogPath != "" {
		custom, err := boxparse.LoadCatalog(options.catalogPath)
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		catalog = catalog.Extend(custom)
	}

	s := &Session{logger: options.logger, options: options}

	if options.filterSrc != "" {
		lang, err := filter.ParseLanguage(options.filterLang)
		if err != nil {
			return nil, err
		}
		pool, err := getGlobalPool()
		if err != nil {
			return nil, fmt.Errorf("creating filter pool: %w", err)
		}
		if s.predicate, err = pool.Compile(lang, options.filterSrc); err != nil {
			return nil, fmt.Errorf("compiling filter: %w", err)
		}
	}

	bufOpts := []multibuf.Option{multibuf.WithLogger(options.logger)}
	if options.handler != nil {
		bufOpts = append(bufOpts, multibuf.WithEventHandler(options.handler))
	}
	s.buf = multibuf.New(bufOpts...)
	s.parser = boxparse.NewParser(s.buf,
		boxparse.WithCatalog(catalog),
		boxparse.WithLogger(options.logger),
		boxparse.WithCapture(options.capture),
	)
	return s, nil
}

// Append inserts a chunk starting at the absolute position start and returns
// the boxes that became readable. Chunks may arrive in any order. Boxes are
// returned alongside an error when only some of the work failed.
func (s *Session) Append(ctx context.Context, start int64, data []byte) ([]boxparse.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.buf.Insert(start, data); err != nil {
		return nil, fmt.Errorf("inserting chunk at %d: %w", start, err)
	}
	s.appends++

	boxes, perr := s.parser.Parse()
	if perr != nil {
		perr = fmt.Errorf("parsing boxes: %w", perr)
	}
	selected, ferr := s.selectBoxes(boxes)
	s.boxes = append(s.boxes, selected...)
	if s.options.reportEvery > 0 && s.appends%s.options.reportEvery == 0 {
		s.buf.Report()
	}
	return selected, errors.Join(perr, ferr)
}

// selectBoxes evaluates the filter on every box. A box whose evaluation
// fails is not selected; the failures are returned joined.
func (s *Session) selectBoxes(boxes []boxparse.Box) ([]boxparse.Box, error) {
	if s.predicate == nil {
		return boxes, nil
	}
	var selected []boxparse.Box
	var errs []error
	for _, b := range boxes {
		ok, err := s.predicate.Match(b.Fields())
		if err != nil {
			s.logger.Warn("Filter evaluation failed", "fourcc", b.Type, "start", b.Start, "error", err)
			errs = append(errs, fmt.Errorf("%w: box %q at %d: %w", ErrFilterEvaluation, b.Type, b.Start, err))
			continue
		}
		if ok {
			selected = append(selected, b)
		}
	}
	return selected, errors.Join(errs...)
}

// Boxes returns every box returned so far.
func (s *Session) Boxes() []boxparse.Box {
	return s.boxes
}

// Next returns the absolute position of the next box header.
func (s *Session) Next() int64 {
	return s.parser.Next()
}

// Done reports whether a box extending to the end of the stream was found.
func (s *Session) Done() bool {
	return s.parser.Done()
}

// Level returns what is currently buffered.
func (s *Session) Level() multibuf.Level {
	return s.buf.Registry().Level()
}

// Buffer returns the session's chunk buffer.
func (s *Session) Buffer() *multibuf.Buffer {
	return s.buf
}

// ParseReader reads r sequentially in chunks of chunkSize bytes and returns
// all selected boxes.
func ParseReader(ctx context.Context, r io.Reader, chunkSize int, opts ...Option) ([]boxparse.Box, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	session, err := NewSession(opts...)
	if err != nil {
		return nil, err
	}

	chunk := make([]byte, chunkSize)
	var offset int64
	for {
		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			if _, aerr := session.Append(ctx, offset, chunk[:n]); aerr != nil {
				return session.Boxes(), aerr
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return session.Boxes(), fmt.Errorf("reading input: %w", err)
		}
	}
	return session.Boxes(), nil
}

// ParseBinary returns the boxes of a fully available stream.
func ParseBinary(data []byte, opts ...Option) ([]boxparse.Box, error) {
	session, err := NewSession(opts...)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return session.Append(context.Background(), 0, data)
}

// BoxesToJSON converts boxes to indented JSON
func BoxesToJSON(boxes []boxparse.Box) ([]byte, error) {
	jsonData, err := json.MarshalIndent(boxes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling to JSON: %w", err)
	}
	return jsonData, nil
}
