package multibuf

import (
	"fmt"
	"log/slog"
	"strings"
)

// InsertOutcome describes what Registry.Insert did with a chunk.
type InsertOutcome int

const (
	// Inserted means the chunk was placed before an existing chunk.
	Inserted InsertOutcome = iota
	// Appended means the chunk was placed at the end of the list.
	Appended
	// Redundant means the chunk was already fully buffered and was dropped.
	Redundant
)

// String implements fmt.Stringer.
func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Appended:
		return "appended"
	case Redundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// InsertResult is returned by Registry.Insert.
type InsertResult struct {
	Outcome InsertOutcome
	// Index is the list position of the first stored chunk, -1 if dropped.
	Index int
	// Chunk is the first stored chunk, possibly a trimmed copy of the candidate.
	Chunk *Chunk
	// Trimmed reports whether overlapping bytes were cut from the candidate.
	Trimmed bool
	// Superseded counts the shorter chunks with the same start that were removed.
	Superseded int
	// Pieces counts the chunks stored; more than one when the candidate
	// spanned an existing chunk.
	Pieces int
}

// HeadChanged reports whether the stored chunk became the first element of
// the list, which may change the chunk a cursor reads position 0 from.
func (r InsertResult) HeadChanged() bool {
	return r.Outcome != Redundant && r.Index == 0
}

// Range is a half-open interval [Start, End) of absolute positions.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Level summarizes what is currently buffered.
type Level struct {
	Chunks int     `json:"chunks"`
	Ranges []Range `json:"ranges"`
	Used   int64   `json:"used"`
	Total  int64   `json:"total"`
}

// Ratio returns the fraction of buffered bytes already consumed.
func (l Level) Ratio() float64 {
	if l.Total == 0 {
		return 0
	}
	return float64(l.Used) / float64(l.Total)
}

// String renders the level as "n chunks (used/total bytes): a-b, c-d".
func (l Level) String() string {
	parts := make([]string, 0, len(l.Ranges))
	for _, rg := range l.Ranges {
		parts = append(parts, fmt.Sprintf("%d-%d", rg.Start, rg.End))
	}
	return fmt.Sprintf("%d chunks (%d/%d bytes): %s", l.Chunks, l.Used, l.Total, strings.Join(parts, ", "))
}

// Registry owns the sorted, non-overlapping list of chunks.
type Registry struct {
	chunks          []*Chunk
	logger          *slog.Logger
	handler         EventHandler
	checkInvariants bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		logger:          o.logger,
		handler:         o.handler,
		checkInvariants: o.checkInvariants,
	}
}

// Len returns the number of chunks.
func (r *Registry) Len() int {
	return len(r.chunks)
}

// At returns the chunk at index i.
func (r *Registry) At(i int) *Chunk {
	return r.chunks[i]
}

// Chunks returns a snapshot of the chunk list.
func (r *Registry) Chunks() []*Chunk {
	out := make([]*Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// Find returns the index of c in the list, or -1.
func (r *Registry) Find(c *Chunk) int {
	for i, ch := range r.chunks {
		if ch == c {
			return i
		}
	}
	return -1
}

// Insert places c in the list, trimming or dropping whatever part of it is
// already buffered. A candidate with the same start as an existing chunk
// replaces it when longer and is dropped otherwise. A candidate spanning an
// existing chunk is stored as the pieces around it: the part past that chunk
// is kept and inserted further along the list rather than discarded, so no
// delivered byte is lost.
func (r *Registry) Insert(c *Chunk) (InsertResult, error) {
	res := InsertResult{Outcome: Redundant, Index: -1}
	if c == nil || c.Start < 0 || c.Len() == 0 {
		return res, fmt.Errorf("%w: chunk must have a non-negative start and a non-empty payload", ErrInvalidChunk)
	}

	ab := c
	i := 0
	for i < len(r.chunks) {
		b := r.chunks[i]
		switch {
		case ab.Start == b.Start:
			if ab.Len() <= b.Len() {
				r.logger.Debug("Chunk already buffered, ignoring", "start", ab.Start, "length", ab.Len())
				r.emit(EventRedundant, i, ab)
				return r.finishInsert(res)
			}
			// the candidate is longer: drop b and check the next chunks for overlap
			r.chunks = append(r.chunks[:i], r.chunks[i+1:]...)
			res.Superseded++
			r.logger.Debug("Superseding shorter chunk", "start", b.Start, "length", b.Len(), "new_length", ab.Len())
			r.emit(EventSuperseded, i, b)
			continue

		case ab.Start < b.Start:
			var rest *Chunk
			if ab.End() > b.Start {
				if ab.End() > b.End() {
					rest = ab.Trim(b.End()-ab.Start, ab.End()-b.End())
				}
				ab = ab.Trim(0, b.Start-ab.Start)
				res.Trimmed = true
				r.logger.Debug("Trimming chunk tail", "start", ab.Start, "length", ab.Len())
				r.emit(EventTrimmed, i, ab)
			}
			r.chunks = append(r.chunks, nil)
			copy(r.chunks[i+1:], r.chunks[i:])
			r.chunks[i] = ab
			r.placed(&res, Inserted, i, ab)
			r.logger.Debug("Inserting chunk", "start", ab.Start, "length", ab.Len(), "index", i)
			r.emit(EventInserted, i, ab)
			if rest == nil {
				return r.finishInsert(res)
			}
			// continue with the part extending past b
			ab = rest
			i += 2
			continue

		case ab.Start < b.End():
			overlap := b.End() - ab.Start
			if ab.Len() <= overlap {
				r.logger.Debug("Chunk contained in existing chunk, ignoring", "start", ab.Start, "length", ab.Len())
				r.emit(EventRedundant, i, ab)
				return r.finishInsert(res)
			}
			ab = ab.Trim(overlap, ab.Len()-overlap)
			res.Trimmed = true
			r.logger.Debug("Trimming chunk head", "start", ab.Start, "length", ab.Len())
			r.emit(EventTrimmed, i, ab)
		}
		i++
	}

	r.chunks = append(r.chunks, ab)
	r.placed(&res, Appended, len(r.chunks)-1, ab)
	r.logger.Debug("Appending chunk", "start", ab.Start, "length", ab.Len(), "index", len(r.chunks)-1)
	r.emit(EventAppended, len(r.chunks)-1, ab)
	return r.finishInsert(res)
}

// placed records a stored piece; the result describes the first one
func (r *Registry) placed(res *InsertResult, outcome InsertOutcome, index int, c *Chunk) {
	res.Pieces++
	if res.Chunk != nil {
		return
	}
	res.Outcome = outcome
	res.Index = index
	res.Chunk = c
}

func (r *Registry) finishInsert(res InsertResult) (InsertResult, error) {
	if res.Outcome == Redundant || !r.checkInvariants {
		return res, nil
	}
	if err := r.Validate(); err != nil {
		r.logger.Error("Chunk list corrupted", "error", err)
		return res, err
	}
	return res, nil
}

// Validate checks that the list is sorted, non-overlapping, free of empty
// chunks and that every used byte count is within bounds.
func (r *Registry) Validate() error {
	for i, c := range r.chunks {
		if c.Len() == 0 {
			return fmt.Errorf("%w: chunk #%d is empty", ErrInvariantViolation, i)
		}
		if c.UsedBytes < 0 || c.UsedBytes > c.Len() {
			return fmt.Errorf("%w: chunk #%d has %d used bytes for length %d", ErrInvariantViolation, i, c.UsedBytes, c.Len())
		}
		if i == 0 {
			continue
		}
		prev := r.chunks[i-1]
		if prev.Start >= c.Start || prev.End() > c.Start {
			return fmt.Errorf("%w: chunk #%d %s overlaps or precedes chunk #%d %s", ErrInvariantViolation, i, c, i-1, prev)
		}
	}
	return nil
}

// MergeForward concatenates the chunk at index with the next one when the
// next one starts exactly where it ends. The merged chunk keeps the used
// byte count of the first chunk. It reports whether a merge happened.
func (r *Registry) MergeForward(index int) bool {
	if index < 0 || index+1 >= len(r.chunks) {
		return false
	}
	cur, next := r.chunks[index], r.chunks[index+1]
	if next.Start != cur.End() {
		return false
	}
	merged := concat(cur, next)
	r.chunks[index] = merged
	r.chunks = append(r.chunks[:index+1], r.chunks[index+2:]...)
	r.logger.Debug("Concatenating chunks", "start", merged.Start, "old_length", cur.Len(), "length", merged.Len())
	r.emit(EventMerged, index, merged)
	return true
}

// Reclaim removes every fully used chunk and returns how many were removed.
func (r *Registry) Reclaim() int {
	kept := r.chunks[:0]
	removed := 0
	for i, c := range r.chunks {
		if c.FullyUsed() {
			r.logger.Debug("Removing chunk", "index", i, "start", c.Start, "length", c.Len())
			r.emit(EventReclaimed, i, c)
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(r.chunks); i++ {
		r.chunks[i] = nil
	}
	r.chunks = kept
	return removed
}

// Level computes the buffered ranges and used byte counts without changing anything.
func (r *Registry) Level() Level {
	lvl := Level{Chunks: len(r.chunks)}
	for _, c := range r.chunks {
		n := len(lvl.Ranges)
		if n > 0 && lvl.Ranges[n-1].End == c.Start {
			lvl.Ranges[n-1].End = c.End()
		} else {
			lvl.Ranges = append(lvl.Ranges, Range{Start: c.Start, End: c.End()})
		}
		lvl.Used += c.UsedBytes
		lvl.Total += c.Len()
	}
	return lvl
}

// Report logs the current buffer level, then reclaims fully used chunks.
// The returned level describes the list before reclamation.
func (r *Registry) Report() Level {
	lvl := r.Level()
	r.logger.Debug("Buffer level", "level", lvl.String(), "ratio", lvl.Ratio())
	if r.handler != nil {
		r.handler(Event{Kind: EventLevel, Index: -1, Length: lvl.Total, Level: &lvl})
	}
	r.Reclaim()
	return lvl
}

func (r *Registry) emit(kind EventKind, index int, c *Chunk) {
	if r.handler == nil {
		return
	}
	r.handler(Event{Kind: kind, Index: index, Start: c.Start, Length: c.Len()})
}
