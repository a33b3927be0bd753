package multibuf

// EventKind identifies a diagnostic event.
type EventKind int

const (
	// EventInserted is emitted when a chunk is placed before an existing chunk.
	EventInserted EventKind = iota
	// EventAppended is emitted when a chunk is placed at the end of the list.
	EventAppended
	// EventRedundant is emitted when an inserted chunk is already fully buffered.
	EventRedundant
	// EventTrimmed is emitted when an inserted chunk loses an overlapping head or tail.
	EventTrimmed
	// EventSuperseded is emitted when a longer chunk with the same start replaces an existing one.
	EventSuperseded
	// EventMerged is emitted when two contiguous chunks are concatenated.
	EventMerged
	// EventReclaimed is emitted when a fully used chunk is removed.
	EventReclaimed
	// EventLevel carries a buffered-range summary.
	EventLevel
	// EventMisaligned is emitted when parsing cannot start because the first chunk is not at offset 0.
	EventMisaligned
)

var eventNames = map[EventKind]string{
	EventInserted:   "inserted",
	EventAppended:   "appended",
	EventRedundant:  "redundant",
	EventTrimmed:    "trimmed",
	EventSuperseded: "superseded",
	EventMerged:     "merged",
	EventReclaimed:  "reclaimed",
	EventLevel:      "level",
	EventMisaligned: "misaligned",
}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event describes something that happened to the chunk list. Events are
// purely observational.
type Event struct {
	Kind EventKind
	// Index is the list position involved, or -1.
	Index int
	// Start and Length describe the chunk involved.
	Start  int64
	Length int64
	// Level is set for EventLevel.
	Level *Level
}

// EventHandler receives diagnostic events.
type EventHandler func(Event)
