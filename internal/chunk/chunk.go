// Package chunk implements the in-memory chunk lookup table of spec §4.G:
// three mutators (Split, Join, UpdateOwner) over a set of non-overlapping
// key ranges, all under one writer lock. Explicitly not persisted — spec §1
// Non-goals exclude "persistence of data chunks" and "replication of chunk
// contents" — grounded on the shape of the teacher's service/store.go (an
// in-process table guarded by one lock) but without its Redis/MySQL/SQLite
// persistence backends, which this table has no use for.
package chunk

import "sync"

// MarkerKind tags which of the three chunk-marker variants a Marker holds
// (spec §3/Glossary: "Start | End | Value(string)").
type MarkerKind int

const (
	MarkerStart MarkerKind = iota
	MarkerEnd
	MarkerValue
)

// Marker is one open endpoint of a chunk: the unbounded sentinels Start/End,
// or a concrete key Value. The caller owns well-ordering along the key axis
// (spec §3: "not enforced by this spec").
type Marker struct {
	Kind  MarkerKind
	Value string
}

// StartMarker is the unbounded low sentinel.
func StartMarker() Marker { return Marker{Kind: MarkerStart} }

// EndMarker is the unbounded high sentinel.
func EndMarker() Marker { return Marker{Kind: MarkerEnd} }

// ValueMarker wraps a concrete key as a chunk endpoint.
func ValueMarker(v string) Marker { return Marker{Kind: MarkerValue, Value: v} }

func (m Marker) String() string {
	switch m.Kind {
	case MarkerStart:
		return "Start"
	case MarkerEnd:
		return "End"
	default:
		return m.Value
	}
}

// Range is a chunk's key span, [Start, End).
type Range struct {
	Start Marker
	End   Marker
}

// Chunk is one entry in the table: a range and its owning node name.
type Chunk struct {
	Range Range
	Owner string
}

// Table is the single-writer-lock chunk set described in spec §4.G. There
// is no reader API specified by the core; callers take a Snapshot for
// read-only use (e.g. the startup log in cmd/databasenode).
type Table struct {
	mu     sync.Mutex
	chunks []Chunk
}

// New creates an empty chunk table.
func New() *Table {
	return &Table{}
}

func (t *Table) find(start, end Marker) int {
	for i, c := range t.chunks {
		if c.Range.Start == start && c.Range.End == end {
			return i
		}
	}
	return -1
}

func (t *Table) removeAt(i int) {
	t.chunks = append(t.chunks[:i], t.chunks[i+1:]...)
}

// Split finds the unique chunk whose endpoints exactly equal (start, end);
// if absent, it returns false without modification. Otherwise it removes
// that chunk and inserts (start, mid, newOwner) and (mid, end, newOwner).
// The split point is not validated against well-ordering — the caller owns
// that invariant (spec §4.G).
func (t *Table) Split(start, end, mid Marker, newOwner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(start, end)
	if i < 0 {
		return false
	}
	t.removeAt(i)
	t.chunks = append(t.chunks,
		Chunk{Range: Range{Start: start, End: mid}, Owner: newOwner},
		Chunk{Range: Range{Start: mid, End: end}, Owner: newOwner},
	)
	return true
}

// Join locates both chunks by exact endpoint match; if either is missing,
// it is a no-op returning false. Otherwise it removes both and inserts
// (start1, end2, newOwner) (spec §4.G).
func (t *Table) Join(start1, end1, start2, end2 Marker, newOwner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i1 := t.find(start1, end1)
	i2 := t.find(start2, end2)
	if i1 < 0 || i2 < 0 {
		return false
	}
	// Remove the higher index first so the lower index stays valid.
	if i1 > i2 {
		i1, i2 = i2, i1
	}
	t.removeAt(i2)
	t.removeAt(i1)
	t.chunks = append(t.chunks, Chunk{Range: Range{Start: start1, End: end2}, Owner: newOwner})
	return true
}

// UpdateOwner replaces the owner of the chunk with exactly these endpoints,
// reporting whether it was found (spec §4.G).
func (t *Table) UpdateOwner(start, end Marker, newOwner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.find(start, end)
	if i < 0 {
		return false
	}
	t.chunks[i].Owner = newOwner
	return true
}

// Snapshot returns a copy of every chunk currently in the table, for
// read-only consumers.
func (t *Table) Snapshot() []Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// Seed installs chunks directly, bypassing Split/Join, for bootstrapping or
// tests.
func (t *Table) Seed(chunks ...Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, chunks...)
}

// LeaderGated wraps a Table so only the current leader may mutate it,
// matching spec §2's "G is touched by E (on the leader)". Non-leader calls
// are no-ops that report false, the same shape as a missing-chunk no-op.
type LeaderGated struct {
	table    *Table
	isLeader func() bool
}

// GateToLeader returns a LeaderGated view of table, consulting isLeader
// before every mutation.
func GateToLeader(table *Table, isLeader func() bool) *LeaderGated {
	return &LeaderGated{table: table, isLeader: isLeader}
}

func (g *LeaderGated) Split(start, end, mid Marker, newOwner string) bool {
	if !g.isLeader() {
		return false
	}
	return g.table.Split(start, end, mid, newOwner)
}

func (g *LeaderGated) Join(start1, end1, start2, end2 Marker, newOwner string) bool {
	if !g.isLeader() {
		return false
	}
	return g.table.Join(start1, end1, start2, end2, newOwner)
}

func (g *LeaderGated) UpdateOwner(start, end Marker, newOwner string) bool {
	if !g.isLeader() {
		return false
	}
	return g.table.UpdateOwner(start, end, newOwner)
}

// Snapshot is always readable regardless of leadership.
func (g *LeaderGated) Snapshot() []Chunk {
	return g.table.Snapshot()
}
