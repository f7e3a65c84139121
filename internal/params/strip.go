package params

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Def declares one parameter of a channel strip. Values written outside
// [Min, Max] are clamped on Set, never rejected: a control surface must not
// produce an error for a continuous value.
type Def struct {
	ID      int
	Name    string
	Min     float64
	Max     float64
	Default float64
}

// DefaultStripDefs returns the parameter set of a standard channel strip:
// continuous mix controls plus two meter cells the audio thread writes back.
func DefaultStripDefs() []Def {
	return []Def{
		{ID: 0, Name: "volume", Min: 0, Max: 1, Default: 0.8},
		{ID: 1, Name: "pan", Min: -1, Max: 1, Default: 0},
		{ID: 2, Name: "cutoff", Min: 0, Max: 1, Default: 1},
		{ID: 3, Name: "resonance", Min: 0, Max: 1, Default: 0},
		{ID: 4, Name: "sendA", Min: 0, Max: 1, Default: 0},
		{ID: 5, Name: "sendB", Min: 0, Max: 1, Default: 0},
		{ID: 6, Name: "meterL", Min: 0, Max: 1, Default: 0},
		{ID: 7, Name: "meterR", Min: 0, Max: 1, Default: 0},
	}
}

// cell holds one parameter value as float64 bits in a single atomic word.
// The trailing padding keeps each cell on its own cache line so unrelated
// control-thread writers never contend with the audio-thread reader.
type cell struct {
	bits atomic.Uint64
	_    [56]byte
}

// Strip is the lock-free parameter exchange between the audio callback
// thread and the control thread. Get and Set are wait-free: one atomic word
// access, no locks, no allocation. Concurrent writers to the same parameter
// resolve by last-write-wins, which is the intended model for continuous
// controls; ordered discrete events go through the transport scheduler
// instead.
type Strip struct {
	defs  []Def
	cells []cell

	// gen is the seqlock generation for multi-cell operations. It is odd
	// while ApplySnapshot is writing; Snapshot retries when it observes an
	// odd or changed generation.
	gen atomic.Uint64
}

// NewStrip builds a strip from defs. Defs must be densely indexed: the
// parameter at position i must have ID i. This is the only place the strip
// can fail; everything after construction is error-free.
func NewStrip(defs []Def) (*Strip, error) {
	if len(defs) == 0 {
		return nil, errors.New("params: at least one parameter def required")
	}
	for i, d := range defs {
		if d.ID != i {
			return nil, fmt.Errorf("params: def %q has ID %d, want %d", d.Name, d.ID, i)
		}
		if d.Max < d.Min {
			return nil, fmt.Errorf("params: def %q has inverted range [%g, %g]", d.Name, d.Min, d.Max)
		}
	}
	s := &Strip{
		defs:  append([]Def(nil), defs...),
		cells: make([]cell, len(defs)),
	}
	for i, d := range defs {
		s.cells[i].bits.Store(math.Float64bits(clamp(d.Default, d.Min, d.Max)))
	}
	return s, nil
}

// Len returns the number of parameters.
func (s *Strip) Len() int { return len(s.defs) }

// Defs returns the parameter declarations. The slice is shared; do not
// mutate it.
func (s *Strip) Defs() []Def { return s.defs }

// Get reads the current value of a parameter. Out-of-range IDs read as 0.
func (s *Strip) Get(paramID int) float64 {
	if paramID < 0 || paramID >= len(s.cells) {
		return 0
	}
	return math.Float64frombits(s.cells[paramID].bits.Load())
}

// Set stores a new value, silently clamped to the parameter's declared
// range. Out-of-range IDs are ignored. Safe from any thread.
func (s *Strip) Set(paramID int, value float64) {
	if paramID < 0 || paramID >= len(s.cells) {
		return
	}
	d := s.defs[paramID]
	s.cells[paramID].bits.Store(math.Float64bits(clamp(value, d.Min, d.Max)))
}

// snapshotRetries bounds the seqlock retry loop so Snapshot stays wait-free
// in practice. ApplySnapshot holds the odd generation only for a handful of
// atomic stores, so a retry budget this size is never exhausted unless the
// apply path is being hammered, in which case the last pass is returned
// as-is (each cell read is still individually untorn).
const snapshotRetries = 64

// Snapshot produces a consistent point-in-time copy of every parameter,
// even while writers are active. Individual Sets interleave freely (each is
// a single atomic word), but a concurrent ApplySnapshot is detected via the
// generation counter and the read pass is retried.
func (s *Strip) Snapshot() Snapshot {
	snap := Snapshot{Values: make([]float64, len(s.cells))}
	s.SnapshotInto(&snap)
	return snap
}

// SnapshotInto fills snap without allocating when its Values slice already
// has capacity, for audio-thread and benchmark use.
func (s *Strip) SnapshotInto(snap *Snapshot) {
	n := len(s.cells)
	if cap(snap.Values) < n {
		snap.Values = make([]float64, n)
	}
	snap.Values = snap.Values[:n]
	for try := 0; try < snapshotRetries; try++ {
		g1 := s.gen.Load()
		if g1&1 != 0 {
			continue
		}
		for i := range s.cells {
			snap.Values[i] = math.Float64frombits(s.cells[i].bits.Load())
		}
		if s.gen.Load() == g1 {
			snap.Generation = g1
			return
		}
	}
	snap.Generation = s.gen.Load()
}

// ApplySnapshot restores every parameter, clamped to its declared range,
// and publishes a new generation only after all cells are written. Intended
// for the control thread (state recall); it is the only multi-cell writer
// and must not be called concurrently with itself.
func (s *Strip) ApplySnapshot(snap Snapshot) error {
	if len(snap.Values) != len(s.cells) {
		return fmt.Errorf("params: snapshot has %d values, strip has %d", len(snap.Values), len(s.cells))
	}
	s.gen.Add(1) // odd: readers back off
	for i, v := range snap.Values {
		d := s.defs[i]
		s.cells[i].bits.Store(math.Float64bits(clamp(v, d.Min, d.Max)))
	}
	s.gen.Add(1) // even: publish
	return nil
}

// Snapshot is an immutable point-in-time copy of one strip.
type Snapshot struct {
	Generation uint64
	Values     []float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
