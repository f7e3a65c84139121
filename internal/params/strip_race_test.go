package params

import (
	"sync"
	"testing"
)

// TestStripConcurrentWriteRead hammers a single cell from a control-side
// writer while an audio-side reader spins. Every observed value must be one
// the writer actually stored - a torn read would surface as a value outside
// the written set. Run with -race; the detector is a second oracle.
func TestStripConcurrentWriteRead(t *testing.T) {
	s, err := NewStrip(DefaultStripDefs())
	if err != nil {
		t.Fatalf("NewStrip failed: %v", err)
	}

	written := []float64{0, 0.125, 0.25, 0.5, 0.8, 1}
	valid := make(map[float64]bool, len(written)+1)
	valid[0.8] = true // initial default
	for _, v := range written {
		valid[v] = true
	}

	const ops = 200000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < ops; i++ {
			s.Set(0, written[i%len(written)])
		}
	}()

	var bad float64
	var badSeen bool
	go func() {
		defer wg.Done()
		for i := 0; i < ops; i++ {
			v := s.Get(0)
			if !valid[v] {
				bad = v
				badSeen = true
				return
			}
		}
	}()

	wg.Wait()
	if badSeen {
		t.Fatalf("reader observed value %v that no writer stored", bad)
	}
}

// TestSnapshotConsistentUnderApply races Snapshot against ApplySnapshot.
// Two alternating full-strip states are applied; every snapshot must match
// one of them exactly, never a mix.
func TestSnapshotConsistentUnderApply(t *testing.T) {
	defs := []Def{
		{ID: 0, Name: "a", Min: 0, Max: 1, Default: 0},
		{ID: 1, Name: "b", Min: 0, Max: 1, Default: 0},
		{ID: 2, Name: "c", Min: 0, Max: 1, Default: 0},
		{ID: 3, Name: "d", Min: 0, Max: 1, Default: 0},
	}
	s, err := NewStrip(defs)
	if err != nil {
		t.Fatalf("NewStrip failed: %v", err)
	}

	stateA := Snapshot{Values: []float64{0.1, 0.1, 0.1, 0.1}}
	stateB := Snapshot{Values: []float64{0.9, 0.9, 0.9, 0.9}}
	if err := s.ApplySnapshot(stateA); err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.ApplySnapshot(stateB)
			} else {
				s.ApplySnapshot(stateA)
			}
		}
	}()

	var snap Snapshot
	for i := 0; i < 50000; i++ {
		s.SnapshotInto(&snap)
		first := snap.Values[0]
		for j, v := range snap.Values {
			if v != first {
				close(stop)
				wg.Wait()
				t.Fatalf("torn snapshot at read %d: value[%d]=%v, value[0]=%v", i, j, v, first)
			}
		}
	}
	close(stop)
	wg.Wait()
}
