package params

import "testing"

// Design targets: single get/set under ~1us, full snapshot under ~2-5us.

func BenchmarkStripSet(b *testing.B) {
	s, err := NewStrip(DefaultStripDefs())
	if err != nil {
		b.Fatalf("NewStrip failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set(0, float64(i&0xFF)/255.0)
	}
}

func BenchmarkStripGet(b *testing.B) {
	s, err := NewStrip(DefaultStripDefs())
	if err != nil {
		b.Fatalf("NewStrip failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	var sink float64
	for i := 0; i < b.N; i++ {
		sink += s.Get(0)
	}
	_ = sink
}

func BenchmarkStripSnapshot(b *testing.B) {
	s, err := NewStrip(DefaultStripDefs())
	if err != nil {
		b.Fatalf("NewStrip failed: %v", err)
	}
	var snap Snapshot
	s.SnapshotInto(&snap)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.SnapshotInto(&snap)
	}
}

func BenchmarkSnapshotEncode(b *testing.B) {
	s, err := NewStrip(DefaultStripDefs())
	if err != nil {
		b.Fatalf("NewStrip failed: %v", err)
	}
	snap := s.Snapshot()
	buf := make([]byte, EncodedSize(len(snap.Values)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeSnapshotInto(buf, snap)
	}
}
