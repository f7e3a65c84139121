package audio

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

type rampSource struct {
	calls atomic.Int64
}

func (s *rampSource) Process(dst []float32) {
	s.calls.Add(1)
	for i := range dst {
		dst[i] = float32(i) / float32(len(dst))
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	src := &rampSource{}
	r := NewStreamReader(src)

	p := make([]byte, 64*8) // 64 stereo float32 frames
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != len(p) {
		t.Fatalf("expected full read of %d bytes, got %d", len(p), n)
	}
	// Sample 1 of 128 in the ramp is 1/128.
	got := math.Float32frombits(binary.LittleEndian.Uint32(p[4:]))
	if got != 1.0/128.0 {
		t.Fatalf("expected sample 1/128, got %g", got)
	}
}

func TestStreamReaderZeroLengthRead(t *testing.T) {
	r := NewStreamReader(&rampSource{})
	n, err := r.Read(make([]byte, 3))
	if n != 0 || err != nil {
		t.Fatalf("expected 0-byte read with nil error, got %d, %v", n, err)
	}
}

func TestHeadlessOutputDrivesSourcePeriodically(t *testing.T) {
	src := &rampSource{}
	out, err := NewOutput(BackendHeadless, 48000, 128, src)
	if err != nil {
		t.Fatalf("NewOutput failed: %v", err)
	}
	if err := out.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// 128 frames at 48kHz is ~2.7ms per callback; 100ms gives plenty.
	time.Sleep(100 * time.Millisecond)
	if err := out.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := src.calls.Load(); got < 5 {
		t.Fatalf("expected periodic callbacks, got %d", got)
	}
	// Stop is idempotent.
	if err := out.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestNewOutputValidation(t *testing.T) {
	if _, err := NewOutput(BackendHeadless, 0, 128, &rampSource{}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := NewOutput(Backend(99), 48000, 128, &rampSource{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
