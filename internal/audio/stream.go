package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource produces interleaved stereo float32 frames. Process is
// invoked on the audio callback thread and must not block or allocate.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the io.Reader the ebiten audio
// context consumes (32-bit float little-endian stereo).
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		u := math.Float32bits(r.buf[i])
		binary.LittleEndian.PutUint32(p[i*4:], u)
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

var _ io.ReadCloser = (*StreamReader)(nil)

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// The ebiten audio context is process-global and pinned to one sample rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// ebitenOutput plays a SampleSource through the shared ebiten context.
type ebitenOutput struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

func newEbitenOutput(sampleRate int, source SampleSource) (*ebitenOutput, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &ebitenOutput{player: pl, reader: reader}, nil
}

func (o *ebitenOutput) Start() error {
	o.player.Play()
	return nil
}

func (o *ebitenOutput) Stop() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}

// Position returns what the listener actually hears right now.
func (o *ebitenOutput) Position() time.Duration {
	return o.player.Position()
}
