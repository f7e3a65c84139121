package audio

import "fmt"

// Backend selects the playback mechanism.
type Backend int

const (
	// BackendEbiten streams through the shared ebiten audio context.
	BackendEbiten Backend = iota
	// BackendPortAudio opens a low-latency portaudio callback stream.
	BackendPortAudio
	// BackendHeadless drives the source on a wall-clock timer without a
	// device; for tests and CI.
	BackendHeadless
)

// Output is a running playback route for one SampleSource.
type Output interface {
	Start() error
	Stop() error
}

// NewOutput opens the selected backend. bufferFrames is a latency hint;
// backends that size their own buffers ignore it.
func NewOutput(backend Backend, sampleRate, bufferFrames int, source SampleSource) (Output, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sampleRate must be positive, got %d", sampleRate)
	}
	if bufferFrames <= 0 {
		bufferFrames = 512
	}
	switch backend {
	case BackendEbiten:
		return newEbitenOutput(sampleRate, source)
	case BackendPortAudio:
		return newPortAudioOutput(sampleRate, bufferFrames, source)
	case BackendHeadless:
		return newHeadlessOutput(sampleRate, bufferFrames, source), nil
	default:
		return nil, fmt.Errorf("audio: unknown backend %d", backend)
	}
}
