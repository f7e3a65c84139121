package audio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"
)

// portAudioOutput runs the source inside a portaudio callback, the lowest
// latency route available without a game loop.
type portAudioOutput struct {
	stream *pa.Stream
	buf    []float32
}

func newPortAudioOutput(sampleRate, bufferFrames int, source SampleSource) (*portAudioOutput, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: portaudio init: %w", err)
	}
	o := &portAudioOutput{buf: make([]float32, bufferFrames*2)}
	stream, err := pa.OpenDefaultStream(0, 2, float64(sampleRate), bufferFrames,
		func(out [][]float32) {
			// The buffer is pre-sized; no allocation in the callback.
			n := len(out[0])
			need := n * 2
			if need > len(o.buf) {
				need = len(o.buf)
				n = need / 2
			}
			buf := o.buf[:need]
			source.Process(buf)
			for i := 0; i < n; i++ {
				out[0][i] = buf[i*2]
				out[1][i] = buf[i*2+1]
			}
		})
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("audio: open portaudio stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

func (o *portAudioOutput) Start() error {
	return o.stream.Start()
}

func (o *portAudioOutput) Stop() error {
	if err := o.stream.Stop(); err != nil {
		_ = o.stream.Close()
		_ = pa.Terminate()
		return err
	}
	if err := o.stream.Close(); err != nil {
		_ = pa.Terminate()
		return err
	}
	return pa.Terminate()
}
