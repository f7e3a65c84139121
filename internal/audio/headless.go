package audio

import (
	"sync"
	"time"
)

// headlessOutput drives the source at the device period without producing
// sound. It gives tests and CI the same callback cadence a real device
// would.
type headlessOutput struct {
	period time.Duration
	buf    []float32
	source SampleSource

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newHeadlessOutput(sampleRate, bufferFrames int, source SampleSource) *headlessOutput {
	return &headlessOutput{
		period: time.Duration(bufferFrames) * time.Second / time.Duration(sampleRate),
		buf:    make([]float32, bufferFrames*2),
		source: source,
	}
}

func (o *headlessOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop != nil {
		return nil
	}
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.run(o.stop, o.done)
	return nil
}

func (o *headlessOutput) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.source.Process(o.buf)
		}
	}
}

func (o *headlessOutput) Stop() error {
	o.mu.Lock()
	stop, done := o.stop, o.done
	o.stop, o.done = nil, nil
	o.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
