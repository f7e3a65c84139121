// Package pulsecore is the concurrency core of a real-time audio engine:
// a sample-accurate event transport, a polyphonic voice allocator, lock-free
// per-bus parameter strips and an adaptive dropout controller, wired into a
// single block-driven Engine. Rendering itself is left to the caller via the
// Renderer hook; the core guarantees ordering, bounded latency and wait-free
// parameter exchange between the control and audio threads.
package pulsecore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	intaudio "github.com/cbegin/pulsecore-go/internal/audio"
	intdrop "github.com/cbegin/pulsecore-go/internal/dropout"
	intparams "github.com/cbegin/pulsecore-go/internal/params"
	inttransport "github.com/cbegin/pulsecore-go/internal/transport"
	intvoice "github.com/cbegin/pulsecore-go/internal/voice"
)

// Renderer fills dst (stereo interleaved) from the currently sounding
// voices. It runs on the audio thread with the block's voice set already
// resolved; implementations read per-bus parameters from each Info's Strip
// and must not block or allocate.
type Renderer interface {
	Render(dst []float32, voices []intvoice.Info)
}

// EngineOption configures NewEngine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	maxPolyphony   int
	stealing       bool
	lookaheadMs    int
	tempo          float64
	buses          int
	blockFrames    int
	defaultRelease int64
	renderer       Renderer
	channelPri     map[int]intvoice.Priority
	channelRole    map[int]int
	onStolen       func(intvoice.Info)
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxPolyphony: 32,
		stealing:     true,
		tempo:        120,
		buses:        16,
		blockFrames:  256,
	}
}

// WithMaxPolyphony sets the fixed voice slot count (default 32).
func WithMaxPolyphony(n int) EngineOption {
	return func(cfg *engineConfig) { cfg.maxPolyphony = n }
}

// WithStealing enables or disables lowest-priority voice stealing
// (default enabled). With stealing off, allocation past the polyphony
// limit fails and the note is dropped.
func WithStealing(enabled bool) EngineOption {
	return func(cfg *engineConfig) { cfg.stealing = enabled }
}

// WithLookaheadMs sets the transport scheduling window (default 200ms).
func WithLookaheadMs(ms int) EngineOption {
	return func(cfg *engineConfig) { cfg.lookaheadMs = ms }
}

// WithTempo sets the initial tempo in BPM (default 120).
func WithTempo(bpm float64) EngineOption {
	return func(cfg *engineConfig) { cfg.tempo = bpm }
}

// WithBuses sets the channel strip count (default 16). Events addressed to
// channels at or past the bus count still drive voices but have no strip.
func WithBuses(n int) EngineOption {
	return func(cfg *engineConfig) { cfg.buses = n }
}

// WithBlockFrames sets the frames processed per block (default 256).
func WithBlockFrames(frames int) EngineOption {
	return func(cfg *engineConfig) { cfg.blockFrames = frames }
}

// WithDefaultReleaseSamples sets the release tail length used when a note
// carries no hint.
func WithDefaultReleaseSamples(n int64) EngineOption {
	return func(cfg *engineConfig) { cfg.defaultRelease = n }
}

// WithRenderer installs the signal path called each block with the active
// voice set. It runs on the audio thread; keep work brief and non-blocking.
func WithRenderer(r Renderer) EngineOption {
	return func(cfg *engineConfig) { cfg.renderer = r }
}

// WithChannelPriority assigns the steal-priority tier of notes scheduled on
// channel. Unassigned channels allocate at Secondary.
func WithChannelPriority(channel int, pri intvoice.Priority) EngineOption {
	return func(cfg *engineConfig) {
		if cfg.channelPri == nil {
			cfg.channelPri = make(map[int]intvoice.Priority)
		}
		cfg.channelPri[channel] = pri
	}
}

// WithChannelRole tags notes scheduled on channel with a role for
// StopRoleVoices. Unassigned channels use their channel number.
func WithChannelRole(channel, role int) EngineOption {
	return func(cfg *engineConfig) {
		if cfg.channelRole == nil {
			cfg.channelRole = make(map[int]int)
		}
		cfg.channelRole[channel] = role
	}
}

// WithStolenHook installs a callback told the victim of each voice steal.
// It runs inside allocation on the audio thread; must not block.
func WithStolenHook(fn func(intvoice.Info)) EngineOption {
	return func(cfg *engineConfig) { cfg.onStolen = fn }
}

// Engine wires the transport, voice manager, parameter strips and dropout
// controller into one block-driven core. ProcessBlock and Process run on
// the audio thread. While a device is running the control thread reaches
// the transport and voices through Do; parameter strips and the count and
// metrics accessors are lock-free and safe from either thread directly.
// The mutex only guards start/stop and re-preparation, not the per-block
// path.
type Engine struct {
	mu          sync.Mutex
	sampleRate  int
	blockFrames int
	cfg         engineConfig

	scheduler *inttransport.Scheduler
	voices    *intvoice.Manager
	strips    []*intparams.Strip
	dropout   *intdrop.Controller

	renderer Renderer
	scratch  []intvoice.Info
	audio    intaudio.Output
	budgetUs int64
	cmds     chan func(*Engine)
}

// NewEngine builds the core for the given sample rate. Configuration errors
// are the only fatal condition; everything after this call is non-blocking
// on the audio path.
func NewEngine(sampleRate int, opts ...EngineOption) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("pulsecore: sampleRate must be positive")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.blockFrames <= 0 {
		return nil, fmt.Errorf("pulsecore: blockFrames must be positive, got %d", cfg.blockFrames)
	}
	if cfg.buses < 0 {
		return nil, fmt.Errorf("pulsecore: bus count must be non-negative, got %d", cfg.buses)
	}

	sched, err := inttransport.NewScheduler(inttransport.Config{
		SampleRate:  sampleRate,
		LookaheadMs: cfg.lookaheadMs,
		Tempo:       cfg.tempo,
	})
	if err != nil {
		return nil, err
	}

	strips := make([]*intparams.Strip, cfg.buses)
	for i := range strips {
		strip, err := intparams.NewStrip(intparams.DefaultStripDefs())
		if err != nil {
			return nil, err
		}
		strips[i] = strip
	}

	policy := intvoice.StealNone
	if cfg.stealing {
		policy = intvoice.StealLowestPriority
	}
	voices, err := intvoice.NewManager(intvoice.Config{
		MaxPolyphony:          cfg.maxPolyphony,
		Policy:                policy,
		DefaultReleaseSamples: cfg.defaultRelease,
		Strips:                strips,
		OnStolen:              cfg.onStolen,
	})
	if err != nil {
		return nil, err
	}

	drop, err := intdrop.NewController(cfg.blockFrames)
	if err != nil {
		return nil, err
	}

	return &Engine{
		sampleRate:  sampleRate,
		blockFrames: cfg.blockFrames,
		cfg:         cfg,
		scheduler:   sched,
		voices:      voices,
		strips:      strips,
		dropout:     drop,
		renderer:    cfg.renderer,
		scratch:     make([]intvoice.Info, 0, cfg.maxPolyphony),
		budgetUs:    int64(cfg.blockFrames) * 1e6 / int64(sampleRate),
		cmds:        make(chan func(*Engine), 256),
	}, nil
}

// Scheduler returns the transport for control-thread scheduling.
func (e *Engine) Scheduler() *inttransport.Scheduler { return e.scheduler }

// Voices returns the voice manager.
func (e *Engine) Voices() *intvoice.Manager { return e.voices }

// Strip returns the parameter strip of a bus, or nil when out of range.
func (e *Engine) Strip(busID int) *intparams.Strip {
	if busID < 0 || busID >= len(e.strips) {
		return nil
	}
	return e.strips[busID]
}

// Buses returns the channel strip count.
func (e *Engine) Buses() int { return len(e.strips) }

// Dropout returns the dropout controller for control-thread polling.
func (e *Engine) Dropout() *intdrop.Controller { return e.dropout }

// SampleRate returns the configured sample rate.
func (e *Engine) SampleRate() int { return e.sampleRate }

// BlockFrames returns the frames processed per block.
func (e *Engine) BlockFrames() int { return e.blockFrames }

// ProcessBlock advances the transport by blockFrames frames, applies the
// due events in order, reaps finished voices, renders into dst when a
// renderer is installed, and feeds the block's timing to the dropout
// controller. dst may be nil when only the control state matters (tests,
// headless runs). len(dst) is 2*blockFrames when non-nil.
func (e *Engine) ProcessBlock(dst []float32, blockFrames int) {
	start := time.Now()

	for drained := false; !drained; {
		select {
		case fn := <-e.cmds:
			fn(e)
		default:
			drained = true
		}
	}

	events := e.scheduler.ProcessEvents(blockFrames)
	for i := range events {
		e.applyEvent(&events[i])
	}
	now := e.scheduler.Position().SampleTime
	e.voices.Update(now)

	if dst != nil {
		for i := range dst {
			dst[i] = 0
		}
		if e.renderer != nil {
			e.scratch = e.voices.ActiveInto(e.scratch[:0])
			e.renderer.Render(dst, e.scratch)
		}
	}

	elapsed := time.Since(start).Microseconds()
	budget := e.budgetUs
	if blockFrames != e.blockFrames {
		budget = int64(blockFrames) * 1e6 / int64(e.sampleRate)
	}
	e.dropout.RecordBlockDuration(elapsed, budget)
}

func (e *Engine) applyEvent(ev *inttransport.Event) {
	switch ev.Kind {
	case inttransport.KindNoteOn:
		pri := intvoice.PrioritySecondary
		if p, ok := e.cfg.channelPri[ev.Channel]; ok {
			pri = p
		}
		role := ev.Channel
		if r, ok := e.cfg.channelRole[ev.Channel]; ok {
			role = r
		}
		// NoVoice means backpressure; the note is dropped, never queued.
		e.voices.Allocate(ev.Pitch, ev.Velocity, pri, role, ev.Channel, 0, ev.Time)
	case inttransport.KindNoteOff:
		if id := e.voices.FindActive(ev.Channel, ev.Pitch); id != intvoice.NoVoice {
			e.voices.Release(id, ev.Time)
		}
	case inttransport.KindParameterChange:
		if strip := e.Strip(ev.Channel); strip != nil {
			strip.Set(ev.ParamID, ev.Value)
		}
	}
}

// Do queues fn to run on the audio thread at the start of the next block,
// before events are drained. This is how the control thread reaches the
// transport and voice manager while a device is running: fn owns the
// components for its duration and must not block. Do never blocks; it
// reports false when the queue is full and fn was dropped.
func (e *Engine) Do(fn func(*Engine)) bool {
	select {
	case e.cmds <- fn:
		return true
	default:
		return false
	}
}

// Process fills dst (stereo interleaved float32) by running ProcessBlock in
// blockFrames chunks. It adapts the engine to the audio backends'
// SampleSource contract.
func (e *Engine) Process(dst []float32) {
	frames := len(dst) / 2
	for off := 0; frames > 0; {
		n := e.blockFrames
		if n > frames {
			n = frames
		}
		e.ProcessBlock(dst[off:off+n*2], n)
		off += n * 2
		frames -= n
	}
}

// Start opens the audio backend and begins driving the engine from the
// device callback. bufferFrames of 0 uses the dropout controller's current
// recommendation.
func (e *Engine) Start(backend intaudio.Backend, bufferFrames int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.audio != nil {
		return errors.New("pulsecore: engine already started")
	}
	if bufferFrames <= 0 {
		bufferFrames = e.dropout.RecommendedBufferFrames()
	}
	out, err := intaudio.NewOutput(backend, e.sampleRate, bufferFrames, e)
	if err != nil {
		return err
	}
	if err := out.Start(); err != nil {
		return err
	}
	e.audio = out
	return nil
}

// Stop stops the audio backend. The transport and voices keep their state;
// call Scheduler().Stop() to rewind.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.audio == nil {
		return nil
	}
	err := e.audio.Stop()
	e.audio = nil
	return err
}

// Prepare re-prepares the core for a device change: new sample rate and
// block size, transport rewound with pending events discarded, all voices
// hard-stopped. Parameter values survive. The audio backend must be
// stopped first.
func (e *Engine) Prepare(sampleRate, blockFrames int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.audio != nil {
		return errors.New("pulsecore: stop the engine before Prepare")
	}
	if sampleRate <= 0 {
		return errors.New("pulsecore: sampleRate must be positive")
	}
	if blockFrames <= 0 {
		return fmt.Errorf("pulsecore: blockFrames must be positive, got %d", blockFrames)
	}
	sched, err := inttransport.NewScheduler(inttransport.Config{
		SampleRate:  sampleRate,
		LookaheadMs: e.cfg.lookaheadMs,
		Tempo:       e.scheduler.Position().Tempo,
	})
	if err != nil {
		return err
	}
	drop, err := intdrop.NewController(blockFrames)
	if err != nil {
		return err
	}
	e.voices.StopAll()
	e.sampleRate = sampleRate
	e.blockFrames = blockFrames
	e.scheduler = sched
	e.dropout = drop
	e.budgetUs = int64(blockFrames) * 1e6 / int64(sampleRate)
	return nil
}

var _ intaudio.SampleSource = (*Engine)(nil)
