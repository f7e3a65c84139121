package transport

import (
	"fmt"
	"sort"
)

// PlaybackState is the transport state machine:
// Stopped -> Playing -> Paused -> Playing -> Stopped.
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventKind tags a scheduled event. The declaration order is the tie-break
// priority for events sharing a sample time: note-offs land before note-ons
// so a retriggered pitch is not stolen by its predecessor's stuck tail, and
// parameter changes land last.
type EventKind int

const (
	KindNoteOff EventKind = iota
	KindNoteOn
	KindParameterChange
)

func (k EventKind) String() string {
	switch k {
	case KindNoteOff:
		return "noteOff"
	case KindNoteOn:
		return "noteOn"
	case KindParameterChange:
		return "paramChange"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one pending timeline entry. Events are immutable after
// insertion and consumed exactly once.
type Event struct {
	Kind     EventKind
	Time     int64 // sample time the event is due
	Seq      uint64
	Channel  int
	Pitch    int     // note events
	Velocity int     // note-on
	ParamID  int     // parameter change
	Value    float64 // parameter change
}

// Position is the transport position.
type Position struct {
	SampleTime int64
	Tempo      float64
}

// LoopPoints wraps the transport when enabled. EndSample must exceed
// StartSample.
type LoopPoints struct {
	Enabled     bool
	StartSample int64
	EndSample   int64
}

// Config configures a Scheduler.
type Config struct {
	SampleRate  int
	LookaheadMs int     // lookahead window; defaults to 200ms
	Tempo       float64 // initial tempo in BPM; defaults to 120
}

// Scheduler is the authoritative transport clock and ordered delivery of
// timed events. All methods are called from the thread that owns event
// consumption (the audio thread applies the per-block drain; scheduling
// calls arrive from the control loop between blocks). Invalid scheduling
// requests return false rather than erroring: out-of-range calls are
// expected under real-time jitter and must be cheap to reject.
type Scheduler struct {
	sampleRate int
	lookahead  int64
	tempo      float64
	state      PlaybackState
	pos        int64
	loop       LoopPoints
	pending    []Event
	due        []Event
	nextSeq    uint64
}

// NewScheduler validates cfg and builds a stopped scheduler at sample 0.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("transport: sampleRate must be positive, got %d", cfg.SampleRate)
	}
	lookMs := cfg.LookaheadMs
	if lookMs <= 0 {
		lookMs = 200
	}
	tempo := cfg.Tempo
	if tempo <= 0 {
		tempo = 120
	}
	return &Scheduler{
		sampleRate: cfg.SampleRate,
		lookahead:  int64(lookMs) * int64(cfg.SampleRate) / 1000,
		tempo:      tempo,
		pending:    make([]Event, 0, 256),
		due:        make([]Event, 0, 256),
	}, nil
}

// Lookahead returns the lookahead window in samples.
func (s *Scheduler) Lookahead() int64 { return s.lookahead }

// State returns the playback state.
func (s *Scheduler) State() PlaybackState { return s.state }

// Position returns the current transport position.
func (s *Scheduler) Position() Position {
	return Position{SampleTime: s.pos, Tempo: s.tempo}
}

// SetTempo updates the transport tempo. Non-positive values are ignored.
func (s *Scheduler) SetTempo(bpm float64) {
	if bpm > 0 {
		s.tempo = bpm
	}
}

// Play starts or resumes playback.
func (s *Scheduler) Play() {
	s.state = StatePlaying
}

// Pause holds the position. Only meaningful while playing; pausing a
// stopped transport is ignored.
func (s *Scheduler) Pause() {
	if s.state == StatePlaying {
		s.state = StatePaused
	}
}

// Stop halts playback and always resets the position to 0, whatever the
// origin state.
func (s *Scheduler) Stop() {
	s.state = StateStopped
	s.pos = 0
}

// Seek sets the position directly. Valid in any state and does not change
// the playback state. Pending events left behind the new position are
// dropped on the next ProcessEvents rather than queued.
func (s *Scheduler) Seek(sampleTime int64) {
	if sampleTime < 0 {
		sampleTime = 0
	}
	s.pos = sampleTime
}

// SetLoopPoints enables looping over [start, end). Returns false when the
// range is degenerate.
func (s *Scheduler) SetLoopPoints(start, end int64) bool {
	if start < 0 || end <= start {
		return false
	}
	s.loop = LoopPoints{Enabled: true, StartSample: start, EndSample: end}
	return true
}

// ClearLoop disables looping.
func (s *Scheduler) ClearLoop() {
	s.loop = LoopPoints{}
}

// Loop returns the current loop points.
func (s *Scheduler) Loop() LoopPoints { return s.loop }

// ScheduleNoteOn inserts a note-on. Rejected when sampleTime is already in
// the past.
func (s *Scheduler) ScheduleNoteOn(channel, pitch, velocity int, sampleTime int64) (uint64, bool) {
	if sampleTime < s.pos {
		return 0, false
	}
	return s.insert(Event{
		Kind:     KindNoteOn,
		Time:     sampleTime,
		Channel:  channel,
		Pitch:    pitch,
		Velocity: velocity,
	}), true
}

// ScheduleNoteOff inserts a note-off. A note-off behind the position is
// still accepted within the lookahead window when a pending note-on for the
// same channel and pitch exists; that pair describes a zero-length note, so
// the pending note-on is withdrawn and neither event is delivered. Every
// pending note-on sits at or ahead of the position, so delivering the late
// off instead would sort it ahead of its own note-on and leave the note
// with no terminator. Other past times are rejected.
func (s *Scheduler) ScheduleNoteOff(channel, pitch int, sampleTime int64) (uint64, bool) {
	if sampleTime < s.pos {
		if sampleTime < s.pos-s.lookahead {
			return 0, false
		}
		i := s.pendingNoteOnIndex(channel, pitch)
		if i < 0 {
			return 0, false
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.nextSeq++
		return s.nextSeq, true
	}
	return s.insert(Event{
		Kind:    KindNoteOff,
		Time:    sampleTime,
		Channel: channel,
		Pitch:   pitch,
	}), true
}

// ScheduleParameterChange inserts a timed parameter change. Rejected when
// sampleTime is already in the past; continuous live tweaks belong on the
// parameter strip, not the timeline.
func (s *Scheduler) ScheduleParameterChange(channel, paramID int, value float64, sampleTime int64) (uint64, bool) {
	if sampleTime < s.pos {
		return 0, false
	}
	return s.insert(Event{
		Kind:    KindParameterChange,
		Time:    sampleTime,
		Channel: channel,
		ParamID: paramID,
		Value:   value,
	}), true
}

// Unschedule withdraws a pending event by its sequence number. An event
// inside the lookahead horizon is committed and can no longer be
// withdrawn.
func (s *Scheduler) Unschedule(seq uint64) bool {
	for i := range s.pending {
		if s.pending[i].Seq != seq {
			continue
		}
		if s.pending[i].Time <= s.pos+s.lookahead {
			return false
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return true
	}
	return false
}

// PendingCount returns the number of events awaiting delivery.
func (s *Scheduler) PendingCount() int { return len(s.pending) }

// ProcessEvents advances the transport by blockSize samples and returns
// every event due within the block, ordered by sample time, then event
// kind, then insertion sequence. When the loop end falls inside the block
// the position wraps to the loop start and the remainder of the block is
// drained from there, so the returned sequence is in block order across the
// wrap. The returned slice is reused by the next call.
//
// A stopped or paused transport neither advances nor delivers.
func (s *Scheduler) ProcessEvents(blockSize int) []Event {
	s.due = s.due[:0]
	if s.state != StatePlaying || blockSize <= 0 {
		return s.due
	}
	s.dropStale()

	remaining := int64(blockSize)
	for remaining > 0 {
		span := remaining
		wrap := false
		if s.loop.Enabled && s.pos < s.loop.EndSample && s.pos+span >= s.loop.EndSample {
			span = s.loop.EndSample - s.pos
			wrap = true
		}
		s.drainWindow(s.pos, s.pos+span)
		remaining -= span
		if wrap {
			s.pos = s.loop.StartSample
		} else {
			s.pos += span
		}
	}
	return s.due
}

// dropStale discards pending events whose time fell behind the position
// (possible after a forward seek). Stale commands are dropped, not queued:
// replaying them late would be worse than losing them.
func (s *Scheduler) dropStale() {
	n := 0
	for i := range s.pending {
		if s.pending[i].Time >= s.pos {
			s.pending[n] = s.pending[i]
			n++
		}
	}
	s.pending = s.pending[:n]
}

// drainWindow moves events with Time in [from, to) into the due list.
// pending is sorted, so the window is a prefix once events behind from are
// gone.
func (s *Scheduler) drainWindow(from, to int64) {
	cut := 0
	for cut < len(s.pending) && s.pending[cut].Time < to {
		if s.pending[cut].Time >= from {
			s.due = append(s.due, s.pending[cut])
		}
		cut++
	}
	if cut > 0 {
		s.pending = append(s.pending[:0], s.pending[cut:]...)
	}
}

// pendingNoteOnIndex returns the index of the earliest pending note-on for
// channel and pitch, or -1. pending is sorted, so the first match is the
// earliest.
func (s *Scheduler) pendingNoteOnIndex(channel, pitch int) int {
	for i := range s.pending {
		e := &s.pending[i]
		if e.Kind == KindNoteOn && e.Channel == channel && e.Pitch == pitch {
			return i
		}
	}
	return -1
}

// insert places ev into the pending set, keeping it sorted by
// (Time, Kind, Seq). The insertion point is found by binary search; new
// events usually land near the tail, so the copy is short.
func (s *Scheduler) insert(ev Event) uint64 {
	s.nextSeq++
	ev.Seq = s.nextSeq
	i := sort.Search(len(s.pending), func(i int) bool {
		p := &s.pending[i]
		if p.Time != ev.Time {
			return p.Time > ev.Time
		}
		if p.Kind != ev.Kind {
			return p.Kind > ev.Kind
		}
		return p.Seq > ev.Seq
	})
	s.pending = append(s.pending, Event{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = ev
	return ev.Seq
}
