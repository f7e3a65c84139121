package voice

import (
	"fmt"
	"sync/atomic"

	"github.com/cbegin/pulsecore-go/internal/params"
)

// Priority orders voices for stealing. Numerically lower tiers are evicted
// first, so Tertiary beds give way to Secondary lines which give way to
// Primary leads.
type Priority int

const (
	PriorityTertiary Priority = iota
	PrioritySecondary
	PriorityPrimary
)

func (p Priority) String() string {
	switch p {
	case PriorityPrimary:
		return "primary"
	case PrioritySecondary:
		return "secondary"
	case PriorityTertiary:
		return "tertiary"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// State is the lifecycle of one voice slot.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateReleasing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateReleasing:
		return "releasing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StealPolicy selects behavior when every slot is in use.
type StealPolicy int

const (
	// StealNone makes Allocate return NoVoice at the polyphony limit.
	// Backpressure, not an error: the caller drops the note.
	StealNone StealPolicy = iota
	// StealLowestPriority evicts the lowest-priority voice, oldest first.
	StealLowestPriority
)

// NoVoice is returned by Allocate when no slot can be provided.
const NoVoice = -1

// stolenReleaseSamples is the abbreviated tail a stolen voice gets; the
// slot itself is handed to the new voice in the same call, so this only
// informs the signal path via the OnStolen hook.
const stolenReleaseSamples = 64

// slot is one entry of the fixed voice table. Slot fields other than state
// are written only by the thread that owns event consumption; state is
// atomic so the read accessors stay lock-free from the control thread.
type slot struct {
	state             atomic.Int32
	pitch             int
	velocity          int
	priority          Priority
	role              int
	busID             int
	startSampleTime   int64
	releaseSampleTime int64
	releaseSamples    int64
	sustainHeld       bool
	pendingRelease    bool
	strip             *params.Strip
}

// Info is a copy of one slot's observable state.
type Info struct {
	ID                int
	Pitch             int
	Velocity          int
	Priority          Priority
	Role              int
	BusID             int
	State             State
	StartSampleTime   int64
	ReleaseSampleTime int64
	ReleaseSamples    int64
	SustainHeld       bool
	Strip             *params.Strip
}

// Config configures a Manager.
type Config struct {
	MaxPolyphony int
	Policy       StealPolicy
	// DefaultReleaseSamples is used when Allocate gets a non-positive
	// release hint.
	DefaultReleaseSamples int64
	// Strips, when set, binds each voice to the parameter strip of its bus
	// so the signal path can read per-voice parameters without a lookup.
	Strips []*params.Strip
	// OnStolen, when set, is told the victim of each steal so the signal
	// path can fade its tail. Must be non-blocking; it runs inside
	// Allocate on the audio thread.
	OnStolen func(Info)
}

// Manager owns the fixed set of voice slots and enforces the polyphony
// limit. Allocate, Release, Update, SustainPedal and StopRoleVoices are
// called by whichever thread owns event consumption; the count and info
// accessors are lock-free and safe from the control thread. Nothing here
// allocates after construction.
type Manager struct {
	slots     []slot
	policy    StealPolicy
	defRel    int64
	strips    []*params.Strip
	onStolen  func(Info)
	pedalHeld bool
	active    atomic.Int32
	releasing atomic.Int32
}

// NewManager validates cfg and builds the slot table. Misconfiguration here
// is the only fatal condition in the package.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MaxPolyphony <= 0 {
		return nil, fmt.Errorf("voice: maxPolyphony must be positive, got %d", cfg.MaxPolyphony)
	}
	defRel := cfg.DefaultReleaseSamples
	if defRel <= 0 {
		defRel = 4800 // 100ms at 48k
	}
	return &Manager{
		slots:    make([]slot, cfg.MaxPolyphony),
		policy:   cfg.Policy,
		defRel:   defRel,
		strips:   cfg.Strips,
		onStolen: cfg.OnStolen,
	}, nil
}

// MaxPolyphony returns the slot count.
func (m *Manager) MaxPolyphony() int { return len(m.slots) }

// Allocate claims a voice slot and returns its id, or NoVoice when the
// table is full and the policy forbids stealing (or no non-idle voice
// exists to steal, which cannot happen in practice). Never blocks, never
// retries: if the only path to a slot would wait, the note is dropped.
func (m *Manager) Allocate(pitch, velocity int, pri Priority, role, busID int, releaseHint int64, now int64) int {
	id := m.findIdle()
	if id == NoVoice {
		if m.policy == StealNone {
			return NoVoice
		}
		id = m.findVictim()
		if id == NoVoice {
			return NoVoice
		}
		victim := &m.slots[id]
		if m.onStolen != nil {
			// The victim goes out as Releasing with the abbreviated tail;
			// the hook is the signal path's cue to fade it.
			info := m.infoAt(id, StateReleasing)
			info.ReleaseSampleTime = now
			info.ReleaseSamples = stolenReleaseSamples
			m.onStolen(info)
		}
		// The victim's slot is reused in the same call; its tail is the
		// signal path's problem via OnStolen.
		switch State(victim.state.Load()) {
		case StateActive:
			// replaced by the new active voice; count unchanged
		case StateReleasing:
			m.releasing.Add(-1)
			m.active.Add(1)
		}
	} else {
		m.active.Add(1)
	}

	rel := releaseHint
	if rel <= 0 {
		rel = m.defRel
	}
	s := &m.slots[id]
	s.pitch = pitch
	s.velocity = velocity
	s.priority = pri
	s.role = role
	s.busID = busID
	s.startSampleTime = now
	s.releaseSampleTime = 0
	s.releaseSamples = rel
	s.sustainHeld = m.pedalHeld
	s.pendingRelease = false
	s.strip = m.stripFor(busID)
	s.state.Store(int32(StateActive))
	return id
}

func (m *Manager) stripFor(busID int) *params.Strip {
	if busID >= 0 && busID < len(m.strips) {
		return m.strips[busID]
	}
	return nil
}

func (m *Manager) findIdle() int {
	for i := range m.slots {
		if State(m.slots[i].state.Load()) == StateIdle {
			return i
		}
	}
	return NoVoice
}

// findVictim picks the eviction target: lowest priority tier first, ties
// broken by oldest start time.
func (m *Manager) findVictim() int {
	victim := NoVoice
	for i := range m.slots {
		s := &m.slots[i]
		if State(s.state.Load()) == StateIdle {
			continue
		}
		if victim == NoVoice {
			victim = i
			continue
		}
		v := &m.slots[victim]
		if s.priority < v.priority || (s.priority == v.priority && s.startSampleTime < v.startSampleTime) {
			victim = i
		}
	}
	return victim
}

// Release moves an active voice into its release phase. While the sustain
// pedal is held the transition is deferred: the voice is marked and stays
// Active until SustainPedal(false).
func (m *Manager) Release(id int, releaseSampleTime int64) {
	if id < 0 || id >= len(m.slots) {
		return
	}
	s := &m.slots[id]
	if State(s.state.Load()) != StateActive {
		return
	}
	if s.sustainHeld {
		s.pendingRelease = true
		s.releaseSampleTime = releaseSampleTime
		return
	}
	s.releaseSampleTime = releaseSampleTime
	s.state.Store(int32(StateReleasing))
	m.active.Add(-1)
	m.releasing.Add(1)
}

// SustainPedal sets the hold-off flag. On press, every active voice starts
// buffering Release calls; on release, all buffered releases apply at once
// with their release tails restamped to now, so a pedal held longer than
// the tail still produces a full release rather than an instant reap.
func (m *Manager) SustainPedal(held bool, now int64) {
	m.pedalHeld = held
	if held {
		for i := range m.slots {
			s := &m.slots[i]
			if State(s.state.Load()) == StateActive {
				s.sustainHeld = true
				s.pendingRelease = false
			}
		}
		return
	}
	for i := range m.slots {
		s := &m.slots[i]
		if State(s.state.Load()) == StateActive && s.sustainHeld {
			s.sustainHeld = false
			if s.pendingRelease {
				s.pendingRelease = false
				s.releaseSampleTime = now
				s.state.Store(int32(StateReleasing))
				m.active.Add(-1)
				m.releasing.Add(1)
			}
		}
	}
}

// Update reaps releasing voices whose envelope end has passed, returning
// their slots to the idle pool.
func (m *Manager) Update(now int64) {
	for i := range m.slots {
		s := &m.slots[i]
		if State(s.state.Load()) != StateReleasing {
			continue
		}
		if s.releaseSampleTime+s.releaseSamples <= now {
			s.state.Store(int32(StateIdle))
			m.releasing.Add(-1)
		}
	}
}

// StopRoleVoices hard-stops every voice tagged with role, bypassing release
// envelopes.
func (m *Manager) StopRoleVoices(role int) {
	for i := range m.slots {
		s := &m.slots[i]
		st := State(s.state.Load())
		if st == StateIdle || s.role != role {
			continue
		}
		s.state.Store(int32(StateIdle))
		s.sustainHeld = false
		s.pendingRelease = false
		switch st {
		case StateActive:
			m.active.Add(-1)
		case StateReleasing:
			m.releasing.Add(-1)
		}
	}
}

// StopAll hard-stops every voice regardless of role. Used when the device
// is re-prepared and no tail can be carried across the gap.
func (m *Manager) StopAll() {
	for i := range m.slots {
		s := &m.slots[i]
		st := State(s.state.Load())
		if st == StateIdle {
			continue
		}
		s.state.Store(int32(StateIdle))
		s.sustainHeld = false
		s.pendingRelease = false
		switch st {
		case StateActive:
			m.active.Add(-1)
		case StateReleasing:
			m.releasing.Add(-1)
		}
	}
}

// FindActive returns the id of the newest active voice matching bus and
// pitch, or NoVoice. Used to resolve note-off events to slots.
func (m *Manager) FindActive(busID, pitch int) int {
	best := NoVoice
	var bestStart int64
	for i := range m.slots {
		s := &m.slots[i]
		if State(s.state.Load()) != StateActive {
			continue
		}
		if s.busID != busID || s.pitch != pitch {
			continue
		}
		if best == NoVoice || s.startSampleTime > bestStart {
			best = i
			bestStart = s.startSampleTime
		}
	}
	return best
}

// ActiveVoiceCount returns the number of Active voices. Lock-free.
func (m *Manager) ActiveVoiceCount() int { return int(m.active.Load()) }

// ReleasingVoiceCount returns the number of Releasing voices. Lock-free.
func (m *Manager) ReleasingVoiceCount() int { return int(m.releasing.Load()) }

// IdleVoiceCount returns the number of slots in the idle pool. Lock-free.
func (m *Manager) IdleVoiceCount() int {
	return len(m.slots) - int(m.active.Load()) - int(m.releasing.Load())
}

// PolyphonyUsage returns active voices over the polyphony limit, in [0,1].
func (m *Manager) PolyphonyUsage() float64 {
	return float64(m.active.Load()) / float64(len(m.slots))
}

// IsVoiceActive reports whether id refers to an Active voice.
func (m *Manager) IsVoiceActive(id int) bool {
	if id < 0 || id >= len(m.slots) {
		return false
	}
	return State(m.slots[id].state.Load()) == StateActive
}

// VoiceInfo copies the observable state of one slot. ok is false for
// out-of-range ids.
func (m *Manager) VoiceInfo(id int) (Info, bool) {
	if id < 0 || id >= len(m.slots) {
		return Info{}, false
	}
	return m.infoAt(id, State(m.slots[id].state.Load())), true
}

func (m *Manager) infoAt(id int, st State) Info {
	s := &m.slots[id]
	return Info{
		ID:                id,
		Pitch:             s.pitch,
		Velocity:          s.velocity,
		Priority:          s.priority,
		Role:              s.role,
		BusID:             s.busID,
		State:             st,
		StartSampleTime:   s.startSampleTime,
		ReleaseSampleTime: s.releaseSampleTime,
		ReleaseSamples:    s.releaseSamples,
		SustainHeld:       s.sustainHeld,
		Strip:             s.strip,
	}
}

// ActiveInto appends Info for every non-idle voice to dst and returns it.
// Allocation-free when dst has capacity; intended for the per-block hand-off
// to the signal path.
func (m *Manager) ActiveInto(dst []Info) []Info {
	for i := range m.slots {
		st := State(m.slots[i].state.Load())
		if st == StateIdle {
			continue
		}
		dst = append(dst, m.infoAt(i, st))
	}
	return dst
}
