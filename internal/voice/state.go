package voice

import "fmt"

// SlotState is the persistable image of one voice slot.
type SlotState struct {
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
	PendingRelease    bool
}

// ManagerState is a point-in-time image of the whole voice table, used for
// state recall. It is taken and applied on the control thread.
type ManagerState struct {
	PedalHeld bool
	Slots     []SlotState
}

// SaveState copies the slot table.
func (m *Manager) SaveState() ManagerState {
	st := ManagerState{
		PedalHeld: m.pedalHeld,
		Slots:     make([]SlotState, len(m.slots)),
	}
	for i := range m.slots {
		s := &m.slots[i]
		st.Slots[i] = SlotState{
			Pitch:             s.pitch,
			Velocity:          s.velocity,
			Priority:          s.priority,
			Role:              s.role,
			BusID:             s.busID,
			State:             State(s.state.Load()),
			StartSampleTime:   s.startSampleTime,
			ReleaseSampleTime: s.releaseSampleTime,
			ReleaseSamples:    s.releaseSamples,
			SustainHeld:       s.sustainHeld,
			PendingRelease:    s.pendingRelease,
		}
	}
	return st
}

// RestoreState replaces the slot table with a previously saved image and
// rebuilds the counters. The state must come from a manager with the same
// polyphony limit.
func (m *Manager) RestoreState(st ManagerState) error {
	if len(st.Slots) != len(m.slots) {
		return fmt.Errorf("voice: state has %d slots, manager has %d", len(st.Slots), len(m.slots))
	}
	var active, releasing int32
	for i, ss := range st.Slots {
		s := &m.slots[i]
		s.pitch = ss.Pitch
		s.velocity = ss.Velocity
		s.priority = ss.Priority
		s.role = ss.Role
		s.busID = ss.BusID
		s.startSampleTime = ss.StartSampleTime
		s.releaseSampleTime = ss.ReleaseSampleTime
		s.releaseSamples = ss.ReleaseSamples
		s.sustainHeld = ss.SustainHeld
		s.pendingRelease = ss.PendingRelease
		s.strip = m.stripFor(ss.BusID)
		s.state.Store(int32(ss.State))
		switch ss.State {
		case StateActive:
			active++
		case StateReleasing:
			releasing++
		}
	}
	m.pedalHeld = st.PedalHeld
	m.active.Store(active)
	m.releasing.Store(releasing)
	return nil
}
