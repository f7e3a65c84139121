package midiin

import (
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"
)

func recvEvent(t *testing.T, in *Input) Event {
	t.Helper()
	select {
	case ev := <-in.events:
		return ev
	default:
		t.Fatal("expected an event on the channel")
		return Event{}
	}
}

func TestHandleDecodesNoteMessages(t *testing.T) {
	in := &Input{events: make(chan Event, 8)}

	in.handle(gomidi.NoteOn(2, 60, 100), 0)
	ev := recvEvent(t, in)
	if ev.Kind != KindNoteOn || ev.Channel != 2 || ev.Key != 60 || ev.Velocity != 100 {
		t.Fatalf("wrong note-on decode: %+v", ev)
	}

	in.handle(gomidi.NoteOff(2, 60), 0)
	ev = recvEvent(t, in)
	if ev.Kind != KindNoteOff || ev.Key != 60 {
		t.Fatalf("wrong note-off decode: %+v", ev)
	}

	// A note-on with velocity 0 is a note-off.
	in.handle(gomidi.NoteOn(2, 61, 0), 0)
	ev = recvEvent(t, in)
	if ev.Kind != KindNoteOff || ev.Key != 61 {
		t.Fatalf("zero-velocity note-on should decode as note-off: %+v", ev)
	}
}

func TestHandleDecodesSustainAndControl(t *testing.T) {
	in := &Input{events: make(chan Event, 8)}

	in.handle(gomidi.ControlChange(0, 64, 127), 0)
	ev := recvEvent(t, in)
	if ev.Kind != KindSustain || !ev.SustainOn {
		t.Fatalf("CC64 high should decode as sustain on: %+v", ev)
	}

	in.handle(gomidi.ControlChange(0, 64, 0), 0)
	ev = recvEvent(t, in)
	if ev.Kind != KindSustain || ev.SustainOn {
		t.Fatalf("CC64 low should decode as sustain off: %+v", ev)
	}

	in.handle(gomidi.ControlChange(3, 1, 42), 0)
	ev = recvEvent(t, in)
	if ev.Kind != KindControlChange || ev.Controller != 1 || ev.Value != 42 {
		t.Fatalf("wrong control-change decode: %+v", ev)
	}
}

func TestHandleDropsWhenChannelFull(t *testing.T) {
	in := &Input{events: make(chan Event, 1)}
	in.handle(gomidi.NoteOn(0, 60, 100), 0)
	in.handle(gomidi.NoteOn(0, 61, 100), 0) // dropped, must not block
	ev := recvEvent(t, in)
	if ev.Key != 60 {
		t.Fatalf("expected the first event to survive, got key %d", ev.Key)
	}
	select {
	case ev := <-in.events:
		t.Fatalf("overflow event should have been dropped, got %+v", ev)
	default:
	}
}

func TestHandleAfterCloseDoesNotPanic(t *testing.T) {
	stopped := false
	in := &Input{
		events: make(chan Event, 1),
		stop:   func() { stopped = true },
	}
	in.Close()
	if !stopped {
		t.Fatal("Close did not invoke the listener stop")
	}
	// A callback still in flight when stop returns must be able to send
	// (or drop) without panicking on a closed channel.
	in.handle(gomidi.NoteOn(0, 60, 100), 0)
	if ev := recvEvent(t, in); ev.Key != 60 {
		t.Fatalf("late callback event lost: %+v", ev)
	}
	in.Close() // idempotent
}
