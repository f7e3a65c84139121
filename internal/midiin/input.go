// Package midiin feeds live MIDI input to the control thread. Incoming
// messages land on a bounded channel the control loop drains; events the
// channel cannot hold are dropped rather than queued without bound, and
// nothing here ever runs on the audio thread.
package midiin

import (
	"fmt"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver
)

// EventKind tags one live input event.
type EventKind int

const (
	KindNoteOn EventKind = iota
	KindNoteOff
	KindControlChange
	KindSustain
)

// Event is one decoded MIDI input message.
type Event struct {
	Kind       EventKind
	Channel    uint8
	Key        uint8
	Velocity   uint8
	Controller uint8
	Value      uint8
	// SustainOn is set for KindSustain (CC64 >= 64).
	SustainOn bool
}

const sustainController = 64

// Input listens on one MIDI in port.
type Input struct {
	port   drivers.In
	events chan Event
	stop   func()
}

// Ports lists the names of available MIDI input ports.
func Ports() []string {
	ins := gomidi.GetInPorts()
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

// Open starts listening on the first input port whose name contains
// nameFragment (case-insensitive); an empty fragment takes the first port.
func Open(nameFragment string) (*Input, error) {
	ins := gomidi.GetInPorts()
	if len(ins) == 0 {
		return nil, fmt.Errorf("midiin: no MIDI input ports available")
	}
	var port drivers.In
	if nameFragment == "" {
		port = ins[0]
	} else {
		frag := strings.ToLower(nameFragment)
		for _, in := range ins {
			if strings.Contains(strings.ToLower(in.String()), frag) {
				port = in
				break
			}
		}
		if port == nil {
			return nil, fmt.Errorf("midiin: no input port matching %q", nameFragment)
		}
	}

	in := &Input{
		port:   port,
		events: make(chan Event, 128),
	}
	stop, err := gomidi.ListenTo(port, in.handle)
	if err != nil {
		return nil, fmt.Errorf("midiin: open input %q: %w", port.String(), err)
	}
	in.stop = stop
	return in, nil
}

func (in *Input) handle(msg gomidi.Message, timestampms int32) {
	var ch, key, vel uint8
	var ctrl, val uint8
	var ev Event
	switch {
	case msg.GetNoteOn(&ch, &key, &vel) && vel > 0:
		ev = Event{Kind: KindNoteOn, Channel: ch, Key: key, Velocity: vel}
	case msg.GetNoteOff(&ch, &key, &vel), msg.GetNoteOn(&ch, &key, &vel):
		// A note-on with velocity 0 is a note-off.
		ev = Event{Kind: KindNoteOff, Channel: ch, Key: key}
	case msg.GetControlChange(&ch, &ctrl, &val):
		if ctrl == sustainController {
			ev = Event{Kind: KindSustain, Channel: ch, SustainOn: val >= 64}
		} else {
			ev = Event{Kind: KindControlChange, Channel: ch, Controller: ctrl, Value: val}
		}
	default:
		return
	}
	select {
	case in.events <- ev:
	default:
		// Control surface flooding; drop rather than back up.
	}
}

// PortName returns the name of the open port.
func (in *Input) PortName() string { return in.port.String() }

// Events returns the bounded event channel.
func (in *Input) Events() <-chan Event { return in.events }

// Close stops listening. The event channel is left open: a callback may
// still be in flight inside the driver when stop returns, and a send on a
// closed channel would panic. Drained or not, the channel is collected with
// the Input.
func (in *Input) Close() {
	if in.stop != nil {
		in.stop()
		in.stop = nil
	}
}
