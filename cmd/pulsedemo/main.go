package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"time"

	pulsecore "github.com/cbegin/pulsecore-go"
	"github.com/cbegin/pulsecore-go/internal/audio"
	"github.com/cbegin/pulsecore-go/internal/midiin"
	"github.com/cbegin/pulsecore-go/internal/voice"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		block      = flag.Int("block", 256, "frames per processing block")
		buffer     = flag.Int("buffer", 0, "device buffer frames (0 = controller recommendation)")
		backend    = flag.String("backend", "ebiten", "audio backend: ebiten|portaudio|headless")
		midiPort   = flag.String("midi", "", "MIDI input port name fragment; \"list\" lists ports")
		polyphony  = flag.Int("polyphony", 32, "voice slot count")
		steal      = flag.Bool("steal", true, "steal lowest-priority voices when full")
		seconds    = flag.Float64("seconds", 10, "run time; 0 = until interrupted")
		wavPath    = flag.String("wav", "", "render offline to a WAV file instead of playing")
		metricsSec = flag.Float64("metrics", 2, "seconds between dropout metric reports (0 = off)")
	)
	flag.Parse()

	if *midiPort == "list" {
		for _, name := range midiin.Ports() {
			fmt.Println(name)
		}
		return
	}

	be, err := parseBackend(*backend)
	if err != nil {
		log.Fatal(err)
	}

	eng, err := pulsecore.NewEngine(*sampleRate,
		pulsecore.WithBlockFrames(*block),
		pulsecore.WithMaxPolyphony(*polyphony),
		pulsecore.WithStealing(*steal),
		pulsecore.WithRenderer(newSineRenderer(*sampleRate)),
	)
	if err != nil {
		log.Fatal(err)
	}

	if *wavPath != "" {
		dur := *seconds
		if dur <= 0 {
			dur = 10
		}
		scheduleArpeggio(eng, *sampleRate, dur)
		eng.Scheduler().Play()
		samples := pulsecore.RenderSeconds(eng, dur)
		if err := os.WriteFile(*wavPath, pulsecore.EncodeWAVFloat32LE(samples, *sampleRate, 2), 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s (%.1fs)\n", *wavPath, dur)
		return
	}

	var mi *midiin.Input
	if *midiPort != "" {
		mi, err = midiin.Open(*midiPort)
		if err != nil {
			log.Fatal(err)
		}
		defer mi.Close()
		fmt.Printf("listening on MIDI port %q\n", mi.PortName())
	} else {
		scheduleArpeggio(eng, *sampleRate, *seconds)
	}
	eng.Scheduler().Play()

	if err := eng.Start(be, *buffer); err != nil {
		log.Fatal(err)
	}
	defer eng.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	var deadline <-chan time.Time
	if *seconds > 0 {
		deadline = time.After(time.Duration(*seconds * float64(time.Second)))
	}
	var metricsTick <-chan time.Time
	if *metricsSec > 0 {
		t := time.NewTicker(time.Duration(*metricsSec * float64(time.Second)))
		defer t.Stop()
		metricsTick = t.C
	}
	var midiEvents <-chan midiin.Event
	if mi != nil {
		midiEvents = mi.Events()
	}

	for {
		select {
		case <-interrupt:
			fmt.Println("interrupted")
			return
		case <-deadline:
			return
		case <-metricsTick:
			printMetrics(eng)
		case ev := <-midiEvents:
			applyMIDI(eng, ev)
		}
	}
}

func parseBackend(name string) (audio.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ebiten":
		return audio.BackendEbiten, nil
	case "portaudio":
		return audio.BackendPortAudio, nil
	case "headless":
		return audio.BackendHeadless, nil
	default:
		return 0, fmt.Errorf("invalid -backend %q (expected ebiten|portaudio|headless)", name)
	}
}

// scheduleArpeggio queues a repeating four-note figure covering the whole
// run so the demo makes sound without a MIDI keyboard. Delivered events are
// consumed, so each repetition is scheduled up front rather than relying on
// a transport loop.
func scheduleArpeggio(eng *pulsecore.Engine, sampleRate int, seconds float64) {
	if seconds <= 0 {
		seconds = 60
	}
	sched := eng.Scheduler()
	step := int64(sampleRate / 4)
	notes := []int{60, 64, 67, 72}
	total := int64(float64(sampleRate) * seconds)
	for bar := int64(0); bar*step*int64(len(notes)) < total; bar++ {
		base := bar * step * int64(len(notes))
		for i, pitch := range notes {
			on := base + int64(i)*step
			sched.ScheduleNoteOn(0, pitch, 100, on)
			sched.ScheduleNoteOff(0, pitch, on+step*3/4)
		}
	}
}

// applyMIDI forwards one live input event to the engine. Transport and
// voice calls go through Do so they land on the audio thread.
func applyMIDI(eng *pulsecore.Engine, ev midiin.Event) {
	switch ev.Kind {
	case midiin.KindNoteOn:
		pitch, vel, ch := int(ev.Key), int(ev.Velocity), int(ev.Channel)
		eng.Do(func(e *pulsecore.Engine) {
			now := e.Scheduler().Position().SampleTime
			e.Scheduler().ScheduleNoteOn(ch, pitch, vel, now)
		})
	case midiin.KindNoteOff:
		pitch, ch := int(ev.Key), int(ev.Channel)
		eng.Do(func(e *pulsecore.Engine) {
			now := e.Scheduler().Position().SampleTime
			e.Scheduler().ScheduleNoteOff(ch, pitch, now)
		})
	case midiin.KindSustain:
		held := ev.SustainOn
		eng.Do(func(e *pulsecore.Engine) {
			e.Voices().SustainPedal(held, e.Scheduler().Position().SampleTime)
		})
	case midiin.KindControlChange:
		// CC1 (mod wheel) drives the cutoff cell of the event's bus strip.
		if ev.Controller == 1 {
			if strip := eng.Strip(int(ev.Channel)); strip != nil {
				strip.Set(2, float64(ev.Value)/127)
			}
		}
	}
}

func printMetrics(eng *pulsecore.Engine) {
	d := eng.Dropout()
	m := d.CurrentBufferMetrics()
	fmt.Printf("dropout: level=%s strategy=%s buffer=%d headroom=%.2f dropped=%d last=%dus\n",
		d.CurrentLevel(), d.RecommendedStrategy(), d.RecommendedBufferFrames(),
		m.BufferLevel, m.DroppedBufferCount, m.LastProcessingDurationUs)
}

// sineRenderer is a minimal signal path: one sine per voice with a linear
// release fade, volume and pan read from the voice's strip. It exists so
// the demo is audible; it is not part of the core.
type sineRenderer struct {
	sampleRate float64
	phase      map[int]float64
}

func newSineRenderer(sampleRate int) *sineRenderer {
	return &sineRenderer{sampleRate: float64(sampleRate), phase: make(map[int]float64)}
}

func (r *sineRenderer) Render(dst []float32, voices []voice.Info) {
	for _, v := range voices {
		freq := 440 * math.Pow(2, float64(v.Pitch-69)/12)
		inc := freq / r.sampleRate
		phase := r.phase[v.ID]
		amp := float64(v.Velocity) / 127 * 0.2
		vol, pan := 0.8, 0.0
		if v.Strip != nil {
			vol = v.Strip.Get(0)
			pan = v.Strip.Get(1)
		}
		gl := amp * vol * (1 - max(pan, 0))
		gr := amp * vol * (1 + min(pan, 0))
		for i := 0; i+1 < len(dst); i += 2 {
			s := math.Sin(2 * math.Pi * phase)
			dst[i] += float32(s * gl)
			dst[i+1] += float32(s * gr)
			phase += inc
			if phase >= 1 {
				phase -= 1
			}
		}
		r.phase[v.ID] = phase
	}
}
