package loop

import (
	"fmt"
	"io"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// ExportOptions controls how a loop is rendered to a Standard MIDI File.
type ExportOptions struct {
	BPM        float64 // <= 0 falls back to 60 (one step per second)
	Repeats    int     // loop passes to render, at least 1
	Channel    uint8   // 0-15
	Velocity   uint8
	Resolution uint16 // ticks per step (quarter note)
}

// DefaultExportOptions matches the playback defaults.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{BPM: 120, Repeats: 1, Velocity: 127, Resolution: 960}
}

type smfEvent struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// WriteSMF renders the loop as a format 1 SMF: a tempo track followed by
// one MIDI track per loop track. Each step is one quarter note and every
// note lasts exactly one step.
func WriteSMF(w io.Writer, l *Loop, opts ExportOptions) error {
	if opts.Repeats < 1 {
		opts.Repeats = 1
	}
	if opts.Resolution == 0 {
		opts.Resolution = 960
	}
	if opts.Velocity == 0 {
		opts.Velocity = 127
	}
	bpm := opts.BPM
	if bpm <= 0 {
		bpm = 60
	}

	snap := l.Snapshot()
	tps := uint32(opts.Resolution)
	total := uint32(snap.length*opts.Repeats) * tps

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(opts.Resolution)

	var tempo smf.Track
	tempo.Add(0, smf.MetaTrackSequenceName(snap.title))
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(total)
	if err := sm.Add(tempo); err != nil {
		return fmt.Errorf("add tempo track: %w", err)
	}

	for _, name := range snap.order {
		var events []smfEvent
		for rep := 0; rep < opts.Repeats; rep++ {
			for step, note := range snap.tracks[name] {
				at := uint32(rep*snap.length+step) * tps
				key := uint8(note)
				events = append(events,
					smfEvent{tick: at, msg: midi.NoteOn(opts.Channel, key, opts.Velocity)},
					smfEvent{tick: at + tps, off: true, msg: midi.NoteOff(opts.Channel, key)},
				)
			}
		}
		// note-offs sort before note-ons on the same tick so repeated
		// pitches retrigger cleanly
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].tick != events[j].tick {
				return events[i].tick < events[j].tick
			}
			return events[i].off && !events[j].off
		})

		var tr smf.Track
		tr.Add(0, smf.MetaTrackSequenceName(name))
		var last uint32
		for _, ev := range events {
			tr.Add(ev.tick-last, ev.msg)
			last = ev.tick
		}
		tr.Close(total - last)
		if err := sm.Add(tr); err != nil {
			return fmt.Errorf("add track %q: %w", name, err)
		}
	}

	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}
