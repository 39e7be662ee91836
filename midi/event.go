package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDI message types
const (
	NoteOn  uint8 = 0x90
	NoteOff uint8 = 0x80
)

// Event is one outgoing channel message.
type Event struct {
	Type     uint8 // NoteOn, NoteOff
	Channel  uint8 // 0-15
	Note     uint8
	Velocity uint8
}

// On builds a note-on event.
func On(channel, note, velocity uint8) Event {
	return Event{Type: NoteOn, Channel: channel, Note: note, Velocity: velocity}
}

// Off builds a note-off event.
func Off(channel, note uint8) Event {
	return Event{Type: NoteOff, Channel: channel, Note: note}
}

// Message encodes the event for the wire.
func (e Event) Message() gomidi.Message {
	if e.Type == NoteOff {
		return gomidi.NoteOff(e.Channel, e.Note)
	}
	return gomidi.NoteOn(e.Channel, e.Note, e.Velocity)
}

func (e Event) String() string {
	kind := "on"
	if e.Type == NoteOff {
		kind = "off"
	}
	return fmt.Sprintf("%s ch=%d note=%s vel=%d", kind, e.Channel+1, NoteName(int(e.Note)), e.Velocity)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName renders a MIDI note number as pitch class plus octave, with
// octave = n / 12 (so 60 is C5). Out-of-range values render empty.
func NoteName(n int) string {
	if n < 0 || n > 127 {
		return ""
	}
	return fmt.Sprintf("%s%d", noteNames[n%12], n/12)
}

// keyPitch maps typed letters to pitch classes: lower case naturals,
// upper case sharps. E# is F and B# wraps to the next octave's C.
var keyPitch = map[rune]int{
	'c': 0, 'C': 1, 'd': 2, 'D': 3, 'e': 4, 'E': 5,
	'f': 5, 'F': 6, 'g': 7, 'G': 8, 'a': 9, 'A': 10,
	'b': 11, 'B': 12,
}

// NoteFromKey returns the note for a typed letter in the given octave.
func NoteFromKey(r rune, octave int) (int, bool) {
	pc, ok := keyPitch[r]
	if !ok {
		return 0, false
	}
	n := pc + 12*octave
	if n < 0 || n > 127 {
		return 0, false
	}
	return n, true
}
