package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// NoteEvent is sent when a note is played on a keyboard
type NoteEvent struct {
	Note     uint8
	Velocity uint8
	Channel  uint8
}

type listenFunc func(recv func(msg gomidi.Message, timestampms int32)) (stop func(), err error)

// Input delivers note-ons from a MIDI keyboard. Events are dropped when the
// consumer falls behind.
type Input struct {
	name     string
	stopFunc func()
	noteChan chan NoteEvent
	once     sync.Once
}

// OpenInput starts listening on the input port called name.
func OpenInput(name string) (*Input, error) {
	in, err := findIn(name, listTimeout)
	if err != nil {
		return nil, err
	}
	return newInput(in.String(), func(recv func(gomidi.Message, int32)) (func(), error) {
		return gomidi.ListenTo(in, recv)
	})
}

func newInput(name string, listen listenFunc) (*Input, error) {
	in := &Input{
		name:     name,
		noteChan: make(chan NoteEvent, 32),
	}
	stop, err := listen(in.receive)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", name, err)
	}
	in.stopFunc = stop
	return in, nil
}

func (in *Input) receive(msg gomidi.Message, _ int32) {
	var channel, note, velocity uint8
	if msg.GetNoteOn(&channel, &note, &velocity) && velocity > 0 {
		select {
		case in.noteChan <- NoteEvent{Note: note, Velocity: velocity, Channel: channel}:
		default:
		}
	}
}

// Name returns the resolved port name.
func (in *Input) Name() string { return in.name }

// Notes returns the note-on stream. It is closed by Close.
func (in *Input) Notes() <-chan NoteEvent { return in.noteChan }

// Close stops listening. Safe to call more than once.
func (in *Input) Close() error {
	in.once.Do(func() {
		if in.stopFunc != nil {
			in.stopFunc()
		}
		close(in.noteChan)
	})
	return nil
}
