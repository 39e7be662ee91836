package loop

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultTitle is used when a loop is created without a title.
const DefaultTitle = "[loop]"

// PlaceholderTrack is inserted whenever the last track is deleted.
const PlaceholderTrack = "new track"

// MaxNote is the highest valid MIDI pitch.
const MaxNote = 127

var (
	ErrNoSuchTrack   = errors.New("no such track")
	ErrStepRange     = errors.New("step out of range")
	ErrNoteRange     = errors.New("note out of range")
	ErrInvalidLength = errors.New("length must be positive")
)

// Loop is a fixed-length set of named tracks. Each track maps a step index
// to a note value. All methods are safe for concurrent use; the lock is held
// for a single operation only.
type Loop struct {
	mu     sync.RWMutex
	title  string
	length int
	order  []string // track names in insertion order
	tracks map[string]map[int]int

	// playerHead is display state written by the engine, -1 when nothing
	// has sounded since the last reset
	playerHead atomic.Int64
}

// New creates a loop with the given tracks. An empty name list yields the
// placeholder track so a loop is never empty.
func New(length int, title string, trackNames ...string) (*Loop, error) {
	if length <= 0 {
		return nil, fmt.Errorf("new loop: %w", ErrInvalidLength)
	}
	if title == "" {
		title = DefaultTitle
	}
	l := &Loop{
		title:  title,
		length: length,
		tracks: make(map[string]map[int]int),
	}
	for _, name := range trackNames {
		l.addTrackLocked(name)
	}
	if len(l.order) == 0 {
		l.addTrackLocked(PlaceholderTrack)
	}
	l.playerHead.Store(-1)
	return l, nil
}

// MustNew is New for literals known to be valid.
func MustNew(length int, title string, trackNames ...string) *Loop {
	l, err := New(length, title, trackNames...)
	if err != nil {
		panic(err)
	}
	return l
}

// Length returns the number of steps in the loop.
func (l *Loop) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.length
}

func (l *Loop) Title() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.title
}

func (l *Loop) SetTitle(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.title = title
}

// TrackNames returns a copy of the track names in insertion order.
func (l *Loop) TrackNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// HasTrack reports whether a track with the given name exists.
func (l *Loop) HasTrack(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tracks[name]
	return ok
}

// EventsAt returns the note values of every track with an entry at
// step modulo length, in track order.
func (l *Loop) EventsAt(step int64) []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := int(step % int64(l.length))
	if idx < 0 {
		idx += l.length
	}
	var notes []int
	for _, name := range l.order {
		if v, ok := l.tracks[name][idx]; ok {
			notes = append(notes, v)
		}
	}
	return notes
}

// Note returns the value stored at step in track.
func (l *Loop) Note(track string, step int) (value int, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	steps, found := l.tracks[track]
	if !found {
		return 0, false
	}
	value, ok = steps[step]
	return value, ok
}

// Write stores value at step in track, or erases the entry when value is
// nil. Writing to an unknown track is an error; tracks are never created
// implicitly.
func (l *Loop) Write(track string, step int, value *int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	steps, ok := l.tracks[track]
	if !ok {
		return fmt.Errorf("write %q: %w", track, ErrNoSuchTrack)
	}
	if step < 0 || step >= l.length {
		return fmt.Errorf("write %q step %d (length %d): %w", track, step, l.length, ErrStepRange)
	}
	if value == nil {
		delete(steps, step)
		return nil
	}
	if *value < 0 || *value > MaxNote {
		return fmt.Errorf("write %q note %d: %w", track, *value, ErrNoteRange)
	}
	steps[step] = *value
	return nil
}

// Set is Write with a concrete value.
func (l *Loop) Set(track string, step, value int) error {
	return l.Write(track, step, &value)
}

// Erase removes the entry at step in track.
func (l *Loop) Erase(track string, step int) error {
	return l.Write(track, step, nil)
}

// AddTrack inserts an empty track and returns its final name. A colliding
// name gets "+" appended until it is unique.
func (l *Loop) AddTrack(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addTrackLocked(name)
}

func (l *Loop) addTrackLocked(name string) string {
	for {
		if _, exists := l.tracks[name]; !exists {
			break
		}
		name += "+"
	}
	l.tracks[name] = make(map[int]int)
	l.order = append(l.order, name)
	return name
}

// DeleteTrack removes a track. Deleting the last track leaves the
// placeholder track in its place.
func (l *Loop) DeleteTrack(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tracks[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, ErrNoSuchTrack)
	}
	delete(l.tracks, name)
	for i, n := range l.order {
		if n == name {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if len(l.order) == 0 {
		l.addTrackLocked(PlaceholderTrack)
	}
	return nil
}

// RenameTrack renames a track in place, keeping its position. The new name
// is made unique the same way AddTrack does.
func (l *Loop) RenameTrack(from, to string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	steps, ok := l.tracks[from]
	if !ok {
		return "", fmt.Errorf("rename %q: %w", from, ErrNoSuchTrack)
	}
	if from == to {
		return to, nil
	}
	for {
		if _, exists := l.tracks[to]; !exists {
			break
		}
		to += "+"
	}
	delete(l.tracks, from)
	l.tracks[to] = steps
	for i, n := range l.order {
		if n == from {
			l.order[i] = to
		}
	}
	return to, nil
}

// SetLength changes the loop period. Steps at or beyond the new length are
// dropped and the play-head is reset.
func (l *Loop) SetLength(n int) error {
	if n <= 0 {
		return fmt.Errorf("set length %d: %w", n, ErrInvalidLength)
	}
	l.mu.Lock()
	l.length = n
	for _, steps := range l.tracks {
		for step := range steps {
			if step >= n {
				delete(steps, step)
			}
		}
	}
	l.mu.Unlock()
	l.ResetPlayerHead()
	return nil
}

// PlayerHead returns the most recently sounded step, or -1.
func (l *Loop) PlayerHead() int {
	return int(l.playerHead.Load())
}

func (l *Loop) SetPlayerHead(step int) {
	l.playerHead.Store(int64(step))
}

func (l *Loop) ResetPlayerHead() {
	l.playerHead.Store(-1)
}

// Snapshot returns a deep copy of the loop's note data with a reset
// play-head.
func (l *Loop) Snapshot() *Loop {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := &Loop{
		title:  l.title,
		length: l.length,
		order:  append([]string(nil), l.order...),
		tracks: make(map[string]map[int]int, len(l.tracks)),
	}
	for name, steps := range l.tracks {
		cp := make(map[int]int, len(steps))
		for k, v := range steps {
			cp[k] = v
		}
		c.tracks[name] = cp
	}
	c.playerHead.Store(-1)
	return c
}

// Equal reports whether two loops hold the same title, length, track order
// and notes.
func (l *Loop) Equal(o *Loop) bool {
	a, b := l.Snapshot(), o.Snapshot()
	if a.title != b.title || a.length != b.length || len(a.order) != len(b.order) {
		return false
	}
	for i, name := range a.order {
		if b.order[i] != name || len(a.tracks[name]) != len(b.tracks[name]) {
			return false
		}
		for k, v := range a.tracks[name] {
			if w, ok := b.tracks[name][k]; !ok || w != v {
				return false
			}
		}
	}
	return true
}

// ParseLength validates a length typed by the user.
func ParseLength(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse length %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("parse length %q: %w", s, ErrInvalidLength)
	}
	return n, nil
}
