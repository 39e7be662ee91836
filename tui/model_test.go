package tui

import (
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-stepseq/loop"
	"go-stepseq/midi"
	"go-stepseq/sequencer"
)

type fakeEngine struct {
	l       *loop.Loop
	bpm     float64
	playing bool
	sent    []sequencer.Command
	updates chan struct{}
}

func newFakeEngine(l *loop.Loop) *fakeEngine {
	return &fakeEngine{l: l, bpm: 120, updates: make(chan struct{}, 1)}
}

func (f *fakeEngine) Send(c sequencer.Command) {
	f.sent = append(f.sent, c)
	switch c.Kind {
	case sequencer.KindSetBPM:
		f.bpm = c.BPM
	case sequencer.KindToggle:
		f.playing = !f.playing
	case sequencer.KindStop:
		f.playing = false
	}
}
func (f *fakeEngine) Playing() bool            { return f.playing }
func (f *fakeEngine) BPM() float64             { return f.bpm }
func (f *fakeEngine) Loop() *loop.Loop         { return f.l }
func (f *fakeEngine) Updates() <-chan struct{} { return f.updates }

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(Model)
	}
	return m, cmd
}

func newEditor(t *testing.T, opts Options) (Model, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine(loop.MustNew(8, "", "track 1"))
	return NewModel(eng, nil, opts), eng
}

func TestTypingNotesWritesAtCursor(t *testing.T) {
	m, eng := newEditor(t, Options{})

	m, _ = press(t, m, runes("c"))
	v, ok := eng.l.Note("track 1", 0)
	require.True(t, ok)
	assert.Equal(t, 48, v)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight}, runes("5"), runes("C"))
	v, _ = eng.l.Note("track 1", 1)
	assert.Equal(t, 61, v, "octave 5 C#")

	m, _ = press(t, m, runes("x"))
	_, ok = eng.l.Note("track 1", 1)
	assert.False(t, ok)
	assert.Contains(t, m.View(), "C4")
}

func TestCursorStaysInsideGrid(t *testing.T) {
	m, eng := newEditor(t, Options{})
	for i := 0; i < 20; i++ {
		m, _ = press(t, m, runes("l"), runes("j"))
	}
	assert.Equal(t, 7, m.step)
	assert.Equal(t, 0, m.track)

	m, _ = press(t, m, runes("["), runes("["))
	assert.Equal(t, 6, eng.l.Length())
	assert.Equal(t, 5, m.step)

	for i := 0; i < 20; i++ {
		m, _ = press(t, m, runes("h"), runes("k"))
	}
	assert.Equal(t, 0, m.step)
}

func TestTransportKeysSendCommands(t *testing.T) {
	m, eng := newEditor(t, Options{})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeySpace}, runes("+"), runes("-"), runes("-"))
	require.Len(t, eng.sent, 4)
	assert.Equal(t, sequencer.KindToggle, eng.sent[0].Kind)
	assert.Equal(t, 125.0, eng.sent[1].BPM)
	assert.Equal(t, 115.0, eng.sent[3].BPM)
	assert.True(t, eng.Playing())
	assert.Contains(t, m.View(), "PLAY")
}

func TestTypedTempo(t *testing.T) {
	m, eng := newEditor(t, Options{})

	m, _ = press(t, m, runes("t"), runes("9"), runes("0"), tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, eng.sent, 1)
	assert.Equal(t, 90.0, eng.sent[0].BPM)
	assert.Equal(t, modeNormal, m.mode)

	m, _ = press(t, m, runes("t"), runes("f"), runes("a"), runes("s"), runes("t"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, eng.sent, 1, "invalid tempo is not sent")
	assert.True(t, m.statusErr)

	// digits typed in tempo mode do not change the octave
	m, _ = press(t, m, runes("t"), runes("7"), tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 4, m.octave)
	assert.Len(t, eng.sent, 1)
}

func TestTrackManagement(t *testing.T) {
	m, eng := newEditor(t, Options{})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN}, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Equal(t, []string{"track 1", "new track", "new track+"}, eng.l.TrackNames())
	assert.Equal(t, 2, m.track)

	m, _ = press(t, m, runes("r"))
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace}, runes("!"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"track 1", "new track", "new track!"}, eng.l.TrackNames())

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Equal(t, 1, m.track)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlX}, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Equal(t, []string{"new track"}, eng.l.TrackNames())
	assert.Equal(t, 0, m.track)
}

func TestQuitGuardsUnsavedWork(t *testing.T) {
	m, eng := newEditor(t, Options{})

	// untouched loop quits straight away
	_, cmd := press(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	m, _ = press(t, m, runes("e"))
	m, cmd = press(t, m, runes("q"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.status, "unsaved")

	// any other key disarms the guard
	m, _ = press(t, m, runes("l"))
	m, cmd = press(t, m, runes("q"))
	assert.Nil(t, cmd)

	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, sequencer.KindStop, eng.sent[len(eng.sent)-1].Kind)
	assert.Equal(t, "", m.View())
}

func TestSaveToFileClearsDirtyFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.json")
	m, eng := newEditor(t, Options{Path: path})

	m, _ = press(t, m, runes("g"), tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.False(t, m.statusErr, m.status)

	got, err := loop.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, eng.l.Equal(got))

	_, cmd := press(t, m, runes("q"))
	require.NotNil(t, cmd)
}

func TestSaveToStore(t *testing.T) {
	store := loop.NewStore(t.TempDir())
	m, _ := newEditor(t, Options{Store: store, Project: "jam"})

	m, _ = press(t, m, runes("a"), tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.False(t, m.statusErr, m.status)

	saves, err := store.ListSaves("jam")
	require.NoError(t, err)
	assert.Len(t, saves, 1)
}

func TestSaveWithoutTarget(t *testing.T) {
	m, _ := newEditor(t, Options{})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.True(t, m.statusErr)
}

func TestMidiNoteInputAdvancesCursor(t *testing.T) {
	notes := make(chan midi.NoteEvent, 1)
	m, eng := newEditor(t, Options{Notes: notes})

	next, cmd := m.Update(NoteInMsg{Note: 67, Velocity: 100})
	m = next.(Model)
	require.NotNil(t, cmd)
	v, ok := eng.l.Note("track 1", 0)
	require.True(t, ok)
	assert.Equal(t, 67, v)
	assert.Equal(t, 1, m.step)

	notes <- midi.NoteEvent{Note: 70}
	assert.Equal(t, NoteInMsg{Note: 70}, cmd())
}

func TestPortEventsUpdateLights(t *testing.T) {
	m, _ := newEditor(t, Options{OutputPort: "Synth"})
	assert.Contains(t, m.View(), "○ out Synth")

	next, _ := m.Update(PortEventMsg{Type: midi.PortConnected, Name: "Synth", Out: true})
	m = next.(Model)
	assert.True(t, m.outUp)
	assert.Contains(t, m.View(), "● out Synth")
}

func TestViewShowsPlayheadWhilePlaying(t *testing.T) {
	m, eng := newEditor(t, Options{})
	eng.playing = true
	eng.l.SetPlayerHead(3)

	lines := strings.Split(m.View(), "\n")
	var marker string
	for _, line := range lines {
		if strings.Contains(line, "▶") {
			marker = line
		}
	}
	require.NotEmpty(t, marker)
	assert.Equal(t, labelWidth+1+3*cellWidth, strings.Index(marker, "▶"))
}
