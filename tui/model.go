package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"go-stepseq/debug"
	"go-stepseq/loop"
	"go-stepseq/midi"
	"go-stepseq/sequencer"
	"go-stepseq/theme"
)

// Engine is the part of the playback engine the editor drives.
type Engine interface {
	Send(sequencer.Command)
	Playing() bool
	BPM() float64
	Loop() *loop.Loop
	Updates() <-chan struct{}
}

// Options wires the editor to its surroundings. Everything but the engine
// is optional.
type Options struct {
	Path       string      // file the loop was opened from; ctrl+s writes here
	Project    string      // project folder used when Path is empty
	Store      *loop.Store // project store used when Path is empty
	Octave     int
	OutputPort string
	InputPort  string
	Watcher    *midi.Watcher
	Notes      <-chan midi.NoteEvent // MIDI keyboard step entry
}

type inputMode int

const (
	modeNormal inputMode = iota
	modeTempo
	modeRename
	modeTitle
)

type Model struct {
	engine Engine
	theme  *theme.Theme
	opts   Options
	log    *zap.Logger

	track, step int
	octave      int

	mode   inputMode
	buffer string

	savedSerial string
	quitArmed   bool
	quitting    bool

	outUp, inUp bool
	status      string
	statusErr   bool
}

type UpdateMsg struct{}

type PortEventMsg midi.PortEvent

type NoteInMsg midi.NoteEvent

func NewModel(engine Engine, th *theme.Theme, opts Options) Model {
	if th == nil {
		th = theme.New(nil)
	}
	if opts.Octave <= 0 {
		opts.Octave = 4
	}
	m := Model{
		engine:      engine,
		theme:       th,
		opts:        opts,
		log:         debug.Named("tui"),
		octave:      opts.Octave,
		savedSerial: loop.Serialise(engine.Loop()),
	}
	if opts.Watcher != nil {
		m.outUp = opts.Watcher.OutputConnected()
		m.inUp = opts.Watcher.InputConnected()
	}
	return m
}

func ListenForUpdates(engine Engine) tea.Cmd {
	return func() tea.Msg {
		<-engine.Updates()
		return UpdateMsg{}
	}
}

func ListenForPorts(w *midi.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-w.Events()
		if !ok {
			return nil
		}
		return PortEventMsg(ev)
	}
}

func ListenForNotes(notes <-chan midi.NoteEvent) tea.Cmd {
	if notes == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-notes
		if !ok {
			return nil
		}
		return NoteInMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.engine),
		ListenForPorts(m.opts.Watcher),
		ListenForNotes(m.opts.Notes),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode != modeNormal {
			return m.updateEntry(msg)
		}
		return m.updateNormal(msg)

	case UpdateMsg:
		return m, ListenForUpdates(m.engine)

	case PortEventMsg:
		up := msg.Type == midi.PortConnected
		if msg.Out {
			m.outUp = up
		} else {
			m.inUp = up
		}
		m.log.Info("port", zap.String("name", msg.Name), zap.Bool("out", msg.Out), zap.Bool("connected", up))
		return m, ListenForPorts(m.opts.Watcher)

	case NoteInMsg:
		m.writeNote(int(msg.Note))
		m.step = (m.step + 1) % m.loop().Length()
		return m, ListenForNotes(m.opts.Notes)
	}

	return m, nil
}

func (m Model) loop() *loop.Loop { return m.engine.Loop() }

func (m Model) currentTrack() string {
	names := m.loop().TrackNames()
	if m.track >= len(names) {
		return names[len(names)-1]
	}
	return names[m.track]
}

func (m *Model) clampCursor() {
	l := m.loop()
	if n := len(l.TrackNames()); m.track >= n {
		m.track = n - 1
	}
	if m.track < 0 {
		m.track = 0
	}
	if m.step >= l.Length() {
		m.step = l.Length() - 1
	}
	if m.step < 0 {
		m.step = 0
	}
}

func (m *Model) setStatus(format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusErr = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.statusErr = true
	m.log.Warn("edit failed", zap.Error(err))
}

func (m *Model) writeNote(note int) {
	if err := m.loop().Set(m.currentTrack(), m.step, note); err != nil {
		m.setError(err)
		return
	}
	m.setStatus("%s step %d = %s", m.currentTrack(), m.step+1, midi.NoteName(note))
}

func (m Model) dirty() bool {
	return loop.Serialise(m.loop()) != m.savedSerial
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key != "q" && key != "ctrl+c" {
		m.quitArmed = false
	}
	l := m.loop()

	switch key {
	case "q", "ctrl+c":
		if m.dirty() && !m.quitArmed {
			m.quitArmed = true
			m.status = "you have unsaved work, save first if you want to keep it (q again to quit)"
			m.statusErr = true
			return m, nil
		}
		m.quitting = true
		m.engine.Send(sequencer.Stop())
		return m, tea.Quit

	case "left", "h":
		if m.step > 0 {
			m.step--
		}
	case "right", "l":
		if m.step < l.Length()-1 {
			m.step++
		}
	case "up", "k":
		if m.track > 0 {
			m.track--
		}
	case "down", "j":
		if m.track < len(l.TrackNames())-1 {
			m.track++
		}

	case "x", "backspace", "delete":
		if err := l.Erase(m.currentTrack(), m.step); err != nil {
			m.setError(err)
		}

	case " ":
		m.engine.Send(sequencer.Toggle())

	case "+", "=":
		m.engine.Send(sequencer.SetBPM(sequencer.ClampBPM(m.engine.BPM() + 5)))
	case "-", "_":
		m.engine.Send(sequencer.SetBPM(sequencer.ClampBPM(m.engine.BPM() - 5)))
	case "t":
		m.mode, m.buffer = modeTempo, ""

	case "[":
		if err := l.SetLength(l.Length() - 1); err != nil {
			m.setError(err)
		}
		m.clampCursor()
	case "]":
		if err := l.SetLength(l.Length() + 1); err != nil {
			m.setError(err)
		}

	case "ctrl+n":
		name := l.AddTrack(loop.PlaceholderTrack)
		m.track = len(l.TrackNames()) - 1
		m.setStatus("added %s", name)
	case "ctrl+x":
		name := m.currentTrack()
		if err := l.DeleteTrack(name); err != nil {
			m.setError(err)
		} else {
			m.setStatus("deleted %s", name)
		}
		m.clampCursor()
	case "r":
		m.mode, m.buffer = modeRename, m.currentTrack()
	case "ctrl+t":
		m.mode, m.buffer = modeTitle, l.Title()

	case "ctrl+s":
		m.save()

	default:
		runes := msg.Runes
		if msg.Type != tea.KeyRunes || len(runes) != 1 {
			break
		}
		r := runes[0]
		if r >= '0' && r <= '9' {
			m.octave = int(r - '0')
			m.setStatus("octave %d", m.octave)
			break
		}
		if note, ok := midi.NoteFromKey(r, m.octave); ok {
			m.writeNote(note)
		}
	}
	return m, nil
}

func (m Model) updateEntry(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode, m.buffer = modeNormal, ""
		return m, nil
	case tea.KeyEnter:
		m.commitEntry()
		m.mode, m.buffer = modeNormal, ""
		return m, nil
	case tea.KeyBackspace:
		if r := []rune(m.buffer); len(r) > 0 {
			m.buffer = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeySpace:
		if m.mode != modeTempo {
			m.buffer += " "
		}
		return m, nil
	case tea.KeyRunes:
		m.buffer += string(msg.Runes)
	}
	return m, nil
}

func (m *Model) commitEntry() {
	l := m.loop()
	switch m.mode {
	case modeTempo:
		bpm, err := sequencer.ParseBPM(m.buffer)
		if err != nil {
			m.setError(err)
			return
		}
		bpm = sequencer.ClampBPM(bpm)
		m.engine.Send(sequencer.SetBPM(bpm))
		m.setStatus("tempo %g", bpm)
	case modeRename:
		if m.buffer == "" {
			return
		}
		name, err := l.RenameTrack(m.currentTrack(), m.buffer)
		if err != nil {
			m.setError(err)
			return
		}
		m.setStatus("renamed to %s", name)
	case modeTitle:
		l.SetTitle(m.buffer)
		m.setStatus("title %s", l.Title())
	}
}

func (m *Model) save() {
	l := m.loop()
	switch {
	case m.opts.Path != "":
		if err := loop.WriteFile(m.opts.Path, l); err != nil {
			m.setError(err)
			return
		}
		m.setStatus("saved %s", m.opts.Path)
	case m.opts.Store != nil:
		project := m.opts.Project
		if project == "" {
			project = l.Title()
		}
		file, err := m.opts.Store.Save(project, "", l)
		if err != nil {
			m.setError(err)
			return
		}
		m.setStatus("saved %s/%s", project, file)
	default:
		m.status, m.statusErr = "nowhere to save: open a file or configure a projects dir", true
		return
	}
	m.savedSerial = loop.Serialise(l)
	m.log.Info("saved", zap.String("status", m.status))
}
