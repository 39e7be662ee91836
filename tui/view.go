package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"go-stepseq/midi"
	"go-stepseq/widgets"
)

const (
	cellWidth  = 4
	labelWidth = 12
)

var keyHelp = []widgets.KeyBinding{
	{Key: "hjkl", Desc: "move"},
	{Key: "cdefgab", Desc: "note (shift: sharp)"},
	{Key: "0-9", Desc: "octave"},
	{Key: "x", Desc: "erase"},
	{Key: "space", Desc: "play/stop"},
	{Key: "+/-", Desc: "tempo"},
	{Key: "t", Desc: "type tempo"},
	{Key: "[/]", Desc: "length"},
	{Key: "^n/^x", Desc: "add/del track"},
	{Key: "r", Desc: "rename"},
	{Key: "^s", Desc: "save"},
	{Key: "q", Desc: "quit"},
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	l := m.loop()

	headerStyle := lipgloss.NewStyle().Foreground(m.theme.Accent()).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(m.theme.Muted())
	statusStyle := lipgloss.NewStyle().Foreground(m.theme.FG())
	if m.statusErr {
		statusStyle = lipgloss.NewStyle().Foreground(m.theme.Warning())
	}

	playState := "STOP"
	if m.engine.Playing() {
		playState = "PLAY"
	}
	header := headerStyle.Render(fmt.Sprintf("%s  %s  %gbpm  len:%d  oct:%d",
		l.Title(), playState, m.engine.BPM(), l.Length(), m.octave))

	var ports []string
	if m.opts.OutputPort != "" {
		ports = append(ports, widgets.RenderLight(m.outUp, "out "+m.opts.OutputPort, m.theme.Success(), m.theme.Muted()))
	}
	if m.opts.InputPort != "" {
		ports = append(ports, widgets.RenderLight(m.inUp, "in "+m.opts.InputPort, m.theme.Success(), m.theme.Muted()))
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	if len(ports) > 0 {
		out.WriteString("  ")
		out.WriteString(strings.Join(ports, "  "))
	}
	out.WriteString("\n\n")
	out.WriteString(m.renderGrid())
	out.WriteString("\n\n")

	switch m.mode {
	case modeTempo:
		out.WriteString(statusStyle.Render("bpm: " + m.buffer + "_"))
	case modeRename:
		out.WriteString(statusStyle.Render("track name: " + m.buffer + "_"))
	case modeTitle:
		out.WriteString(statusStyle.Render("title: " + m.buffer + "_"))
	default:
		out.WriteString(statusStyle.Render(m.status))
	}
	out.WriteString("\n")
	out.WriteString(dimStyle.Render(widgets.RenderKeyLine(keyHelp)))
	return out.String()
}

func (m Model) renderGrid() string {
	l := m.loop()
	names := l.TrackNames()
	head := -1
	if m.engine.Playing() {
		head = l.PlayerHead()
	}

	cells := make([][]widgets.GridCell, len(names))
	for r, name := range names {
		row := make([]widgets.GridCell, l.Length())
		for s := range row {
			if v, ok := l.Note(name, s); ok {
				row[s].Text = midi.NoteName(v)
			}
			row[s].Playhead = s == head
			row[s].Cursor = r == m.track && s == m.step
		}
		cells[r] = row
	}

	base := lipgloss.NewStyle()
	return widgets.RenderGrid(widgets.Grid{
		Labels:     names,
		Cells:      cells,
		Head:       head,
		CellWidth:  cellWidth,
		LabelWidth: labelWidth,
		EmptyText:  string(m.theme.Symbols.StepEmpty),
		HeadText:   string(m.theme.Symbols.Playhead),
	}, widgets.GridStyles{
		Label:    base.Foreground(m.theme.FG()),
		Empty:    base.Foreground(m.theme.Muted()),
		Filled:   base.Foreground(m.theme.Active()),
		Playhead: base.Foreground(m.theme.BG()).Background(m.theme.Success()),
		Cursor:   base.Foreground(m.theme.BG()).Background(m.theme.Cursor()),
		Marker:   base.Foreground(m.theme.Success()),
	})
}
