package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// GridCell is one rendered step.
type GridCell struct {
	Text     string // note name, empty for no note
	Cursor   bool
	Playhead bool
}

// GridStyles colors the parts of a step grid.
type GridStyles struct {
	Label    lipgloss.Style
	Empty    lipgloss.Style
	Filled   lipgloss.Style
	Playhead lipgloss.Style
	Cursor   lipgloss.Style
	Marker   lipgloss.Style
}

// Grid is a tracks x steps table with one label per row.
type Grid struct {
	Labels     []string
	Cells      [][]GridCell
	Head       int // step with the play-head marker, -1 for none
	CellWidth  int
	LabelWidth int
	EmptyText  string
	HeadText   string
}

// RenderGrid draws a marker row for the play-head and one line per track.
func RenderGrid(g Grid, st GridStyles) string {
	w := g.CellWidth
	if w < 1 {
		w = 4
	}
	steps := 0
	for _, row := range g.Cells {
		if len(row) > steps {
			steps = len(row)
		}
	}

	var out strings.Builder
	out.WriteString(strings.Repeat(" ", g.LabelWidth+1))
	for s := 0; s < steps; s++ {
		mark := ""
		if s == g.Head {
			mark = g.HeadText
		}
		out.WriteString(st.Marker.Render(pad(mark, w)))
	}

	for r, row := range g.Cells {
		out.WriteString("\n")
		label := ""
		if r < len(g.Labels) {
			label = g.Labels[r]
		}
		out.WriteString(st.Label.Render(pad(truncate(label, g.LabelWidth), g.LabelWidth)))
		out.WriteString(" ")
		for _, c := range row {
			text := c.Text
			style := st.Filled
			if text == "" {
				text = g.EmptyText
				style = st.Empty
			}
			if c.Playhead {
				style = st.Playhead
			}
			if c.Cursor {
				style = st.Cursor
			}
			out.WriteString(style.Render(pad(text, w)))
		}
	}
	return out.String()
}

func pad(s string, w int) string {
	n := lipgloss.Width(s)
	if n >= w {
		return s
	}
	return s + strings.Repeat(" ", w-n)
}

func truncate(s string, w int) string {
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w <= 1 {
		return string(r[:w])
	}
	return string(r[:w-1]) + "…"
}
