package loop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the encoding of the persisted form.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks a format from a file extension. Anything that is not
// .yml or .yaml is JSON, including the legacy .bhmr extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// record is the persisted form:
// { title: string, length: int, tracks: { name: { step: value } } }
type record struct {
	Title  string    `json:"title" yaml:"title"`
	Length int       `json:"length" yaml:"length"`
	Tracks trackList `json:"tracks" yaml:"tracks"`
}

type trackEntry struct {
	name  string
	steps map[int]int
}

// trackList keeps tracks in insertion order in both encodings.
type trackList []trackEntry

func (t trackList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tr := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(tr.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(":{")
		for j, step := range sortedSteps(tr.steps) {
			if j > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%q:%d", strconv.Itoa(step), tr.steps[step])
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *trackList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("tracks: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string) // object keys are always strings
		var raw map[string]int
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("track %q: %w", name, err)
		}
		steps := make(map[int]int, len(raw))
		for k, v := range raw {
			step, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("track %q: step %q: %w", name, k, err)
			}
			steps[step] = v
		}
		*t = append(*t, trackEntry{name: name, steps: steps})
	}
	_, err = dec.Token()
	return err
}

func (t trackList) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, tr := range t {
		steps := &yaml.Node{Kind: yaml.MappingNode}
		for _, step := range sortedSteps(tr.steps) {
			steps.Content = append(steps.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(step)},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(tr.steps[step])},
			)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: tr.name},
			steps,
		)
	}
	return node, nil
}

func (t *trackList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("tracks: line %d: expected mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		stepsNode := value.Content[i+1]
		steps := make(map[int]int)
		// an empty track may be written as `name:` with a null value
		if stepsNode.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(stepsNode.Content); j += 2 {
				k, v := stepsNode.Content[j], stepsNode.Content[j+1]
				step, err := strconv.Atoi(k.Value)
				if err != nil {
					return fmt.Errorf("track %q: line %d: step %q: %w", name, k.Line, k.Value, err)
				}
				note, err := strconv.Atoi(v.Value)
				if err != nil {
					return fmt.Errorf("track %q: line %d: note %q: %w", name, v.Line, v.Value, err)
				}
				steps[step] = note
			}
		}
		*t = append(*t, trackEntry{name: name, steps: steps})
	}
	return nil
}

func sortedSteps(steps map[int]int) []int {
	keys := make([]int, 0, len(steps))
	for k := range steps {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (l *Loop) toRecord() record {
	s := l.Snapshot()
	r := record{Title: s.title, Length: s.length}
	for _, name := range s.order {
		r.Tracks = append(r.Tracks, trackEntry{name: name, steps: s.tracks[name]})
	}
	return r
}

// fromRecord rebuilds a loop, validating every field on the way in.
func fromRecord(r record) (*Loop, error) {
	if r.Length <= 0 {
		return nil, fmt.Errorf("length %d: %w", r.Length, ErrInvalidLength)
	}
	title := r.Title
	if title == "" {
		title = DefaultTitle
	}
	l := &Loop{title: title, length: r.Length, tracks: make(map[string]map[int]int)}
	for _, tr := range r.Tracks {
		name := l.addTrackLocked(tr.name)
		for step, note := range tr.steps {
			if step < 0 || step >= r.Length {
				return nil, fmt.Errorf("track %q step %d (length %d): %w", tr.name, step, r.Length, ErrStepRange)
			}
			if note < 0 || note > MaxNote {
				return nil, fmt.Errorf("track %q note %d: %w", tr.name, note, ErrNoteRange)
			}
			l.tracks[name][step] = note
		}
	}
	if len(l.order) == 0 {
		l.addTrackLocked(PlaceholderTrack)
	}
	l.playerHead.Store(-1)
	return l, nil
}

// Marshal encodes the loop in its persisted form.
func Marshal(l *Loop, f Format) ([]byte, error) {
	r := l.toRecord()
	if f == FormatYAML {
		return yaml.Marshal(r)
	}
	return json.MarshalIndent(r, "", "  ")
}

// Unmarshal decodes and validates a persisted loop.
func Unmarshal(data []byte, f Format) (*Loop, error) {
	var r record
	if f == FormatYAML {
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	} else if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return fromRecord(r)
}

// Serialise returns the compact JSON form, used to detect unsaved edits.
func Serialise(l *Loop) string {
	data, err := json.Marshal(l.toRecord())
	if err != nil {
		return ""
	}
	return string(data)
}

// ReadFile loads a loop. JSON files that fail to parse are retried as
// YAML, since YAML is a superset of the JSON form.
func ReadFile(path string) (*Loop, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := FormatFor(path)
	l, err := Unmarshal(data, f)
	if err != nil && f == FormatJSON {
		if l2, errYaml := Unmarshal(data, FormatYAML); errYaml == nil {
			return l2, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return l, nil
}

// WriteFile saves a loop, creating parent directories as needed.
func WriteFile(path string, l *Loop) error {
	data, err := Marshal(l, FormatFor(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
