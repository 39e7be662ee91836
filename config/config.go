package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-stepseq/debug"
	"go-stepseq/sequencer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STEPSEQ_"

// Lookahead bounds in milliseconds.
const (
	MinLookaheadMs = 100
	MaxLookaheadMs = 2000
)

// MIDIConfig selects ports and the outgoing message shape
type MIDIConfig struct {
	OutputPort string `json:"outputPort,omitempty"`
	InputPort  string `json:"inputPort,omitempty"`
	Channel    int    `json:"channel"`  // 1-16
	Velocity   int    `json:"velocity"` // 1-127
	NoteOff    bool   `json:"noteOff"`
}

// PlaybackConfig holds transport defaults
type PlaybackConfig struct {
	BPM         float64 `json:"bpm"`
	Length      int     `json:"length"` // steps in a new loop
	LookaheadMs int     `json:"lookaheadMs"`
	PollMs      int     `json:"pollMs"`
}

// LogConfig controls the debug log file
type LogConfig struct {
	Level      string `json:"level"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
	Compress   bool   `json:"compress"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	PalettePath string `json:"palettePath,omitempty"`
	Octave      int    `json:"octave"`
}

// Config is the main configuration structure
type Config struct {
	MIDI        MIDIConfig     `json:"midi"`
	Playback    PlaybackConfig `json:"playback"`
	Log         LogConfig      `json:"log"`
	UI          UIConfig       `json:"ui"`
	ProjectsDir string         `json:"projectsDir,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MIDI: MIDIConfig{
			Channel:  1,
			Velocity: 127,
		},
		Playback: PlaybackConfig{
			BPM:         120,
			Length:      8,
			LookaheadMs: 1000,
			PollMs:      50,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		UI: UIConfig{
			Octave: 4,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "stepseq"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from path (the default path when empty). A missing
// file yields the defaults. Fields absent from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none)
// into the process environment. Missing files are skipped; variables that
// are already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from STEPSEQ_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("OUTPUT_PORT", &c.MIDI.OutputPort)
	str("INPUT_PORT", &c.MIDI.InputPort)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_PATH", &c.Log.Path)
	str("PROJECTS_DIR", &c.ProjectsDir)
	str("PALETTE", &c.UI.PalettePath)

	for key, dst := range map[string]*int{
		"CHANNEL":      &c.MIDI.Channel,
		"VELOCITY":     &c.MIDI.Velocity,
		"LENGTH":       &c.Playback.Length,
		"LOOKAHEAD_MS": &c.Playback.LookaheadMs,
		"POLL_MS":      &c.Playback.PollMs,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "BPM"); ok {
		b, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sBPM: %w", EnvPrefix, err)
		}
		c.Playback.BPM = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "NOTE_OFF"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sNOTE_OFF: %w", EnvPrefix, err)
		}
		c.MIDI.NoteOff = b
	}
	return nil
}

// Validate rejects values that cannot be played and clamps timing knobs
// into their working range.
func (c *Config) Validate() error {
	if c.MIDI.Channel < 1 || c.MIDI.Channel > 16 {
		return fmt.Errorf("midi channel %d: must be 1-16", c.MIDI.Channel)
	}
	if c.MIDI.Velocity < 1 || c.MIDI.Velocity > 127 {
		return fmt.Errorf("velocity %d: must be 1-127", c.MIDI.Velocity)
	}
	if b := c.Playback.BPM; math.IsNaN(b) || b < sequencer.MinBPM || b > sequencer.MaxBPM {
		return fmt.Errorf("bpm %v: must be %d-%d", b, sequencer.MinBPM, sequencer.MaxBPM)
	}
	if c.Playback.Length <= 0 {
		return fmt.Errorf("length %d: must be positive", c.Playback.Length)
	}
	if _, err := debug.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}

	switch {
	case c.Playback.LookaheadMs < MinLookaheadMs:
		c.Playback.LookaheadMs = MinLookaheadMs
	case c.Playback.LookaheadMs > MaxLookaheadMs:
		c.Playback.LookaheadMs = MaxLookaheadMs
	}
	if c.Playback.PollMs <= 0 || c.Playback.PollMs > 1000 {
		c.Playback.PollMs = 50
	}
	if c.UI.Octave < 0 || c.UI.Octave > 9 {
		c.UI.Octave = 4
	}
	return nil
}

// Lookahead returns the scheduling window.
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Playback.LookaheadMs) * time.Millisecond
}

// PollInterval returns the engine's longest idle wait.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Playback.PollMs) * time.Millisecond
}

// DebugConfig maps the log section onto the logger's settings.
func (c *Config) DebugConfig() debug.Config {
	path := c.Log.Path
	if path == "" {
		path = debug.DefaultPath()
	}
	return debug.Config{
		Level:      c.Log.Level,
		Path:       path,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Save writes the config to path (the default path when empty)
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
