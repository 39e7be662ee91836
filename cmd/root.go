package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-stepseq/config"
	"go-stepseq/debug"
	"go-stepseq/loop"
	"go-stepseq/midi"
	"go-stepseq/sequencer"
	"go-stepseq/theme"
	"go-stepseq/tui"
)

// flags shared by every command
type globalFlags struct {
	configPath string
	outPort    string
	inPort     string
	bpm        float64
	logLevel   string
}

// NewRootCmd builds the stepseq command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "stepseq [file]",
		Short:         "A terminal step sequencer that plays loops to a MIDI port.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, g, false)
			if err != nil {
				return err
			}
			defer debug.Close()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runEditor(cmd, cfg, path)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ~/.config/stepseq/config.json)")
	pf.StringVar(&g.outPort, "port", "", "MIDI output port name (substring match)")
	pf.StringVar(&g.inPort, "input", "", "MIDI input port for step entry")
	pf.Float64Var(&g.bpm, "bpm", 0, "tempo in beats (steps) per minute")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newPlayCmd(g), newExportCmd(g), newPortsCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup resolves configuration (file, .env, environment, flags in that
// order) and starts logging.
func setup(cmd *cobra.Command, g *globalFlags, headless bool) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.MIDI.OutputPort = g.outPort
	}
	if flags.Changed("input") {
		cfg.MIDI.InputPort = g.inPort
	}
	if flags.Changed("bpm") {
		cfg.Playback.BPM = g.bpm
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	dc := cfg.DebugConfig()
	dc.Stderr = headless
	if err := debug.Init(dc); err != nil {
		return nil, err
	}
	return cfg, nil
}

// engineOptions maps configuration onto the engine.
func engineOptions(cfg *config.Config) sequencer.Options {
	return sequencer.Options{
		BPM:          cfg.Playback.BPM,
		Lookahead:    cfg.Lookahead(),
		PollInterval: cfg.PollInterval(),
		Channel:      uint8(cfg.MIDI.Channel - 1),
		Velocity:     uint8(cfg.MIDI.Velocity),
		NoteOff:      cfg.MIDI.NoteOff,
	}
}

type closingSink interface {
	midi.Sink
	Close() error
}

type nopCloser struct{ midi.Sink }

func (nopCloser) Close() error { return nil }

func newSink(cfg *config.Config) closingSink {
	if cfg.MIDI.OutputPort == "" {
		debug.Named("midi").Info("no output port configured, notes are discarded")
		return nopCloser{midi.Discard}
	}
	return midi.NewPortSink(cfg.MIDI.OutputPort)
}

// openLoop reads path, or starts a fresh loop when path is empty or does
// not exist yet.
func openLoop(cfg *config.Config, path string) (*loop.Loop, error) {
	if path != "" {
		l, err := loop.ReadFile(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return loop.New(cfg.Playback.Length, "", "track 1")
}

func projectsDir(cfg *config.Config) string {
	if cfg.ProjectsDir != "" {
		return cfg.ProjectsDir
	}
	dir, err := loop.DefaultStoreDir()
	if err != nil {
		return ""
	}
	return dir
}

func runEditor(cmd *cobra.Command, cfg *config.Config, path string) error {
	log := debug.Named("cli")
	l, err := openLoop(cfg, path)
	if err != nil {
		return err
	}

	palette, err := theme.Load(cfg.UI.PalettePath)
	if err != nil {
		log.Warn("palette", zap.Error(err))
	}
	th := theme.New(palette)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sink := newSink(cfg)
	defer sink.Close()
	engine := sequencer.NewEngine(l, sink, engineOptions(cfg))
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	watcher := midi.NewWatcher(cfg.MIDI.OutputPort, cfg.MIDI.InputPort)
	go watcher.Run(ctx)

	var notes <-chan midi.NoteEvent
	if cfg.MIDI.InputPort != "" {
		in, err := midi.OpenInput(cfg.MIDI.InputPort)
		if err != nil {
			log.Warn("midi input unavailable", zap.String("port", cfg.MIDI.InputPort), zap.Error(err))
		} else {
			defer in.Close()
			notes = in.Notes()
		}
	}

	var store *loop.Store
	if dir := projectsDir(cfg); dir != "" {
		store = loop.NewStore(dir)
	}

	m := tui.NewModel(engine, th, tui.Options{
		Path:       path,
		Store:      store,
		Octave:     cfg.UI.Octave,
		OutputPort: cfg.MIDI.OutputPort,
		InputPort:  cfg.MIDI.InputPort,
		Watcher:    watcher,
		Notes:      notes,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	cancel()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
		log.Warn("engine exited", zap.Error(rerr))
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
