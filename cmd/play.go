package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-stepseq/debug"
	"go-stepseq/loop"
	"go-stepseq/sequencer"
)

func newPlayCmd(g *globalFlags) *cobra.Command {
	var duration time.Duration
	c := &cobra.Command{
		Use:   "play <file>",
		Short: "Play a loop without the editor until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd, g, true)
			if err != nil {
				return err
			}
			defer debug.Close()

			l, err := loop.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if duration > 0 {
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			sink := newSink(cfg)
			defer sink.Close()
			engine := sequencer.NewEngine(l, sink, engineOptions(cfg))
			done := make(chan error, 1)
			go func() { done <- engine.Run(ctx) }()

			if err := engine.Do(ctx, sequencer.Play()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "playing %q (%d steps, %gbpm), ctrl+c to stop\n", l.Title(), l.Length(), engine.BPM())
			debug.Named("cli").Info("headless play",
				zap.String("file", args[0]),
				zap.String("port", cfg.MIDI.OutputPort))

			<-done
			return nil
		},
	}
	c.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: until interrupted)")
	return c
}
