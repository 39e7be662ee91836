package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"go-stepseq/debug"
	"go-stepseq/loop"
)

func newExportCmd(g *globalFlags) *cobra.Command {
	var (
		out     string
		repeats int
	)
	c := &cobra.Command{
		Use:   "export <file>",
		Short: "Render a loop to a Standard MIDI File",
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
			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".mid"
			}

			opts := loop.DefaultExportOptions()
			opts.BPM = cfg.Playback.BPM
			opts.Repeats = repeats
			opts.Channel = uint8(cfg.MIDI.Channel - 1)
			opts.Velocity = uint8(cfg.MIDI.Velocity)

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := loop.WriteSMF(f, l, opts); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d x %d steps at %gbpm)\n", out, opts.Repeats, l.Length(), opts.BPM)
			return nil
		},
	}
	c.Flags().StringVarP(&out, "output", "o", "", "output .mid path (default: input name with .mid)")
	c.Flags().IntVar(&repeats, "repeat", 1, "number of loop passes to render")
	return c
}
