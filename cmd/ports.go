package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"go-stepseq/midi"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List MIDI input and output ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "(waiting up to 3 seconds...)")
			ports, err := midi.ListPorts()
			if err != nil {
				return fmt.Errorf("%w (on macOS try: sudo killall coreaudiod midiserver)", err)
			}
			printPorts(w, "MIDI Input Ports", ports.In)
			fmt.Fprintln(w)
			printPorts(w, "MIDI Output Ports", ports.Out)
			return nil
		},
	}
}

func printPorts(w io.Writer, title string, names []string) {
	fmt.Fprintf(w, "=== %s ===\n", title)
	if len(names) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, n := range names {
		fmt.Fprintf(w, "  %d: %s\n", i, n)
	}
}
