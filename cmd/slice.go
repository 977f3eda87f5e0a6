package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/traceoor/pkg/analysis"
)

var sliceCmd = &cobra.Command{
	Use:   "slice",
	Short: "Copy the events of a time window into a new trace file",
	Long: `Copies every event of the window into a new trace file, so a short window
of a large trace can be analysed repeatedly. Outputs ending in .sz are snappy
compressed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := timeWindow(cmd)
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return fmt.Errorf("--output is required")
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		fields := timeFields(window.Start, window.End)
		fields["output"] = output
		logWindow(analysis.NameSlice, fields)

		slicer, err := analysis.NewSlicer(output, window.Start, window.End, logger)
		if err != nil {
			return err
		}

		replayErr := s.replay(slicer)

		if err := slicer.Close(); err != nil && replayErr == nil {
			return err
		}

		return replayErr
	},
}

func init() {
	addTimeWindowFlags(sliceCmd)
	sliceCmd.Flags().String("output", "", "Trace file to write")
}
