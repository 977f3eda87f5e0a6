package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/traceoor/pkg/analysis"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export per-slot transaction conflict graphs",
	Long: `Builds the priority-ordered conflict graph of every slot in the window
and writes it as a Graphia JSON document. A single slot is written to --output;
a slot range writes one slot-<n>.json per slot into the --output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := slotWindow(cmd)
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

		resolver, closeStore, err := openStore(false)
		if err != nil {
			return err
		}
		defer closeStore()

		logWindow(analysis.NameGraph, logrus.Fields{
			"start_slot": window.Start,
			"end_slot":   window.End,
			"output":     output,
			"workers":    cfg.Workers,
		})

		g, err := analysis.NewSlotGraph(analysis.GraphConfig{
			StartSlot: window.Start,
			EndSlot:   window.End,
			Output:    output,
			Workers:   cfg.Workers,
		}, resolver, s.collectors, logger)
		if err != nil {
			return err
		}

		replayErr := s.replay(g)

		if err := g.Close(); err != nil && replayErr == nil {
			return err
		}

		if replayErr != nil {
			return replayErr
		}

		return g.Report(cmd.OutOrStdout())
	},
}

func init() {
	addSlotWindowFlags(graphCmd)
	graphCmd.Flags().String("output", "", "Graph file for a single slot, or output directory for a slot range")
}
