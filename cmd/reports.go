package cmd

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/traceoor/pkg/analysis"
	"github.com/ethpandaops/traceoor/pkg/trace"
)

// reporter is an analysis that prints a summary once replay is done.
type reporter interface {
	trace.Handler
	Report(w io.Writer) error
}

func runReport(cmd *cobra.Command, s *session, r reporter) error {
	if err := s.replay(r); err != nil {
		return err
	}

	return r.Report(cmd.OutOrStdout())
}

var accountUsageCmd = &cobra.Command{
	Use:   "account-usage",
	Short: "Report account reads and writes over a slot window",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := slotWindow(cmd)
		if err != nil {
			return err
		}

		skip, _ := cmd.Flags().GetBool("skip-alt-resolution")

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		resolver, closeStore, err := openStore(skip)
		if err != nil {
			return err
		}
		defer closeStore()

		logWindow(analysis.NameAccountUsage, logrus.Fields{"start_slot": window.Start, "end_slot": window.End})

		return runReport(cmd, s, analysis.NewAccountUsage(window.Start, window.End, resolver, s.collectors, logger))
	},
}

var duplicateCheckCmd = &cobra.Command{
	Use:   "duplicate-check",
	Short: "Report duplicate packets split by TPU and forwarded arrival",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := timeWindow(cmd)
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		logWindow(analysis.NameDuplicateCheck, timeFields(window.Start, window.End))

		return runReport(cmd, s, analysis.NewDuplicateChecker(window.Start, window.End, s.collectors, logger))
	},
}

var packetCountCmd = &cobra.Command{
	Use:   "packet-count",
	Short: "Report packet totals and the busiest source addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := timeWindow(cmd)
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		logWindow(analysis.NamePacketCount, timeFields(window.Start, window.End))

		return runReport(cmd, s, analysis.NewPacketCounter(window.Start, window.End, s.collectors, logger))
	},
}

var slotRangesCmd = &cobra.Command{
	Use:   "slot-ranges",
	Short: "List the runs of consecutive slots in a trace",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return runReport(cmd, s, analysis.NewSlotRanges())
	},
}

var timeRangeCmd = &cobra.Command{
	Use:   "time-range",
	Short: "Print the first and last event timestamps of a trace",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return runReport(cmd, s, analysis.NewTimeRange())
	},
}

func init() {
	addSlotWindowFlags(accountUsageCmd)
	accountUsageCmd.Flags().Bool("skip-alt-resolution", false, "Do not open the alt store; transactions using lookup tables are skipped")

	addTimeWindowFlags(duplicateCheckCmd)
	addTimeWindowFlags(packetCountCmd)
}
