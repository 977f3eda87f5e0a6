package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/traceoor/pkg/altstore"
	"github.com/ethpandaops/traceoor/pkg/analysis"
)

var updateAltStoreCmd = &cobra.Command{
	Use:   "update-alt-store",
	Short: "Fetch the lookup tables referenced in a slot window into the alt store",
	Long: `Collects the address lookup tables referenced by the transactions of the
window and fetches their current contents over JSON-RPC. By default each slot's
tables are fetched at its boundary and added to the store; --replace fetches the
tables of the whole window once and drops every other table from the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := slotWindow(cmd)
		if err != nil {
			return err
		}

		mode := altstore.Append
		if replace, _ := cmd.Flags().GetBool("replace"); replace {
			mode = altstore.Replace
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		store, err := altstore.LoadOrCreate(cfg.AltStorePath, cfg.AltCacheSize, logger)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck // cleanup

		logWindow(analysis.NameUpdateAltStore, logrus.Fields{
			"start_slot": window.Start,
			"end_slot":   window.End,
			"mode":       mode.String(),
			"store":      store.Path(),
			"rpc":        cfg.RPCEndpoint,
		})

		fetcher := altstore.NewRPCFetcher(cfg.RPCEndpoint, logger)
		u := analysis.NewAltUpdater(s.ctx, window.Start, window.End, store, fetcher, mode, s.collectors, logger)

		if err := s.replay(u); err != nil {
			return err
		}

		if err := u.Close(); err != nil {
			return err
		}

		logger.WithField("tables", u.Fetched()).Info("Alt store updated")

		return nil
	},
}

func init() {
	addSlotWindowFlags(updateAltStoreCmd)
	updateAltStoreCmd.Flags().Bool("replace", false, "Replace the store contents with the tables of the window")
}
