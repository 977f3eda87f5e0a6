package cmd

import (
	"fmt"
	"net/netip"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/traceoor/pkg/analysis"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print slot boundaries and transactions as JSON lines",
	Long: `Prints every in-window slot boundary and non-vote transaction as one JSON
document per line. Transactions can be filtered by the accounts they lock and
by source address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := timeWindow(cmd)
		if err != nil {
			return err
		}

		rawAccounts, _ := cmd.Flags().GetStringSlice("accounts")
		rawIPs, _ := cmd.Flags().GetStringSlice("ips")
		skip, _ := cmd.Flags().GetBool("skip-alt-resolution")
		pretty, _ := cmd.Flags().GetBool("pretty")

		accounts := make([]solana.PublicKey, 0, len(rawAccounts))

		for _, raw := range rawAccounts {
			key, err := solana.PublicKeyFromBase58(raw)
			if err != nil {
				return fmt.Errorf("invalid account %q: %w", raw, err)
			}

			accounts = append(accounts, key)
		}

		ips := make([]netip.Addr, 0, len(rawIPs))

		for _, raw := range rawIPs {
			ip, err := netip.ParseAddr(raw)
			if err != nil {
				return fmt.Errorf("invalid ip %q: %w", raw, err)
			}

			ips = append(ips, ip)
		}

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

		fields := timeFields(window.Start, window.End)
		fields["accounts"] = len(accounts)
		fields["ips"] = len(ips)
		logWindow(analysis.NameDump, fields)

		d := analysis.NewDumper(analysis.DumpConfig{
			Start:    window.Start,
			End:      window.End,
			Accounts: accounts,
			IPs:      ips,
			Resolver: resolver,
			Pretty:   pretty,
		}, cmd.OutOrStdout(), s.collectors, logger)

		if err := s.replay(d); err != nil {
			return err
		}

		logger.WithFields(logrus.Fields{"records": d.Dumped()}).Info("Dump finished")

		return nil
	},
}

func init() {
	addTimeWindowFlags(dumpCmd)
	dumpCmd.Flags().StringSlice("accounts", nil, "Only dump transactions locking one of these accounts (base58)")
	dumpCmd.Flags().StringSlice("ips", nil, "Only dump packets from one of these source addresses")
	dumpCmd.Flags().Bool("skip-alt-resolution", false, "Print static account keys instead of resolved locks")
	dumpCmd.Flags().Bool("pretty", false, "Indent and colorize the JSON output")
}
