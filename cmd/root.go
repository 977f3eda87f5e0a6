// Package cmd implements the CLI commands for traceoor.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ethpandaops/traceoor/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logrus.Logger
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "traceoor",
	Short: "Offline analysis of banking stage packet traces",
	Long: `Traceoor replays recorded banking stage trace files and runs offline
analyses over them: per-slot transaction conflict graphs, account usage,
duplicate and packet statistics, and lookup-table store maintenance.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogger()

		return initConfig()
	},
}

func init() {
	v = viper.New()

	defaults := config.DefaultConfig()

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ./traceoor.yaml or $HOME/.traceoor/traceoor.yaml)")
	rootCmd.PersistentFlags().StringSlice("path", nil, "Trace file or directory of rotated trace files (repeatable)")
	rootCmd.PersistentFlags().String("alt-store", defaults.AltStorePath, "Lookup-table store directory")
	rootCmd.PersistentFlags().Int("alt-cache-size", defaults.AltCacheSize, "Lookup tables cached in memory")
	rootCmd.PersistentFlags().String("rpc-endpoint", defaults.RPCEndpoint, "JSON-RPC endpoint used to fetch lookup tables")
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel, "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	rootCmd.PersistentFlags().Bool("pprof", false, "Serve /debug/pprof on the metrics address")
	rootCmd.PersistentFlags().Int("workers", defaults.Workers, "Slots built concurrently by graph")

	v.SetEnvPrefix("TRACEOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Bind all flags to viper
	cobra.CheckErr(v.BindPFlags(rootCmd.PersistentFlags()))

	rootCmd.AddCommand(
		graphCmd,
		accountUsageCmd,
		dumpCmd,
		duplicateCheckCmd,
		packetCountCmd,
		slotRangesCmd,
		timeRangeCmd,
		updateAltStoreCmd,
		sliceCmd,
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initLogger() {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
}

func initConfig() error {
	loader := config.NewLoader(logger)

	path := cfgFile
	if path == "" {
		path = config.FindConfigFile()
	}

	base := config.DefaultConfig()

	if path != "" {
		fileCfg, err := loader.LoadConfig(path)
		if err != nil {
			return err
		}

		base = fileCfg
	}

	override, err := loader.LoadConfigFromFlags(v)
	if err != nil {
		return err
	}

	cfg = config.MergeConfigs(base, override)

	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)

	return nil
}
