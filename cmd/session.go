package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/traceoor/pkg/altstore"
	"github.com/ethpandaops/traceoor/pkg/config"
	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
)

// session holds the services shared by one command run.
type session struct {
	ctx        context.Context
	stop       context.CancelFunc
	collectors *metrics.Collectors
	server     *metrics.Server
}

func newSession() (*session, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	s := &session{
		ctx:        ctx,
		stop:       stop,
		collectors: metrics.New(),
	}

	if cfg.MetricsAddr != "" {
		server, err := metrics.StartServer(cfg.MetricsAddr, s.collectors.Registry, cfg.Pprof, logger)
		if err != nil {
			stop()
			return nil, err
		}

		s.server = server
	}

	return s, nil
}

func (s *session) Close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to stop metrics server")
		}
	}

	s.stop()
}

// replay runs every configured trace file through h.
func (s *session) replay(h trace.Handler) error {
	if len(cfg.TracePaths) == 0 {
		return fmt.Errorf("--path is required")
	}

	paths, err := trace.ExpandPaths(cfg.TracePaths)
	if err != nil {
		return err
	}

	logger.WithField("files", len(paths)).Info("Replaying trace")

	started := time.Now()

	if err := trace.NewSource(paths, logger).WithObserver(s.collectors).Dispatch(s.ctx, h); err != nil {
		return err
	}

	logger.WithField("took", time.Since(started)).Info("Replay finished")

	return nil
}

// openStore opens the lookup-table store. The returned resolver is nil when
// skip is set, so callers fall back to static account keys.
func openStore(skip bool) (txn.LookupResolver, func(), error) {
	if skip {
		return nil, func() {}, nil
	}

	store, err := altstore.LoadOrCreate(cfg.AltStorePath, cfg.AltCacheSize, logger)
	if err != nil {
		return nil, nil, err
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close alt store")
		}
	}

	return store, closeStore, nil
}

func addSlotWindowFlags(c *cobra.Command) {
	c.Flags().Uint64("start-slot", 0, "First slot of the window (required)")
	c.Flags().Uint64("end-slot", 0, "Last slot of the window, inclusive (default start slot)")
}

func slotWindow(c *cobra.Command) (config.SlotWindow, error) {
	var w config.WindowConfig

	if c.Flags().Changed("start-slot") {
		slot, _ := c.Flags().GetUint64("start-slot")
		w.StartSlot = &slot
	}

	if c.Flags().Changed("end-slot") {
		slot, _ := c.Flags().GetUint64("end-slot")
		w.EndSlot = &slot
	}

	return w.SlotWindow()
}

func addTimeWindowFlags(c *cobra.Command) {
	c.Flags().String("start", "", "Start of the window, RFC 3339 with nanoseconds (default open)")
	c.Flags().String("end", "", "End of the window, inclusive (default open)")
}

func timeWindow(c *cobra.Command) (config.TimeWindow, error) {
	start, _ := c.Flags().GetString("start")
	end, _ := c.Flags().GetString("end")

	return config.WindowConfig{Start: start, End: end}.TimeWindow()
}

func logWindow(name string, fields logrus.Fields) {
	logger.WithFields(fields).WithField("analysis", name).Info("Starting analysis")
}

func timeFields(start, end *time.Time) logrus.Fields {
	fields := logrus.Fields{}

	if start != nil {
		fields["start"] = start.Format(time.RFC3339Nano)
	}

	if end != nil {
		fields["end"] = end.Format(time.RFC3339Nano)
	}

	return fields
}
