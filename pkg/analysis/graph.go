package analysis

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/traceoor/pkg/export"
	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/priograph"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/ethpandaops/traceoor/pkg/window"
	"github.com/gagliardetto/solana-go"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// ErrSlotNotFound is returned when no slot of the requested range was seen.
var ErrSlotNotFound = errors.New("no slot in range found in trace")

// GraphConfig configures a SlotGraph run.
type GraphConfig struct {
	StartSlot uint64
	EndSlot   uint64
	// Output is the graph file for a single slot, or the directory receiving
	// one slot-<n>.json per slot for a range.
	Output string
	// Workers bounds the number of slots built concurrently.
	Workers int
}

// OutputPath returns the file the graph of slot is written to.
func (c *GraphConfig) OutputPath(slot uint64) string {
	if c.StartSlot == c.EndSlot {
		return c.Output
	}

	return filepath.Join(c.Output, fmt.Sprintf("slot-%d.json", slot))
}

// SlotSummary describes one exported slot graph.
type SlotSummary struct {
	Slot         uint64
	Transactions int
	Edges        int
	Layers       int
	Path         string
	Duration     time.Duration
}

// SlotGraph builds the conflict graph of every slot in a range. Packets
// received between two slot boundaries belong to the later slot. Each slot
// is built on the worker pool with its own graph and transactions.
type SlotGraph struct {
	cfg      GraphConfig
	log      logrus.FieldLogger
	resolver txn.LookupResolver
	metrics  *metrics.Collectors
	filter   *window.Filter[uint64]
	pool     *ants.Pool
	wg       sync.WaitGroup

	pending []*trace.PacketBatch

	mu        sync.Mutex
	summaries []SlotSummary
	errs      []error
}

var _ trace.Handler = (*SlotGraph)(nil)

// NewSlotGraph creates a slot graph analysis.
func NewSlotGraph(cfg GraphConfig, resolver txn.LookupResolver, collectors *metrics.Collectors, log logrus.FieldLogger) (*SlotGraph, error) {
	if cfg.EndSlot < cfg.StartSlot {
		return nil, fmt.Errorf("end slot %d before start slot %d", cfg.EndSlot, cfg.StartSlot)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if cfg.StartSlot != cfg.EndSlot {
		if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &SlotGraph{
		cfg:      cfg,
		log:      log.WithField("component", NameGraph),
		resolver: resolver,
		metrics:  collectors,
		filter:   window.NewSlotFilter(&cfg.StartSlot, &cfg.EndSlot),
		pool:     pool,
	}, nil
}

// HandlePacketBatch buffers non-vote batches for the next slot boundary.
func (g *SlotGraph) HandlePacketBatch(_ time.Time, batch *trace.PacketBatch) error {
	if g.filter.Done() || !isNonVote(batch) {
		return nil
	}

	g.pending = append(g.pending, batch)

	return nil
}

// HandleSlotBoundary hands the buffered packets of an in-range slot to the
// worker pool and starts buffering the next slot.
func (g *SlotGraph) HandleSlotBoundary(_ time.Time, boundary *trace.SlotBoundary) error {
	batches := g.pending
	g.pending = nil

	if !g.filter.Observe(boundary.Slot) {
		return nil
	}

	slot := boundary.Slot

	g.wg.Add(1)

	err := g.pool.Submit(func() {
		defer g.wg.Done()
		g.buildSlot(slot, batches)
	})
	if err != nil {
		g.wg.Done()
		return fmt.Errorf("failed to submit slot %d: %w", slot, err)
	}

	return nil
}

func (g *SlotGraph) buildSlot(slot uint64, batches []*trace.PacketBatch) {
	log := g.log.WithField("slot", slot)
	started := time.Now()

	schedule, txs, err := BuildSchedule(batches, g.resolver, log, g.metrics)
	if err != nil {
		g.fail(fmt.Errorf("slot %d: %w", slot, err))
		return
	}

	doc := export.Build(schedule, func(key priograph.Key) export.Transaction {
		tx := txs[key.Index]

		return export.Transaction{
			Signature:    tx.Signature.String(),
			RequestedCUs: tx.RequestedCUs,
		}
	})

	path := g.cfg.OutputPath(slot)
	if err := export.WriteFile(path, doc); err != nil {
		g.fail(fmt.Errorf("slot %d: %w", slot, err))
		return
	}

	summary := SlotSummary{
		Slot:         slot,
		Transactions: schedule.Len(),
		Edges:        len(schedule.Edges),
		Layers:       len(schedule.Layers),
		Path:         path,
		Duration:     time.Since(started),
	}

	g.metrics.GraphBuilt(summary.Transactions, summary.Edges, summary.Layers)

	log.WithFields(logrus.Fields{
		"transactions": summary.Transactions,
		"edges":        summary.Edges,
		"layers":       summary.Layers,
		"took":         summary.Duration,
	}).Info("Exported slot graph")

	g.mu.Lock()
	g.summaries = append(g.summaries, summary)
	g.mu.Unlock()
}

func (g *SlotGraph) fail(err error) {
	g.log.WithError(err).Error("Failed to build slot graph")

	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}

// Close waits for every submitted slot and releases the worker pool.
func (g *SlotGraph) Close() error {
	g.wg.Wait()
	g.pool.Release()

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.errs) > 0 {
		return errors.Join(g.errs...)
	}

	if len(g.summaries) == 0 {
		return fmt.Errorf("%w: %d-%d", ErrSlotNotFound, g.cfg.StartSlot, g.cfg.EndSlot)
	}

	return nil
}

// Summaries returns the exported slots in slot order. Call after Close.
func (g *SlotGraph) Summaries() []SlotSummary {
	g.mu.Lock()
	defer g.mu.Unlock()

	summaries := slices.Clone(g.summaries)
	slices.SortFunc(summaries, func(a, b SlotSummary) int {
		return cmp.Compare(a.Slot, b.Slot)
	})

	return summaries
}

// Report writes one line per exported slot.
func (g *SlotGraph) Report(w io.Writer) error {
	for _, s := range g.Summaries() {
		if _, err := fmt.Fprintf(w, "slot %d: %s transactions, %s edges, %d layers -> %s\n",
			s.Slot, humanize.Comma(int64(s.Transactions)), humanize.Comma(int64(s.Edges)), s.Layers, s.Path); err != nil {
			return err
		}
	}

	return nil
}

// BuildSchedule decodes and resolves the transactions in batches, inserts
// them into a fresh conflict graph in priority order and drains it. Key
// indexes are arrival positions into the returned transactions.
func BuildSchedule(
	batches []*trace.PacketBatch,
	resolver txn.LookupResolver,
	log logrus.FieldLogger,
	collectors *metrics.Collectors,
) (*priograph.Schedule, []*txn.Decoded, error) {
	entries := resolveBatches(batches, resolver, NameGraph, log, collectors)

	keys := make([]priograph.Key, len(entries))
	txs := make([]*txn.Decoded, len(entries))

	for i, entry := range entries {
		keys[i] = priograph.Key{Priority: entry.tx.Priority, Index: i}
		txs[i] = entry.tx
	}

	priograph.SortKeys(keys)

	graph := priograph.New[solana.PublicKey]()

	for _, key := range keys {
		locks := entries[key.Index].locks

		err := graph.Insert(key, priograph.LockSet[solana.PublicKey]{
			Writable: locks.Writable,
			Readonly: locks.Readonly,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return priograph.Drain(graph), txs, nil
}
