package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/traceoor/pkg/altstore"
	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/ethpandaops/traceoor/pkg/window"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// TableStore is the lookup-table store an AltUpdater writes to.
type TableStore interface {
	Update(ctx context.Context, tables []solana.PublicKey, mode altstore.UpdateMode, fetcher altstore.Fetcher) error
}

// AltUpdater refreshes the lookup tables referenced by the transactions of
// an inclusive slot range. In Append mode the tables of each slot are
// fetched at its boundary; in Replace mode the tables of the whole range are
// fetched once on Close and replace the store contents.
type AltUpdater struct {
	ctx     context.Context
	log     logrus.FieldLogger
	store   TableStore
	fetcher altstore.Fetcher
	mode    altstore.UpdateMode
	metrics *metrics.Collectors
	filter  *window.Filter[uint64]

	pending []*trace.PacketBatch
	tables  []solana.PublicKey
	seen    map[solana.PublicKey]struct{}
	fetched int
}

var _ trace.Handler = (*AltUpdater)(nil)

// NewAltUpdater creates a lookup-table update over [start, end].
func NewAltUpdater(
	ctx context.Context,
	start, end uint64,
	store TableStore,
	fetcher altstore.Fetcher,
	mode altstore.UpdateMode,
	collectors *metrics.Collectors,
	log logrus.FieldLogger,
) *AltUpdater {
	return &AltUpdater{
		ctx:     ctx,
		log:     log.WithField("component", NameUpdateAltStore),
		store:   store,
		fetcher: fetcher,
		mode:    mode,
		metrics: collectors,
		filter:  window.NewSlotFilter(&start, &end),
		seen:    make(map[solana.PublicKey]struct{}),
	}
}

// HandlePacketBatch buffers non-vote batches for the next slot boundary.
func (a *AltUpdater) HandlePacketBatch(_ time.Time, batch *trace.PacketBatch) error {
	if a.filter.Done() || !isNonVote(batch) {
		return nil
	}

	a.pending = append(a.pending, batch)

	return nil
}

// HandleSlotBoundary collects the lookup tables of an in-range slot.
func (a *AltUpdater) HandleSlotBoundary(_ time.Time, boundary *trace.SlotBoundary) error {
	batches := a.pending
	a.pending = nil

	if !a.filter.Observe(boundary.Slot) {
		return nil
	}

	if a.mode == altstore.Replace {
		a.collect(batches)
		return nil
	}

	a.tables = a.tables[:0]
	clear(a.seen)
	a.collect(batches)

	return a.flush(boundary.Slot)
}

func (a *AltUpdater) collect(batches []*trace.PacketBatch) {
	for _, batch := range batches {
		batch.Packets(func(p *trace.Packet) {
			data := p.Data()
			if data == nil {
				return
			}

			tx, err := txn.Parse(data)
			if err != nil {
				a.metrics.DecodeFailed(NameUpdateAltStore)
				return
			}

			for _, table := range txn.LookupTableKeys(tx) {
				if _, ok := a.seen[table]; ok {
					continue
				}

				a.seen[table] = struct{}{}
				a.tables = append(a.tables, table)
			}
		})
	}
}

func (a *AltUpdater) flush(slot uint64) error {
	if a.mode == altstore.Append && len(a.tables) == 0 {
		return nil
	}

	log := a.log.WithFields(logrus.Fields{"tables": len(a.tables), "mode": a.mode.String()})
	if a.mode == altstore.Append {
		log = log.WithField("slot", slot)
	}

	log.Info("Fetching lookup tables")

	if err := a.store.Update(a.ctx, a.tables, a.mode, a.fetcher); err != nil {
		return fmt.Errorf("failed to update alt store: %w", err)
	}

	a.fetched += len(a.tables)

	return nil
}

// Close runs the single Replace update. It is a no-op in Append mode.
func (a *AltUpdater) Close() error {
	if a.mode != altstore.Replace {
		return nil
	}

	return a.flush(0)
}

// Fetched returns the number of table fetches requested.
func (a *AltUpdater) Fetched() int {
	return a.fetched
}
