package analysis

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/ethpandaops/traceoor/pkg/window"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// AccountStats tallies the transactions that locked one account.
type AccountStats struct {
	Key    solana.PublicKey
	Reads  int
	Writes int

	MinPriority uint64
	SumPriority uint64
	MaxPriority uint64

	MinRequestedCUs uint64
	SumRequestedCUs uint64
	MaxRequestedCUs uint64
}

func newAccountStats(key solana.PublicKey) *AccountStats {
	return &AccountStats{
		Key:             key,
		MinPriority:     math.MaxUint64,
		MinRequestedCUs: math.MaxUint64,
	}
}

func (s *AccountStats) update(write bool, priority, requestedCUs uint64) {
	if write {
		s.Writes++
	} else {
		s.Reads++
	}

	s.MinPriority = min(s.MinPriority, priority)
	s.SumPriority += priority
	s.MaxPriority = max(s.MaxPriority, priority)

	s.MinRequestedCUs = min(s.MinRequestedCUs, requestedCUs)
	s.SumRequestedCUs += requestedCUs
	s.MaxRequestedCUs = max(s.MaxRequestedCUs, requestedCUs)
}

// Transactions returns the number of transactions that locked the account.
func (s *AccountStats) Transactions() int {
	return s.Reads + s.Writes
}

// AvgPriority returns the mean priority.
func (s *AccountStats) AvgPriority() uint64 {
	return s.SumPriority / uint64(s.Transactions())
}

// AvgRequestedCUs returns the mean requested compute units.
func (s *AccountStats) AvgRequestedCUs() uint64 {
	return s.SumRequestedCUs / uint64(s.Transactions())
}

// AccountUsage tallies account reads and writes over an inclusive slot
// range. The packets of every in-range slot are aggregated, so the report
// covers the whole range.
type AccountUsage struct {
	log      logrus.FieldLogger
	resolver txn.LookupResolver
	metrics  *metrics.Collectors
	filter   *window.Filter[uint64]

	pending []*trace.PacketBatch
	stats   map[solana.PublicKey]*AccountStats
	slots   int
}

var _ trace.Handler = (*AccountUsage)(nil)

// NewAccountUsage creates an account usage analysis over [start, end].
func NewAccountUsage(start, end uint64, resolver txn.LookupResolver, collectors *metrics.Collectors, log logrus.FieldLogger) *AccountUsage {
	return &AccountUsage{
		log:      log.WithField("component", NameAccountUsage),
		resolver: resolver,
		metrics:  collectors,
		filter:   window.NewSlotFilter(&start, &end),
		stats:    make(map[solana.PublicKey]*AccountStats),
	}
}

// HandlePacketBatch buffers non-vote batches for the next slot boundary.
func (u *AccountUsage) HandlePacketBatch(_ time.Time, batch *trace.PacketBatch) error {
	if u.filter.Done() || !isNonVote(batch) {
		return nil
	}

	u.pending = append(u.pending, batch)

	return nil
}

// HandleSlotBoundary folds the buffered packets of an in-range slot.
func (u *AccountUsage) HandleSlotBoundary(_ time.Time, boundary *trace.SlotBoundary) error {
	batches := u.pending
	u.pending = nil

	if !u.filter.Observe(boundary.Slot) {
		return nil
	}

	u.slots++

	before := len(u.stats)
	log := u.log.WithField("slot", boundary.Slot)

	for _, entry := range resolveBatches(batches, u.resolver, NameAccountUsage, log, u.metrics) {
		for _, account := range entry.locks.Writable {
			u.account(account).update(true, entry.tx.Priority, entry.tx.RequestedCUs)
		}

		for _, account := range entry.locks.Readonly {
			u.account(account).update(false, entry.tx.Priority, entry.tx.RequestedCUs)
		}
	}

	log.WithField("new_accounts", len(u.stats)-before).Debug("Folded slot")

	return nil
}

func (u *AccountUsage) account(key solana.PublicKey) *AccountStats {
	stats, ok := u.stats[key]
	if !ok {
		stats = newAccountStats(key)
		u.stats[key] = stats
	}

	return stats
}

// Stats returns the per-account statistics, most written first. Ties are
// broken by account key.
func (u *AccountUsage) Stats() []*AccountStats {
	stats := slices.Collect(maps.Values(u.stats))

	slices.SortFunc(stats, func(a, b *AccountStats) int {
		if c := cmp.Compare(b.Writes, a.Writes); c != 0 {
			return c
		}

		return slices.Compare(a.Key[:], b.Key[:])
	})

	return stats
}

// Slots returns the number of in-range slots folded.
func (u *AccountUsage) Slots() int {
	return u.slots
}

// Report writes the account table: [reads, writes], [min, avg, max]
// priority and [min, avg, max] requested compute units per account.
func (u *AccountUsage) Report(w io.Writer) error {
	stats := u.Stats()

	if _, err := fmt.Fprintf(w, "Total unique accounts: %s\n", humanize.Comma(int64(len(stats)))); err != nil {
		return err
	}

	for _, s := range stats {
		_, err := fmt.Fprintf(w, "%s: [%d, %d] priority: [%d, %d, %d] requested_cus: [%d, %d, %d]\n",
			s.Key, s.Reads, s.Writes,
			s.MinPriority, s.AvgPriority(), s.MaxPriority,
			s.MinRequestedCUs, s.AvgRequestedCUs(), s.MaxRequestedCUs)
		if err != nil {
			return err
		}
	}

	return nil
}
