package analysis

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/ethpandaops/traceoor/pkg/window"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

type duplicateState struct {
	initialForwarded bool
	duplicateTPU     int
	duplicateFwd     int
}

// DuplicateStats summarizes duplicate packets by arrival path.
type DuplicateStats struct {
	TotalPackets       int
	DuplicatePackets   int
	TPUPackets         int
	ForwardedPackets   int
	DuplicateTPU       int
	DuplicateForwarded int
}

// DuplicateChecker counts packets carrying an already seen signature within
// a time window, split by whether the duplicate came in directly over TPU or
// was forwarded.
type DuplicateChecker struct {
	log     logrus.FieldLogger
	metrics *metrics.Collectors
	filter  *window.Filter[time.Time]

	signatures map[solana.Signature]*duplicateState
}

var _ trace.Handler = (*DuplicateChecker)(nil)

// NewDuplicateChecker creates a duplicate check over the inclusive time
// window [start, end]. Nil bounds are open.
func NewDuplicateChecker(start, end *time.Time, collectors *metrics.Collectors, log logrus.FieldLogger) *DuplicateChecker {
	return &DuplicateChecker{
		log:        log.WithField("component", NameDuplicateCheck),
		metrics:    collectors,
		filter:     window.NewTimeFilter(start, end),
		signatures: make(map[solana.Signature]*duplicateState),
	}
}

// HandlePacketBatch records the signature of every valid non-vote packet.
func (d *DuplicateChecker) HandlePacketBatch(ts time.Time, batch *trace.PacketBatch) error {
	if !d.filter.Observe(ts) || !isNonVote(batch) {
		return nil
	}

	batch.Packets(func(p *trace.Packet) {
		data := p.Data()
		if data == nil {
			return
		}

		signature, err := txn.DecodeSignature(data)
		if err != nil {
			d.metrics.DecodeFailed(NameDuplicateCheck)
			return
		}

		forwarded := p.Meta.Forwarded()

		state, ok := d.signatures[signature]
		if !ok {
			d.signatures[signature] = &duplicateState{initialForwarded: forwarded}
			return
		}

		if forwarded {
			state.duplicateFwd++
		} else {
			state.duplicateTPU++
		}
	})

	return nil
}

// HandleSlotBoundary logs in-window slot boundaries.
func (d *DuplicateChecker) HandleSlotBoundary(ts time.Time, boundary *trace.SlotBoundary) error {
	if d.filter.Observe(ts) {
		d.log.WithFields(logrus.Fields{"slot": boundary.Slot, "timestamp": ts}).Debug("Slot boundary")
	}

	return nil
}

// Stats aggregates the per-signature counts.
func (d *DuplicateChecker) Stats() DuplicateStats {
	var stats DuplicateStats

	for _, state := range d.signatures {
		duplicates := state.duplicateTPU + state.duplicateFwd

		stats.TotalPackets += 1 + duplicates
		stats.DuplicatePackets += duplicates

		stats.TPUPackets += state.duplicateTPU
		stats.ForwardedPackets += state.duplicateFwd

		if state.initialForwarded {
			stats.ForwardedPackets++
		} else {
			stats.TPUPackets++
		}

		stats.DuplicateTPU += state.duplicateTPU
		stats.DuplicateForwarded += state.duplicateFwd
	}

	return stats
}

// Report writes the duplicate summary.
func (d *DuplicateChecker) Report(w io.Writer) error {
	s := d.Stats()

	_, err := fmt.Fprintf(w,
		"Total packets: %s\n"+
			"Total duplicate packets: %s (%.2f%%)\n"+
			"Total TPU packets: %s (%.2f%%)\n"+
			"Total forwarded packets: %s (%.2f%%)\n"+
			"Duplicate TPU packets: %s (%.2f%%)\n"+
			"Duplicate forwarded packets: %s (%.2f%%)\n",
		humanize.Comma(int64(s.TotalPackets)),
		humanize.Comma(int64(s.DuplicatePackets)), percent(s.DuplicatePackets, s.TotalPackets),
		humanize.Comma(int64(s.TPUPackets)), percent(s.TPUPackets, s.TotalPackets),
		humanize.Comma(int64(s.ForwardedPackets)), percent(s.ForwardedPackets, s.TotalPackets),
		humanize.Comma(int64(s.DuplicateTPU)), percent(s.DuplicateTPU, s.TPUPackets),
		humanize.Comma(int64(s.DuplicateForwarded)), percent(s.DuplicateForwarded, s.ForwardedPackets),
	)

	return err
}
