package analysis

import (
	"cmp"
	"fmt"
	"io"
	"net/netip"
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

// topIPs is the number of sources listed per category.
const topIPs = 5

// IPCounts tallies the packets received from one address.
type IPCounts struct {
	Addr   netip.Addr
	Total  int
	Unique int
	Staked int
}

// PacketCounts holds the packet totals of a window. Valid packets passed
// signature verification; unique packets carry a signature not seen before.
type PacketCounts struct {
	Total       int
	Valid       int
	ValidUnique int

	TPU int
	Fwd int

	Staked    int
	StakedTPU int
	StakedFwd int

	TPUUnique int
	FwdUnique int

	TPUStakedUnique int
	FwdStakedUnique int
}

// PacketCounter counts non-vote packets and their sources within a time
// window.
type PacketCounter struct {
	log     logrus.FieldLogger
	metrics *metrics.Collectors
	filter  *window.Filter[time.Time]

	counts     PacketCounts
	totalIPs   map[netip.Addr]*IPCounts
	tpuIPs     map[netip.Addr]*IPCounts
	fwdIPs     map[netip.Addr]*IPCounts
	signatures map[solana.Signature]struct{}
}

var _ trace.Handler = (*PacketCounter)(nil)

// NewPacketCounter creates a packet count over the inclusive time window
// [start, end]. Nil bounds are open.
func NewPacketCounter(start, end *time.Time, collectors *metrics.Collectors, log logrus.FieldLogger) *PacketCounter {
	return &PacketCounter{
		log:        log.WithField("component", NamePacketCount),
		metrics:    collectors,
		filter:     window.NewTimeFilter(start, end),
		totalIPs:   make(map[netip.Addr]*IPCounts),
		tpuIPs:     make(map[netip.Addr]*IPCounts),
		fwdIPs:     make(map[netip.Addr]*IPCounts),
		signatures: make(map[solana.Signature]struct{}),
	}
}

// HandlePacketBatch counts every non-vote packet in the window. Packets that
// pass verification but do not decode only count towards the total.
func (c *PacketCounter) HandlePacketBatch(ts time.Time, batch *trace.PacketBatch) error {
	if !c.filter.Observe(ts) || !isNonVote(batch) {
		return nil
	}

	batch.Packets(c.count)

	return nil
}

func (c *PacketCounter) count(p *trace.Packet) {
	c.counts.Total++

	valid := !p.Meta.Discard()
	staked := p.Meta.FromStakedNode()
	forwarded := p.Meta.Forwarded()
	unique := false

	if data := p.Data(); data != nil {
		signature, err := txn.DecodeSignature(data)
		if err != nil {
			c.metrics.DecodeFailed(NamePacketCount)
			return
		}

		if _, seen := c.signatures[signature]; !seen {
			c.signatures[signature] = struct{}{}
			unique = true
		}
	}

	n := &c.counts
	n.Valid += b2i(valid)
	n.ValidUnique += b2i(valid && unique)

	n.TPU += b2i(valid && !forwarded)
	n.Fwd += b2i(valid && forwarded)

	n.Staked += b2i(valid && staked)
	n.StakedTPU += b2i(valid && staked && !forwarded)
	n.StakedFwd += b2i(valid && staked && forwarded)

	n.TPUUnique += b2i(valid && !forwarded && unique)
	n.FwdUnique += b2i(valid && forwarded && unique)

	n.TPUStakedUnique += b2i(valid && !forwarded && staked && unique)
	n.FwdStakedUnique += b2i(valid && forwarded && staked && unique)

	addIP(c.totalIPs, p.Meta.Addr, valid && unique, valid && staked)

	if forwarded {
		addIP(c.fwdIPs, p.Meta.Addr, valid && unique, valid && staked)
	} else {
		addIP(c.tpuIPs, p.Meta.Addr, valid && unique, valid && staked)
	}
}

func addIP(counts map[netip.Addr]*IPCounts, addr netip.Addr, unique, staked bool) {
	entry, ok := counts[addr]
	if !ok {
		entry = &IPCounts{Addr: addr}
		counts[addr] = entry
	}

	entry.Total++
	entry.Unique += b2i(unique)
	entry.Staked += b2i(staked)
}

func b2i(b bool) int {
	if b {
		return 1
	}

	return 0
}

// HandleSlotBoundary logs in-window slot boundaries.
func (c *PacketCounter) HandleSlotBoundary(ts time.Time, boundary *trace.SlotBoundary) error {
	if c.filter.Observe(ts) {
		c.log.WithFields(logrus.Fields{"slot": boundary.Slot, "timestamp": ts}).Debug("Slot boundary")
	}

	return nil
}

// Counts returns the packet totals.
func (c *PacketCounter) Counts() PacketCounts {
	return c.counts
}

// UniqueIPs returns the number of distinct sources overall, over TPU and
// forwarded.
func (c *PacketCounter) UniqueIPs() (total, tpu, fwd int) {
	return len(c.totalIPs), len(c.tpuIPs), len(c.fwdIPs)
}

// TopIPs returns the n busiest sources of a category, by total packets.
func TopIPs(counts map[netip.Addr]*IPCounts, n int) []IPCounts {
	top := make([]IPCounts, 0, len(counts))
	for _, entry := range counts {
		top = append(top, *entry)
	}

	slices.SortFunc(top, func(a, b IPCounts) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}

		return a.Addr.Compare(b.Addr)
	})

	return top[:min(n, len(top))]
}

// Report writes the packet totals and the busiest sources.
func (c *PacketCounter) Report(w io.Writer) error {
	n := c.counts
	total, tpu, fwd := c.UniqueIPs()

	lines := []struct {
		label string
		value int
	}{
		{"Total packets", n.Total},
		{"Valid packets", n.Valid},
		{"Valid unique packets", n.ValidUnique},
		{"TPU packets", n.TPU},
		{"FWD packets", n.Fwd},
		{"Staked packets", n.Staked},
		{"TPU staked packets", n.StakedTPU},
		{"FWD staked packets", n.StakedFwd},
		{"TPU unique packets", n.TPUUnique},
		{"FWD unique packets", n.FwdUnique},
		{"TPU staked unique packets", n.TPUStakedUnique},
		{"FWD staked unique packets", n.FwdStakedUnique},
		{"Unique IPs", total},
		{"TPU IPs", tpu},
		{"FWD IPs", fwd},
	}

	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "%s: %s\n", line.label, humanize.Comma(int64(line.value))); err != nil {
			return err
		}
	}

	categories := []struct {
		label  string
		counts map[netip.Addr]*IPCounts
	}{
		{"total", c.totalIPs},
		{"TPU", c.tpuIPs},
		{"FWD", c.fwdIPs},
	}

	for _, category := range categories {
		if _, err := fmt.Fprintf(w, "Top %d IPs by %s packets:\n", topIPs, category.label); err != nil {
			return err
		}

		for _, ip := range TopIPs(category.counts, topIPs) {
			if _, err := fmt.Fprintf(w, "  %s: total=%d unique=%d staked=%d\n", ip.Addr, ip.Total, ip.Unique, ip.Staked); err != nil {
				return err
			}
		}
	}

	return nil
}
