package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/ethpandaops/traceoor/pkg/window"
	"github.com/gagliardetto/solana-go"
	"github.com/hokaccha/go-prettyjson"
	"github.com/sirupsen/logrus"
)

// DumpConfig configures a Dumper.
type DumpConfig struct {
	Start *time.Time
	End   *time.Time
	// Accounts limits the dump to transactions touching one of them.
	Accounts []solana.PublicKey
	// IPs limits the dump to packets from one of them.
	IPs []netip.Addr
	// Resolver loads lookup-table accounts. Without it only the static
	// account keys are matched and printed.
	Resolver txn.LookupResolver
	// Pretty prints indented, colored JSON.
	Pretty bool
}

// DumpRecord is one dumped event. Slot boundaries only set Timestamp and
// Slot.
type DumpRecord struct {
	Timestamp      time.Time          `json:"timestamp"`
	Slot           *uint64            `json:"slot,omitempty"`
	Signature      string             `json:"signature,omitempty"`
	Source         string             `json:"source,omitempty"`
	Forwarded      bool               `json:"forwarded,omitempty"`
	Staked         bool               `json:"staked,omitempty"`
	Priority       uint64             `json:"priority,omitempty"`
	RequestedCUs   uint64             `json:"requested_cus,omitempty"`
	StaticAccounts []solana.PublicKey `json:"static_accounts,omitempty"`
	Writable       []solana.PublicKey `json:"writable,omitempty"`
	Readonly       []solana.PublicKey `json:"readonly,omitempty"`
	LookupTables   []solana.PublicKey `json:"lookup_tables,omitempty"`
}

// Dumper prints in-window slot boundaries and non-vote transactions, one
// JSON document per line.
type Dumper struct {
	cfg      DumpConfig
	out      io.Writer
	log      logrus.FieldLogger
	metrics  *metrics.Collectors
	filter   *window.Filter[time.Time]
	accounts map[solana.PublicKey]struct{}
	ips      map[netip.Addr]struct{}
	dumped   int
}

var _ trace.Handler = (*Dumper)(nil)

// NewDumper creates a dumper writing to out.
func NewDumper(cfg DumpConfig, out io.Writer, collectors *metrics.Collectors, log logrus.FieldLogger) *Dumper {
	d := &Dumper{
		cfg:      cfg,
		out:      out,
		log:      log.WithField("component", NameDump),
		metrics:  collectors,
		filter:   window.NewTimeFilter(cfg.Start, cfg.End),
		accounts: accountSet(cfg.Accounts),
	}

	if len(cfg.IPs) > 0 {
		d.ips = make(map[netip.Addr]struct{}, len(cfg.IPs))
		for _, ip := range cfg.IPs {
			d.ips[ip.Unmap()] = struct{}{}
		}
	}

	return d
}

// HandlePacketBatch dumps the matching transactions of an in-window batch.
func (d *Dumper) HandlePacketBatch(ts time.Time, batch *trace.PacketBatch) error {
	if !d.filter.Observe(ts) || !isNonVote(batch) {
		return nil
	}

	var err error

	batch.Packets(func(p *trace.Packet) {
		if err != nil {
			return
		}

		record, ok := d.record(ts, p)
		if !ok {
			return
		}

		err = d.write(record)
	})

	return err
}

func (d *Dumper) record(ts time.Time, p *trace.Packet) (*DumpRecord, bool) {
	data := p.Data()
	if data == nil {
		return nil, false
	}

	if d.ips != nil {
		if _, ok := d.ips[p.Meta.Addr.Unmap()]; !ok {
			return nil, false
		}
	}

	decoded, err := txn.Decode(data)
	if err != nil {
		d.metrics.DecodeFailed(NameDump)
		return nil, false
	}

	record := &DumpRecord{
		Timestamp:    ts,
		Signature:    decoded.Signature.String(),
		Source:       netip.AddrPortFrom(p.Meta.Addr, p.Meta.Port).String(),
		Forwarded:    p.Meta.Forwarded(),
		Staked:       p.Meta.FromStakedNode(),
		Priority:     decoded.Priority,
		RequestedCUs: decoded.RequestedCUs,
		LookupTables: txn.LookupTableKeys(decoded.Tx),
	}

	if d.cfg.Resolver == nil {
		record.StaticAccounts = txn.StaticAccountKeys(decoded)

		if d.accounts != nil && !containsAny(record.StaticAccounts, d.accounts) {
			return nil, false
		}

		return record, true
	}

	locks, err := txn.ResolveLocks(decoded, d.cfg.Resolver)
	if err != nil {
		d.metrics.LocksFailed(NameDump)
		d.log.WithError(err).WithField("signature", decoded.Signature).Debug("Skipping unresolvable transaction")

		return nil, false
	}

	if d.accounts != nil && !locks.Contains(d.accounts) {
		return nil, false
	}

	record.Writable = locks.Writable
	record.Readonly = locks.Readonly

	return record, true
}

// HandleSlotBoundary dumps in-window slot boundaries.
func (d *Dumper) HandleSlotBoundary(ts time.Time, boundary *trace.SlotBoundary) error {
	if !d.filter.Observe(ts) {
		return nil
	}

	slot := boundary.Slot

	return d.write(&DumpRecord{Timestamp: ts, Slot: &slot})
}

func (d *Dumper) write(record *DumpRecord) error {
	var (
		data []byte
		err  error
	)

	if d.cfg.Pretty {
		data, err = prettyjson.Marshal(record)
	} else {
		data, err = json.Marshal(record)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal dump record: %w", err)
	}

	if _, err := fmt.Fprintf(d.out, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write dump record: %w", err)
	}

	d.dumped++

	return nil
}

// Dumped returns the number of records written.
func (d *Dumper) Dumped() int {
	return d.dumped
}
