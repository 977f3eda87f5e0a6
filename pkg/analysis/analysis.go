// Package analysis implements the trace analyses: per-slot conflict graphs
// and the reporting folds over the replayed event stream.
//
// Every analysis is a trace.Handler. Analyses bounded by a window feed every
// event through a window.Filter and ignore the events observed while the
// filter is inactive; packets are only taken from the non-vote channel.
package analysis

import (
	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Analysis names, used as log components and metric labels.
const (
	NameGraph          = "graph"
	NameAccountUsage   = "account-usage"
	NameDump           = "dump"
	NameDuplicateCheck = "duplicate-check"
	NamePacketCount    = "packet-count"
	NameSlotRanges     = "slot-ranges"
	NameTimeRange      = "time-range"
	NameUpdateAltStore = "update-alt-store"
	NameSlice          = "slice"
)

// resolved is a sanitized transaction with its account locks.
type resolved struct {
	tx    *txn.Decoded
	locks txn.Locks
}

// resolveBatches decodes and resolves every valid non-vote transaction in
// batches, in arrival order. Packets that do not decode or whose locks cannot
// be resolved are skipped and counted.
func resolveBatches(
	batches []*trace.PacketBatch,
	resolver txn.LookupResolver,
	name string,
	log logrus.FieldLogger,
	collectors *metrics.Collectors,
) []resolved {
	var out []resolved

	for _, batch := range batches {
		batch.Packets(func(p *trace.Packet) {
			data := p.Data()
			if data == nil {
				return
			}

			decoded, err := txn.Decode(data)
			if err != nil {
				collectors.DecodeFailed(name)
				log.WithError(err).Trace("Skipping undecodable packet")

				return
			}

			locks, err := txn.ResolveLocks(decoded, resolver)
			if err != nil {
				collectors.LocksFailed(name)
				log.WithError(err).WithField("signature", decoded.Signature).Debug("Skipping unresolvable transaction")

				return
			}

			out = append(out, resolved{tx: decoded, locks: locks})
		})
	}

	return out
}

func isNonVote(batch *trace.PacketBatch) bool {
	return batch.Channel == trace.ChannelNonVote
}

func accountSet(accounts []solana.PublicKey) map[solana.PublicKey]struct{} {
	if len(accounts) == 0 {
		return nil
	}

	set := make(map[solana.PublicKey]struct{}, len(accounts))
	for _, account := range accounts {
		set[account] = struct{}{}
	}

	return set
}

func containsAny(keys []solana.PublicKey, set map[solana.PublicKey]struct{}) bool {
	for _, key := range keys {
		if _, ok := set[key]; ok {
			return true
		}
	}

	return false
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}

	return 100 * float64(part) / float64(total)
}
