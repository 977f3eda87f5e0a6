// Package trace replays banking-stage trace files: batches of packets as
// they reached the scheduler, interleaved with block-and-bank-hash markers
// emitted when a slot is finalized.
package trace

import (
	"net/netip"
	"time"

	"github.com/gagliardetto/solana-go"
)

// PacketDataSize is the fixed size of a packet buffer on the wire.
const PacketDataSize = 1232

// ChannelLabel identifies the channel a packet batch was received on.
type ChannelLabel uint32

const (
	// ChannelNonVote carries regular transactions.
	ChannelNonVote ChannelLabel = iota
	// ChannelTpuVote carries votes received over TPU.
	ChannelTpuVote
	// ChannelGossipVote carries votes received over gossip.
	ChannelGossipVote
	// ChannelDummy is used by the tracer for padding events.
	ChannelDummy
)

// String returns a string representation of the channel label.
func (c ChannelLabel) String() string {
	switch c {
	case ChannelNonVote:
		return "non-vote"
	case ChannelTpuVote:
		return "tpu-vote"
	case ChannelGossipVote:
		return "gossip-vote"
	case ChannelDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// PacketFlags holds the per-packet metadata bits.
type PacketFlags uint8

// Packet flag bits, in wire order.
const (
	FlagDiscard PacketFlags = 1 << iota
	FlagForwarded
	FlagRepair
	FlagSimpleVoteTx
	FlagTracerPacket
	FlagRoundComputeUnitPrice
	FlagFromStakedNode
)

// Has reports whether all bits of flag are set.
func (f PacketFlags) Has(flag PacketFlags) bool {
	return f&flag == flag
}

// PacketMeta is the metadata attached to a received packet.
type PacketMeta struct {
	Size  uint64
	Addr  netip.Addr
	Port  uint16
	Flags PacketFlags
}

// Discard reports whether sigverify marked the packet invalid.
func (m PacketMeta) Discard() bool { return m.Flags.Has(FlagDiscard) }

// Forwarded reports whether the packet was forwarded by another leader.
func (m PacketMeta) Forwarded() bool { return m.Flags.Has(FlagForwarded) }

// FromStakedNode reports whether the packet arrived from a staked peer.
func (m PacketMeta) FromStakedNode() bool { return m.Flags.Has(FlagFromStakedNode) }

// Packet is one received packet. Payload holds the first Meta.Size bytes of
// the packet buffer.
type Packet struct {
	Payload []byte
	Meta    PacketMeta
}

// Data returns the packet payload, or nil when the packet was discarded.
func (p *Packet) Data() []byte {
	if p.Meta.Discard() {
		return nil
	}

	return p.Payload
}

// Event is a traced event. The set of implementations is closed:
// *PacketBatch and *SlotBoundary.
type Event interface {
	Kind() string
	isEvent()
}

// PacketBatch is a group of packet batches received on one channel.
type PacketBatch struct {
	Channel ChannelLabel
	Batches [][]Packet
}

// Kind returns the event kind.
func (*PacketBatch) Kind() string { return "packet_batch" }
func (*PacketBatch) isEvent()     {}

// NumPackets returns the number of packets across all batches.
func (b *PacketBatch) NumPackets() int {
	n := 0
	for _, batch := range b.Batches {
		n += len(batch)
	}

	return n
}

// Packets calls fn for every packet in order.
func (b *PacketBatch) Packets(fn func(p *Packet)) {
	for i := range b.Batches {
		for j := range b.Batches[i] {
			fn(&b.Batches[i][j])
		}
	}
}

// SlotBoundary marks the finalization of a slot.
type SlotBoundary struct {
	Slot      uint64
	BlockHash solana.Hash
	BankHash  solana.Hash
}

// Kind returns the event kind.
func (*SlotBoundary) Kind() string { return "slot_boundary" }
func (*SlotBoundary) isEvent()     {}

// TimedEvent is an event with the wall-clock time it was traced at.
type TimedEvent struct {
	Timestamp time.Time
	Event     Event
}
