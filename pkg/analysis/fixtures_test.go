package analysis

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/ethpandaops/traceoor/pkg/metrics"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	testBase    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	testProgram = testKey(0xf0)
	testIP1     = netip.MustParseAddr("10.0.0.1")
	testIP2     = netip.MustParseAddr("10.0.0.2")
	testIP3     = netip.MustParseAddr("10.0.0.3")
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	return log
}

func testKey(b byte) solana.PublicKey {
	var key solana.PublicKey
	key[0] = b
	key[31] = 0xdd

	return key
}

func at(offset time.Duration) time.Time {
	return testBase.Add(offset)
}

// txFixture describes a fixture transaction. The payer is derived from id and
// is the only signer; the program and compute budget program are read only.
type txFixture struct {
	id       byte
	priority uint64
	writable []solana.PublicKey
	readonly []solana.PublicKey
	table    *solana.PublicKey
	lookupW  []uint8
	lookupR  []uint8
}

func (s txFixture) signature() solana.Signature {
	return solana.Signature{s.id, 0x5a}
}

func (s txFixture) payer() solana.PublicKey {
	var key solana.PublicKey
	key[0] = s.id
	key[1] = 0xaa

	return key
}

func (s txFixture) transaction() *solana.Transaction {
	keys := solana.PublicKeySlice{s.payer()}
	keys = append(keys, s.writable...)
	keys = append(keys, s.readonly...)
	keys = append(keys, solana.ComputeBudget, testProgram)

	budgetIndex := uint16(len(keys) - 2)
	programIndex := uint16(len(keys) - 1)

	price := make([]byte, 9)
	price[0] = 3
	binary.LittleEndian.PutUint64(price[1:], s.priority)

	msg := solana.Message{
		Header: solana.MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlyUnsignedAccounts: uint8(len(s.readonly) + 2),
		},
		AccountKeys:     keys,
		RecentBlockhash: solana.Hash{1},
		Instructions: []solana.CompiledInstruction{
			{ProgramIDIndex: budgetIndex, Data: price},
			{ProgramIDIndex: programIndex, Accounts: []uint16{0}},
		},
	}

	if s.table != nil {
		msg.SetVersion(solana.MessageVersionV0)
		msg.AddressTableLookups = solana.MessageAddressTableLookupSlice{
			{AccountKey: *s.table, WritableIndexes: s.lookupW, ReadonlyIndexes: s.lookupR},
		}
	}

	return &solana.Transaction{
		Signatures: []solana.Signature{s.signature()},
		Message:    msg,
	}
}

func (s txFixture) raw(t *testing.T) []byte {
	t.Helper()

	raw, err := s.transaction().MarshalBinary()
	require.NoError(t, err)

	return raw
}

func packet(raw []byte, addr netip.Addr, flags trace.PacketFlags) trace.Packet {
	return trace.Packet{
		Payload: raw,
		Meta: trace.PacketMeta{
			Size:  uint64(len(raw)),
			Addr:  addr,
			Port:  8001,
			Flags: flags,
		},
	}
}

func txPacket(t *testing.T, fx txFixture) trace.Packet {
	t.Helper()

	return packet(fx.raw(t), testIP1, 0)
}

func nonVote(packets ...trace.Packet) *trace.PacketBatch {
	return &trace.PacketBatch{
		Channel: trace.ChannelNonVote,
		Batches: [][]trace.Packet{packets},
	}
}

func boundary(slot uint64) *trace.SlotBoundary {
	return &trace.SlotBoundary{Slot: slot}
}

// feed dispatches events one second apart, starting at testBase.
func feed(t *testing.T, h trace.Handler, events ...trace.Event) {
	t.Helper()

	for i, ev := range events {
		require.NoError(t, trace.Dispatch(h, trace.TimedEvent{
			Timestamp: at(time.Duration(i) * time.Second),
			Event:     ev,
		}))
	}
}

type mapResolver map[solana.PublicKey][]solana.PublicKey

func (m mapResolver) Resolve(table solana.PublicKey, index uint8) (solana.PublicKey, bool) {
	addresses, ok := m[table]
	if !ok || int(index) >= len(addresses) {
		return solana.PublicKey{}, false
	}

	return addresses[index], true
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, c *metrics.Collectors, name string) float64 {
	t.Helper()

	families, err := c.Registry.Gather()
	require.NoError(t, err)

	var sum float64

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

		for _, m := range family.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}

	return sum
}
