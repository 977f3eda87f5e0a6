package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/netip"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/traceoor/pkg/altstore"
	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/txn"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountUsage(t *testing.T) {
	u := NewAccountUsage(2, 3, nil, nil, testLogger())

	feed(t, u,
		nonVote(txPacket(t, txFixture{id: 1, priority: 50, writable: []solana.PublicKey{accountA}})),
		boundary(1),
		nonVote(txPacket(t, txFixture{id: 2, priority: 100, writable: []solana.PublicKey{accountA}})),
		boundary(2),
		nonVote(txPacket(t, txFixture{id: 3, priority: 300, readonly: []solana.PublicKey{accountA}})),
		boundary(3),
		nonVote(txPacket(t, txFixture{id: 4, priority: 999, writable: []solana.PublicKey{accountA}})),
		boundary(4),
	)

	assert.Equal(t, 2, u.Slots())

	stats := u.Stats()
	idx := slices.IndexFunc(stats, func(s *AccountStats) bool { return s.Key == accountA })
	require.GreaterOrEqual(t, idx, 0)

	a := stats[idx]
	assert.Equal(t, 1, a.Reads)
	assert.Equal(t, 1, a.Writes)
	assert.Equal(t, uint64(100), a.MinPriority)
	assert.Equal(t, uint64(300), a.MaxPriority)
	assert.Equal(t, uint64(200), a.AvgPriority())
	assert.Equal(t, uint64(txn.MinRequestedComputeUnits), a.AvgRequestedCUs())

	for i := 1; i < len(stats); i++ {
		assert.GreaterOrEqual(t, stats[i-1].Writes, stats[i].Writes)
	}

	var out bytes.Buffer
	require.NoError(t, u.Report(&out))
	assert.Contains(t, out.String(), accountA.String()+": [1, 1] priority: [100, 200, 300]")
}

func TestDuplicateChecker(t *testing.T) {
	x := txFixture{id: 1, priority: 1}
	y := txFixture{id: 2, priority: 1}

	start := at(time.Second)
	d := NewDuplicateChecker(&start, nil, nil, testLogger())

	feed(t, d,
		nonVote(txPacket(t, x)),
		nonVote(
			packet(x.raw(t), testIP1, 0),
			packet(x.raw(t), testIP2, trace.FlagForwarded),
			packet(x.raw(t), testIP1, trace.FlagDiscard),
		),
		boundary(1),
		nonVote(
			packet(x.raw(t), testIP1, 0),
			packet(y.raw(t), testIP2, trace.FlagForwarded),
		),
		&trace.PacketBatch{Channel: trace.ChannelTpuVote, Batches: [][]trace.Packet{{txPacket(t, y)}}},
	)

	assert.Equal(t, DuplicateStats{
		TotalPackets:       4,
		DuplicatePackets:   2,
		TPUPackets:         2,
		ForwardedPackets:   2,
		DuplicateTPU:       1,
		DuplicateForwarded: 1,
	}, d.Stats())

	var out bytes.Buffer
	require.NoError(t, d.Report(&out))
	assert.Contains(t, out.String(), "Total duplicate packets: 2 (50.00%)")
}

func TestPacketCounter(t *testing.T) {
	x := txFixture{id: 1}
	y := txFixture{id: 2}

	c := NewPacketCounter(nil, nil, nil, testLogger())

	feed(t, c, nonVote(
		packet(x.raw(t), testIP1, trace.FlagFromStakedNode),
		packet(x.raw(t), testIP2, trace.FlagForwarded),
		packet(y.raw(t), testIP1, trace.FlagDiscard),
		packet(y.raw(t), testIP1, trace.FlagDiscard),
	))

	assert.Equal(t, PacketCounts{
		Total:           4,
		Valid:           2,
		ValidUnique:     1,
		TPU:             1,
		Fwd:             1,
		Staked:          1,
		StakedTPU:       1,
		TPUUnique:       1,
		TPUStakedUnique: 1,
	}, c.Counts())

	total, tpu, fwd := c.UniqueIPs()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, tpu)
	assert.Equal(t, 1, fwd)

	top := TopIPs(c.totalIPs, 1)
	require.Len(t, top, 1)
	assert.Equal(t, IPCounts{Addr: testIP1, Total: 3, Unique: 1, Staked: 1}, top[0])

	var out bytes.Buffer
	require.NoError(t, c.Report(&out))
	assert.Contains(t, out.String(), "Valid unique packets: 1\n")
	assert.Contains(t, out.String(), "  10.0.0.1: total=3 unique=1 staked=1\n")
}

func TestPacketCounterUndecodable(t *testing.T) {
	end := at(0)
	c := NewPacketCounter(nil, &end, nil, testLogger())

	feed(t, c,
		nonVote(packet([]byte{0x01}, testIP3, 0)),
		nonVote(txPacket(t, txFixture{id: 1})),
	)

	assert.Equal(t, PacketCounts{Total: 1}, c.Counts())
}

func TestTopIPsOrdering(t *testing.T) {
	counts := map[netip.Addr]*IPCounts{
		testIP3: {Addr: testIP3, Total: 2},
		testIP2: {Addr: testIP2, Total: 5},
		testIP1: {Addr: testIP1, Total: 2},
	}

	top := TopIPs(counts, 5)
	require.Len(t, top, 3)
	assert.Equal(t, []netip.Addr{testIP2, testIP1, testIP3}, []netip.Addr{top[0].Addr, top[1].Addr, top[2].Addr})
}

func TestSlotRanges(t *testing.T) {
	r := NewSlotRanges()

	feed(t, r,
		boundary(5), nonVote(), boundary(6), boundary(7),
		boundary(9), boundary(10),
		boundary(3),
	)

	assert.Equal(t, []SlotRange{{5, 7}, {9, 10}, {3, 3}}, r.Ranges())

	var out bytes.Buffer
	require.NoError(t, r.Report(&out))
	assert.Equal(t, "5-7\n9-10\n3-3\n", out.String())
}

func TestTimeRange(t *testing.T) {
	r := NewTimeRange()

	var out bytes.Buffer
	require.NoError(t, r.Report(&out))
	assert.Equal(t, "no events\n", out.String())

	feed(t, r, boundary(1), nonVote(), boundary(2))

	lo, hi, ok := r.Range()
	require.True(t, ok)
	assert.True(t, testBase.Equal(lo))
	assert.True(t, at(2*time.Second).Equal(hi))

	out.Reset()
	require.NoError(t, r.Report(&out))
	assert.Equal(t, "2024-05-01T12:00:00Z - 2024-05-01T12:00:02Z\n", out.String())
}

func decodeDump(t *testing.T, out string) []DumpRecord {
	t.Helper()

	var records []DumpRecord

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var record DumpRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		records = append(records, record)
	}

	require.NoError(t, scanner.Err())

	return records
}

func TestDumperStaticAccounts(t *testing.T) {
	t1 := txFixture{id: 1, priority: 30, writable: []solana.PublicKey{accountA}}

	var out bytes.Buffer
	d := NewDumper(DumpConfig{}, &out, nil, testLogger())

	feed(t, d,
		boundary(7),
		nonVote(txPacket(t, t1)),
		&trace.PacketBatch{Channel: trace.ChannelGossipVote, Batches: [][]trace.Packet{{txPacket(t, t1)}}},
	)

	records := decodeDump(t, out.String())
	require.Len(t, records, 2)
	assert.Equal(t, 2, d.Dumped())

	require.NotNil(t, records[0].Slot)
	assert.Equal(t, uint64(7), *records[0].Slot)
	assert.Empty(t, records[0].Signature)

	tx := records[1]
	assert.Nil(t, tx.Slot)
	assert.Equal(t, t1.signature().String(), tx.Signature)
	assert.Equal(t, "10.0.0.1:8001", tx.Source)
	assert.Equal(t, uint64(30), tx.Priority)
	assert.Equal(t, []solana.PublicKey{t1.payer(), accountA, solana.ComputeBudget, testProgram}, tx.StaticAccounts)
	assert.Empty(t, tx.Writable)
}

func TestDumperResolvesAndFilters(t *testing.T) {
	table := testKey(0x7)
	match := txFixture{id: 1, priority: 5, table: &table, lookupW: []uint8{0}}
	other := txFixture{id: 2, priority: 5, writable: []solana.PublicKey{accountB}}

	var out bytes.Buffer
	d := NewDumper(DumpConfig{
		Accounts: []solana.PublicKey{accountA},
		IPs:      []netip.Addr{netip.MustParseAddr("::ffff:10.0.0.2")},
		Resolver: mapResolver{table: {accountA}},
	}, &out, nil, testLogger())

	feed(t, d, nonVote(
		packet(match.raw(t), testIP2, trace.FlagForwarded|trace.FlagFromStakedNode),
		packet(match.raw(t), testIP1, 0),
		packet(other.raw(t), testIP2, 0),
	))

	records := decodeDump(t, out.String())
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, match.signature().String(), record.Signature)
	assert.True(t, record.Forwarded)
	assert.True(t, record.Staked)
	assert.Contains(t, record.Writable, accountA)
	assert.Contains(t, record.Writable, match.payer())
	assert.Equal(t, []solana.PublicKey{table}, record.LookupTables)
	assert.Empty(t, record.StaticAccounts)
}

func TestDumperSkipsUnresolvable(t *testing.T) {
	table := testKey(0x7)

	var out bytes.Buffer
	d := NewDumper(DumpConfig{Resolver: mapResolver{}}, &out, nil, testLogger())

	feed(t, d, nonVote(txPacket(t, txFixture{id: 1, table: &table, lookupR: []uint8{3}})))

	assert.Zero(t, d.Dumped())
	assert.Empty(t, out.String())
}

func TestDumperPrettyWindow(t *testing.T) {
	start := at(time.Second)
	end := at(time.Second)

	var out bytes.Buffer
	d := NewDumper(DumpConfig{Start: &start, End: &end, Pretty: true}, &out, nil, testLogger())

	feed(t, d, boundary(1), boundary(2), boundary(3))

	assert.Equal(t, 1, d.Dumped())
	assert.Contains(t, out.String(), "slot")
	assert.Greater(t, strings.Count(out.String(), "\n"), 1)
}

type recordedUpdate struct {
	tables []solana.PublicKey
	mode   altstore.UpdateMode
}

type fakeTableStore struct {
	updates []recordedUpdate
}

func (f *fakeTableStore) Update(_ context.Context, tables []solana.PublicKey, mode altstore.UpdateMode, _ altstore.Fetcher) error {
	f.updates = append(f.updates, recordedUpdate{tables: slices.Clone(tables), mode: mode})
	return nil
}

func feedTables(t *testing.T, h trace.Handler) (t2, t3 solana.PublicKey) {
	t.Helper()

	t1, t2, t3, t4 := testKey(0x71), testKey(0x72), testKey(0x73), testKey(0x74)
	lookup := func(id byte, table *solana.PublicKey) trace.Packet {
		return txPacket(t, txFixture{id: id, table: table, lookupR: []uint8{0}})
	}

	feed(t, h,
		nonVote(lookup(1, &t1)),
		boundary(1),
		nonVote(lookup(2, &t2), lookup(3, &t2)),
		nonVote(lookup(4, &t3)),
		boundary(2),
		nonVote(txPacket(t, txFixture{id: 5})),
		boundary(3),
		nonVote(lookup(6, &t4)),
		boundary(4),
	)

	return t2, t3
}

func TestAltUpdaterAppend(t *testing.T) {
	store := &fakeTableStore{}
	u := NewAltUpdater(context.Background(), 2, 3, store, nil, altstore.Append, nil, testLogger())

	t2, t3 := feedTables(t, u)
	require.NoError(t, u.Close())

	assert.Equal(t, []recordedUpdate{{tables: []solana.PublicKey{t2, t3}, mode: altstore.Append}}, store.updates)
	assert.Equal(t, 2, u.Fetched())
}

func TestAltUpdaterReplace(t *testing.T) {
	store := &fakeTableStore{}
	u := NewAltUpdater(context.Background(), 2, 3, store, nil, altstore.Replace, nil, testLogger())

	t2, t3 := feedTables(t, u)
	assert.Empty(t, store.updates)

	require.NoError(t, u.Close())
	assert.Equal(t, []recordedUpdate{{tables: []solana.PublicKey{t2, t3}, mode: altstore.Replace}}, store.updates)
}

func TestSlicer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slice"+trace.SnappySuffix)
	start := at(time.Second)
	end := at(2 * time.Second)

	s, err := NewSlicer(path, &start, &end, testLogger())
	require.NoError(t, err)

	feed(t, s,
		boundary(1),
		nonVote(txPacket(t, txFixture{id: 1})),
		boundary(2),
		boundary(3),
	)

	require.NoError(t, s.Close())
	assert.Equal(t, 2, s.Written())

	var events []trace.TimedEvent

	err = trace.NewSource([]string{path}, testLogger()).Each(context.Background(), func(ev trace.TimedEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.True(t, start.Equal(events[0].Timestamp))
	batch, ok := events[0].Event.(*trace.PacketBatch)
	require.True(t, ok)
	assert.Equal(t, 1, batch.NumPackets())

	slot, ok := events[1].Event.(*trace.SlotBoundary)
	require.True(t, ok)
	assert.Equal(t, uint64(2), slot.Slot)
}
