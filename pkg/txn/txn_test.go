package txn

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) solana.PublicKey {
	var key solana.PublicKey
	key[0] = b
	key[31] = 0xff

	return key
}

func setComputeUnitLimit(units uint32) solana.Base58 {
	data := []byte{ixSetComputeUnitLimit, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(data[1:], units)

	return data
}

func setComputeUnitPrice(price uint64) solana.Base58 {
	data := make([]byte, 9)
	data[0] = ixSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], price)

	return data
}

func requestUnitsDeprecated(units, fee uint32) solana.Base58 {
	data := make([]byte, 9)
	data[0] = ixRequestUnitsDeprecated
	binary.LittleEndian.PutUint32(data[1:], units)
	binary.LittleEndian.PutUint32(data[5:], fee)

	return data
}

// budgetTx builds a transaction with a payer, a program at index 1 and the
// compute budget program at index 2.
func budgetTx(budget []solana.Base58, programCalls int) *solana.Transaction {
	msg := solana.Message{
		Header: solana.MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlyUnsignedAccounts: 2,
		},
		AccountKeys:     solana.PublicKeySlice{testKey(1), testKey(2), solana.ComputeBudget},
		RecentBlockhash: solana.Hash{7},
	}

	for _, data := range budget {
		msg.Instructions = append(msg.Instructions, solana.CompiledInstruction{ProgramIDIndex: 2, Data: data})
	}

	for range programCalls {
		msg.Instructions = append(msg.Instructions, solana.CompiledInstruction{ProgramIDIndex: 1, Accounts: []uint16{0}})
	}

	return &solana.Transaction{
		Signatures: []solana.Signature{{1, 2, 3}},
		Message:    msg,
	}
}

func TestComputeBudget(t *testing.T) {
	tests := []struct {
		name         string
		budget       []solana.Base58
		programCalls int
		priority     uint64
		requested    uint64
	}{
		{
			name:         "defaults",
			programCalls: 1,
			priority:     0,
			requested:    MinRequestedComputeUnits,
		},
		{
			name:         "default scales with instruction count",
			programCalls: 8,
			requested:    8 * DefaultInstructionComputeUnits,
		},
		{
			name:         "limit and price",
			budget:       []solana.Base58{setComputeUnitLimit(2_000_000), setComputeUnitPrice(5_000)},
			programCalls: 1,
			priority:     5_000,
			requested:    2_000_000,
		},
		{
			name:         "small limit is raised",
			budget:       []solana.Base58{setComputeUnitLimit(300_000)},
			programCalls: 1,
			requested:    MinRequestedComputeUnits,
		},
		{
			name:      "deprecated request units",
			budget:    []solana.Base58{requestUnitsDeprecated(1_000, 5)},
			priority:  5_000,
			requested: MinRequestedComputeUnits,
		},
		{
			name:      "deprecated request with zero units",
			budget:    []solana.Base58{requestUnitsDeprecated(0, 5)},
			priority:  0,
			requested: MinRequestedComputeUnits,
		},
		{
			name:         "heap frame ignored",
			budget:       []solana.Base58{{ixRequestHeapFrame, 0, 0, 1, 0}},
			programCalls: 9,
			requested:    9 * DefaultInstructionComputeUnits,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := FromTransaction(budgetTx(tt.budget, tt.programCalls))
			require.NoError(t, err)

			assert.Equal(t, tt.priority, decoded.Priority)
			assert.Equal(t, tt.requested, decoded.RequestedCUs)
			assert.Equal(t, solana.Signature{1, 2, 3}, decoded.Signature)
		})
	}
}

func TestComputeBudgetRejectsGarbage(t *testing.T) {
	_, err := FromTransaction(budgetTx([]solana.Base58{{ixSetComputeUnitPrice, 1}}, 0))
	assert.ErrorIs(t, err, ErrInvalidComputeBudget)

	_, err = FromTransaction(budgetTx([]solana.Base58{{42}}, 0))
	assert.ErrorIs(t, err, ErrInvalidComputeBudget)
}

func TestDecodeWireBytes(t *testing.T) {
	tx := budgetTx([]solana.Base58{setComputeUnitPrice(77)}, 1)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), decoded.Priority)
	assert.Equal(t, solana.Signature{1, 2, 3}, decoded.Signature)

	sig, err := DecodeSignature(raw)
	require.NoError(t, err)
	assert.Equal(t, decoded.Signature, sig)

	_, err = Decode([]byte{1, 2})
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	unsigned := budgetTx(nil, 1)
	unsigned.Signatures = nil

	_, err := FromTransaction(unsigned)
	assert.ErrorIs(t, err, ErrNoSignatures)

	noSigner := budgetTx(nil, 1)
	noSigner.Message.Header.NumRequiredSignatures = 0

	_, err = FromTransaction(noSigner)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	badProgram := budgetTx(nil, 1)
	badProgram.Message.Instructions[0].ProgramIDIndex = 9

	_, err = FromTransaction(badProgram)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

type mapResolver map[solana.PublicKey][]solana.PublicKey

func (m mapResolver) Resolve(table solana.PublicKey, index uint8) (solana.PublicKey, bool) {
	addresses, ok := m[table]
	if !ok || int(index) >= len(addresses) {
		return solana.PublicKey{}, false
	}

	return addresses[index], true
}

func TestResolveLocksStaticKeys(t *testing.T) {
	payer, cosigner := testKey(1), testKey(2)
	target, reader, program := testKey(3), testKey(4), testKey(5)

	tx := &solana.Transaction{
		Signatures: []solana.Signature{{1}, {2}},
		Message: solana.Message{
			Header: solana.MessageHeader{
				NumRequiredSignatures:       2,
				NumReadonlySignedAccounts:   1,
				NumReadonlyUnsignedAccounts: 2,
			},
			AccountKeys: solana.PublicKeySlice{payer, cosigner, target, solana.SysVarClockPubkey, reader, program},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 5, Accounts: []uint16{0, 2, 3, 4}},
			},
		},
	}

	decoded, err := FromTransaction(tx)
	require.NoError(t, err)

	locks, err := ResolveLocks(decoded, nil)
	require.NoError(t, err)

	assert.Equal(t, []solana.PublicKey{payer, target}, locks.Writable)
	assert.Equal(t, []solana.PublicKey{cosigner, solana.SysVarClockPubkey, reader, program}, locks.Readonly)
	assert.Len(t, locks.All(), 6)
	assert.True(t, locks.Contains(map[solana.PublicKey]struct{}{reader: {}}))
	assert.False(t, locks.Contains(map[solana.PublicKey]struct{}{testKey(99): {}}))
}

func TestResolveLocksDemotesInvokedPrograms(t *testing.T) {
	payer, program := testKey(1), testKey(2)

	tx := &solana.Transaction{
		Signatures: []solana.Signature{{1}},
		Message: solana.Message{
			Header:      solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: solana.PublicKeySlice{payer, program},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1},
			},
		},
	}

	decoded, err := FromTransaction(tx)
	require.NoError(t, err)

	locks, err := ResolveLocks(decoded, nil)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{payer}, locks.Writable)
	assert.Equal(t, []solana.PublicKey{program}, locks.Readonly)

	// The upgradeable loader keeps invoked programs writable.
	tx.Message.AccountKeys = append(tx.Message.AccountKeys, solana.BPFLoaderUpgradeableProgramID)
	tx.Message.Header.NumReadonlyUnsignedAccounts = 1

	locks, err = ResolveLocks(decoded, nil)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{payer, program}, locks.Writable)
	assert.Equal(t, []solana.PublicKey{solana.BPFLoaderUpgradeableProgramID}, locks.Readonly)
}

func lookupTx(table solana.PublicKey, writable, readonly []uint8, static ...solana.PublicKey) *solana.Transaction {
	keys := append(solana.PublicKeySlice{testKey(1)}, static...)

	return &solana.Transaction{
		Signatures: []solana.Signature{{1}},
		Message: solana.Message{
			Header: solana.MessageHeader{
				NumRequiredSignatures:       1,
				NumReadonlyUnsignedAccounts: uint8(len(static)),
			},
			AccountKeys: keys,
			AddressTableLookups: solana.MessageAddressTableLookupSlice{
				{AccountKey: table, WritableIndexes: writable, ReadonlyIndexes: readonly},
			},
		},
	}
}

func TestResolveLocksLookups(t *testing.T) {
	table := testKey(50)
	shared, loadedW, loadedR := testKey(10), testKey(11), testKey(12)
	resolver := mapResolver{table: {loadedR, loadedW, shared}}

	// shared is readonly in the static keys but writable through the table.
	decoded, err := FromTransaction(lookupTx(table, []uint8{1, 2}, []uint8{0}, shared))
	require.NoError(t, err)

	locks, err := ResolveLocks(decoded, resolver)
	require.NoError(t, err)

	assert.Equal(t, []solana.PublicKey{testKey(1), shared, loadedW}, locks.Writable)
	assert.Equal(t, []solana.PublicKey{loadedR}, locks.Readonly)
	assert.Equal(t, []solana.PublicKey{table}, LookupTableKeys(decoded.Tx))
	assert.Equal(t, []solana.PublicKey{testKey(1), shared}, StaticAccountKeys(decoded))
}

func TestResolveLocksMissingLookups(t *testing.T) {
	table := testKey(50)

	decoded, err := FromTransaction(lookupTx(table, []uint8{3}, nil))
	require.NoError(t, err)

	_, err = ResolveLocks(decoded, mapResolver{table: {testKey(10)}})
	assert.ErrorIs(t, err, ErrMissingLookupTable)

	_, err = ResolveLocks(decoded, mapResolver{})
	assert.ErrorIs(t, err, ErrMissingLookupTable)

	_, err = ResolveLocks(decoded, nil)
	assert.ErrorIs(t, err, ErrMissingLookupTable)
}

func TestLookupTableKeysDedupes(t *testing.T) {
	a, b := testKey(50), testKey(51)

	tx := lookupTx(a, []uint8{0}, nil)
	tx.Message.AddressTableLookups = append(tx.Message.AddressTableLookups,
		solana.MessageAddressTableLookup{AccountKey: b, ReadonlyIndexes: []uint8{0}},
		solana.MessageAddressTableLookup{AccountKey: a, ReadonlyIndexes: []uint8{1}},
	)

	assert.Equal(t, []solana.PublicKey{a, b}, LookupTableKeys(tx))
	assert.Nil(t, LookupTableKeys(budgetTx(nil, 1)))
}
