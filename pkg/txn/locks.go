package txn

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrMissingLookupTable is returned when a lookup-table reference cannot be
// satisfied, which means the lookup store is stale.
var ErrMissingLookupTable = errors.New("address lookup table entry not found")

// LookupResolver resolves address lookup table entries.
type LookupResolver interface {
	Resolve(table solana.PublicKey, index uint8) (solana.PublicKey, bool)
}

// Locks is the account lock set of a transaction. The two lists are disjoint
// and keep first-seen order.
type Locks struct {
	Writable []solana.PublicKey
	Readonly []solana.PublicKey
}

// All returns every locked account, writable first.
func (l Locks) All() []solana.PublicKey {
	all := make([]solana.PublicKey, 0, len(l.Writable)+len(l.Readonly))
	all = append(all, l.Writable...)

	return append(all, l.Readonly...)
}

// Contains reports whether any locked account is in accounts.
func (l Locks) Contains(accounts map[solana.PublicKey]struct{}) bool {
	for _, key := range l.All() {
		if _, ok := accounts[key]; ok {
			return true
		}
	}

	return false
}

// reservedAccounts are builtin programs and sysvars that are never write
// locked.
var reservedAccounts = map[solana.PublicKey]struct{}{
	solana.SystemProgramID:               {},
	solana.ConfigProgramID:               {},
	solana.StakeProgramID:                {},
	solana.VoteProgramID:                 {},
	solana.FeatureProgramID:              {},
	solana.BPFLoaderDeprecatedProgramID:  {},
	solana.BPFLoaderProgramID:            {},
	solana.BPFLoaderUpgradeableProgramID: {},
	solana.Secp256k1ProgramID:            {},
	solana.ComputeBudget:                 {},
	solana.SysVarClockPubkey:             {},
	solana.SysVarEpochSchedulePubkey:     {},
	solana.SysVarFeesPubkey:              {},
	solana.SysVarInstructionsPubkey:      {},
	solana.SysVarRecentBlockHashesPubkey: {},
	solana.SysVarRentPubkey:              {},
	solana.SysVarRewardsPubkey:           {},
	solana.SysVarSlotHashesPubkey:        {},
	solana.SysVarSlotHistoryPubkey:       {},
	solana.SysVarStakeHistoryPubkey:      {},
}

// IsReserved reports whether key is a builtin program or sysvar.
func IsReserved(key solana.PublicKey) bool {
	_, ok := reservedAccounts[key]
	return ok
}

// StaticAccountKeys returns the keys stored in the message itself.
func StaticAccountKeys(d *Decoded) []solana.PublicKey {
	return d.Tx.Message.AccountKeys
}

// LookupTableKeys returns the distinct lookup tables a transaction
// references, in message order.
func LookupTableKeys(tx *solana.Transaction) []solana.PublicKey {
	lookups := tx.Message.AddressTableLookups
	if len(lookups) == 0 {
		return nil
	}

	seen := make(map[solana.PublicKey]struct{}, len(lookups))
	keys := make([]solana.PublicKey, 0, len(lookups))

	for _, lookup := range lookups {
		if _, ok := seen[lookup.AccountKey]; ok {
			continue
		}

		seen[lookup.AccountKey] = struct{}{}
		keys = append(keys, lookup.AccountKey)
	}

	return keys
}

// ResolveLocks returns the accounts a transaction locks, loading looked-up
// addresses through resolver. resolver may be nil for transactions without
// lookups.
func ResolveLocks(d *Decoded, resolver LookupResolver) (Locks, error) {
	msg := &d.Tx.Message

	keys, writable, err := loadAccounts(msg, resolver)
	if err != nil {
		return Locks{}, err
	}

	upgradeableLoaderPresent := false

	for _, key := range keys {
		if key.Equals(solana.BPFLoaderUpgradeableProgramID) {
			upgradeableLoaderPresent = true
			break
		}
	}

	if !upgradeableLoaderPresent {
		for _, ix := range msg.Instructions {
			writable[ix.ProgramIDIndex] = false
		}
	}

	for i, key := range keys {
		if writable[i] && IsReserved(key) {
			writable[i] = false
		}
	}

	return dedupeLocks(keys, writable), nil
}

// loadAccounts returns the full account list of a message (static keys, then
// writable lookups, then readonly lookups) with the writability the message
// header and lookups declare.
func loadAccounts(msg *solana.Message, resolver LookupResolver) ([]solana.PublicKey, []bool, error) {
	static := msg.AccountKeys
	h := msg.Header

	numSigned := int(h.NumRequiredSignatures)
	writableSigned := numSigned - int(h.NumReadonlySignedAccounts)
	writableUnsigned := len(static) - int(h.NumReadonlyUnsignedAccounts)

	keys := make([]solana.PublicKey, 0, len(static))
	writable := make([]bool, 0, len(static))

	for i, key := range static {
		keys = append(keys, key)

		if i < numSigned {
			writable = append(writable, i < writableSigned)
		} else {
			writable = append(writable, i < writableUnsigned)
		}
	}

	if len(msg.AddressTableLookups) == 0 {
		return keys, writable, nil
	}

	if resolver == nil {
		return nil, nil, fmt.Errorf("%w: no lookup store", ErrMissingLookupTable)
	}

	for _, lookup := range msg.AddressTableLookups {
		for _, index := range lookup.WritableIndexes {
			key, ok := resolver.Resolve(lookup.AccountKey, index)
			if !ok {
				return nil, nil, fmt.Errorf("%w: table %s index %d", ErrMissingLookupTable, lookup.AccountKey, index)
			}

			keys = append(keys, key)
			writable = append(writable, true)
		}
	}

	for _, lookup := range msg.AddressTableLookups {
		for _, index := range lookup.ReadonlyIndexes {
			key, ok := resolver.Resolve(lookup.AccountKey, index)
			if !ok {
				return nil, nil, fmt.Errorf("%w: table %s index %d", ErrMissingLookupTable, lookup.AccountKey, index)
			}

			keys = append(keys, key)
			writable = append(writable, false)
		}
	}

	return keys, writable, nil
}

// dedupeLocks splits keys into disjoint writable and readonly lists. A key
// that is writable anywhere is only write locked.
func dedupeLocks(keys []solana.PublicKey, writable []bool) Locks {
	anyWritable := make(map[solana.PublicKey]bool, len(keys))
	for i, key := range keys {
		anyWritable[key] = anyWritable[key] || writable[i]
	}

	var locks Locks

	seen := make(map[solana.PublicKey]struct{}, len(keys))

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}

		if anyWritable[key] {
			locks.Writable = append(locks.Writable, key)
		} else {
			locks.Readonly = append(locks.Readonly, key)
		}
	}

	return locks
}
