// Package txn decodes traced transactions and resolves the accounts they
// lock.
package txn

import (
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// DefaultInstructionComputeUnits is charged per non compute-budget
	// instruction when no limit is requested.
	DefaultInstructionComputeUnits = 200_000
	// MinRequestedComputeUnits is the lowest requested compute-unit value
	// reported for a transaction.
	MinRequestedComputeUnits = 1_400_000
)

// Compute budget instruction discriminators.
const (
	ixRequestUnitsDeprecated uint8 = iota
	ixRequestHeapFrame
	ixSetComputeUnitLimit
	ixSetComputeUnitPrice
	ixSetLoadedAccountsDataSizeLimit
)

var (
	// ErrNoSignatures is returned for a transaction without signatures.
	ErrNoSignatures = errors.New("transaction has no signatures")
	// ErrInvalidMessage is returned when a message fails sanitization.
	ErrInvalidMessage = errors.New("invalid transaction message")
	// ErrInvalidComputeBudget is returned for an undecodable compute budget
	// instruction.
	ErrInvalidComputeBudget = errors.New("invalid compute budget instruction")
)

// Decoded is a sanitized transaction with its scheduling attributes.
type Decoded struct {
	Tx           *solana.Transaction
	Signature    solana.Signature
	Priority     uint64
	RequestedCUs uint64
}

// Decode parses wire bytes into a transaction.
func Decode(raw []byte) (*Decoded, error) {
	tx, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	return FromTransaction(tx)
}

// Parse decodes wire bytes without sanitizing the message.
func Parse(raw []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	return tx, nil
}

// DecodeSignature returns the first signature of a transaction without
// sanitizing its message.
func DecodeSignature(raw []byte) (solana.Signature, error) {
	tx, err := Parse(raw)
	if err != nil {
		return solana.Signature{}, err
	}

	if len(tx.Signatures) == 0 {
		return solana.Signature{}, ErrNoSignatures
	}

	return tx.Signatures[0], nil
}

// FromTransaction sanitizes an already decoded transaction and derives its
// priority and requested compute units.
func FromTransaction(tx *solana.Transaction) (*Decoded, error) {
	if len(tx.Signatures) == 0 {
		return nil, ErrNoSignatures
	}

	if err := sanitize(&tx.Message); err != nil {
		return nil, err
	}

	priority, requestedCUs, err := computeBudget(&tx.Message)
	if err != nil {
		return nil, err
	}

	return &Decoded{
		Tx:           tx,
		Signature:    tx.Signatures[0],
		Priority:     priority,
		RequestedCUs: requestedCUs,
	}, nil
}

func sanitize(msg *solana.Message) error {
	numKeys := len(msg.AccountKeys)
	h := msg.Header

	if int(h.NumRequiredSignatures) > numKeys || h.NumRequiredSignatures == 0 {
		return fmt.Errorf("%w: %d required signatures for %d keys", ErrInvalidMessage, h.NumRequiredSignatures, numKeys)
	}

	if h.NumReadonlySignedAccounts >= h.NumRequiredSignatures {
		return fmt.Errorf("%w: no writable signer", ErrInvalidMessage)
	}

	if int(h.NumReadonlyUnsignedAccounts) > numKeys-int(h.NumRequiredSignatures) {
		return fmt.Errorf("%w: readonly unsigned count out of range", ErrInvalidMessage)
	}

	for i, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= numKeys {
			return fmt.Errorf("%w: instruction %d program index %d out of range", ErrInvalidMessage, i, ix.ProgramIDIndex)
		}
	}

	return nil
}

// computeBudget returns the priority and requested compute units of a
// message from its compute budget instructions.
func computeBudget(msg *solana.Message) (uint64, uint64, error) {
	var (
		priority     uint64
		requested    uint64
		hasRequested bool
		otherIxCount uint64
	)

	for i, ix := range msg.Instructions {
		if !msg.AccountKeys[ix.ProgramIDIndex].Equals(solana.ComputeBudget) {
			otherIxCount++
			continue
		}

		dec := bin.NewBorshDecoder(ix.Data)

		kind, err := dec.ReadUint8()
		if err != nil {
			return 0, 0, fmt.Errorf("%w: instruction %d: %v", ErrInvalidComputeBudget, i, err)
		}

		switch kind {
		case ixRequestUnitsDeprecated:
			units, err := dec.ReadUint32(binary.LittleEndian)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: instruction %d: %v", ErrInvalidComputeBudget, i, err)
			}

			fee, err := dec.ReadUint32(binary.LittleEndian)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: instruction %d: %v", ErrInvalidComputeBudget, i, err)
			}

			requested, hasRequested = uint64(units), true
			if units > 0 {
				priority = uint64(fee) * 1_000_000 / uint64(units)
			}
		case ixSetComputeUnitLimit:
			units, err := dec.ReadUint32(binary.LittleEndian)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: instruction %d: %v", ErrInvalidComputeBudget, i, err)
			}

			requested, hasRequested = uint64(units), true
		case ixSetComputeUnitPrice:
			price, err := dec.ReadUint64(binary.LittleEndian)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: instruction %d: %v", ErrInvalidComputeBudget, i, err)
			}

			priority = price
		case ixRequestHeapFrame, ixSetLoadedAccountsDataSizeLimit:
		default:
			return 0, 0, fmt.Errorf("%w: instruction %d: unknown kind %d", ErrInvalidComputeBudget, i, kind)
		}
	}

	if !hasRequested {
		requested = otherIxCount * DefaultInstructionComputeUnits
	}

	return priority, max(requested, MinRequestedComputeUnits), nil
}
