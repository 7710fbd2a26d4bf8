package runtime

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/zeebo/blake3"
)

// Transaction limits.
const (
	MaxInstructions        = 64
	MaxAccountsPerTx       = 128
	MaxInstructionDataSize = 10 * 1024
)

var (
	ErrEmptyTransaction    = errors.New("transaction has no instructions")
	ErrTooManyInstructions = errors.New("too many instructions")
	ErrTooManyAccounts     = errors.New("too many accounts")
	ErrDataTooLarge        = errors.New("instruction data too large")
	ErrFeePayerNotSigner   = errors.New("fee payer must sign")
)

// Transaction is an ordered list of instructions executed atomically.
// Signatures are not verified: a key is treated as signed when any
// instruction marks it as a signer or it is the fee payer.
type Transaction struct {
	FeePayer     types.Pubkey
	Instructions []svm.Instruction

	// ComputeUnitLimit overrides the runtime default when non-zero.
	ComputeUnitLimit uint64
}

// NewTransaction creates a transaction paid by feePayer.
func NewTransaction(feePayer types.Pubkey, ixs ...svm.Instruction) *Transaction {
	return &Transaction{FeePayer: feePayer, Instructions: ixs}
}

// Validate checks structural limits.
func (tx *Transaction) Validate() error {
	if len(tx.Instructions) == 0 {
		return ErrEmptyTransaction
	}
	if len(tx.Instructions) > MaxInstructions {
		return ErrTooManyInstructions
	}
	if len(tx.AccountKeys()) > MaxAccountsPerTx {
		return ErrTooManyAccounts
	}
	for _, ix := range tx.Instructions {
		if len(ix.Data) > MaxInstructionDataSize {
			return ErrDataTooLarge
		}
	}
	return nil
}

// AccountKeys returns every key the transaction references, fee payer
// first, then in order of first appearance (program ids included).
func (tx *Transaction) AccountKeys() []types.Pubkey {
	seen := make(map[types.Pubkey]struct{})
	keys := make([]types.Pubkey, 0, 1+len(tx.Instructions)*4)
	add := func(k types.Pubkey) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	add(tx.FeePayer)
	for _, ix := range tx.Instructions {
		for _, m := range ix.Accounts {
			add(m.Pubkey)
		}
		add(ix.ProgramID)
	}
	return keys
}

// Signers returns the keys the transaction is signed by.
func (tx *Transaction) Signers() map[types.Pubkey]bool {
	signers := map[types.Pubkey]bool{tx.FeePayer: true}
	for _, ix := range tx.Instructions {
		for _, m := range ix.Accounts {
			if m.IsSigner {
				signers[m.Pubkey] = true
			}
		}
	}
	return signers
}

// MessageBytes is the canonical encoding hashed into the signature.
func (tx *Transaction) MessageBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, tx.FeePayer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.ComputeUnitLimit)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Instructions)))
	for _, ix := range tx.Instructions {
		buf = append(buf, ix.ProgramID[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Accounts)))
		for _, m := range ix.Accounts {
			buf = append(buf, m.Pubkey[:]...)
			var flags byte
			if m.IsSigner {
				flags |= 1
			}
			if m.IsWritable {
				flags |= 2
			}
			buf = append(buf, flags)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.Data)))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Signature identifies an executed transaction.
type Signature = types.Hash

// computeSignature is blake3(message || slot || sequence within the slot).
func computeSignature(tx *Transaction, slot, seq uint64) Signature {
	h := blake3.New()
	h.Write(tx.MessageBytes())
	var tail [16]byte
	binary.LittleEndian.PutUint64(tail[0:], slot)
	binary.LittleEndian.PutUint64(tail[8:], seq)
	h.Write(tail[:])

	var sig Signature
	copy(sig[:], h.Sum(nil))
	return sig
}
