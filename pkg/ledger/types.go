package ledger

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// TransactionRecord is the stored form of an executed transaction.
type TransactionRecord struct {
	Signature            runtime.Signature
	Seq                  uint64
	Slot                 uint64
	BlockTime            int64
	FeePayer             types.Pubkey
	AccountKeys          []types.Pubkey
	Success              bool
	Err                  string
	FailedInstruction    int
	ComputeUnitsConsumed uint64
	Logs                 []string
	InnerInstructions    []InnerInstruction
	ModifiedAccounts     []types.Pubkey
}

// InnerInstruction is a stored cross-program invocation.
type InnerInstruction struct {
	Index       int
	StackHeight int
	ProgramID   types.Pubkey
	Accounts    []svm.AccountMeta
	Data        []byte
}

// SignatureInfo is one entry of an address history.
type SignatureInfo struct {
	Signature runtime.Signature
	Slot      uint64
	BlockTime int64
	Success   bool
	Err       string
}

// EventRecord is an inner instruction selected by Config.EventFilter.
type EventRecord struct {
	Signature runtime.Signature
	Slot      uint64
	Program   types.Pubkey
	Data      []byte
}

// QueryOptions bounds history queries. Results are newest first.
type QueryOptions struct {
	// Limit is the maximum number of entries to return. Zero means DefaultLimit.
	Limit int

	// Before skips entries up to and including this signature.
	Before *runtime.Signature

	// MinSlot drops entries older than this slot.
	MinSlot uint64
}

// DefaultLimit caps queries without an explicit limit.
const DefaultLimit = 1000

// Stats contains ledger statistics.
type Stats struct {
	LatestSlot       uint64
	TransactionCount uint64
	FailedCount      uint64
	EventCount       uint64
	DatabaseSize     int64
}

func newRecord(res *runtime.Result, seq uint64) *TransactionRecord {
	rec := &TransactionRecord{
		Signature:            res.Signature,
		Seq:                  seq,
		Slot:                 res.Slot,
		BlockTime:            res.BlockTime,
		FeePayer:             res.FeePayer,
		AccountKeys:          res.AccountKeys,
		Success:              res.Success,
		FailedInstruction:    res.FailedInstruction,
		ComputeUnitsConsumed: res.ComputeUnitsConsumed,
		Logs:                 res.Logs,
		ModifiedAccounts:     res.ModifiedAccounts,
	}
	if res.Err != nil {
		rec.Err = res.Err.Error()
	}
	for _, inner := range res.InnerInstructions {
		rec.InnerInstructions = append(rec.InnerInstructions, InnerInstruction{
			Index:       inner.Index,
			StackHeight: inner.StackHeight,
			ProgramID:   inner.Instruction.ProgramID,
			Accounts:    inner.Instruction.Accounts,
			Data:        inner.Instruction.Data,
		})
	}
	return rec
}

// Instruction converts the stored invocation back to an instruction.
func (ix InnerInstruction) Instruction() svm.Instruction {
	return svm.Instruction{ProgramID: ix.ProgramID, Accounts: ix.Accounts, Data: ix.Data}
}

// Key encoding. Integers are big-endian so cursors iterate in order.

func encodeU64(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}

func decodeU64(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// encodeAddressKey builds [address 32][seq 8].
func encodeAddressKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, 40)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	return key
}

// encodeEventKey builds [program 32][seq 8][index 2].
func encodeEventKey(program types.Pubkey, seq uint64, index uint16) []byte {
	key := make([]byte, 42)
	copy(key[:32], program[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	binary.BigEndian.PutUint16(key[40:], index)
	return key
}

// encodeSlotKey builds [slot 8][seq 8].
func encodeSlotKey(slot, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, slot)
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
