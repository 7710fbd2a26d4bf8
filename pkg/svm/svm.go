// Package svm defines the contract between the host runtime and builtin
// programs.
//
// A builtin program is Go code registered under a program address. The
// runtime hands it an InvokeContext for one call frame: the ordered account
// list with signer/writable flags, the clock, the compute meter and the
// ability to invoke other programs (CPI). Programs mutate the borrowed
// accounts in place; the runtime discards every mutation if the transaction
// fails.
package svm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
)

// Errors shared by the runtime and builtin programs.
var (
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrInvalidAccountData       = errors.New("invalid account data")
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrArithmeticOverflow       = errors.New("arithmetic overflow")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrInvalidSeeds             = errors.New("invalid seeds")
	ErrUnknownProgram           = errors.New("unknown program")
	ErrPrivilegeEscalation      = errors.New("cross-program invocation privilege escalation")
	ErrCallDepthExceeded        = errors.New("cross-program invocation depth exceeded")
	ErrReentrancy               = errors.New("cross-program invocation reentrancy not allowed")
)

// Program is a builtin program.
type Program interface {
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process calls f(ctx, data).
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

// InvokeContext is the call frame a program executes in.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// NumAccounts returns the number of accounts in the instruction.
	NumAccounts() int

	// GetAccount returns the account at the given instruction position.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent-exempt minimum for given data size.
	GetRentMinimum(dataLen uint64) uint64

	// Clock returns the current clock sysvar.
	Clock() Clock

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(cost uint64) error

	// Log records a program log message.
	Log(msg string)

	// StackHeight is 1 for top-level instructions and grows with each CPI.
	StackHeight() int

	// Invoke runs ix as a cross-program invocation. Each entry in signerSeeds
	// is the seed list (including bump) of a PDA owned by the calling program
	// that should be treated as a signer.
	Invoke(ix Instruction, signerSeeds ...[][]byte) error
}

// AccountInfo is an account as seen by one call frame. The embedded Account
// is shared by every frame of the transaction, so writes made by a callee
// are visible to the caller when Invoke returns.
type AccountInfo struct {
	Key types.Pubkey
	*accounts.Account
	IsSigner   bool
	IsWritable bool
}

// AccountMeta describes an account in an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Meta returns an AccountMeta with the given flags.
func Meta(pubkey types.Pubkey, writable, signer bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: writable}
}

// Instruction is a program invocation: target program, ordered accounts and data.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Clock is the clock sysvar.
type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// InstructionError is a program failure carrying a numeric code.
type InstructionError struct {
	Code uint32
	Name string
}

func (e *InstructionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("custom program error: %#x (%s)", e.Code, e.Name)
	}
	return fmt.Sprintf("custom program error: %#x", e.Code)
}

// RentMinimum returns the rent-exempt balance for an account holding dataLen
// bytes: two years of rent at 3480 lamports per byte-year, including the
// 128-byte storage overhead.
func RentMinimum(dataLen uint64) uint64 {
	const (
		accountStorageOverhead = 128
		lamportsPerByteYear    = 3480
		exemptionThreshold     = 2
	)
	return (accountStorageOverhead + dataLen) * lamportsPerByteYear * exemptionThreshold
}

// AccountAt is GetAccount with the error mapped to ErrNotEnoughAccountKeys.
func AccountAt(ctx InvokeContext, index int) (*AccountInfo, error) {
	acc, err := ctx.GetAccount(index)
	if err != nil {
		return nil, ErrNotEnoughAccountKeys
	}
	return acc, nil
}
