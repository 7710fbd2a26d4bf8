// Package system implements the System Program builtin.
//
// The System Program is responsible for:
//   - Creating new accounts
//   - Transferring lamports
//   - Assigning account ownership
//   - Allocating account space
//   - The seed-derived variants of the above
package system

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants (u32 little-endian).
const (
	InstructionCreateAccount         uint32 = 0
	InstructionAssign                uint32 = 1
	InstructionTransfer              uint32 = 2
	InstructionCreateAccountWithSeed uint32 = 3
	InstructionAllocate              uint32 = 8
	InstructionAllocateWithSeed      uint32 = 9
	InstructionAssignWithSeed        uint32 = 10
	InstructionTransferWithSeed      uint32 = 11
)

// MaxSeedLen is the longest seed accepted by the *WithSeed instructions.
const MaxSeedLen = 32

var (
	ErrAccountNotRentExempt = errors.New("account not rent exempt")
	ErrAccountDataTooSmall  = errors.New("account data too small")
	ErrAccountDataTooLarge  = errors.New("account data too large")
	ErrInvalidSeed          = errors.New("invalid seed")
	ErrAddressWithSeed      = errors.New("address with seed mismatch")
	ErrUnknownInstruction   = errors.New("unknown system instruction")
)

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}
	if len(data) < 4 {
		return svm.ErrInvalidInstructionData
	}

	body := data[4:]
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, body)
	case InstructionAssign:
		return p.processAssign(ctx, body)
	case InstructionTransfer:
		return p.processTransfer(ctx, body)
	case InstructionAllocate:
		return p.processAllocate(ctx, body)
	case InstructionCreateAccountWithSeed:
		return p.processCreateAccountWithSeed(ctx, body)
	case InstructionAllocateWithSeed:
		return p.processAllocateWithSeed(ctx, body)
	case InstructionAssignWithSeed:
		return p.processAssignWithSeed(ctx, body)
	case InstructionTransferWithSeed:
		return p.processTransferWithSeed(ctx, body)
	default:
		return ErrUnknownInstruction
	}
}

// twoAccounts fetches positions 0 and 1.
func twoAccounts(ctx svm.InvokeContext) (*svm.AccountInfo, *svm.AccountInfo, error) {
	a, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	b, err := svm.AccountAt(ctx, 1)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func isUnused(acc *svm.AccountInfo) bool {
	return acc.Owner == ProgramID && len(acc.Data) == 0 && acc.Lamports == 0
}

// debit moves lamports from one account to another with overflow checks.
func debit(from, to *svm.AccountInfo, lamports uint64) error {
	if !from.IsWritable || !to.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if from.Lamports < lamports {
		return svm.ErrInsufficientFunds
	}
	sum, carry := bits.Add64(to.Lamports, lamports, 0)
	if carry != 0 {
		return svm.ErrArithmeticOverflow
	}
	from.Lamports -= lamports
	to.Lamports = sum
	return nil
}

// create funds, allocates and assigns an unused account.
func create(ctx svm.InvokeContext, funder, target *svm.AccountInfo, lamports, space uint64, owner types.Pubkey) error {
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	if !isUnused(target) {
		return svm.ErrAccountAlreadyInUse
	}
	if lamports < ctx.GetRentMinimum(space) {
		return ErrAccountNotRentExempt
	}
	if err := debit(funder, target, lamports); err != nil {
		return err
	}
	target.Data = make([]byte, space)
	target.Owner = owner
	return nil
}

func (p *Processor) processCreateAccount(ctx svm.InvokeContext, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) != 48 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	owner := types.Pubkey(data[16:48])

	funder, newAccount, err := twoAccounts(ctx)
	if err != nil {
		return err
	}
	if !funder.IsSigner || !newAccount.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if err := create(ctx, funder, newAccount, lamports, space, owner); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("CreateAccount: %s space=%d owner=%s", newAccount.Key, space, owner))
	return nil
}

func (p *Processor) processAssign(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return svm.ErrInvalidInstructionData
	}
	owner := types.Pubkey(data)

	account, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if account.Owner == owner {
		return nil
	}
	if account.Owner != ProgramID {
		return svm.ErrInvalidAccountOwner
	}
	account.Owner = owner
	return nil
}

func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data)

	from, to, err := twoAccounts(ctx)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if len(from.Data) != 0 || from.Owner != ProgramID {
		return fmt.Errorf("transfer: `from` must not carry data: %w", svm.ErrInvalidAccountOwner)
	}
	return debit(from, to, lamports)
}

func allocate(account *svm.AccountInfo, space uint64) error {
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	if account.Owner != ProgramID {
		return svm.ErrInvalidAccountOwner
	}
	if len(account.Data) != 0 {
		return svm.ErrAccountAlreadyInUse
	}
	account.Data = make([]byte, space)
	return nil
}

func (p *Processor) processAllocate(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	account, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	return allocate(account, binary.LittleEndian.Uint64(data))
}

// readSeed parses base (32) + seed_len (u64) + seed and returns the remainder.
func readSeed(data []byte) (types.Pubkey, string, []byte, error) {
	if len(data) < 40 {
		return types.Pubkey{}, "", nil, svm.ErrInvalidInstructionData
	}
	base := types.Pubkey(data[0:32])
	seedLen := binary.LittleEndian.Uint64(data[32:40])
	if seedLen > MaxSeedLen {
		return base, "", nil, ErrInvalidSeed
	}
	if uint64(len(data)-40) < seedLen {
		return base, "", nil, svm.ErrInvalidInstructionData
	}
	return base, string(data[40 : 40+seedLen]), data[40+seedLen:], nil
}

func (p *Processor) processCreateAccountWithSeed(ctx svm.InvokeContext, data []byte) error {
	// base (32) + seed + lamports (8) + space (8) + owner (32)
	base, seed, rest, err := readSeed(data)
	if err != nil {
		return err
	}
	if len(rest) != 48 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(rest[0:8])
	space := binary.LittleEndian.Uint64(rest[8:16])
	owner := types.Pubkey(rest[16:48])

	funder, newAccount, err := twoAccounts(ctx)
	if err != nil {
		return err
	}
	if !funder.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if err := requireBaseSigner(ctx, base, 2); err != nil {
		return err
	}
	if CreateWithSeed(base, seed, owner) != newAccount.Key {
		return ErrAddressWithSeed
	}
	return create(ctx, funder, newAccount, lamports, space, owner)
}

// requireBaseSigner checks that the base key signed, either as the account
// at index or, when the funder is the base, at position 0.
func requireBaseSigner(ctx svm.InvokeContext, base types.Pubkey, index int) error {
	for _, i := range []int{0, index} {
		acc, err := ctx.GetAccount(i)
		if err == nil && acc.Key == base {
			if !acc.IsSigner {
				return svm.ErrMissingRequiredSignature
			}
			return nil
		}
	}
	return svm.ErrMissingRequiredSignature
}

func (p *Processor) processAllocateWithSeed(ctx svm.InvokeContext, data []byte) error {
	// base (32) + seed + space (8) + owner (32)
	base, seed, rest, err := readSeed(data)
	if err != nil {
		return err
	}
	if len(rest) != 40 {
		return svm.ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(rest[0:8])
	owner := types.Pubkey(rest[8:40])

	account, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	if err := requireBaseSigner(ctx, base, 1); err != nil {
		return err
	}
	if CreateWithSeed(base, seed, owner) != account.Key {
		return ErrAddressWithSeed
	}
	if err := allocate(account, space); err != nil {
		return err
	}
	account.Owner = owner
	return nil
}

func (p *Processor) processAssignWithSeed(ctx svm.InvokeContext, data []byte) error {
	// base (32) + seed + owner (32)
	base, seed, rest, err := readSeed(data)
	if err != nil {
		return err
	}
	if len(rest) != 32 {
		return svm.ErrInvalidInstructionData
	}
	owner := types.Pubkey(rest)

	account, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	if err := requireBaseSigner(ctx, base, 1); err != nil {
		return err
	}
	if CreateWithSeed(base, seed, owner) != account.Key {
		return ErrAddressWithSeed
	}
	if account.Owner != ProgramID {
		return svm.ErrInvalidAccountOwner
	}
	account.Owner = owner
	return nil
}

func (p *Processor) processTransferWithSeed(ctx svm.InvokeContext, data []byte) error {
	// lamports (8) + seed_len (8) + seed + from_owner (32)
	if len(data) < 16 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	seedLen := binary.LittleEndian.Uint64(data[8:16])
	if seedLen > MaxSeedLen {
		return ErrInvalidSeed
	}
	if uint64(len(data)-16) != seedLen+32 {
		return svm.ErrInvalidInstructionData
	}
	seed := string(data[16 : 16+seedLen])
	fromOwner := types.Pubkey(data[16+seedLen:])

	// [0] = from, [1] = base, [2] = to
	from, base, err := twoAccounts(ctx)
	if err != nil {
		return err
	}
	to, err := svm.AccountAt(ctx, 2)
	if err != nil {
		return err
	}
	if !base.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if CreateWithSeed(base.Key, seed, fromOwner) != from.Key {
		return ErrAddressWithSeed
	}
	return debit(from, to, lamports)
}

// CreateWithSeed derives sha256(base || seed || owner).
func CreateWithSeed(base types.Pubkey, seed string, owner types.Pubkey) types.Pubkey {
	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(owner[:])

	var result types.Pubkey
	copy(result[:], h.Sum(nil))
	return result
}

var _ svm.Program = (*Processor)(nil)
