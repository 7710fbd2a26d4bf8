// Package token implements the subset of the SPL token program the commerce
// program drives through CPI: mint and account initialization, minting,
// transfers and account closing. Record layouts are the standard 82-byte mint
// and 165-byte token account.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// ProgramID is the token program address.
var ProgramID = types.TokenProgramAddr

// Instruction discriminants.
const (
	InstructionTransfer           uint8 = 3
	InstructionMintTo             uint8 = 7
	InstructionCloseAccount       uint8 = 9
	InstructionTransferChecked    uint8 = 12
	InstructionInitializeAccount3 uint8 = 18
	InstructionInitializeMint2    uint8 = 20
)

var (
	ErrNotRentExempt        = errors.New("token: lamport balance below rent-exempt threshold")
	ErrInsufficientFunds    = fmt.Errorf("token: %w", svm.ErrInsufficientFunds)
	ErrInvalidMint          = errors.New("token: invalid mint")
	ErrMintMismatch         = errors.New("token: account not associated with this mint")
	ErrOwnerMismatch        = errors.New("token: owner does not match")
	ErrFixedSupply          = errors.New("token: fixed supply")
	ErrAlreadyInUse         = errors.New("token: account or token already in use")
	ErrUninitializedState   = errors.New("token: state is uninitialized")
	ErrNonNativeHasBalance  = errors.New("token: non-native account can only be closed if its balance is zero")
	ErrOverflow             = fmt.Errorf("token: %w", svm.ErrArithmeticOverflow)
	ErrAccountFrozen        = errors.New("token: account is frozen")
	ErrMintDecimalsMismatch = errors.New("token: mint decimals mismatch")
	ErrInvalidAccountData   = fmt.Errorf("token: %w", svm.ErrInvalidAccountData)
	ErrUnknownInstruction   = errors.New("token: unknown instruction")
)

// Processor executes token program instructions.
type Processor struct{}

// NewProcessor creates a new token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a token program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUTokenProgramDefault); err != nil {
		return err
	}
	if len(data) == 0 {
		return svm.ErrInvalidInstructionData
	}

	body := data[1:]
	switch data[0] {
	case InstructionInitializeMint2:
		return p.processInitializeMint(ctx, body)
	case InstructionInitializeAccount3:
		return p.processInitializeAccount(ctx, body)
	case InstructionMintTo:
		return p.processMintTo(ctx, body)
	case InstructionTransfer:
		return p.processTransfer(ctx, body, false)
	case InstructionTransferChecked:
		return p.processTransfer(ctx, body, true)
	case InstructionCloseAccount:
		return p.processCloseAccount(ctx, body)
	default:
		return ErrUnknownInstruction
	}
}

// owned returns the account at index, requiring it to be owned by this program.
func owned(ctx svm.InvokeContext, index int) (*svm.AccountInfo, error) {
	acc, err := svm.AccountAt(ctx, index)
	if err != nil {
		return nil, err
	}
	if acc.Owner != ProgramID {
		return nil, svm.ErrInvalidAccountOwner
	}
	return acc, nil
}

func writable(acc *svm.AccountInfo) error {
	if !acc.IsWritable {
		return svm.ErrAccountNotWritable
	}
	return nil
}

func (p *Processor) processInitializeMint(ctx svm.InvokeContext, data []byte) error {
	// decimals (1) + mint_authority (32) + freeze option tag (1) [+ freeze_authority (32)]
	if len(data) != 34 && len(data) != 66 {
		return svm.ErrInvalidInstructionData
	}
	authority := types.Pubkey(data[1:33])
	var freeze *types.Pubkey
	switch {
	case data[33] == 1 && len(data) == 66:
		k := types.Pubkey(data[34:66])
		freeze = &k
	case data[33] == 0 && len(data) == 34:
	default:
		return svm.ErrInvalidInstructionData
	}

	mintAcc, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	if err := writable(mintAcc); err != nil {
		return err
	}
	if len(mintAcc.Data) != MintSize {
		return ErrInvalidAccountData
	}
	if mintAcc.Data[45] != 0 {
		return ErrAlreadyInUse
	}
	if mintAcc.Lamports < ctx.GetRentMinimum(MintSize) {
		return ErrNotRentExempt
	}

	mint := Mint{
		MintAuthority:   &authority,
		Decimals:        data[0],
		IsInitialized:   true,
		FreezeAuthority: freeze,
	}
	mint.Pack(mintAcc.Data)
	return nil
}

func (p *Processor) processInitializeAccount(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return svm.ErrInvalidInstructionData
	}
	owner := types.Pubkey(data)

	acc, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	if err := writable(acc); err != nil {
		return err
	}
	mintAcc, err := svm.AccountAt(ctx, 1)
	if err != nil {
		return err
	}
	if len(acc.Data) != AccountSize {
		return ErrInvalidAccountData
	}
	if IsInitializedAccount(acc.Data) {
		return ErrAlreadyInUse
	}
	if acc.Lamports < ctx.GetRentMinimum(AccountSize) {
		return ErrNotRentExempt
	}
	if mintAcc.Owner != ProgramID {
		return ErrInvalidMint
	}
	if _, err := UnpackMint(mintAcc.Data); err != nil {
		return ErrInvalidMint
	}

	state := Account{
		Mint:  mintAcc.Key,
		Owner: owner,
		State: AccountStateInitialized,
	}
	state.Pack(acc.Data)
	return nil
}

func (p *Processor) processMintTo(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data)

	mintAcc, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	destAcc, err := owned(ctx, 1)
	if err != nil {
		return err
	}
	authority, err := svm.AccountAt(ctx, 2)
	if err != nil {
		return err
	}
	if err := writable(mintAcc); err != nil {
		return err
	}
	if err := writable(destAcc); err != nil {
		return err
	}

	mint, err := UnpackMint(mintAcc.Data)
	if err != nil {
		return err
	}
	dest, err := UnpackAccount(destAcc.Data)
	if err != nil {
		return err
	}
	if dest.State == AccountStateFrozen {
		return ErrAccountFrozen
	}
	if dest.Mint != mintAcc.Key {
		return ErrMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if *mint.MintAuthority != authority.Key {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}

	supply, carry := bits.Add64(mint.Supply, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	balance, carry := bits.Add64(dest.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}

	mint.Supply = supply
	dest.Amount = balance
	mint.Pack(mintAcc.Data)
	dest.Pack(destAcc.Data)
	return nil
}

func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte, checked bool) error {
	want := 8
	if checked {
		want = 9
	}
	if len(data) != want {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data[0:8])

	// Transfer: [source, destination, authority]
	// TransferChecked: [source, mint, destination, authority]
	destIndex, authIndex := 1, 2
	if checked {
		destIndex, authIndex = 2, 3
	}

	srcAcc, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	destAcc, err := owned(ctx, destIndex)
	if err != nil {
		return err
	}
	authority, err := svm.AccountAt(ctx, authIndex)
	if err != nil {
		return err
	}
	if err := writable(srcAcc); err != nil {
		return err
	}
	if err := writable(destAcc); err != nil {
		return err
	}

	src, err := UnpackAccount(srcAcc.Data)
	if err != nil {
		return err
	}
	dest, err := UnpackAccount(destAcc.Data)
	if err != nil {
		return err
	}
	if src.State == AccountStateFrozen || dest.State == AccountStateFrozen {
		return ErrAccountFrozen
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if src.Mint != dest.Mint {
		return ErrMintMismatch
	}
	if checked {
		mintAcc, err := owned(ctx, 1)
		if err != nil {
			return err
		}
		if mintAcc.Key != src.Mint {
			return ErrMintMismatch
		}
		mint, err := UnpackMint(mintAcc.Data)
		if err != nil {
			return err
		}
		if mint.Decimals != data[8] {
			return ErrMintDecimalsMismatch
		}
	}
	if src.Owner != authority.Key {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}

	if srcAcc.Key == destAcc.Key {
		return nil
	}
	balance, carry := bits.Add64(dest.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	src.Amount -= amount
	dest.Amount = balance
	src.Pack(srcAcc.Data)
	dest.Pack(destAcc.Data)
	return nil
}

func (p *Processor) processCloseAccount(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 0 {
		return svm.ErrInvalidInstructionData
	}
	acc, err := owned(ctx, 0)
	if err != nil {
		return err
	}
	dest, err := svm.AccountAt(ctx, 1)
	if err != nil {
		return err
	}
	authority, err := svm.AccountAt(ctx, 2)
	if err != nil {
		return err
	}
	if acc.Key == dest.Key {
		return svm.ErrInvalidAccountData
	}
	if err := writable(acc); err != nil {
		return err
	}
	if err := writable(dest); err != nil {
		return err
	}

	state, err := UnpackAccount(acc.Data)
	if err != nil {
		return err
	}
	if state.IsNative == nil && state.Amount != 0 {
		return ErrNonNativeHasBalance
	}
	closer := state.Owner
	if state.CloseAuthority != nil {
		closer = *state.CloseAuthority
	}
	if closer != authority.Key {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}

	total, carry := bits.Add64(dest.Lamports, acc.Lamports, 0)
	if carry != 0 {
		return ErrOverflow
	}
	dest.Lamports = total
	acc.Lamports = 0
	acc.Data = acc.Data[:0]
	acc.Owner = types.SystemProgramAddr
	return nil
}

var _ svm.Program = (*Processor)(nil)
