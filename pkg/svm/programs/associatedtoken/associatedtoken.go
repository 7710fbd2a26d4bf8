// Package associatedtoken implements the associated token account program.
//
// An associated token account is the canonical token account of a wallet for
// a mint, living at PDA([wallet, token_program, mint]) under this program.
// Create allocates it through system and token program CPIs signed with the
// derivation seeds.
package associatedtoken

import (
	"errors"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/pda"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/system"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

// ProgramID is the associated token account program address.
var ProgramID = types.AssociatedTokenProgramAddr

// Instruction discriminants. An empty payload is treated as Create.
const (
	InstructionCreate           uint8 = 0
	InstructionCreateIdempotent uint8 = 1
)

var (
	ErrInvalidOwner       = errors.New("associated token account owner does not match")
	ErrAddressMismatch    = errors.New("associated address does not match seed derivation")
	ErrUnknownInstruction = errors.New("associated token: unknown instruction")
)

// FindAddress derives the associated token account of wallet for mint.
// meter may be nil.
func FindAddress(wallet, mint types.Pubkey, meter pda.Meter) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(seeds(wallet, mint), ProgramID, meter)
}

// MustFindAddress is FindAddress for off-chain callers; it panics on failure.
func MustFindAddress(wallet, mint types.Pubkey) types.Pubkey {
	addr, _, err := FindAddress(wallet, mint, nil)
	if err != nil {
		panic(err)
	}
	return addr
}

func seeds(wallet, mint types.Pubkey) [][]byte {
	return [][]byte{wallet[:], token.ProgramID[:], mint[:]}
}

// Processor executes associated token program instructions.
type Processor struct{}

// NewProcessor creates a new associated token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes an associated token program instruction.
// Accounts: [payer(w,s), ata(w), wallet, mint, system_program, token_program]
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUAssociatedTokenDefault); err != nil {
		return err
	}

	idempotent := false
	switch {
	case len(data) == 0 || (len(data) == 1 && data[0] == InstructionCreate):
	case len(data) == 1 && data[0] == InstructionCreateIdempotent:
		idempotent = true
	case len(data) == 1:
		return ErrUnknownInstruction
	default:
		return svm.ErrInvalidInstructionData
	}

	infos := make([]*svm.AccountInfo, 6)
	for i := range infos {
		acc, err := svm.AccountAt(ctx, i)
		if err != nil {
			return err
		}
		infos[i] = acc
	}
	payer, ata, wallet, mint, systemProgram, tokenProgram := infos[0], infos[1], infos[2], infos[3], infos[4], infos[5]

	if systemProgram.Key != system.ProgramID || tokenProgram.Key != token.ProgramID {
		return svm.ErrUnknownProgram
	}

	addr, bump, err := FindAddress(wallet.Key, mint.Key, ctx.ConsumeCU)
	if err != nil {
		return err
	}
	if addr != ata.Key {
		return ErrAddressMismatch
	}

	if idempotent && ata.Owner == token.ProgramID {
		state, err := token.UnpackAccount(ata.Data)
		if err != nil {
			return err
		}
		if state.Owner != wallet.Key {
			return ErrInvalidOwner
		}
		if state.Mint != mint.Key {
			return token.ErrMintMismatch
		}
		return nil
	}
	if ata.Owner != system.ProgramID || len(ata.Data) != 0 {
		return svm.ErrAccountAlreadyInUse
	}
	if mint.Owner != token.ProgramID {
		return token.ErrInvalidMint
	}

	signer := append(seeds(wallet.Key, mint.Key), []byte{bump})
	if err := allocate(ctx, payer.Key, ata, signer); err != nil {
		return err
	}
	ctx.Log("Initialize the associated token account")
	return ctx.Invoke(token.InitializeAccount3(ata.Key, mint.Key, wallet.Key))
}

// allocate creates the ATA as a token-program account, topping up any
// lamports already sent to the address.
func allocate(ctx svm.InvokeContext, payer types.Pubkey, ata *svm.AccountInfo, signer [][]byte) error {
	rent := ctx.GetRentMinimum(token.AccountSize)
	if ata.Lamports == 0 {
		return ctx.Invoke(system.CreateAccount(payer, ata.Key, rent, token.AccountSize, token.ProgramID), signer)
	}
	if ata.Lamports < rent {
		if err := ctx.Invoke(system.Transfer(payer, ata.Key, rent-ata.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(ata.Key, token.AccountSize), signer); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(ata.Key, token.ProgramID), signer)
}

// Create builds a Create instruction.
func Create(payer, wallet, mint types.Pubkey) svm.Instruction {
	return build(payer, wallet, mint, InstructionCreate)
}

// CreateIdempotent builds a CreateIdempotent instruction.
func CreateIdempotent(payer, wallet, mint types.Pubkey) svm.Instruction {
	return build(payer, wallet, mint, InstructionCreateIdempotent)
}

func build(payer, wallet, mint types.Pubkey, disc uint8) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(payer, true, true),
			svm.Meta(MustFindAddress(wallet, mint), true, false),
			svm.Meta(wallet, false, false),
			svm.Meta(mint, false, false),
			svm.Meta(system.ProgramID, false, false),
			svm.Meta(token.ProgramID, false, false),
		},
		Data: []byte{disc},
	}
}

var _ svm.Program = (*Processor)(nil)
