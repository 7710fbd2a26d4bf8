// Package processor executes commerce instructions.
//
// Every handler follows the same order: check the account list against the
// instruction's roles, load state views, run every authorization and
// precondition check, and only then perform CPIs and write state. A failure
// at any point returns the error and the host discards the frame's changes.
package processor

import (
	"errors"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/pda"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/associatedtoken"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/system"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

// Processor executes commerce program instructions.
type Processor struct{}

// NewProcessor creates a new commerce processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process decodes data and runs the matching handler. Failures are
// errcode.Code values, or host errors returned by a CPI.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUCommerceInstructionDefault); err != nil {
		return err
	}
	ix, err := instruction.Unpack(data)
	if err != nil {
		return err
	}
	accs, err := checkAccounts(ctx, ix.Kind())
	if err != nil {
		return err
	}
	if ix.Kind() != instruction.KindEmitEvent {
		ctx.Log("Instruction: " + ix.Kind().String())
	}

	switch ix := ix.(type) {
	case instruction.InitializeMerchant:
		return p.initializeMerchant(ctx, accs, ix)
	case instruction.InitializeOperator:
		return p.initializeOperator(ctx, accs, ix)
	case instruction.UpdateMerchantSettlementWallet:
		return p.updateMerchantSettlementWallet(accs)
	case instruction.UpdateMerchantAuthority:
		return p.updateMerchantAuthority(accs)
	case instruction.UpdateOperatorAuthority:
		return p.updateOperatorAuthority(accs)
	case instruction.InitializeMerchantOperatorConfig:
		return p.initializeConfig(ctx, accs, ix)
	case instruction.MakePayment:
		return p.makePayment(ctx, accs, ix)
	case instruction.ClearPayment:
		return p.clearPayment(ctx, accs)
	case instruction.RefundPayment:
		return p.refundPayment(ctx, accs, false)
	case instruction.ChargebackPayment:
		return p.refundPayment(ctx, accs, true)
	case instruction.ClosePayment:
		return p.closePayment(ctx, accs)
	case instruction.EmitEvent:
		return p.emitEvent(accs, ix)
	default:
		return errcode.Unreachable
	}
}

// checkAccounts validates the account list against the roles of kind and
// returns it, extra accounts included.
func checkAccounts(ctx svm.InvokeContext, kind instruction.Kind) ([]*svm.AccountInfo, error) {
	specs := kind.Accounts()
	if ctx.NumAccounts() < len(specs) {
		return nil, errcode.NotEnoughAccountKeys
	}
	accs := make([]*svm.AccountInfo, ctx.NumAccounts())
	for i := range accs {
		acc, err := ctx.GetAccount(i)
		if err != nil {
			return nil, errcode.NotEnoughAccountKeys
		}
		accs[i] = acc
	}
	for i, spec := range specs {
		acc := accs[i]
		if spec.Signer && !acc.IsSigner {
			return nil, errcode.MissingRequiredSignature
		}
		if spec.Writable && !acc.IsWritable {
			return nil, errcode.AccountNotWritable
		}
		if !spec.Address.IsZero() && acc.Key != spec.Address {
			return nil, errcode.IncorrectProgramID
		}
	}
	return accs, nil
}

// verifyAddress checks that key is the program address of seeds.
func verifyAddress(ctx svm.InvokeContext, key types.Pubkey, seeds [][]byte) error {
	addr, err := pda.CreateProgramAddressMetered(seeds, constants.ProgramID, ctx.ConsumeCU)
	if err != nil {
		if errors.Is(err, svm.ErrComputeExceeded) {
			return err
		}
		return errcode.InvalidSeeds
	}
	if addr != key {
		return errcode.InvalidSeeds
	}
	return nil
}

// verifyATA checks that key is the associated token account of wallet for mint.
func verifyATA(ctx svm.InvokeContext, key, wallet, mint types.Pubkey) error {
	addr, _, err := associatedtoken.FindAddress(wallet, mint, ctx.ConsumeCU)
	if err != nil {
		if errors.Is(err, svm.ErrComputeExceeded) {
			return err
		}
		return errcode.InvalidTokenAccount
	}
	if addr != key {
		return errcode.InvalidTokenAccount
	}
	return nil
}

// prepareRecord makes sure a PDA can be claimed as a record of size bytes.
// It reports whether the account still has to be created.
func prepareRecord(acc *svm.AccountInfo, size int) (bool, error) {
	switch acc.Owner {
	case constants.SystemProgramID:
		if len(acc.Data) != 0 {
			return false, errcode.InvalidAccountOwner
		}
		return true, nil
	case constants.ProgramID:
		if len(acc.Data) != size {
			return false, errcode.InvalidAccountData
		}
		if acc.Data[0] != 0 {
			return false, errcode.AccountAlreadyInitialized
		}
		return false, nil
	default:
		return false, errcode.InvalidAccountOwner
	}
}

// createRecord allocates a rent-exempt PDA owned by this program, topping up
// any lamports already sent to the address.
func createRecord(ctx svm.InvokeContext, payer, target *svm.AccountInfo, size int, signer [][]byte) error {
	space := uint64(size)
	rent := ctx.GetRentMinimum(space)
	if target.Lamports == 0 {
		return ctx.Invoke(system.CreateAccount(payer.Key, target.Key, rent, space, constants.ProgramID), signer)
	}
	if target.Lamports < rent {
		if err := ctx.Invoke(system.Transfer(payer.Key, target.Key, rent-target.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(target.Key, space), signer); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(target.Key, constants.ProgramID), signer)
}

func ownedByProgram(acc *svm.AccountInfo) error {
	if acc.Owner != constants.ProgramID {
		return errcode.InvalidAccountOwner
	}
	return nil
}

func loadMerchant(acc *svm.AccountInfo) (state.Merchant, error) {
	if err := ownedByProgram(acc); err != nil {
		return state.Merchant{}, err
	}
	return state.LoadMerchant(acc.Data)
}

func loadOperator(acc *svm.AccountInfo) (state.Operator, error) {
	if err := ownedByProgram(acc); err != nil {
		return state.Operator{}, err
	}
	return state.LoadOperator(acc.Data)
}

func loadConfig(acc *svm.AccountInfo) (state.Config, error) {
	if err := ownedByProgram(acc); err != nil {
		return state.Config{}, err
	}
	return state.LoadConfig(acc.Data)
}

func loadPayment(acc *svm.AccountInfo) (state.Payment, error) {
	if err := ownedByProgram(acc); err != nil {
		return state.Payment{}, err
	}
	return state.LoadPayment(acc.Data)
}

// loadMint returns the decoded mint, or InvalidMint.
func loadMint(acc *svm.AccountInfo) (*token.Mint, error) {
	if acc.Owner != constants.TokenProgramID {
		return nil, errcode.InvalidMint
	}
	mint, err := token.UnpackMint(acc.Data)
	if err != nil || !mint.IsInitialized {
		return nil, errcode.InvalidMint
	}
	return mint, nil
}

// loadTokenAccount returns the token account at acc, requiring the given
// owner and mint. Frozen accounts are rejected before any transfer.
func loadTokenAccount(acc *svm.AccountInfo, owner, mint types.Pubkey) (*token.Account, error) {
	if acc.Owner != constants.TokenProgramID {
		return nil, errcode.InvalidTokenAccount
	}
	ta, err := token.UnpackAccount(acc.Data)
	if err != nil || ta.State != token.AccountStateInitialized {
		return nil, errcode.InvalidTokenAccount
	}
	if ta.Owner != owner || ta.Mint != mint {
		return nil, errcode.InvalidTokenAccount
	}
	return ta, nil
}

var _ svm.Program = (*Processor)(nil)
