package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/svmtest"
)

var (
	funderKey = types.NewPubkeyFromSeed("funder")
	newKey    = types.NewPubkeyFromSeed("new")
	ownerKey  = types.NewPubkeyFromSeed("owner-program")
)

func run(t *testing.T, ix svm.Instruction, infos ...*svm.AccountInfo) (*svmtest.Context, error) {
	t.Helper()
	require.Equal(t, len(ix.Accounts), len(infos))
	ctx := svmtest.NewContext(ProgramID, infos...)
	return ctx, NewProcessor().Process(ctx, ix.Data)
}

func TestCreateAccount(t *testing.T) {
	rent := svm.RentMinimum(66)
	funder := svmtest.Account(funderKey, ProgramID, 10*rent, nil, true, true)
	target := svmtest.Account(newKey, ProgramID, 0, nil, true, true)

	ctx, err := run(t, CreateAccount(funderKey, newKey, rent, 66, ownerKey), funder, target)
	require.NoError(t, err)

	assert.Equal(t, 9*rent, funder.Lamports)
	assert.Equal(t, rent, target.Lamports)
	assert.Len(t, target.Data, 66)
	assert.Equal(t, ownerKey, target.Owner)
	assert.NotEmpty(t, ctx.Logs)
}

func TestCreateAccountRejects(t *testing.T) {
	rent := svm.RentMinimum(10)

	tests := []struct {
		name   string
		funder *svm.AccountInfo
		target *svm.AccountInfo
		amount uint64
		want   error
	}{
		{
			name:   "target not signer",
			funder: svmtest.Account(funderKey, ProgramID, rent, nil, true, true),
			target: svmtest.Account(newKey, ProgramID, 0, nil, true, false),
			amount: rent,
			want:   svm.ErrMissingRequiredSignature,
		},
		{
			name:   "already in use",
			funder: svmtest.Account(funderKey, ProgramID, 2*rent, nil, true, true),
			target: svmtest.Account(newKey, ProgramID, 1, nil, true, true),
			amount: rent,
			want:   svm.ErrAccountAlreadyInUse,
		},
		{
			name:   "below rent",
			funder: svmtest.Account(funderKey, ProgramID, rent, nil, true, true),
			target: svmtest.Account(newKey, ProgramID, 0, nil, true, true),
			amount: rent - 1,
			want:   ErrAccountNotRentExempt,
		},
		{
			name:   "insufficient funds",
			funder: svmtest.Account(funderKey, ProgramID, rent-1, nil, true, true),
			target: svmtest.Account(newKey, ProgramID, 0, nil, true, true),
			amount: rent,
			want:   svm.ErrInsufficientFunds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, CreateAccount(funderKey, newKey, tt.amount, 10, ownerKey), tt.funder, tt.target)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransfer(t *testing.T) {
	from := svmtest.Account(funderKey, ProgramID, 100, nil, true, true)
	to := svmtest.Account(newKey, ownerKey, 5, []byte{1}, true, false)

	_, err := run(t, Transfer(funderKey, newKey, 60), from, to)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), from.Lamports)
	assert.Equal(t, uint64(65), to.Lamports)

	_, err = run(t, Transfer(funderKey, newKey, 41), from, to)
	assert.ErrorIs(t, err, svm.ErrInsufficientFunds)
	assert.Equal(t, uint64(40), from.Lamports)

	to.IsWritable = false
	_, err = run(t, Transfer(funderKey, newKey, 1), from, to)
	assert.ErrorIs(t, err, svm.ErrAccountNotWritable)

	to.IsWritable = true
	to.Lamports = ^uint64(0)
	_, err = run(t, Transfer(funderKey, newKey, 1), from, to)
	assert.ErrorIs(t, err, svm.ErrArithmeticOverflow)
}

func TestAllocateAndAssign(t *testing.T) {
	acc := svmtest.Account(newKey, ProgramID, 0, nil, true, true)

	_, err := run(t, Allocate(newKey, 32), acc)
	require.NoError(t, err)
	assert.Len(t, acc.Data, 32)

	_, err = run(t, Allocate(newKey, 64), acc)
	assert.ErrorIs(t, err, svm.ErrAccountAlreadyInUse)

	_, err = run(t, Assign(newKey, ownerKey), acc)
	require.NoError(t, err)
	assert.Equal(t, ownerKey, acc.Owner)

	_, err = run(t, Assign(newKey, types.NewPubkeyFromSeed("elsewhere")), acc)
	assert.ErrorIs(t, err, svm.ErrInvalidAccountOwner)
}

func TestCreateAccountWithSeed(t *testing.T) {
	seed := "vault"
	derived := CreateWithSeed(funderKey, seed, ownerKey)
	rent := svm.RentMinimum(0)

	funder := svmtest.Account(funderKey, ProgramID, rent, nil, true, true)
	target := svmtest.Account(derived, ProgramID, 0, nil, true, false)
	_, err := run(t, CreateAccountWithSeed(funderKey, derived, funderKey, seed, rent, 0, ownerKey), funder, target)
	require.NoError(t, err)
	assert.Equal(t, ownerKey, target.Owner)

	wrong := svmtest.Account(newKey, ProgramID, 0, nil, true, false)
	funder.Lamports = rent
	_, err = run(t, CreateAccountWithSeed(funderKey, newKey, funderKey, seed, rent, 0, ownerKey), funder, wrong)
	assert.ErrorIs(t, err, ErrAddressWithSeed)
}

func TestTransferWithSeed(t *testing.T) {
	seed := "escrow"
	from := CreateWithSeed(funderKey, seed, ProgramID)

	fromAcc := svmtest.Account(from, ProgramID, 50, nil, true, false)
	baseAcc := svmtest.Account(funderKey, ProgramID, 0, nil, false, true)
	toAcc := svmtest.Account(newKey, ProgramID, 0, nil, true, false)

	_, err := run(t, TransferWithSeed(from, funderKey, seed, ProgramID, newKey, 20), fromAcc, baseAcc, toAcc)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), fromAcc.Lamports)
	assert.Equal(t, uint64(20), toAcc.Lamports)

	baseAcc.IsSigner = false
	_, err = run(t, TransferWithSeed(from, funderKey, seed, ProgramID, newKey, 1), fromAcc, baseAcc, toAcc)
	assert.ErrorIs(t, err, svm.ErrMissingRequiredSignature)
}

func TestProcessMalformed(t *testing.T) {
	ctx := svmtest.NewContext(ProgramID)
	p := NewProcessor()

	assert.ErrorIs(t, p.Process(ctx, []byte{0, 0}), svm.ErrInvalidInstructionData)
	assert.ErrorIs(t, p.Process(ctx, []byte{99, 0, 0, 0}), ErrUnknownInstruction)

	short := Transfer(funderKey, newKey, 1).Data[:8]
	assert.ErrorIs(t, p.Process(ctx, short), svm.ErrInvalidInstructionData)

	assert.ErrorIs(t, p.Process(ctx, Transfer(funderKey, newKey, 1).Data), svm.ErrNotEnoughAccountKeys)
}
