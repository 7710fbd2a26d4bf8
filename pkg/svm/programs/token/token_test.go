package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/svmtest"
)

var (
	mintKey   = types.NewPubkeyFromSeed("mint")
	authKey   = types.NewPubkeyFromSeed("mint-authority")
	aliceKey  = types.NewPubkeyFromSeed("alice")
	bobKey    = types.NewPubkeyFromSeed("bob")
	aliceAcct = types.NewPubkeyFromSeed("alice-token")
	bobAcct   = types.NewPubkeyFromSeed("bob-token")
)

func exec(t *testing.T, ix svm.Instruction, infos ...*svm.AccountInfo) error {
	t.Helper()
	require.Equal(t, len(ix.Accounts), len(infos))
	for i, meta := range ix.Accounts {
		require.Equal(t, meta.Pubkey, infos[i].Key, "account %d", i)
	}
	return NewProcessor().Process(svmtest.NewContext(ProgramID, infos...), ix.Data)
}

func mintInfo(t *testing.T) *svm.AccountInfo {
	t.Helper()
	info := svmtest.Account(mintKey, ProgramID, svm.RentMinimum(MintSize), make([]byte, MintSize), true, false)
	require.NoError(t, exec(t, InitializeMint2(mintKey, 6, authKey, nil), info))
	return info
}

func tokenInfo(t *testing.T, key, owner types.Pubkey, mint *svm.AccountInfo) *svm.AccountInfo {
	t.Helper()
	info := svmtest.Account(key, ProgramID, svm.RentMinimum(AccountSize), make([]byte, AccountSize), true, false)
	require.NoError(t, exec(t, InitializeAccount3(key, mintKey, owner), info, mint))
	return info
}

func balance(t *testing.T, info *svm.AccountInfo) uint64 {
	t.Helper()
	acc, err := UnpackAccount(info.Data)
	require.NoError(t, err)
	return acc.Amount
}

func TestInitializeMint(t *testing.T) {
	info := mintInfo(t)

	mint, err := UnpackMint(info.Data)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Equal(t, authKey, *mint.MintAuthority)
	assert.Nil(t, mint.FreezeAuthority)

	err = exec(t, InitializeMint2(mintKey, 6, authKey, nil), info)
	assert.ErrorIs(t, err, ErrAlreadyInUse)
}

func TestInitializeMintRequiresRent(t *testing.T) {
	info := svmtest.Account(mintKey, ProgramID, 1, make([]byte, MintSize), true, false)
	assert.ErrorIs(t, exec(t, InitializeMint2(mintKey, 6, authKey, &authKey), info), ErrNotRentExempt)
}

func TestMintAndTransfer(t *testing.T) {
	mint := mintInfo(t)
	alice := tokenInfo(t, aliceAcct, aliceKey, mint)
	bob := tokenInfo(t, bobAcct, bobKey, mint)
	auth := svmtest.Account(authKey, types.SystemProgramAddr, 0, nil, false, true)

	require.NoError(t, exec(t, MintTo(mintKey, aliceAcct, authKey, 1_000), mint, alice, auth))
	assert.Equal(t, uint64(1_000), balance(t, alice))

	aliceSigner := svmtest.Account(aliceKey, types.SystemProgramAddr, 0, nil, false, true)
	require.NoError(t, exec(t, Transfer(aliceAcct, bobAcct, aliceKey, 300), alice, bob, aliceSigner))
	assert.Equal(t, uint64(700), balance(t, alice))
	assert.Equal(t, uint64(300), balance(t, bob))

	require.NoError(t, exec(t, TransferChecked(aliceAcct, mintKey, bobAcct, aliceKey, 200, 6), alice, mint, bob, aliceSigner))
	assert.Equal(t, uint64(500), balance(t, bob))

	err := exec(t, TransferChecked(aliceAcct, mintKey, bobAcct, aliceKey, 1, 9), alice, mint, bob, aliceSigner)
	assert.ErrorIs(t, err, ErrMintDecimalsMismatch)
}

func TestTransferInsufficientFundsLeavesBuffers(t *testing.T) {
	mint := mintInfo(t)
	alice := tokenInfo(t, aliceAcct, aliceKey, mint)
	bob := tokenInfo(t, bobAcct, bobKey, mint)
	aliceSigner := svmtest.Account(aliceKey, types.SystemProgramAddr, 0, nil, false, true)

	srcBefore := append([]byte(nil), alice.Data...)
	dstBefore := append([]byte(nil), bob.Data...)

	err := exec(t, Transfer(aliceAcct, bobAcct, aliceKey, 1), alice, bob, aliceSigner)
	assert.ErrorIs(t, err, svm.ErrInsufficientFunds)
	assert.Equal(t, srcBefore, alice.Data)
	assert.Equal(t, dstBefore, bob.Data)
}

func TestTransferAuthority(t *testing.T) {
	mint := mintInfo(t)
	alice := tokenInfo(t, aliceAcct, aliceKey, mint)
	bob := tokenInfo(t, bobAcct, bobKey, mint)
	auth := svmtest.Account(authKey, types.SystemProgramAddr, 0, nil, false, true)
	require.NoError(t, exec(t, MintTo(mintKey, aliceAcct, authKey, 10), mint, alice, auth))

	mallory := svmtest.Account(bobKey, types.SystemProgramAddr, 0, nil, false, true)
	ix := Transfer(aliceAcct, bobAcct, bobKey, 5)
	assert.ErrorIs(t, exec(t, ix, alice, bob, mallory), ErrOwnerMismatch)

	unsigned := svmtest.Account(aliceKey, types.SystemProgramAddr, 0, nil, false, false)
	ix = Transfer(aliceAcct, bobAcct, aliceKey, 5)
	assert.ErrorIs(t, exec(t, ix, alice, bob, unsigned), svm.ErrMissingRequiredSignature)
}

func TestMintToOverflow(t *testing.T) {
	mint := mintInfo(t)
	alice := tokenInfo(t, aliceAcct, aliceKey, mint)
	auth := svmtest.Account(authKey, types.SystemProgramAddr, 0, nil, false, true)

	require.NoError(t, exec(t, MintTo(mintKey, aliceAcct, authKey, ^uint64(0)), mint, alice, auth))
	err := exec(t, MintTo(mintKey, aliceAcct, authKey, 1), mint, alice, auth)
	assert.ErrorIs(t, err, svm.ErrArithmeticOverflow)
}

func TestCloseAccount(t *testing.T) {
	mint := mintInfo(t)
	alice := tokenInfo(t, aliceAcct, aliceKey, mint)
	dest := svmtest.Account(aliceKey, types.SystemProgramAddr, 0, nil, true, true)
	rent := alice.Lamports

	require.NoError(t, exec(t, CloseAccount(aliceAcct, aliceKey, aliceKey), alice, dest, dest))
	assert.Equal(t, rent, dest.Lamports)
	assert.Zero(t, alice.Lamports)
	assert.Empty(t, alice.Data)
	assert.Equal(t, types.SystemProgramAddr, alice.Owner)
}

func TestCloseAccountWithBalance(t *testing.T) {
	mint := mintInfo(t)
	alice := tokenInfo(t, aliceAcct, aliceKey, mint)
	auth := svmtest.Account(authKey, types.SystemProgramAddr, 0, nil, false, true)
	require.NoError(t, exec(t, MintTo(mintKey, aliceAcct, authKey, 1), mint, alice, auth))

	dest := svmtest.Account(aliceKey, types.SystemProgramAddr, 0, nil, true, true)
	assert.ErrorIs(t, exec(t, CloseAccount(aliceAcct, aliceKey, aliceKey), alice, dest, dest), ErrNonNativeHasBalance)
}

func TestAccountPackRoundTrip(t *testing.T) {
	native := uint64(42)
	acc := &Account{
		Mint:            mintKey,
		Owner:           aliceKey,
		Amount:          99,
		Delegate:        &bobKey,
		State:           AccountStateFrozen,
		IsNative:        &native,
		DelegatedAmount: 7,
	}
	buf := make([]byte, AccountSize)
	acc.Pack(buf)

	got, err := UnpackAccount(buf)
	require.NoError(t, err)
	assert.Equal(t, acc, got)

	_, err = UnpackAccount(make([]byte, AccountSize))
	assert.ErrorIs(t, err, ErrUninitializedState)
	_, err = UnpackMint(make([]byte, MintSize-1))
	assert.ErrorIs(t, err, svm.ErrInvalidAccountData)
}
