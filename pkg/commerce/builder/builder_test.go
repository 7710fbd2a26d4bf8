package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/svm/pda"
)

var (
	merchantAuth = types.NewPubkeyFromSeed("merchant-authority")
	operatorAuth = types.NewPubkeyFromSeed("operator-authority")
	buyer        = types.NewPubkeyFromSeed("buyer")
)

func TestAddressesMatchSeeds(t *testing.T) {
	merchant, bump := MerchantAddress(merchantAuth)
	want, err := pda.CreateProgramAddress([][]byte{[]byte("merchant"), merchantAuth[:], {bump}}, constants.ProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, merchant)

	p := NewParties(merchantAuth, operatorAuth, buyer, constants.USDCMint, 3)
	again := NewParties(merchantAuth, operatorAuth, buyer, constants.USDCMint, 3)
	assert.Equal(t, p, again)

	other := NewParties(merchantAuth, operatorAuth, buyer, constants.USDCMint, 4)
	assert.NotEqual(t, p.Config, other.Config)
	assert.Equal(t, p.Merchant, other.Merchant)

	first, _ := p.Payment(0)
	second, _ := p.Payment(1)
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, p.Escrow(), p.BuyerATA())
}

func TestMakePaymentLayout(t *testing.T) {
	p := NewParties(merchantAuth, operatorAuth, buyer, constants.USDCMint, 1)
	payer := types.NewPubkeyFromSeed("payer")
	ix := MakePayment(payer, p, 7, 1_000)

	assert.Equal(t, constants.ProgramID, ix.ProgramID)
	specs := instruction.KindMakePayment.Accounts()
	require.Len(t, ix.Accounts, len(specs))
	for i, spec := range specs {
		assert.Equal(t, spec.Writable, ix.Accounts[i].IsWritable, spec.Name)
		assert.Equal(t, spec.Signer, ix.Accounts[i].IsSigner, spec.Name)
		if !spec.Address.IsZero() {
			assert.Equal(t, spec.Address, ix.Accounts[i].Pubkey, spec.Name)
		}
	}
	assert.Equal(t, constants.EventAuthority, ix.Accounts[13].Pubkey)

	decoded, err := instruction.Unpack(ix.Data)
	require.NoError(t, err)
	_, bump := p.Payment(7)
	assert.Equal(t, instruction.MakePayment{OrderID: 7, Amount: 1_000, Bump: bump}, decoded)
}

func TestInitializeConfigAppendsMints(t *testing.T) {
	merchant, _ := MerchantAddress(merchantAuth)
	operator, _ := OperatorAddress(operatorAuth)
	args := ConfigArgs{Version: 1, Currencies: []types.Pubkey{constants.USDCMint, constants.USDTMint}}
	ix := InitializeConfig(buyer, merchantAuth, merchant, operator, args)

	fixed := len(instruction.KindInitializeMerchantOperatorConfig.Accounts())
	require.Len(t, ix.Accounts, fixed+2)
	assert.Equal(t, constants.USDCMint, ix.Accounts[fixed].Pubkey)
	assert.Equal(t, constants.USDTMint, ix.Accounts[fixed+1].Pubkey)
	assert.False(t, ix.Accounts[fixed].IsWritable)
	assert.False(t, ix.Accounts[fixed].IsSigner)
}
