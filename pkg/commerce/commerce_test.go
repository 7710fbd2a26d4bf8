package commerce

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/commerce/builder"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/svmtest"
)

var (
	ownerKey    = types.NewPubkeyFromSeed("merchant-authority")
	walletKey   = types.NewPubkeyFromSeed("wallet")
	strangerKey = types.NewPubkeyFromSeed("stranger")
)

// merchantFrame returns a frame that updates the settlement wallet of a
// merchant owned by ownerKey, signed by signer.
func merchantFrame(t *testing.T, signer types.Pubkey) (*svmtest.Context, []byte, *svm.AccountInfo) {
	t.Helper()
	merchant, bump := builder.MerchantAddress(ownerKey)
	buf := make([]byte, state.MerchantSize)
	m, err := state.InitMerchant(buf)
	require.NoError(t, err)
	m.Store(state.MerchantData{Owner: ownerKey, Bump: bump, SettlementWallet: walletKey})

	acc := svmtest.Account(merchant, constants.ProgramID, svm.RentMinimum(state.MerchantSize), buf, true, false)
	ix := builder.UpdateMerchantSettlementWallet(signer, merchant, strangerKey)
	ctx := svmtest.NewContext(constants.ProgramID,
		svmtest.Account(signer, types.SystemProgramAddr, 0, nil, false, true),
		acc,
		svmtest.Account(strangerKey, types.SystemProgramAddr, 0, nil, false, false),
	)
	return ctx, ix.Data, acc
}

func TestEntrypoint(t *testing.T) {
	ctx, data, acc := merchantFrame(t, ownerKey)
	require.Equal(t, Success, Entrypoint(ctx, data))

	m, err := state.LoadMerchant(acc.Data)
	require.NoError(t, err)
	assert.Equal(t, strangerKey, m.SettlementWallet())
	assert.Contains(t, ctx.Logs, "Instruction: UpdateMerchantSettlementWallet")
}

func TestEntrypointReturnsCode(t *testing.T) {
	ctx, data, acc := merchantFrame(t, strangerKey)
	before := append([]byte(nil), acc.Data...)

	assert.Equal(t, uint64(errcode.UnauthorizedAuthority), Entrypoint(ctx, data))
	assert.Equal(t, before, acc.Data)
	assert.Contains(t, ctx.Logs, "Error: UnauthorizedAuthority: Signer is not the recorded authority")

	assert.Equal(t, uint64(errcode.UnknownInstruction), Entrypoint(ctx, []byte{99}))
	assert.Equal(t, uint64(errcode.InvalidInstructionData), Entrypoint(ctx, nil))
}

func TestEntrypointWrongProgram(t *testing.T) {
	ctx, data, _ := merchantFrame(t, ownerKey)
	ctx.Program = strangerKey
	assert.Equal(t, uint64(errcode.IncorrectProgramID), Entrypoint(ctx, data))
	assert.Empty(t, ctx.Logs)
}

func TestProgramProcess(t *testing.T) {
	ctx, data, _ := merchantFrame(t, strangerKey)
	err := NewProgram().Process(ctx, data)

	var ie *svm.InstructionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, uint32(errcode.UnauthorizedAuthority), ie.Code)
	assert.Equal(t, "UnauthorizedAuthority", ie.Name)
	assert.Equal(t, errcode.UnauthorizedAuthority, errcode.From(err))

	ctx, data, _ = merchantFrame(t, ownerKey)
	assert.NoError(t, NewProgram().Process(ctx, data))
}

func TestRegister(t *testing.T) {
	db := accounts.NewMemoryDB()
	rt, err := runtime.NewWithBuiltins(db, runtime.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, Register(rt))
	assert.ErrorIs(t, Register(rt), runtime.ErrProgramAlreadyRegistered)

	payer := types.NewPubkeyFromSeed("payer")
	require.NoError(t, db.SetAccount(payer, &accounts.Account{Lamports: 1_000_000_000, Owner: types.SystemProgramAddr}))

	ix := builder.InitializeMerchant(payer, ownerKey, walletKey)
	res, err := rt.Execute(context.Background(), runtime.NewTransaction(payer, ix))
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	res, err = rt.Execute(context.Background(), runtime.NewTransaction(payer, ix))
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, errcode.AccountAlreadyInitialized, errcode.From(res.Err))
	assert.Contains(t, res.Logs, "Program log: Error: AccountAlreadyInitialized: Account is already initialized")
}

func TestGenerateIDL(t *testing.T) {
	idl := GenerateIDL()

	assert.Equal(t, ProgramID.String(), idl.Address)
	assert.Equal(t, ProgramName, idl.Metadata.Name)
	require.Len(t, idl.Instructions, 12)
	assert.Equal(t, "initialize_merchant", idl.Instructions[0].Name)
	assert.Equal(t, []int{0}, idl.Instructions[0].Discriminator)
	assert.Equal(t, "make_payment", idl.Instructions[6].Name)
	assert.Equal(t, "emit_event", idl.Instructions[11].Name)
	assert.Equal(t, []int{228}, idl.Instructions[11].Discriminator)

	pay := idl.Instructions[6]
	require.Len(t, pay.Accounts, 15)
	assert.Equal(t, IDLAccount{Name: "payer", Writable: true, Signer: true, Docs: []string{"Funds account creation"}}, pay.Accounts[0])
	assert.Equal(t, constants.TokenProgramID.String(), pay.Accounts[10].Address)
	names := make([]string, len(pay.Args))
	for i, a := range pay.Args {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"order_id", "amount", "bump"}, names)

	require.Len(t, idl.Accounts, 4)
	assert.Equal(t, IDLNamed{Name: "MerchantOperatorConfig", Discriminator: []int{3}}, idl.Accounts[2])
	require.Len(t, idl.Events, 4)
	assert.Equal(t, "PaymentCreated", idl.Events[0].Name)
	require.Len(t, idl.Errors, len(errcode.All()))
	assert.Equal(t, IDLError{Code: 1, Name: "Unreachable", Msg: "Internal invariant violated"}, idl.Errors[0])
}

func TestIDLJSON(t *testing.T) {
	out, err := GenerateIDL().JSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, ProgramID.String(), doc["address"])

	ixs := doc["instructions"].([]any)
	config := ixs[5].(map[string]any)
	assert.Equal(t, "initialize_merchant_operator_config", config["name"])
	assert.Equal(t, []any{float64(5)}, config["discriminator"])

	var policies map[string]any
	for _, arg := range config["args"].([]any) {
		a := arg.(map[string]any)
		if a["name"] == "policies" {
			policies = a
		}
	}
	require.NotNil(t, policies)
	assert.Equal(t, map[string]any{
		"array": []any{
			map[string]any{"defined": map[string]any{"name": "PolicyData"}},
			map[string]any{"field": "num_policies"},
		},
	}, policies["type"])
}
