package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/commerce/builder"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/associatedtoken"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/system"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

const (
	sol       = uint64(1_000_000_000)
	startTime = int64(1_700_000_000)
	minted    = uint64(100_000_000)
)

var (
	payerKey      = types.NewPubkeyFromSeed("payer")
	merchantOwner = types.NewPubkeyFromSeed("merchant-authority")
	operatorOwner = types.NewPubkeyFromSeed("operator-authority")
	buyerKey      = types.NewPubkeyFromSeed("buyer")
	walletKey     = types.NewPubkeyFromSeed("settlement-wallet")
	mintAuthority = types.NewPubkeyFromSeed("mint-authority")
	strangerKey   = types.NewPubkeyFromSeed("stranger")
)

var defaultTerms = builder.ConfigArgs{
	Version:     1,
	OperatorFee: 250,
	FeeType:     state.FeeTypeBps,
	DaysToClose: 7,
	Policies: []state.Policy{
		{Kind: state.PolicyRefund, Refund: state.RefundPolicy{MaxAmount: 5_000_000, MaxTimeAfterPurchase: 86_400}},
		{Kind: state.PolicySettlement, Settlement: state.SettlementPolicy{MinSettlementAmount: 1_000, SettlementFrequencyHours: 24}},
	},
	Currencies: []types.Pubkey{constants.USDCMint},
}

type fixture struct {
	t       *testing.T
	rt      *runtime.Runtime
	db      accounts.DB
	parties builder.Parties
}

// newFixture creates a runtime with the commerce program registered, a
// six-decimal USDC mint and a funded buyer token account.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := accounts.NewMemoryDB()
	rt, err := runtime.NewWithBuiltins(db, runtime.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, rt.Register(constants.ProgramID, NewProcessor()))
	require.NoError(t, db.SetAccount(payerKey, &accounts.Account{Lamports: 100 * sol, Owner: types.SystemProgramAddr}))
	rt.SetClock(svm.Clock{Slot: 1, UnixTimestamp: startTime})

	f := &fixture{
		t:       t,
		rt:      rt,
		db:      db,
		parties: builder.NewParties(merchantOwner, operatorOwner, buyerKey, constants.USDCMint, defaultTerms.Version),
	}
	mint := constants.USDCMint
	f.mustExec(
		system.CreateAccount(payerKey, mint, svm.RentMinimum(token.MintSize), token.MintSize, token.ProgramID),
		token.InitializeMint2(mint, 6, mintAuthority, nil),
		associatedtoken.Create(payerKey, buyerKey, mint),
		token.MintTo(mint, f.parties.BuyerATA(), mintAuthority, minted),
	)
	return f
}

// newMarket is a fixture with merchant, operator and config in place.
func newMarket(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.mustExec(
		builder.InitializeMerchant(payerKey, merchantOwner, walletKey),
		builder.InitializeOperator(payerKey, operatorOwner),
		builder.InitializeConfig(payerKey, merchantOwner, f.parties.Merchant, f.parties.Operator, defaultTerms),
	)
	return f
}

func (f *fixture) exec(ixs ...svm.Instruction) *runtime.Result {
	f.t.Helper()
	res, err := f.rt.Execute(context.Background(), runtime.NewTransaction(payerKey, ixs...))
	require.NoError(f.t, err)
	return res
}

func (f *fixture) mustExec(ixs ...svm.Instruction) *runtime.Result {
	f.t.Helper()
	res := f.exec(ixs...)
	require.True(f.t, res.Success, "%v\n%v", res.Err, res.Logs)
	return res
}

// fail executes ixs and asserts the transaction failed with want.
func (f *fixture) fail(want errcode.Code, ixs ...svm.Instruction) *runtime.Result {
	f.t.Helper()
	res := f.exec(ixs...)
	require.False(f.t, res.Success, "expected %s", want.Name())
	assert.Equal(f.t, want, errcode.From(res.Err), "%v", res.Err)
	return res
}

func (f *fixture) account(key types.Pubkey) *accounts.Account {
	f.t.Helper()
	acc, err := f.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil
	}
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) balance(ata types.Pubkey) uint64 {
	f.t.Helper()
	acc := f.account(ata)
	if acc == nil {
		return 0
	}
	ta, err := token.UnpackAccount(acc.Data)
	require.NoError(f.t, err)
	return ta.Amount
}

func (f *fixture) config() state.ConfigData {
	f.t.Helper()
	acc := f.account(f.parties.Config)
	require.NotNil(f.t, acc)
	cfg, err := state.LoadConfig(acc.Data)
	require.NoError(f.t, err)
	data, err := cfg.Data()
	require.NoError(f.t, err)
	return data
}

func (f *fixture) payment(orderID uint32) state.PaymentData {
	f.t.Helper()
	key, _ := f.parties.Payment(orderID)
	acc := f.account(key)
	require.NotNil(f.t, acc, "payment %d", orderID)
	assert.Equal(f.t, constants.ProgramID, acc.Owner)
	pay, err := state.LoadPayment(acc.Data)
	require.NoError(f.t, err)
	return pay.Data()
}

func (f *fixture) stateHash() types.Hash {
	f.t.Helper()
	h, err := accounts.ComputeStateHash(f.db)
	require.NoError(f.t, err)
	return h
}

// emitted decodes the events a transaction emitted through self-invocation.
func emitted(t *testing.T, res *runtime.Result) []events.Event {
	t.Helper()
	var out []events.Event
	for _, inner := range res.InnerInstructions {
		ix := inner.Instruction
		if ix.ProgramID != constants.ProgramID || !events.IsPayload(ix.Data) {
			continue
		}
		require.Len(t, ix.Accounts, 1)
		assert.Equal(t, constants.EventAuthority, ix.Accounts[0].Pubkey)
		assert.True(t, ix.Accounts[0].IsSigner)
		e, err := events.Decode(ix.Data)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func withoutSigner(ix svm.Instruction, key types.Pubkey) svm.Instruction {
	ix.Accounts = append([]svm.AccountMeta(nil), ix.Accounts...)
	for i := range ix.Accounts {
		if ix.Accounts[i].Pubkey == key {
			ix.Accounts[i].IsSigner = false
		}
	}
	return ix
}

func TestInitializeMerchant(t *testing.T) {
	f := newFixture(t)
	f.mustExec(builder.InitializeMerchant(payerKey, merchantOwner, walletKey))

	merchant, bump := builder.MerchantAddress(merchantOwner)
	acc := f.account(merchant)
	require.NotNil(t, acc)
	assert.Equal(t, constants.ProgramID, acc.Owner)
	assert.Equal(t, svm.RentMinimum(state.MerchantSize), acc.Lamports)
	m, err := state.LoadMerchant(acc.Data)
	require.NoError(t, err)
	assert.Equal(t, merchantOwner, m.Owner())
	assert.Equal(t, bump, m.Bump())
	assert.Equal(t, walletKey, m.SettlementWallet())

	before := f.stateHash()
	f.fail(errcode.AccountAlreadyInitialized, builder.InitializeMerchant(payerKey, merchantOwner, strangerKey))
	assert.Equal(t, before, f.stateHash())
}

func TestInitializeMerchantClaimsPrefundedAddress(t *testing.T) {
	f := newFixture(t)
	merchant, _ := builder.MerchantAddress(merchantOwner)
	require.NoError(t, f.db.SetAccount(merchant, &accounts.Account{Lamports: 1_000, Owner: types.SystemProgramAddr}))

	f.mustExec(builder.InitializeMerchant(payerKey, merchantOwner, walletKey))
	acc := f.account(merchant)
	assert.Equal(t, svm.RentMinimum(state.MerchantSize), acc.Lamports)
	assert.Len(t, acc.Data, state.MerchantSize)
}

func TestInitializeMerchantZeroedRecord(t *testing.T) {
	f := newFixture(t)
	merchant, _ := builder.MerchantAddress(merchantOwner)
	rent := svm.RentMinimum(state.MerchantSize)
	require.NoError(t, f.db.SetAccount(merchant, &accounts.Account{
		Lamports: rent,
		Owner:    constants.ProgramID,
		Data:     make([]byte, state.MerchantSize),
	}))

	res := f.mustExec(builder.InitializeMerchant(payerKey, merchantOwner, walletKey))
	assert.Empty(t, res.InnerInstructions)
	m, err := state.LoadMerchant(f.account(merchant).Data)
	require.NoError(t, err)
	assert.Equal(t, merchantOwner, m.Owner())
}

func TestUpdateUninitializedMerchant(t *testing.T) {
	f := newFixture(t)
	merchant, _ := builder.MerchantAddress(merchantOwner)
	require.NoError(t, f.db.SetAccount(merchant, &accounts.Account{
		Lamports: svm.RentMinimum(state.MerchantSize),
		Owner:    constants.ProgramID,
		Data:     make([]byte, state.MerchantSize),
	}))

	f.fail(errcode.UninitializedAccount, builder.UpdateMerchantSettlementWallet(merchantOwner, merchant, strangerKey))
	f.fail(errcode.UninitializedAccount, builder.UpdateMerchantAuthority(merchantOwner, merchant, strangerKey))
}

func TestInitializeMerchantRejects(t *testing.T) {
	f := newFixture(t)
	merchant, _ := builder.MerchantAddress(merchantOwner)

	ix := builder.InitializeMerchant(payerKey, merchantOwner, walletKey)
	f.fail(errcode.MissingRequiredSignature, withoutSigner(ix, merchantOwner))

	bad := builder.InitializeMerchant(payerKey, merchantOwner, walletKey)
	bad.Data = append([]byte(nil), bad.Data...)
	bad.Data[1]++
	f.fail(errcode.InvalidSeeds, bad)

	short := builder.InitializeMerchant(payerKey, merchantOwner, walletKey)
	short.Accounts = short.Accounts[:3]
	f.fail(errcode.NotEnoughAccountKeys, short)

	wrongSystem := builder.InitializeMerchant(payerKey, merchantOwner, walletKey)
	wrongSystem.Accounts = append([]svm.AccountMeta(nil), wrongSystem.Accounts...)
	wrongSystem.Accounts[4].Pubkey = strangerKey
	f.fail(errcode.IncorrectProgramID, wrongSystem)

	assert.Nil(t, f.account(merchant))
}

func TestMalformedInstructionChangesNothing(t *testing.T) {
	f := newMarket(t)
	before := f.stateHash()

	ix := builder.InitializeMerchant(payerKey, strangerKey, walletKey)
	ix.Data = append(append([]byte(nil), ix.Data...), 0)
	f.fail(errcode.InvalidInstructionData, ix)

	f.fail(errcode.UnknownInstruction, svm.Instruction{ProgramID: constants.ProgramID, Data: []byte{42}})
	f.fail(errcode.InvalidInstructionData, svm.Instruction{ProgramID: constants.ProgramID})
	assert.Equal(t, before, f.stateHash())
}

func TestUpdateMerchant(t *testing.T) {
	f := newMarket(t)
	merchant := f.parties.Merchant
	newWallet := types.NewPubkeyFromSeed("new-wallet")

	f.fail(errcode.UnauthorizedAuthority, builder.UpdateMerchantSettlementWallet(strangerKey, merchant, newWallet))
	f.mustExec(builder.UpdateMerchantSettlementWallet(merchantOwner, merchant, newWallet))

	m, err := state.LoadMerchant(f.account(merchant).Data)
	require.NoError(t, err)
	assert.Equal(t, newWallet, m.SettlementWallet())

	f.mustExec(builder.UpdateMerchantAuthority(merchantOwner, merchant, strangerKey))
	f.fail(errcode.UnauthorizedAuthority, builder.UpdateMerchantAuthority(merchantOwner, merchant, merchantOwner))
	f.mustExec(builder.UpdateMerchantAuthority(strangerKey, merchant, merchantOwner))

	m, err = state.LoadMerchant(f.account(merchant).Data)
	require.NoError(t, err)
	assert.Equal(t, merchantOwner, m.Owner())
}

func TestUpdateOperatorAuthority(t *testing.T) {
	f := newMarket(t)
	operator := f.parties.Operator

	f.fail(errcode.MissingRequiredSignature,
		withoutSigner(builder.UpdateOperatorAuthority(operatorOwner, operator, strangerKey), operatorOwner))
	f.fail(errcode.UnauthorizedAuthority, builder.UpdateOperatorAuthority(strangerKey, operator, strangerKey))
	f.mustExec(builder.UpdateOperatorAuthority(operatorOwner, operator, strangerKey))

	o, err := state.LoadOperator(f.account(operator).Data)
	require.NoError(t, err)
	assert.Equal(t, strangerKey, o.Owner())

	// The old authority can no longer act for the operator.
	f.fail(errcode.UnauthorizedAuthority, builder.UpdateOperatorAuthority(operatorOwner, operator, operatorOwner))
}

func TestInitializeConfig(t *testing.T) {
	f := newMarket(t)
	cfg := f.config()

	_, bump := builder.ConfigAddress(f.parties.Merchant, f.parties.Operator, 1)
	assert.Equal(t, uint32(1), cfg.Version)
	assert.Equal(t, bump, cfg.Bump)
	assert.Equal(t, f.parties.Merchant, cfg.Merchant)
	assert.Equal(t, f.parties.Operator, cfg.Operator)
	assert.Equal(t, uint64(250), cfg.OperatorFee)
	assert.Equal(t, state.FeeTypeBps, cfg.FeeType)
	assert.Equal(t, uint32(0), cfg.CurrentOrderID)
	assert.Equal(t, uint16(7), cfg.DaysToClose)
	assert.Equal(t, defaultTerms.Policies, cfg.Policies)
	assert.Equal(t, defaultTerms.Currencies, cfg.Currencies)

	acc := f.account(f.parties.Config)
	assert.Len(t, acc.Data, state.ConfigSize(2, 1))

	f.fail(errcode.AccountAlreadyInitialized,
		builder.InitializeConfig(payerKey, merchantOwner, f.parties.Merchant, f.parties.Operator, defaultTerms))
}

func TestInitializeConfigRejects(t *testing.T) {
	f := newFixture(t)
	f.mustExec(
		builder.InitializeMerchant(payerKey, merchantOwner, walletKey),
		builder.InitializeOperator(payerKey, operatorOwner),
	)
	merchant, operator := f.parties.Merchant, f.parties.Operator
	with := func(mod func(*builder.ConfigArgs)) svm.Instruction {
		args := defaultTerms
		args.Policies = append([]state.Policy(nil), defaultTerms.Policies...)
		args.Currencies = append([]types.Pubkey(nil), defaultTerms.Currencies...)
		mod(&args)
		return builder.InitializeConfig(payerKey, merchantOwner, merchant, operator, args)
	}

	f.fail(errcode.UnauthorizedAuthority,
		builder.InitializeConfig(payerKey, strangerKey, merchant, operator, defaultTerms))
	f.fail(errcode.InvalidFee, with(func(a *builder.ConfigArgs) { a.OperatorFee = constants.MaxBps + 1 }))
	f.fail(errcode.InvalidPolicy, with(func(a *builder.ConfigArgs) {
		a.Policies = []state.Policy{defaultTerms.Policies[0], defaultTerms.Policies[0]}
	}))
	f.fail(errcode.UnsupportedCurrency, with(func(a *builder.ConfigArgs) {
		a.Currencies = []types.Pubkey{constants.USDCMint, constants.USDCMint}
	}))

	// USDT has no mint account in this fixture.
	f.fail(errcode.InvalidMint, with(func(a *builder.ConfigArgs) { a.Currencies = []types.Pubkey{constants.USDTMint} }))

	missing := with(func(*builder.ConfigArgs) {})
	missing.Accounts = missing.Accounts[:len(missing.Accounts)-1]
	f.fail(errcode.NotEnoughAccountKeys, missing)

	assert.Nil(t, f.account(f.parties.Config))

	// Fixed fees and an empty policy list are accepted.
	f.mustExec(with(func(a *builder.ConfigArgs) {
		a.FeeType = state.FeeTypeFixed
		a.OperatorFee = 50_000
		a.Policies = nil
	}))
}

func TestMakePayment(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	const amount = uint64(1_000_000)

	res := f.mustExec(builder.MakePayment(payerKey, p, 1, amount))

	assert.Equal(t, minted-amount, f.balance(p.BuyerATA()))
	assert.Equal(t, amount, f.balance(p.Escrow()))
	assert.Equal(t, uint32(1), f.config().CurrentOrderID)

	_, bump := p.Payment(1)
	assert.Equal(t, state.PaymentData{
		OrderID:   1,
		Amount:    amount,
		CreatedAt: startTime,
		Status:    state.StatusPaid,
		Bump:      bump,
	}, f.payment(1))

	escrow, err := token.UnpackAccount(f.account(p.Escrow()).Data)
	require.NoError(t, err)
	assert.Equal(t, p.Config, escrow.Owner)

	got := emitted(t, res)
	require.Len(t, got, 1)
	assert.Equal(t, events.PaymentCreated{
		Parties:   events.Parties{Buyer: buyerKey, Merchant: p.Merchant, Operator: p.Operator, Mint: p.Mint},
		Amount:    amount,
		OrderID:   1,
		CreatedAt: startTime,
	}, got[0])
	assert.Contains(t, res.Logs, "Program log: Instruction: MakePayment")

	// The escrow already exists for the second order.
	f.mustExec(builder.MakePayment(payerKey, p, 2, amount))
	assert.Equal(t, 2*amount, f.balance(p.Escrow()))
	assert.Equal(t, uint32(2), f.config().CurrentOrderID)
}

func TestMakePaymentRejects(t *testing.T) {
	f := newMarket(t)
	p := f.parties

	f.fail(errcode.InvalidOrderID, builder.MakePayment(payerKey, p, 2, 1_000_000))
	f.fail(errcode.AmountBelowMinimum, builder.MakePayment(payerKey, p, 1, 0))
	f.fail(errcode.AmountBelowMinimum, builder.MakePayment(payerKey, p, 1, 999))
	f.fail(errcode.MissingRequiredSignature,
		withoutSigner(builder.MakePayment(payerKey, p, 1, 1_000_000), buyerKey))

	stranger := p
	stranger.OperatorAuthority = strangerKey
	f.fail(errcode.UnauthorizedAuthority, builder.MakePayment(payerKey, stranger, 1, 1_000_000))

	badEvents := builder.MakePayment(payerKey, p, 1, 1_000_000)
	badEvents.Accounts = append([]svm.AccountMeta(nil), badEvents.Accounts...)
	badEvents.Accounts[13].Pubkey = strangerKey
	f.fail(errcode.InvalidEventAuthority, badEvents)

	assert.Equal(t, uint32(0), f.config().CurrentOrderID)
	assert.Equal(t, minted, f.balance(p.BuyerATA()))
}

func TestMakePaymentInsufficientFundsLeavesBalances(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	f.mustExec(builder.MakePayment(payerKey, p, 1, 1_000_000))

	buyerBefore := f.account(p.BuyerATA()).Data
	escrowBefore := f.account(p.Escrow()).Data
	before := f.stateHash()

	f.fail(errcode.InsufficientFunds, builder.MakePayment(payerKey, p, 2, minted))

	assert.Equal(t, buyerBefore, f.account(p.BuyerATA()).Data)
	assert.Equal(t, escrowBefore, f.account(p.Escrow()).Data)
	assert.Equal(t, before, f.stateHash())
	payment, _ := p.Payment(2)
	assert.Nil(t, f.account(payment))
}

func TestMakePaymentFrozenBuyerAccount(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	acc := f.account(p.BuyerATA())
	ta, err := token.UnpackAccount(acc.Data)
	require.NoError(t, err)
	ta.State = token.AccountStateFrozen
	ta.Pack(acc.Data)
	require.NoError(t, f.db.SetAccount(p.BuyerATA(), acc))
	before := f.stateHash()

	res := f.fail(errcode.InvalidTokenAccount, builder.MakePayment(payerKey, p, 1, 1_000_000))
	assert.Empty(t, res.InnerInstructions)
	assert.Equal(t, before, f.stateHash())
	assert.Equal(t, uint32(0), f.config().CurrentOrderID)
}

func TestMakePaymentUnsupportedCurrency(t *testing.T) {
	f := newMarket(t)
	other := types.NewPubkeyFromSeed("other-mint")
	f.mustExec(
		system.CreateAccount(payerKey, other, svm.RentMinimum(token.MintSize), token.MintSize, token.ProgramID),
		token.InitializeMint2(other, 6, mintAuthority, nil),
	)
	p := f.parties
	p.Mint = other
	f.fail(errcode.UnsupportedCurrency, builder.MakePayment(payerKey, p, 1, 1_000_000))
}

func TestClearPayment(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	const amount = uint64(1_000_000)
	f.mustExec(builder.MakePayment(payerKey, p, 1, amount))

	f.fail(errcode.SettlementNotReady, builder.ClearPayment(payerKey, p, walletKey, 1))
	f.fail(errcode.MerchantMismatch, builder.ClearPayment(payerKey, p, strangerKey, 1))

	f.rt.Advance(100, 24*constants.SecondsPerHour)
	res := f.mustExec(builder.ClearPayment(payerKey, p, walletKey, 1))

	fee := uint64(25_000)
	assert.Equal(t, amount-fee, f.balance(associatedtoken.MustFindAddress(walletKey, p.Mint)))
	assert.Equal(t, fee, f.balance(associatedtoken.MustFindAddress(operatorOwner, p.Mint)))
	assert.Zero(t, f.balance(p.Escrow()))
	assert.Equal(t, state.StatusCleared, f.payment(1).Status)

	got := emitted(t, res)
	require.Len(t, got, 1)
	assert.Equal(t, events.PaymentCleared{
		Parties:     events.Parties{Buyer: buyerKey, Merchant: p.Merchant, Operator: p.Operator, Mint: p.Mint},
		Amount:      amount,
		OperatorFee: fee,
		OrderID:     1,
	}, got[0])

	f.fail(errcode.InvalidPaymentStatus, builder.ClearPayment(payerKey, p, walletKey, 1))
	f.fail(errcode.InvalidPaymentStatus, builder.RefundPayment(p, 1))
}

func TestClearPaymentLargeAmount(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	const amount = uint64(1) << 60
	f.mustExec(token.MintTo(p.Mint, p.BuyerATA(), mintAuthority, amount))
	f.mustExec(builder.MakePayment(payerKey, p, 1, amount))

	// amount*fee exceeds 64 bits; the fee itself does not.
	f.rt.Advance(100, 24*constants.SecondsPerHour)
	f.mustExec(builder.ClearPayment(payerKey, p, walletKey, 1))

	fee := amount/constants.MaxBps*250 + amount%constants.MaxBps*250/constants.MaxBps
	assert.Equal(t, fee, f.balance(associatedtoken.MustFindAddress(operatorOwner, p.Mint)))
	assert.Equal(t, amount-fee, f.balance(associatedtoken.MustFindAddress(walletKey, p.Mint)))
	assert.Zero(t, f.balance(p.Escrow()))
}

func TestClearPaymentFixedFee(t *testing.T) {
	f := newFixture(t)
	terms := defaultTerms
	terms.FeeType = state.FeeTypeFixed
	terms.OperatorFee = 10_000
	terms.Policies = nil
	f.mustExec(
		builder.InitializeMerchant(payerKey, merchantOwner, walletKey),
		builder.InitializeOperator(payerKey, operatorOwner),
		builder.InitializeConfig(payerKey, merchantOwner, f.parties.Merchant, f.parties.Operator, terms),
	)
	p := f.parties
	f.mustExec(builder.MakePayment(payerKey, p, 1, 50_000))
	// No settlement policy means no waiting period.
	f.mustExec(builder.ClearPayment(payerKey, p, walletKey, 1))

	assert.Equal(t, uint64(40_000), f.balance(associatedtoken.MustFindAddress(walletKey, p.Mint)))
	assert.Equal(t, uint64(10_000), f.balance(associatedtoken.MustFindAddress(operatorOwner, p.Mint)))

	f.mustExec(builder.MakePayment(payerKey, p, 2, 5_000))
	f.fail(errcode.InvalidFee, builder.ClearPayment(payerKey, p, walletKey, 2))
}

func TestRefundPayment(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	const amount = uint64(2_000_000)
	f.mustExec(builder.MakePayment(payerKey, p, 1, amount))

	f.fail(errcode.UnauthorizedAuthority, builder.RefundPayment(builder.Parties{
		OperatorAuthority: strangerKey, Operator: p.Operator, Merchant: p.Merchant,
		Config: p.Config, Buyer: p.Buyer, Mint: p.Mint,
	}, 1))

	f.rt.Advance(10, 3_600)
	res := f.mustExec(builder.RefundPayment(p, 1))

	assert.Equal(t, minted, f.balance(p.BuyerATA()))
	assert.Zero(t, f.balance(p.Escrow()))
	assert.Equal(t, state.StatusRefunded, f.payment(1).Status)

	got := emitted(t, res)
	require.Len(t, got, 1)
	assert.Equal(t, events.PaymentRefunded{
		Parties: events.Parties{Buyer: buyerKey, Merchant: p.Merchant, Operator: p.Operator, Mint: p.Mint},
		Amount:  amount,
		OrderID: 1,
	}, got[0])

	f.fail(errcode.InvalidPaymentStatus, builder.RefundPayment(p, 1))
	f.fail(errcode.InvalidPaymentStatus, builder.ChargebackPayment(p, 1))
}

func TestRefundPolicyLimits(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	f.mustExec(
		builder.MakePayment(payerKey, p, 1, 6_000_000),
		builder.MakePayment(payerKey, p, 2, 1_000_000),
	)

	f.fail(errcode.RefundAmountExceeded, builder.RefundPayment(p, 1))

	f.rt.Advance(1_000, 86_401)
	f.fail(errcode.RefundWindowExpired, builder.RefundPayment(p, 2))

	// Chargebacks ignore the refund policy.
	res := f.mustExec(builder.ChargebackPayment(p, 1), builder.ChargebackPayment(p, 2))
	assert.Equal(t, state.StatusChargedback, f.payment(1).Status)
	assert.Equal(t, state.StatusChargedback, f.payment(2).Status)
	assert.Equal(t, minted, f.balance(p.BuyerATA()))

	got := emitted(t, res)
	require.Len(t, got, 2)
	for i, e := range got {
		cb, ok := e.(events.PaymentChargebacked)
		require.True(t, ok, "%T", e)
		assert.Equal(t, uint32(i+1), cb.OrderID)
	}
}

func TestClosePayment(t *testing.T) {
	f := newMarket(t)
	p := f.parties
	f.mustExec(builder.MakePayment(payerKey, p, 1, 1_000_000))
	payment, _ := p.Payment(1)
	rentDest := types.NewPubkeyFromSeed("rent-destination")
	rent := f.account(payment).Lamports

	f.fail(errcode.InvalidPaymentStatus, builder.ClosePayment(p, 1, rentDest))

	f.mustExec(builder.RefundPayment(p, 1))
	f.fail(errcode.PaymentNotClosable, builder.ClosePayment(p, 1, rentDest))
	f.fail(errcode.InvalidAccountData, func() svm.Instruction {
		f.rt.Advance(0, 7*constants.SecondsPerDay)
		return builder.ClosePayment(p, 1, payment)
	}())

	stranger := p
	stranger.OperatorAuthority = strangerKey
	f.fail(errcode.UnauthorizedAuthority, builder.ClosePayment(stranger, 1, rentDest))

	f.mustExec(builder.ClosePayment(p, 1, rentDest))
	assert.Nil(t, f.account(payment))
	assert.Equal(t, rent, f.account(rentDest).Lamports)

	// The order id is never reused.
	f.fail(errcode.InvalidOrderID, builder.MakePayment(payerKey, p, 1, 1_000_000))
	assert.Equal(t, uint32(1), f.config().CurrentOrderID)
}

func TestEmitEventRequiresAuthority(t *testing.T) {
	f := newMarket(t)
	payload := events.Payload(events.PaymentRefunded{Amount: 1})

	f.fail(errcode.MissingRequiredSignature, svm.Instruction{
		ProgramID: constants.ProgramID,
		Accounts:  []svm.AccountMeta{svm.Meta(constants.EventAuthority, false, false)},
		Data:      payload,
	})
	f.fail(errcode.InvalidEventAuthority, svm.Instruction{
		ProgramID: constants.ProgramID,
		Accounts:  []svm.AccountMeta{svm.Meta(strangerKey, false, true)},
		Data:      payload,
	})
}

func TestReplayIsDeterministic(t *testing.T) {
	run := func() types.Hash {
		f := newMarket(t)
		p := f.parties
		f.mustExec(builder.MakePayment(payerKey, p, 1, 1_000_000))
		f.mustExec(builder.MakePayment(payerKey, p, 2, 2_000_000))
		f.rt.Advance(50, 24*constants.SecondsPerHour)
		f.mustExec(builder.ClearPayment(payerKey, p, walletKey, 1))
		f.mustExec(builder.ChargebackPayment(p, 2))
		f.rt.Advance(50, 7*constants.SecondsPerDay)
		f.mustExec(builder.ClosePayment(p, 1, payerKey))
		return f.stateHash()
	}
	assert.Equal(t, run(), run())
}
