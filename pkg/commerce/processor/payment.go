package processor

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/associatedtoken"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

// paymentSeeds returns the signer seeds of a payment PDA.
func paymentSeeds(config, buyer, mint types.Pubkey, orderID uint32, bump uint8) [][]byte {
	return [][]byte{
		[]byte(constants.SeedPayment),
		config[:],
		buyer[:],
		mint[:],
		binary.LittleEndian.AppendUint32(nil, orderID),
		{bump},
	}
}

// loadPaymentRecord loads the payment at acc and checks that it is the
// record of (config, buyer, mint) it claims to be.
func loadPaymentRecord(ctx svm.InvokeContext, acc, config, buyer, mint *svm.AccountInfo) (state.Payment, error) {
	pay, err := loadPayment(acc)
	if err != nil {
		return state.Payment{}, err
	}
	seeds := paymentSeeds(config.Key, buyer.Key, mint.Key, pay.OrderID(), pay.Bump())
	if err := verifyAddress(ctx, acc.Key, seeds); err != nil {
		return state.Payment{}, err
	}
	return pay, nil
}

func parties(buyer, merchant, operator, mint *svm.AccountInfo) events.Parties {
	return events.Parties{Buyer: buyer.Key, Merchant: merchant.Key, Operator: operator.Key, Mint: mint.Key}
}

// Accounts: payer, payment, operator_authority, buyer, operator, merchant,
// config, mint, buyer_ata, escrow_ata, token_program,
// associated_token_program, system_program, event_authority, commerce_program
func (p *Processor) makePayment(ctx svm.InvokeContext, accs []*svm.AccountInfo, ix instruction.MakePayment) error {
	payer, paymentAcc, authority, buyer := accs[0], accs[1], accs[2], accs[3]
	operatorAcc, merchantAcc, configAcc, mintAcc := accs[4], accs[5], accs[6], accs[7]
	buyerATA, escrowATA, eventAuthority := accs[8], accs[9], accs[13]

	if eventAuthority.Key != constants.EventAuthority {
		return errcode.InvalidEventAuthority
	}
	pc, err := loadPaymentContext(authority, operatorAcc, merchantAcc, configAcc, mintAcc)
	if err != nil {
		return err
	}
	next, err := pc.config.NextOrderID()
	if err != nil {
		return err
	}
	if ix.OrderID != next {
		return errcode.InvalidOrderID
	}
	if ix.Amount == 0 {
		return errcode.AmountBelowMinimum
	}
	settlement, ok, err := pc.config.SettlementPolicy()
	if err != nil {
		return err
	}
	if ok && ix.Amount < settlement.MinSettlementAmount {
		return errcode.AmountBelowMinimum
	}

	seeds := paymentSeeds(configAcc.Key, buyer.Key, mintAcc.Key, ix.OrderID, ix.Bump)
	if err := verifyAddress(ctx, paymentAcc.Key, seeds); err != nil {
		return err
	}
	create, err := prepareRecord(paymentAcc, state.PaymentSize)
	if err != nil {
		return err
	}
	source, err := loadTokenAccount(buyerATA, buyer.Key, mintAcc.Key)
	if err != nil {
		return err
	}
	if source.Amount < ix.Amount {
		return errcode.InsufficientFunds
	}
	if err := verifyATA(ctx, escrowATA.Key, configAcc.Key, mintAcc.Key); err != nil {
		return err
	}

	if create {
		if err := createRecord(ctx, payer, paymentAcc, state.PaymentSize, seeds); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(associatedtoken.CreateIdempotent(payer.Key, configAcc.Key, mintAcc.Key)); err != nil {
		return err
	}
	transfer := token.TransferChecked(buyerATA.Key, mintAcc.Key, escrowATA.Key, buyer.Key, ix.Amount, pc.decimals)
	if err := ctx.Invoke(transfer); err != nil {
		return err
	}

	if _, err := pc.config.IncrementOrderID(); err != nil {
		return err
	}
	pay, err := state.InitPayment(paymentAcc.Data)
	if err != nil {
		return err
	}
	createdAt := ctx.Clock().UnixTimestamp
	pay.Store(state.PaymentData{
		OrderID:   ix.OrderID,
		Amount:    ix.Amount,
		CreatedAt: createdAt,
		Status:    state.StatusPaid,
		Bump:      ix.Bump,
	})

	return emit(ctx, eventAuthority, events.PaymentCreated{
		Parties:   parties(buyer, merchantAcc, operatorAcc, mintAcc),
		Amount:    ix.Amount,
		OrderID:   ix.OrderID,
		CreatedAt: createdAt,
	})
}

// Accounts: payer, payment, operator_authority, buyer, merchant, operator,
// config, mint, escrow_ata, settlement_wallet, settlement_ata,
// operator_fee_ata, token_program, associated_token_program,
// system_program, event_authority, commerce_program
func (p *Processor) clearPayment(ctx svm.InvokeContext, accs []*svm.AccountInfo) error {
	payer, paymentAcc, authority, buyer := accs[0], accs[1], accs[2], accs[3]
	merchantAcc, operatorAcc, configAcc, mintAcc := accs[4], accs[5], accs[6], accs[7]
	escrowATA, settlementWallet, settlementATA, feeATA := accs[8], accs[9], accs[10], accs[11]
	eventAuthority := accs[15]

	if eventAuthority.Key != constants.EventAuthority {
		return errcode.InvalidEventAuthority
	}
	pc, err := loadPaymentContext(authority, operatorAcc, merchantAcc, configAcc, mintAcc)
	if err != nil {
		return err
	}
	if pc.merchant.SettlementWallet() != settlementWallet.Key {
		return errcode.MerchantMismatch
	}
	pay, err := loadPaymentRecord(ctx, paymentAcc, configAcc, buyer, mintAcc)
	if err != nil {
		return err
	}
	if pay.Status() != state.StatusPaid {
		return errcode.InvalidPaymentStatus
	}
	policy, ok, err := pc.config.SettlementPolicy()
	if err != nil {
		return err
	}
	if ok {
		wait := int64(policy.SettlementFrequencyHours) * constants.SecondsPerHour
		if elapsed(ctx, pay) < wait {
			return errcode.SettlementNotReady
		}
	}
	amount := pay.Amount()
	fee, err := state.OperatorFee(pc.config.FeeType(), pc.config.OperatorFee(), amount)
	if err != nil {
		return err
	}
	if fee > amount {
		return errcode.InvalidFee
	}
	escrow, err := loadTokenAccount(escrowATA, configAcc.Key, mintAcc.Key)
	if err != nil {
		return err
	}
	if escrow.Amount < amount {
		return errcode.InsufficientFunds
	}
	if err := verifyATA(ctx, escrowATA.Key, configAcc.Key, mintAcc.Key); err != nil {
		return err
	}
	if err := verifyATA(ctx, settlementATA.Key, settlementWallet.Key, mintAcc.Key); err != nil {
		return err
	}
	if err := verifyATA(ctx, feeATA.Key, authority.Key, mintAcc.Key); err != nil {
		return err
	}

	if err := ctx.Invoke(associatedtoken.CreateIdempotent(payer.Key, settlementWallet.Key, mintAcc.Key)); err != nil {
		return err
	}
	if err := ctx.Invoke(associatedtoken.CreateIdempotent(payer.Key, authority.Key, mintAcc.Key)); err != nil {
		return err
	}
	signer := pc.signer()
	if net := amount - fee; net > 0 {
		ix := token.TransferChecked(escrowATA.Key, mintAcc.Key, settlementATA.Key, configAcc.Key, net, pc.decimals)
		if err := ctx.Invoke(ix, signer); err != nil {
			return err
		}
	}
	if fee > 0 {
		ix := token.TransferChecked(escrowATA.Key, mintAcc.Key, feeATA.Key, configAcc.Key, fee, pc.decimals)
		if err := ctx.Invoke(ix, signer); err != nil {
			return err
		}
	}

	pay.SetStatus(state.StatusCleared)
	return emit(ctx, eventAuthority, events.PaymentCleared{
		Parties:     parties(buyer, merchantAcc, operatorAcc, mintAcc),
		Amount:      amount,
		OperatorFee: fee,
		OrderID:     pay.OrderID(),
	})
}

// Accounts: payment, operator_authority, buyer, merchant, operator, config,
// mint, escrow_ata, buyer_ata, token_program, event_authority,
// commerce_program
//
// A chargeback skips the refund policy.
func (p *Processor) refundPayment(ctx svm.InvokeContext, accs []*svm.AccountInfo, chargeback bool) error {
	paymentAcc, authority, buyer, merchantAcc := accs[0], accs[1], accs[2], accs[3]
	operatorAcc, configAcc, mintAcc := accs[4], accs[5], accs[6]
	escrowATA, buyerATA, eventAuthority := accs[7], accs[8], accs[10]

	if eventAuthority.Key != constants.EventAuthority {
		return errcode.InvalidEventAuthority
	}
	pc, err := loadPaymentContext(authority, operatorAcc, merchantAcc, configAcc, mintAcc)
	if err != nil {
		return err
	}
	pay, err := loadPaymentRecord(ctx, paymentAcc, configAcc, buyer, mintAcc)
	if err != nil {
		return err
	}
	if pay.Status() != state.StatusPaid {
		return errcode.InvalidPaymentStatus
	}
	amount := pay.Amount()
	if !chargeback {
		policy, ok, err := pc.config.RefundPolicy()
		if err != nil {
			return err
		}
		if ok {
			if amount > policy.MaxAmount {
				return errcode.RefundAmountExceeded
			}
			if e := elapsed(ctx, pay); e > 0 && uint64(e) > policy.MaxTimeAfterPurchase {
				return errcode.RefundWindowExpired
			}
		}
	}
	escrow, err := loadTokenAccount(escrowATA, configAcc.Key, mintAcc.Key)
	if err != nil {
		return err
	}
	if escrow.Amount < amount {
		return errcode.InsufficientFunds
	}
	if _, err := loadTokenAccount(buyerATA, buyer.Key, mintAcc.Key); err != nil {
		return err
	}

	ix := token.TransferChecked(escrowATA.Key, mintAcc.Key, buyerATA.Key, configAcc.Key, amount, pc.decimals)
	if err := ctx.Invoke(ix, pc.signer()); err != nil {
		return err
	}

	who := parties(buyer, merchantAcc, operatorAcc, mintAcc)
	if chargeback {
		pay.SetStatus(state.StatusChargedback)
		return emit(ctx, eventAuthority, events.PaymentChargebacked{Parties: who, Amount: amount, OrderID: pay.OrderID()})
	}
	pay.SetStatus(state.StatusRefunded)
	return emit(ctx, eventAuthority, events.PaymentRefunded{Parties: who, Amount: amount, OrderID: pay.OrderID()})
}

// Accounts: operator_authority, payment, buyer, operator, config, mint,
// rent_destination
func (p *Processor) closePayment(ctx svm.InvokeContext, accs []*svm.AccountInfo) error {
	authority, paymentAcc, buyer, operatorAcc := accs[0], accs[1], accs[2], accs[3]
	configAcc, mintAcc, dest := accs[4], accs[5], accs[6]

	if _, err := ownOperator(authority, operatorAcc); err != nil {
		return err
	}
	cfg, err := loadConfig(configAcc)
	if err != nil {
		return err
	}
	if cfg.Operator() != operatorAcc.Key {
		return errcode.OperatorMismatch
	}
	pay, err := loadPaymentRecord(ctx, paymentAcc, configAcc, buyer, mintAcc)
	if err != nil {
		return err
	}
	if !pay.Status().Final() {
		return errcode.InvalidPaymentStatus
	}
	window := int64(cfg.DaysToClose()) * constants.SecondsPerDay
	if pay.CreatedAt() > math.MaxInt64-window {
		return errcode.ArithmeticOverflow
	}
	if ctx.Clock().UnixTimestamp < pay.CreatedAt()+window {
		return errcode.PaymentNotClosable
	}
	if dest.Key == paymentAcc.Key {
		return errcode.InvalidAccountData
	}
	balance, carry := bits.Add64(dest.Lamports, paymentAcc.Lamports, 0)
	if carry != 0 {
		return errcode.ArithmeticOverflow
	}

	dest.Lamports = balance
	paymentAcc.Lamports = 0
	paymentAcc.Data = nil
	paymentAcc.Owner = constants.SystemProgramID
	return nil
}

// elapsed returns the seconds since the payment was made, saturating at the
// int64 bounds.
func elapsed(ctx svm.InvokeContext, pay state.Payment) int64 {
	now, created := ctx.Clock().UnixTimestamp, pay.CreatedAt()
	switch {
	case created > 0 && now < math.MinInt64+created:
		return math.MinInt64
	case created < 0 && now > math.MaxInt64+created:
		return math.MaxInt64
	}
	return now - created
}
