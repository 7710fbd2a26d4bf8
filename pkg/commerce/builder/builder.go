// Package builder assembles commerce instructions for clients: it derives the
// program addresses each instruction needs and lays out the account lists in
// the order the program expects.
package builder

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/pda"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/associatedtoken"
)

func find(seeds ...[]byte) (types.Pubkey, uint8) {
	addr, bump, err := pda.FindProgramAddress(seeds, constants.ProgramID, nil)
	if err != nil {
		panic(err)
	}
	return addr, bump
}

// MerchantAddress derives the merchant record of authority.
func MerchantAddress(authority types.Pubkey) (types.Pubkey, uint8) {
	return find([]byte(constants.SeedMerchant), authority[:])
}

// OperatorAddress derives the operator record of authority.
func OperatorAddress(authority types.Pubkey) (types.Pubkey, uint8) {
	return find([]byte(constants.SeedOperator), authority[:])
}

// ConfigAddress derives the config binding merchant and operator.
func ConfigAddress(merchant, operator types.Pubkey, version uint32) (types.Pubkey, uint8) {
	return find([]byte(constants.SeedConfig), merchant[:], operator[:], binary.LittleEndian.AppendUint32(nil, version))
}

// PaymentAddress derives the payment record for an order.
func PaymentAddress(config, buyer, mint types.Pubkey, orderID uint32) (types.Pubkey, uint8) {
	return find([]byte(constants.SeedPayment), config[:], buyer[:], mint[:], binary.LittleEndian.AppendUint32(nil, orderID))
}

// EscrowAddress is the token account holding a config's funds in mint.
func EscrowAddress(config, mint types.Pubkey) types.Pubkey {
	return associatedtoken.MustFindAddress(config, mint)
}

// accounts pairs keys with the roles of kind, positionally.
func accounts(kind instruction.Kind, keys ...types.Pubkey) []svm.AccountMeta {
	specs := kind.Accounts()
	metas := make([]svm.AccountMeta, len(keys))
	for i, key := range keys {
		var writable, signer bool
		if i < len(specs) {
			writable, signer = specs[i].Writable, specs[i].Signer
		}
		metas[i] = svm.Meta(key, writable, signer)
	}
	return metas
}

func build(ix instruction.Instruction, keys ...types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: constants.ProgramID,
		Accounts:  accounts(ix.Kind(), keys...),
		Data:      ix.Encode(),
	}
}

// InitializeMerchant creates the merchant record of authority.
func InitializeMerchant(payer, authority, settlementWallet types.Pubkey) svm.Instruction {
	merchant, bump := MerchantAddress(authority)
	return build(instruction.InitializeMerchant{Bump: bump},
		payer, authority, merchant, settlementWallet, constants.SystemProgramID)
}

// InitializeOperator creates the operator record of authority.
func InitializeOperator(payer, authority types.Pubkey) svm.Instruction {
	operator, bump := OperatorAddress(authority)
	return build(instruction.InitializeOperator{Bump: bump},
		payer, authority, operator, constants.SystemProgramID)
}

func UpdateMerchantSettlementWallet(authority, merchant, wallet types.Pubkey) svm.Instruction {
	return build(instruction.UpdateMerchantSettlementWallet{}, authority, merchant, wallet)
}

func UpdateMerchantAuthority(authority, merchant, newAuthority types.Pubkey) svm.Instruction {
	return build(instruction.UpdateMerchantAuthority{}, authority, merchant, newAuthority)
}

func UpdateOperatorAuthority(authority, operator, newAuthority types.Pubkey) svm.Instruction {
	return build(instruction.UpdateOperatorAuthority{}, authority, operator, newAuthority)
}

// ConfigArgs are the terms of a merchant/operator config.
type ConfigArgs struct {
	Version     uint32
	OperatorFee uint64
	FeeType     state.FeeType
	DaysToClose uint16
	Policies    []state.Policy
	Currencies  []types.Pubkey
}

// InitializeConfig creates the config binding merchant and operator. The
// accepted mints are appended as trailing accounts.
func InitializeConfig(payer, authority, merchant, operator types.Pubkey, args ConfigArgs) svm.Instruction {
	config, bump := ConfigAddress(merchant, operator, args.Version)
	keys := []types.Pubkey{payer, authority, merchant, operator, config, constants.SystemProgramID}
	keys = append(keys, args.Currencies...)
	return build(instruction.InitializeMerchantOperatorConfig{
		Version:     args.Version,
		Bump:        bump,
		OperatorFee: args.OperatorFee,
		FeeType:     args.FeeType,
		DaysToClose: args.DaysToClose,
		Policies:    args.Policies,
		Currencies:  args.Currencies,
	}, keys...)
}

// Parties names the accounts shared by the payment instructions.
type Parties struct {
	OperatorAuthority types.Pubkey
	Operator          types.Pubkey
	Merchant          types.Pubkey
	Config            types.Pubkey
	Buyer             types.Pubkey
	Mint              types.Pubkey
}

// NewParties derives the merchant, operator and config addresses from the
// two authorities.
func NewParties(merchantAuthority, operatorAuthority, buyer, mint types.Pubkey, version uint32) Parties {
	merchant, _ := MerchantAddress(merchantAuthority)
	operator, _ := OperatorAddress(operatorAuthority)
	config, _ := ConfigAddress(merchant, operator, version)
	return Parties{
		OperatorAuthority: operatorAuthority,
		Operator:          operator,
		Merchant:          merchant,
		Config:            config,
		Buyer:             buyer,
		Mint:              mint,
	}
}

// Payment returns the payment record of orderID.
func (p Parties) Payment(orderID uint32) (types.Pubkey, uint8) {
	return PaymentAddress(p.Config, p.Buyer, p.Mint, orderID)
}

// Escrow returns the config's token account for the mint.
func (p Parties) Escrow() types.Pubkey {
	return EscrowAddress(p.Config, p.Mint)
}

// BuyerATA returns the buyer's associated token account for the mint.
func (p Parties) BuyerATA() types.Pubkey {
	return associatedtoken.MustFindAddress(p.Buyer, p.Mint)
}

// MakePayment moves amount from the buyer's associated token account into
// escrow as order orderID.
func MakePayment(payer types.Pubkey, p Parties, orderID uint32, amount uint64) svm.Instruction {
	payment, bump := p.Payment(orderID)
	return build(instruction.MakePayment{OrderID: orderID, Amount: amount, Bump: bump},
		payer, payment, p.OperatorAuthority, p.Buyer, p.Operator, p.Merchant, p.Config, p.Mint,
		p.BuyerATA(), p.Escrow(),
		constants.TokenProgramID, constants.AssociatedTokenProgramID, constants.SystemProgramID,
		constants.EventAuthority, constants.ProgramID)
}

// ClearPayment releases order orderID to the merchant's settlement wallet.
func ClearPayment(payer types.Pubkey, p Parties, settlementWallet types.Pubkey, orderID uint32) svm.Instruction {
	payment, _ := p.Payment(orderID)
	return build(instruction.ClearPayment{},
		payer, payment, p.OperatorAuthority, p.Buyer, p.Merchant, p.Operator, p.Config, p.Mint,
		p.Escrow(), settlementWallet,
		associatedtoken.MustFindAddress(settlementWallet, p.Mint),
		associatedtoken.MustFindAddress(p.OperatorAuthority, p.Mint),
		constants.TokenProgramID, constants.AssociatedTokenProgramID, constants.SystemProgramID,
		constants.EventAuthority, constants.ProgramID)
}

// RefundPayment returns order orderID to the buyer under the refund policy.
func RefundPayment(p Parties, orderID uint32) svm.Instruction {
	return refund(instruction.RefundPayment{}, p, orderID)
}

// ChargebackPayment returns order orderID to the buyer unconditionally.
func ChargebackPayment(p Parties, orderID uint32) svm.Instruction {
	return refund(instruction.ChargebackPayment{}, p, orderID)
}

func refund(ix instruction.Instruction, p Parties, orderID uint32) svm.Instruction {
	payment, _ := p.Payment(orderID)
	return build(ix,
		payment, p.OperatorAuthority, p.Buyer, p.Merchant, p.Operator, p.Config, p.Mint,
		p.Escrow(), p.BuyerATA(),
		constants.TokenProgramID, constants.EventAuthority, constants.ProgramID)
}

// ClosePayment reclaims the rent of a finished payment into rentDestination.
func ClosePayment(p Parties, orderID uint32, rentDestination types.Pubkey) svm.Instruction {
	payment, _ := p.Payment(orderID)
	return build(instruction.ClosePayment{},
		p.OperatorAuthority, payment, p.Buyer, p.Operator, p.Config, p.Mint, rentDestination)
}
