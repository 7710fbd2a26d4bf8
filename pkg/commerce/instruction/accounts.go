package instruction

import (
	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
)

// AccountSpec is the role an instruction expects at one account position.
// A non-zero Address pins the position to a fixed program.
type AccountSpec struct {
	Name     string
	Writable bool
	Signer   bool
	Address  types.Pubkey
	Docs     string
}

// Arg describes one argument field. Len names an earlier count field when
// the argument is an array.
type Arg struct {
	Name string
	Type string
	Len  string
}

func acct(name string, writable, signer bool, docs string) AccountSpec {
	return AccountSpec{Name: name, Writable: writable, Signer: signer, Docs: docs}
}

func program(name string, id types.Pubkey) AccountSpec {
	return AccountSpec{Name: name, Address: id}
}

var (
	payer           = acct("payer", true, true, "Funds account creation")
	systemProgram   = program("system_program", constants.SystemProgramID)
	tokenProgram    = program("token_program", constants.TokenProgramID)
	ataProgram      = program("associated_token_program", constants.AssociatedTokenProgramID)
	commerceProgram = program("commerce_program", constants.ProgramID)
	eventAuthority  = AccountSpec{Name: "event_authority", Docs: "PDA([\"event_authority\"]) that signs event emission"}
	operatorSigner  = acct("operator_authority", false, true, "Owner of the operator record")
)

var accountSpecs = map[Kind][]AccountSpec{
	KindInitializeMerchant: {
		payer,
		acct("authority", false, true, "Merchant owner"),
		acct("merchant", true, false, "PDA([\"merchant\", authority, bump])"),
		acct("settlement_wallet", false, false, "Wallet that receives cleared funds"),
		systemProgram,
	},
	KindInitializeOperator: {
		payer,
		acct("authority", false, true, "Operator owner"),
		acct("operator", true, false, "PDA([\"operator\", authority, bump])"),
		systemProgram,
	},
	KindUpdateMerchantSettlementWallet: {
		acct("authority", false, true, "Current merchant owner"),
		acct("merchant", true, false, ""),
		acct("new_settlement_wallet", false, false, ""),
	},
	KindUpdateMerchantAuthority: {
		acct("authority", false, true, "Current merchant owner"),
		acct("merchant", true, false, ""),
		acct("new_authority", false, false, ""),
	},
	KindUpdateOperatorAuthority: {
		acct("authority", false, true, "Current operator owner"),
		acct("operator", true, false, ""),
		acct("new_authority", false, false, ""),
	},
	KindInitializeMerchantOperatorConfig: {
		payer,
		acct("authority", false, true, "Merchant owner"),
		acct("merchant", false, false, ""),
		acct("operator", false, false, ""),
		acct("config", true, false, "PDA([\"merchant_operator_config\", merchant, operator, version, bump])"),
		systemProgram,
	},
	KindMakePayment: {
		payer,
		acct("payment", true, false, "PDA([\"payment\", config, buyer, mint, order_id, bump])"),
		operatorSigner,
		acct("buyer", false, true, ""),
		acct("operator", false, false, ""),
		acct("merchant", false, false, ""),
		acct("config", true, false, ""),
		acct("mint", false, false, ""),
		acct("buyer_ata", true, false, "ATA(buyer, mint)"),
		acct("escrow_ata", true, false, "ATA(config, mint)"),
		tokenProgram,
		ataProgram,
		systemProgram,
		eventAuthority,
		commerceProgram,
	},
	KindClearPayment: {
		payer,
		acct("payment", true, false, ""),
		operatorSigner,
		acct("buyer", false, false, ""),
		acct("merchant", false, false, ""),
		acct("operator", false, false, ""),
		acct("config", false, false, ""),
		acct("mint", false, false, ""),
		acct("escrow_ata", true, false, "ATA(config, mint)"),
		acct("settlement_wallet", false, false, ""),
		acct("settlement_ata", true, false, "ATA(settlement_wallet, mint)"),
		acct("operator_fee_ata", true, false, "ATA(operator owner, mint)"),
		tokenProgram,
		ataProgram,
		systemProgram,
		eventAuthority,
		commerceProgram,
	},
	KindRefundPayment:     refundAccounts,
	KindChargebackPayment: refundAccounts,
	KindClosePayment: {
		operatorSigner,
		acct("payment", true, false, ""),
		acct("buyer", false, false, ""),
		acct("operator", false, false, ""),
		acct("config", false, false, ""),
		acct("mint", false, false, ""),
		acct("rent_destination", true, false, "Receives the payment record's lamports"),
	},
	KindEmitEvent: {
		{Name: "event_authority", Signer: true},
	},
}

var refundAccounts = []AccountSpec{
	acct("payment", true, false, ""),
	operatorSigner,
	acct("buyer", false, false, ""),
	acct("merchant", false, false, ""),
	acct("operator", false, false, ""),
	acct("config", false, false, ""),
	acct("mint", false, false, ""),
	acct("escrow_ata", true, false, "ATA(config, mint)"),
	acct("buyer_ata", true, false, "ATA(buyer, mint)"),
	tokenProgram,
	eventAuthority,
	commerceProgram,
}

// Accounts returns the account roles of k in order. The slice is shared and
// must not be modified.
func (k Kind) Accounts() []AccountSpec {
	return accountSpecs[k]
}

var argSpecs = map[Kind][]Arg{
	KindInitializeMerchant: {{Name: "bump", Type: "u8"}},
	KindInitializeOperator: {{Name: "bump", Type: "u8"}},
	KindInitializeMerchantOperatorConfig: {
		{Name: "version", Type: "u32"},
		{Name: "bump", Type: "u8"},
		{Name: "operator_fee", Type: "u64"},
		{Name: "fee_type", Type: "FeeType"},
		{Name: "days_to_close", Type: "u16"},
		{Name: "num_policies", Type: "u8"},
		{Name: "num_currencies", Type: "u8"},
		{Name: "policies", Type: "PolicyData", Len: "num_policies"},
		{Name: "accepted_currencies", Type: "pubkey", Len: "num_currencies"},
	},
	KindMakePayment: {
		{Name: "order_id", Type: "u32"},
		{Name: "amount", Type: "u64"},
		{Name: "bump", Type: "u8"},
	},
	KindEmitEvent: {{Name: "event", Type: "bytes"}},
}

// Args returns the argument layout of k after the discriminant.
func (k Kind) Args() []Arg {
	return argSpecs[k]
}
