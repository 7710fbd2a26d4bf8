package state

import (
	"math"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
)

// FeeType selects how the operator fee is computed.
type FeeType uint8

const (
	FeeTypeBps   FeeType = 0
	FeeTypeFixed FeeType = 1
)

func (f FeeType) Valid() bool { return f == FeeTypeBps || f == FeeTypeFixed }

func (f FeeType) String() string {
	switch f {
	case FeeTypeBps:
		return "Bps"
	case FeeTypeFixed:
		return "Fixed"
	default:
		return "Invalid"
	}
}

// ValidateFee checks a fee against its type.
func ValidateFee(t FeeType, fee uint64) error {
	if !t.Valid() {
		return errcode.InvalidFee
	}
	if t == FeeTypeBps && fee > constants.MaxBps {
		return errcode.InvalidFee
	}
	return nil
}

// OperatorFee returns the operator's share of amount.
func OperatorFee(t FeeType, fee, amount uint64) (uint64, error) {
	switch t {
	case FeeTypeBps:
		return CheckedMulDiv(amount, fee, constants.MaxBps)
	case FeeTypeFixed:
		if fee > amount {
			return 0, errcode.InvalidFee
		}
		return fee, nil
	default:
		return 0, errcode.InvalidFee
	}
}

// PolicyKind tags a policy entry.
type PolicyKind uint8

const (
	PolicyRefund     PolicyKind = 0
	PolicySettlement PolicyKind = 1
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyRefund:
		return "Refund"
	case PolicySettlement:
		return "Settlement"
	default:
		return "Invalid"
	}
}

// PolicySize is the encoded size of one policy entry: tag + 16-byte body.
const PolicySize = 17

// RefundPolicy bounds refunds.
type RefundPolicy struct {
	MaxAmount            uint64
	MaxTimeAfterPurchase uint64 // seconds
}

// SettlementPolicy bounds clearing.
type SettlementPolicy struct {
	MinSettlementAmount      uint64
	SettlementFrequencyHours uint32
}

// Policy is one config policy entry. Only the field matching Kind is used.
type Policy struct {
	Kind       PolicyKind
	Refund     RefundPolicy
	Settlement SettlementPolicy
}

// DecodePolicy parses a 17-byte policy entry.
func DecodePolicy(b []byte) (Policy, error) {
	if len(b) != PolicySize {
		return Policy{}, errcode.InvalidPolicy
	}
	p := Policy{Kind: PolicyKind(b[0])}
	switch p.Kind {
	case PolicyRefund:
		p.Refund = RefundPolicy{MaxAmount: getU64(b, 1), MaxTimeAfterPurchase: getU64(b, 9)}
	case PolicySettlement:
		if getU32(b, 13) != 0 {
			return Policy{}, errcode.InvalidPolicy
		}
		p.Settlement = SettlementPolicy{MinSettlementAmount: getU64(b, 1), SettlementFrequencyHours: getU32(b, 9)}
	default:
		return Policy{}, errcode.InvalidPolicy
	}
	return p, nil
}

// Encode writes the 17-byte form of p into dst.
func (p Policy) Encode(dst []byte) {
	clear(dst[:PolicySize])
	dst[0] = byte(p.Kind)
	switch p.Kind {
	case PolicyRefund:
		putU64(dst, 1, p.Refund.MaxAmount)
		putU64(dst, 9, p.Refund.MaxTimeAfterPurchase)
	case PolicySettlement:
		putU64(dst, 1, p.Settlement.MinSettlementAmount)
		putU32(dst, 9, p.Settlement.SettlementFrequencyHours)
	}
}

// ValidatePolicies allows at most one policy of each kind.
func ValidatePolicies(policies []Policy) error {
	if len(policies) > constants.MaxPolicies {
		return errcode.InvalidPolicy
	}
	var seen [2]bool
	for _, p := range policies {
		if p.Kind != PolicyRefund && p.Kind != PolicySettlement {
			return errcode.InvalidPolicy
		}
		if seen[p.Kind] {
			return errcode.InvalidPolicy
		}
		seen[p.Kind] = true
	}
	return nil
}

// ValidateCurrencies rejects more than MaxAcceptedCurrencies or duplicates.
func ValidateCurrencies(mints []types.Pubkey) error {
	if len(mints) > constants.MaxAcceptedCurrencies {
		return errcode.TooManyCurrencies
	}
	for i := range mints {
		for j := i + 1; j < len(mints); j++ {
			if mints[i] == mints[j] {
				return errcode.UnsupportedCurrency
			}
		}
	}
	return nil
}

// ConfigHeaderSize is the fixed part of a config record.
const ConfigHeaderSize = 87

// ConfigSize returns the record size for n policies and m currencies.
func ConfigSize(numPolicies, numCurrencies int) int {
	return ConfigHeaderSize + PolicySize*numPolicies + types.PubkeySize*numCurrencies
}

// Config is a MerchantOperatorConfig record:
//
//	disc u8 | version u32 | bump u8 | merchant [32] | operator [32] |
//	operator_fee u64 | fee_type u8 | current_order_id u32 | days_to_close u16 |
//	num_policies u8 | num_currencies u8 | policies 17*n | currencies 32*m
type Config struct{ buf []byte }

// ConfigData is the value form of a Config record.
type ConfigData struct {
	Version        uint32
	Bump           uint8
	Merchant       types.Pubkey
	Operator       types.Pubkey
	OperatorFee    uint64
	FeeType        FeeType
	CurrentOrderID uint32
	DaysToClose    uint16
	Policies       []Policy
	Currencies     []types.Pubkey
}

// LoadConfig validates the header and the size implied by its counts.
func LoadConfig(buf []byte) (Config, error) {
	if len(buf) < ConfigHeaderSize {
		return Config{}, errcode.InvalidAccountData
	}
	switch Discriminant(buf[0]) {
	case DiscConfig:
	case DiscUninitialized:
		return Config{}, errcode.UninitializedAccount
	default:
		return Config{}, errcode.InvalidAccountData
	}
	n, m := int(buf[85]), int(buf[86])
	if n > constants.MaxPolicies || m > constants.MaxAcceptedCurrencies || len(buf) != ConfigSize(n, m) {
		return Config{}, errcode.InvalidAccountData
	}
	return Config{buf}, nil
}

// InitConfig claims a zeroed buffer sized for n policies and m currencies.
func InitConfig(buf []byte, numPolicies, numCurrencies int) (Config, error) {
	if numPolicies > constants.MaxPolicies {
		return Config{}, errcode.InvalidPolicy
	}
	if numCurrencies > constants.MaxAcceptedCurrencies {
		return Config{}, errcode.TooManyCurrencies
	}
	if err := initialize(buf, ConfigSize(numPolicies, numCurrencies), DiscConfig); err != nil {
		return Config{}, err
	}
	buf[85] = uint8(numPolicies)
	buf[86] = uint8(numCurrencies)
	return Config{buf}, nil
}

func (c Config) Version() uint32 { return getU32(c.buf, 1) }
func (c Config) Bump() uint8 { return c.buf[5] }
func (c Config) Merchant() types.Pubkey { return getPubkey(c.buf, 6) }
func (c Config) Operator() types.Pubkey { return getPubkey(c.buf, 38) }
func (c Config) OperatorFee() uint64 { return getU64(c.buf, 70) }
func (c Config) FeeType() FeeType { return FeeType(c.buf[78]) }
func (c Config) CurrentOrderID() uint32 { return getU32(c.buf, 79) }
func (c Config) DaysToClose() uint16 { return getU16(c.buf, 83) }
func (c Config) NumPolicies() int { return int(c.buf[85]) }
func (c Config) NumCurrencies() int { return int(c.buf[86]) }

func (c Config) SetVersion(v uint32) { putU32(c.buf, 1, v) }
func (c Config) SetBump(b uint8) { c.buf[5] = b }
func (c Config) SetMerchant(k types.Pubkey) { putPubkey(c.buf, 6, k) }
func (c Config) SetOperator(k types.Pubkey) { putPubkey(c.buf, 38, k) }
func (c Config) SetOperatorFee(v uint64) { putU64(c.buf, 70, v) }
func (c Config) SetFeeType(t FeeType) { c.buf[78] = byte(t) }
func (c Config) SetCurrentOrderID(v uint32) { putU32(c.buf, 79, v) }
func (c Config) SetDaysToClose(v uint16) { putU16(c.buf, 83, v) }

func (c Config) policyOffset(i int) int { return ConfigHeaderSize + PolicySize*i }

func (c Config) currencyOffset(i int) int {
	return ConfigHeaderSize + PolicySize*c.NumPolicies() + types.PubkeySize*i
}

// Policy decodes policy i.
func (c Config) Policy(i int) (Policy, error) {
	if i < 0 || i >= c.NumPolicies() {
		return Policy{}, errcode.InvalidPolicy
	}
	off := c.policyOffset(i)
	return DecodePolicy(c.buf[off : off+PolicySize])
}

// SetPolicy encodes p at slot i.
func (c Config) SetPolicy(i int, p Policy) error {
	if i < 0 || i >= c.NumPolicies() {
		return errcode.InvalidPolicy
	}
	p.Encode(c.buf[c.policyOffset(i):])
	return nil
}

// Currency returns accepted mint i.
func (c Config) Currency(i int) types.Pubkey {
	return getPubkey(c.buf, c.currencyOffset(i))
}

// SetCurrency writes accepted mint i.
func (c Config) SetCurrency(i int, mint types.Pubkey) error {
	if i < 0 || i >= c.NumCurrencies() {
		return errcode.TooManyCurrencies
	}
	putPubkey(c.buf, c.currencyOffset(i), mint)
	return nil
}

// Accepts reports whether mint is an accepted currency.
func (c Config) Accepts(mint types.Pubkey) bool {
	for i := 0; i < c.NumCurrencies(); i++ {
		if c.Currency(i) == mint {
			return true
		}
	}
	return false
}

// RefundPolicy returns the refund policy, if configured.
func (c Config) RefundPolicy() (RefundPolicy, bool, error) {
	p, ok, err := c.findPolicy(PolicyRefund)
	return p.Refund, ok, err
}

// SettlementPolicy returns the settlement policy, if configured.
func (c Config) SettlementPolicy() (SettlementPolicy, bool, error) {
	p, ok, err := c.findPolicy(PolicySettlement)
	return p.Settlement, ok, err
}

func (c Config) findPolicy(kind PolicyKind) (Policy, bool, error) {
	for i := 0; i < c.NumPolicies(); i++ {
		p, err := c.Policy(i)
		if err != nil {
			return Policy{}, false, err
		}
		if p.Kind == kind {
			return p, true, nil
		}
	}
	return Policy{}, false, nil
}

// NextOrderID returns current_order_id + 1 without writing it.
func (c Config) NextOrderID() (uint32, error) {
	cur := c.CurrentOrderID()
	if cur == math.MaxUint32 {
		return 0, errcode.ArithmeticOverflow
	}
	return cur + 1, nil
}

// IncrementOrderID advances current_order_id. On overflow the buffer is
// left unchanged.
func (c Config) IncrementOrderID() (uint32, error) {
	next, err := c.NextOrderID()
	if err != nil {
		return 0, err
	}
	c.SetCurrentOrderID(next)
	return next, nil
}

// Data copies the record out of the buffer.
func (c Config) Data() (ConfigData, error) {
	d := ConfigData{
		Version:        c.Version(),
		Bump:           c.Bump(),
		Merchant:       c.Merchant(),
		Operator:       c.Operator(),
		OperatorFee:    c.OperatorFee(),
		FeeType:        c.FeeType(),
		CurrentOrderID: c.CurrentOrderID(),
		DaysToClose:    c.DaysToClose(),
		Policies:       make([]Policy, c.NumPolicies()),
		Currencies:     make([]types.Pubkey, c.NumCurrencies()),
	}
	for i := range d.Policies {
		p, err := c.Policy(i)
		if err != nil {
			return ConfigData{}, err
		}
		d.Policies[i] = p
	}
	for i := range d.Currencies {
		d.Currencies[i] = c.Currency(i)
	}
	return d, nil
}

// Store writes every field of d. The policy and currency counts must match
// the record's.
func (c Config) Store(d ConfigData) error {
	if len(d.Policies) != c.NumPolicies() || len(d.Currencies) != c.NumCurrencies() {
		return errcode.InvalidAccountData
	}
	c.SetVersion(d.Version)
	c.SetBump(d.Bump)
	c.SetMerchant(d.Merchant)
	c.SetOperator(d.Operator)
	c.SetOperatorFee(d.OperatorFee)
	c.SetFeeType(d.FeeType)
	c.SetCurrentOrderID(d.CurrentOrderID)
	c.SetDaysToClose(d.DaysToClose)
	for i, p := range d.Policies {
		p.Encode(c.buf[c.policyOffset(i):])
	}
	for i, k := range d.Currencies {
		putPubkey(c.buf, c.currencyOffset(i), k)
	}
	return nil
}
