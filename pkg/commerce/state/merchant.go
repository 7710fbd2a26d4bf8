package state

import "github.com/fortiblox/x1-commerce/internal/types"

// Record sizes.
const (
	MerchantSize = 66
	OperatorSize = 34
)

// Merchant layout: disc u8, owner [32], bump u8, settlement_wallet [32].
type Merchant struct{ buf []byte }

// MerchantData is the value form of a Merchant record.
type MerchantData struct {
	Owner            types.Pubkey
	Bump             uint8
	SettlementWallet types.Pubkey
}

// LoadMerchant returns a view over an initialized merchant record.
func LoadMerchant(buf []byte) (Merchant, error) {
	if err := load(buf, MerchantSize, DiscMerchant); err != nil {
		return Merchant{}, err
	}
	return Merchant{buf}, nil
}

// InitMerchant claims a zeroed buffer as a merchant record.
func InitMerchant(buf []byte) (Merchant, error) {
	if err := initialize(buf, MerchantSize, DiscMerchant); err != nil {
		return Merchant{}, err
	}
	return Merchant{buf}, nil
}

func (m Merchant) Owner() types.Pubkey { return getPubkey(m.buf, 1) }
func (m Merchant) Bump() uint8 { return m.buf[33] }
func (m Merchant) SettlementWallet() types.Pubkey { return getPubkey(m.buf, 34) }

func (m Merchant) SetOwner(k types.Pubkey) { putPubkey(m.buf, 1, k) }
func (m Merchant) SetBump(b uint8) { m.buf[33] = b }
func (m Merchant) SetSettlementWallet(k types.Pubkey) { putPubkey(m.buf, 34, k) }

// Data copies the record out of the buffer.
func (m Merchant) Data() MerchantData {
	return MerchantData{Owner: m.Owner(), Bump: m.Bump(), SettlementWallet: m.SettlementWallet()}
}

// Store writes every field of d.
func (m Merchant) Store(d MerchantData) {
	m.SetOwner(d.Owner)
	m.SetBump(d.Bump)
	m.SetSettlementWallet(d.SettlementWallet)
}

// Operator layout: disc u8, owner [32], bump u8.
type Operator struct{ buf []byte }

// OperatorData is the value form of an Operator record.
type OperatorData struct {
	Owner types.Pubkey
	Bump  uint8
}

// LoadOperator returns a view over an initialized operator record.
func LoadOperator(buf []byte) (Operator, error) {
	if err := load(buf, OperatorSize, DiscOperator); err != nil {
		return Operator{}, err
	}
	return Operator{buf}, nil
}

// InitOperator claims a zeroed buffer as an operator record.
func InitOperator(buf []byte) (Operator, error) {
	if err := initialize(buf, OperatorSize, DiscOperator); err != nil {
		return Operator{}, err
	}
	return Operator{buf}, nil
}

func (o Operator) Owner() types.Pubkey { return getPubkey(o.buf, 1) }
func (o Operator) Bump() uint8 { return o.buf[33] }

func (o Operator) SetOwner(k types.Pubkey) { putPubkey(o.buf, 1, k) }
func (o Operator) SetBump(b uint8) { o.buf[33] = b }

func (o Operator) Data() OperatorData {
	return OperatorData{Owner: o.Owner(), Bump: o.Bump()}
}

func (o Operator) Store(d OperatorData) {
	o.SetOwner(d.Owner)
	o.SetBump(d.Bump)
}
