// Package instruction defines the commerce program's instruction set: one
// discriminant per operation, its exact argument layout and the ordered
// account roles it expects.
//
// Data is the discriminant byte followed by the arguments, little-endian,
// with no padding. Unpack rejects any payload whose length differs from the
// layout of its discriminant.
package instruction

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
)

// Kind is an instruction discriminant.
type Kind uint8

const (
	KindInitializeMerchant               Kind = 0
	KindInitializeOperator               Kind = 1
	KindUpdateMerchantSettlementWallet   Kind = 2
	KindUpdateMerchantAuthority          Kind = 3
	KindUpdateOperatorAuthority          Kind = 4
	KindInitializeMerchantOperatorConfig Kind = 5
	KindMakePayment                      Kind = 6
	KindClearPayment                     Kind = 7
	KindRefundPayment                    Kind = 8
	KindChargebackPayment                Kind = 9
	KindClosePayment                     Kind = 10

	// KindEmitEvent is the first byte of constants.EventIxTag.
	KindEmitEvent Kind = 228
)

var kindNames = map[Kind]string{
	KindInitializeMerchant:               "InitializeMerchant",
	KindInitializeOperator:               "InitializeOperator",
	KindUpdateMerchantSettlementWallet:   "UpdateMerchantSettlementWallet",
	KindUpdateMerchantAuthority:          "UpdateMerchantAuthority",
	KindUpdateOperatorAuthority:          "UpdateOperatorAuthority",
	KindInitializeMerchantOperatorConfig: "InitializeMerchantOperatorConfig",
	KindMakePayment:                      "MakePayment",
	KindClearPayment:                     "ClearPayment",
	KindRefundPayment:                    "RefundPayment",
	KindChargebackPayment:                "ChargebackPayment",
	KindClosePayment:                     "ClosePayment",
	KindEmitEvent:                        "EmitEvent",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Kinds lists every instruction in discriminant order.
func Kinds() []Kind {
	return []Kind{
		KindInitializeMerchant,
		KindInitializeOperator,
		KindUpdateMerchantSettlementWallet,
		KindUpdateMerchantAuthority,
		KindUpdateOperatorAuthority,
		KindInitializeMerchantOperatorConfig,
		KindMakePayment,
		KindClearPayment,
		KindRefundPayment,
		KindChargebackPayment,
		KindClosePayment,
		KindEmitEvent,
	}
}

// Instruction is a decoded commerce instruction.
type Instruction interface {
	Kind() Kind
	// Encode returns the instruction data, discriminant included.
	Encode() []byte
}

type InitializeMerchant struct{ Bump uint8 }

type InitializeOperator struct{ Bump uint8 }

type UpdateMerchantSettlementWallet struct{}

type UpdateMerchantAuthority struct{}

type UpdateOperatorAuthority struct{}

// InitializeMerchantOperatorConfig creates the agreement between a merchant
// and an operator. Each currency must be matched by a mint account appended
// to the instruction's accounts in the same order.
type InitializeMerchantOperatorConfig struct {
	Version     uint32
	Bump        uint8
	OperatorFee uint64
	FeeType     state.FeeType
	DaysToClose uint16
	Policies    []state.Policy
	Currencies  []types.Pubkey
}

type MakePayment struct {
	OrderID uint32
	Amount  uint64
	Bump    uint8
}

type ClearPayment struct{}

type RefundPayment struct{}

type ChargebackPayment struct{}

type ClosePayment struct{}

// EmitEvent carries an encoded event. Event excludes the tag.
type EmitEvent struct{ Event []byte }

func (InitializeMerchant) Kind() Kind { return KindInitializeMerchant }
func (InitializeOperator) Kind() Kind { return KindInitializeOperator }
func (UpdateMerchantSettlementWallet) Kind() Kind { return KindUpdateMerchantSettlementWallet }
func (UpdateMerchantAuthority) Kind() Kind { return KindUpdateMerchantAuthority }
func (UpdateOperatorAuthority) Kind() Kind { return KindUpdateOperatorAuthority }
func (InitializeMerchantOperatorConfig) Kind() Kind { return KindInitializeMerchantOperatorConfig }
func (MakePayment) Kind() Kind { return KindMakePayment }
func (ClearPayment) Kind() Kind { return KindClearPayment }
func (RefundPayment) Kind() Kind { return KindRefundPayment }
func (ChargebackPayment) Kind() Kind { return KindChargebackPayment }
func (ClosePayment) Kind() Kind { return KindClosePayment }
func (EmitEvent) Kind() Kind { return KindEmitEvent }

func (i InitializeMerchant) Encode() []byte { return []byte{byte(KindInitializeMerchant), i.Bump} }
func (i InitializeOperator) Encode() []byte { return []byte{byte(KindInitializeOperator), i.Bump} }
func (UpdateMerchantSettlementWallet) Encode() []byte {
	return []byte{byte(KindUpdateMerchantSettlementWallet)}
}
func (UpdateMerchantAuthority) Encode() []byte { return []byte{byte(KindUpdateMerchantAuthority)} }
func (UpdateOperatorAuthority) Encode() []byte { return []byte{byte(KindUpdateOperatorAuthority)} }
func (ClearPayment) Encode() []byte { return []byte{byte(KindClearPayment)} }
func (RefundPayment) Encode() []byte { return []byte{byte(KindRefundPayment)} }
func (ChargebackPayment) Encode() []byte { return []byte{byte(KindChargebackPayment)} }
func (ClosePayment) Encode() []byte { return []byte{byte(KindClosePayment)} }

// configHeaderLen covers disc through num_currencies.
const configHeaderLen = 1 + 4 + 1 + 8 + 1 + 2 + 1 + 1

func (i InitializeMerchantOperatorConfig) Encode() []byte {
	out := make([]byte, configHeaderLen+state.PolicySize*len(i.Policies)+types.PubkeySize*len(i.Currencies))
	out[0] = byte(KindInitializeMerchantOperatorConfig)
	binary.LittleEndian.PutUint32(out[1:], i.Version)
	out[5] = i.Bump
	binary.LittleEndian.PutUint64(out[6:], i.OperatorFee)
	out[14] = byte(i.FeeType)
	binary.LittleEndian.PutUint16(out[15:], i.DaysToClose)
	out[17] = uint8(len(i.Policies))
	out[18] = uint8(len(i.Currencies))
	off := configHeaderLen
	for _, p := range i.Policies {
		p.Encode(out[off:])
		off += state.PolicySize
	}
	for _, mint := range i.Currencies {
		copy(out[off:], mint[:])
		off += types.PubkeySize
	}
	return out
}

func (i MakePayment) Encode() []byte {
	out := make([]byte, 14)
	out[0] = byte(KindMakePayment)
	binary.LittleEndian.PutUint32(out[1:], i.OrderID)
	binary.LittleEndian.PutUint64(out[5:], i.Amount)
	out[13] = i.Bump
	return out
}

func (i EmitEvent) Encode() []byte {
	out := make([]byte, 0, len(constants.EventIxTag)+len(i.Event))
	out = append(out, constants.EventIxTag[:]...)
	return append(out, i.Event...)
}

// Unpack decodes instruction data.
func Unpack(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, errcode.InvalidInstructionData
	}
	body := data[1:]
	switch Kind(data[0]) {
	case KindInitializeMerchant:
		if len(body) != 1 {
			return nil, errcode.InvalidInstructionData
		}
		return InitializeMerchant{Bump: body[0]}, nil
	case KindInitializeOperator:
		if len(body) != 1 {
			return nil, errcode.InvalidInstructionData
		}
		return InitializeOperator{Bump: body[0]}, nil
	case KindUpdateMerchantSettlementWallet:
		return noArgs(body, UpdateMerchantSettlementWallet{})
	case KindUpdateMerchantAuthority:
		return noArgs(body, UpdateMerchantAuthority{})
	case KindUpdateOperatorAuthority:
		return noArgs(body, UpdateOperatorAuthority{})
	case KindInitializeMerchantOperatorConfig:
		return unpackConfig(data)
	case KindMakePayment:
		if len(body) != 13 {
			return nil, errcode.InvalidInstructionData
		}
		return MakePayment{
			OrderID: binary.LittleEndian.Uint32(body[0:4]),
			Amount:  binary.LittleEndian.Uint64(body[4:12]),
			Bump:    body[12],
		}, nil
	case KindClearPayment:
		return noArgs(body, ClearPayment{})
	case KindRefundPayment:
		return noArgs(body, RefundPayment{})
	case KindChargebackPayment:
		return noArgs(body, ChargebackPayment{})
	case KindClosePayment:
		return noArgs(body, ClosePayment{})
	case KindEmitEvent:
		n := len(constants.EventIxTag)
		if len(data) < n || [8]byte(data[:n]) != constants.EventIxTag {
			return nil, errcode.InvalidInstructionData
		}
		return EmitEvent{Event: data[n:]}, nil
	default:
		return nil, errcode.UnknownInstruction
	}
}

func noArgs(body []byte, ix Instruction) (Instruction, error) {
	if len(body) != 0 {
		return nil, errcode.InvalidInstructionData
	}
	return ix, nil
}

func unpackConfig(data []byte) (Instruction, error) {
	if len(data) < configHeaderLen {
		return nil, errcode.InvalidInstructionData
	}
	n, m := int(data[17]), int(data[18])
	if len(data) != configHeaderLen+state.PolicySize*n+types.PubkeySize*m {
		return nil, errcode.InvalidInstructionData
	}
	if n > constants.MaxPolicies {
		return nil, errcode.InvalidPolicy
	}
	if m > constants.MaxAcceptedCurrencies {
		return nil, errcode.TooManyCurrencies
	}

	ix := InitializeMerchantOperatorConfig{
		Version:     binary.LittleEndian.Uint32(data[1:5]),
		Bump:        data[5],
		OperatorFee: binary.LittleEndian.Uint64(data[6:14]),
		FeeType:     state.FeeType(data[14]),
		DaysToClose: binary.LittleEndian.Uint16(data[15:17]),
		Policies:    make([]state.Policy, n),
		Currencies:  make([]types.Pubkey, m),
	}
	off := configHeaderLen
	for i := range ix.Policies {
		p, err := state.DecodePolicy(data[off : off+state.PolicySize])
		if err != nil {
			return nil, err
		}
		ix.Policies[i] = p
		off += state.PolicySize
	}
	for i := range ix.Currencies {
		ix.Currencies[i] = types.Pubkey(data[off : off+types.PubkeySize])
		off += types.PubkeySize
	}
	return ix, nil
}
