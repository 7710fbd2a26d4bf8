// Package events defines the records the commerce program logs on each
// payment transition.
//
// An event is encoded as a one-byte discriminant followed by its fields,
// little-endian, and reaches observers as the payload of a self-invoked
// EmitEvent instruction: EventIxTag followed by the encoded event.
package events

import (
	"bytes"
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
)

// Kind is an event discriminant.
type Kind uint8

const (
	KindPaymentCreated      Kind = 0
	KindPaymentCleared      Kind = 1
	KindPaymentRefunded     Kind = 2
	KindPaymentChargebacked Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindPaymentCreated:
		return "PaymentCreated"
	case KindPaymentCleared:
		return "PaymentCleared"
	case KindPaymentRefunded:
		return "PaymentRefunded"
	case KindPaymentChargebacked:
		return "PaymentChargebacked"
	default:
		return "Unknown"
	}
}

// Kinds lists every event kind in discriminant order.
func Kinds() []Kind {
	return []Kind{KindPaymentCreated, KindPaymentCleared, KindPaymentRefunded, KindPaymentChargebacked}
}

// Event is one of the closed set of commerce events.
type Event interface {
	Kind() Kind
	// Participants returns buyer, merchant, operator and mint.
	Participants() Parties
	size() int
	encode(w *writer)
}

// Parties identifies the accounts every payment event refers to.
type Parties struct {
	Buyer    types.Pubkey
	Merchant types.Pubkey
	Operator types.Pubkey
	Mint     types.Pubkey
}

const partiesSize = 4 * types.PubkeySize

// PaymentCreated is logged by MakePayment.
type PaymentCreated struct {
	Parties
	Amount    uint64
	OrderID   uint32
	CreatedAt int64
}

// PaymentCleared is logged by ClearPayment.
type PaymentCleared struct {
	Parties
	Amount      uint64
	OperatorFee uint64
	OrderID     uint32
}

// PaymentRefunded is logged by RefundPayment.
type PaymentRefunded struct {
	Parties
	Amount  uint64
	OrderID uint32
}

// PaymentChargebacked is logged by ChargebackPayment.
type PaymentChargebacked struct {
	Parties
	Amount  uint64
	OrderID uint32
}

func (p Parties) Participants() Parties { return p }

func (PaymentCreated) Kind() Kind { return KindPaymentCreated }
func (PaymentCleared) Kind() Kind { return KindPaymentCleared }
func (PaymentRefunded) Kind() Kind { return KindPaymentRefunded }
func (PaymentChargebacked) Kind() Kind { return KindPaymentChargebacked }

func (PaymentCreated) size() int { return partiesSize + 8 + 4 + 8 }
func (PaymentCleared) size() int { return partiesSize + 8 + 8 + 4 }
func (PaymentRefunded) size() int { return partiesSize + 8 + 4 }
func (PaymentChargebacked) size() int { return partiesSize + 8 + 4 }

func (e PaymentCreated) encode(w *writer) {
	w.parties(e.Parties)
	w.u64(e.Amount)
	w.u32(e.OrderID)
	w.u64(uint64(e.CreatedAt))
}

func (e PaymentCleared) encode(w *writer) {
	w.parties(e.Parties)
	w.u64(e.Amount)
	w.u64(e.OperatorFee)
	w.u32(e.OrderID)
}

func (e PaymentRefunded) encode(w *writer) {
	w.parties(e.Parties)
	w.u64(e.Amount)
	w.u32(e.OrderID)
}

func (e PaymentChargebacked) encode(w *writer) {
	w.parties(e.Parties)
	w.u64(e.Amount)
	w.u32(e.OrderID)
}

// Encode returns the discriminant-prefixed encoding of e.
func Encode(e Event) []byte {
	w := &writer{buf: make([]byte, 0, 1+e.size())}
	w.buf = append(w.buf, byte(e.Kind()))
	e.encode(w)
	return w.buf
}

// Payload returns the EmitEvent instruction data for e.
func Payload(e Event) []byte {
	out := make([]byte, 0, len(constants.EventIxTag)+1+e.size())
	out = append(out, constants.EventIxTag[:]...)
	return append(out, Encode(e)...)
}

// IsPayload reports whether data carries the event tag.
func IsPayload(data []byte) bool {
	return bytes.HasPrefix(data, constants.EventIxTag[:])
}

// Decode parses EmitEvent instruction data.
func Decode(payload []byte) (Event, error) {
	if !IsPayload(payload) {
		return nil, errcode.InvalidInstructionData
	}
	return DecodeEvent(payload[len(constants.EventIxTag):])
}

// DecodeEvent parses a discriminant-prefixed event without the tag.
func DecodeEvent(b []byte) (Event, error) {
	if len(b) == 0 {
		return nil, errcode.InvalidInstructionData
	}
	var e Event
	switch Kind(b[0]) {
	case KindPaymentCreated:
		e = PaymentCreated{}
	case KindPaymentCleared:
		e = PaymentCleared{}
	case KindPaymentRefunded:
		e = PaymentRefunded{}
	case KindPaymentChargebacked:
		e = PaymentChargebacked{}
	default:
		return nil, errcode.InvalidInstructionData
	}
	body := b[1:]
	if len(body) != e.size() {
		return nil, errcode.InvalidInstructionData
	}

	r := &reader{buf: body}
	parties := r.parties()
	switch e.(type) {
	case PaymentCreated:
		return PaymentCreated{Parties: parties, Amount: r.u64(), OrderID: r.u32(), CreatedAt: int64(r.u64())}, nil
	case PaymentCleared:
		return PaymentCleared{Parties: parties, Amount: r.u64(), OperatorFee: r.u64(), OrderID: r.u32()}, nil
	case PaymentRefunded:
		return PaymentRefunded{Parties: parties, Amount: r.u64(), OrderID: r.u32()}, nil
	default:
		return PaymentChargebacked{Parties: parties, Amount: r.u64(), OrderID: r.u32()}, nil
	}
}

type writer struct{ buf []byte }

func (w *writer) key(k types.Pubkey) { w.buf = append(w.buf, k[:]...) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) parties(p Parties) {
	w.key(p.Buyer)
	w.key(p.Merchant)
	w.key(p.Operator)
	w.key(p.Mint)
}

// reader assumes the caller has checked the length.
type reader struct {
	buf []byte
	off int
}

func (r *reader) key() types.Pubkey {
	k := types.Pubkey(r.buf[r.off : r.off+types.PubkeySize])
	r.off += types.PubkeySize
	return k
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) parties() Parties {
	return Parties{Buyer: r.key(), Merchant: r.key(), Operator: r.key(), Mint: r.key()}
}
