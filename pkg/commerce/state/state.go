// Package state defines the commerce program's account layouts.
//
// Views alias the account buffer: reads decode directly from it and setters
// write back in place. Every record starts with a one-byte discriminant and
// all integers are little-endian with no padding.
package state

import (
	"encoding/binary"
	"math/bits"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
)

// Discriminant identifies a record kind. Zero marks an uninitialized buffer.
type Discriminant uint8

const (
	DiscUninitialized Discriminant = 0
	DiscMerchant      Discriminant = 1
	DiscOperator      Discriminant = 2
	DiscConfig        Discriminant = 3
	DiscPayment       Discriminant = 4
)

func (d Discriminant) String() string {
	switch d {
	case DiscMerchant:
		return "Merchant"
	case DiscOperator:
		return "Operator"
	case DiscConfig:
		return "MerchantOperatorConfig"
	case DiscPayment:
		return "Payment"
	default:
		return "Uninitialized"
	}
}

// KindOf returns the discriminant of buf, or DiscUninitialized if empty.
func KindOf(buf []byte) Discriminant {
	if len(buf) == 0 {
		return DiscUninitialized
	}
	return Discriminant(buf[0])
}

// CheckedAdd returns a+b or ArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errcode.ArithmeticOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ArithmeticOverflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errcode.ArithmeticOverflow
	}
	return diff, nil
}

// CheckedMul returns a*b or ArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errcode.ArithmeticOverflow
	}
	return lo, nil
}

// CheckedMulDiv returns a*b/d through a 128-bit product. It fails with
// ArithmeticOverflow only when the quotient does not fit in 64 bits.
func CheckedMulDiv(a, b, d uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if d == 0 || hi >= d {
		return 0, errcode.ArithmeticOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// load validates size and discriminant. A correctly sized buffer with a zero
// discriminant is an uninitialized record.
func load(buf []byte, size int, disc Discriminant) error {
	if len(buf) != size {
		return errcode.InvalidAccountData
	}
	switch Discriminant(buf[0]) {
	case disc:
		return nil
	case DiscUninitialized:
		return errcode.UninitializedAccount
	default:
		return errcode.InvalidAccountData
	}
}

// initialize validates that buf is a zeroed record of size and writes disc.
func initialize(buf []byte, size int, disc Discriminant) error {
	if len(buf) != size {
		return errcode.InvalidAccountData
	}
	if buf[0] != 0 {
		return errcode.AccountAlreadyInitialized
	}
	for _, b := range buf[1:] {
		if b != 0 {
			return errcode.InvalidAccountData
		}
	}
	buf[0] = byte(disc)
	return nil
}

func getPubkey(buf []byte, off int) types.Pubkey {
	return types.Pubkey(buf[off : off+types.PubkeySize])
}

func putPubkey(buf []byte, off int, k types.Pubkey) {
	copy(buf[off:off+types.PubkeySize], k[:])
}

func getU16(buf []byte, off int) uint16 { return binary.LittleEndian.Uint16(buf[off:]) }
func getU32(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
func getU64(buf []byte, off int) uint64 { return binary.LittleEndian.Uint64(buf[off:]) }

func putU16(buf []byte, off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }
func putU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
func putU64(buf []byte, off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }
