// Package pda derives program addresses.
//
// A program derived address is sha256(seeds || program_id || "ProgramDerivedAddress")
// rejected when the digest decodes to a point on the ed25519 curve, so no
// private key can ever sign for it. FindProgramAddress searches bump seeds
// from 255 downward and returns the first off-curve address.
package pda

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// Seed limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrOnCurve               = errors.New("derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// Meter is charged once per derivation attempt. A nil Meter is free.
type Meter func(cost uint64) error

// CreateProgramAddress derives the address for seeds under programID.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var out types.Pubkey
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return types.Pubkey{}, ErrOnCurve
	}
	return out, nil
}

// CreateProgramAddressMetered is CreateProgramAddress charged to meter.
func CreateProgramAddressMetered(seeds [][]byte, programID types.Pubkey, meter Meter) (types.Pubkey, error) {
	if meter != nil {
		if err := meter(svm.CUCreateProgramAddress); err != nil {
			return types.Pubkey{}, err
		}
	}
	return CreateProgramAddress(seeds, programID)
}

// FindProgramAddress returns the first off-curve address for seeds plus a
// one-byte bump, trying bumps from 255 down to 0.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey, meter Meter) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bumpSeed := []byte{0}
	withBump[len(seeds)] = bumpSeed

	for bump := 255; bump >= 0; bump-- {
		if meter != nil {
			if err := meter(svm.CUFindProgramAddress); err != nil {
				return types.Pubkey{}, 0, err
			}
		}
		bumpSeed[0] = uint8(bump)
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// Curve constants for -x^2 + y^2 = 1 + d*x^2*y^2 over p = 2^255 - 19.
var (
	fieldP    = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))
	curveD    = curveParamD()
	legendreE = new(big.Int).Rsh(new(big.Int).Sub(fieldP, big.NewInt(1)), 1)
	bigOne    = big.NewInt(1)
)

func curveParamD() *big.Int {
	d := new(big.Int).Mul(big.NewInt(-121665), new(big.Int).ModInverse(big.NewInt(121666), fieldP))
	return d.Mod(d, fieldP)
}

// IsOnCurve reports whether point is a valid compressed ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}

	// y is little-endian with the top bit holding the sign of x.
	var be [32]byte
	for i := 0; i < 32; i++ {
		be[31-i] = point[i]
	}
	be[0] &= 0x7f
	y := new(big.Int).SetBytes(be[:])
	// Stricter than curve25519-dalek, which reduces a non-canonical y and
	// accepts a negative zero x. Such encodings count as off-curve here.
	if y.Cmp(fieldP) >= 0 {
		return false
	}

	// x^2 = (y^2 - 1) / (d*y^2 + 1)
	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, fieldP)
	num := new(big.Int).Sub(y2, bigOne)
	num.Mod(num, fieldP)
	den := new(big.Int).Mul(curveD, y2)
	den.Add(den, bigOne)
	den.Mod(den, fieldP)
	denInv := new(big.Int).ModInverse(den, fieldP)
	if denInv == nil {
		return false
	}
	x2 := num.Mul(num, denInv)
	x2.Mod(x2, fieldP)

	if x2.Sign() == 0 {
		// x = 0 has no negative encoding.
		return point[31]&0x80 == 0
	}
	return new(big.Int).Exp(x2, legendreE, fieldP).Cmp(bigOne) == 0
}
