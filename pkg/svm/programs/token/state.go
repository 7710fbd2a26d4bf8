package token

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
)

// Packed sizes of the token program records.
const (
	MintSize    = 82
	AccountSize = 165
)

// AccountState is the state byte of a token account.
type AccountState uint8

const (
	AccountStateUninitialized AccountState = 0
	AccountStateInitialized   AccountState = 1
	AccountStateFrozen        AccountState = 2
)

// Mint is the unpacked form of a mint account.
type Mint struct {
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey
}

// Account is the unpacked form of a token account.
type Account struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *types.Pubkey
}

// COption<Pubkey>: u32 tag + 32 bytes.
func getOptionKey(b []byte) *types.Pubkey {
	if binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return nil
	}
	k := types.Pubkey(b[4:36])
	return &k
}

func putOptionKey(b []byte, k *types.Pubkey) {
	clear(b[:36])
	if k != nil {
		binary.LittleEndian.PutUint32(b[0:4], 1)
		copy(b[4:36], k[:])
	}
}

// UnpackMint decodes a mint. It fails on wrong size or an uninitialized mint.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, ErrInvalidAccountData
	}
	m := &Mint{
		MintAuthority:   getOptionKey(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		IsInitialized:   data[45] == 1,
		FreezeAuthority: getOptionKey(data[46:82]),
	}
	if !m.IsInitialized {
		return nil, ErrUninitializedState
	}
	return m, nil
}

// Pack encodes m into dst, which must be MintSize bytes.
func (m *Mint) Pack(dst []byte) {
	putOptionKey(dst[0:36], m.MintAuthority)
	binary.LittleEndian.PutUint64(dst[36:44], m.Supply)
	dst[44] = m.Decimals
	dst[45] = 0
	if m.IsInitialized {
		dst[45] = 1
	}
	putOptionKey(dst[46:82], m.FreezeAuthority)
}

// UnpackAccount decodes a token account. It fails on wrong size or an
// uninitialized account.
func UnpackAccount(data []byte) (*Account, error) {
	if len(data) != AccountSize {
		return nil, ErrInvalidAccountData
	}
	a := &Account{
		Mint:            types.Pubkey(data[0:32]),
		Owner:           types.Pubkey(data[32:64]),
		Amount:          binary.LittleEndian.Uint64(data[64:72]),
		Delegate:        getOptionKey(data[72:108]),
		State:           AccountState(data[108]),
		DelegatedAmount: binary.LittleEndian.Uint64(data[121:129]),
		CloseAuthority:  getOptionKey(data[129:165]),
	}
	if binary.LittleEndian.Uint32(data[109:113]) == 1 {
		v := binary.LittleEndian.Uint64(data[113:121])
		a.IsNative = &v
	}
	if a.State == AccountStateUninitialized {
		return nil, ErrUninitializedState
	}
	if a.State > AccountStateFrozen {
		return nil, ErrInvalidAccountData
	}
	return a, nil
}

// Pack encodes a into dst, which must be AccountSize bytes.
func (a *Account) Pack(dst []byte) {
	copy(dst[0:32], a.Mint[:])
	copy(dst[32:64], a.Owner[:])
	binary.LittleEndian.PutUint64(dst[64:72], a.Amount)
	putOptionKey(dst[72:108], a.Delegate)
	dst[108] = byte(a.State)
	clear(dst[109:121])
	if a.IsNative != nil {
		binary.LittleEndian.PutUint32(dst[109:113], 1)
		binary.LittleEndian.PutUint64(dst[113:121], *a.IsNative)
	}
	binary.LittleEndian.PutUint64(dst[121:129], a.DelegatedAmount)
	putOptionKey(dst[129:165], a.CloseAuthority)
}

// IsInitializedAccount reports whether data holds an initialized token account.
func IsInitializedAccount(data []byte) bool {
	return len(data) == AccountSize && data[108] != byte(AccountStateUninitialized)
}
