// Package constants holds the commerce program's identity, derived-address
// seeds and numeric limits.
package constants

import (
	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm/pda"
)

// Program addresses.
var (
	// ProgramID is the commerce program address.
	ProgramID = types.MustPubkeyFromBase58("ECWxgnnpYoq57eNBuxmP8SKLmCFDSh4z8R4gYw7wm52e")

	TokenProgramID           = types.TokenProgramAddr
	AssociatedTokenProgramID = types.AssociatedTokenProgramAddr
	SystemProgramID          = types.SystemProgramAddr
)

// Well-known mints.
var (
	USDCMint = types.MustPubkeyFromBase58("EFewYfHeQhkKpbDzpmyygdT54hn85dUj3VZ8b7dC21KS")
	USDTMint = types.MustPubkeyFromBase58("GHPjs7ftoZVdvKYvnxCiRD3i5t3dNSkLyQaoBQLRb5PA")
)

// Derived address seeds.
const (
	SeedMerchant       = "merchant"
	SeedOperator       = "operator"
	SeedConfig         = "merchant_operator_config"
	SeedPayment        = "payment"
	SeedEventAuthority = "event_authority"
)

// Limits.
const (
	MaxBps                = 10_000
	MaxPolicies           = 2
	MaxAcceptedCurrencies = 8
	SecondsPerDay         = 86_400
	SecondsPerHour        = 3_600
)

// EventIxTag prefixes every event payload passed to EmitEvent.
var EventIxTag = [8]byte{0xe4, 0x45, 0xa5, 0x2e, 0x51, 0xcb, 0x9a, 0x1d}

// EventAuthority is the PDA that signs event emission, and its bump.
var (
	EventAuthority     types.Pubkey
	EventAuthorityBump uint8
)

func init() {
	addr, bump, err := pda.FindProgramAddress([][]byte{[]byte(SeedEventAuthority)}, ProgramID, nil)
	if err != nil {
		panic("commerce: no event authority address: " + err.Error())
	}
	EventAuthority, EventAuthorityBump = addr, bump
}

// EventAuthoritySeeds returns the signer seeds of the event authority.
func EventAuthoritySeeds() [][]byte {
	return [][]byte{[]byte(SeedEventAuthority), {EventAuthorityBump}}
}
