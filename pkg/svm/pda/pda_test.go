package pda

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

var upgradeableLoader = types.MustPubkeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

func TestCreateProgramAddressKnownVectors(t *testing.T) {
	addr, err := CreateProgramAddress([][]byte{{}, {1}}, upgradeableLoader)
	require.NoError(t, err)
	assert.Equal(t, "BwqrghZA2htAcqq8dzP1WDAhTXYTYWj7CHxF5j7TDBAe", addr.String())

	addr, err = CreateProgramAddress([][]byte{[]byte("Talking"), []byte("Squirrels")}, upgradeableLoader)
	require.NoError(t, err)
	assert.Equal(t, "2fnQrngrQT4SeLcdToJAD96phoEjNL2man2kfRLCASVk", addr.String())
}

func TestCreateProgramAddressLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{bytes.Repeat([]byte{1}, MaxSeedLen+1)}, upgradeableLoader)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	seeds := make([][]byte, MaxSeeds+1)
	_, err = CreateProgramAddress(seeds, upgradeableLoader)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)

	_, _, err = FindProgramAddress(make([][]byte, MaxSeeds), upgradeableLoader, nil)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)
}

func TestFindProgramAddressMatchesCreate(t *testing.T) {
	programID := types.NewPubkeyFromSeed("program")
	for _, label := range []string{"merchant", "operator", "event_authority", "payment"} {
		seeds := [][]byte{[]byte(label), programID[:]}
		addr, bump, err := FindProgramAddress(seeds, programID, nil)
		require.NoError(t, err)

		again, err := CreateProgramAddress(append(seeds, []byte{bump}), programID)
		require.NoError(t, err)
		assert.Equal(t, addr, again)
		assert.False(t, IsOnCurve(addr[:]))

		// Every higher bump must have landed on the curve.
		for b := 255; b > int(bump); b-- {
			_, err := CreateProgramAddress(append(seeds, []byte{byte(b)}), programID)
			assert.ErrorIs(t, err, ErrOnCurve)
		}
	}
}

func TestFindProgramAddressMetered(t *testing.T) {
	meter := svm.NewComputeMeter(svm.CUFindProgramAddress - 1)
	_, _, err := FindProgramAddress([][]byte{[]byte("x")}, upgradeableLoader, meter.Consume)
	assert.ErrorIs(t, err, svm.ErrComputeExceeded)

	var charged uint64
	count := func(cost uint64) error {
		charged += cost
		return nil
	}
	_, err = CreateProgramAddressMetered([][]byte{{}, {1}}, upgradeableLoader, count)
	require.NoError(t, err)
	assert.Equal(t, svm.CUCreateProgramAddress, charged)

	failing := func(uint64) error { return errors.New("boom") }
	_, err = CreateProgramAddressMetered(nil, upgradeableLoader, failing)
	assert.EqualError(t, err, "boom")
}

func TestIsOnCurve(t *testing.T) {
	basePoint, err := hex.DecodeString("5866666666666666666666666666666666666666666666666666666666666666")
	require.NoError(t, err)
	assert.True(t, IsOnCurve(basePoint))

	identity := make([]byte, 32)
	identity[0] = 1
	assert.True(t, IsOnCurve(identity))

	identity[31] = 0x80
	assert.False(t, IsOnCurve(identity), "x = 0 with sign bit set is not canonical")

	for i := byte(0); i < 8; i++ {
		pub := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{i}, ed25519.SeedSize)).Public().(ed25519.PublicKey)
		assert.True(t, IsOnCurve(pub))
	}

	assert.False(t, IsOnCurve(basePoint[:31]))
}
