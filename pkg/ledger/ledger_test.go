package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

var (
	payer   = types.NewPubkeyFromSeed("payer")
	alice   = types.NewPubkeyFromSeed("alice")
	bob     = types.NewPubkeyFromSeed("bob")
	program = types.NewPubkeyFromSeed("program")
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := DefaultConfig(path)
	cfg.NoSync = true
	cfg.EventFilter = func(ix svm.Instruction) bool {
		return ix.ProgramID == program && len(ix.Data) > 0 && ix.Data[0] == 0xe4
	}
	store, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func result(seed string, slot uint64, keys []types.Pubkey, err error, inner ...runtime.InnerInstruction) *runtime.Result {
	return &runtime.Result{
		Signature:         types.ComputeHash([]byte(seed)),
		Slot:              slot,
		BlockTime:         int64(1_700_000_000 + slot),
		FeePayer:          payer,
		AccountKeys:       keys,
		Success:           err == nil,
		Err:               err,
		FailedInstruction: -1,
		Logs:              []string{"Program log: " + seed},
		InnerInstructions: inner,
	}
}

func event(data ...byte) runtime.InnerInstruction {
	return runtime.InnerInstruction{
		StackHeight: 2,
		Instruction: svm.Instruction{
			ProgramID: program,
			Accounts:  []svm.AccountMeta{svm.Meta(alice, false, true)},
			Data:      append([]byte{0xe4}, data...),
		},
	}
}

func TestRecordAndGetTransaction(t *testing.T) {
	store, _ := openStore(t)

	res := result("tx1", 3, []types.Pubkey{payer, alice}, nil, event(1, 2))
	require.NoError(t, store.Record(res))

	rec, err := store.GetTransaction(res.Signature)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Slot)
	assert.True(t, rec.Success)
	assert.Equal(t, res.Logs, rec.Logs)
	require.Len(t, rec.InnerInstructions, 1)
	assert.Equal(t, program, rec.InnerInstructions[0].ProgramID)
	assert.Equal(t, []byte{0xe4, 1, 2}, rec.InnerInstructions[0].Data)
	assert.Equal(t, []svm.AccountMeta{svm.Meta(alice, false, true)}, rec.InnerInstructions[0].Accounts)

	_, err = store.GetTransaction(types.ComputeHash([]byte("missing")))
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSimulatedResultsAreIgnored(t *testing.T) {
	store, _ := openStore(t)
	res := result("sim", 1, []types.Pubkey{payer}, nil)
	res.Simulated = true
	require.NoError(t, store.Record(res))

	_, err := store.GetTransaction(res.Signature)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSignaturesForAddress(t *testing.T) {
	store, _ := openStore(t)

	r1 := result("a", 1, []types.Pubkey{payer, alice}, nil)
	r2 := result("b", 2, []types.Pubkey{payer, bob}, nil)
	r3 := result("c", 2, []types.Pubkey{payer, alice, bob}, errors.New("boom"))
	for _, r := range []*runtime.Result{r1, r2, r3} {
		require.NoError(t, store.Record(r))
	}

	sigs, err := store.GetSignaturesForAddress(alice, nil)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, r3.Signature, sigs[0].Signature)
	assert.False(t, sigs[0].Success)
	assert.Equal(t, "boom", sigs[0].Err)
	assert.Equal(t, r1.Signature, sigs[1].Signature)

	sigs, err = store.GetSignaturesForAddress(payer, &QueryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, r3.Signature, sigs[0].Signature)
	assert.Equal(t, r2.Signature, sigs[1].Signature)

	sigs, err = store.GetSignaturesForAddress(payer, &QueryOptions{Before: &r2.Signature})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, r1.Signature, sigs[0].Signature)

	sigs, err = store.GetSignaturesForAddress(payer, &QueryOptions{MinSlot: 2})
	require.NoError(t, err)
	assert.Len(t, sigs, 2)

	sigs, err = store.GetSignaturesForAddress(program, nil)
	require.NoError(t, err)
	assert.Empty(t, sigs)

	slot2, err := store.GetTransactionsForSlot(2)
	require.NoError(t, err)
	assert.Equal(t, []runtime.Signature{r2.Signature, r3.Signature}, slot2)
}

func TestEvents(t *testing.T) {
	store, _ := openStore(t)

	other := runtime.InnerInstruction{Instruction: svm.Instruction{ProgramID: bob, Data: []byte{0xe4}}}
	require.NoError(t, store.Record(result("e1", 1, []types.Pubkey{payer}, nil, event(1), other, event(2))))
	require.NoError(t, store.Record(result("e2", 2, []types.Pubkey{payer}, nil, event(3))))
	// Failed transactions emit nothing.
	require.NoError(t, store.Record(result("e3", 3, []types.Pubkey{payer}, errors.New("fail"), event(4))))

	events, err := store.GetEvents(program, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []byte{0xe4, 3}, events[0].Data)
	assert.Equal(t, []byte{0xe4, 2}, events[1].Data)
	assert.Equal(t, []byte{0xe4, 1}, events[2].Data)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.TransactionCount)
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, uint64(3), stats.EventCount)
	assert.Equal(t, uint64(3), stats.LatestSlot)
}

func TestReopenKeepsSequence(t *testing.T) {
	store, path := openStore(t)
	r1 := result("first", 1, []types.Pubkey{alice}, nil)
	require.NoError(t, store.Record(r1))
	require.NoError(t, store.Close())

	_, err := store.GetTransaction(r1.Signature)
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	defer reopened.Close()

	r2 := result("second", 1, []types.Pubkey{alice}, nil)
	require.NoError(t, reopened.Record(r2))

	sigs, err := reopened.GetSignaturesForAddress(alice, nil)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, r2.Signature, sigs[0].Signature)

	stats, err := reopened.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TransactionCount)
	assert.Positive(t, stats.DatabaseSize)
}

func TestPrune(t *testing.T) {
	store, _ := openStore(t)
	for slot := uint64(1); slot <= 10; slot++ {
		require.NoError(t, store.Record(result(string(rune('a'+slot)), slot, []types.Pubkey{alice}, nil, event(byte(slot)))))
	}

	removed, err := store.Prune(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), removed)

	sigs, err := store.GetSignaturesForAddress(alice, nil)
	require.NoError(t, err)
	assert.Len(t, sigs, 4)
	assert.Equal(t, uint64(7), sigs[len(sigs)-1].Slot)

	events, err := store.GetEvents(program, nil)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stats.TransactionCount)
	assert.Equal(t, uint64(4), stats.EventCount)

	removed, err = store.Prune(100)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
