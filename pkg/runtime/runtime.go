// Package runtime executes transactions against an accounts.DB.
//
// Each transaction runs its instructions in order against a shared working
// set of accounts. Programs may invoke other registered programs through
// cross-program invocation; privileges are checked at every call and
// account ownership rules are verified at every frame boundary. Changes are
// applied to the database only when every instruction succeeds.
package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/pda"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/associatedtoken"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/system"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

var (
	ErrProgramAlreadyRegistered = errors.New("program already registered")
	ErrProgramNotExecutable     = errors.New("program account is not executable")
)

// Config holds runtime configuration.
type Config struct {
	// ComputeUnitLimit is the per-transaction budget when a transaction
	// does not set its own.
	ComputeUnitLimit uint64

	// PDACacheSize bounds the cache of verified signer seeds.
	PDACacheSize int

	// Logger receives execution logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives runtime metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Recorder, when set, receives every committed or failed result.
	Recorder Recorder
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		ComputeUnitLimit: svm.CUDefault,
		PDACacheSize:     4096,
	}
}

// Recorder persists execution results.
type Recorder interface {
	Record(res *Result) error
}

// InnerInstruction is a cross-program invocation issued while executing
// the top-level instruction at Index.
type InnerInstruction struct {
	Index       int
	StackHeight int
	Instruction svm.Instruction
}

// Result describes one executed transaction.
type Result struct {
	Signature            Signature
	Slot                 uint64
	BlockTime            int64
	FeePayer             types.Pubkey
	AccountKeys          []types.Pubkey
	Success              bool
	Err                  error
	FailedInstruction    int
	ComputeUnitsConsumed uint64
	Logs                 []string
	InnerInstructions    []InnerInstruction
	ModifiedAccounts     []types.Pubkey

	// Simulated results are never committed or recorded.
	Simulated bool
}

// Runtime executes transactions. Execute calls are serialized.
type Runtime struct {
	mu sync.Mutex

	db       accounts.DB
	programs map[types.Pubkey]svm.Program
	config   Config
	log      *slog.Logger
	metrics  *metrics
	pdaCache *lru.Cache

	clock     svm.Clock
	seqInSlot uint64
}

// New creates a runtime over db.
func New(db accounts.DB, config Config) (*Runtime, error) {
	if config.PDACacheSize <= 0 {
		config.PDACacheSize = DefaultConfig().PDACacheSize
	}
	cache, err := lru.New(config.PDACacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pda cache: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newMetrics(config.Registerer)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:       db,
		programs: make(map[types.Pubkey]svm.Program),
		config:   config,
		log:      logger.With("component", "runtime"),
		metrics:  m,
		pdaCache: cache,
		clock:    svm.Clock{Slot: db.GetSlot()},
	}, nil
}

// NewWithBuiltins creates a runtime with the system, token and
// associated-token programs registered.
func NewWithBuiltins(db accounts.DB, config Config) (*Runtime, error) {
	rt, err := New(db, config)
	if err != nil {
		return nil, err
	}
	builtins := []struct {
		id   types.Pubkey
		prog svm.Program
	}{
		{system.ProgramID, system.NewProcessor()},
		{token.ProgramID, token.NewProcessor()},
		{associatedtoken.ProgramID, associatedtoken.NewProcessor()},
	}
	for _, b := range builtins {
		if err := rt.Register(b.id, b.prog); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Register adds a program. Its executable account is created if missing.
func (r *Runtime) Register(id types.Pubkey, prog svm.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.programs[id]; ok {
		return fmt.Errorf("%w: %s", ErrProgramAlreadyRegistered, id)
	}
	ok, err := r.db.HasAccount(id)
	if err != nil {
		return err
	}
	if !ok {
		acc := &accounts.Account{Lamports: 1, Owner: types.NativeLoaderAddr, Executable: true}
		if err := r.db.SetAccount(id, acc); err != nil {
			return fmt.Errorf("failed to install program account %s: %w", id, err)
		}
		if err := r.db.Commit(); err != nil {
			return err
		}
	}
	r.programs[id] = prog
	r.log.Debug("registered program", "program", id.String())
	return nil
}

// DB returns the underlying account store.
func (r *Runtime) DB() accounts.DB { return r.db }

// Clock returns the current clock.
func (r *Runtime) Clock() svm.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

// SetClock replaces the clock.
func (r *Runtime) SetClock(c svm.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Slot != r.clock.Slot {
		r.seqInSlot = 0
	}
	r.clock = c
}

// Advance moves the clock forward by slots and seconds.
func (r *Runtime) Advance(slots uint64, seconds int64) svm.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slots > 0 {
		r.seqInSlot = 0
	}
	r.clock.Slot += slots
	r.clock.UnixTimestamp += seconds
	return r.clock
}

// Execute runs tx and commits its effects if every instruction succeeds.
// The returned error reports malformed transactions and storage failures;
// program failures are reported in the result.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Result, error) {
	return r.execute(ctx, tx, false)
}

// Simulate runs tx without committing or recording it.
func (r *Runtime) Simulate(ctx context.Context, tx *Transaction) (*Result, error) {
	return r.execute(ctx, tx, true)
}

func (r *Runtime) execute(ctx context.Context, tx *Transaction, simulate bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := tx.AccountKeys()
	loaded := make(map[types.Pubkey]*accounts.Account, len(keys))
	working := make(map[types.Pubkey]*accounts.Account, len(keys))
	for _, key := range keys {
		acc, err := r.db.GetAccount(key)
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			acc = &accounts.Account{Owner: types.SystemProgramAddr}
		case err != nil:
			return nil, fmt.Errorf("failed to load account %s: %w", key, err)
		}
		loaded[key] = acc
		working[key] = acc.Clone()
	}

	limit := tx.ComputeUnitLimit
	if limit == 0 {
		limit = r.config.ComputeUnitLimit
	}
	state := &txState{
		rt:      r,
		meter:   svm.NewComputeMeter(limit),
		working: working,
		clock:   r.clock,
	}

	res := &Result{
		Signature:         computeSignature(tx, r.clock.Slot, r.seqInSlot),
		Slot:              r.clock.Slot,
		BlockTime:         r.clock.UnixTimestamp,
		FeePayer:          tx.FeePayer,
		AccountKeys:       keys,
		FailedInstruction: -1,
		Simulated:         simulate,
	}

	signers := tx.Signers()
	writable := map[types.Pubkey]bool{tx.FeePayer: true}
	for _, ix := range tx.Instructions {
		for _, m := range ix.Accounts {
			if m.IsWritable {
				writable[m.Pubkey] = true
			}
		}
	}

	var execErr error
	for i, ix := range tx.Instructions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state.topIdx = i
		infos := make([]*svm.AccountInfo, len(ix.Accounts))
		for j, m := range ix.Accounts {
			infos[j] = &svm.AccountInfo{
				Key:        m.Pubkey,
				Account:    working[m.Pubkey],
				IsSigner:   signers[m.Pubkey],
				IsWritable: writable[m.Pubkey],
			}
		}
		if err := r.run(state, ix.ProgramID, infos, ix.Data); err != nil {
			execErr = fmt.Errorf("instruction %d: %w", i, err)
			res.FailedInstruction = i
			break
		}
	}

	res.ComputeUnitsConsumed = state.meter.Consumed()
	res.Logs = state.logs
	res.InnerInstructions = state.inner
	res.Err = execErr
	res.Success = execErr == nil

	if res.Success {
		for _, key := range keys {
			if !working[key].Equal(loaded[key]) {
				res.ModifiedAccounts = append(res.ModifiedAccounts, key)
			}
		}
	}

	if simulate {
		return res, nil
	}
	r.seqInSlot++

	if res.Success {
		if err := r.commit(res.ModifiedAccounts, working); err != nil {
			return nil, err
		}
	}
	r.metrics.observe(tx, res)

	if res.Success {
		r.log.Debug("transaction committed",
			"signature", res.Signature.String(),
			"slot", res.Slot,
			"cu", res.ComputeUnitsConsumed,
			"modified", len(res.ModifiedAccounts))
	} else {
		r.log.Info("transaction failed",
			"signature", res.Signature.String(),
			"slot", res.Slot,
			"instruction", res.FailedInstruction,
			"error", execErr)
	}

	if r.config.Recorder != nil {
		if err := r.config.Recorder.Record(res); err != nil {
			r.log.Warn("failed to record transaction", "signature", res.Signature.String(), "error", err)
		}
	}
	return res, nil
}

func (r *Runtime) commit(modified []types.Pubkey, working map[types.Pubkey]*accounts.Account) error {
	entries := make([]accounts.AccountEntry, 0, len(modified))
	for _, key := range modified {
		acc := working[key]
		if acc.Lamports == 0 {
			// Drained accounts are garbage collected.
			acc = nil
		}
		entries = append(entries, accounts.AccountEntry{Pubkey: key, Account: acc})
	}
	if err := r.db.Apply(entries); err != nil {
		return fmt.Errorf("failed to apply account changes: %w", err)
	}
	if r.db.GetSlot() != r.clock.Slot {
		if err := r.db.SetSlot(r.clock.Slot); err != nil {
			return err
		}
	}
	return r.db.Commit()
}

// run executes one program frame at the next stack height.
func (r *Runtime) run(tx *txState, programID types.Pubkey, infos []*svm.AccountInfo, data []byte) error {
	prog, ok := r.programs[programID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, programID)
	}
	if acc := tx.working[programID]; acc == nil || !acc.Executable {
		return fmt.Errorf("%w: %s", ErrProgramNotExecutable, programID)
	}

	tx.stack = append(tx.stack, programID)
	height := len(tx.stack)
	tx.logs = append(tx.logs, fmt.Sprintf("Program %s invoke [%d]", programID, height))
	if height > 1 {
		r.metrics.cpi(programID)
	}

	before := tx.meter.Consumed()
	f := newFrame(tx, programID, infos)
	err := prog.Process(f, data)
	if err == nil {
		err = f.verify()
	}
	tx.stack = tx.stack[:height-1]

	used := tx.meter.Consumed() - before
	tx.logs = append(tx.logs, fmt.Sprintf("Program %s consumed %d of %d compute units",
		programID, used, tx.meter.Limit()))
	if err != nil {
		tx.logs = append(tx.logs, fmt.Sprintf("Program %s failed: %v", programID, err))
		return err
	}
	tx.logs = append(tx.logs, fmt.Sprintf("Program %s success", programID))
	return nil
}

// derive returns the program address for signer seeds, charging compute
// whether or not the result was cached.
func (r *Runtime) derive(seeds [][]byte, programID types.Pubkey, meter *svm.ComputeMeter) (types.Pubkey, error) {
	if err := meter.Consume(svm.CUCreateProgramAddress); err != nil {
		return types.Pubkey{}, err
	}
	key := pdaCacheKey(seeds, programID)
	if v, ok := r.pdaCache.Get(key); ok {
		return v.(types.Pubkey), nil
	}
	addr, err := pda.CreateProgramAddress(seeds, programID)
	if err != nil {
		return types.Pubkey{}, err
	}
	r.pdaCache.Add(key, addr)
	return addr, nil
}

func pdaCacheKey(seeds [][]byte, programID types.Pubkey) string {
	n := types.PubkeySize
	for _, s := range seeds {
		n += 2 + len(s)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, programID[:]...)
	for _, s := range seeds {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return string(buf)
}
