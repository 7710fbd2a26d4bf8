package runtime

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

var (
	ErrMissingAccount          = errors.New("instruction references an account the caller did not pass")
	ErrMissingProgramAccount   = errors.New("invoked program account not passed to caller")
	ErrReadonlyDataModified    = errors.New("instruction modified data of a read-only account")
	ErrExternalDataModified    = errors.New("instruction modified data of an account it does not own")
	ErrReadonlyLamportChange   = errors.New("instruction changed the balance of a read-only account")
	ErrExternalAccountDebited  = errors.New("instruction spent from the balance of an account it does not own")
	ErrModifiedProgramID       = errors.New("instruction illegally modified the program id of an account")
	ErrExecutableModified      = errors.New("instruction changed executable flag of an account")
	ErrUnbalancedInstruction   = errors.New("sum of account balances before and after instruction do not match")
	ErrInstructionDataTooLarge = errors.New("cross-program invocation data too large")
)

// txState is the per-transaction working set shared by every frame.
type txState struct {
	rt      *Runtime
	meter   *svm.ComputeMeter
	working map[types.Pubkey]*accounts.Account
	clock   svm.Clock
	logs    []string
	inner   []InnerInstruction
	topIdx  int
	stack   []types.Pubkey
}

// frame is one call frame; it implements svm.InvokeContext.
type frame struct {
	tx        *txState
	programID types.Pubkey
	infos     []*svm.AccountInfo
	pre       map[types.Pubkey]*accounts.Account
	writable  map[types.Pubkey]bool
}

func newFrame(tx *txState, programID types.Pubkey, infos []*svm.AccountInfo) *frame {
	f := &frame{
		tx:        tx,
		programID: programID,
		infos:     infos,
		writable:  make(map[types.Pubkey]bool, len(infos)),
	}
	for _, info := range infos {
		f.writable[info.Key] = f.writable[info.Key] || info.IsWritable
	}
	f.snapshot()
	return f
}

// snapshot records the frame's accounts as the baseline for verify.
func (f *frame) snapshot() {
	f.pre = make(map[types.Pubkey]*accounts.Account, len(f.infos))
	for _, info := range f.infos {
		if _, ok := f.pre[info.Key]; !ok {
			f.pre[info.Key] = info.Account.Clone()
		}
	}
}

// verify checks every change since the last snapshot against the ownership
// rules for f.programID.
func (f *frame) verify() error {
	var before, after uint128
	for key, pre := range f.pre {
		post := f.tx.working[key]
		before = before.add(pre.Lamports)
		after = after.add(post.Lamports)
		if err := verifyAccount(f.programID, pre, post, f.writable[key]); err != nil {
			return fmt.Errorf("account %s: %w", key, err)
		}
	}
	if before != after {
		return ErrUnbalancedInstruction
	}
	return nil
}

func verifyAccount(program types.Pubkey, pre, post *accounts.Account, writable bool) error {
	if pre.Executable != post.Executable {
		return ErrExecutableModified
	}
	if pre.Owner != post.Owner {
		if !writable || pre.Owner != program || pre.Executable || !isZeroed(post.Data) {
			return ErrModifiedProgramID
		}
	}
	if pre.Lamports != post.Lamports {
		if !writable {
			return ErrReadonlyLamportChange
		}
		if post.Lamports < pre.Lamports && pre.Owner != program {
			return ErrExternalAccountDebited
		}
	}
	if !bytesEqual(pre.Data, post.Data) {
		if !writable {
			return ErrReadonlyDataModified
		}
		if pre.Owner != program {
			return ErrExternalDataModified
		}
	}
	return nil
}

func isZeroed(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f *frame) ProgramID() types.Pubkey { return f.programID }

func (f *frame) NumAccounts() int { return len(f.infos) }

func (f *frame) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(f.infos) {
		return nil, fmt.Errorf("account index %d out of bounds (%d accounts)", index, len(f.infos))
	}
	return f.infos[index], nil
}

func (f *frame) GetRentMinimum(dataLen uint64) uint64 { return svm.RentMinimum(dataLen) }

func (f *frame) Clock() svm.Clock { return f.tx.clock }

func (f *frame) ConsumeCU(cost uint64) error { return f.tx.meter.Consume(cost) }

func (f *frame) Log(msg string) {
	// Log volume is bounded by compute; an exhausted meter surfaces on the
	// program's next ConsumeCU.
	_ = f.tx.meter.Consume(svm.CULogBase)
	f.tx.logs = append(f.tx.logs, "Program log: "+msg)
}

func (f *frame) StackHeight() int { return len(f.tx.stack) }

// Invoke runs a cross-program invocation on behalf of this frame.
func (f *frame) Invoke(ix svm.Instruction, signerSeeds ...[][]byte) error {
	tx := f.tx
	if len(tx.stack) >= svm.CPIDepthMax {
		return svm.ErrCallDepthExceeded
	}
	if len(ix.Data) > MaxInstructionDataSize {
		return ErrInstructionDataTooLarge
	}
	if err := tx.meter.Consume(svm.CUInvokeBase + svm.CUInvokePerAccount*uint64(len(ix.Accounts))); err != nil {
		return err
	}
	if ix.ProgramID != f.programID {
		for _, p := range tx.stack {
			if p == ix.ProgramID {
				return svm.ErrReentrancy
			}
		}
		if !f.hasAccount(ix.ProgramID) {
			return ErrMissingProgramAccount
		}
	}

	pdaSigners := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := tx.rt.derive(seeds, f.programID, tx.meter)
		if err != nil {
			return fmt.Errorf("%w: %v", svm.ErrInvalidSeeds, err)
		}
		pdaSigners[addr] = true
	}

	calleeInfos := make([]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		caller := f.lookup(meta.Pubkey)
		if caller == nil {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		if meta.IsWritable && !f.writable[meta.Pubkey] {
			return fmt.Errorf("%w: writable %s", svm.ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsSigner && !f.isSigner(meta.Pubkey) && !pdaSigners[meta.Pubkey] {
			return fmt.Errorf("%w: signer %s", svm.ErrPrivilegeEscalation, meta.Pubkey)
		}
		calleeInfos[i] = &svm.AccountInfo{
			Key:        meta.Pubkey,
			Account:    caller.Account,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
	}

	// Changes the caller made so far are its own.
	if err := f.verify(); err != nil {
		return err
	}

	tx.inner = append(tx.inner, InnerInstruction{
		Index:       tx.topIdx,
		StackHeight: len(tx.stack) + 1,
		Instruction: cloneInstruction(ix),
	})
	err := tx.rt.run(tx, ix.ProgramID, calleeInfos, ix.Data)
	f.snapshot()
	return err
}

func (f *frame) lookup(key types.Pubkey) *svm.AccountInfo {
	for _, info := range f.infos {
		if info.Key == key {
			return info
		}
	}
	return nil
}

func (f *frame) hasAccount(key types.Pubkey) bool {
	return f.lookup(key) != nil
}

func (f *frame) isSigner(key types.Pubkey) bool {
	for _, info := range f.infos {
		if info.Key == key && info.IsSigner {
			return true
		}
	}
	return false
}

func cloneInstruction(ix svm.Instruction) svm.Instruction {
	out := svm.Instruction{
		ProgramID: ix.ProgramID,
		Accounts:  append([]svm.AccountMeta(nil), ix.Accounts...),
		Data:      append([]byte(nil), ix.Data...),
	}
	return out
}

// uint128 sums lamports without overflow.
type uint128 struct{ hi, lo uint64 }

func (u uint128) add(v uint64) uint128 {
	lo := u.lo + v
	hi := u.hi
	if lo < u.lo {
		hi++
	}
	return uint128{hi: hi, lo: lo}
}

var _ svm.InvokeContext = (*frame)(nil)
