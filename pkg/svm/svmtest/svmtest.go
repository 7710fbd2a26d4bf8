// Package svmtest provides a minimal InvokeContext for unit-testing builtin
// programs without a runtime.
package svmtest

import (
	"fmt"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// Context is a single call frame over a fixed account list.
type Context struct {
	Program  types.Pubkey
	Infos    []*svm.AccountInfo
	Now      svm.Clock
	Meter    *svm.ComputeMeter
	Logs     []string
	Height   int
	Invoked  []svm.Instruction
	InvokeFn func(ix svm.Instruction, signerSeeds [][][]byte) error
}

// NewContext creates a frame for program over infos with an unmetered budget.
func NewContext(program types.Pubkey, infos ...*svm.AccountInfo) *Context {
	return &Context{
		Program: program,
		Infos:   infos,
		Meter:   svm.NewComputeMeterDisabled(),
		Height:  1,
	}
}

// Account builds an AccountInfo.
func Account(key, owner types.Pubkey, lamports uint64, data []byte, writable, signer bool) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        key,
		Account:    &accounts.Account{Lamports: lamports, Data: data, Owner: owner},
		IsSigner:   signer,
		IsWritable: writable,
	}
}

func (c *Context) ProgramID() types.Pubkey { return c.Program }

func (c *Context) NumAccounts() int { return len(c.Infos) }

func (c *Context) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.Infos) {
		return nil, fmt.Errorf("account index %d out of range", index)
	}
	return c.Infos[index], nil
}

func (c *Context) GetRentMinimum(dataLen uint64) uint64 { return svm.RentMinimum(dataLen) }

func (c *Context) Clock() svm.Clock { return c.Now }

func (c *Context) ConsumeCU(cost uint64) error { return c.Meter.Consume(cost) }

func (c *Context) Log(msg string) { c.Logs = append(c.Logs, msg) }

func (c *Context) StackHeight() int { return c.Height }

// Invoke records ix and delegates to InvokeFn, failing with
// svm.ErrUnknownProgram when none is set.
func (c *Context) Invoke(ix svm.Instruction, signerSeeds ...[][]byte) error {
	c.Invoked = append(c.Invoked, ix)
	if c.InvokeFn == nil {
		return svm.ErrUnknownProgram
	}
	return c.InvokeFn(ix, signerSeeds)
}

var _ svm.InvokeContext = (*Context)(nil)
