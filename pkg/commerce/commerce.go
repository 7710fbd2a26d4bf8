// Package commerce is the host-facing surface of the commerce program: the
// entrypoint, the builtin adapter the runtime registers, and the IDL.
package commerce

import (
	"fmt"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/processor"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// ProgramID is the commerce program address.
var ProgramID = constants.ProgramID

// Success is the entrypoint's return value when the instruction succeeded.
const Success uint64 = 0

var defaultProcessor = processor.NewProcessor()

// Entrypoint runs one instruction and returns Success or the failure code.
func Entrypoint(ctx svm.InvokeContext, data []byte) uint64 {
	if ctx.ProgramID() != constants.ProgramID {
		return uint64(errcode.IncorrectProgramID)
	}
	if err := defaultProcessor.Process(ctx, data); err != nil {
		code := errcode.From(err)
		ctx.Log(fmt.Sprintf("Error: %s: %s", code.Name(), code.Message()))
		return uint64(code)
	}
	return Success
}

// Program adapts Entrypoint to the runtime's builtin interface.
type Program struct{}

// NewProgram returns the builtin to register under ProgramID.
func NewProgram() *Program {
	return &Program{}
}

// Process implements svm.Program. A non-zero code becomes an
// *svm.InstructionError.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	code := Entrypoint(ctx, data)
	if code == Success {
		return nil
	}
	c := errcode.Code(code)
	return &svm.InstructionError{Code: uint32(c), Name: c.Name()}
}

// Registrar is the part of the runtime Register needs.
type Registrar interface {
	Register(id types.Pubkey, prog svm.Program) error
}

// Register installs the program in rt under ProgramID.
func Register(rt Registrar) error {
	return rt.Register(constants.ProgramID, NewProgram())
}

var _ svm.Program = (*Program)(nil)
