package processor

import (
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// emit logs e by invoking EmitEvent on this program, signed by the event
// authority. The host records the CPI as an inner instruction.
func emit(ctx svm.InvokeContext, authority *svm.AccountInfo, e events.Event) error {
	ix := svm.Instruction{
		ProgramID: ctx.ProgramID(),
		Accounts:  []svm.AccountMeta{svm.Meta(authority.Key, false, true)},
		Data:      events.Payload(e),
	}
	return ctx.Invoke(ix, constants.EventAuthoritySeeds())
}

// Accounts: event_authority
func (p *Processor) emitEvent(accs []*svm.AccountInfo, ix instruction.EmitEvent) error {
	if accs[0].Key != constants.EventAuthority {
		return errcode.InvalidEventAuthority
	}
	_, err := events.DecodeEvent(ix.Event)
	return err
}
