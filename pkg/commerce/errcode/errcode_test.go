package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

func TestCodesAreStable(t *testing.T) {
	assert.Equal(t, Code(1), Unreachable)
	assert.Equal(t, Code(12), AccountAlreadyInitialized)
	assert.Equal(t, Code(15), InsufficientFunds)
	assert.Equal(t, Code(32), ComputeBudgetExceeded)

	all := All()
	assert.Len(t, all, 32)
	names := make(map[string]bool)
	for i, c := range all {
		assert.Equal(t, Code(i+1), c)
		assert.True(t, c.Valid())
		assert.NotEmpty(t, c.Message())
		assert.False(t, names[c.Name()], "duplicate name %s", c.Name())
		names[c.Name()] = true
	}
	assert.False(t, Code(0).Valid())
	assert.False(t, Code(33).Valid())
}

func TestError(t *testing.T) {
	assert.Equal(t, "commerce error 16: InvalidPaymentStatus", InvalidPaymentStatus.Error())
	assert.Equal(t, "Code(99)", Code(99).Name())
}

func TestFrom(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, 0},
		{InvalidFee, InvalidFee},
		{fmt.Errorf("wrapped: %w", RefundWindowExpired), RefundWindowExpired},
		{&svm.InstructionError{Code: uint32(InvalidEventAuthority)}, InvalidEventAuthority},
		{&svm.InstructionError{Code: 4242}, Unreachable},
		{svm.ErrInsufficientFunds, InsufficientFunds},
		{fmt.Errorf("token: %w", svm.ErrInsufficientFunds), InsufficientFunds},
		{svm.ErrMissingRequiredSignature, MissingRequiredSignature},
		{svm.ErrComputeExceeded, ComputeBudgetExceeded},
		{svm.ErrArithmeticOverflow, ArithmeticOverflow},
		{svm.ErrNotEnoughAccountKeys, NotEnoughAccountKeys},
		{fmt.Errorf("instruction 0: %w", token.ErrAccountFrozen), InvalidTokenAccount},
		{token.ErrOwnerMismatch, InvalidTokenAccount},
		{token.ErrMintMismatch, InvalidMint},
		{token.ErrMintDecimalsMismatch, InvalidMint},
		{token.ErrOverflow, ArithmeticOverflow},
		{errors.New("something else"), Unreachable},
		{Code(77), Unreachable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, From(tt.err), "%v", tt.err)
	}
}
