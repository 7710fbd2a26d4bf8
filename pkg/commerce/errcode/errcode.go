// Package errcode defines the commerce program's failure codes.
//
// Codes are part of the program's observable contract: values are explicit
// and must never be renumbered. Zero is reserved for success.
package errcode

import (
	"errors"
	"fmt"

	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

// Code is a program failure code.
type Code uint32

const (
	Unreachable               Code = 1
	UnknownInstruction        Code = 2
	InvalidInstructionData    Code = 3
	NotEnoughAccountKeys      Code = 4
	InvalidAccountData        Code = 5
	MissingRequiredSignature  Code = 6
	AccountNotWritable        Code = 7
	InvalidAccountOwner       Code = 8
	InvalidSeeds              Code = 9
	IncorrectProgramID        Code = 10
	UnauthorizedAuthority     Code = 11
	AccountAlreadyInitialized Code = 12
	UninitializedAccount      Code = 13
	ArithmeticOverflow        Code = 14
	InsufficientFunds         Code = 15
	InvalidPaymentStatus      Code = 16
	InvalidOrderID            Code = 17
	UnsupportedCurrency       Code = 18
	InvalidMint               Code = 19
	InvalidTokenAccount       Code = 20
	InvalidEventAuthority     Code = 21
	InvalidFee                Code = 22
	InvalidPolicy             Code = 23
	TooManyCurrencies         Code = 24
	AmountBelowMinimum        Code = 25
	RefundAmountExceeded      Code = 26
	RefundWindowExpired       Code = 27
	SettlementNotReady        Code = 28
	PaymentNotClosable        Code = 29
	MerchantMismatch          Code = 30
	OperatorMismatch          Code = 31
	ComputeBudgetExceeded     Code = 32
)

type info struct {
	name string
	msg  string
}

var codes = map[Code]info{
	Unreachable:               {"Unreachable", "Internal invariant violated"},
	UnknownInstruction:        {"UnknownInstruction", "Unknown instruction discriminant"},
	InvalidInstructionData:    {"InvalidInstructionData", "Instruction data has the wrong length or encoding"},
	NotEnoughAccountKeys:      {"NotEnoughAccountKeys", "Not enough accounts supplied"},
	InvalidAccountData:        {"InvalidAccountData", "Account data has the wrong length or discriminant"},
	MissingRequiredSignature:  {"MissingRequiredSignature", "A required signature is missing"},
	AccountNotWritable:        {"AccountNotWritable", "Account must be writable"},
	InvalidAccountOwner:       {"InvalidAccountOwner", "Account is owned by the wrong program"},
	InvalidSeeds:              {"InvalidSeeds", "Account does not match its derived address"},
	IncorrectProgramID:        {"IncorrectProgramID", "Unexpected program account"},
	UnauthorizedAuthority:     {"UnauthorizedAuthority", "Signer is not the recorded authority"},
	AccountAlreadyInitialized: {"AccountAlreadyInitialized", "Account is already initialized"},
	UninitializedAccount:      {"UninitializedAccount", "Account is not initialized"},
	ArithmeticOverflow:        {"ArithmeticOverflow", "Arithmetic overflow"},
	InsufficientFunds:         {"InsufficientFunds", "Insufficient funds"},
	InvalidPaymentStatus:      {"InvalidPaymentStatus", "Payment is not in a valid status for this operation"},
	InvalidOrderID:            {"InvalidOrderID", "Order id must follow the config's current order id"},
	UnsupportedCurrency:       {"UnsupportedCurrency", "Mint is not an accepted currency"},
	InvalidMint:               {"InvalidMint", "Invalid mint account"},
	InvalidTokenAccount:       {"InvalidTokenAccount", "Invalid token account"},
	InvalidEventAuthority:     {"InvalidEventAuthority", "Invalid event authority"},
	InvalidFee:                {"InvalidFee", "Invalid operator fee"},
	InvalidPolicy:             {"InvalidPolicy", "Invalid policy"},
	TooManyCurrencies:         {"TooManyCurrencies", "Too many accepted currencies"},
	AmountBelowMinimum:        {"AmountBelowMinimum", "Amount is below the settlement minimum"},
	RefundAmountExceeded:      {"RefundAmountExceeded", "Amount exceeds the refund policy maximum"},
	RefundWindowExpired:       {"RefundWindowExpired", "Refund window has expired"},
	SettlementNotReady:        {"SettlementNotReady", "Settlement frequency has not elapsed"},
	PaymentNotClosable:        {"PaymentNotClosable", "Payment cannot be closed yet"},
	MerchantMismatch:          {"MerchantMismatch", "Config does not belong to this merchant"},
	OperatorMismatch:          {"OperatorMismatch", "Config does not belong to this operator"},
	ComputeBudgetExceeded:     {"ComputeBudgetExceeded", "Compute budget exceeded"},
}

// Error implements error.
func (c Code) Error() string {
	return fmt.Sprintf("commerce error %d: %s", uint32(c), c.Name())
}

// Name returns the stable name of the code.
func (c Code) Name() string {
	if i, ok := codes[c]; ok {
		return i.name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Message returns a human-readable description of the code.
func (c Code) Message() string {
	return codes[c].msg
}

// Valid reports whether c is a defined code.
func (c Code) Valid() bool {
	_, ok := codes[c]
	return ok
}

// All returns every defined code in ascending order.
func All() []Code {
	out := make([]Code, 0, len(codes))
	for c := Unreachable; c <= ComputeBudgetExceeded; c++ {
		out = append(out, c)
	}
	return out
}

var sentinels = []struct {
	err  error
	code Code
}{
	{svm.ErrNotEnoughAccountKeys, NotEnoughAccountKeys},
	{svm.ErrMissingRequiredSignature, MissingRequiredSignature},
	{svm.ErrPrivilegeEscalation, MissingRequiredSignature},
	{svm.ErrAccountNotWritable, AccountNotWritable},
	{svm.ErrInvalidAccountOwner, InvalidAccountOwner},
	{svm.ErrInvalidAccountData, InvalidAccountData},
	{svm.ErrInvalidInstructionData, InvalidInstructionData},
	{svm.ErrInsufficientFunds, InsufficientFunds},
	{svm.ErrArithmeticOverflow, ArithmeticOverflow},
	{svm.ErrAccountAlreadyInUse, AccountAlreadyInitialized},
	{svm.ErrInvalidSeeds, InvalidSeeds},
	{svm.ErrUnknownProgram, IncorrectProgramID},
	{svm.ErrComputeExceeded, ComputeBudgetExceeded},
	{token.ErrAccountFrozen, InvalidTokenAccount},
	{token.ErrOwnerMismatch, InvalidTokenAccount},
	{token.ErrUninitializedState, InvalidTokenAccount},
	{token.ErrMintMismatch, InvalidMint},
	{token.ErrMintDecimalsMismatch, InvalidMint},
	{token.ErrInvalidMint, InvalidMint},
	{token.ErrAlreadyInUse, AccountAlreadyInitialized},
}

// From maps any error to exactly one code. Nil maps to zero.
func From(err error) Code {
	if err == nil {
		return 0
	}
	var c Code
	if errors.As(err, &c) && c.Valid() {
		return c
	}
	var ie *svm.InstructionError
	if errors.As(err, &ie) && Code(ie.Code).Valid() {
		return Code(ie.Code)
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return Unreachable
}
