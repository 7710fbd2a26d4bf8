package token

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// InitializeMint2 builds an InitializeMint2 instruction.
func InitializeMint2(mint types.Pubkey, decimals uint8, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey) svm.Instruction {
	data := make([]byte, 0, 67)
	data = append(data, InstructionInitializeMint2, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority != nil {
		data = append(data, 1)
		data = append(data, freezeAuthority[:]...)
	} else {
		data = append(data, 0)
	}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.Meta(mint, true, false)},
		Data:      data,
	}
}

// InitializeAccount3 builds an InitializeAccount3 instruction.
func InitializeAccount3(account, mint, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 0, 33)
	data = append(data, InstructionInitializeAccount3)
	data = append(data, owner[:]...)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account, true, false),
			svm.Meta(mint, false, false),
		},
		Data: data,
	}
}

// MintTo builds a MintTo instruction.
func MintTo(mint, destination, authority types.Pubkey, amount uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(mint, true, false),
			svm.Meta(destination, true, false),
			svm.Meta(authority, false, true),
		},
		Data: amountData(InstructionMintTo, amount),
	}
}

// Transfer builds a Transfer instruction.
func Transfer(source, destination, authority types.Pubkey, amount uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(source, true, false),
			svm.Meta(destination, true, false),
			svm.Meta(authority, false, true),
		},
		Data: amountData(InstructionTransfer, amount),
	}
}

// TransferChecked builds a TransferChecked instruction.
func TransferChecked(source, mint, destination, authority types.Pubkey, amount uint64, decimals uint8) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(source, true, false),
			svm.Meta(mint, false, false),
			svm.Meta(destination, true, false),
			svm.Meta(authority, false, true),
		},
		Data: append(amountData(InstructionTransferChecked, amount), decimals),
	}
}

// CloseAccount builds a CloseAccount instruction.
func CloseAccount(account, destination, authority types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account, true, false),
			svm.Meta(destination, true, false),
			svm.Meta(authority, false, true),
		},
		Data: []byte{InstructionCloseAccount},
	}
}

func amountData(disc uint8, amount uint64) []byte {
	data := make([]byte, 9, 10)
	data[0] = disc
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}
