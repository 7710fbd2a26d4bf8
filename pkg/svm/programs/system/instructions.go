package system

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// CreateAccount builds a CreateAccount instruction.
// Accounts: [0] funder (writable, signer), [1] new account (writable, signer).
func CreateAccount(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+48)
	binary.LittleEndian.PutUint32(data[0:], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(funder, true, true),
			svm.Meta(newAccount, true, true),
		},
		Data: data,
	}
}

// Transfer builds a Transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(from, true, true),
			svm.Meta(to, true, false),
		},
		Data: data,
	}
}

// Allocate builds an Allocate instruction.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:], InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.Meta(account, true, true)},
		Data:      data,
	}
}

// Assign builds an Assign instruction.
func Assign(account, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:], InstructionAssign)
	copy(data[4:], owner[:])
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.Meta(account, true, true)},
		Data:      data,
	}
}

// CreateAccountWithSeed builds a CreateAccountWithSeed instruction. The base
// is appended as a third signer account when it differs from the funder.
func CreateAccountWithSeed(funder, newAccount, base types.Pubkey, seed string, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 0, 4+32+8+len(seed)+48)
	data = binary.LittleEndian.AppendUint32(data, InstructionCreateAccountWithSeed)
	data = append(data, base[:]...)
	data = binary.LittleEndian.AppendUint64(data, uint64(len(seed)))
	data = append(data, seed...)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)

	metas := []svm.AccountMeta{
		svm.Meta(funder, true, true),
		svm.Meta(newAccount, true, false),
	}
	if base != funder {
		metas = append(metas, svm.Meta(base, false, true))
	}
	return svm.Instruction{ProgramID: ProgramID, Accounts: metas, Data: data}
}

// TransferWithSeed builds a TransferWithSeed instruction.
func TransferWithSeed(from, base types.Pubkey, seed string, fromOwner, to types.Pubkey, lamports uint64) svm.Instruction {
	data := make([]byte, 0, 4+16+len(seed)+32)
	data = binary.LittleEndian.AppendUint32(data, InstructionTransferWithSeed)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, uint64(len(seed)))
	data = append(data, seed...)
	data = append(data, fromOwner[:]...)
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(from, true, false),
			svm.Meta(base, false, true),
			svm.Meta(to, true, false),
		},
		Data: data,
	}
}
