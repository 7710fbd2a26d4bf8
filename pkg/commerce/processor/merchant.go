package processor

import (
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// Accounts: payer, authority, merchant, settlement_wallet, system_program
func (p *Processor) initializeMerchant(ctx svm.InvokeContext, accs []*svm.AccountInfo, ix instruction.InitializeMerchant) error {
	payer, authority, merchant, settlement := accs[0], accs[1], accs[2], accs[3]

	seeds := [][]byte{[]byte(constants.SeedMerchant), authority.Key[:], {ix.Bump}}
	if err := verifyAddress(ctx, merchant.Key, seeds); err != nil {
		return err
	}
	create, err := prepareRecord(merchant, state.MerchantSize)
	if err != nil {
		return err
	}
	if create {
		if err := createRecord(ctx, payer, merchant, state.MerchantSize, seeds); err != nil {
			return err
		}
	}

	m, err := state.InitMerchant(merchant.Data)
	if err != nil {
		return err
	}
	m.Store(state.MerchantData{Owner: authority.Key, Bump: ix.Bump, SettlementWallet: settlement.Key})
	return nil
}

// Accounts: payer, authority, operator, system_program
func (p *Processor) initializeOperator(ctx svm.InvokeContext, accs []*svm.AccountInfo, ix instruction.InitializeOperator) error {
	payer, authority, operator := accs[0], accs[1], accs[2]

	seeds := [][]byte{[]byte(constants.SeedOperator), authority.Key[:], {ix.Bump}}
	if err := verifyAddress(ctx, operator.Key, seeds); err != nil {
		return err
	}
	create, err := prepareRecord(operator, state.OperatorSize)
	if err != nil {
		return err
	}
	if create {
		if err := createRecord(ctx, payer, operator, state.OperatorSize, seeds); err != nil {
			return err
		}
	}

	o, err := state.InitOperator(operator.Data)
	if err != nil {
		return err
	}
	o.Store(state.OperatorData{Owner: authority.Key, Bump: ix.Bump})
	return nil
}

// Accounts: authority, merchant, new_settlement_wallet
func (p *Processor) updateMerchantSettlementWallet(accs []*svm.AccountInfo) error {
	m, err := ownMerchant(accs[0], accs[1])
	if err != nil {
		return err
	}
	m.SetSettlementWallet(accs[2].Key)
	return nil
}

// Accounts: authority, merchant, new_authority
func (p *Processor) updateMerchantAuthority(accs []*svm.AccountInfo) error {
	m, err := ownMerchant(accs[0], accs[1])
	if err != nil {
		return err
	}
	m.SetOwner(accs[2].Key)
	return nil
}

// Accounts: authority, operator, new_authority
func (p *Processor) updateOperatorAuthority(accs []*svm.AccountInfo) error {
	o, err := ownOperator(accs[0], accs[1])
	if err != nil {
		return err
	}
	o.SetOwner(accs[2].Key)
	return nil
}

// ownMerchant loads the merchant record and requires authority to own it.
func ownMerchant(authority, acc *svm.AccountInfo) (state.Merchant, error) {
	m, err := loadMerchant(acc)
	if err != nil {
		return state.Merchant{}, err
	}
	if m.Owner() != authority.Key {
		return state.Merchant{}, errcode.UnauthorizedAuthority
	}
	return m, nil
}

// ownOperator loads the operator record and requires authority to own it.
func ownOperator(authority, acc *svm.AccountInfo) (state.Operator, error) {
	o, err := loadOperator(acc)
	if err != nil {
		return state.Operator{}, err
	}
	if o.Owner() != authority.Key {
		return state.Operator{}, errcode.UnauthorizedAuthority
	}
	return o, nil
}
