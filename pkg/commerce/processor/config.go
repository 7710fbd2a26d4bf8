package processor

import (
	"encoding/binary"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// configSeeds returns the signer seeds of a config PDA.
func configSeeds(merchant, operator types.Pubkey, version uint32, bump uint8) [][]byte {
	return [][]byte{
		[]byte(constants.SeedConfig),
		merchant[:],
		operator[:],
		binary.LittleEndian.AppendUint32(nil, version),
		{bump},
	}
}

// Accounts: payer, authority, merchant, operator, config, system_program,
// then one mint per accepted currency.
func (p *Processor) initializeConfig(ctx svm.InvokeContext, accs []*svm.AccountInfo, ix instruction.InitializeMerchantOperatorConfig) error {
	payer, authority, merchantAcc, operatorAcc, configAcc := accs[0], accs[1], accs[2], accs[3], accs[4]
	mints := accs[len(instruction.KindInitializeMerchantOperatorConfig.Accounts()):]

	if _, err := ownMerchant(authority, merchantAcc); err != nil {
		return err
	}
	if _, err := loadOperator(operatorAcc); err != nil {
		return err
	}
	if err := state.ValidateFee(ix.FeeType, ix.OperatorFee); err != nil {
		return err
	}
	if err := state.ValidatePolicies(ix.Policies); err != nil {
		return err
	}
	if err := state.ValidateCurrencies(ix.Currencies); err != nil {
		return err
	}
	if len(mints) < len(ix.Currencies) {
		return errcode.NotEnoughAccountKeys
	}
	for i, currency := range ix.Currencies {
		if mints[i].Key != currency {
			return errcode.InvalidMint
		}
		if _, err := loadMint(mints[i]); err != nil {
			return err
		}
	}

	seeds := configSeeds(merchantAcc.Key, operatorAcc.Key, ix.Version, ix.Bump)
	if err := verifyAddress(ctx, configAcc.Key, seeds); err != nil {
		return err
	}
	size := state.ConfigSize(len(ix.Policies), len(ix.Currencies))
	create, err := prepareRecord(configAcc, size)
	if err != nil {
		return err
	}
	if create {
		if err := createRecord(ctx, payer, configAcc, size, seeds); err != nil {
			return err
		}
	}

	cfg, err := state.InitConfig(configAcc.Data, len(ix.Policies), len(ix.Currencies))
	if err != nil {
		return err
	}
	return cfg.Store(state.ConfigData{
		Version:     ix.Version,
		Bump:        ix.Bump,
		Merchant:    merchantAcc.Key,
		Operator:    operatorAcc.Key,
		OperatorFee: ix.OperatorFee,
		FeeType:     ix.FeeType,
		DaysToClose: ix.DaysToClose,
		Policies:    ix.Policies,
		Currencies:  ix.Currencies,
	})
}

// paymentContext is the state shared by the payment handlers once the
// operator, merchant, config and mint have been validated.
type paymentContext struct {
	operator state.Operator
	merchant state.Merchant
	config   state.Config
	mint     *svm.AccountInfo
	decimals uint8
}

// loadPaymentContext validates that authority runs operatorAcc, that the
// config binds merchantAcc to operatorAcc and that it accepts mintAcc.
func loadPaymentContext(authority, operatorAcc, merchantAcc, configAcc, mintAcc *svm.AccountInfo) (*paymentContext, error) {
	operator, err := ownOperator(authority, operatorAcc)
	if err != nil {
		return nil, err
	}
	merchant, err := loadMerchant(merchantAcc)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(configAcc)
	if err != nil {
		return nil, err
	}
	if cfg.Merchant() != merchantAcc.Key {
		return nil, errcode.MerchantMismatch
	}
	if cfg.Operator() != operatorAcc.Key {
		return nil, errcode.OperatorMismatch
	}
	if !cfg.Accepts(mintAcc.Key) {
		return nil, errcode.UnsupportedCurrency
	}
	mint, err := loadMint(mintAcc)
	if err != nil {
		return nil, err
	}
	return &paymentContext{
		operator: operator,
		merchant: merchant,
		config:   cfg,
		mint:     mintAcc,
		decimals: mint.Decimals,
	}, nil
}

// signer returns the config PDA's signer seeds.
func (pc *paymentContext) signer() [][]byte {
	return configSeeds(pc.config.Merchant(), pc.config.Operator(), pc.config.Version(), pc.config.Bump())
}
