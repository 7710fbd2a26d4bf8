package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

func newAccountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "account <name|address>",
		Short: "Show an account and decode commerce and token records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer n.Close()

			key := resolveKey(args[0])
			acc, err := n.account(key)
			if err != nil {
				return err
			}
			if acc == nil {
				return fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, key)
			}
			return describeAccount(cmd.OutOrStdout(), n, key, acc)
		},
	}
}

func describeAccount(w io.Writer, n *node, key types.Pubkey, acc *accounts.Account) error {
	fmt.Fprintf(w, "address:  %s\n", key)
	fmt.Fprintf(w, "lamports: %d (%s SOL)\n", acc.Lamports, formatAmount(acc.Lamports, LamportDecimals))
	fmt.Fprintf(w, "owner:    %s\n", acc.Owner)
	fmt.Fprintf(w, "data:     %d bytes\n", len(acc.Data))

	switch {
	case acc.Owner == constants.ProgramID && len(acc.Data) > 0:
		return describeRecord(w, acc.Data)
	case acc.Owner == token.ProgramID && len(acc.Data) == token.MintSize:
		m, err := token.UnpackMint(acc.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "mint:     decimals=%d supply=%s\n", m.Decimals, formatAmount(m.Supply, m.Decimals))
		if m.MintAuthority != nil {
			fmt.Fprintf(w, "          authority=%s\n", m.MintAuthority)
		}
	case acc.Owner == token.ProgramID && len(acc.Data) == token.AccountSize:
		ta, err := token.UnpackAccount(acc.Data)
		if err != nil {
			return err
		}
		amount := strconv.FormatUint(ta.Amount, 10)
		if mintAcc, err := n.account(ta.Mint); err == nil && mintAcc != nil {
			if m, err := token.UnpackMint(mintAcc.Data); err == nil {
				amount = formatAmount(ta.Amount, m.Decimals)
			}
		}
		fmt.Fprintf(w, "token:    mint=%s owner=%s amount=%s state=%d\n", ta.Mint, ta.Owner, amount, ta.State)
	}
	return nil
}

func describeRecord(w io.Writer, data []byte) error {
	switch state.Discriminant(data[0]) {
	case state.DiscMerchant:
		m, err := state.LoadMerchant(data)
		if err != nil {
			return err
		}
		d := m.Data()
		fmt.Fprintf(w, "merchant: authority=%s settlement_wallet=%s bump=%d\n", d.Owner, d.SettlementWallet, d.Bump)
	case state.DiscOperator:
		o, err := state.LoadOperator(data)
		if err != nil {
			return err
		}
		d := o.Data()
		fmt.Fprintf(w, "operator: authority=%s bump=%d\n", d.Owner, d.Bump)
	case state.DiscConfig:
		c, err := state.LoadConfig(data)
		if err != nil {
			return err
		}
		d, err := c.Data()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "config:   version=%d merchant=%s operator=%s\n", d.Version, d.Merchant, d.Operator)
		fmt.Fprintf(w, "          fee=%d (%s) next_order_id=%d days_to_close=%d\n", d.OperatorFee, d.FeeType, d.CurrentOrderID, d.DaysToClose)
		for _, p := range d.Policies {
			switch p.Kind {
			case state.PolicyRefund:
				fmt.Fprintf(w, "          refund: max_amount=%d max_time=%ds\n", p.Refund.MaxAmount, p.Refund.MaxTimeAfterPurchase)
			case state.PolicySettlement:
				fmt.Fprintf(w, "          settlement: min_amount=%d every=%dh\n", p.Settlement.MinSettlementAmount, p.Settlement.SettlementFrequencyHours)
			}
		}
		for _, c := range d.Currencies {
			fmt.Fprintf(w, "          currency: %s\n", c)
		}
	case state.DiscPayment:
		p, err := state.LoadPayment(data)
		if err != nil {
			return err
		}
		d := p.Data()
		fmt.Fprintf(w, "payment:  order=%d amount=%d status=%s created_at=%d\n", d.OrderID, d.Amount, d.Status, d.CreatedAt)
	default:
		fmt.Fprintf(w, "record:   %s\n", state.Discriminant(data[0]))
	}
	return nil
}
