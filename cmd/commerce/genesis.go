package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-commerce/pkg/accounts"
)

func newGenesisCmd(a *app) *cobra.Command {
	var fund map[string]string
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Initialize the data directory and fund accounts",
		Example: `  commerce genesis --fund payer=100 --fund alice=5
  commerce genesis --fund 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin=1.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer n.Close()

			for _, name := range sortedKeys(fund) {
				lamports, err := parseAmount(fund[name], LamportDecimals)
				if err != nil {
					return fmt.Errorf("fund %s: %w", name, err)
				}
				key := resolveKey(name)
				if err := n.fund(key, lamports); err != nil {
					return err
				}
				a.log.Info("funded account", "name", name, "address", key, "sol", fund[name])
			}

			hash, err := accounts.ComputeStateHash(n.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slot:       %d\nstate hash: %s\n", n.db.GetSlot(), hash)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&fund, "fund", nil, "credit name=SOL before starting (repeatable)")
	return cmd
}
