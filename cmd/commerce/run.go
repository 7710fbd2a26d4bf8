package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-commerce/pkg/accounts"
)

func newRunCmd(a *app) *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a YAML scenario against the data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			n, err := openNode(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer n.Close()

			out := cmd.OutOrStdout()
			if err := newRunner(n, out).run(cmd.Context(), sc); err != nil {
				return err
			}
			if showMetrics {
				n.logMetrics()
			}

			hash, err := accounts.ComputeStateHash(n.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "slot:       %d\nstate hash: %s\n", n.db.GetSlot(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "log runtime metrics when done")
	return cmd
}
