package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-commerce/pkg/accounts"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the account store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "export <file>",
			Short: "Write a compressed snapshot of every account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAccounts(a, func(db accounts.DB) error {
					h, err := accounts.SaveSnapshotFile(db, args[0])
					if err != nil {
						return err
					}
					printHeader(cmd, h)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Replace the account store with a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAccounts(a, func(db accounts.DB) error {
					h, err := accounts.LoadSnapshotFile(db, args[0])
					if err != nil {
						return err
					}
					printHeader(cmd, h)
					return nil
				})
			},
		},
	)
	return cmd
}

// withAccounts opens only the account store; snapshots leave the ledger alone.
func withAccounts(a *app, fn func(accounts.DB) error) error {
	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(a.cfg.AccountsPath()))
	if err != nil {
		return fmt.Errorf("open accounts: %w", err)
	}
	if err := fn(db); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func printHeader(cmd *cobra.Command, h accounts.SnapshotHeader) {
	fmt.Fprintf(cmd.OutOrStdout(), "version:    %d\nslot:       %d\naccounts:   %d\nstate hash: %s\n",
		h.Version, h.Slot, h.AccountsCount, h.StateHash)
}
