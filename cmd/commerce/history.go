package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/ledger"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit     int
		minSlot   uint64
		showEvent bool
	)
	cmd := &cobra.Command{
		Use:   "history [name|address]",
		Short: "Show recorded transactions, events or ledger statistics",
		Long: `With an address, lists the transactions that touched it, newest first.
With --events, lists the commerce events emitted by the program.
With neither, prints ledger statistics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer n.Close()

			out := cmd.OutOrStdout()
			opts := &ledger.QueryOptions{Limit: limit, MinSlot: minSlot}
			switch {
			case showEvent:
				recs, err := n.ledger.GetEvents(constants.ProgramID, opts)
				if err != nil {
					return err
				}
				for _, rec := range recs {
					e, err := events.Decode(rec.Data)
					if err != nil {
						return fmt.Errorf("decode event in %s: %w", rec.Signature, err)
					}
					p := e.Participants()
					fmt.Fprintf(out, "%d %s %s buyer=%s merchant=%s mint=%s\n", rec.Slot, rec.Signature, e.Kind(), p.Buyer, p.Merchant, p.Mint)
				}
			case len(args) == 1:
				sigs, err := n.ledger.GetSignaturesForAddress(resolveKey(args[0]), opts)
				if err != nil {
					return err
				}
				for _, s := range sigs {
					status := "ok"
					if !s.Success {
						status = "failed: " + s.Err
					}
					fmt.Fprintf(out, "%d %s %s %s\n", s.Slot, time.Unix(s.BlockTime, 0).UTC().Format(time.RFC3339), s.Signature, status)
				}
			default:
				st, err := n.ledger.GetStats()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "latest slot:  %d\ntransactions: %d (%d failed)\nevents:       %d\nsize:         %d bytes\n",
					st.LatestSlot, st.TransactionCount, st.FailedCount, st.EventCount, st.DatabaseSize)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&limit, "limit", 20, "maximum entries to show")
	flags.Uint64Var(&minSlot, "min-slot", 0, "skip entries older than this slot")
	flags.BoolVar(&showEvent, "events", false, "list program events")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var keep uint64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop ledger history older than the last --keep slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep == 0 {
				return errors.New("--keep must be positive")
			}
			n, err := openNode(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer n.Close()

			removed, err := n.ledger.Prune(keep)
			if err != nil {
				return err
			}
			a.log.Info("pruned ledger", "removed", removed, "keep_slots", keep)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&keep, "keep", 0, "slots of history to keep")
	return cmd
}
