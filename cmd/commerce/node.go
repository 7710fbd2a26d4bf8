package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortiblox/x1-commerce/internal/config"
	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/accounts"
	"github.com/fortiblox/x1-commerce/pkg/commerce"
	"github.com/fortiblox/x1-commerce/pkg/commerce/constants"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/ledger"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
)

// node is a runtime with the commerce program registered over an account
// store, optionally recording into a ledger.
type node struct {
	cfg    *config.Config
	log    *slog.Logger
	db     accounts.DB
	ledger *ledger.Store
	rt     *runtime.Runtime
	reg    *prometheus.Registry
}

// isEvent selects the commerce event self-invocations for the ledger.
func isEvent(ix svm.Instruction) bool {
	return ix.ProgramID == constants.ProgramID && events.IsPayload(ix.Data)
}

// openNode opens the badger account store and bbolt ledger under the data
// directory.
func openNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(cfg.AccountsPath()))
	if err != nil {
		return nil, fmt.Errorf("open accounts: %w", err)
	}
	lc := ledger.DefaultConfig(cfg.LedgerFile())
	lc.EventFilter = isEvent
	lc.Logger = logger
	store, err := ledger.Open(lc)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	n, err := newNode(cfg, logger, db, store)
	if err != nil {
		store.Close()
		db.Close()
		return nil, err
	}
	return n, nil
}

// newNode wires a runtime over db. store may be nil.
func newNode(cfg *config.Config, logger *slog.Logger, db accounts.DB, store *ledger.Store) (*node, error) {
	reg := prometheus.NewRegistry()
	var rec runtime.Recorder
	if store != nil {
		rec = store
	}
	rt, err := runtime.NewWithBuiltins(db, cfg.Runtime(logger, reg, rec))
	if err != nil {
		return nil, err
	}
	if err := commerce.Register(rt); err != nil {
		return nil, err
	}
	rt.SetClock(cfg.Clock(db.GetSlot()))
	return &node{cfg: cfg, log: logger, db: db, ledger: store, rt: rt, reg: reg}, nil
}

func (n *node) Close() error {
	var errs []error
	if n.ledger != nil {
		errs = append(errs, n.ledger.Close())
	}
	errs = append(errs, n.db.Close())
	return errors.Join(errs...)
}

func (n *node) execute(ctx context.Context, payer types.Pubkey, ixs ...svm.Instruction) (*runtime.Result, error) {
	return n.rt.Execute(ctx, runtime.NewTransaction(payer, ixs...))
}

// advance moves the clock by d, one slot per second.
func (n *node) advance(d time.Duration) svm.Clock {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return n.rt.Clock()
	}
	return n.rt.Advance(uint64(secs), secs)
}

// fund credits lamports to key outside of any transaction.
func (n *node) fund(key types.Pubkey, lamports uint64) error {
	acc, err := n.db.GetAccount(key)
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		acc = &accounts.Account{Owner: types.SystemProgramAddr}
	case err != nil:
		return err
	}
	if acc.Lamports+lamports < acc.Lamports {
		return fmt.Errorf("fund %s: balance overflow", key)
	}
	acc.Lamports += lamports
	if err := n.db.SetAccount(key, acc); err != nil {
		return err
	}
	return n.db.Commit()
}

// account returns the account at key, or nil when it does not exist.
func (n *node) account(key types.Pubkey) (*accounts.Account, error) {
	acc, err := n.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	return acc, err
}

// logMetrics reports the runtime counters gathered so far.
func (n *node) logMetrics() {
	families, err := n.reg.Gather()
	if err != nil {
		n.log.Warn("failed to gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				attrs = append(attrs, "count", m.GetHistogram().GetSampleCount(), "sum", m.GetHistogram().GetSampleSum())
			}
			n.log.Info("metric", attrs...)
		}
	}
}
