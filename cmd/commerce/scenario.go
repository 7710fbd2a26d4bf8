package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/x1-commerce/internal/types"
	"github.com/fortiblox/x1-commerce/pkg/commerce/builder"
	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
	"github.com/fortiblox/x1-commerce/pkg/runtime"
	"github.com/fortiblox/x1-commerce/pkg/svm"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/associatedtoken"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/system"
	"github.com/fortiblox/x1-commerce/pkg/svm/programs/token"
)

var (
	ErrUnknownOp         = errors.New("unknown operation")
	ErrMissingField      = errors.New("missing field")
	ErrStepFailed        = errors.New("step failed")
	ErrUnexpectedSuccess = errors.New("step succeeded")
	ErrUnexpectedError   = errors.New("step failed with a different error")
	ErrRecordNotFound    = errors.New("record not found")
	ErrNegativeDuration  = errors.New("duration is negative")
)

// Scenario is a scripted sequence of commerce operations. Names stand for
// addresses: a mint name resolves to its mint, a base58 string to itself and
// anything else to a key derived from the name.
type Scenario struct {
	// Payer funds every transaction. Defaults to "payer".
	Payer string `yaml:"payer"`

	// Fund credits SOL amounts to named accounts before the first step.
	Fund map[string]string `yaml:"fund"`

	Mints []MintSpec `yaml:"mints"`
	Steps []Step     `yaml:"steps"`
}

// MintSpec creates a token mint and issues balances to holders' associated
// token accounts.
type MintSpec struct {
	Name      string            `yaml:"name"`
	Address   string            `yaml:"address"`
	Decimals  uint8             `yaml:"decimals"`
	Authority string            `yaml:"authority"`
	MintTo    map[string]string `yaml:"mint_to"`
}

// Step is one operation. Token amounts are decimal strings scaled by the
// mint's decimals; config amounts use the first accepted currency.
type Step struct {
	Op     string `yaml:"op"`
	Expect string `yaml:"expect"`

	Merchant         string `yaml:"merchant"`
	Operator         string `yaml:"operator"`
	Authority        string `yaml:"authority"`
	NewAuthority     string `yaml:"new_authority"`
	SettlementWallet string `yaml:"settlement_wallet"`

	Version     uint32          `yaml:"version"`
	Fee         string          `yaml:"fee"`
	FeeType     string          `yaml:"fee_type"`
	DaysToClose uint16          `yaml:"days_to_close"`
	Refund      *RefundSpec     `yaml:"refund"`
	Settlement  *SettlementSpec `yaml:"settlement"`
	Currencies  []string        `yaml:"currencies"`

	Buyer           string  `yaml:"buyer"`
	Mint            string  `yaml:"mint"`
	OrderID         *uint32 `yaml:"order_id"`
	Amount          string  `yaml:"amount"`
	RentDestination string  `yaml:"rent_destination"`

	Duration time.Duration `yaml:"duration"`
}

type RefundSpec struct {
	MaxAmount string        `yaml:"max_amount"`
	MaxTime   time.Duration `yaml:"max_time"`
}

type SettlementSpec struct {
	MinAmount      string `yaml:"min_amount"`
	FrequencyHours uint32 `yaml:"frequency_hours"`
}

// parseScenario decodes a YAML scenario, rejecting unknown fields.
func parseScenario(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

func loadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseScenario(f)
}

type mintInfo struct {
	key      types.Pubkey
	decimals uint8
}

// runner executes a scenario against a node and reports each transaction.
type runner struct {
	n     *node
	out   io.Writer
	payer types.Pubkey
	mints map[string]mintInfo
}

func newRunner(n *node, out io.Writer) *runner {
	return &runner{n: n, out: out, mints: make(map[string]mintInfo)}
}

// resolveKey maps a base58 address to itself and any other name to its
// derived key.
func resolveKey(name string) types.Pubkey {
	if k, err := types.PubkeyFromBase58(name); err == nil {
		return k
	}
	return types.NewPubkeyFromSeed(name)
}

// mintKey is the address of a scenario mint without an explicit address.
func mintKey(name string) types.Pubkey {
	return types.NewPubkeyFromSeed("mint:" + name)
}

func (r *runner) key(name string) types.Pubkey {
	if m, ok := r.mints[name]; ok {
		return m.key
	}
	if _, err := types.PubkeyFromBase58(name); err != nil {
		// Mints created by an earlier run keep their derived address.
		if acc, err := r.n.account(mintKey(name)); err == nil && acc != nil && acc.Owner == token.ProgramID {
			return mintKey(name)
		}
	}
	return resolveKey(name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// required takes field/value pairs and reports the first empty value.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i])
		}
	}
	return nil
}

func (r *runner) run(ctx context.Context, sc *Scenario) error {
	r.payer = r.key(firstNonEmpty(sc.Payer, "payer"))
	for _, name := range sortedKeys(sc.Fund) {
		lamports, err := parseAmount(sc.Fund[name], LamportDecimals)
		if err != nil {
			return fmt.Errorf("fund %s: %w", name, err)
		}
		if err := r.n.fund(r.key(name), lamports); err != nil {
			return fmt.Errorf("fund %s: %w", name, err)
		}
	}
	for _, m := range sc.Mints {
		if err := r.setupMint(ctx, m); err != nil {
			return fmt.Errorf("mint %s: %w", m.Name, err)
		}
	}
	for i, s := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.step(ctx, i, s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, s.Op, err)
		}
	}
	return nil
}

func (r *runner) setupMint(ctx context.Context, m MintSpec) error {
	if err := required("name", m.Name); err != nil {
		return err
	}
	key := mintKey(m.Name)
	if m.Address != "" {
		k, err := types.PubkeyFromBase58(m.Address)
		if err != nil {
			return err
		}
		key = k
	}
	authority := r.key(firstNonEmpty(m.Authority, "mint-authority"))

	var ixs []svm.Instruction
	acc, err := r.n.account(key)
	if err != nil {
		return err
	}
	decimals := m.Decimals
	if acc == nil {
		ixs = append(ixs,
			system.CreateAccount(r.payer, key, svm.RentMinimum(token.MintSize), token.MintSize, token.ProgramID),
			token.InitializeMint2(key, m.Decimals, authority, nil),
		)
	} else {
		mint, err := token.UnpackMint(acc.Data)
		if err != nil {
			return err
		}
		decimals = mint.Decimals
	}
	r.mints[m.Name] = mintInfo{key: key, decimals: decimals}

	for _, holder := range sortedKeys(m.MintTo) {
		amount, err := parseAmount(m.MintTo[holder], decimals)
		if err != nil {
			return fmt.Errorf("mint to %s: %w", holder, err)
		}
		wallet := r.key(holder)
		ixs = append(ixs,
			associatedtoken.CreateIdempotent(r.payer, wallet, key),
			token.MintTo(key, associatedtoken.MustFindAddress(wallet, key), authority, amount),
		)
	}
	if len(ixs) == 0 {
		return nil
	}
	return r.submit(ctx, "mint "+m.Name, "", ixs...)
}

func (r *runner) step(ctx context.Context, i int, s Step) error {
	label := fmt.Sprintf("%d %s", i, s.Op)
	if s.Op == "advance" {
		c := r.n.advance(s.Duration)
		fmt.Fprintf(r.out, "%-30s slot=%d time=%d\n", label, c.Slot, c.UnixTimestamp)
		return nil
	}
	ix, err := r.instruction(s)
	if err != nil {
		return err
	}
	return r.submit(ctx, label, s.Expect, ix)
}

// submit executes ixs as one transaction and checks the outcome against
// expect, an error code name or empty for success.
func (r *runner) submit(ctx context.Context, label, expect string, ixs ...svm.Instruction) error {
	res, err := r.n.execute(ctx, r.payer, ixs...)
	if err != nil {
		return err
	}
	r.report(label, res)

	if expect == "" {
		if !res.Success {
			return fmt.Errorf("%w: %v", ErrStepFailed, res.Err)
		}
		return nil
	}
	if res.Success {
		return fmt.Errorf("%w: expected %s", ErrUnexpectedSuccess, expect)
	}
	if got := errcode.From(res.Err); got.Name() != expect {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedError, expect, got.Name())
	}
	return nil
}

func (r *runner) report(label string, res *runtime.Result) {
	status := "ok"
	if !res.Success {
		status = "failed: " + errcode.From(res.Err).Name()
	}
	fmt.Fprintf(r.out, "%-30s %s slot=%d cu=%d sig=%s\n", label, status, res.Slot, res.ComputeUnitsConsumed, res.Signature)
	for _, inner := range res.InnerInstructions {
		if !isEvent(inner.Instruction) {
			continue
		}
		e, err := events.Decode(inner.Instruction.Data)
		if err != nil {
			continue
		}
		fmt.Fprintf(r.out, "    %s\n", r.describeEvent(e))
	}
}

func (r *runner) describeEvent(e events.Event) string {
	p := e.Participants()
	dec, err := r.decimals(p.Mint)
	amount := func(v uint64) string {
		if err != nil {
			return strconv.FormatUint(v, 10)
		}
		return formatAmount(v, dec)
	}
	var fields string
	switch e := e.(type) {
	case events.PaymentCreated:
		fields = fmt.Sprintf("order=%d amount=%s created_at=%d", e.OrderID, amount(e.Amount), e.CreatedAt)
	case events.PaymentCleared:
		fields = fmt.Sprintf("order=%d amount=%s operator_fee=%s", e.OrderID, amount(e.Amount), amount(e.OperatorFee))
	case events.PaymentRefunded:
		fields = fmt.Sprintf("order=%d amount=%s", e.OrderID, amount(e.Amount))
	case events.PaymentChargebacked:
		fields = fmt.Sprintf("order=%d amount=%s", e.OrderID, amount(e.Amount))
	}
	return fmt.Sprintf("%s %s buyer=%s", e.Kind(), fields, p.Buyer)
}

// decimals returns the decimals of mint, from the scenario or the chain.
func (r *runner) decimals(mint types.Pubkey) (uint8, error) {
	for _, m := range r.mints {
		if m.key == mint {
			return m.decimals, nil
		}
	}
	acc, err := r.n.account(mint)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, fmt.Errorf("%w: mint %s", ErrRecordNotFound, mint)
	}
	m, err := token.UnpackMint(acc.Data)
	if err != nil {
		return 0, err
	}
	return m.Decimals, nil
}

func (r *runner) instruction(s Step) (svm.Instruction, error) {
	switch s.Op {
	case "initialize_merchant":
		if err := required("merchant", firstNonEmpty(s.Authority, s.Merchant), "settlement_wallet", s.SettlementWallet); err != nil {
			return svm.Instruction{}, err
		}
		return builder.InitializeMerchant(r.payer, r.key(firstNonEmpty(s.Authority, s.Merchant)), r.key(s.SettlementWallet)), nil
	case "initialize_operator":
		if err := required("operator", firstNonEmpty(s.Authority, s.Operator)); err != nil {
			return svm.Instruction{}, err
		}
		return builder.InitializeOperator(r.payer, r.key(firstNonEmpty(s.Authority, s.Operator))), nil
	case "update_settlement_wallet":
		if err := required("merchant", s.Merchant, "settlement_wallet", s.SettlementWallet); err != nil {
			return svm.Instruction{}, err
		}
		merchant, _ := builder.MerchantAddress(r.key(s.Merchant))
		return builder.UpdateMerchantSettlementWallet(r.key(firstNonEmpty(s.Authority, s.Merchant)), merchant, r.key(s.SettlementWallet)), nil
	case "update_merchant_authority":
		if err := required("merchant", s.Merchant, "new_authority", s.NewAuthority); err != nil {
			return svm.Instruction{}, err
		}
		merchant, _ := builder.MerchantAddress(r.key(s.Merchant))
		return builder.UpdateMerchantAuthority(r.key(firstNonEmpty(s.Authority, s.Merchant)), merchant, r.key(s.NewAuthority)), nil
	case "update_operator_authority":
		if err := required("operator", s.Operator, "new_authority", s.NewAuthority); err != nil {
			return svm.Instruction{}, err
		}
		operator, _ := builder.OperatorAddress(r.key(s.Operator))
		return builder.UpdateOperatorAuthority(r.key(firstNonEmpty(s.Authority, s.Operator)), operator, r.key(s.NewAuthority)), nil
	case "initialize_config":
		return r.configInstruction(s)
	case "make_payment", "clear_payment", "refund_payment", "chargeback_payment", "close_payment":
		return r.paymentInstruction(s)
	}
	return svm.Instruction{}, fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
}

func (r *runner) configInstruction(s Step) (svm.Instruction, error) {
	if err := required("merchant", s.Merchant, "operator", s.Operator); err != nil {
		return svm.Instruction{}, err
	}
	if len(s.Currencies) == 0 {
		return svm.Instruction{}, fmt.Errorf("%w: currencies", ErrMissingField)
	}
	mints := make([]types.Pubkey, len(s.Currencies))
	for i, name := range s.Currencies {
		mints[i] = r.key(name)
	}
	dec, err := r.decimals(mints[0])
	if err != nil {
		return svm.Instruction{}, err
	}

	args := builder.ConfigArgs{Version: s.Version, DaysToClose: s.DaysToClose, Currencies: mints}
	switch strings.ToLower(s.FeeType) {
	case "", "bps":
		args.FeeType = state.FeeTypeBps
		if s.Fee != "" {
			if args.OperatorFee, err = strconv.ParseUint(s.Fee, 10, 64); err != nil {
				return svm.Instruction{}, fmt.Errorf("fee: %w", err)
			}
		}
	case "fixed":
		args.FeeType = state.FeeTypeFixed
		if args.OperatorFee, err = parseAmount(firstNonEmpty(s.Fee, "0"), dec); err != nil {
			return svm.Instruction{}, fmt.Errorf("fee: %w", err)
		}
	default:
		return svm.Instruction{}, fmt.Errorf("fee_type %q: want bps or fixed", s.FeeType)
	}

	if s.Refund != nil {
		if s.Refund.MaxTime < 0 {
			return svm.Instruction{}, fmt.Errorf("refund max_time %s: %w", s.Refund.MaxTime, ErrNegativeDuration)
		}
		maxAmount, err := parseAmount(s.Refund.MaxAmount, dec)
		if err != nil {
			return svm.Instruction{}, fmt.Errorf("refund max_amount: %w", err)
		}
		args.Policies = append(args.Policies, state.Policy{
			Kind:   state.PolicyRefund,
			Refund: state.RefundPolicy{MaxAmount: maxAmount, MaxTimeAfterPurchase: uint64(s.Refund.MaxTime / time.Second)},
		})
	}
	if s.Settlement != nil {
		minAmount, err := parseAmount(firstNonEmpty(s.Settlement.MinAmount, "0"), dec)
		if err != nil {
			return svm.Instruction{}, fmt.Errorf("settlement min_amount: %w", err)
		}
		args.Policies = append(args.Policies, state.Policy{
			Kind:       state.PolicySettlement,
			Settlement: state.SettlementPolicy{MinSettlementAmount: minAmount, SettlementFrequencyHours: s.Settlement.FrequencyHours},
		})
	}

	merchant, _ := builder.MerchantAddress(r.key(s.Merchant))
	operator, _ := builder.OperatorAddress(r.key(s.Operator))
	return builder.InitializeConfig(r.payer, r.key(firstNonEmpty(s.Authority, s.Merchant)), merchant, operator, args), nil
}

func (r *runner) paymentInstruction(s Step) (svm.Instruction, error) {
	if err := required("merchant", s.Merchant, "operator", s.Operator, "buyer", s.Buyer, "mint", s.Mint); err != nil {
		return svm.Instruction{}, err
	}
	p := builder.NewParties(r.key(s.Merchant), r.key(s.Operator), r.key(s.Buyer), r.key(s.Mint), s.Version)
	if s.Authority != "" {
		p.OperatorAuthority = r.key(s.Authority)
	}

	if s.Op == "make_payment" {
		dec, err := r.decimals(p.Mint)
		if err != nil {
			return svm.Instruction{}, err
		}
		amount, err := parseAmount(s.Amount, dec)
		if err != nil {
			return svm.Instruction{}, err
		}
		if s.OrderID != nil {
			return builder.MakePayment(r.payer, p, *s.OrderID, amount), nil
		}
		orderID, err := r.nextOrderID(p.Config)
		if err != nil {
			return svm.Instruction{}, err
		}
		return builder.MakePayment(r.payer, p, orderID, amount), nil
	}

	if s.OrderID == nil {
		return svm.Instruction{}, fmt.Errorf("%w: order_id", ErrMissingField)
	}
	orderID := *s.OrderID
	switch s.Op {
	case "clear_payment":
		wallet, err := r.settlementWallet(p.Merchant)
		if err != nil {
			return svm.Instruction{}, err
		}
		if s.SettlementWallet != "" {
			wallet = r.key(s.SettlementWallet)
		}
		return builder.ClearPayment(r.payer, p, wallet, orderID), nil
	case "refund_payment":
		return builder.RefundPayment(p, orderID), nil
	case "chargeback_payment":
		return builder.ChargebackPayment(p, orderID), nil
	default:
		dest := r.payer
		if s.RentDestination != "" {
			dest = r.key(s.RentDestination)
		}
		return builder.ClosePayment(p, orderID, dest), nil
	}
}

func (r *runner) nextOrderID(config types.Pubkey) (uint32, error) {
	acc, err := r.n.account(config)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, fmt.Errorf("%w: config %s", ErrRecordNotFound, config)
	}
	cfg, err := state.LoadConfig(acc.Data)
	if err != nil {
		return 0, err
	}
	return cfg.NextOrderID()
}

func (r *runner) settlementWallet(merchant types.Pubkey) (types.Pubkey, error) {
	acc, err := r.n.account(merchant)
	if err != nil {
		return types.Pubkey{}, err
	}
	if acc == nil {
		return types.Pubkey{}, fmt.Errorf("%w: merchant %s", ErrRecordNotFound, merchant)
	}
	m, err := state.LoadMerchant(acc.Data)
	if err != nil {
		return types.Pubkey{}, err
	}
	return m.SettlementWallet(), nil
}
