package commerce

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/fortiblox/x1-commerce/pkg/commerce/errcode"
	"github.com/fortiblox/x1-commerce/pkg/commerce/events"
	"github.com/fortiblox/x1-commerce/pkg/commerce/instruction"
	"github.com/fortiblox/x1-commerce/pkg/commerce/state"
)

// IDL metadata.
const (
	ProgramName    = "commerce_program"
	ProgramVersion = "0.1.0"
	IDLSpecVersion = "0.1.0"
)

// IDL is an Anchor-style interface description.
type IDL struct {
	Address      string           `json:"address"`
	Metadata     IDLMetadata      `json:"metadata"`
	Instructions []IDLInstruction `json:"instructions"`
	Accounts     []IDLNamed       `json:"accounts"`
	Events       []IDLNamed       `json:"events"`
	Errors       []IDLError       `json:"errors"`
	Types        []IDLTypeDef     `json:"types"`
}

type IDLMetadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Spec        string `json:"spec"`
	Description string `json:"description"`
}

type IDLInstruction struct {
	Name          string       `json:"name"`
	Discriminator []int        `json:"discriminator"`
	Accounts      []IDLAccount `json:"accounts"`
	Args          []IDLField   `json:"args"`
}

type IDLAccount struct {
	Name     string   `json:"name"`
	Writable bool     `json:"writable,omitempty"`
	Signer   bool     `json:"signer,omitempty"`
	Address  string   `json:"address,omitempty"`
	Docs     []string `json:"docs,omitempty"`
}

type IDLField struct {
	Name string `json:"name"`
	Type any    `json:"type"`
}

// IDLNamed is an account or event kind and its discriminator.
type IDLNamed struct {
	Name          string `json:"name"`
	Discriminator []int  `json:"discriminator"`
}

type IDLError struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

type IDLTypeDef struct {
	Name string  `json:"name"`
	Type IDLType `json:"type"`
}

type IDLType struct {
	Kind     string       `json:"kind"`
	Fields   []IDLField   `json:"fields,omitempty"`
	Variants []IDLVariant `json:"variants,omitempty"`
}

type IDLVariant struct {
	Name   string     `json:"name"`
	Fields []IDLField `json:"fields,omitempty"`
}

var primitives = map[string]bool{
	"u8": true, "u16": true, "u32": true, "u64": true, "i64": true,
	"bool": true, "pubkey": true, "bytes": true,
}

func idlType(name string) any {
	if primitives[name] {
		return name
	}
	return map[string]any{"defined": map[string]string{"name": name}}
}

func field(name, typ string) IDLField {
	return IDLField{Name: name, Type: idlType(typ)}
}

// snake converts an exported Go name to snake_case.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GenerateIDL describes the instruction set, record kinds, events and error
// codes.
func GenerateIDL() *IDL {
	idl := &IDL{
		Address: ProgramID.String(),
		Metadata: IDLMetadata{
			Name:        ProgramName,
			Version:     ProgramVersion,
			Spec:        IDLSpecVersion,
			Description: "Escrowed merchant payments with operator clearing, refunds and chargebacks",
		},
	}

	for _, k := range instruction.Kinds() {
		ix := IDLInstruction{
			Name:          snake(k.String()),
			Discriminator: []int{int(k)},
			Accounts:      []IDLAccount{},
			Args:          []IDLField{},
		}
		for _, spec := range k.Accounts() {
			acc := IDLAccount{Name: spec.Name, Writable: spec.Writable, Signer: spec.Signer}
			if !spec.Address.IsZero() {
				acc.Address = spec.Address.String()
			}
			if spec.Docs != "" {
				acc.Docs = []string{spec.Docs}
			}
			ix.Accounts = append(ix.Accounts, acc)
		}
		for _, arg := range k.Args() {
			f := field(arg.Name, arg.Type)
			if arg.Len != "" {
				f.Type = map[string]any{"array": []any{idlType(arg.Type), map[string]string{"field": arg.Len}}}
			}
			ix.Args = append(ix.Args, f)
		}
		idl.Instructions = append(idl.Instructions, ix)
	}

	for _, d := range []state.Discriminant{state.DiscMerchant, state.DiscOperator, state.DiscConfig, state.DiscPayment} {
		idl.Accounts = append(idl.Accounts, IDLNamed{Name: d.String(), Discriminator: []int{int(d)}})
	}
	for _, k := range events.Kinds() {
		idl.Events = append(idl.Events, IDLNamed{Name: k.String(), Discriminator: []int{int(k)}})
	}
	for _, c := range errcode.All() {
		idl.Errors = append(idl.Errors, IDLError{Code: uint32(c), Name: c.Name(), Msg: c.Message()})
	}
	idl.Types = idlTypes()
	return idl
}

// JSON returns the indented JSON encoding of the IDL.
func (idl *IDL) JSON() ([]byte, error) {
	return json.MarshalIndent(idl, "", "  ")
}

func idlTypes() []IDLTypeDef {
	parties := []IDLField{
		field("buyer", "pubkey"),
		field("merchant", "pubkey"),
		field("operator", "pubkey"),
		field("mint", "pubkey"),
	}
	withParties := func(fields ...IDLField) []IDLField {
		return append(append([]IDLField(nil), parties...), fields...)
	}
	structType := func(fields ...IDLField) IDLType { return IDLType{Kind: "struct", Fields: fields} }

	return []IDLTypeDef{
		{Name: "Merchant", Type: structType(
			field("owner", "pubkey"), field("bump", "u8"), field("settlement_wallet", "pubkey"))},
		{Name: "Operator", Type: structType(
			field("owner", "pubkey"), field("bump", "u8"))},
		{Name: "MerchantOperatorConfig", Type: structType(
			field("version", "u32"), field("bump", "u8"),
			field("merchant", "pubkey"), field("operator", "pubkey"),
			field("operator_fee", "u64"), field("fee_type", "FeeType"),
			field("current_order_id", "u32"), field("days_to_close", "u16"),
			field("num_policies", "u8"), field("num_currencies", "u8"))},
		{Name: "Payment", Type: structType(
			field("order_id", "u32"), field("amount", "u64"), field("created_at", "i64"),
			field("status", "Status"), field("bump", "u8"))},
		{Name: "FeeType", Type: IDLType{Kind: "enum", Variants: []IDLVariant{
			{Name: state.FeeTypeBps.String()}, {Name: state.FeeTypeFixed.String()}}}},
		{Name: "Status", Type: IDLType{Kind: "enum", Variants: []IDLVariant{
			{Name: "Invalid"},
			{Name: state.StatusPaid.String()},
			{Name: state.StatusCleared.String()},
			{Name: state.StatusRefunded.String()},
			{Name: state.StatusChargedback.String()}}}},
		{Name: "PolicyData", Type: IDLType{Kind: "enum", Variants: []IDLVariant{
			{Name: state.PolicyRefund.String(), Fields: []IDLField{
				field("max_amount", "u64"), field("max_time_after_purchase", "u64")}},
			{Name: state.PolicySettlement.String(), Fields: []IDLField{
				field("min_settlement_amount", "u64"), field("settlement_frequency_hours", "u32"),
				{Name: "reserved", Type: map[string]any{"array": []any{"u8", 4}}}}}}}},
		{Name: events.KindPaymentCreated.String(), Type: structType(withParties(
			field("amount", "u64"), field("order_id", "u32"), field("created_at", "i64"))...)},
		{Name: events.KindPaymentCleared.String(), Type: structType(withParties(
			field("amount", "u64"), field("operator_fee", "u64"), field("order_id", "u32"))...)},
		{Name: events.KindPaymentRefunded.String(), Type: structType(withParties(
			field("amount", "u64"), field("order_id", "u32"))...)},
		{Name: events.KindPaymentChargebacked.String(), Type: structType(withParties(
			field("amount", "u64"), field("order_id", "u32"))...)},
	}
}
