// Package model defines the core domain models used throughout the application.
package model

import (
	"github.com/shopspring/decimal"
)

// Direction indicates whether money flows into or out of the account ledger.
type Direction string

// Direction constants.
const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionInflow || d == DirectionOutflow
}

// Kind is the accounting nature of a statement line.
type Kind string

// Kind constants.
const (
	KindPurchase   Kind = "purchase"
	KindRefund     Kind = "refund"
	KindFee        Kind = "fee"
	KindInterest   Kind = "interest"
	KindAdjustment Kind = "adjustment"
	KindPayment    Kind = "payment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindRefund, KindFee, KindInterest, KindAdjustment, KindPayment:
		return true
	}
	return false
}

// IsFlowKind reports whether k always denotes a statement flow rather than spend.
func (k Kind) IsFlowKind() bool {
	switch k {
	case KindPayment, KindInterest, KindFee, KindAdjustment:
		return true
	}
	return false
}

// ItemType separates real transactions from statement flows.
type ItemType string

// ItemType constants.
const (
	ItemTypeTransaction   ItemType = "transaction"
	ItemTypeStatementFlow ItemType = "statement_flow"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	return t == ItemTypeTransaction || t == ItemTypeStatementFlow
}

// Envelope is the wire form exchanged with the extraction collaborator.
type Envelope struct {
	Statement StatementDocument `json:"statement"`
}

// StatementDocument is a validated statement as produced by one pipeline stage.
// Stages return new values instead of mutating the document they received.
type StatementDocument struct {
	PeriodStart *string         `json:"period_start"`
	PeriodEnd   *string         `json:"period_end"`
	DueDate     *string         `json:"due_date"`
	Issuer      string          `json:"issuer"`
	Currency    string          `json:"currency"`
	Items       []StatementItem `json:"items"`
	TotalMinor  int64           `json:"total_minor"`
}

// StatementItem is a single line of a statement.
type StatementItem struct {
	PostedAt         *string          `json:"posted_at"`
	MerchantNorm     *string          `json:"merchant_norm"`
	InstallmentN     *int             `json:"installment_n"`
	InstallmentTotal *int             `json:"installment_total"`
	Category         *string          `json:"category,omitempty"`
	OrigAmountMinor  *int64           `json:"orig_amount_minor"`
	OrigCurrency     *string          `json:"orig_currency"`
	FxRate           *decimal.Decimal `json:"fx_rate"`
	DescriptionRaw   string           `json:"description_raw"`
	Currency         string           `json:"currency"`
	Direction        Direction        `json:"direction"`
	Kind             Kind             `json:"kind"`
	ItemType         ItemType         `json:"item_type,omitempty"`
	AmountMinor      int64            `json:"amount_minor"`
}

// IsTransaction reports whether the item counts as spend for reporting.
// Items without an item type are treated as transactions.
func (it StatementItem) IsTransaction() bool {
	return it.ItemType == "" || it.ItemType == ItemTypeTransaction
}

// CategoryOr returns the item category or fallback when none is set.
func (it StatementItem) CategoryOr(fallback string) string {
	if it.Category == nil || *it.Category == "" {
		return fallback
	}
	return *it.Category
}

// Clone returns a deep copy of the document so stages never share item slices.
func (d StatementDocument) Clone() StatementDocument {
	out := d
	out.Items = make([]StatementItem, len(d.Items))
	copy(out.Items, d.Items)
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
