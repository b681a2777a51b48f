/*
Package billing provides the policy accounting engine.

PURPOSE:
  This package contains the domain types and algorithms for billing an
  insurance policy: splitting the annual premium into invoices, tracking
  payments against a running balance, and deciding whether a policy is
  pending cancellation or should cancel for non-payment.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An exact monetary amount (decimal, never float)
  - Contact: A person attached to a policy (agent or named insured)
  - Policy: Coverage term, premium and billing schedule
  - Invoice: One installment of the premium with its due/cancel dates
  - Payment: Money received for a policy, immutable once recorded

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so installments always sum to the premium
  2. Soft deletes: Invoices are flagged deleted, never removed, once billed
  3. Type Safety: Distinct ID types prevent mixing policy/contact/invoice IDs
  4. Explicit errors: Every rejected operation returns a typed error

USAGE:
  policy := billing.Policy{
      Number:          "Policy One",
      EffectiveDate:   billing.NewDate(2015, time.January, 1),
      AnnualPremium:   billing.NewMoneyFromInt(1200),
      BillingSchedule: billing.ScheduleQuarterly,
  }

SEE ALSO:
  - schedule.go: Invoice generation per billing schedule
  - balance.go: Account balance as of a date
  - accounting.go: Transactional facade used by the API
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact monetary amount
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{Value: decimal.Zero}

func NewMoney(value decimal.Decimal) Money { return Money{Value: value} }

func NewMoneyFromInt(value int64) Money { return Money{Value: decimal.NewFromInt(value)} }

// ParseMoney parses a decimal string such as "1200" or "33.34".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals in tests and fixtures.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(b Money) Money            { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money            { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money                   { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool                 { return m.Value.IsZero() }
func (m Money) IsPositive() bool             { return m.Value.IsPositive() }
func (m Money) IsNegative() bool             { return m.Value.IsNegative() }
func (m Money) Equal(b Money) bool           { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool     { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool        { return m.Value.LessThan(b.Value) }
func (m Money) String() string               { return m.Value.StringFixed(2) }

// Allocate splits m into n parts at cent precision. Every part is m/n
// truncated to cents and the leftover cents are added to the first part,
// so the parts always sum to m exactly.
func (m Money) Allocate(n int) []Money {
	if n <= 0 {
		return nil
	}
	parts := make([]Money, n)
	share := m.Value.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	allocated := share.Mul(decimal.NewFromInt(int64(n)))
	for i := range parts {
		parts[i] = Money{Value: share}
	}
	parts[0] = Money{Value: share.Add(m.Value.Sub(allocated))}
	return parts
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type ContactID string
type InvoiceID string
type PaymentID string

// =============================================================================
// CONTACT
// =============================================================================

type ContactRole string

const (
	RoleAgent        ContactRole = "Agent"
	RoleNamedInsured ContactRole = "Named Insured"
)

// Contact is a person referenced by policies and payments. The role is
// informational; nothing checks it against how the contact is used.
type Contact struct {
	ID   ContactID
	Name string
	Role ContactRole
}

// =============================================================================
// POLICY
// =============================================================================

type PolicyStatus string

const (
	StatusActive   PolicyStatus = "Active"
	StatusCanceled PolicyStatus = "Canceled"
	StatusExpired  PolicyStatus = "Expired"
)

// TermMonths is the length of a policy's coverage term.
const TermMonths = 12

type Policy struct {
	ID               PolicyID
	Number           string
	EffectiveDate    Date
	AnnualPremium    Money
	BillingSchedule  BillingSchedule
	Status           PolicyStatus
	StatusInfo       string
	CancellationDate *Date

	NamedInsured *ContactID
	Agent        *ContactID
}

// TermEnd is the first day after coverage ends.
func (p Policy) TermEnd() Date {
	return p.EffectiveDate.AddMonths(TermMonths)
}

// InTerm reports whether d falls in [EffectiveDate, TermEnd].
func (p Policy) InTerm(d Date) bool {
	return d.AfterOrEqual(p.EffectiveDate) && d.BeforeOrEqual(p.TermEnd())
}

// =============================================================================
// INVOICE
// =============================================================================

const (
	// DueAfterMonths is the grace period between billing and due date.
	DueAfterMonths = 1
	// CancelAfterDays is the window between due date and cancel date.
	CancelAfterDays = 14
)

type Invoice struct {
	ID         InvoiceID
	PolicyID   PolicyID
	BillDate   Date
	DueDate    Date
	CancelDate Date
	AmountDue  Money
	Deleted    bool
}

// NewInvoice builds an invoice billed on billDate with the standard due and
// cancel offsets.
func NewInvoice(policyID PolicyID, billDate Date, amount Money) Invoice {
	due := billDate.AddMonths(DueAfterMonths)
	return Invoice{
		PolicyID:   policyID,
		BillDate:   billDate,
		DueDate:    due,
		CancelDate: due.AddDays(CancelAfterDays),
		AmountDue:  amount,
	}
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is immutable once recorded. There is no update path.
type Payment struct {
	ID              PaymentID
	PolicyID        PolicyID
	ContactID       ContactID
	TransactionDate Date
	AmountPaid      Money
}
