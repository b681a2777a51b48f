/*
schedule.go - Billing schedules and invoice generation

PURPOSE:
  Turns a policy's effective date, annual premium and billing schedule
  into the ordered set of invoices that should exist for the term.

SCHEDULES:
  Schedule     Installments   Spacing
  Annual       1              12 months
  Two-Pay      2              6 months
  Three-Pay    3              4 months
  Quarterly    4              3 months
  Monthly      12             1 month

  "Semi-Annual" is not accepted. Historically it was used both for two and
  for three installments, so callers must pick Two-Pay or Three-Pay.

INVOICE SHAPE:
  bill_date   = effective_date + spacing * i
  due_date    = bill_date + 1 month
  cancel_date = due_date + 14 days
  amount_due  = premium allocated over installments (see Money.Allocate)

  The first invoice is always billed on the effective date and carries any
  leftover cents, so the amounts always add up to the premium exactly.

SEE ALSO:
  - reschedule.go: Mid-term schedule changes reuse Installments/Spacing
*/
package billing

import (
	"fmt"
)

// =============================================================================
// BILLING SCHEDULE
// =============================================================================

type BillingSchedule string

const (
	ScheduleAnnual    BillingSchedule = "Annual"
	ScheduleTwoPay    BillingSchedule = "Two-Pay"
	ScheduleThreePay  BillingSchedule = "Three-Pay"
	ScheduleQuarterly BillingSchedule = "Quarterly"
	ScheduleMonthly   BillingSchedule = "Monthly"
)

// scheduleAmbiguous is the legacy label that meant two installments in some
// places and three in others.
const scheduleAmbiguous BillingSchedule = "Semi-Annual"

var installments = map[BillingSchedule]int{
	ScheduleAnnual:    1,
	ScheduleTwoPay:    2,
	ScheduleThreePay:  3,
	ScheduleQuarterly: 4,
	ScheduleMonthly:   12,
}

// Schedules lists every supported schedule, coarsest first.
func Schedules() []BillingSchedule {
	return []BillingSchedule{ScheduleAnnual, ScheduleTwoPay, ScheduleThreePay, ScheduleQuarterly, ScheduleMonthly}
}

// Validate returns a *ConfigurationError for unsupported schedules.
func (s BillingSchedule) Validate() error {
	if _, ok := installments[s]; ok {
		return nil
	}
	if s == scheduleAmbiguous {
		return &ConfigurationError{
			Schedule: s,
			Hint:     fmt.Sprintf("ambiguous label, use %q or %q", ScheduleTwoPay, ScheduleThreePay),
		}
	}
	return &ConfigurationError{Schedule: s}
}

// Installments is the number of invoices per term. Zero if unsupported.
func (s BillingSchedule) Installments() int { return installments[s] }

// SpacingMonths is the number of months between bill dates. Zero if unsupported.
func (s BillingSchedule) SpacingMonths() int {
	n := installments[s]
	if n == 0 {
		return 0
	}
	return TermMonths / n
}

// =============================================================================
// INVOICE SCHEDULER
// =============================================================================

// BuildInvoices computes the invoices a policy should have for its full term.
// It does not touch storage; Accounting.GenerateInvoices persists the result.
func BuildInvoices(p Policy) ([]Invoice, error) {
	if err := p.BillingSchedule.Validate(); err != nil {
		return nil, err
	}
	if !p.AnnualPremium.IsPositive() {
		return nil, &ValidationError{Field: "annual_premium", Reason: "must be positive"}
	}
	if p.EffectiveDate.IsZero() {
		return nil, &ValidationError{Field: "effective_date", Reason: "is required"}
	}

	n := p.BillingSchedule.Installments()
	spacing := p.BillingSchedule.SpacingMonths()
	amounts := p.AnnualPremium.Allocate(n)

	invoices := make([]Invoice, 0, n)
	for i := 0; i < n; i++ {
		billDate := p.EffectiveDate.AddMonths(spacing * i)
		invoices = append(invoices, NewInvoice(p.ID, billDate, amounts[i]))
	}
	return invoices, nil
}

// SumAmountDue adds up the amount due across invoices.
func SumAmountDue(invoices []Invoice) Money {
	total := Zero
	for _, inv := range invoices {
		total = total.Add(inv.AmountDue)
	}
	return total
}
