/*
reschedule.go - Mid-term billing schedule changes

PURPOSE:
  Moves what is still owed on a policy onto a new billing cadence.

RULES:
  1. The new schedule must be supported.
  2. as_of must fall in [effective_date, effective_date + 12 months].
  3. whole months remaining in the term / new spacing must be >= 1.
  4. Payments made by as_of are applied to billed invoices oldest first.
     Invoices they fully cover are settled and stay untouched.
  5. Every other live invoice is soft-deleted: billed ones still open at
     as_of and everything billed after as_of. Their total is allocated
     evenly over new installments on the new cadence.
  6. New bill dates follow the cadence from the effective date, on or after
     as_of and before the term ends. When that grid has no room left the
     cadence restarts at as_of.

  The amounts carried over equal the amounts removed, so the premium for the
  term and the balance at term end are unchanged. Open amounts move onto the
  new installments, so balance(as_of) can drop.

ALL-OR-NOTHING:
  Every precondition is checked before the first write, and the caller
  runs the whole change inside one WithTx.
*/
package billing

import (
	"context"
	"fmt"
)

// ScheduleChange is the request to move a policy to a new schedule.
// A zero AsOf means today.
type ScheduleChange struct {
	PolicyID PolicyID
	Schedule BillingSchedule
	AsOf     Date
}

// ScheduleChangeResult reports what the change did.
type ScheduleChangeResult struct {
	Policy        Policy
	Removed       []Invoice
	Added         []Invoice
	Rescheduled   Money
	BalanceBefore Money
	BalanceAfter  Money
}

// ScheduleChanger rewrites a policy's future invoices.
type ScheduleChanger struct {
	Store Store
	Clock Clock
	NewID func() string
}

func (sc *ScheduleChanger) Change(ctx context.Context, req ScheduleChange) (ScheduleChangeResult, error) {
	policy, err := sc.Store.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return ScheduleChangeResult{}, err
	}
	if policy.Status == StatusCanceled {
		return ScheduleChangeResult{}, &PolicyStateError{PolicyID: policy.ID, AsOf: req.AsOf, Reason: "policy is canceled"}
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = sc.Clock()
	}

	if err := req.Schedule.Validate(); err != nil {
		return ScheduleChangeResult{}, &ValidationError{Field: "billing_schedule", Reason: err.Error()}
	}
	if !policy.InTerm(asOf) {
		return ScheduleChangeResult{}, &ValidationError{
			Field:  "as_of",
			Reason: fmt.Sprintf("%s is outside the term %s to %s", asOf, policy.EffectiveDate, policy.TermEnd()),
		}
	}
	spacing := req.Schedule.SpacingMonths()
	remaining := asOf.MonthsUntil(policy.TermEnd())
	if remaining/spacing < 1 {
		return ScheduleChangeResult{}, &ValidationError{
			Field:  "billing_schedule",
			Reason: fmt.Sprintf("%d months remaining cannot be billed %s", remaining, req.Schedule),
		}
	}

	billDates := remainingBillDates(policy, spacing, asOf)

	bc := &BalanceCalculator{Store: sc.Store}
	before, err := bc.Balance(ctx, policy.ID, asOf)
	if err != nil {
		return ScheduleChangeResult{}, err
	}

	billed, err := sc.Store.ListInvoices(ctx, policy.ID, InvoiceFilter{BilledOnOrBefore: &asOf})
	if err != nil {
		return ScheduleChangeResult{}, err
	}
	future, err := sc.Store.ListInvoices(ctx, policy.ID, InvoiceFilter{BilledAfter: &asOf})
	if err != nil {
		return ScheduleChangeResult{}, err
	}
	payments, err := sc.Store.ListPayments(ctx, policy.ID, PaymentFilter{OnOrBefore: &asOf})
	if err != nil {
		return ScheduleChangeResult{}, err
	}

	_, open := SplitSettled(billed, PaidThrough(payments, asOf))
	removed := append(open, future...)
	carried := SumAmountDue(removed)

	var added []Invoice
	if !carried.IsZero() {
		amounts := carried.Allocate(len(billDates))
		for i, d := range billDates {
			inv := NewInvoice(policy.ID, d, amounts[i])
			inv.ID = InvoiceID(sc.NewID())
			added = append(added, inv)
		}
	}

	// Writes start here.
	ids := make([]InvoiceID, len(removed))
	for i, inv := range removed {
		ids[i] = inv.ID
	}
	if err := sc.Store.SoftDeleteInvoices(ctx, ids); err != nil {
		return ScheduleChangeResult{}, fmt.Errorf("soft-delete invoices: %w", err)
	}
	if len(added) > 0 {
		if err := sc.Store.InsertInvoices(ctx, added); err != nil {
			return ScheduleChangeResult{}, fmt.Errorf("insert invoices: %w", err)
		}
	}
	policy.BillingSchedule = req.Schedule
	if err := sc.Store.UpdatePolicy(ctx, policy); err != nil {
		return ScheduleChangeResult{}, fmt.Errorf("update policy: %w", err)
	}

	after, err := bc.Balance(ctx, policy.ID, asOf)
	if err != nil {
		return ScheduleChangeResult{}, err
	}

	for i := range removed {
		removed[i].Deleted = true
	}
	return ScheduleChangeResult{
		Policy:        policy,
		Removed:       removed,
		Added:         added,
		Rescheduled:   carried,
		BalanceBefore: before,
		BalanceAfter:  after,
	}, nil
}

// SplitSettled applies paid to invoices in bill date order. Invoices paid
// in full are settled; the rest, including one only partly covered, are open.
func SplitSettled(invoices []Invoice, paid Money) (settled, open []Invoice) {
	covered := Zero
	for _, inv := range liveByBillDate(invoices) {
		covered = covered.Add(inv.AmountDue)
		if covered.GreaterThan(paid) {
			open = append(open, inv)
			continue
		}
		settled = append(settled, inv)
	}
	return settled, open
}

// remainingBillDates returns the cadence points effective + spacing*k that
// fall on or after asOf and before the end of the term. If none do, the
// cadence is anchored at asOf instead.
func remainingBillDates(p Policy, spacing int, asOf Date) []Date {
	var dates []Date
	end := p.TermEnd()
	for k := 0; k*spacing < TermMonths; k++ {
		d := p.EffectiveDate.AddMonths(k * spacing)
		if d.AfterOrEqual(asOf) && d.Before(end) {
			dates = append(dates, d)
		}
	}
	if len(dates) > 0 {
		return dates
	}
	for d := asOf; d.Before(end); d = d.AddMonths(spacing) {
		dates = append(dates, d)
	}
	return dates
}
