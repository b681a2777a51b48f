/*
cancellation.go - Non-payment cancellation rules

PURPOSE:
  Decides, for a date, whether a policy is pending cancellation and whether
  it should already have been cancelled. Both are pure decisions: nothing
  here changes the policy. Callers act on the result (Accounting.CancelPolicy,
  the API sweep job).

PENDING CANCELLATION:
  An invoice is pending cancellation on asOf when
    due_date <= asOf < cancel_date
  and it is still unpaid. Payments are applied to invoices oldest first, so
  an invoice is unpaid while the payments made by asOf do not cover it and
  every invoice billed before it.

SHOULD CANCEL:
  For every invoice whose cancel_date <= asOf (in bill_date order), compute
  balance(cancel_date). If any of those balances is positive the policy
  should have cancelled; the first such invoice is reported.

SEE ALSO:
  - balance.go: balance(asOf) definition
*/
package billing

import (
	"context"
	"sort"
)

// CancellationDecision is the outcome of evaluating a policy on a date.
type CancellationDecision struct {
	AsOf         Date
	ShouldCancel bool

	// Pending is the pending-cancellation state on AsOf, read from the same
	// invoices and payments. Only the store-backed Evaluate sets it.
	Pending bool

	// Invoice is the first invoice left unpaid at its cancel date.
	// Nil when ShouldCancel is false.
	Invoice *Invoice

	// Balance is the amount owed at Invoice.CancelDate.
	Balance Money
}

// =============================================================================
// PURE RULES
// =============================================================================

// PendingCancellation returns the first invoice that is past due but still
// inside its cancellation window and not covered by payments made by asOf.
func PendingCancellation(invoices []Invoice, payments []Payment, asOf Date) (Invoice, bool) {
	live := liveByBillDate(invoices)
	paid := PaidThrough(payments, asOf)

	billed := Zero
	for _, inv := range live {
		billed = billed.Add(inv.AmountDue)
		if inv.DueDate.After(asOf) || !asOf.Before(inv.CancelDate) {
			continue
		}
		if billed.GreaterThan(paid) {
			return inv, true
		}
	}
	return Invoice{}, false
}

// EvaluateCancellation applies the should-cancel rule.
func EvaluateCancellation(invoices []Invoice, payments []Payment, asOf Date) CancellationDecision {
	decision := CancellationDecision{AsOf: asOf, Balance: Zero}
	live := liveByBillDate(invoices)
	for _, inv := range live {
		if inv.CancelDate.After(asOf) {
			continue
		}
		balance := AccountBalance(live, payments, inv.CancelDate)
		if balance.IsPositive() {
			found := inv
			decision.ShouldCancel = true
			decision.Invoice = &found
			decision.Balance = balance
			return decision
		}
	}
	return decision
}

func liveByBillDate(invoices []Invoice) []Invoice {
	live := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if !inv.Deleted {
			live = append(live, inv)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].BillDate.Before(live[j].BillDate)
	})
	return live
}

// =============================================================================
// CANCELLATION EVALUATOR - Store-backed
// =============================================================================

type CancellationEvaluator struct {
	Store Store
}

func (ce *CancellationEvaluator) load(ctx context.Context, policyID PolicyID, asOf Date) ([]Invoice, []Payment, error) {
	invoices, err := ce.Store.ListInvoices(ctx, policyID, InvoiceFilter{})
	if err != nil {
		return nil, nil, err
	}
	payments, err := ce.Store.ListPayments(ctx, policyID, PaymentFilter{OnOrBefore: &asOf})
	if err != nil {
		return nil, nil, err
	}
	return invoices, payments, nil
}

// IsPendingCancellation reports whether the policy has an overdue, unpaid
// invoice whose cancellation window is still open on asOf.
func (ce *CancellationEvaluator) IsPendingCancellation(ctx context.Context, policyID PolicyID, asOf Date) (bool, error) {
	invoices, payments, err := ce.load(ctx, policyID, asOf)
	if err != nil {
		return false, err
	}
	_, pending := PendingCancellation(invoices, payments, asOf)
	return pending, nil
}

// Evaluate decides whether the policy should have cancelled by asOf and
// whether it is pending cancellation, from one read of the policy's ledger.
func (ce *CancellationEvaluator) Evaluate(ctx context.Context, policyID PolicyID, asOf Date) (CancellationDecision, error) {
	invoices, payments, err := ce.load(ctx, policyID, asOf)
	if err != nil {
		return CancellationDecision{}, err
	}
	decision := EvaluateCancellation(invoices, payments, asOf)
	_, decision.Pending = PendingCancellation(invoices, payments, asOf)
	return decision, nil
}
