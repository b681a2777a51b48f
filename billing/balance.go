/*
balance.go - Account balance as of a date

PURPOSE:
  Answers "how much does the policyholder owe as of this day?". This is the
  central read that cancellation evaluation and schedule changes build on.

DEFINITION:
  balance(asOf) = sum(amount_due of live invoices with bill_date <= asOf)
                - sum(amount_paid of payments with transaction_date <= asOf)

  Future invoices do not count yet. Deleted invoices never count.
  The result is not clamped: overpayment gives a negative balance.

EXAMPLE:
  Quarterly policy, premium 1200, effective 2015-01-01:
    balance(2015-01-01) = 300
    payment of 600 on 2015-04-01 -> balance(2015-04-01) = 600 - 600 = 0

SEE ALSO:
  - cancellation.go: Evaluates balance at each cancel date
*/
package billing

import "context"

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// AccountBalance computes the balance from already-loaded records. Deleted
// invoices are skipped even if the caller passes them in.
func AccountBalance(invoices []Invoice, payments []Payment, asOf Date) Money {
	balance := Zero
	for _, inv := range invoices {
		if inv.Deleted || inv.BillDate.After(asOf) {
			continue
		}
		balance = balance.Add(inv.AmountDue)
	}
	for _, p := range payments {
		if p.TransactionDate.After(asOf) {
			continue
		}
		balance = balance.Sub(p.AmountPaid)
	}
	return balance
}

// PaidThrough sums payments recorded on or before asOf.
func PaidThrough(payments []Payment, asOf Date) Money {
	total := Zero
	for _, p := range payments {
		if !p.TransactionDate.After(asOf) {
			total = total.Add(p.AmountPaid)
		}
	}
	return total
}

// BalanceCalculator reads a policy's invoices and payments from a Store.
type BalanceCalculator struct {
	Store Store
}

// Balance returns the policy's balance as of asOf.
func (bc *BalanceCalculator) Balance(ctx context.Context, policyID PolicyID, asOf Date) (Money, error) {
	invoices, err := bc.Store.ListInvoices(ctx, policyID, InvoiceFilter{BilledOnOrBefore: &asOf})
	if err != nil {
		return Money{}, err
	}
	payments, err := bc.Store.ListPayments(ctx, policyID, PaymentFilter{OnOrBefore: &asOf})
	if err != nil {
		return Money{}, err
	}
	return AccountBalance(invoices, payments, asOf), nil
}
