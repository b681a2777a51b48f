package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-billing/billing"
)

// Quarterly 1200 from 2015-01-01:
//   #1 bill 01-01 due 02-01 cancel 02-15
//   #2 bill 04-01 due 05-01 cancel 05-15

func TestPendingCancellation_Window(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	tests := []struct {
		asOf    string
		pending bool
	}{
		{"2015-01-31", false}, // not yet due
		{"2015-02-01", true},  // due date, window opens
		{"2015-02-14", true},  // last day before cancel date
		{"2015-02-15", false}, // cancel date, window closed
		{"2015-03-01", false},
		{"2015-05-01", true}, // second invoice overdue
	}

	for _, tt := range tests {
		t.Run(tt.asOf, func(t *testing.T) {
			_, pending := billing.PendingCancellation(invoices, nil, date(tt.asOf))
			assert.Equal(t, tt.pending, pending)
		})
	}
}

func TestPendingCancellation_PaidInvoiceIsNotPending(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	// GIVEN: First installment paid in full before it fell due
	payments := []billing.Payment{payment("2015-01-20", "300")}

	// THEN: Not pending inside its window
	_, pending := billing.PendingCancellation(invoices, payments, date("2015-02-05"))
	assert.False(t, pending)

	// AND: A partial payment leaves it pending
	partial := []billing.Payment{payment("2015-01-20", "299.99")}
	inv, pending := billing.PendingCancellation(invoices, partial, date("2015-02-05"))
	assert.True(t, pending)
	assert.Equal(t, "2015-01-01", inv.BillDate.String())
}

func TestPendingCancellation_PaymentsApplyOldestFirst(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	// GIVEN: 300 paid, covering only the first installment
	payments := []billing.Payment{payment("2015-01-10", "300")}

	// WHEN: The second installment falls due
	inv, pending := billing.PendingCancellation(invoices, payments, date("2015-05-02"))

	// THEN: The second installment is the pending one
	assert.True(t, pending)
	assert.Equal(t, "2015-04-01", inv.BillDate.String())
}

func TestEvaluateCancellation_UnpaidPastCancelDate(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	decision := billing.EvaluateCancellation(invoices, nil, date("2015-02-15"))

	assert.True(t, decision.ShouldCancel)
	require.NotNil(t, decision.Invoice)
	assert.Equal(t, "2015-02-15", decision.Invoice.CancelDate.String())
	assert.Equal(t, "300.00", decision.Balance.String())
}

func TestEvaluateCancellation_BeforeAnyCancelDate(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	decision := billing.EvaluateCancellation(invoices, nil, date("2015-02-14"))

	assert.False(t, decision.ShouldCancel)
	assert.Nil(t, decision.Invoice)
}

func TestEvaluateCancellation_PaidByCancelDate(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	// GIVEN: Paid on the last day of the window
	payments := []billing.Payment{payment("2015-02-14", "300")}

	// THEN: Settled at its cancel date
	assert.False(t, billing.EvaluateCancellation(invoices, payments, date("2015-03-01")).ShouldCancel)

	// AND: A payment after the cancel date is too late
	late := []billing.Payment{payment("2015-02-16", "300")}
	decision := billing.EvaluateCancellation(invoices, late, date("2015-03-01"))
	assert.True(t, decision.ShouldCancel)
	assert.Equal(t, "300.00", decision.Balance.String())
}

func TestEvaluateCancellation_ReportsFirstUnsettledInvoice(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	// GIVEN: First installment paid, second not
	payments := []billing.Payment{payment("2015-01-10", "300")}

	decision := billing.EvaluateCancellation(invoices, payments, date("2015-06-01"))

	assert.True(t, decision.ShouldCancel)
	require.NotNil(t, decision.Invoice)
	assert.Equal(t, "2015-04-01", decision.Invoice.BillDate.String())
	assert.Equal(t, "300.00", decision.Balance.String())
}
