package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-billing/billing"
)

func buildInvoices(t *testing.T, effective, premium string, schedule billing.BillingSchedule) []billing.Invoice {
	t.Helper()
	invoices, err := billing.BuildInvoices(policyOn(effective, premium, schedule))
	require.NoError(t, err)
	return invoices
}

func payment(on, amount string) billing.Payment {
	return billing.Payment{PolicyID: "p-1", TransactionDate: date(on), AmountPaid: money(amount)}
}

// =============================================================================
// ACCOUNT BALANCE
// =============================================================================

func TestAccountBalance_AnnualAtEffectiveDate(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleAnnual)

	assert.Equal(t, "1200.00", billing.AccountBalance(invoices, nil, date("2015-01-01")).String())
}

func TestAccountBalance_QuarterlyAtEffectiveDate(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	assert.Equal(t, "300.00", billing.AccountBalance(invoices, nil, date("2015-01-01")).String())
}

func TestAccountBalance_BeforeEffectiveDate_Zero(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)

	assert.True(t, billing.AccountBalance(invoices, nil, date("2014-12-31")).IsZero())
}

func TestAccountBalance_PaymentOnSecondBillDate_Settles(t *testing.T) {
	// GIVEN: Quarterly 1200, 600 paid on the second bill date
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)
	payments := []billing.Payment{payment("2015-04-01", "600")}

	// THEN: Nothing owed that day
	assert.Equal(t, "0.00", billing.AccountBalance(invoices, payments, date("2015-04-01")).String())

	// AND: The payment does not count the day before
	assert.Equal(t, "600.00", billing.AccountBalance(invoices, payments, date("2015-03-31")).String())
}

func TestAccountBalance_Overpayment_GoesNegative(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)
	payments := []billing.Payment{payment("2015-01-05", "500")}

	assert.Equal(t, "-200.00", billing.AccountBalance(invoices, payments, date("2015-01-05")).String())
}

func TestAccountBalance_SkipsDeletedInvoices(t *testing.T) {
	invoices := buildInvoices(t, "2015-01-01", "1200", billing.ScheduleQuarterly)
	invoices[0].Deleted = true

	assert.Equal(t, "300.00", billing.AccountBalance(invoices, nil, date("2015-04-01")).String())
}

func TestPaidThrough(t *testing.T) {
	payments := []billing.Payment{
		payment("2015-01-01", "100"),
		payment("2015-02-01", "50.50"),
		payment("2015-03-01", "10"),
	}

	assert.Equal(t, "150.50", billing.PaidThrough(payments, date("2015-02-01")).String())
}
