package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-billing/billing"
)

func seedPolicy(t *testing.T, tm *TxMemory, id billing.PolicyID, number string) billing.Policy {
	t.Helper()
	p := billing.Policy{
		ID:              id,
		Number:          number,
		EffectiveDate:   billing.MustParseDate("2015-01-01"),
		AnnualPremium:   billing.MustParseMoney("1200"),
		BillingSchedule: billing.ScheduleQuarterly,
		Status:          billing.StatusActive,
	}
	require.NoError(t, tm.InsertPolicy(context.Background(), p))
	return p
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	p := seedPolicy(t, tm, "p1", "Policy One")

	invoices, err := billing.BuildInvoices(p)
	require.NoError(t, err)
	for i := range invoices {
		invoices[i].ID = billing.InvoiceID(string(rune('a' + i)))
	}
	require.NoError(t, tm.InsertInvoices(ctx, invoices))

	// WHEN: A transaction soft-deletes, then fails
	boom := errors.New("boom")
	err = tm.WithTx(ctx, func(s billing.Store) error {
		if err := s.SoftDeleteInvoices(ctx, []billing.InvoiceID{"a", "b"}); err != nil {
			return err
		}
		p.Status = billing.StatusCanceled
		if err := s.UpdatePolicy(ctx, p); err != nil {
			return err
		}
		return boom
	})

	// THEN: Nothing it did is visible
	require.ErrorIs(t, err, boom)

	live, err := tm.ListInvoices(ctx, "p1", billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 4)

	got, err := tm.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status)
}

func TestTxMemory_CommitOnSuccess(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	seedPolicy(t, tm, "p1", "Policy One")

	err := tm.WithTx(ctx, func(s billing.Store) error {
		return s.InsertContact(ctx, billing.Contact{ID: "c1", Name: "Anna White", Role: billing.RoleNamedInsured})
	})
	require.NoError(t, err)

	c, err := tm.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Anna White", c.Name)
}

func TestMemory_DuplicatePolicyNumber(t *testing.T) {
	tm := NewTxMemory()
	seedPolicy(t, tm, "p1", "Policy One")

	err := tm.InsertPolicy(context.Background(), billing.Policy{ID: "p2", Number: "Policy One"})
	assert.ErrorIs(t, err, billing.ErrDuplicatePolicyNumber)
}

func TestMemory_InvoicesOrderedByBillDate(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	seedPolicy(t, tm, "p1", "Policy One")

	amount := billing.MustParseMoney("10")
	late := billing.NewInvoice("p1", billing.MustParseDate("2015-07-01"), amount)
	late.ID = "late"
	early := billing.NewInvoice("p1", billing.MustParseDate("2015-01-01"), amount)
	early.ID = "early"
	mid := billing.NewInvoice("p1", billing.MustParseDate("2015-04-01"), amount)
	mid.ID = "mid"

	require.NoError(t, tm.InsertInvoices(ctx, []billing.Invoice{late, early}))
	require.NoError(t, tm.InsertInvoices(ctx, []billing.Invoice{mid}))

	got, err := tm.ListInvoices(ctx, "p1", billing.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, billing.InvoiceID("early"), got[0].ID)
	assert.Equal(t, billing.InvoiceID("mid"), got[1].ID)
	assert.Equal(t, billing.InvoiceID("late"), got[2].ID)
}

func TestMemory_ReferentialChecks(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	seedPolicy(t, tm, "p1", "Policy One")

	err := tm.InsertInvoices(ctx, []billing.Invoice{{ID: "x", PolicyID: "missing"}})
	assert.ErrorIs(t, err, billing.ErrPolicyNotFound)

	err = tm.InsertPayment(ctx, billing.Payment{ID: "pay", PolicyID: "p1", ContactID: "nobody"})
	assert.ErrorIs(t, err, billing.ErrContactNotFound)

	err = tm.SoftDeleteInvoices(ctx, []billing.InvoiceID{"nope"})
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	seedPolicy(t, tm, "p1", "Policy One")

	require.NoError(t, tm.Reset(ctx))

	policies, err := tm.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
}
