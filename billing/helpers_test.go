package billing_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(s string) billing.Date { return billing.MustParseDate(s) }

func money(s string) billing.Money { return billing.MustParseMoney(s) }

func fixedClock(s string) billing.Clock {
	d := date(s)
	return func() billing.Date { return d }
}

// sequentialIDs returns deterministic ids: prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	ctx     context.Context
	store   *store.TxMemory
	acct    *billing.Accounting
	insured billing.Contact
	agent   billing.Contact
}

func newTestEnv(t *testing.T, today string, opts ...billing.Option) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()

	opts = append([]billing.Option{
		billing.WithClock(fixedClock(today)),
		billing.WithLogger(quietLogger()),
		billing.WithIDGenerator(sequentialIDs("id")),
	}, opts...)
	acct := billing.NewAccounting(mem, opts...)

	insured, err := acct.CreateContact(ctx, "Anna White", billing.RoleNamedInsured)
	require.NoError(t, err)
	agent, err := acct.CreateContact(ctx, "Joe Lee", billing.RoleAgent)
	require.NoError(t, err)

	return &testEnv{ctx: ctx, store: mem, acct: acct, insured: insured, agent: agent}
}

// newPolicy creates a policy with the env's named insured and agent.
func (e *testEnv) newPolicy(t *testing.T, number, effective, premium string, schedule billing.BillingSchedule) billing.Policy {
	t.Helper()
	p, err := e.acct.CreatePolicy(e.ctx, billing.NewPolicy{
		Number:          number,
		EffectiveDate:   date(effective),
		AnnualPremium:   money(premium),
		BillingSchedule: schedule,
		NamedInsured:    &e.insured.ID,
		Agent:           &e.agent.ID,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) pay(t *testing.T, p billing.Policy, on, amount string) billing.Payment {
	t.Helper()
	payment, err := e.acct.RecordPayment(e.ctx, billing.PaymentRequest{
		PolicyID:  p.ID,
		ContactID: e.insured.ID,
		Date:      date(on),
		Amount:    money(amount),
	})
	require.NoError(t, err)
	return payment
}

func (e *testEnv) balance(t *testing.T, p billing.Policy, on string) string {
	t.Helper()
	b, err := e.acct.Balance(e.ctx, p.ID, date(on))
	require.NoError(t, err)
	return b.String()
}

func billDates(invoices []billing.Invoice) []string {
	out := make([]string, len(invoices))
	for i, inv := range invoices {
		out[i] = inv.BillDate.String()
	}
	return out
}

func amounts(invoices []billing.Invoice) []string {
	out := make([]string, len(invoices))
	for i, inv := range invoices {
		out[i] = inv.AmountDue.String()
	}
	return out
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errInjected = errors.New("injected store failure")

// faultyTxStore fails the named write inside every transaction.
type faultyTxStore struct {
	billing.TxStore
	failOn string
}

func (f *faultyTxStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s billing.Store) error {
		return fn(&faultyStore{Store: s, failOn: f.failOn})
	})
}

type faultyStore struct {
	billing.Store
	failOn string
}

func (f *faultyStore) InsertInvoices(ctx context.Context, invoices []billing.Invoice) error {
	if f.failOn == "InsertInvoices" {
		return errInjected
	}
	return f.Store.InsertInvoices(ctx, invoices)
}

func (f *faultyStore) UpdatePolicy(ctx context.Context, p billing.Policy) error {
	if f.failOn == "UpdatePolicy" {
		return errInjected
	}
	return f.Store.UpdatePolicy(ctx, p)
}

// recordingObserver captures committed events.
type recordingObserver struct {
	mu        sync.Mutex
	generated int
	payments  int
	rejected  []error
	changes   []billing.BillingSchedule
	canceled  []billing.PolicyID
}

func (o *recordingObserver) InvoicesGenerated(_ billing.PolicyID, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generated += n
}

func (o *recordingObserver) PaymentRecorded(billing.Payment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.payments++
}

func (o *recordingObserver) PaymentRejected(_ billing.PolicyID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, err)
}

func (o *recordingObserver) ScheduleChanged(_ billing.PolicyID, s billing.BillingSchedule) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, s)
}

func (o *recordingObserver) PolicyCanceled(id billing.PolicyID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canceled = append(o.canceled, id)
}
