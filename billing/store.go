/*
store.go - Persistence interface for policies, invoices, payments and contacts

PURPOSE:
  Defines the interface between the billing engine and the database.
  The engine never talks to SQL directly; it reads and writes through
  Store, and every accounting operation runs inside TxStore.WithTx so
  its writes commit together or not at all.

KEY INTERFACES:
  Store:   Reads and writes used by one accounting operation
  TxStore: Store plus WithTx (unit of work scoped to one operation)

WRITE RULES:
  - Invoices: insert and soft-delete only. No hard delete once billed.
  - Payments: insert only. Immutable.
  - Policies: insert and field update (schedule, status).
  - Contacts: insert only.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - accounting.go: Opens one WithTx per operation
*/
package billing

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// InvoiceFilter narrows ListInvoices. Nil fields do not filter.
// Results are always ordered by BillDate.
type InvoiceFilter struct {
	IncludeDeleted bool

	BilledOnOrBefore *Date
	BilledAfter      *Date
	DueOnOrBefore    *Date
	CancelOnOrBefore *Date
}

// Matches applies the filter to a single invoice. Stores that cannot push a
// filter down to their query language use this.
func (f InvoiceFilter) Matches(inv Invoice) bool {
	if inv.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.BilledOnOrBefore != nil && inv.BillDate.After(*f.BilledOnOrBefore) {
		return false
	}
	if f.BilledAfter != nil && !inv.BillDate.After(*f.BilledAfter) {
		return false
	}
	if f.DueOnOrBefore != nil && inv.DueDate.After(*f.DueOnOrBefore) {
		return false
	}
	if f.CancelOnOrBefore != nil && inv.CancelDate.After(*f.CancelOnOrBefore) {
		return false
	}
	return true
}

// PaymentFilter narrows ListPayments. Results are ordered by TransactionDate.
type PaymentFilter struct {
	OnOrBefore *Date
}

func (f PaymentFilter) Matches(p Payment) bool {
	return f.OnOrBefore == nil || !p.TransactionDate.After(*f.OnOrBefore)
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence for the engine.
type Store interface {
	// Policies
	InsertPolicy(ctx context.Context, p Policy) error
	UpdatePolicy(ctx context.Context, p Policy) error
	GetPolicy(ctx context.Context, id PolicyID) (Policy, error)
	GetPolicyByNumber(ctx context.Context, number string) (Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)

	// Contacts
	InsertContact(ctx context.Context, c Contact) error
	GetContact(ctx context.Context, id ContactID) (Contact, error)
	ListContacts(ctx context.Context) ([]Contact, error)

	// Invoices
	InsertInvoices(ctx context.Context, invoices []Invoice) error
	SoftDeleteInvoices(ctx context.Context, ids []InvoiceID) error
	ListInvoices(ctx context.Context, policyID PolicyID, filter InvoiceFilter) ([]Invoice, error)

	// Payments
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, policyID PolicyID, filter PaymentFilter) ([]Payment, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
