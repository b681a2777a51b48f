// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/policy-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	policies map[billing.PolicyID]billing.Policy
	contacts map[billing.ContactID]billing.Contact
	invoices map[billing.PolicyID][]billing.Invoice
	payments map[billing.PolicyID][]billing.Payment
}

func newState() state {
	return state{
		policies: make(map[billing.PolicyID]billing.Policy),
		contacts: make(map[billing.ContactID]billing.Contact),
		invoices: make(map[billing.PolicyID][]billing.Invoice),
		payments: make(map[billing.PolicyID][]billing.Payment),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) InsertPolicy(_ context.Context, p billing.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPolicy(p)
}

func (m *Memory) UpdatePolicy(_ context.Context, p billing.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePolicy(p)
}

func (m *Memory) GetPolicy(_ context.Context, id billing.PolicyID) (billing.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPolicy(id)
}

func (m *Memory) GetPolicyByNumber(_ context.Context, number string) (billing.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPolicyByNumber(number)
}

func (m *Memory) ListPolicies(_ context.Context) ([]billing.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPolicies(), nil
}

func (m *Memory) InsertContact(_ context.Context, c billing.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertContact(c)
}

func (m *Memory) GetContact(_ context.Context, id billing.ContactID) (billing.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContact(id)
}

func (m *Memory) ListContacts(_ context.Context) ([]billing.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listContacts(), nil
}

func (m *Memory) InsertInvoices(_ context.Context, invoices []billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertInvoices(invoices)
}

func (m *Memory) SoftDeleteInvoices(_ context.Context, ids []billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.softDeleteInvoices(ids)
}

func (m *Memory) ListInvoices(_ context.Context, policyID billing.PolicyID, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvoices(policyID, f), nil
}

func (m *Memory) InsertPayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPayment(p)
}

func (m *Memory) ListPayments(_ context.Context, policyID billing.PolicyID, f billing.PaymentFilter) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayments(policyID, f), nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// LOCKED OPERATIONS - Callers hold mu
// =============================================================================

func (s *state) insertPolicy(p billing.Policy) error {
	if _, ok := s.policies[p.ID]; ok {
		return fmt.Errorf("policy %s already exists", p.ID)
	}
	for _, existing := range s.policies {
		if existing.Number == p.Number {
			return fmt.Errorf("%w: %s", billing.ErrDuplicatePolicyNumber, p.Number)
		}
	}
	s.policies[p.ID] = p
	return nil
}

func (s *state) updatePolicy(p billing.Policy) error {
	if _, ok := s.policies[p.ID]; !ok {
		return billing.ErrPolicyNotFound
	}
	s.policies[p.ID] = p
	return nil
}

func (s *state) getPolicy(id billing.PolicyID) (billing.Policy, error) {
	p, ok := s.policies[id]
	if !ok {
		return billing.Policy{}, billing.ErrPolicyNotFound
	}
	return p, nil
}

func (s *state) getPolicyByNumber(number string) (billing.Policy, error) {
	for _, p := range s.policies {
		if p.Number == number {
			return p, nil
		}
	}
	return billing.Policy{}, billing.ErrPolicyNotFound
}

func (s *state) listPolicies() []billing.Policy {
	result := make([]billing.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result
}

func (s *state) insertContact(c billing.Contact) error {
	if _, ok := s.contacts[c.ID]; ok {
		return fmt.Errorf("contact %s already exists", c.ID)
	}
	s.contacts[c.ID] = c
	return nil
}

func (s *state) getContact(id billing.ContactID) (billing.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return billing.Contact{}, billing.ErrContactNotFound
	}
	return c, nil
}

func (s *state) listContacts() []billing.Contact {
	result := make([]billing.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *state) insertInvoices(invoices []billing.Invoice) error {
	for _, inv := range invoices {
		if _, ok := s.policies[inv.PolicyID]; !ok {
			return billing.ErrPolicyNotFound
		}
	}
	for _, inv := range invoices {
		list := s.invoices[inv.PolicyID]

		// Keep each policy's invoices ordered by bill date.
		i := sort.Search(len(list), func(i int) bool {
			return list[i].BillDate.After(inv.BillDate)
		})
		list = append(list, billing.Invoice{})
		copy(list[i+1:], list[i:])
		list[i] = inv
		s.invoices[inv.PolicyID] = list
	}
	return nil
}

func (s *state) softDeleteInvoices(ids []billing.InvoiceID) error {
	want := make(map[billing.InvoiceID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	found := 0
	for policyID, list := range s.invoices {
		for i := range list {
			if want[list[i].ID] {
				list[i].Deleted = true
				found++
			}
		}
		s.invoices[policyID] = list
	}
	if found != len(want) {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

func (s *state) listInvoices(policyID billing.PolicyID, f billing.InvoiceFilter) []billing.Invoice {
	var result []billing.Invoice
	for _, inv := range s.invoices[policyID] {
		if f.Matches(inv) {
			result = append(result, inv)
		}
	}
	return result
}

func (s *state) insertPayment(p billing.Payment) error {
	if _, ok := s.policies[p.PolicyID]; !ok {
		return billing.ErrPolicyNotFound
	}
	if _, ok := s.contacts[p.ContactID]; !ok {
		return billing.ErrContactNotFound
	}
	list := s.payments[p.PolicyID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].TransactionDate.After(p.TransactionDate)
	})
	list = append(list, billing.Payment{})
	copy(list[i+1:], list[i:])
	list[i] = p
	s.payments[p.PolicyID] = list
	return nil
}

func (s *state) listPayments(policyID billing.PolicyID, f billing.PaymentFilter) []billing.Payment {
	var result []billing.Payment
	for _, p := range s.payments[policyID] {
		if f.Matches(p) {
			result = append(result, p)
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized: WithTx holds the write lock throughout.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() state {
	s := newState()
	for k, v := range tm.policies {
		s.policies[k] = v
	}
	for k, v := range tm.contacts {
		s.contacts[k] = v
	}
	for k, v := range tm.invoices {
		s.invoices[k] = append([]billing.Invoice(nil), v...)
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]billing.Payment(nil), v...)
	}
	return s
}

// txMemoryView operates on the parent's state without locking; the parent
// holds the lock for the whole transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertPolicy(_ context.Context, p billing.Policy) error {
	return tv.parent.insertPolicy(p)
}

func (tv *txMemoryView) UpdatePolicy(_ context.Context, p billing.Policy) error {
	return tv.parent.updatePolicy(p)
}

func (tv *txMemoryView) GetPolicy(_ context.Context, id billing.PolicyID) (billing.Policy, error) {
	return tv.parent.getPolicy(id)
}

func (tv *txMemoryView) GetPolicyByNumber(_ context.Context, number string) (billing.Policy, error) {
	return tv.parent.getPolicyByNumber(number)
}

func (tv *txMemoryView) ListPolicies(_ context.Context) ([]billing.Policy, error) {
	return tv.parent.listPolicies(), nil
}

func (tv *txMemoryView) InsertContact(_ context.Context, c billing.Contact) error {
	return tv.parent.insertContact(c)
}

func (tv *txMemoryView) GetContact(_ context.Context, id billing.ContactID) (billing.Contact, error) {
	return tv.parent.getContact(id)
}

func (tv *txMemoryView) ListContacts(_ context.Context) ([]billing.Contact, error) {
	return tv.parent.listContacts(), nil
}

func (tv *txMemoryView) InsertInvoices(_ context.Context, invoices []billing.Invoice) error {
	return tv.parent.insertInvoices(invoices)
}

func (tv *txMemoryView) SoftDeleteInvoices(_ context.Context, ids []billing.InvoiceID) error {
	return tv.parent.softDeleteInvoices(ids)
}

func (tv *txMemoryView) ListInvoices(_ context.Context, policyID billing.PolicyID, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	return tv.parent.listInvoices(policyID, f), nil
}

func (tv *txMemoryView) InsertPayment(_ context.Context, p billing.Payment) error {
	return tv.parent.insertPayment(p)
}

func (tv *txMemoryView) ListPayments(_ context.Context, policyID billing.PolicyID, f billing.PaymentFilter) ([]billing.Payment, error) {
	return tv.parent.listPayments(policyID, f), nil
}
