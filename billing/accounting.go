/*
accounting.go - Transactional facade over the billing engine

PURPOSE:
  Accounting is what the API (and any other caller) talks to. Each method is
  one accounting operation: it takes the policy's lock, opens a single
  WithTx unit of work, runs the engine components against the transactional
  Store and commits or rolls back as a whole.

LAZY INVOICES:
  A policy gets its invoices on first access. Any per-policy operation
  first generates invoices if the policy has none (live or deleted) and a
  billing schedule has been assigned.

CONCURRENCY:
  Writes for the same policy are serialized by a per-policy mutex, so two
  schedule changes (or a payment racing a schedule change) never interleave
  on one invoice set. Different policies proceed in parallel.

DEFAULTS:
  A zero Date argument means "today" as returned by the Clock option.

USAGE:
  acct := billing.NewAccounting(store, billing.WithLogger(slog.Default()))
  bal, err := acct.Balance(ctx, policyID, billing.Date{})
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// ACCOUNTING
// =============================================================================

type Accounting struct {
	store  TxStore
	clock  Clock
	newID  func() string
	logger *slog.Logger
	obs    Observer

	mu    sync.Mutex
	locks map[PolicyID]*sync.Mutex
}

type Option func(*Accounting)

func WithClock(c Clock) Option { return func(a *Accounting) { a.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(a *Accounting) { a.logger = l } }

func WithIDGenerator(fn func() string) Option { return func(a *Accounting) { a.newID = fn } }

func WithObserver(o Observer) Option { return func(a *Accounting) { a.obs = o } }

// Observer is notified of committed accounting events.
type Observer interface {
	InvoicesGenerated(policyID PolicyID, count int)
	PaymentRecorded(p Payment)
	PaymentRejected(policyID PolicyID, err error)
	ScheduleChanged(policyID PolicyID, schedule BillingSchedule)
	PolicyCanceled(policyID PolicyID)
}

type nopObserver struct{}

func (nopObserver) InvoicesGenerated(PolicyID, int)           {}
func (nopObserver) PaymentRecorded(Payment)                   {}
func (nopObserver) PaymentRejected(PolicyID, error)           {}
func (nopObserver) ScheduleChanged(PolicyID, BillingSchedule) {}
func (nopObserver) PolicyCanceled(PolicyID)                   {}

func NewAccounting(store TxStore, opts ...Option) *Accounting {
	a := &Accounting{
		store:  store,
		clock:  Today,
		newID:  uuid.NewString,
		logger: slog.Default(),
		obs:    nopObserver{},
		locks:  make(map[PolicyID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Today returns the accounting clock's current date.
func (a *Accounting) Today() Date { return a.clock() }

func (a *Accounting) resolve(d Date) Date {
	if d.IsZero() {
		return a.clock()
	}
	return d
}

func (a *Accounting) lockPolicy(id PolicyID) func() {
	a.mu.Lock()
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// withPolicy runs fn in one transaction holding the policy's lock, after
// making sure the policy has its invoices.
func (a *Accounting) withPolicy(ctx context.Context, id PolicyID, fn func(Store, Policy) error) error {
	unlock := a.lockPolicy(id)
	defer unlock()

	generated := 0
	err := a.store.WithTx(ctx, func(s Store) error {
		policy, err := s.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if generated, err = a.ensureInvoices(ctx, s, policy); err != nil {
			return err
		}
		return fn(s, policy)
	})
	if err == nil && generated > 0 {
		a.obs.InvoicesGenerated(id, generated)
	}
	return err
}

func (a *Accounting) ensureInvoices(ctx context.Context, s Store, p Policy) (int, error) {
	if p.BillingSchedule == "" {
		return 0, nil
	}
	existing, err := s.ListInvoices(ctx, p.ID, InvoiceFilter{IncludeDeleted: true})
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	invoices, err := a.generate(ctx, s, p)
	return len(invoices), err
}

func (a *Accounting) generate(ctx context.Context, s Store, p Policy) ([]Invoice, error) {
	invoices, err := BuildInvoices(p)
	if err != nil {
		return nil, err
	}

	live, err := s.ListInvoices(ctx, p.ID, InvoiceFilter{})
	if err != nil {
		return nil, err
	}
	if len(live) > 0 {
		ids := make([]InvoiceID, len(live))
		for i, inv := range live {
			ids[i] = inv.ID
		}
		if err := s.SoftDeleteInvoices(ctx, ids); err != nil {
			return nil, fmt.Errorf("soft-delete invoices: %w", err)
		}
	}

	for i := range invoices {
		invoices[i].ID = InvoiceID(a.newID())
	}
	if err := s.InsertInvoices(ctx, invoices); err != nil {
		return nil, fmt.Errorf("insert invoices: %w", err)
	}

	a.logger.Info("invoices generated",
		"policy_id", p.ID,
		"schedule", p.BillingSchedule,
		"count", len(invoices),
		"replaced", len(live),
	)
	return invoices, nil
}

// =============================================================================
// CONTACTS & POLICIES
// =============================================================================

func (a *Accounting) CreateContact(ctx context.Context, name string, role ContactRole) (Contact, error) {
	if name == "" {
		return Contact{}, &ValidationError{Field: "name", Reason: "is required"}
	}
	if role != RoleAgent && role != RoleNamedInsured {
		return Contact{}, &ValidationError{Field: "role", Reason: fmt.Sprintf("must be %q or %q", RoleAgent, RoleNamedInsured)}
	}
	c := Contact{ID: ContactID(a.newID()), Name: name, Role: role}
	if err := a.store.InsertContact(ctx, c); err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

func (a *Accounting) GetContact(ctx context.Context, id ContactID) (Contact, error) {
	return a.store.GetContact(ctx, id)
}

func (a *Accounting) ListContacts(ctx context.Context) ([]Contact, error) {
	return a.store.ListContacts(ctx)
}

// NewPolicy is the input to CreatePolicy. BillingSchedule may be left empty
// and assigned later with AssignSchedule.
type NewPolicy struct {
	Number          string
	EffectiveDate   Date
	AnnualPremium   Money
	BillingSchedule BillingSchedule
	NamedInsured    *ContactID
	Agent           *ContactID
}

func (a *Accounting) CreatePolicy(ctx context.Context, in NewPolicy) (Policy, error) {
	switch {
	case in.Number == "":
		return Policy{}, &ValidationError{Field: "policy_number", Reason: "is required"}
	case in.EffectiveDate.IsZero():
		return Policy{}, &ValidationError{Field: "effective_date", Reason: "is required"}
	case !in.AnnualPremium.IsPositive():
		return Policy{}, &ValidationError{Field: "annual_premium", Reason: "must be positive"}
	}
	if in.BillingSchedule != "" {
		if err := in.BillingSchedule.Validate(); err != nil {
			return Policy{}, err
		}
	}

	p := Policy{
		ID:              PolicyID(a.newID()),
		Number:          in.Number,
		EffectiveDate:   in.EffectiveDate,
		AnnualPremium:   in.AnnualPremium,
		BillingSchedule: in.BillingSchedule,
		Status:          StatusActive,
		NamedInsured:    in.NamedInsured,
		Agent:           in.Agent,
	}
	err := a.store.WithTx(ctx, func(s Store) error {
		for _, ref := range []*ContactID{in.NamedInsured, in.Agent} {
			if ref == nil {
				continue
			}
			if _, err := s.GetContact(ctx, *ref); err != nil {
				return fmt.Errorf("contact %s: %w", *ref, err)
			}
		}
		if _, err := s.GetPolicyByNumber(ctx, in.Number); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicatePolicyNumber, in.Number)
		} else if !errors.Is(err, ErrPolicyNotFound) {
			return err
		}
		return s.InsertPolicy(ctx, p)
	})
	if err != nil {
		return Policy{}, err
	}
	a.logger.Info("policy created", "policy_id", p.ID, "number", p.Number, "schedule", p.BillingSchedule)
	return p, nil
}

func (a *Accounting) GetPolicy(ctx context.Context, id PolicyID) (Policy, error) {
	return a.store.GetPolicy(ctx, id)
}

func (a *Accounting) GetPolicyByNumber(ctx context.Context, number string) (Policy, error) {
	return a.store.GetPolicyByNumber(ctx, number)
}

func (a *Accounting) ListPolicies(ctx context.Context) ([]Policy, error) {
	return a.store.ListPolicies(ctx)
}

// Open returns the policy, generating its invoices on first access.
func (a *Accounting) Open(ctx context.Context, id PolicyID) (Policy, error) {
	var policy Policy
	err := a.withPolicy(ctx, id, func(_ Store, p Policy) error {
		policy = p
		return nil
	})
	return policy, err
}

// AssignSchedule sets the schedule of a policy that has not been billed yet.
// Billed policies must go through ChangeSchedule.
func (a *Accounting) AssignSchedule(ctx context.Context, id PolicyID, schedule BillingSchedule) (Policy, error) {
	if err := schedule.Validate(); err != nil {
		return Policy{}, err
	}
	unlock := a.lockPolicy(id)
	defer unlock()

	var (
		policy    Policy
		generated int
	)
	err := a.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		live, err := s.ListInvoices(ctx, id, InvoiceFilter{})
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return &PolicyStateError{PolicyID: id, AsOf: a.clock(), Reason: "already invoiced, change the schedule instead"}
		}
		p.BillingSchedule = schedule
		if err := s.UpdatePolicy(ctx, p); err != nil {
			return err
		}
		invoices, err := a.generate(ctx, s, p)
		generated = len(invoices)
		policy = p
		return err
	})
	if err == nil {
		a.obs.InvoicesGenerated(id, generated)
	}
	return policy, err
}

// =============================================================================
// ACCOUNTING OPERATIONS
// =============================================================================

// GenerateInvoices replaces the policy's live invoices with a freshly built
// set. Calling it twice in a row leaves an identical live set (new IDs).
func (a *Accounting) GenerateInvoices(ctx context.Context, id PolicyID) ([]Invoice, error) {
	unlock := a.lockPolicy(id)
	defer unlock()

	var invoices []Invoice
	err := a.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		invoices, err = a.generate(ctx, s, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.obs.InvoicesGenerated(id, len(invoices))
	return invoices, nil
}

// Invoices lists the policy's invoices ordered by bill date.
func (a *Accounting) Invoices(ctx context.Context, id PolicyID, includeDeleted bool) ([]Invoice, error) {
	var invoices []Invoice
	err := a.withPolicy(ctx, id, func(s Store, _ Policy) error {
		var err error
		invoices, err = s.ListInvoices(ctx, id, InvoiceFilter{IncludeDeleted: includeDeleted})
		return err
	})
	return invoices, err
}

func (a *Accounting) Payments(ctx context.Context, id PolicyID) ([]Payment, error) {
	if _, err := a.store.GetPolicy(ctx, id); err != nil {
		return nil, err
	}
	return a.store.ListPayments(ctx, id, PaymentFilter{})
}

// Balance returns the amount owed as of asOf (zero means today).
func (a *Accounting) Balance(ctx context.Context, id PolicyID, asOf Date) (Money, error) {
	asOf = a.resolve(asOf)
	var balance Money
	err := a.withPolicy(ctx, id, func(s Store, _ Policy) error {
		var err error
		balance, err = (&BalanceCalculator{Store: s}).Balance(ctx, id, asOf)
		return err
	})
	return balance, err
}

func (a *Accounting) RecordPayment(ctx context.Context, req PaymentRequest) (Payment, error) {
	var payment Payment
	err := a.withPolicy(ctx, req.PolicyID, func(s Store, _ Policy) error {
		pr := &PaymentRecorder{Store: s, Clock: a.clock, NewID: a.newID}
		var err error
		payment, err = pr.Record(ctx, req)
		return err
	})
	if err != nil {
		a.logger.Warn("payment rejected", "policy_id", req.PolicyID, "error", err)
		a.obs.PaymentRejected(req.PolicyID, err)
		return Payment{}, err
	}
	a.logger.Info("payment recorded",
		"policy_id", payment.PolicyID,
		"payment_id", payment.ID,
		"contact_id", payment.ContactID,
		"amount", payment.AmountPaid.String(),
		"date", payment.TransactionDate.String(),
	)
	a.obs.PaymentRecorded(payment)
	return payment, nil
}

func (a *Accounting) IsPendingCancellation(ctx context.Context, id PolicyID, asOf Date) (bool, error) {
	asOf = a.resolve(asOf)
	var pending bool
	err := a.withPolicy(ctx, id, func(s Store, _ Policy) error {
		var err error
		pending, err = (&CancellationEvaluator{Store: s}).IsPendingCancellation(ctx, id, asOf)
		return err
	})
	return pending, err
}

// EvaluateCancellation decides whether the policy should have cancelled by
// asOf. It does not change the policy; see CancelPolicy.
func (a *Accounting) EvaluateCancellation(ctx context.Context, id PolicyID, asOf Date) (CancellationDecision, error) {
	asOf = a.resolve(asOf)
	var decision CancellationDecision
	err := a.withPolicy(ctx, id, func(s Store, _ Policy) error {
		var err error
		decision, err = (&CancellationEvaluator{Store: s}).Evaluate(ctx, id, asOf)
		return err
	})
	if err == nil && decision.ShouldCancel {
		a.logger.Info("policy should cancel",
			"policy_id", id,
			"as_of", asOf.String(),
			"invoice_id", decision.Invoice.ID,
			"balance", decision.Balance.String(),
		)
	}
	return decision, err
}

func (a *Accounting) ShouldCancel(ctx context.Context, id PolicyID, asOf Date) (bool, error) {
	decision, err := a.EvaluateCancellation(ctx, id, asOf)
	return decision.ShouldCancel, err
}

func (a *Accounting) ChangeSchedule(ctx context.Context, req ScheduleChange) (ScheduleChangeResult, error) {
	req.AsOf = a.resolve(req.AsOf)
	var result ScheduleChangeResult
	err := a.withPolicy(ctx, req.PolicyID, func(s Store, _ Policy) error {
		sc := &ScheduleChanger{Store: s, Clock: a.clock, NewID: a.newID}
		var err error
		result, err = sc.Change(ctx, req)
		return err
	})
	if err != nil {
		return ScheduleChangeResult{}, err
	}
	a.logger.Info("billing schedule changed",
		"policy_id", req.PolicyID,
		"schedule", req.Schedule,
		"as_of", req.AsOf.String(),
		"removed", len(result.Removed),
		"added", len(result.Added),
		"rescheduled", result.Rescheduled.String(),
	)
	a.obs.ScheduleChanged(req.PolicyID, req.Schedule)
	if len(result.Added) > 0 {
		a.obs.InvoicesGenerated(req.PolicyID, len(result.Added))
	}
	return result, nil
}

// CancelPolicy marks the policy canceled as of the given date. It is the
// caller-side action taken on a should-cancel decision.
func (a *Accounting) CancelPolicy(ctx context.Context, id PolicyID, asOf Date, reason string) (Policy, error) {
	asOf = a.resolve(asOf)
	var policy Policy
	err := a.withPolicy(ctx, id, func(s Store, p Policy) error {
		if p.Status == StatusCanceled {
			return &PolicyStateError{PolicyID: id, AsOf: asOf, Reason: "policy is already canceled"}
		}
		if reason == "" {
			reason = "canceled for non-payment"
		}
		p.Status = StatusCanceled
		p.StatusInfo = reason
		p.CancellationDate = &asOf
		policy = p
		return s.UpdatePolicy(ctx, p)
	})
	if err != nil {
		return Policy{}, err
	}
	a.logger.Info("policy canceled", "policy_id", id, "as_of", asOf.String(), "reason", reason)
	a.obs.PolicyCanceled(id)
	return policy, nil
}

// =============================================================================
// SUMMARY - Read model for the API
// =============================================================================

type PolicySummary struct {
	Policy              Policy
	NamedInsured        *Contact
	Agent               *Contact
	AsOf                Date
	Balance             Money
	PendingCancellation bool
	Invoices            []Invoice
}

// Summary collects everything the policy detail view shows, from one
// consistent snapshot.
func (a *Accounting) Summary(ctx context.Context, id PolicyID, asOf Date) (PolicySummary, error) {
	asOf = a.resolve(asOf)
	var sum PolicySummary
	err := a.withPolicy(ctx, id, func(s Store, p Policy) error {
		sum = PolicySummary{Policy: p, AsOf: asOf}

		var err error
		if sum.NamedInsured, err = lookupContact(ctx, s, p.NamedInsured); err != nil {
			return err
		}
		if sum.Agent, err = lookupContact(ctx, s, p.Agent); err != nil {
			return err
		}
		if sum.Balance, err = (&BalanceCalculator{Store: s}).Balance(ctx, id, asOf); err != nil {
			return err
		}
		if sum.PendingCancellation, err = (&CancellationEvaluator{Store: s}).IsPendingCancellation(ctx, id, asOf); err != nil {
			return err
		}
		sum.Invoices, err = s.ListInvoices(ctx, id, InvoiceFilter{})
		return err
	})
	return sum, err
}

func lookupContact(ctx context.Context, s Store, id *ContactID) (*Contact, error) {
	if id == nil {
		return nil, nil
	}
	c, err := s.GetContact(ctx, *id)
	if errors.Is(err, ErrContactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
