/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  The persistence collaborator for the billing engine. Stores contacts,
  policies, invoices and payments, and runs each accounting operation in a
  single database transaction.

KEY TABLES:
  contacts:  People referenced by policies and payments
  policies:  Policy term, premium, schedule and status
  invoices:  Installments (soft-deleted via the deleted flag, never removed
             while the policy exists; ON DELETE CASCADE from policies)
  payments:  Immutable payment records

STORAGE FORMATS:
  Dates are TEXT in YYYY-MM-DD, so string comparison is date comparison.
  Money is TEXT holding the decimal string, never REAL.

CONCURRENCY:
  A single connection is used (SQLite has one writer anyway, and ":memory:"
  databases are per connection). WithTx holds the write lock for the whole
  transaction; reads inside a transaction go through the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  acct := billing.NewAccounting(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/policy-billing/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already-open database. The schema is not created.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL UNIQUE,
		effective_date TEXT NOT NULL,
		annual_premium TEXT NOT NULL,
		billing_schedule TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'Active',
		status_info TEXT NOT NULL DEFAULT '',
		cancellation_date TEXT,
		named_insured TEXT REFERENCES contacts(id),
		agent TEXT REFERENCES contacts(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		bill_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		cancel_date TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Hot path: balance and cancellation queries per policy by date
	CREATE INDEX IF NOT EXISTS idx_invoices_policy_bill
		ON invoices(policy_id, deleted, bill_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		contact_id TEXT NOT NULL REFERENCES contacts(id),
		transaction_date TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_policy_date
		ON payments(policy_id, transaction_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) InsertPolicy(ctx context.Context, p billing.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPolicy(ctx, s.db, p)
}

func (s *Store) UpdatePolicy(ctx context.Context, p billing.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePolicy(ctx, s.db, p)
}

func (s *Store) GetPolicy(ctx context.Context, id billing.PolicyID) (billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, "id = ?", string(id))
}

func (s *Store) GetPolicyByNumber(ctx context.Context, number string) (billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, "policy_number = ?", number)
}

func (s *Store) ListPolicies(ctx context.Context) ([]billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPolicies(ctx, s.db)
}

// DeletePolicy removes a policy with its invoices and payments.
func (s *Store) DeletePolicy(ctx context.Context, id billing.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrPolicyNotFound
	}
	return nil
}

const policyColumns = `id, policy_number, effective_date, annual_premium, billing_schedule,
	status, status_info, cancellation_date, named_insured, agent`

func insertPolicy(ctx context.Context, db dbtx, p billing.Policy) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(ctx, `
		INSERT INTO policies (`+policyColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), p.Number, p.EffectiveDate.String(), p.AnnualPremium.Value.String(),
		string(p.BillingSchedule), string(p.Status), p.StatusInfo,
		nullDate(p.CancellationDate), nullContact(p.NamedInsured), nullContact(p.Agent),
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "policy_number") {
			return fmt.Errorf("%w: %s", billing.ErrDuplicatePolicyNumber, p.Number)
		}
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return nil
}

func updatePolicy(ctx context.Context, db dbtx, p billing.Policy) error {
	res, err := db.ExecContext(ctx, `
		UPDATE policies SET
			billing_schedule = ?, status = ?, status_info = ?, cancellation_date = ?,
			named_insured = ?, agent = ?, updated_at = ?
		WHERE id = ?`,
		string(p.BillingSchedule), string(p.Status), p.StatusInfo, nullDate(p.CancellationDate),
		nullContact(p.NamedInsured), nullContact(p.Agent), time.Now().UTC().Format(time.RFC3339),
		string(p.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrPolicyNotFound
	}
	return nil
}

func getPolicy(ctx context.Context, db dbtx, where string, arg any) (billing.Policy, error) {
	row := db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE "+where, arg)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Policy{}, billing.ErrPolicyNotFound
	}
	return p, err
}

func listPolicies(ctx context.Context, db dbtx) ([]billing.Policy, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies ORDER BY policy_number")
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []billing.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (billing.Policy, error) {
	var (
		p                billing.Policy
		effectiveDate    string
		premium          string
		schedule         string
		status           string
		cancellationDate sql.NullString
		namedInsured     sql.NullString
		agent            sql.NullString
	)
	err := row.Scan(&p.ID, &p.Number, &effectiveDate, &premium, &schedule,
		&status, &p.StatusInfo, &cancellationDate, &namedInsured, &agent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}

	if p.EffectiveDate, err = billing.ParseDate(effectiveDate); err != nil {
		return p, err
	}
	if p.AnnualPremium, err = billing.ParseMoney(premium); err != nil {
		return p, fmt.Errorf("policy %s premium: %w", p.ID, err)
	}
	p.BillingSchedule = billing.BillingSchedule(schedule)
	p.Status = billing.PolicyStatus(status)
	if cancellationDate.Valid {
		d, err := billing.ParseDate(cancellationDate.String)
		if err != nil {
			return p, err
		}
		p.CancellationDate = &d
	}
	p.NamedInsured = contactRef(namedInsured)
	p.Agent = contactRef(agent)
	return p, nil
}

// =============================================================================
// CONTACTS
// =============================================================================

func (s *Store) InsertContact(ctx context.Context, c billing.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertContact(ctx, s.db, c)
}

func (s *Store) GetContact(ctx context.Context, id billing.ContactID) (billing.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getContact(ctx, s.db, id)
}

func (s *Store) ListContacts(ctx context.Context) ([]billing.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listContacts(ctx, s.db)
}

func insertContact(ctx context.Context, db dbtx, c billing.Contact) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO contacts (id, name, role, created_at) VALUES (?, ?, ?, ?)",
		string(c.ID), c.Name, string(c.Role), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

func getContact(ctx context.Context, db dbtx, id billing.ContactID) (billing.Contact, error) {
	var c billing.Contact
	err := db.QueryRowContext(ctx,
		"SELECT id, name, role FROM contacts WHERE id = ?", string(id),
	).Scan(&c.ID, &c.Name, &c.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return c, billing.ErrContactNotFound
	}
	if err != nil {
		return c, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

func listContacts(ctx context.Context, db dbtx) ([]billing.Contact, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, name, role FROM contacts ORDER BY name, role")
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []billing.Contact
	for rows.Next() {
		var c billing.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Role); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) InsertInvoices(ctx context.Context, invoices []billing.Invoice) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.InsertInvoices(ctx, invoices)
	})
}

func (s *Store) SoftDeleteInvoices(ctx context.Context, ids []billing.InvoiceID) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.SoftDeleteInvoices(ctx, ids)
	})
}

func (s *Store) ListInvoices(ctx context.Context, policyID billing.PolicyID, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvoices(ctx, s.db, policyID, f)
}

func insertInvoices(ctx context.Context, db dbtx, invoices []billing.Invoice) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, inv := range invoices {
		_, err := db.ExecContext(ctx, `
			INSERT INTO invoices (id, policy_id, bill_date, due_date, cancel_date, amount_due, deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(inv.ID), string(inv.PolicyID), inv.BillDate.String(), inv.DueDate.String(),
			inv.CancelDate.String(), inv.AmountDue.Value.String(), boolInt(inv.Deleted), now,
		)
		if err != nil {
			if isForeignKeyError(err) {
				return billing.ErrPolicyNotFound
			}
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
	}
	return nil
}

func softDeleteInvoices(ctx context.Context, db dbtx, ids []billing.InvoiceID) error {
	for _, id := range ids {
		res, err := db.ExecContext(ctx, "UPDATE invoices SET deleted = 1 WHERE id = ?", string(id))
		if err != nil {
			return fmt.Errorf("failed to soft-delete invoice: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return billing.ErrInvoiceNotFound
		}
	}
	return nil
}

func listInvoices(ctx context.Context, db dbtx, policyID billing.PolicyID, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	query := `SELECT id, policy_id, bill_date, due_date, cancel_date, amount_due, deleted
		FROM invoices WHERE policy_id = ?`
	args := []any{string(policyID)}

	if !f.IncludeDeleted {
		query += " AND deleted = 0"
	}
	if f.BilledOnOrBefore != nil {
		query += " AND bill_date <= ?"
		args = append(args, f.BilledOnOrBefore.String())
	}
	if f.BilledAfter != nil {
		query += " AND bill_date > ?"
		args = append(args, f.BilledAfter.String())
	}
	if f.DueOnOrBefore != nil {
		query += " AND due_date <= ?"
		args = append(args, f.DueOnOrBefore.String())
	}
	if f.CancelOnOrBefore != nil {
		query += " AND cancel_date <= ?"
		args = append(args, f.CancelOnOrBefore.String())
	}
	query += " ORDER BY bill_date ASC, created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		var (
			inv                    billing.Invoice
			bill, due, cancel, amt string
			deleted                int
		)
		if err := rows.Scan(&inv.ID, &inv.PolicyID, &bill, &due, &cancel, &amt, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if inv.BillDate, err = billing.ParseDate(bill); err != nil {
			return nil, err
		}
		if inv.DueDate, err = billing.ParseDate(due); err != nil {
			return nil, err
		}
		if inv.CancelDate, err = billing.ParseDate(cancel); err != nil {
			return nil, err
		}
		if inv.AmountDue, err = billing.ParseMoney(amt); err != nil {
			return nil, fmt.Errorf("invoice %s amount: %w", inv.ID, err)
		}
		inv.Deleted = deleted != 0
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, p)
}

func (s *Store) ListPayments(ctx context.Context, policyID billing.PolicyID, f billing.PaymentFilter) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, policyID, f)
}

func insertPayment(ctx context.Context, db dbtx, p billing.Payment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (id, policy_id, contact_id, transaction_date, amount_paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.PolicyID), string(p.ContactID), p.TransactionDate.String(),
		p.AmountPaid.Value.String(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func listPayments(ctx context.Context, db dbtx, policyID billing.PolicyID, f billing.PaymentFilter) ([]billing.Payment, error) {
	query := `SELECT id, policy_id, contact_id, transaction_date, amount_paid
		FROM payments WHERE policy_id = ?`
	args := []any{string(policyID)}
	if f.OnOrBefore != nil {
		query += " AND transaction_date <= ?"
		args = append(args, f.OnOrBefore.String())
	}
	query += " ORDER BY transaction_date ASC, created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			p          billing.Payment
			date, paid string
		)
		if err := rows.Scan(&p.ID, &p.PolicyID, &p.ContactID, &date, &paid); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.TransactionDate, err = billing.ParseDate(date); err != nil {
			return nil, err
		}
		if p.AmountPaid, err = billing.ParseMoney(paid); err != nil {
			return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertPolicy(ctx context.Context, p billing.Policy) error {
	return insertPolicy(ctx, ts.tx, p)
}

func (ts *txStore) UpdatePolicy(ctx context.Context, p billing.Policy) error {
	return updatePolicy(ctx, ts.tx, p)
}

func (ts *txStore) GetPolicy(ctx context.Context, id billing.PolicyID) (billing.Policy, error) {
	return getPolicy(ctx, ts.tx, "id = ?", string(id))
}

func (ts *txStore) GetPolicyByNumber(ctx context.Context, number string) (billing.Policy, error) {
	return getPolicy(ctx, ts.tx, "policy_number = ?", number)
}

func (ts *txStore) ListPolicies(ctx context.Context) ([]billing.Policy, error) {
	return listPolicies(ctx, ts.tx)
}

func (ts *txStore) InsertContact(ctx context.Context, c billing.Contact) error {
	return insertContact(ctx, ts.tx, c)
}

func (ts *txStore) GetContact(ctx context.Context, id billing.ContactID) (billing.Contact, error) {
	return getContact(ctx, ts.tx, id)
}

func (ts *txStore) ListContacts(ctx context.Context) ([]billing.Contact, error) {
	return listContacts(ctx, ts.tx)
}

func (ts *txStore) InsertInvoices(ctx context.Context, invoices []billing.Invoice) error {
	return insertInvoices(ctx, ts.tx, invoices)
}

func (ts *txStore) SoftDeleteInvoices(ctx context.Context, ids []billing.InvoiceID) error {
	return softDeleteInvoices(ctx, ts.tx, ids)
}

func (ts *txStore) ListInvoices(ctx context.Context, policyID billing.PolicyID, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	return listInvoices(ctx, ts.tx, policyID, f)
}

func (ts *txStore) InsertPayment(ctx context.Context, p billing.Payment) error {
	return insertPayment(ctx, ts.tx, p)
}

func (ts *txStore) ListPayments(ctx context.Context, policyID billing.PolicyID, f billing.PaymentFilter) ([]billing.Payment, error) {
	return listPayments(ctx, ts.tx, policyID, f)
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used before loading seed fixtures.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"payments", "invoices", "policies", "contacts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDate(d *billing.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullContact(id *billing.ContactID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func contactRef(s sql.NullString) *billing.ContactID {
	if !s.Valid {
		return nil
	}
	id := billing.ContactID(s.String)
	return &id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
