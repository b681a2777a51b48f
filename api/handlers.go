/*
handlers.go - HTTP API handlers for the policy billing engine

PURPOSE:
  Exposes billing.Accounting over REST. Handles HTTP request/response and
  JSON serialization, and delegates every decision to the billing package.

ENDPOINTS:
  Policies:
    GET    /api/policies                         List all policies
    POST   /api/policies                         Create policy (generates invoices)
    GET    /api/policy?policyNumber=&dateCursor= Policy summary by number
    GET    /api/policies/{id}?as_of=             Policy summary by id
    GET    /api/policies/{id}/invoices           Invoices (?include_deleted=true)
    GET    /api/policies/{id}/payments           Payments
    POST   /api/policies/{id}/payments           Record payment
    POST   /api/policies/{id}/schedule           Change billing schedule mid-term
    GET    /api/policies/{id}/cancellation       Pending / should-cancel as of a date
    POST   /api/policies/{id}/cancel             Cancel the policy

  Contacts:
    GET    /api/contacts                         List contacts
    POST   /api/contacts                         Create contact

  Admin:
    POST   /api/admin/sweep                      Run the cancellation sweep now
    POST   /api/admin/seed                       Reset and load demo data (development only)

REQUEST FLOW:
  1. Parse HTTP request (dates YYYY-MM-DD, money as decimal strings)
  2. Call billing.Accounting
  3. Serialize response
  4. Map errors onto status codes

ERROR HANDLING:
  - 400: validation_error, configuration_error, bad_request
  - 404: not_found
  - 409: policy_state_error, duplicate_policy_number
  - 500: internal_error

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/policy-billing/billing"
)

// DefaultSweepSchedule runs the cancellation sweep once a day at midnight.
const DefaultSweepSchedule = "@daily"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DataStore is the admin surface of the persistence collaborator.
type DataStore interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounting *billing.Accounting
	Store      DataStore
	Metrics    *Metrics
	Sweep      *CancellationSweep
	Logger     *slog.Logger

	seedMu sync.Mutex
}

// NewHandler creates a new handler. The metrics must be the Observer the
// Accounting was built with for the business counters to move.
func NewHandler(acct *billing.Accounting, store DataStore, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Handler{
		Accounting: acct,
		Store:      store,
		Metrics:    metrics,
		Sweep:      NewCancellationSweep(acct, metrics, DefaultSweepSchedule),
		Logger:     slog.Default(),
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Accounting.ListPolicies(r.Context())
	if err != nil {
		h.respondError(w, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates a policy and generates its invoices.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	number := req.PolicyNumber
	if number == "" {
		number = req.Name
	}
	eff, err := parseDate("effective_date", req.EffectiveDate)
	if err != nil {
		h.respondError(w, "Invalid policy", err)
		return
	}
	premium, err := parseMoney("annual_premium", req.AnnualPremium)
	if err != nil {
		h.respondError(w, "Invalid policy", err)
		return
	}

	in := billing.NewPolicy{
		Number:          number,
		EffectiveDate:   eff,
		AnnualPremium:   premium,
		BillingSchedule: billing.BillingSchedule(req.BillingSchedule),
		NamedInsured:    contactRef(req.NamedInsured),
		Agent:           contactRef(req.Agent),
	}

	ctx := r.Context()
	policy, err := h.Accounting.CreatePolicy(ctx, in)
	if err != nil {
		h.respondError(w, "Failed to create policy", err)
		return
	}
	if policy, err = h.Accounting.Open(ctx, policy.ID); err != nil {
		h.respondError(w, "Failed to generate invoices", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(policy))
}

// GetPolicyByNumber returns the policy summary for ?policyNumber= as of
// ?dateCursor= (default today).
func (h *Handler) GetPolicyByNumber(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("policyNumber")
	if number == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "policyNumber is required", nil)
		return
	}
	asOf, err := parseOptionalDate("dateCursor", r.URL.Query().Get("dateCursor"))
	if err != nil {
		h.respondError(w, "Invalid date", err)
		return
	}

	ctx := r.Context()
	policy, err := h.Accounting.GetPolicyByNumber(ctx, number)
	if err != nil {
		h.respondError(w, "Policy not found", err)
		return
	}
	h.writeSummary(ctx, w, policy.ID, asOf)
}

// GetPolicy returns the policy summary as of ?as_of= (default today).
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseOptionalDate("as_of", r.URL.Query().Get("as_of"))
	if err != nil {
		h.respondError(w, "Invalid date", err)
		return
	}
	h.writeSummary(r.Context(), w, policyIDParam(r), asOf)
}

func (h *Handler) writeSummary(ctx context.Context, w http.ResponseWriter, id billing.PolicyID, asOf billing.Date) {
	summary, err := h.Accounting.Summary(ctx, id, asOf)
	if err != nil {
		h.respondError(w, "Failed to load policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

// ListInvoices returns the policy's invoices, soft-deleted ones on request.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	includeDeleted := false
	if v := r.URL.Query().Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "include_deleted must be a boolean", err)
			return
		}
		includeDeleted = b
	}

	invoices, err := h.Accounting.Invoices(r.Context(), policyIDParam(r), includeDeleted)
	if err != nil {
		h.respondError(w, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Accounting.Payments(r.Context(), policyIDParam(r))
	if err != nil {
		h.respondError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPayment records a payment against the policy.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		h.respondError(w, "Invalid payment", err)
		return
	}
	date, err := parseOptionalDate("date", req.Date)
	if err != nil {
		h.respondError(w, "Invalid payment", err)
		return
	}

	payment, err := h.Accounting.RecordPayment(r.Context(), billing.PaymentRequest{
		PolicyID:  policyIDParam(r),
		ContactID: billing.ContactID(req.ContactID),
		Date:      date,
		Amount:    amount,
	})
	if err != nil {
		h.respondError(w, "Payment rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// =============================================================================
// SCHEDULE CHANGE
// =============================================================================

// ChangeSchedule moves the rest of the term onto a new billing schedule.
func (h *Handler) ChangeSchedule(w http.ResponseWriter, r *http.Request) {
	var req ChangeScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	asOf, err := parseOptionalDate("as_of", req.AsOf)
	if err != nil {
		h.respondError(w, "Invalid date", err)
		return
	}

	result, err := h.Accounting.ChangeSchedule(r.Context(), billing.ScheduleChange{
		PolicyID: policyIDParam(r),
		Schedule: billing.BillingSchedule(req.Schedule),
		AsOf:     asOf,
	})
	if err != nil {
		h.respondError(w, "Failed to change schedule", err)
		return
	}

	if asOf.IsZero() {
		asOf = h.Accounting.Today()
	}
	writeJSON(w, http.StatusOK, ChangeScheduleResponse{
		Policy:        toPolicyDTO(result.Policy),
		AsOf:          asOf.String(),
		Removed:       toInvoiceDTOs(result.Removed),
		Added:         toInvoiceDTOs(result.Added),
		Rescheduled:   result.Rescheduled.String(),
		BalanceBefore: result.BalanceBefore.String(),
		BalanceAfter:  result.BalanceAfter.String(),
	})
}

// =============================================================================
// CANCELLATION
// =============================================================================

// GetCancellation reports whether the policy is pending cancellation and
// whether it should cancel, as of ?as_of= (default today).
func (h *Handler) GetCancellation(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseOptionalDate("as_of", r.URL.Query().Get("as_of"))
	if err != nil {
		h.respondError(w, "Invalid date", err)
		return
	}
	if asOf.IsZero() {
		asOf = h.Accounting.Today()
	}

	decision, err := h.Accounting.EvaluateCancellation(r.Context(), policyIDParam(r), asOf)
	if err != nil {
		h.respondError(w, "Failed to evaluate cancellation", err)
		return
	}

	dto := CancellationDTO{
		AsOf:         asOf.String(),
		Pending:      decision.Pending,
		ShouldCancel: decision.ShouldCancel,
		Balance:      decision.Balance.String(),
	}
	if decision.Invoice != nil {
		inv := toInvoiceDTO(*decision.Invoice)
		dto.Invoice = &inv
	}
	writeJSON(w, http.StatusOK, dto)
}

// CancelPolicy cancels the policy. The body is optional.
func (h *Handler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	var req CancelPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	asOf, err := parseOptionalDate("as_of", req.AsOf)
	if err != nil {
		h.respondError(w, "Invalid date", err)
		return
	}

	policy, err := h.Accounting.CancelPolicy(r.Context(), policyIDParam(r), asOf, req.Reason)
	if err != nil {
		h.respondError(w, "Failed to cancel policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(policy))
}

// =============================================================================
// CONTACT HANDLERS
// =============================================================================

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.Accounting.ListContacts(r.Context())
	if err != nil {
		h.respondError(w, "Failed to list contacts", err)
		return
	}

	dtos := make([]ContactDTO, len(contacts))
	for i, c := range contacts {
		dtos[i] = toContactDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req CreateContactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	c, err := h.Accounting.CreateContact(r.Context(), req.Name, billing.ContactRole(req.Role))
	if err != nil {
		h.respondError(w, "Failed to create contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContactDTO(c))
}

// =============================================================================
// ADMIN
// =============================================================================

// TriggerSweep runs the cancellation sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	asOf, err := parseOptionalDate("as_of", req.AsOf)
	if err != nil {
		h.respondError(w, "Invalid date", err)
		return
	}

	result, err := h.Sweep.RunOnce(r.Context(), asOf)
	if err != nil {
		h.respondError(w, "Cancellation sweep failed", err)
		return
	}

	canceled := make([]string, len(result.Canceled))
	for i, id := range result.Canceled {
		canceled[i] = string(id)
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		AsOf:      result.AsOf.String(),
		Evaluated: result.Evaluated,
		Canceled:  canceled,
		Failed:    result.Failed,
	})
}

// Healthz reports liveness, and database reachability when the store can
// be pinged.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// respondError maps a billing error onto its HTTP status and code.
func (h *Handler) respondError(w http.ResponseWriter, message string, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, "error", err)
	}
	writeError(w, status, code, message, err)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrConfiguration):
		return http.StatusBadRequest, "configuration_error"
	case errors.Is(err, billing.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, billing.ErrDuplicatePolicyNumber):
		return http.StatusConflict, "duplicate_policy_number"
	case billing.IsStateConflict(err):
		return http.StatusConflict, "policy_state_error"
	case billing.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseDate(field, s string) (billing.Date, error) {
	if s == "" {
		return billing.Date{}, &billing.ValidationError{Field: field, Reason: "is required"}
	}
	return parseOptionalDate(field, s)
}

func parseOptionalDate(field, s string) (billing.Date, error) {
	if s == "" {
		return billing.Date{}, nil
	}
	d, err := billing.ParseDate(s)
	if err != nil {
		return billing.Date{}, &billing.ValidationError{Field: field, Reason: err.Error()}
	}
	return d, nil
}

func parseMoney(field, s string) (billing.Money, error) {
	if s == "" {
		return billing.Money{}, &billing.ValidationError{Field: field, Reason: "is required"}
	}
	m, err := billing.ParseMoney(s)
	if err != nil {
		return billing.Money{}, &billing.ValidationError{Field: field, Reason: err.Error()}
	}
	return m, nil
}

func policyIDParam(r *http.Request) billing.PolicyID {
	return billing.PolicyID(chi.URLParam(r, "id"))
}

func contactRef(s string) *billing.ContactID {
	if s == "" {
		return nil
	}
	id := billing.ContactID(s)
	return &id
}

func strPtr(s string) *string {
	return &s
}
