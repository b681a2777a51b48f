/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the billing
  domain model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

WIRE FORMATS:
  Dates are "YYYY-MM-DD" strings. Money is a decimal string with two
  places ("1200.00"), never a JSON number.

VALIDATION:
  Validation is done in handlers and the billing package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/policy-billing/billing"
)

// =============================================================================
// CONTACTS
// =============================================================================

type ContactDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type CreateContactRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func toContactDTO(c billing.Contact) ContactDTO {
	return ContactDTO{ID: string(c.ID), Name: c.Name, Role: string(c.Role)}
}

// =============================================================================
// POLICIES
// =============================================================================

type PolicyDTO struct {
	ID               string  `json:"id"`
	PolicyNumber     string  `json:"policy_number"`
	EffectiveDate    string  `json:"effective_date"`
	TermEnd          string  `json:"term_end"`
	AnnualPremium    string  `json:"annual_premium"`
	BillingSchedule  string  `json:"billing_schedule"`
	Status           string  `json:"status"`
	StatusInfo       string  `json:"status_info,omitempty"`
	CancellationDate *string `json:"cancellation_date,omitempty"`
	NamedInsured     *string `json:"named_insured,omitempty"`
	Agent            *string `json:"agent,omitempty"`
}

// CreatePolicyRequest creates a policy. Name is accepted as an alias for
// policy_number.
type CreatePolicyRequest struct {
	PolicyNumber    string `json:"policy_number"`
	Name            string `json:"name"`
	EffectiveDate   string `json:"effective_date"`
	AnnualPremium   string `json:"annual_premium"`
	BillingSchedule string `json:"billing_schedule"`
	NamedInsured    string `json:"named_insured,omitempty"`
	Agent           string `json:"agent,omitempty"`
}

func toPolicyDTO(p billing.Policy) PolicyDTO {
	dto := PolicyDTO{
		ID:              string(p.ID),
		PolicyNumber:    p.Number,
		EffectiveDate:   p.EffectiveDate.String(),
		TermEnd:         p.TermEnd().String(),
		AnnualPremium:   p.AnnualPremium.String(),
		BillingSchedule: string(p.BillingSchedule),
		Status:          string(p.Status),
		StatusInfo:      p.StatusInfo,
	}
	if p.CancellationDate != nil {
		dto.CancellationDate = strPtr(p.CancellationDate.String())
	}
	if p.NamedInsured != nil {
		dto.NamedInsured = strPtr(string(*p.NamedInsured))
	}
	if p.Agent != nil {
		dto.Agent = strPtr(string(*p.Agent))
	}
	return dto
}

// PolicySummaryResponse is the policy detail view: the policy, its
// parties, the balance as of a date and the live invoices.
type PolicySummaryResponse struct {
	Policy              PolicyDTO    `json:"policy"`
	NamedInsured        *ContactDTO  `json:"named_insured,omitempty"`
	Agent               *ContactDTO  `json:"agent,omitempty"`
	AsOf                string       `json:"as_of"`
	AccountBalance      string       `json:"account_balance"`
	PendingCancellation bool         `json:"pending_cancellation"`
	Invoices            []InvoiceDTO `json:"invoices"`
}

func toSummaryResponse(s billing.PolicySummary) PolicySummaryResponse {
	resp := PolicySummaryResponse{
		Policy:              toPolicyDTO(s.Policy),
		AsOf:                s.AsOf.String(),
		AccountBalance:      s.Balance.String(),
		PendingCancellation: s.PendingCancellation,
		Invoices:            toInvoiceDTOs(s.Invoices),
	}
	if s.NamedInsured != nil {
		c := toContactDTO(*s.NamedInsured)
		resp.NamedInsured = &c
	}
	if s.Agent != nil {
		c := toContactDTO(*s.Agent)
		resp.Agent = &c
	}
	return resp
}

// =============================================================================
// INVOICES & PAYMENTS
// =============================================================================

type InvoiceDTO struct {
	ID         string `json:"id"`
	BillDate   string `json:"bill_date"`
	DueDate    string `json:"due_date"`
	CancelDate string `json:"cancel_date"`
	AmountDue  string `json:"amount_due"`
	Deleted    bool   `json:"deleted"`
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:         string(inv.ID),
		BillDate:   inv.BillDate.String(),
		DueDate:    inv.DueDate.String(),
		CancelDate: inv.CancelDate.String(),
		AmountDue:  inv.AmountDue.String(),
		Deleted:    inv.Deleted,
	}
}

func toInvoiceDTOs(invoices []billing.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	return dtos
}

type PaymentDTO struct {
	ID              string `json:"id"`
	PolicyID        string `json:"policy_id"`
	ContactID       string `json:"contact_id"`
	TransactionDate string `json:"transaction_date"`
	AmountPaid      string `json:"amount_paid"`
}

// RecordPaymentRequest records a payment. contact_id and date are optional:
// they default to the named insured and today.
type RecordPaymentRequest struct {
	ContactID string `json:"contact_id,omitempty"`
	Date      string `json:"date,omitempty"`
	Amount    string `json:"amount"`
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:              string(p.ID),
		PolicyID:        string(p.PolicyID),
		ContactID:       string(p.ContactID),
		TransactionDate: p.TransactionDate.String(),
		AmountPaid:      p.AmountPaid.String(),
	}
}

// =============================================================================
// SCHEDULE CHANGES
// =============================================================================

type ChangeScheduleRequest struct {
	Schedule string `json:"schedule"`
	AsOf     string `json:"as_of,omitempty"`
}

type ChangeScheduleResponse struct {
	Policy        PolicyDTO    `json:"policy"`
	AsOf          string       `json:"as_of"`
	Removed       []InvoiceDTO `json:"removed"`
	Added         []InvoiceDTO `json:"added"`
	Rescheduled   string       `json:"rescheduled"`
	BalanceBefore string       `json:"balance_before"`
	BalanceAfter  string       `json:"balance_after"`
}

// =============================================================================
// CANCELLATION
// =============================================================================

type CancellationDTO struct {
	AsOf         string      `json:"as_of"`
	Pending      bool        `json:"pending"`
	ShouldCancel bool        `json:"should_cancel"`
	Invoice      *InvoiceDTO `json:"invoice,omitempty"`
	Balance      string      `json:"balance"`
}

type CancelPolicyRequest struct {
	AsOf   string `json:"as_of,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// ADMIN
// =============================================================================

type SweepRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

type SweepResponse struct {
	AsOf      string   `json:"as_of"`
	Evaluated int      `json:"evaluated"`
	Canceled  []string `json:"canceled"`
	Failed    int      `json:"failed"`
}

type SeedResponse struct {
	Contacts int `json:"contacts"`
	Policies int `json:"policies"`
	Payments int `json:"payments"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
