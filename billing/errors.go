/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match categories with errors.Is and pull details with errors.As.

ERROR CATEGORIES:
  1. Configuration errors - Unknown or ambiguous billing schedule
  2. Validation errors - Bad input (missing payer, date outside term, ...)
  3. Policy state errors - Operation blocked by the policy's current state
  4. Lookup errors - Referenced record does not exist
  5. Store errors - Wrapped persistence failures (rolled back by WithTx)

USAGE:
  _, err := acct.RecordPayment(ctx, billing.PaymentRequest{...})
  if errors.Is(err, billing.ErrPolicyState) {
      // pending cancellation, only an explicit payer may pay
  }

SEE ALSO:
  - api/handlers.go: Maps categories onto HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned for an unrecognized billing schedule.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is returned when caller input breaks a business rule.
	ErrValidation = errors.New("validation error")

	// ErrPolicyState is returned when the policy's state blocks the operation.
	ErrPolicyState = errors.New("policy state error")

	ErrPolicyNotFound  = errors.New("policy not found")
	ErrContactNotFound = errors.New("contact not found")
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrDuplicatePolicyNumber is returned when a policy number is taken.
	ErrDuplicatePolicyNumber = errors.New("duplicate policy number")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports a billing schedule the engine cannot bill on.
type ConfigurationError struct {
	Schedule BillingSchedule
	Hint     string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("unrecognized billing schedule %q", e.Schedule)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PolicyStateError reports an operation blocked by policy state as of a date.
type PolicyStateError struct {
	PolicyID PolicyID
	AsOf     Date
	Reason   string
}

func (e *PolicyStateError) Error() string {
	return fmt.Sprintf("policy %s as of %s: %s", e.PolicyID, e.AsOf, e.Reason)
}

func (e *PolicyStateError) Unwrap() error { return ErrPolicyState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrDuplicatePolicyNumber)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsStateConflict returns true if the policy's state blocked the operation.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrPolicyState)
}
