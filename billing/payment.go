package billing

import (
	"context"
	"fmt"
)

// PaymentRequest describes a payment to record.
//
// Defaults:
//   - ContactID empty: the policy's named insured pays. This is refused while
//     the policy is pending cancellation; only an explicit payer (an agent
//     override) may pay then.
//   - Date zero: today, per the recorder's Clock.
type PaymentRequest struct {
	PolicyID  PolicyID
	ContactID ContactID
	Date      Date
	Amount    Money
}

// PaymentRecorder validates and persists payments.
type PaymentRecorder struct {
	Store Store
	Clock Clock
	NewID func() string
}

// Record persists the payment. Overpayment is accepted.
func (pr *PaymentRecorder) Record(ctx context.Context, req PaymentRequest) (Payment, error) {
	policy, err := pr.Store.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return Payment{}, err
	}
	if req.Amount.IsNegative() {
		return Payment{}, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	date := req.Date
	if date.IsZero() {
		date = pr.Clock()
	}

	payer := req.ContactID
	if payer == "" {
		ce := &CancellationEvaluator{Store: pr.Store}
		pending, err := ce.IsPendingCancellation(ctx, policy.ID, date)
		if err != nil {
			return Payment{}, err
		}
		if pending {
			return Payment{}, &PolicyStateError{
				PolicyID: policy.ID,
				AsOf:     date,
				Reason:   "pending cancellation, an explicit payer is required",
			}
		}
		if policy.NamedInsured == nil {
			return Payment{}, &ValidationError{
				Field:  "contact_id",
				Reason: "no payer given and the policy has no named insured",
			}
		}
		payer = *policy.NamedInsured
	} else if _, err := pr.Store.GetContact(ctx, payer); err != nil {
		return Payment{}, fmt.Errorf("payer %s: %w", payer, err)
	}

	payment := Payment{
		ID:              PaymentID(pr.NewID()),
		PolicyID:        policy.ID,
		ContactID:       payer,
		TransactionDate: date,
		AmountPaid:      req.Amount,
	}
	if err := pr.Store.InsertPayment(ctx, payment); err != nil {
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return payment, nil
}
