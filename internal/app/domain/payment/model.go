package payment

import (
	"time"

	"github.com/fl2m/platform/internal/app/domain/contract"
)

// Status of the client payment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusRefunded Status = "refunded"
	StatusFailed   Status = "failed"
)

// TransferStatus tracks the practitioner payout for a transaction.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferEligible   TransferStatus = "eligible"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
	TransferReversed   TransferStatus = "reversed"
)

// Transaction records a client payment for an appointment and how it is split
// between the platform and the practitioner.
type Transaction struct {
	ID                    string         `json:"id" db:"id"`
	AppointmentID         string         `json:"appointment_id" db:"appointment_id"`
	PractitionerID        string         `json:"practitioner_id" db:"practitioner_id"`
	ClientID              string         `json:"client_id" db:"client_id"`
	AmountCents           int64          `json:"amount_cents" db:"amount_cents"`
	CommissionCents       int64          `json:"commission_cents" db:"commission_cents"`
	PractitionerCents     int64          `json:"practitioner_cents" db:"practitioner_cents"`
	Currency              string         `json:"currency" db:"currency"`
	PlanCode              string         `json:"plan" db:"plan_code"`
	Status                Status         `json:"status" db:"status"`
	CheckoutSessionID     string         `json:"checkout_session_id,omitempty" db:"checkout_session_id"`
	PaymentIntentID       string         `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	PaidAt                *time.Time     `json:"paid_at,omitempty" db:"paid_at"`
	TransferStatus        TransferStatus `json:"transfer_status" db:"transfer_status"`
	EligibleForTransferAt *time.Time     `json:"eligible_for_transfer_at,omitempty" db:"eligible_for_transfer_at"`
	TransferID            string         `json:"transfer_id,omitempty" db:"transfer_id"`
	TransferError         string         `json:"transfer_error,omitempty" db:"transfer_error"`
	TransferAttempts      int            `json:"transfer_attempts" db:"transfer_attempts"`
	TransferredAt         *time.Time     `json:"transferred_at,omitempty" db:"transferred_at"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// TransferOutcome is the result of a claimed payout. Only the transfer
// columns it names are written back.
type TransferOutcome struct {
	Status        TransferStatus
	TransferID    string
	Error         string
	Attempts      int
	TransferredAt *time.Time
}

// Split computes the commission and practitioner share of amount under plan.
func Split(amount int64, plan contract.Plan) (commission, practitioner int64) {
	commission = plan.Commission(amount)
	return commission, amount - commission
}

// Due reports whether the transaction is eligible and its hold has elapsed.
func (t Transaction) Due(now time.Time) bool {
	return t.TransferStatus == TransferEligible &&
		t.EligibleForTransferAt != nil &&
		!t.EligibleForTransferAt.After(now)
}

// IdempotencyKey is the key sent with the transfer request for this row. It
// is stable across retries so a re-driven payout cannot move funds twice.
func (t Transaction) IdempotencyKey() string {
	return "payout-" + t.ID
}

// WebhookEvent is a processed Stripe event, kept to drop redeliveries.
type WebhookEvent struct {
	ID          string     `json:"id" db:"id"`
	Type        string     `json:"type" db:"type"`
	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	Error       string     `json:"error,omitempty" db:"error"`
}
