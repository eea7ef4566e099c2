package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/domain/draw"
	"github.com/fl2m/platform/internal/app/domain/invoice"
	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/domain/profile"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness or state
	// constraint.
	ErrConflict = errors.New("record conflict")
)

// ProfileStore persists profiles and practitioners.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	GetProfile(ctx context.Context, id string) (profile.Profile, error)

	CreatePractitioner(ctx context.Context, p profile.Practitioner) (profile.Practitioner, error)
	UpdatePractitioner(ctx context.Context, p profile.Practitioner) (profile.Practitioner, error)
	GetPractitioner(ctx context.Context, id string) (profile.Practitioner, error)
	GetPractitionerByProfile(ctx context.Context, profileID string) (profile.Practitioner, error)
	GetPractitionerByStripeAccount(ctx context.Context, accountID string) (profile.Practitioner, error)
	ListPractitioners(ctx context.Context, activeOnly bool) ([]profile.Practitioner, error)
}

// ContractStore persists practitioner contracts.
type ContractStore interface {
	CreateContract(ctx context.Context, c contract.Contract) (contract.Contract, error)
	UpdateContract(ctx context.Context, c contract.Contract) (contract.Contract, error)
	GetContract(ctx context.Context, id string) (contract.Contract, error)
	ListContracts(ctx context.Context, practitionerID string) ([]contract.Contract, error)
	GetActiveContract(ctx context.Context, practitionerID string) (contract.Contract, error)
	ListDueContracts(ctx context.Context, asOf time.Time) ([]contract.Contract, error)
	// ActivateContract ends the practitioner's current active contract (if
	// any) at asOf and activates the pending contract id, atomically.
	ActivateContract(ctx context.Context, id string, asOf time.Time) (contract.Contract, error)
}

// BeneficiaryStore persists beneficiaries, access grants, invitations and
// document metadata.
type BeneficiaryStore interface {
	// CreateBeneficiary stores the beneficiary and the owner grant together.
	CreateBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error)
	UpdateBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error)
	GetBeneficiary(ctx context.Context, id string) (beneficiary.Beneficiary, error)
	DeleteBeneficiary(ctx context.Context, id string) error
	ListBeneficiariesForProfile(ctx context.Context, profileID string) ([]beneficiary.Beneficiary, error)

	GetGrant(ctx context.Context, beneficiaryID, profileID string) (beneficiary.AccessGrant, error)
	UpsertGrant(ctx context.Context, g beneficiary.AccessGrant) (beneficiary.AccessGrant, error)
	DeleteGrant(ctx context.Context, beneficiaryID, profileID string) error
	ListGrants(ctx context.Context, beneficiaryID string) ([]beneficiary.AccessGrant, error)

	CreateInvitation(ctx context.Context, inv beneficiary.Invitation) (beneficiary.Invitation, error)
	UpdateInvitation(ctx context.Context, inv beneficiary.Invitation) (beneficiary.Invitation, error)
	GetInvitation(ctx context.Context, id string) (beneficiary.Invitation, error)
	ListInvitations(ctx context.Context, beneficiaryID string) ([]beneficiary.Invitation, error)
	// ExpireInvitations marks pending invitations past their expiry as
	// expired and returns how many rows changed.
	ExpireInvitations(ctx context.Context, now time.Time) (int, error)

	CreateDocument(ctx context.Context, d beneficiary.Document) (beneficiary.Document, error)
	GetDocument(ctx context.Context, id string) (beneficiary.Document, error)
	ListDocuments(ctx context.Context, beneficiaryID string) ([]beneficiary.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// AppointmentStore persists appointments.
type AppointmentStore interface {
	// CreateAppointment returns ErrConflict when the practitioner already has
	// a non-cancelled appointment overlapping the slot.
	CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error)
	GetAppointment(ctx context.Context, id string) (appointment.Appointment, error)
	ListAppointmentsByClient(ctx context.Context, clientID string) ([]appointment.Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, practitionerID string) ([]appointment.Appointment, error)
	// ListConfirmedEndedBefore returns confirmed appointments whose end time is
	// at or before cutoff.
	ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time) ([]appointment.Appointment, error)
}

// PaymentStore persists transactions and processed webhook events.
type PaymentStore interface {
	CreateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error)
	UpdateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error)
	GetTransaction(ctx context.Context, id string) (payment.Transaction, error)
	GetTransactionByAppointment(ctx context.Context, appointmentID string) (payment.Transaction, error)
	GetTransactionByCheckoutSession(ctx context.Context, sessionID string) (payment.Transaction, error)
	GetTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (payment.Transaction, error)
	GetTransactionByTransfer(ctx context.Context, transferID string) (payment.Transaction, error)

	// ListDueTransfers returns eligible rows whose eligibility time is at or
	// before now, oldest first.
	ListDueTransfers(ctx context.Context, now time.Time, limit int) ([]payment.Transaction, error)
	// ListStaleTransfers returns processing rows last touched at or before
	// olderThan.
	ListStaleTransfers(ctx context.Context, olderThan time.Time, limit int) ([]payment.Transaction, error)
	// ClaimTransfer moves a row from one transfer status to processing only if
	// it is still in that status, incrementing the attempt counter. It reports
	// whether the claim succeeded.
	ClaimTransfer(ctx context.Context, id string, from payment.TransferStatus, now time.Time) (bool, error)
	// FinishTransfer writes the outcome of a claimed payout while the row is
	// still processing. Payment columns are never touched. The bool is false
	// when the row left processing before the outcome was written.
	FinishTransfer(ctx context.Context, id string, out payment.TransferOutcome, now time.Time) (payment.Transaction, bool, error)
	// SwapTransferStatus moves transfer_status from one value to another only
	// if it still holds from.
	SwapTransferStatus(ctx context.Context, id string, from, to payment.TransferStatus) (bool, error)
	// MarkRefunded sets the payment status to refunded. A transfer that has
	// not started is cancelled; processing, completed and reversed transfers
	// are kept.
	MarkRefunded(ctx context.Context, id string) (payment.Transaction, error)

	// RecordWebhookEvent inserts the event id and reports false only when the
	// event was already processed successfully. An event whose processing
	// failed or never finished is reset and reported as new so a redelivery
	// applies it again.
	RecordWebhookEvent(ctx context.Context, evt payment.WebhookEvent) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, id string, processedAt time.Time, errMsg string) error
}

// InvoiceStore persists invoices and their numbering.
type InvoiceStore interface {
	// NextInvoiceSequence atomically allocates the next number for year,
	// starting at 1.
	NextInvoiceSequence(ctx context.Context, year int) (int64, error)
	// CreateInvoice returns ErrConflict when the transaction already has an
	// invoice.
	CreateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error)
	GetInvoice(ctx context.Context, id string) (invoice.Invoice, error)
	GetInvoiceByTransaction(ctx context.Context, transactionID string) (invoice.Invoice, error)
	ListInvoicesForProfile(ctx context.Context, clientID, practitionerID string) ([]invoice.Invoice, error)
}

// DrawStore persists daily draw messages and served history.
type DrawStore interface {
	UpsertDrawMessage(ctx context.Context, m draw.Message) (draw.Message, error)
	GetDrawMessage(ctx context.Context, id string) (draw.Message, error)
	ListDrawMessages(ctx context.Context, number int) ([]draw.Message, error)

	GetDrawHistory(ctx context.Context, identity string, day time.Time) (draw.HistoryEntry, error)
	// CreateDrawHistory returns ErrConflict when the identity already has an
	// entry for that day.
	CreateDrawHistory(ctx context.Context, e draw.HistoryEntry) (draw.HistoryEntry, error)
	ListDrawHistory(ctx context.Context, identity string, limit int) ([]draw.HistoryEntry, error)
}
