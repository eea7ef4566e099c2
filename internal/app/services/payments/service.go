// Package payments runs the money flow: Checkout for clients, webhook
// ingestion, the delayed payout sweep to practitioners and Connect
// onboarding.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/domain/invoice"
	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/stripeconnect"
	"github.com/fl2m/platform/pkg/logger"
)

// PlanResolver returns the plan a practitioner is billed on.
type PlanResolver interface {
	ActivePlan(ctx context.Context, practitionerID string) (contract.Plan, error)
}

// InvoiceIssuer issues the invoice of a paid transaction.
type InvoiceIssuer interface {
	Issue(ctx context.Context, transactionID string) (invoice.Invoice, error)
}

// Config tunes payments.
type Config struct {
	Currency       string
	AccountCountry string
	PublicURL      string
	// Hold is the delay between session validation and payout eligibility.
	Hold time.Duration
	// StaleWindow is how long a row may stay processing before it is
	// re-driven.
	StaleWindow time.Duration
	BatchSize   int
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "eur"
	}
	c.Currency = strings.ToLower(c.Currency)
	if c.AccountCountry == "" {
		c.AccountCountry = "FR"
	}
	if c.Hold < 0 {
		c.Hold = 0
	}
	if c.StaleWindow <= 0 {
		c.StaleWindow = 30 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return c
}

// Service coordinates payments.
type Service struct {
	payments     storage.PaymentStore
	appointments storage.AppointmentStore
	profiles     storage.ProfileStore
	plans        PlanResolver
	invoices     InvoiceIssuer
	gateway      stripeconnect.Gateway
	notifier     *notify.Notifier
	cfg          Config
	now          func() time.Time
	log          *logger.Logger
}

// New constructs the payment service.
func New(
	payments storage.PaymentStore,
	appointments storage.AppointmentStore,
	profiles storage.ProfileStore,
	plans PlanResolver,
	invoices InvoiceIssuer,
	gateway stripeconnect.Gateway,
	notifier *notify.Notifier,
	cfg Config,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Service{
		payments:     payments,
		appointments: appointments,
		profiles:     profiles,
		plans:        plans,
		invoices:     invoices,
		gateway:      gateway,
		notifier:     notifier,
		cfg:          cfg.withDefaults(),
		now:          time.Now,
		log:          log,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Checkout is a payment page for an appointment.
type Checkout struct {
	TransactionID string `json:"transaction_id"`
	SessionID     string `json:"session_id"`
	URL           string `json:"url"`
}

// CreateCheckout opens a Stripe Checkout session for a pending appointment of
// the client. The transaction is created on first call and reused after.
func (s *Service) CreateCheckout(ctx context.Context, appointmentID, clientID string) (Checkout, error) {
	appt, err := s.appointments.GetAppointment(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && appt.ClientID != clientID) {
		return Checkout{}, svcerrors.NotFound("appointment", appointmentID)
	}
	if err != nil {
		return Checkout{}, svcerrors.Internal("get appointment", err)
	}
	if appt.Status != appointment.StatusPending {
		return Checkout{}, svcerrors.Conflict("appointment is not awaiting payment")
	}

	pr, err := s.profiles.GetPractitioner(ctx, appt.PractitionerID)
	if err != nil {
		return Checkout{}, svcerrors.Internal("get practitioner", err)
	}

	tx, err := s.payments.GetTransactionByAppointment(ctx, appointmentID)
	switch {
	case err == nil:
		if tx.Status != payment.StatusPending {
			return Checkout{}, svcerrors.Conflict("appointment payment is " + string(tx.Status))
		}
	case errors.Is(err, storage.ErrNotFound):
		if tx, err = s.openTransaction(ctx, appt); err != nil {
			return Checkout{}, err
		}
	default:
		return Checkout{}, svcerrors.Internal("get transaction", err)
	}

	email := ""
	if client, err := s.profiles.GetProfile(ctx, clientID); err == nil {
		email = client.Email
	}

	base := s.cfg.PublicURL + "/appointments/" + appt.ID
	session, err := s.gateway.CreateCheckoutSession(ctx, stripeconnect.CheckoutRequest{
		AppointmentID:  appt.ID,
		TransactionID:  tx.ID,
		ProductName:    "Séance avec " + pr.DisplayName,
		AmountCents:    tx.AmountCents,
		Currency:       tx.Currency,
		CustomerEmail:  email,
		SuccessURL:     base + "?payment=success",
		CancelURL:      base + "?payment=cancelled",
		IdempotencyKey: fmt.Sprintf("checkout-%s-%d", tx.ID, tx.UpdatedAt.Unix()),
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("transaction_id", tx.ID).Error("create checkout session")
		return Checkout{}, svcerrors.Upstream("stripe", err)
	}

	tx.CheckoutSessionID = session.ID
	if _, err := s.payments.UpdateTransaction(ctx, tx); err != nil {
		return Checkout{}, svcerrors.Internal("record checkout session", err)
	}
	s.log.WithField("transaction_id", tx.ID).WithField("session_id", session.ID).Info("checkout session created")
	return Checkout{TransactionID: tx.ID, SessionID: session.ID, URL: session.URL}, nil
}

func (s *Service) openTransaction(ctx context.Context, appt appointment.Appointment) (payment.Transaction, error) {
	plan, err := s.plans.ActivePlan(ctx, appt.PractitionerID)
	if err != nil {
		return payment.Transaction{}, err
	}
	commission, share := payment.Split(appt.PriceCents, plan)
	tx, err := s.payments.CreateTransaction(ctx, payment.Transaction{
		AppointmentID:     appt.ID,
		PractitionerID:    appt.PractitionerID,
		ClientID:          appt.ClientID,
		AmountCents:       appt.PriceCents,
		CommissionCents:   commission,
		PractitionerCents: share,
		Currency:          s.cfg.Currency,
		PlanCode:          plan.Code,
		Status:            payment.StatusPending,
		TransferStatus:    payment.TransferPending,
	})
	if errors.Is(err, storage.ErrConflict) {
		return s.payments.GetTransactionByAppointment(ctx, appt.ID)
	}
	if err != nil {
		return payment.Transaction{}, svcerrors.Internal("create transaction", err)
	}
	return tx, nil
}

// Transaction returns the transaction of an appointment.
func (s *Service) Transaction(ctx context.Context, appointmentID string) (payment.Transaction, error) {
	tx, err := s.payments.GetTransactionByAppointment(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return payment.Transaction{}, svcerrors.NotFound("transaction", appointmentID)
	}
	if err != nil {
		return payment.Transaction{}, svcerrors.Internal("get transaction", err)
	}
	return tx, nil
}

// MarkEligible schedules the practitioner payout of a validated appointment
// after the hold period. Calling it again is a no-op.
func (s *Service) MarkEligible(ctx context.Context, appointmentID string, validatedAt time.Time) error {
	tx, err := s.Transaction(ctx, appointmentID)
	if err != nil {
		return err
	}
	if tx.Status != payment.StatusPaid {
		return svcerrors.Conflict("appointment payment is " + string(tx.Status))
	}
	if tx.TransferStatus != payment.TransferPending {
		return nil
	}
	at := validatedAt.Add(s.cfg.Hold).UTC()
	tx.TransferStatus = payment.TransferEligible
	tx.EligibleForTransferAt = &at
	if _, err := s.payments.UpdateTransaction(ctx, tx); err != nil {
		return svcerrors.Internal("mark transfer eligible", err)
	}
	s.log.WithField("transaction_id", tx.ID).WithField("eligible_at", at.Format(time.RFC3339)).Info("payout scheduled")
	return nil
}

// CancelForAppointment settles the transaction of a cancelled appointment: an
// unpaid one fails, a paid one is refunded and its transfer cancelled. It
// reports whether a refund was requested.
func (s *Service) CancelForAppointment(ctx context.Context, appointmentID string) (bool, error) {
	tx, err := s.payments.GetTransactionByAppointment(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, svcerrors.Internal("get transaction", err)
	}

	switch tx.Status {
	case payment.StatusPending:
		tx.Status = payment.StatusFailed
		tx.TransferStatus = payment.TransferCancelled
		if _, err := s.payments.UpdateTransaction(ctx, tx); err != nil {
			return false, svcerrors.Internal("cancel transaction", err)
		}
		return false, nil
	case payment.StatusPaid:
		return true, s.refund(ctx, tx)
	}
	return false, nil
}

func (s *Service) refund(ctx context.Context, tx payment.Transaction) error {
	switch tx.TransferStatus {
	case payment.TransferProcessing, payment.TransferCompleted:
		return svcerrors.Conflict("the practitioner payout has already started")
	}
	if tx.PaymentIntentID == "" {
		return svcerrors.Conflict("transaction has no payment to refund")
	}

	// Cancel the payout first so a sweep cannot claim the row mid refund.
	previous := tx.TransferStatus
	if previous != payment.TransferCancelled {
		swapped, err := s.payments.SwapTransferStatus(ctx, tx.ID, previous, payment.TransferCancelled)
		if err != nil {
			return svcerrors.Internal("cancel transfer", err)
		}
		if !swapped {
			return svcerrors.Conflict("the practitioner payout has already started")
		}
	}

	if err := s.gateway.Refund(ctx, tx.PaymentIntentID, "refund-"+tx.ID); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("transaction_id", tx.ID).Error("refund failed")
		if previous != payment.TransferCancelled {
			if _, restoreErr := s.payments.SwapTransferStatus(ctx, tx.ID, payment.TransferCancelled, previous); restoreErr != nil {
				s.log.WithError(restoreErr).WithField("transaction_id", tx.ID).Error("restore transfer status")
			}
		}
		return svcerrors.Upstream("stripe", err)
	}
	// The status moves to refunded when charge.refunded arrives.
	s.log.WithField("transaction_id", tx.ID).Info("refund requested")
	return nil
}

// ConnectAccount creates the practitioner's Express account when missing and
// returns an onboarding link.
func (s *Service) ConnectAccount(ctx context.Context, profileID string) (string, error) {
	pr, err := s.practitionerForProfile(ctx, profileID)
	if err != nil {
		return "", err
	}
	if pr.StripeAccountID == "" {
		email := ""
		if p, err := s.profiles.GetProfile(ctx, profileID); err == nil {
			email = p.Email
		}
		acct, err := s.gateway.CreateExpressAccount(ctx, email, s.cfg.AccountCountry)
		if err != nil {
			return "", svcerrors.Upstream("stripe", err)
		}
		pr.StripeAccountID = acct
		if pr, err = s.profiles.UpdatePractitioner(ctx, pr); err != nil {
			return "", svcerrors.Internal("save stripe account", err)
		}
		s.log.WithField("practitioner_id", pr.ID).WithField("account", acct).Info("connect account created")
	}

	link, err := s.gateway.CreateAccountLink(ctx, pr.StripeAccountID,
		s.cfg.PublicURL+"/practitioner/connect/refresh",
		s.cfg.PublicURL+"/practitioner/connect/return")
	if err != nil {
		return "", svcerrors.Upstream("stripe", err)
	}
	return link, nil
}

// RefreshAccount pulls the capability flags of the practitioner's account.
func (s *Service) RefreshAccount(ctx context.Context, profileID string) (profile.Practitioner, error) {
	pr, err := s.practitionerForProfile(ctx, profileID)
	if err != nil {
		return profile.Practitioner{}, err
	}
	if pr.StripeAccountID == "" {
		return profile.Practitioner{}, svcerrors.Conflict("practitioner has no connected account")
	}
	status, err := s.gateway.GetAccount(ctx, pr.StripeAccountID)
	if err != nil {
		return profile.Practitioner{}, svcerrors.Upstream("stripe", err)
	}
	return s.applyAccountStatus(ctx, pr, status)
}

func (s *Service) applyAccountStatus(ctx context.Context, pr profile.Practitioner, status stripeconnect.AccountStatus) (profile.Practitioner, error) {
	if pr.ChargesEnabled == status.ChargesEnabled && pr.PayoutsEnabled == status.PayoutsEnabled {
		return pr, nil
	}
	pr.ChargesEnabled = status.ChargesEnabled
	pr.PayoutsEnabled = status.PayoutsEnabled
	updated, err := s.profiles.UpdatePractitioner(ctx, pr)
	if err != nil {
		return profile.Practitioner{}, svcerrors.Internal("update practitioner", err)
	}
	s.log.WithField("practitioner_id", pr.ID).
		WithField("charges_enabled", pr.ChargesEnabled).
		WithField("payouts_enabled", pr.PayoutsEnabled).
		Info("connect account updated")
	return updated, nil
}

func (s *Service) practitionerForProfile(ctx context.Context, profileID string) (profile.Practitioner, error) {
	pr, err := s.profiles.GetPractitionerByProfile(ctx, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Practitioner{}, svcerrors.NotFound("practitioner", profileID)
	}
	if err != nil {
		return profile.Practitioner{}, svcerrors.Internal("get practitioner", err)
	}
	return pr, nil
}
