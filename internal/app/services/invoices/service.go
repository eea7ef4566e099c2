// Package invoices issues sequentially numbered invoices for paid sessions.
package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/fl2m/platform/internal/app/domain/invoice"
	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/pkg/logger"
)

// Service issues and serves invoices.
type Service struct {
	store    storage.InvoiceStore
	payments storage.PaymentStore
	profiles storage.ProfileStore
	notifier *notify.Notifier
	loc      *time.Location
	now      func() time.Time
	log      *logger.Logger
}

// New constructs an invoice service. Invoice years follow loc.
func New(store storage.InvoiceStore, payments storage.PaymentStore, profiles storage.ProfileStore, notifier *notify.Notifier, loc *time.Location, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("invoices")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, payments: payments, profiles: profiles, notifier: notifier, loc: loc, now: time.Now, log: log}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Issue returns the invoice of a paid transaction, allocating the next number
// of the payment year on first call.
func (s *Service) Issue(ctx context.Context, transactionID string) (invoice.Invoice, error) {
	if existing, err := s.store.GetInvoiceByTransaction(ctx, transactionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return invoice.Invoice{}, svcerrors.Internal("get invoice", err)
	}

	tx, err := s.payments.GetTransaction(ctx, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return invoice.Invoice{}, svcerrors.NotFound("transaction", transactionID)
	}
	if err != nil {
		return invoice.Invoice{}, svcerrors.Internal("get transaction", err)
	}
	if tx.Status != payment.StatusPaid && tx.Status != payment.StatusRefunded {
		return invoice.Invoice{}, svcerrors.Conflict("transaction is not paid")
	}

	issuedAt := s.now().UTC()
	if tx.PaidAt != nil {
		issuedAt = tx.PaidAt.UTC()
	}
	year := issuedAt.In(s.loc).Year()

	seq, err := s.store.NextInvoiceSequence(ctx, year)
	if err != nil {
		return invoice.Invoice{}, svcerrors.Internal("allocate invoice number", err)
	}

	inv, err := s.store.CreateInvoice(ctx, invoice.Invoice{
		Number:          invoice.FormatNumber(year, seq),
		TransactionID:   tx.ID,
		AppointmentID:   tx.AppointmentID,
		ClientID:        tx.ClientID,
		PractitionerID:  tx.PractitionerID,
		AmountCents:     tx.AmountCents,
		CommissionCents: tx.CommissionCents,
		Currency:        tx.Currency,
		IssuedAt:        issuedAt,
	})
	if errors.Is(err, storage.ErrConflict) {
		// Another delivery issued it first; the allocated number is skipped.
		s.log.WithField("transaction_id", tx.ID).WithField("sequence", seq).Warn("invoice issued concurrently")
		return s.byTransaction(ctx, tx.ID)
	}
	if err != nil {
		return invoice.Invoice{}, svcerrors.Internal("create invoice", err)
	}

	s.log.WithField("invoice", inv.Number).WithField("transaction_id", tx.ID).Info("invoice issued")
	if client, err := s.profiles.GetProfile(ctx, tx.ClientID); err == nil {
		s.notifier.InvoiceIssued(ctx, notify.InvoiceIssued{
			To:         client.Email,
			ClientName: client.FullName(),
			Number:     inv.Number,
			Amount:     notify.FormatAmount(inv.AmountCents, inv.Currency),
		})
	}
	return inv, nil
}

func (s *Service) byTransaction(ctx context.Context, transactionID string) (invoice.Invoice, error) {
	inv, err := s.store.GetInvoiceByTransaction(ctx, transactionID)
	if err != nil {
		return invoice.Invoice{}, svcerrors.Internal("get invoice", err)
	}
	return inv, nil
}

// Get returns an invoice visible to the profile, as client or practitioner.
func (s *Service) Get(ctx context.Context, id, profileID string) (invoice.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return invoice.Invoice{}, svcerrors.NotFound("invoice", id)
	}
	if err != nil {
		return invoice.Invoice{}, svcerrors.Internal("get invoice", err)
	}
	if inv.ClientID == profileID {
		return inv, nil
	}
	if pr, err := s.profiles.GetPractitionerByProfile(ctx, profileID); err == nil && pr.ID == inv.PractitionerID {
		return inv, nil
	}
	return invoice.Invoice{}, svcerrors.NotFound("invoice", id)
}

// ListForProfile returns invoices where the profile is the client or the
// practitioner.
func (s *Service) ListForProfile(ctx context.Context, profileID string) ([]invoice.Invoice, error) {
	practitionerID := ""
	pr, err := s.profiles.GetPractitionerByProfile(ctx, profileID)
	switch {
	case err == nil:
		practitionerID = pr.ID
	case !errors.Is(err, storage.ErrNotFound):
		return nil, svcerrors.Internal("get practitioner", err)
	}
	list, err := s.store.ListInvoicesForProfile(ctx, profileID, practitionerID)
	if err != nil {
		return nil, svcerrors.Internal("list invoices", err)
	}
	return list, nil
}
