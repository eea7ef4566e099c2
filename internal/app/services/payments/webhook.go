package payments

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/metrics"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/stripeconnect"
)

// Webhook event types handled by HandleWebhook.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventAccountUpdated    = "account.updated"
	EventChargeRefunded    = "charge.refunded"
	EventTransferReversed  = "transfer.reversed"
)

// HandleWebhook verifies and applies a Stripe event. Redeliveries of an
// already applied event are acknowledged without effect. An error means the
// event should be redelivered.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		metrics.RecordWebhook("", "invalid")
		s.log.WithContext(ctx).WithError(err).Warn("rejected webhook payload")
		return svcerrors.BadRequest("invalid webhook signature")
	}

	fresh, err := s.payments.RecordWebhookEvent(ctx, payment.WebhookEvent{ID: evt.ID, Type: evt.Type, ReceivedAt: s.now().UTC()})
	if err != nil {
		return svcerrors.Internal("record webhook event", err)
	}
	entry := s.log.WithContext(ctx).WithField("event_id", evt.ID).WithField("event_type", evt.Type)
	if !fresh {
		metrics.RecordWebhook(evt.Type, "duplicate")
		entry.Info("duplicate webhook event ignored")
		return nil
	}

	var handle func(context.Context, stripeconnect.Event) error
	switch evt.Type {
	case EventCheckoutCompleted:
		handle = s.onCheckoutCompleted
	case EventCheckoutExpired:
		handle = s.onCheckoutExpired
	case EventAccountUpdated:
		handle = s.onAccountUpdated
	case EventChargeRefunded:
		handle = s.onChargeRefunded
	case EventTransferReversed:
		handle = s.onTransferReversed
	}

	result, errMsg := "ignored", ""
	if handle != nil {
		result = "applied"
		if err = handle(ctx, evt); err != nil {
			result, errMsg = "failed", err.Error()
		}
	}
	if markErr := s.payments.MarkWebhookEventProcessed(ctx, evt.ID, s.now().UTC(), errMsg); markErr != nil {
		entry.WithError(markErr).Warn("mark webhook event processed")
	}
	metrics.RecordWebhook(evt.Type, result)

	if err != nil {
		entry.WithError(err).Error("webhook event failed")
		return err
	}
	entry.WithField("result", result).Info("webhook event processed")
	return nil
}

func (s *Service) transactionForSession(ctx context.Context, data gjson.Result) (payment.Transaction, error) {
	if id := data.Get("metadata.transaction_id").String(); id != "" {
		tx, err := s.payments.GetTransaction(ctx, id)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return tx, err
		}
	}
	if id := data.Get("client_reference_id").String(); id != "" {
		tx, err := s.payments.GetTransaction(ctx, id)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return tx, err
		}
	}
	return s.payments.GetTransactionByCheckoutSession(ctx, data.Get("id").String())
}

func (s *Service) onCheckoutCompleted(ctx context.Context, evt stripeconnect.Event) error {
	data := gjson.ParseBytes(evt.Data)
	if status := data.Get("payment_status").String(); status != "" && status != "paid" {
		s.log.WithField("event_id", evt.ID).WithField("payment_status", status).Info("checkout completed without payment")
		return nil
	}

	tx, err := s.transactionForSession(ctx, data)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("session_id", data.Get("id").String()).Warn("checkout session for unknown transaction")
		return nil
	}
	if err != nil {
		return err
	}

	if tx.Status != payment.StatusPaid {
		now := s.now().UTC()
		tx.Status = payment.StatusPaid
		tx.PaidAt = &now
		tx.PaymentIntentID = data.Get("payment_intent").String()
		if sid := data.Get("id").String(); sid != "" {
			tx.CheckoutSessionID = sid
		}
		if tx.TransferStatus == payment.TransferCancelled {
			tx.TransferStatus = payment.TransferPending
		}
		if tx, err = s.payments.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
	}

	appt, err := s.appointments.GetAppointment(ctx, tx.AppointmentID)
	if err != nil {
		return err
	}
	switch appt.Status {
	case appointment.StatusPending:
		appt.Status = appointment.StatusConfirmed
		if appt, err = s.appointments.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
	case appointment.StatusCancelled:
		// Paid after the slot was cancelled.
		if err := s.refund(ctx, tx); err != nil {
			return err
		}
		return nil
	}

	if s.invoices != nil {
		if _, err := s.invoices.Issue(ctx, tx.ID); err != nil {
			return err
		}
	}

	client, err := s.profiles.GetProfile(ctx, tx.ClientID)
	if err == nil {
		name := ""
		if pr, err := s.profiles.GetPractitioner(ctx, tx.PractitionerID); err == nil {
			name = pr.DisplayName
		}
		s.notifier.AppointmentConfirmed(ctx, notify.AppointmentConfirmed{
			To:               client.Email,
			ClientName:       client.FullName(),
			PractitionerName: name,
			StartTime:        appt.StartTime,
			Amount:           notify.FormatAmount(tx.AmountCents, tx.Currency),
		})
	}
	s.log.WithField("transaction_id", tx.ID).WithField("appointment_id", appt.ID).Info("payment confirmed")
	return nil
}

func (s *Service) onCheckoutExpired(ctx context.Context, evt stripeconnect.Event) error {
	data := gjson.ParseBytes(evt.Data)
	tx, err := s.transactionForSession(ctx, data)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tx.Status != payment.StatusPending || tx.CheckoutSessionID != data.Get("id").String() {
		// Paid already, or a newer session replaced this one.
		return nil
	}
	tx.Status = payment.StatusFailed
	tx.TransferStatus = payment.TransferCancelled
	if _, err := s.payments.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	appt, err := s.appointments.GetAppointment(ctx, tx.AppointmentID)
	if err != nil {
		return err
	}
	if appt.Status == appointment.StatusPending {
		now := s.now().UTC()
		appt.Status = appointment.StatusCancelled
		appt.CancelledAt = &now
		appt.CancelReason = "payment expired"
		if _, err := s.appointments.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
	}
	s.log.WithField("transaction_id", tx.ID).Info("checkout expired; slot released")
	return nil
}

func (s *Service) onAccountUpdated(ctx context.Context, evt stripeconnect.Event) error {
	data := gjson.ParseBytes(evt.Data)
	accountID := data.Get("id").String()
	if accountID == "" {
		accountID = evt.Account
	}
	pr, err := s.profiles.GetPractitionerByStripeAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("account", accountID).Warn("account.updated for unknown account")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.applyAccountStatus(ctx, pr, stripeconnect.AccountStatus{
		ID:               accountID,
		ChargesEnabled:   data.Get("charges_enabled").Bool(),
		PayoutsEnabled:   data.Get("payouts_enabled").Bool(),
		DetailsSubmitted: data.Get("details_submitted").Bool(),
	})
	return err
}

func (s *Service) onChargeRefunded(ctx context.Context, evt stripeconnect.Event) error {
	data := gjson.ParseBytes(evt.Data)
	tx, err := s.payments.GetTransactionByPaymentIntent(ctx, data.Get("payment_intent").String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	amount := data.Get("amount").Int()
	refunded := data.Get("amount_refunded").Int()
	if !data.Get("refunded").Bool() && (amount == 0 || refunded < amount) {
		s.log.WithField("transaction_id", tx.ID).WithField("amount_refunded", refunded).Warn("partial refund recorded without status change")
		return nil
	}

	tx, err = s.payments.MarkRefunded(ctx, tx.ID)
	if err != nil {
		return err
	}
	switch tx.TransferStatus {
	case payment.TransferProcessing:
		s.log.WithField("transaction_id", tx.ID).
			Warn("refund while the payout is in flight; check the transfer once the sweep finishes")
	case payment.TransferCompleted, payment.TransferReversed:
		s.log.WithField("transaction_id", tx.ID).WithField("transfer_id", tx.TransferID).
			Warn("refund after payout; transfer must be reversed manually")
	}
	s.log.WithField("transaction_id", tx.ID).Info("transaction refunded")
	return nil
}

func (s *Service) onTransferReversed(ctx context.Context, evt stripeconnect.Event) error {
	data := gjson.ParseBytes(evt.Data)
	tx, err := s.payments.GetTransactionByTransfer(ctx, data.Get("id").String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tx.TransferStatus == payment.TransferReversed {
		return nil
	}
	tx.TransferStatus = payment.TransferReversed
	tx.TransferError = "transfer reversed at " + s.now().UTC().Format(time.RFC3339)
	if _, err := s.payments.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	s.log.WithField("transaction_id", tx.ID).WithField("transfer_id", tx.TransferID).Warn("transfer reversed")
	return nil
}
