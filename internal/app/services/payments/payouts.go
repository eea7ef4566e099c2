package payments

import (
	"context"
	"errors"
	"time"

	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/metrics"
	"github.com/fl2m/platform/internal/stripeconnect"
)

// PayoutReport summarises one sweep.
type PayoutReport struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
	Skipped   int `json:"skipped"`
	Redriven  int `json:"redriven"`
}

// ProcessPayouts transfers the practitioner share of every due transaction.
// Each row is claimed (eligible -> processing) before Stripe is called, and
// the transfer carries a per-row idempotency key, so concurrent sweeps and
// re-driven rows never move funds twice. Rows left processing longer than
// the stale window are re-driven with the same key first.
func (s *Service) ProcessPayouts(ctx context.Context, now time.Time) (PayoutReport, error) {
	var report PayoutReport
	now = now.UTC()

	stale, err := s.payments.ListStaleTransfers(ctx, now.Add(-s.cfg.StaleWindow), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, tx := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		claimed, err := s.payments.ClaimTransfer(ctx, tx.ID, payment.TransferProcessing, now)
		if err != nil || !claimed {
			continue
		}
		report.Scanned++
		report.Redriven++
		s.log.WithField("transaction_id", tx.ID).WithField("attempts", tx.TransferAttempts+1).Warn("re-driving stale payout")
		s.payout(ctx, tx.ID, now, &report)
	}

	due, err := s.payments.ListDueTransfers(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, tx := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		claimed, err := s.payments.ClaimTransfer(ctx, tx.ID, payment.TransferEligible, now)
		if err != nil {
			s.log.WithError(err).WithField("transaction_id", tx.ID).Error("claim payout")
			continue
		}
		if !claimed {
			// Another sweep owns it.
			continue
		}
		report.Scanned++
		s.payout(ctx, tx.ID, now, &report)
	}

	if report.Scanned > 0 {
		s.log.WithField("scanned", report.Scanned).
			WithField("completed", report.Completed).
			WithField("failed", report.Failed).
			WithField("retrying", report.Retrying).
			WithField("skipped", report.Skipped).
			Info("payout sweep finished")
	}
	return report, nil
}

// payout sends the transfer for a claimed row and records the outcome.
func (s *Service) payout(ctx context.Context, id string, now time.Time, report *PayoutReport) {
	entry := s.log.WithField("transaction_id", id)

	tx, err := s.payments.GetTransaction(ctx, id)
	if err != nil {
		entry.WithError(err).Error("load claimed payout")
		return
	}
	if tx.Status != payment.StatusPaid {
		s.finish(ctx, tx, payment.TransferOutcome{
			Status:   payment.TransferCancelled,
			Error:    "payment is " + string(tx.Status),
			Attempts: tx.TransferAttempts,
		}, now)
		report.Skipped++
		metrics.RecordPayout("skipped", 0)
		entry.WithField("status", tx.Status).Warn("payout cancelled; payment no longer held")
		return
	}

	pr, err := s.profiles.GetPractitioner(ctx, tx.PractitionerID)
	if err != nil || !pr.CanReceivePayouts() {
		// Left for a later sweep once onboarding completes.
		out := payment.TransferOutcome{
			Status:   payment.TransferEligible,
			Error:    "practitioner cannot receive payouts yet",
			Attempts: tx.TransferAttempts - 1,
		}
		if err != nil {
			out.Error = err.Error()
		}
		s.finish(ctx, tx, out, now)
		report.Skipped++
		metrics.RecordPayout("skipped", 0)
		entry.WithField("practitioner_id", tx.PractitionerID).Info("payout deferred; connected account not ready")
		return
	}

	if tx.PractitionerCents <= 0 {
		s.finish(ctx, tx, payment.TransferOutcome{
			Status:        payment.TransferCompleted,
			Attempts:      tx.TransferAttempts,
			TransferredAt: &now,
		}, now)
		report.Completed++
		metrics.RecordPayout("completed", 0)
		return
	}

	tr, err := s.gateway.CreateTransfer(ctx, stripeconnect.TransferRequest{
		AmountCents:    tx.PractitionerCents,
		Currency:       tx.Currency,
		Destination:    pr.StripeAccountID,
		TransferGroup:  "appointment-" + tx.AppointmentID,
		IdempotencyKey: tx.IdempotencyKey(),
		Metadata: map[string]string{
			"transaction_id": tx.ID,
			"appointment_id": tx.AppointmentID,
		},
	})
	if err != nil {
		out := payment.TransferOutcome{Error: stripeconnect.Describe(err), Attempts: tx.TransferAttempts}
		if stripeconnect.Retryable(err) && tx.TransferAttempts < s.cfg.MaxAttempts && !errors.Is(err, context.Canceled) {
			out.Status = payment.TransferEligible
			report.Retrying++
			metrics.RecordPayout("retry", 0)
			entry.WithError(err).WithField("attempts", tx.TransferAttempts).Warn("payout failed; will retry")
		} else {
			out.Status = payment.TransferFailed
			report.Failed++
			metrics.RecordPayout("failed", 0)
			entry.WithError(err).WithField("attempts", tx.TransferAttempts).Error("payout failed")
		}
		s.finish(ctx, tx, out, now)
		return
	}

	saved, ok := s.finish(ctx, tx, payment.TransferOutcome{
		Status:        payment.TransferCompleted,
		TransferID:    tr.ID,
		Attempts:      tx.TransferAttempts,
		TransferredAt: &now,
	}, now)
	report.Completed++
	metrics.RecordPayout("completed", tx.PractitionerCents)
	entry.WithField("transfer_id", tr.ID).WithField("amount", tx.PractitionerCents).Info("payout completed")
	if ok && saved.Status == payment.StatusRefunded {
		entry.WithField("transfer_id", tr.ID).
			Error("payment refunded while the payout was in flight; transfer must be reversed manually")
	}
}

// finish persists a payout outcome. A failed write leaves the row processing,
// which the stale re-drive reconciles with the same idempotency key.
func (s *Service) finish(ctx context.Context, tx payment.Transaction, out payment.TransferOutcome, now time.Time) (payment.Transaction, bool) {
	saved, ok, err := s.payments.FinishTransfer(ctx, tx.ID, out, now)
	if err != nil {
		s.log.WithError(err).WithField("transaction_id", tx.ID).Error("persist payout outcome")
		return tx, false
	}
	if !ok {
		s.log.WithField("transaction_id", tx.ID).WithField("transfer_status", saved.TransferStatus).
			WithField("outcome", out.Status).Warn("payout outcome dropped; row left processing")
	}
	return saved, ok
}
