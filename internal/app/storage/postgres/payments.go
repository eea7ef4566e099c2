package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fl2m/platform/internal/app/domain/payment"
)

const transactionColumns = `id, appointment_id, practitioner_id, client_id, amount_cents, commission_cents,
	practitioner_cents, currency, plan_code, status, checkout_session_id, payment_intent_id, paid_at,
	transfer_status, eligible_for_transfer_at, transfer_id, transfer_error, transfer_attempts,
	transferred_at, created_at, updated_at`

func (s *Store) CreateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:id, :appointment_id, :practitioner_id, :client_id, :amount_cents, :commission_cents,
		        :practitioner_cents, :currency, :plan_code, :status, :checkout_session_id, :payment_intent_id, :paid_at,
		        :transfer_status, :eligible_for_transfer_at, :transfer_id, :transfer_error, :transfer_attempts,
		        :transferred_at, :created_at, :updated_at)
	`, tx)
	if err != nil {
		return payment.Transaction{}, mapErr("transaction", tx.ID, err)
	}
	return tx, nil
}

// UpdateTransaction writes every mutable column. The amount split is fixed at
// creation and never rewritten.
func (s *Store) UpdateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error) {
	existing, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		return payment.Transaction{}, err
	}
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE transactions
		SET status = :status, checkout_session_id = :checkout_session_id,
		    payment_intent_id = :payment_intent_id, paid_at = :paid_at,
		    transfer_status = :transfer_status, eligible_for_transfer_at = :eligible_for_transfer_at,
		    transfer_id = :transfer_id, transfer_error = :transfer_error,
		    transfer_attempts = :transfer_attempts, transferred_at = :transferred_at,
		    updated_at = :updated_at
		WHERE id = :id
	`, tx)
	if err != nil {
		return payment.Transaction{}, mapErr("transaction", tx.ID, err)
	}
	if err := expectRow("transaction", tx.ID, result); err != nil {
		return payment.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) getTransactionBy(ctx context.Context, column, value string) (payment.Transaction, error) {
	if value == "" {
		return payment.Transaction{}, mapErr("transaction", value, sql.ErrNoRows)
	}
	var tx payment.Transaction
	err := s.db.GetContext(ctx, &tx, `SELECT `+transactionColumns+` FROM transactions WHERE `+column+` = $1`, value)
	if err != nil {
		return payment.Transaction{}, mapErr("transaction", value, err)
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (payment.Transaction, error) {
	return s.getTransactionBy(ctx, "id", id)
}

func (s *Store) GetTransactionByAppointment(ctx context.Context, appointmentID string) (payment.Transaction, error) {
	return s.getTransactionBy(ctx, "appointment_id", appointmentID)
}

func (s *Store) GetTransactionByCheckoutSession(ctx context.Context, sessionID string) (payment.Transaction, error) {
	return s.getTransactionBy(ctx, "checkout_session_id", sessionID)
}

func (s *Store) GetTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (payment.Transaction, error) {
	return s.getTransactionBy(ctx, "payment_intent_id", paymentIntentID)
}

func (s *Store) GetTransactionByTransfer(ctx context.Context, transferID string) (payment.Transaction, error) {
	return s.getTransactionBy(ctx, "transfer_id", transferID)
}

func (s *Store) ListDueTransfers(ctx context.Context, now time.Time, limit int) ([]payment.Transaction, error) {
	var out []payment.Transaction
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE transfer_status = 'eligible' AND eligible_for_transfer_at <= $1
		ORDER BY eligible_for_transfer_at
		LIMIT $2
	`, now, limitOrAll(limit))
	return out, err
}

func (s *Store) ListStaleTransfers(ctx context.Context, olderThan time.Time, limit int) ([]payment.Transaction, error) {
	var out []payment.Transaction
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE transfer_status = 'processing' AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2
	`, olderThan, limitOrAll(limit))
	return out, err
}

// ClaimTransfer is a compare-and-set on transfer_status. Concurrent sweepers
// race on the same row and exactly one sees a row affected.
func (s *Store) ClaimTransfer(ctx context.Context, id string, from payment.TransferStatus, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET transfer_status = 'processing', transfer_attempts = transfer_attempts + 1, updated_at = $3
		WHERE id = $1 AND transfer_status = $2
	`, id, string(from), now.UTC())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) FinishTransfer(ctx context.Context, id string, out payment.TransferOutcome, now time.Time) (payment.Transaction, bool, error) {
	var tx payment.Transaction
	err := s.db.GetContext(ctx, &tx, `
		UPDATE transactions
		SET transfer_status = $2, transfer_error = $3, transfer_attempts = $4,
		    transfer_id = CASE WHEN $5 = '' THEN transfer_id ELSE $5 END,
		    transferred_at = COALESCE($6, transferred_at),
		    updated_at = $7
		WHERE id = $1 AND transfer_status = 'processing'
		RETURNING `+transactionColumns, id, string(out.Status), out.Error, out.Attempts, out.TransferID, out.TransferredAt, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.GetTransaction(ctx, id)
		return current, false, err
	}
	if err != nil {
		return payment.Transaction{}, false, mapErr("transaction", id, err)
	}
	return tx, true, nil
}

func (s *Store) SwapTransferStatus(ctx context.Context, id string, from, to payment.TransferStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET transfer_status = $3, updated_at = $4
		WHERE id = $1 AND transfer_status = $2
	`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkRefunded decides the transfer column in the same statement so a payout
// claimed concurrently is never cancelled under the sweeper.
func (s *Store) MarkRefunded(ctx context.Context, id string) (payment.Transaction, error) {
	var tx payment.Transaction
	err := s.db.GetContext(ctx, &tx, `
		UPDATE transactions
		SET status = 'refunded',
		    transfer_status = CASE
		        WHEN transfer_status IN ('processing', 'completed', 'reversed') THEN transfer_status
		        ELSE 'cancelled' END,
		    updated_at = $2
		WHERE id = $1
		RETURNING `+transactionColumns, id, time.Now().UTC())
	if err != nil {
		return payment.Transaction{}, mapErr("transaction", id, err)
	}
	return tx, nil
}

func (s *Store) RecordWebhookEvent(ctx context.Context, evt payment.WebhookEvent) (bool, error) {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stripe_events (id, type, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET received_at = EXCLUDED.received_at, processed_at = NULL, error = ''
		WHERE stripe_events.error <> '' OR stripe_events.processed_at IS NULL
	`, evt.ID, evt.Type, evt.ReceivedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) MarkWebhookEventProcessed(ctx context.Context, id string, processedAt time.Time, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stripe_events SET processed_at = $2, error = $3 WHERE id = $1
	`, id, processedAt.UTC(), errMsg)
	if err != nil {
		return err
	}
	return expectRow("webhook event", id, result)
}
