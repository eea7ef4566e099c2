package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fl2m/platform/internal/app/domain/invoice"
)

const invoiceColumns = `id, number, transaction_id, appointment_id, client_id, practitioner_id,
	amount_cents, commission_cents, currency, issued_at`

// NextInvoiceSequence increments the per-year counter in a single upsert so
// concurrent callers never share a number.
func (s *Store) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := s.db.GetContext(ctx, &seq, `
		INSERT INTO invoice_counters (year, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = invoice_counters.last_seq + 1
		RETURNING last_seq
	`, year)
	return seq, err
}

func (s *Store) CreateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (:id, :number, :transaction_id, :appointment_id, :client_id, :practitioner_id,
		        :amount_cents, :commission_cents, :currency, :issued_at)
	`, inv)
	if err != nil {
		return invoice.Invoice{}, mapErr("invoice", inv.Number, err)
	}
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id); err != nil {
		return invoice.Invoice{}, mapErr("invoice", id, err)
	}
	return inv, nil
}

func (s *Store) GetInvoiceByTransaction(ctx context.Context, transactionID string) (invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE transaction_id = $1`, transactionID); err != nil {
		return invoice.Invoice{}, mapErr("invoice for transaction", transactionID, err)
	}
	return inv, nil
}

func (s *Store) ListInvoicesForProfile(ctx context.Context, clientID, practitionerID string) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 <> '' AND client_id::text = $1) OR ($2 <> '' AND practitioner_id::text = $2)
		ORDER BY number DESC
	`, clientID, practitionerID)
	return out, err
}
