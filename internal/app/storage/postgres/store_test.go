package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/storage"
	"github.com/fl2m/platform/internal/platform/migrations"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestClaimTransfer(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE transactions\s+SET transfer_status = 'processing'`).
		WithArgs("tx-1", "eligible", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE transactions\s+SET transfer_status = 'processing'`).
		WithArgs("tx-1", "eligible", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ClaimTransfer(context.Background(), "tx-1", payment.TransferEligible, now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%t err=%v", ok, err)
	}
	ok, err = store.ClaimTransfer(context.Background(), "tx-1", payment.TransferEligible, now)
	if err != nil || ok {
		t.Fatalf("second claim must lose: ok=%t err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordWebhookEventDedupe(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO stripe_events .* ON CONFLICT \(id\) DO UPDATE .* WHERE stripe_events.error <> '' OR stripe_events.processed_at IS NULL`).
		WithArgs("evt_1", "charge.refunded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stripe_events`).
		WithArgs("evt_1", "charge.refunded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	evt := payment.WebhookEvent{ID: "evt_1", Type: "charge.refunded"}
	if fresh, err := store.RecordWebhookEvent(context.Background(), evt); err != nil || !fresh {
		t.Fatalf("first delivery: fresh=%t err=%v", fresh, err)
	}
	if fresh, err := store.RecordWebhookEvent(context.Background(), evt); err != nil || fresh {
		t.Fatalf("redelivery: fresh=%t err=%v", fresh, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishTransferIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	out := payment.TransferOutcome{Status: payment.TransferCompleted, TransferID: "tr_1", Attempts: 1, TransferredAt: &now}

	cols := []string{"id", "appointment_id", "practitioner_id", "client_id", "amount_cents", "commission_cents",
		"practitioner_cents", "currency", "plan_code", "status", "checkout_session_id", "payment_intent_id", "paid_at",
		"transfer_status", "eligible_for_transfer_at", "transfer_id", "transfer_error", "transfer_attempts",
		"transferred_at", "created_at", "updated_at"}
	row := func(status, transferStatus string) *sqlmock.Rows {
		return sqlmock.NewRows(cols).AddRow("tx-1", "appt-1", "prac", "client", 6000, 1200, 4800, "eur", "decouverte",
			status, "cs_1", "pi_1", now, transferStatus, now, "tr_1", "", 1, now, now, now)
	}

	mock.ExpectQuery(`UPDATE transactions\s+SET transfer_status = \$2.*WHERE id = \$1 AND transfer_status = 'processing'`).
		WithArgs("tx-1", "completed", "", 1, "tr_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(row("refunded", "completed"))
	mock.ExpectQuery(`UPDATE transactions\s+SET transfer_status = \$2`).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`SELECT .* FROM transactions WHERE id = \$1`).
		WithArgs("tx-1").
		WillReturnRows(row("refunded", "cancelled"))

	saved, ok, err := store.FinishTransfer(context.Background(), "tx-1", out, now)
	if err != nil || !ok {
		t.Fatalf("finish: ok=%t err=%v", ok, err)
	}
	if saved.Status != payment.StatusRefunded {
		t.Fatalf("payment status must come from the row, got %s", saved.Status)
	}

	current, ok, err := store.FinishTransfer(context.Background(), "tx-1", out, now)
	if err != nil || ok {
		t.Fatalf("finish on a row that left processing: ok=%t err=%v", ok, err)
	}
	if current.TransferStatus != payment.TransferCancelled {
		t.Fatalf("expected current row, got %+v", current)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNextInvoiceSequence(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO invoice_counters`).
		WithArgs(2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(int64(42)))

	seq, err := store.NextInvoiceSequence(context.Background(), 2026)
	if err != nil {
		t.Fatalf("next sequence: %v", err)
	}
	if seq != 42 {
		t.Fatalf("seq = %d, want 42", seq)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM profiles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetProfile(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAppointmentOverlapIsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO appointments`).
		WillReturnError(&pq.Error{Code: pqExclusionViolation, Constraint: "appointments_no_overlap"})

	start := time.Now().Add(24 * time.Hour)
	_, err := store.CreateAppointment(context.Background(), appointment.Appointment{
		PractitionerID: "p", ClientID: "c", StartTime: start, EndTime: start.Add(time.Hour),
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListPractitionersScansSpecialties(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "profile_id", "display_name", "bio", "specialties", "price_cents", "duration_minutes",
		"stripe_account_id", "charges_enabled", "payouts_enabled", "active", "created_at", "updated_at",
	}).AddRow("pr-1", "pf-1", "Iris", "", "{tarot,numerology}", int64(6000), 60, "acct_1", true, true, true, now, now)
	mock.ExpectQuery(`SELECT .* FROM practitioners`).WithArgs(true).WillReturnRows(rows)

	list, err := store.ListPractitioners(context.Background(), true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].Specialties) != 2 || list[0].Specialties[1] != "numerology" {
		t.Fatalf("unexpected practitioners: %+v", list)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := New(db)

	client, err := store.CreateProfile(ctx, profile.Profile{Email: time.Now().Format("150405.000000") + "@example.com", Role: profile.RoleClient})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	owner, err := store.CreateProfile(ctx, profile.Profile{Email: "p" + client.Email, Role: profile.RolePractitioner})
	if err != nil {
		t.Fatalf("create practitioner profile: %v", err)
	}
	pr, err := store.CreatePractitioner(ctx, profile.Practitioner{ProfileID: owner.ID, DisplayName: "Iris", PriceCents: 6000, DurationMinutes: 60, Active: true})
	if err != nil {
		t.Fatalf("create practitioner: %v", err)
	}

	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	if _, err := store.CreateAppointment(ctx, appointment.Appointment{
		PractitionerID: pr.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
		Status: appointment.StatusPending, PriceCents: 6000,
	}); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	_, err = store.CreateAppointment(ctx, appointment.Appointment{
		PractitionerID: pr.ID, ClientID: client.ID, StartTime: start.Add(30 * time.Minute), EndTime: start.Add(90 * time.Minute),
		Status: appointment.StatusPending, PriceCents: 6000,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("overlap should conflict, got %v", err)
	}
}
