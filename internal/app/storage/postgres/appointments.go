package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fl2m/platform/internal/app/domain/appointment"
)

const appointmentColumns = `id, practitioner_id, client_id, beneficiary_id, start_time, end_time, status,
	price_cents, notes, validated_at, cancelled_at, cancel_reason, created_at, updated_at`

// CreateAppointment relies on the appointments_no_overlap exclusion
// constraint; a violation surfaces as storage.ErrConflict.
func (s *Store) CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (:id, :practitioner_id, :client_id, :beneficiary_id, :start_time, :end_time, :status,
		        :price_cents, :notes, :validated_at, :cancelled_at, :cancel_reason, :created_at, :updated_at)
	`, a)
	if err != nil {
		return appointment.Appointment{}, mapErr("appointment", a.ID, err)
	}
	return a, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	existing, err := s.GetAppointment(ctx, a.ID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE appointments
		SET beneficiary_id = :beneficiary_id, start_time = :start_time, end_time = :end_time,
		    status = :status, price_cents = :price_cents, notes = :notes,
		    validated_at = :validated_at, cancelled_at = :cancelled_at,
		    cancel_reason = :cancel_reason, updated_at = :updated_at
		WHERE id = :id
	`, a)
	if err != nil {
		return appointment.Appointment{}, mapErr("appointment", a.ID, err)
	}
	if err := expectRow("appointment", a.ID, result); err != nil {
		return appointment.Appointment{}, err
	}
	return a, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (appointment.Appointment, error) {
	var a appointment.Appointment
	if err := s.db.GetContext(ctx, &a, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id); err != nil {
		return appointment.Appointment{}, mapErr("appointment", id, err)
	}
	return a, nil
}

func (s *Store) ListAppointmentsByClient(ctx context.Context, clientID string) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+appointmentColumns+` FROM appointments WHERE client_id = $1 ORDER BY start_time
	`, clientID)
	return out, err
}

func (s *Store) ListAppointmentsByPractitioner(ctx context.Context, practitionerID string) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+appointmentColumns+` FROM appointments WHERE practitioner_id = $1 ORDER BY start_time
	`, practitionerID)
	return out, err
}

func (s *Store) ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed' AND end_time <= $1
		ORDER BY end_time
	`, cutoff)
	return out, err
}
