package appointment

import "time"

// Status of an appointment.
type Status string

const (
	// StatusPending is booked but not yet paid.
	StatusPending Status = "pending"
	// StatusConfirmed is paid and scheduled.
	StatusConfirmed Status = "confirmed"
	// StatusCompleted has been validated as delivered.
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Appointment is a session booked by a client with a practitioner, optionally
// on behalf of a beneficiary.
type Appointment struct {
	ID             string     `json:"id" db:"id"`
	PractitionerID string     `json:"practitioner_id" db:"practitioner_id"`
	ClientID       string     `json:"client_id" db:"client_id"`
	BeneficiaryID  *string    `json:"beneficiary_id,omitempty" db:"beneficiary_id"`
	StartTime      time.Time  `json:"start_time" db:"start_time"`
	EndTime        time.Time  `json:"end_time" db:"end_time"`
	Status         Status     `json:"status" db:"status"`
	PriceCents     int64      `json:"price_cents" db:"price_cents"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	ValidatedAt    *time.Time `json:"validated_at,omitempty" db:"validated_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason   string     `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Overlaps reports whether the appointment occupies any part of [start, end).
// Cancelled appointments never overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	if a.Status == StatusCancelled {
		return false
	}
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

// Cancellable reports whether the appointment can still be cancelled.
func (a Appointment) Cancellable() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// Involves reports whether profileID is the client of the appointment.
func (a Appointment) Involves(profileID string) bool {
	return a.ClientID == profileID
}
