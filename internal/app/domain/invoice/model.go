package invoice

import (
	"fmt"
	"time"
)

// Invoice documents a paid session.
type Invoice struct {
	ID              string    `json:"id" db:"id"`
	Number          string    `json:"number" db:"number"`
	TransactionID   string    `json:"transaction_id" db:"transaction_id"`
	AppointmentID   string    `json:"appointment_id" db:"appointment_id"`
	ClientID        string    `json:"client_id" db:"client_id"`
	PractitionerID  string    `json:"practitioner_id" db:"practitioner_id"`
	AmountCents     int64     `json:"amount_cents" db:"amount_cents"`
	CommissionCents int64     `json:"commission_cents" db:"commission_cents"`
	Currency        string    `json:"currency" db:"currency"`
	IssuedAt        time.Time `json:"issued_at" db:"issued_at"`
}

// FormatNumber renders the sequential invoice number for a year.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("FL2M-%d-%06d", year, seq)
}
