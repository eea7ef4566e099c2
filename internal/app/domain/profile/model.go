package profile

import (
	"strings"
	"time"
)

// Role of a platform user.
type Role string

const (
	RoleClient       Role = "client"
	RolePractitioner Role = "practitioner"
	RoleAdmin        Role = "admin"
)

// Profile is the application-side record of an authenticated user. Its ID is
// the Supabase auth user id.
type Profile struct {
	ID        string     `json:"id" db:"id"`
	Email     string     `json:"email" db:"email"`
	FirstName string     `json:"first_name" db:"first_name"`
	LastName  string     `json:"last_name" db:"last_name"`
	BirthDate *time.Time `json:"birth_date,omitempty" db:"birth_date"`
	Phone     string     `json:"phone,omitempty" db:"phone"`
	Role      Role       `json:"role" db:"role"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Practitioner is a bookable service provider attached to a profile.
type Practitioner struct {
	ID              string    `json:"id" db:"id"`
	ProfileID       string    `json:"profile_id" db:"profile_id"`
	DisplayName     string    `json:"display_name" db:"display_name"`
	Bio             string    `json:"bio" db:"bio"`
	Specialties     []string  `json:"specialties" db:"-"`
	PriceCents      int64     `json:"price_cents" db:"price_cents"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	StripeAccountID string    `json:"-" db:"stripe_account_id"`
	ChargesEnabled  bool      `json:"charges_enabled" db:"charges_enabled"`
	PayoutsEnabled  bool      `json:"payouts_enabled" db:"payouts_enabled"`
	Active          bool      `json:"active" db:"active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// SessionDuration returns the configured session length.
func (p Practitioner) SessionDuration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

// CanReceivePayouts reports whether transfers can be sent to the practitioner.
func (p Practitioner) CanReceivePayouts() bool {
	return p.StripeAccountID != "" && p.PayoutsEnabled
}
