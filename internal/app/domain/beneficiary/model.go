package beneficiary

import (
	"strings"
	"time"
)

// Role of a profile on a beneficiary.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// Covers reports whether r grants at least the rights of other.
func (r Role) Covers(other Role) bool {
	return r.rank() >= other.rank()
}

// CanEdit reports whether the role may modify the beneficiary.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Beneficiary is the person numerology messages and documents are about. It
// may be the user themself (LinkedProfileID set) or someone they manage.
type Beneficiary struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	FirstName       string    `json:"first_name" db:"first_name"`
	LastName        string    `json:"last_name" db:"last_name"`
	BirthDate       time.Time `json:"birth_date" db:"birth_date"`
	Email           string    `json:"email,omitempty" db:"email"`
	LinkedProfileID *string   `json:"linked_profile_id,omitempty" db:"linked_profile_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (b Beneficiary) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// AccessGrant gives a profile a role on a beneficiary.
type AccessGrant struct {
	BeneficiaryID string    `json:"beneficiary_id" db:"beneficiary_id"`
	ProfileID     string    `json:"profile_id" db:"profile_id"`
	Role          Role      `json:"role" db:"role"`
	GrantedBy     string    `json:"granted_by" db:"granted_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// InvitationStatus tracks an invitation lifecycle.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation offers access to a beneficiary to someone by email. Only a bcrypt
// hash of the secret part of the token is stored.
type Invitation struct {
	ID            string           `json:"id" db:"id"`
	BeneficiaryID string           `json:"beneficiary_id" db:"beneficiary_id"`
	Email         string           `json:"email" db:"email"`
	Role          Role             `json:"role" db:"role"`
	TokenHash     []byte           `json:"-" db:"token_hash"`
	Status        InvitationStatus `json:"status" db:"status"`
	InvitedBy     string           `json:"invited_by" db:"invited_by"`
	ExpiresAt     time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedAt    *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	AcceptedBy    *string          `json:"accepted_by,omitempty" db:"accepted_by"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// Expired reports whether the invitation can no longer be accepted at now.
func (i Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Document is a file stored for a beneficiary.
type Document struct {
	ID            string    `json:"id" db:"id"`
	BeneficiaryID string    `json:"beneficiary_id" db:"beneficiary_id"`
	Name          string    `json:"name" db:"name"`
	ContentType   string    `json:"content_type" db:"content_type"`
	SizeBytes     int64     `json:"size_bytes" db:"size_bytes"`
	StoragePath   string    `json:"storage_path" db:"storage_path"`
	UploadedBy    string    `json:"uploaded_by" db:"uploaded_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
