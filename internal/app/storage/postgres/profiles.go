package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fl2m/platform/internal/app/domain/profile"
)

const profileColumns = `id, email, first_name, last_name, birth_date, phone, role, created_at, updated_at`

const practitionerColumns = `id, profile_id, display_name, bio, specialties, price_cents, duration_minutes,
	stripe_account_id, charges_enabled, payouts_enabled, active, created_at, updated_at`

type practitionerRow struct {
	profile.Practitioner
	Specialties pq.StringArray `db:"specialties"`
}

func (r practitionerRow) toDomain() profile.Practitioner {
	p := r.Practitioner
	p.Specialties = []string(r.Specialties)
	return p
}

func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (:id, :email, :first_name, :last_name, :birth_date, :phone, :role, :created_at, :updated_at)
	`, p)
	if err != nil {
		return profile.Profile{}, mapErr("profile", p.ID, err)
	}
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	existing, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return profile.Profile{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE profiles
		SET email = :email, first_name = :first_name, last_name = :last_name,
		    birth_date = :birth_date, phone = :phone, role = :role, updated_at = :updated_at
		WHERE id = :id
	`, p)
	if err != nil {
		return profile.Profile{}, mapErr("profile", p.ID, err)
	}
	if err := expectRow("profile", p.ID, result); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	var p profile.Profile
	err := s.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return profile.Profile{}, mapErr("profile", id, err)
	}
	return p, nil
}

func (s *Store) CreatePractitioner(ctx context.Context, p profile.Practitioner) (profile.Practitioner, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO practitioners (`+practitionerColumns+`)
		VALUES (:id, :profile_id, :display_name, :bio, :specialties, :price_cents, :duration_minutes,
		        :stripe_account_id, :charges_enabled, :payouts_enabled, :active, :created_at, :updated_at)
	`, practitionerRow{Practitioner: p, Specialties: p.Specialties})
	if err != nil {
		return profile.Practitioner{}, mapErr("practitioner", p.ID, err)
	}
	return p, nil
}

func (s *Store) UpdatePractitioner(ctx context.Context, p profile.Practitioner) (profile.Practitioner, error) {
	existing, err := s.GetPractitioner(ctx, p.ID)
	if err != nil {
		return profile.Practitioner{}, err
	}
	p.ProfileID = existing.ProfileID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE practitioners
		SET display_name = :display_name, bio = :bio, specialties = :specialties,
		    price_cents = :price_cents, duration_minutes = :duration_minutes,
		    stripe_account_id = :stripe_account_id, charges_enabled = :charges_enabled,
		    payouts_enabled = :payouts_enabled, active = :active, updated_at = :updated_at
		WHERE id = :id
	`, practitionerRow{Practitioner: p, Specialties: p.Specialties})
	if err != nil {
		return profile.Practitioner{}, mapErr("practitioner", p.ID, err)
	}
	if err := expectRow("practitioner", p.ID, result); err != nil {
		return profile.Practitioner{}, err
	}
	return p, nil
}

func (s *Store) getPractitionerBy(ctx context.Context, column, value string) (profile.Practitioner, error) {
	var row practitionerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+practitionerColumns+` FROM practitioners WHERE `+column+` = $1`, value)
	if err != nil {
		return profile.Practitioner{}, mapErr("practitioner", value, err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPractitioner(ctx context.Context, id string) (profile.Practitioner, error) {
	return s.getPractitionerBy(ctx, "id", id)
}

func (s *Store) GetPractitionerByProfile(ctx context.Context, profileID string) (profile.Practitioner, error) {
	return s.getPractitionerBy(ctx, "profile_id", profileID)
}

func (s *Store) GetPractitionerByStripeAccount(ctx context.Context, accountID string) (profile.Practitioner, error) {
	return s.getPractitionerBy(ctx, "stripe_account_id", accountID)
}

func (s *Store) ListPractitioners(ctx context.Context, activeOnly bool) ([]profile.Practitioner, error) {
	var rows []practitionerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE ($1 = FALSE OR active)
		ORDER BY lower(display_name)
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]profile.Practitioner, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
