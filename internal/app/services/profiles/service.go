// Package profiles manages user profiles and practitioner onboarding.
package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fl2m/platform/internal/app/domain/numerology"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/services/contracts"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/pkg/logger"
)

const (
	defaultDurationMinutes = 60
	maxDurationMinutes     = 240
)

// Service manages profiles and practitioners.
type Service struct {
	store     storage.ProfileStore
	contracts *contracts.Service
	now       func() time.Time
	log       *logger.Logger
}

// New constructs a profile service.
func New(store storage.ProfileStore, contracts *contracts.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("profiles")
	}
	return &Service{store: store, contracts: contracts, now: time.Now, log: log}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Ensure returns the profile of an authenticated user, creating a client
// profile on first use.
func (s *Service) Ensure(ctx context.Context, userID, email string) (profile.Profile, error) {
	if userID == "" {
		return profile.Profile{}, svcerrors.Unauthorized("missing user id")
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		if email != "" && !strings.EqualFold(p.Email, email) {
			p.Email = email
			return s.store.UpdateProfile(ctx, p)
		}
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.Internal("get profile", err)
	}

	created, err := s.store.CreateProfile(ctx, profile.Profile{ID: userID, Email: email, Role: profile.RoleClient})
	if errors.Is(err, storage.ErrConflict) {
		// Concurrent first request.
		return s.Get(ctx, userID)
	}
	if err != nil {
		return profile.Profile{}, svcerrors.Internal("create profile", err)
	}
	s.log.WithField("profile_id", userID).Info("profile created")
	return created, nil
}

// Get returns a profile.
func (s *Service) Get(ctx context.Context, id string) (profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.NotFound("profile", id)
	}
	if err != nil {
		return profile.Profile{}, svcerrors.Internal("get profile", err)
	}
	return p, nil
}

// ProfileUpdate carries the editable profile fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	FirstName *string    `json:"first_name"`
	LastName  *string    `json:"last_name"`
	BirthDate *time.Time `json:"birth_date"`
	Phone     *string    `json:"phone"`
}

// Update applies a partial profile update.
func (s *Service) Update(ctx context.Context, id string, upd ProfileUpdate) (profile.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return profile.Profile{}, err
	}
	if upd.FirstName != nil {
		p.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		p.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Phone != nil {
		p.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.BirthDate != nil {
		if upd.BirthDate.After(s.now()) {
			return profile.Profile{}, svcerrors.Validation("birth_date", "birth date cannot be in the future")
		}
		bd := *upd.BirthDate
		p.BirthDate = &bd
	}

	updated, err := s.store.UpdateProfile(ctx, p)
	if err != nil {
		return profile.Profile{}, svcerrors.Internal("update profile", err)
	}
	return updated, nil
}

// Summary computes the numerology overview of a profile for the current day.
func (s *Service) Summary(ctx context.Context, id string) (numerology.Summary, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return numerology.Summary{}, err
	}
	if p.BirthDate == nil {
		return numerology.Summary{}, svcerrors.Validation("birth_date", "birth date is required for the numerology summary")
	}
	return numerology.Summarize(p.FullName(), *p.BirthDate, s.now()), nil
}

// PractitionerInput carries practitioner fields on sign up and update. Nil
// fields are left unchanged on update.
type PractitionerInput struct {
	DisplayName     *string  `json:"display_name"`
	Bio             *string  `json:"bio"`
	Specialties     []string `json:"specialties"`
	PriceCents      *int64   `json:"price_cents"`
	DurationMinutes *int     `json:"duration_minutes"`
	Active          *bool    `json:"active"`
}

func (in PractitionerInput) apply(p *profile.Practitioner) error {
	if in.DisplayName != nil {
		p.DisplayName = strings.TrimSpace(*in.DisplayName)
	}
	if in.Bio != nil {
		p.Bio = strings.TrimSpace(*in.Bio)
	}
	if in.Specialties != nil {
		p.Specialties = normalizeSpecialties(in.Specialties)
	}
	if in.PriceCents != nil {
		if *in.PriceCents <= 0 {
			return svcerrors.Validation("price_cents", "price must be positive")
		}
		p.PriceCents = *in.PriceCents
	}
	if in.DurationMinutes != nil {
		if *in.DurationMinutes <= 0 || *in.DurationMinutes > maxDurationMinutes {
			return svcerrors.Validation("duration_minutes", "duration must be between 1 and 240 minutes")
		}
		p.DurationMinutes = *in.DurationMinutes
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	return nil
}

func normalizeSpecialties(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, sp := range in {
		sp = strings.TrimSpace(sp)
		key := strings.ToLower(sp)
		if sp == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sp)
	}
	return out
}

// BecomePractitioner creates the practitioner record for a profile, promotes
// the profile role and opens a contract on the default plan starting today.
func (s *Service) BecomePractitioner(ctx context.Context, profileID string, in PractitionerInput) (profile.Practitioner, error) {
	p, err := s.Get(ctx, profileID)
	if err != nil {
		return profile.Practitioner{}, err
	}
	if _, err := s.store.GetPractitionerByProfile(ctx, profileID); err == nil {
		return profile.Practitioner{}, svcerrors.Conflict("profile is already a practitioner")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return profile.Practitioner{}, svcerrors.Internal("get practitioner", err)
	}

	pr := profile.Practitioner{
		ProfileID:       profileID,
		DisplayName:     p.FullName(),
		DurationMinutes: defaultDurationMinutes,
		Active:          true,
	}
	if err := in.apply(&pr); err != nil {
		return profile.Practitioner{}, err
	}
	if pr.DisplayName == "" {
		return profile.Practitioner{}, svcerrors.Validation("display_name", "display name is required")
	}
	if pr.PriceCents <= 0 {
		return profile.Practitioner{}, svcerrors.Validation("price_cents", "price must be positive")
	}

	created, err := s.store.CreatePractitioner(ctx, pr)
	if errors.Is(err, storage.ErrConflict) {
		return profile.Practitioner{}, svcerrors.Conflict("profile is already a practitioner")
	}
	if err != nil {
		return profile.Practitioner{}, svcerrors.Internal("create practitioner", err)
	}

	if p.Role == profile.RoleClient {
		p.Role = profile.RolePractitioner
		if _, err := s.store.UpdateProfile(ctx, p); err != nil {
			return profile.Practitioner{}, svcerrors.Internal("promote profile", err)
		}
	}
	if s.contracts != nil {
		if _, err := s.contracts.Create(ctx, created.ID, "", s.now()); err != nil {
			return profile.Practitioner{}, err
		}
	}

	s.log.WithField("profile_id", profileID).WithField("practitioner_id", created.ID).Info("practitioner registered")
	return created, nil
}

// UpdatePractitioner applies a partial update to the caller's practitioner
// record.
func (s *Service) UpdatePractitioner(ctx context.Context, profileID string, in PractitionerInput) (profile.Practitioner, error) {
	pr, err := s.PractitionerForProfile(ctx, profileID)
	if err != nil {
		return profile.Practitioner{}, err
	}
	if err := in.apply(&pr); err != nil {
		return profile.Practitioner{}, err
	}
	if pr.DisplayName == "" {
		return profile.Practitioner{}, svcerrors.Validation("display_name", "display name is required")
	}
	updated, err := s.store.UpdatePractitioner(ctx, pr)
	if err != nil {
		return profile.Practitioner{}, svcerrors.Internal("update practitioner", err)
	}
	return updated, nil
}

// GetPractitioner returns a practitioner by id.
func (s *Service) GetPractitioner(ctx context.Context, id string) (profile.Practitioner, error) {
	pr, err := s.store.GetPractitioner(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Practitioner{}, svcerrors.NotFound("practitioner", id)
	}
	if err != nil {
		return profile.Practitioner{}, svcerrors.Internal("get practitioner", err)
	}
	return pr, nil
}

// PractitionerForProfile returns the practitioner attached to a profile.
func (s *Service) PractitionerForProfile(ctx context.Context, profileID string) (profile.Practitioner, error) {
	pr, err := s.store.GetPractitionerByProfile(ctx, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Practitioner{}, svcerrors.NotFound("practitioner", profileID)
	}
	if err != nil {
		return profile.Practitioner{}, svcerrors.Internal("get practitioner", err)
	}
	return pr, nil
}

// ListPractitioners returns the active practitioners.
func (s *Service) ListPractitioners(ctx context.Context) ([]profile.Practitioner, error) {
	list, err := s.store.ListPractitioners(ctx, true)
	if err != nil {
		return nil, svcerrors.Internal("list practitioners", err)
	}
	return list, nil
}
