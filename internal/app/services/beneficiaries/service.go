// Package beneficiaries manages the people a profile follows, who else may
// see them, invitations to share access, and their stored documents.
package beneficiaries

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/supabase"
	"github.com/fl2m/platform/pkg/logger"
)

// FileStore is the object storage holding beneficiary documents.
type FileStore interface {
	Upload(ctx context.Context, bucketID, filePath string, data []byte, opts *supabase.UploadOptions) error
	Delete(ctx context.Context, bucketID string, filePaths []string) error
	CreateSignedURL(ctx context.Context, bucketID, filePath string, expiresIn time.Duration) (string, error)
}

// Config tunes the service.
type Config struct {
	Bucket          string
	PublicURL       string
	InvitationTTL   time.Duration
	MaxDocumentSize int64
	SignedURLTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Bucket == "" {
		c.Bucket = "beneficiary-documents"
	}
	if c.InvitationTTL <= 0 {
		c.InvitationTTL = 7 * 24 * time.Hour
	}
	if c.MaxDocumentSize <= 0 {
		c.MaxDocumentSize = 10 << 20
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = 15 * time.Minute
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return c
}

// Service manages beneficiaries.
type Service struct {
	store     storage.BeneficiaryStore
	profiles  storage.ProfileStore
	files     FileStore
	notifier  *notify.Notifier
	cfg       Config
	tokenCost int
	now       func() time.Time
	log       *logger.Logger
}

// New constructs a beneficiary service. files may be nil when document
// storage is not configured.
func New(store storage.BeneficiaryStore, profiles storage.ProfileStore, files FileStore, notifier *notify.Notifier, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("beneficiaries")
	}
	return &Service{
		store:     store,
		profiles:  profiles,
		files:     files,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		tokenCost: defaultTokenCost,
		now:       time.Now,
		log:       log,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Input carries beneficiary fields. Nil fields are left unchanged on update.
type Input struct {
	FirstName *string    `json:"first_name"`
	LastName  *string    `json:"last_name"`
	BirthDate *time.Time `json:"birth_date"`
	Email     *string    `json:"email"`
	// Self links the beneficiary to the creating profile.
	Self bool `json:"self"`
}

func (in Input) apply(b *beneficiary.Beneficiary, now time.Time) error {
	if in.FirstName != nil {
		b.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		b.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		b.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.BirthDate != nil {
		if in.BirthDate.After(now) {
			return svcerrors.Validation("birth_date", "birth date cannot be in the future")
		}
		b.BirthDate = *in.BirthDate
	}
	if b.FirstName == "" {
		return svcerrors.Validation("first_name", "first name is required")
	}
	if b.BirthDate.IsZero() {
		return svcerrors.Validation("birth_date", "birth date is required")
	}
	return nil
}

// Create adds a beneficiary owned by profileID.
func (s *Service) Create(ctx context.Context, profileID string, in Input) (beneficiary.Beneficiary, error) {
	b := beneficiary.Beneficiary{OwnerID: profileID}
	if err := in.apply(&b, s.now()); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	if in.Self {
		id := profileID
		b.LinkedProfileID = &id
	}

	created, err := s.store.CreateBeneficiary(ctx, b)
	if errors.Is(err, storage.ErrConflict) {
		return beneficiary.Beneficiary{}, svcerrors.Conflict("a beneficiary is already linked to this profile")
	}
	if err != nil {
		return beneficiary.Beneficiary{}, svcerrors.Internal("create beneficiary", err)
	}
	s.log.WithField("beneficiary_id", created.ID).WithField("owner_id", profileID).Info("beneficiary created")
	return created, nil
}

// ListForProfile returns every beneficiary the profile holds a grant on.
func (s *Service) ListForProfile(ctx context.Context, profileID string) ([]beneficiary.Beneficiary, error) {
	list, err := s.store.ListBeneficiariesForProfile(ctx, profileID)
	if err != nil {
		return nil, svcerrors.Internal("list beneficiaries", err)
	}
	return list, nil
}

// Role returns the profile's role on a beneficiary. Profiles without a grant
// get a not found error so beneficiary ids do not leak.
func (s *Service) Role(ctx context.Context, beneficiaryID, profileID string) (beneficiary.Role, error) {
	g, err := s.store.GetGrant(ctx, beneficiaryID, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", svcerrors.NotFound("beneficiary", beneficiaryID)
	}
	if err != nil {
		return "", svcerrors.Internal("get grant", err)
	}
	return g.Role, nil
}

func (s *Service) require(ctx context.Context, beneficiaryID, profileID string, allowed func(beneficiary.Role) bool) (beneficiary.Role, error) {
	role, err := s.Role(ctx, beneficiaryID, profileID)
	if err != nil {
		return "", err
	}
	if !allowed(role) {
		return "", svcerrors.Forbidden("insufficient access to beneficiary")
	}
	return role, nil
}

func anyRole(beneficiary.Role) bool { return true }

func ownerOnly(r beneficiary.Role) bool { return r == beneficiary.RoleOwner }

// Get returns a beneficiary visible to the profile.
func (s *Service) Get(ctx context.Context, beneficiaryID, profileID string) (beneficiary.Beneficiary, error) {
	if _, err := s.require(ctx, beneficiaryID, profileID, anyRole); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	return s.load(ctx, beneficiaryID)
}

func (s *Service) load(ctx context.Context, id string) (beneficiary.Beneficiary, error) {
	b, err := s.store.GetBeneficiary(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return beneficiary.Beneficiary{}, svcerrors.NotFound("beneficiary", id)
	}
	if err != nil {
		return beneficiary.Beneficiary{}, svcerrors.Internal("get beneficiary", err)
	}
	return b, nil
}

// Update modifies a beneficiary. Owners and editors only.
func (s *Service) Update(ctx context.Context, beneficiaryID, profileID string, in Input) (beneficiary.Beneficiary, error) {
	if _, err := s.require(ctx, beneficiaryID, profileID, beneficiary.Role.CanEdit); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	b, err := s.load(ctx, beneficiaryID)
	if err != nil {
		return beneficiary.Beneficiary{}, err
	}
	if err := in.apply(&b, s.now()); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	updated, err := s.store.UpdateBeneficiary(ctx, b)
	if err != nil {
		return beneficiary.Beneficiary{}, svcerrors.Internal("update beneficiary", err)
	}
	return updated, nil
}

// Delete removes a beneficiary with its grants, invitations and documents.
// Owner only.
func (s *Service) Delete(ctx context.Context, beneficiaryID, profileID string) error {
	if _, err := s.require(ctx, beneficiaryID, profileID, ownerOnly); err != nil {
		return err
	}
	docs, err := s.store.ListDocuments(ctx, beneficiaryID)
	if err != nil {
		return svcerrors.Internal("list documents", err)
	}
	if len(docs) > 0 && s.files != nil {
		paths := make([]string, 0, len(docs))
		for _, d := range docs {
			paths = append(paths, d.StoragePath)
		}
		if err := s.files.Delete(ctx, s.cfg.Bucket, paths); err != nil {
			return svcerrors.Upstream("supabase storage", err)
		}
	}
	if err := s.store.DeleteBeneficiary(ctx, beneficiaryID); err != nil {
		return svcerrors.Internal("delete beneficiary", err)
	}
	s.log.WithField("beneficiary_id", beneficiaryID).WithField("documents", len(docs)).Info("beneficiary deleted")
	return nil
}

// Grants lists who can access a beneficiary.
func (s *Service) Grants(ctx context.Context, beneficiaryID, profileID string) ([]beneficiary.AccessGrant, error) {
	if _, err := s.require(ctx, beneficiaryID, profileID, anyRole); err != nil {
		return nil, err
	}
	grants, err := s.store.ListGrants(ctx, beneficiaryID)
	if err != nil {
		return nil, svcerrors.Internal("list grants", err)
	}
	return grants, nil
}

// Grant gives another profile editor or viewer access. Owner only.
func (s *Service) Grant(ctx context.Context, beneficiaryID, ownerID, targetProfileID string, role beneficiary.Role) (beneficiary.AccessGrant, error) {
	if _, err := s.require(ctx, beneficiaryID, ownerID, ownerOnly); err != nil {
		return beneficiary.AccessGrant{}, err
	}
	if role != beneficiary.RoleEditor && role != beneficiary.RoleViewer {
		return beneficiary.AccessGrant{}, svcerrors.Validation("role", "role must be editor or viewer")
	}
	if targetProfileID == ownerID {
		return beneficiary.AccessGrant{}, svcerrors.Conflict("the owner grant cannot be changed")
	}
	if _, err := s.profiles.GetProfile(ctx, targetProfileID); errors.Is(err, storage.ErrNotFound) {
		return beneficiary.AccessGrant{}, svcerrors.NotFound("profile", targetProfileID)
	} else if err != nil {
		return beneficiary.AccessGrant{}, svcerrors.Internal("get profile", err)
	}
	if existing, err := s.store.GetGrant(ctx, beneficiaryID, targetProfileID); err == nil && existing.Role == beneficiary.RoleOwner {
		return beneficiary.AccessGrant{}, svcerrors.Conflict("the owner grant cannot be changed")
	}

	g, err := s.store.UpsertGrant(ctx, beneficiary.AccessGrant{
		BeneficiaryID: beneficiaryID,
		ProfileID:     targetProfileID,
		Role:          role,
		GrantedBy:     ownerID,
	})
	if err != nil {
		return beneficiary.AccessGrant{}, svcerrors.Internal("grant access", err)
	}
	s.log.WithField("beneficiary_id", beneficiaryID).WithField("profile_id", targetProfileID).WithField("role", role).Info("access granted")
	return g, nil
}

// Revoke removes a profile's access. Owner only; the owner grant stays.
func (s *Service) Revoke(ctx context.Context, beneficiaryID, ownerID, targetProfileID string) error {
	if _, err := s.require(ctx, beneficiaryID, ownerID, ownerOnly); err != nil {
		return err
	}
	g, err := s.store.GetGrant(ctx, beneficiaryID, targetProfileID)
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound("grant", targetProfileID)
	}
	if err != nil {
		return svcerrors.Internal("get grant", err)
	}
	if g.Role == beneficiary.RoleOwner {
		return svcerrors.Conflict("the owner grant cannot be revoked")
	}
	if err := s.store.DeleteGrant(ctx, beneficiaryID, targetProfileID); err != nil {
		return svcerrors.Internal("revoke access", err)
	}
	s.log.WithField("beneficiary_id", beneficiaryID).WithField("profile_id", targetProfileID).Info("access revoked")
	return nil
}
