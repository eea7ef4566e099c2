package beneficiaries

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
)

const defaultTokenCost = bcrypt.DefaultCost

// SetTokenCost changes the bcrypt cost used for invitation tokens.
func (s *Service) SetTokenCost(cost int) {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.tokenCost = cost
	}
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// splitToken separates "<invitationID>.<secret>".
func splitToken(token string) (id, secret string, ok bool) {
	id, secret, ok = strings.Cut(strings.TrimSpace(token), ".")
	return id, secret, ok && id != "" && secret != ""
}

// Invite emails an acceptance link for the beneficiary. Owner only. The
// returned token is shown once and only its bcrypt hash is stored.
func (s *Service) Invite(ctx context.Context, beneficiaryID, ownerID, email string, role beneficiary.Role) (beneficiary.Invitation, string, error) {
	if _, err := s.require(ctx, beneficiaryID, ownerID, ownerOnly); err != nil {
		return beneficiary.Invitation{}, "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return beneficiary.Invitation{}, "", svcerrors.Validation("email", "a valid email is required")
	}
	if role != beneficiary.RoleEditor && role != beneficiary.RoleViewer {
		return beneficiary.Invitation{}, "", svcerrors.Validation("role", "role must be editor or viewer")
	}

	b, err := s.load(ctx, beneficiaryID)
	if err != nil {
		return beneficiary.Invitation{}, "", err
	}

	secret, err := newSecret()
	if err != nil {
		return beneficiary.Invitation{}, "", svcerrors.Internal("generate invitation token", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.tokenCost)
	if err != nil {
		return beneficiary.Invitation{}, "", svcerrors.Internal("hash invitation token", err)
	}

	inv, err := s.store.CreateInvitation(ctx, beneficiary.Invitation{
		BeneficiaryID: beneficiaryID,
		Email:         email,
		Role:          role,
		TokenHash:     hash,
		Status:        beneficiary.InvitationPending,
		InvitedBy:     ownerID,
		ExpiresAt:     s.now().Add(s.cfg.InvitationTTL).UTC(),
	})
	if err != nil {
		return beneficiary.Invitation{}, "", svcerrors.Internal("create invitation", err)
	}
	token := inv.ID + "." + secret

	inviter := ""
	if p, err := s.profiles.GetProfile(ctx, ownerID); err == nil {
		inviter = p.FullName()
	}
	s.notifier.InvitationSent(ctx, notify.Invitation{
		To:              email,
		InviterName:     inviter,
		BeneficiaryName: b.FullName(),
		Role:            string(role),
		AcceptURL:       s.cfg.PublicURL + "/invitations/accept?token=" + url.QueryEscape(token),
		ExpiresAt:       inv.ExpiresAt,
	})
	s.log.WithField("invitation_id", inv.ID).WithField("beneficiary_id", beneficiaryID).Info("invitation sent")
	return inv, token, nil
}

// Invitations lists invitations of a beneficiary. Owner only.
func (s *Service) Invitations(ctx context.Context, beneficiaryID, ownerID string) ([]beneficiary.Invitation, error) {
	if _, err := s.require(ctx, beneficiaryID, ownerID, ownerOnly); err != nil {
		return nil, err
	}
	list, err := s.store.ListInvitations(ctx, beneficiaryID)
	if err != nil {
		return nil, svcerrors.Internal("list invitations", err)
	}
	return list, nil
}

// AcceptInvitation redeems a token for the authenticated profile, whose email
// must match the invited address.
func (s *Service) AcceptInvitation(ctx context.Context, token, profileID string) (beneficiary.AccessGrant, error) {
	id, secret, ok := splitToken(token)
	if !ok {
		return beneficiary.AccessGrant{}, svcerrors.BadRequest("malformed invitation token")
	}
	inv, err := s.store.GetInvitation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return beneficiary.AccessGrant{}, svcerrors.NotFound("invitation", id)
	}
	if err != nil {
		return beneficiary.AccessGrant{}, svcerrors.Internal("get invitation", err)
	}
	if err := bcrypt.CompareHashAndPassword(inv.TokenHash, []byte(secret)); err != nil {
		return beneficiary.AccessGrant{}, svcerrors.Forbidden("invalid invitation token")
	}
	if inv.Status != beneficiary.InvitationPending {
		return beneficiary.AccessGrant{}, svcerrors.Conflict("invitation is " + string(inv.Status))
	}
	now := s.now().UTC()
	if inv.Expired(now) {
		inv.Status = beneficiary.InvitationExpired
		if _, err := s.store.UpdateInvitation(ctx, inv); err != nil {
			s.log.WithError(err).WithField("invitation_id", inv.ID).Warn("mark invitation expired")
		}
		return beneficiary.AccessGrant{}, svcerrors.Conflict("invitation has expired")
	}

	p, err := s.profiles.GetProfile(ctx, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return beneficiary.AccessGrant{}, svcerrors.NotFound("profile", profileID)
	}
	if err != nil {
		return beneficiary.AccessGrant{}, svcerrors.Internal("get profile", err)
	}
	if !strings.EqualFold(strings.TrimSpace(p.Email), inv.Email) {
		return beneficiary.AccessGrant{}, svcerrors.Forbidden("invitation was sent to another email address")
	}

	grant := beneficiary.AccessGrant{
		BeneficiaryID: inv.BeneficiaryID,
		ProfileID:     profileID,
		Role:          inv.Role,
		GrantedBy:     inv.InvitedBy,
	}
	existing, err := s.store.GetGrant(ctx, inv.BeneficiaryID, profileID)
	switch {
	case err == nil && existing.Role.Covers(inv.Role):
		// Accepting never downgrades access already held.
		grant = existing
	case err == nil || errors.Is(err, storage.ErrNotFound):
		if grant, err = s.store.UpsertGrant(ctx, grant); err != nil {
			return beneficiary.AccessGrant{}, svcerrors.Internal("grant access", err)
		}
	default:
		return beneficiary.AccessGrant{}, svcerrors.Internal("get grant", err)
	}

	inv.Status = beneficiary.InvitationAccepted
	inv.AcceptedAt = &now
	inv.AcceptedBy = &profileID
	if _, err := s.store.UpdateInvitation(ctx, inv); err != nil {
		return beneficiary.AccessGrant{}, svcerrors.Internal("accept invitation", err)
	}
	s.log.WithField("invitation_id", inv.ID).WithField("profile_id", profileID).Info("invitation accepted")
	return grant, nil
}

// RevokeInvitation withdraws a pending invitation. Owner only.
func (s *Service) RevokeInvitation(ctx context.Context, beneficiaryID, ownerID, invitationID string) error {
	if _, err := s.require(ctx, beneficiaryID, ownerID, ownerOnly); err != nil {
		return err
	}
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && inv.BeneficiaryID != beneficiaryID) {
		return svcerrors.NotFound("invitation", invitationID)
	}
	if err != nil {
		return svcerrors.Internal("get invitation", err)
	}
	if inv.Status != beneficiary.InvitationPending {
		return svcerrors.Conflict("invitation is " + string(inv.Status))
	}
	inv.Status = beneficiary.InvitationRevoked
	if _, err := s.store.UpdateInvitation(ctx, inv); err != nil {
		return svcerrors.Internal("revoke invitation", err)
	}
	return nil
}

// ExpireInvitations marks overdue pending invitations as expired.
func (s *Service) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.ExpireInvitations(ctx, now.UTC())
	if err != nil {
		return 0, svcerrors.Internal("expire invitations", err)
	}
	if n > 0 {
		s.log.WithField("count", n).Info("invitations expired")
	}
	return n, nil
}
