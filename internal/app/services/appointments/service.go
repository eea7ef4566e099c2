// Package appointments books sessions with practitioners and drives their
// lifecycle from booking to validation.
package appointments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/pkg/logger"
)

// ContractLookup resolves a practitioner's active contract.
type ContractLookup interface {
	Active(ctx context.Context, practitionerID string) (contract.Contract, error)
}

// AccessChecker resolves a profile's role on a beneficiary.
type AccessChecker interface {
	Role(ctx context.Context, beneficiaryID, profileID string) (beneficiary.Role, error)
}

// Settlement applies appointment transitions to the payment side.
type Settlement interface {
	MarkEligible(ctx context.Context, appointmentID string, validatedAt time.Time) error
	CancelForAppointment(ctx context.Context, appointmentID string) (refunded bool, err error)
}

// Config tunes booking rules.
type Config struct {
	MinLeadTime       time.Duration
	AutoValidateAfter time.Duration
}

// Service manages appointments.
type Service struct {
	store      storage.AppointmentStore
	profiles   storage.ProfileStore
	contracts  ContractLookup
	access     AccessChecker
	settlement Settlement
	notifier   *notify.Notifier
	cfg        Config
	now        func() time.Time
	log        *logger.Logger
}

// New constructs an appointment service.
func New(
	store storage.AppointmentStore,
	profiles storage.ProfileStore,
	contracts ContractLookup,
	access AccessChecker,
	settlement Settlement,
	notifier *notify.Notifier,
	cfg Config,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("appointments")
	}
	if cfg.AutoValidateAfter <= 0 {
		cfg.AutoValidateAfter = 7 * 24 * time.Hour
	}
	return &Service{
		store:      store,
		profiles:   profiles,
		contracts:  contracts,
		access:     access,
		settlement: settlement,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
		log:        log,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BookingRequest is a client's request for a slot.
type BookingRequest struct {
	PractitionerID string    `json:"practitioner_id"`
	BeneficiaryID  *string   `json:"beneficiary_id,omitempty"`
	StartTime      time.Time `json:"start_time"`
	Notes          string    `json:"notes,omitempty"`
}

// Book reserves a slot. The appointment stays pending until paid.
func (s *Service) Book(ctx context.Context, clientID string, req BookingRequest) (appointment.Appointment, error) {
	if req.PractitionerID == "" {
		return appointment.Appointment{}, svcerrors.Validation("practitioner_id", "practitioner_id is required")
	}
	if req.StartTime.IsZero() {
		return appointment.Appointment{}, svcerrors.Validation("start_time", "start_time is required")
	}
	now := s.now()
	if req.StartTime.Before(now.Add(s.cfg.MinLeadTime)) {
		return appointment.Appointment{}, svcerrors.Validation("start_time", "start time is too soon")
	}

	pr, err := s.profiles.GetPractitioner(ctx, req.PractitionerID)
	if errors.Is(err, storage.ErrNotFound) {
		return appointment.Appointment{}, svcerrors.NotFound("practitioner", req.PractitionerID)
	}
	if err != nil {
		return appointment.Appointment{}, svcerrors.Internal("get practitioner", err)
	}
	if !pr.Active {
		return appointment.Appointment{}, svcerrors.Conflict("practitioner is not accepting bookings")
	}
	if pr.ProfileID == clientID {
		return appointment.Appointment{}, svcerrors.Validation("practitioner_id", "practitioners cannot book themselves")
	}
	if _, err := s.contracts.Active(ctx, pr.ID); err != nil {
		if svcerrors.IsCode(err, svcerrors.CodeNotFound) {
			return appointment.Appointment{}, svcerrors.Conflict("practitioner has no active contract")
		}
		return appointment.Appointment{}, err
	}

	if req.BeneficiaryID != nil && *req.BeneficiaryID != "" {
		if _, err := s.access.Role(ctx, *req.BeneficiaryID, clientID); err != nil {
			return appointment.Appointment{}, err
		}
	} else {
		req.BeneficiaryID = nil
	}

	start := req.StartTime.UTC()
	duration := pr.SessionDuration()
	if duration <= 0 {
		duration = time.Hour
	}
	created, err := s.store.CreateAppointment(ctx, appointment.Appointment{
		PractitionerID: pr.ID,
		ClientID:       clientID,
		BeneficiaryID:  req.BeneficiaryID,
		StartTime:      start,
		EndTime:        start.Add(duration),
		Status:         appointment.StatusPending,
		PriceCents:     pr.PriceCents,
		Notes:          strings.TrimSpace(req.Notes),
	})
	if errors.Is(err, storage.ErrConflict) {
		return appointment.Appointment{}, svcerrors.Conflict("slot is no longer available")
	}
	if err != nil {
		return appointment.Appointment{}, svcerrors.Internal("create appointment", err)
	}
	s.log.WithField("appointment_id", created.ID).
		WithField("practitioner_id", pr.ID).
		WithField("start", created.StartTime.Format(time.RFC3339)).
		Info("appointment booked")
	return created, nil
}

func (s *Service) load(ctx context.Context, id string) (appointment.Appointment, error) {
	a, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return appointment.Appointment{}, svcerrors.NotFound("appointment", id)
	}
	if err != nil {
		return appointment.Appointment{}, svcerrors.Internal("get appointment", err)
	}
	return a, nil
}

// isPractitioner reports whether profileID owns the appointment's
// practitioner record.
func (s *Service) isPractitioner(ctx context.Context, a appointment.Appointment, profileID string) bool {
	pr, err := s.profiles.GetPractitionerByProfile(ctx, profileID)
	return err == nil && pr.ID == a.PractitionerID
}

// Get returns an appointment visible to its client or practitioner.
func (s *Service) Get(ctx context.Context, id, profileID string) (appointment.Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if a.Involves(profileID) || s.isPractitioner(ctx, a, profileID) {
		return a, nil
	}
	return appointment.Appointment{}, svcerrors.NotFound("appointment", id)
}

// ListForClient returns the client's appointments.
func (s *Service) ListForClient(ctx context.Context, clientID string) ([]appointment.Appointment, error) {
	list, err := s.store.ListAppointmentsByClient(ctx, clientID)
	if err != nil {
		return nil, svcerrors.Internal("list appointments", err)
	}
	return list, nil
}

// ListForPractitioner returns the appointments of the profile's practitioner
// record.
func (s *Service) ListForPractitioner(ctx context.Context, profileID string) ([]appointment.Appointment, error) {
	pr, err := s.profiles.GetPractitionerByProfile(ctx, profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, svcerrors.NotFound("practitioner", profileID)
	}
	if err != nil {
		return nil, svcerrors.Internal("get practitioner", err)
	}
	list, err := s.store.ListAppointmentsByPractitioner(ctx, pr.ID)
	if err != nil {
		return nil, svcerrors.Internal("list appointments", err)
	}
	return list, nil
}

// Cancel cancels a pending or confirmed appointment on behalf of its client
// or practitioner. A paid session is refunded.
func (s *Service) Cancel(ctx context.Context, id, profileID, reason string) (appointment.Appointment, error) {
	a, err := s.Get(ctx, id, profileID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if !a.Cancellable() {
		return appointment.Appointment{}, svcerrors.Conflict("appointment is " + string(a.Status))
	}

	refunded := false
	if s.settlement != nil {
		if refunded, err = s.settlement.CancelForAppointment(ctx, a.ID); err != nil {
			return appointment.Appointment{}, err
		}
	}

	now := s.now().UTC()
	a.Status = appointment.StatusCancelled
	a.CancelledAt = &now
	a.CancelReason = strings.TrimSpace(reason)
	updated, err := s.store.UpdateAppointment(ctx, a)
	if err != nil {
		return appointment.Appointment{}, svcerrors.Internal("cancel appointment", err)
	}

	s.log.WithField("appointment_id", a.ID).WithField("refunded", refunded).Info("appointment cancelled")
	s.notifyCancelled(ctx, updated, refunded)
	return updated, nil
}

func (s *Service) notifyCancelled(ctx context.Context, a appointment.Appointment, refunded bool) {
	var recipients []profile.Profile
	if client, err := s.profiles.GetProfile(ctx, a.ClientID); err == nil {
		recipients = append(recipients, client)
	}
	if pr, err := s.profiles.GetPractitioner(ctx, a.PractitionerID); err == nil {
		if p, err := s.profiles.GetProfile(ctx, pr.ProfileID); err == nil {
			recipients = append(recipients, p)
		}
	}
	for _, p := range recipients {
		s.notifier.AppointmentCancelled(ctx, notify.AppointmentCancelled{
			To:        p.Email,
			Name:      p.FullName(),
			StartTime: a.StartTime,
			Reason:    a.CancelReason,
			Refunded:  refunded && p.ID == a.ClientID,
		})
	}
}

// Validate records that a confirmed session took place. Only the client may
// validate, once the session has ended. The practitioner payout becomes
// eligible after the hold period.
func (s *Service) Validate(ctx context.Context, id, profileID string) (appointment.Appointment, error) {
	a, err := s.Get(ctx, id, profileID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if !a.Involves(profileID) {
		return appointment.Appointment{}, svcerrors.Forbidden("only the client can validate the session")
	}
	return s.validate(ctx, a, s.now())
}

func (s *Service) validate(ctx context.Context, a appointment.Appointment, now time.Time) (appointment.Appointment, error) {
	if a.Status != appointment.StatusConfirmed {
		return appointment.Appointment{}, svcerrors.Conflict("appointment is " + string(a.Status))
	}
	if a.EndTime.After(now) {
		return appointment.Appointment{}, svcerrors.Conflict("session has not ended yet")
	}
	now = now.UTC()
	if s.settlement != nil {
		if err := s.settlement.MarkEligible(ctx, a.ID, now); err != nil {
			return appointment.Appointment{}, err
		}
	}
	a.Status = appointment.StatusCompleted
	a.ValidatedAt = &now
	updated, err := s.store.UpdateAppointment(ctx, a)
	if err != nil {
		return appointment.Appointment{}, svcerrors.Internal("validate appointment", err)
	}
	s.log.WithField("appointment_id", a.ID).Info("appointment validated")
	return updated, nil
}

// AutoValidate validates confirmed sessions that ended more than the
// auto-validation delay ago and returns how many were validated.
func (s *Service) AutoValidate(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListConfirmedEndedBefore(ctx, now.Add(-s.cfg.AutoValidateAfter))
	if err != nil {
		return 0, svcerrors.Internal("list appointments to validate", err)
	}
	validated := 0
	var errs []error
	for _, a := range due {
		if ctx.Err() != nil {
			return validated, ctx.Err()
		}
		if _, err := s.validate(ctx, a, now); err != nil {
			s.log.WithError(err).WithField("appointment_id", a.ID).Warn("auto validation failed")
			errs = append(errs, err)
			continue
		}
		validated++
	}
	if len(due) > 0 {
		s.log.WithField("due", len(due)).WithField("validated", validated).Info("auto validation sweep finished")
	}
	return validated, errors.Join(errs...)
}
