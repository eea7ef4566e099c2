package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/services/contracts"
	"github.com/fl2m/platform/internal/app/storage/memory"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/pkg/logger"
)

type grants map[string]beneficiary.Role

func (g grants) Role(_ context.Context, beneficiaryID, profileID string) (beneficiary.Role, error) {
	if role, ok := g[beneficiaryID+"/"+profileID]; ok {
		return role, nil
	}
	return "", svcerrors.NotFound("beneficiary", beneficiaryID)
}

type recordingSettlement struct {
	eligible  []string
	cancelled []string
	refund    bool
	err       error
}

func (r *recordingSettlement) MarkEligible(_ context.Context, appointmentID string, _ time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.eligible = append(r.eligible, appointmentID)
	return nil
}

func (r *recordingSettlement) CancelForAppointment(_ context.Context, appointmentID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.cancelled = append(r.cancelled, appointmentID)
	return r.refund, nil
}

type fixture struct {
	svc        *Service
	store      *memory.Store
	settlement *recordingSettlement
	mailer     *notify.RecordingMailer
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	catalog := contract.Catalog{Default: "decouverte", Plans: []contract.Plan{{Code: "decouverte", CommissionBPS: 2000}}}
	contractSvc := contracts.New(store, catalog, time.UTC, logger.NewNop())
	contractSvc.SetClock(func() time.Time { return now })

	_, err := store.CreateProfile(ctx, profile.Profile{ID: "client", Email: "client@example.com", FirstName: "Chloé"})
	require.NoError(t, err)
	_, err = store.CreateProfile(ctx, profile.Profile{ID: "prac-profile", Email: "ana@example.com", FirstName: "Ana"})
	require.NoError(t, err)
	_, err = store.CreatePractitioner(ctx, profile.Practitioner{
		ID: "prac", ProfileID: "prac-profile", DisplayName: "Ana", PriceCents: 6000, DurationMinutes: 45, Active: true,
	})
	require.NoError(t, err)
	_, err = contractSvc.Create(ctx, "prac", "", now)
	require.NoError(t, err)

	settlement := &recordingSettlement{}
	mailer := &notify.RecordingMailer{}
	svc := New(store, store, contractSvc, grants{"ben-1/client": beneficiary.RoleEditor}, settlement,
		notify.New(mailer, logger.NewNop()),
		Config{MinLeadTime: 2 * time.Hour, AutoValidateAfter: 48 * time.Hour},
		logger.NewNop())
	svc.SetClock(func() time.Time { return now })

	return &fixture{svc: svc, store: store, settlement: settlement, mailer: mailer, now: now}
}

func (f *fixture) book(t *testing.T, start time.Time) appointment.Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), "client", BookingRequest{PractitionerID: "prac", StartTime: start})
	require.NoError(t, err)
	return a
}

func (f *fixture) confirm(t *testing.T, a appointment.Appointment) appointment.Appointment {
	t.Helper()
	a.Status = appointment.StatusConfirmed
	out, err := f.store.UpdateAppointment(context.Background(), a)
	require.NoError(t, err)
	return out
}

func TestBookUsesPractitionerTerms(t *testing.T) {
	f := newFixture(t)
	start := f.now.Add(24 * time.Hour)

	a := f.book(t, start)
	assert.Equal(t, appointment.StatusPending, a.Status)
	assert.Equal(t, int64(6000), a.PriceCents)
	assert.Equal(t, start.Add(45*time.Minute), a.EndTime)
	assert.Nil(t, a.BeneficiaryID)
}

func TestBookRejectsOverlapAndShortNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(24 * time.Hour)
	f.book(t, start)

	_, err := f.svc.Book(ctx, "client", BookingRequest{PractitionerID: "prac", StartTime: start.Add(30 * time.Minute)})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))

	// back to back is fine
	f.book(t, start.Add(45*time.Minute))

	_, err = f.svc.Book(ctx, "client", BookingRequest{PractitionerID: "prac", StartTime: f.now.Add(time.Hour)})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))

	_, err = f.svc.Book(ctx, "client", BookingRequest{PractitionerID: "missing", StartTime: start})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))
}

func TestBookRequiresBeneficiaryAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(24 * time.Hour)

	other := "ben-2"
	_, err := f.svc.Book(ctx, "client", BookingRequest{PractitionerID: "prac", StartTime: start, BeneficiaryID: &other})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	ben := "ben-1"
	a, err := f.svc.Book(ctx, "client", BookingRequest{PractitionerID: "prac", StartTime: start, BeneficiaryID: &ben})
	require.NoError(t, err)
	require.NotNil(t, a.BeneficiaryID)
	assert.Equal(t, "ben-1", *a.BeneficiaryID)
}

func TestBookRequiresActiveContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreatePractitioner(ctx, profile.Practitioner{ID: "new", ProfileID: "p2", PriceCents: 100, DurationMinutes: 30, Active: true})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, "client", BookingRequest{PractitionerID: "new", StartTime: f.now.Add(24 * time.Hour)})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))
}

func TestGetIsLimitedToParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.now.Add(24*time.Hour))

	_, err := f.svc.Get(ctx, a.ID, "client")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, a.ID, "prac-profile")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, a.ID, "stranger")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	list, err := f.svc.ListForPractitioner(ctx, "prac-profile")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCancelNotifiesBothParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.settlement.refund = true
	a := f.confirm(t, f.book(t, f.now.Add(24*time.Hour)))

	out, err := f.svc.Cancel(ctx, a.ID, "prac-profile", "  illness ")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, out.Status)
	assert.Equal(t, "illness", out.CancelReason)
	require.NotNil(t, out.CancelledAt)
	assert.Equal(t, []string{a.ID}, f.settlement.cancelled)

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "client@example.com", msgs[0].To)
	assert.Equal(t, "ana@example.com", msgs[1].To)

	_, err = f.svc.Cancel(ctx, a.ID, "client", "")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))
}

func TestCancelKeepsAppointmentWhenRefundFails(t *testing.T) {
	f := newFixture(t)
	a := f.confirm(t, f.book(t, f.now.Add(24*time.Hour)))
	f.settlement.err = svcerrors.Conflict("payout already sent")

	_, err := f.svc.Cancel(context.Background(), a.ID, "client", "")
	require.Error(t, err)

	stored, err := f.store.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, stored.Status)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.confirm(t, f.book(t, f.now.Add(24*time.Hour)))

	_, err := f.svc.Validate(ctx, a.ID, "client")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict), "session has not ended")

	f.svc.SetClock(func() time.Time { return f.now.Add(26 * time.Hour) })
	_, err = f.svc.Validate(ctx, a.ID, "prac-profile")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden))

	out, err := f.svc.Validate(ctx, a.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, out.Status)
	require.NotNil(t, out.ValidatedAt)
	assert.Equal(t, []string{a.ID}, f.settlement.eligible)

	_, err = f.svc.Validate(ctx, a.ID, "client")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))
}

func TestAutoValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.confirm(t, f.book(t, f.now.Add(3*time.Hour)))
	recent := f.confirm(t, f.book(t, f.now.Add(48*time.Hour)))
	pending := f.book(t, f.now.Add(5*time.Hour))

	n, err := f.svc.AutoValidate(ctx, f.now.Add(60*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.store.GetAppointment(ctx, old.ID)
	assert.Equal(t, appointment.StatusCompleted, stored.Status)
	stored, _ = f.store.GetAppointment(ctx, recent.ID)
	assert.Equal(t, appointment.StatusConfirmed, stored.Status)
	stored, _ = f.store.GetAppointment(ctx, pending.ID)
	assert.Equal(t, appointment.StatusPending, stored.Status)
}

func TestAutoValidateContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.confirm(t, f.book(t, f.now.Add(3*time.Hour)))
	f.settlement.err = svcerrors.Conflict("transaction is pending")

	n, err := f.svc.AutoValidate(context.Background(), f.now.Add(96*time.Hour))
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}
