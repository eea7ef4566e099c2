package beneficiaries

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/storage/memory"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/supabase"
	"github.com/fl2m/platform/pkg/logger"
)

type fakeFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeFiles() *fakeFiles { return &fakeFiles{objects: make(map[string][]byte)} }

func (f *fakeFiles) Upload(_ context.Context, bucket, p string, data []byte, _ *supabase.UploadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+p] = data
	return nil
}

func (f *fakeFiles) Delete(_ context.Context, bucket string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.objects, bucket+"/"+p)
	}
	return nil
}

func (f *fakeFiles) CreateSignedURL(_ context.Context, bucket, p string, _ time.Duration) (string, error) {
	return "https://storage.test/" + bucket + "/" + p + "?token=x", nil
}

func (f *fakeFiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	files  *fakeFiles
	mailer *notify.RecordingMailer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	files := newFakeFiles()
	mailer := &notify.RecordingMailer{}
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	svc := New(store, store, files, notify.New(mailer, logger.NewNop()), Config{PublicURL: "https://app.fl2m.test/"}, logger.NewNop())
	svc.SetTokenCost(bcrypt.MinCost)
	svc.SetClock(func() time.Time { return now })

	ctx := context.Background()
	for _, p := range []profile.Profile{
		{ID: "owner", Email: "owner@example.com", FirstName: "Olga", Role: profile.RoleClient},
		{ID: "friend", Email: "friend@example.com", FirstName: "Fred", Role: profile.RoleClient},
		{ID: "other", Email: "other@example.com", Role: profile.RoleClient},
	} {
		_, err := store.CreateProfile(ctx, p)
		require.NoError(t, err)
	}
	return &fixture{svc: svc, store: store, files: files, mailer: mailer, now: now}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) create(t *testing.T) beneficiary.Beneficiary {
	t.Helper()
	b, err := f.svc.Create(context.Background(), "owner", Input{
		FirstName: ptr("Léa"),
		LastName:  ptr("Martin"),
		BirthDate: ptr(time.Date(2015, 4, 2, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return b
}

func TestCreateValidatesAndGrantsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "owner", Input{FirstName: ptr("Léa")})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation), "birth date required")

	b := f.create(t)
	role, err := f.svc.Role(ctx, b.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, beneficiary.RoleOwner, role)

	_, err = f.svc.Get(ctx, b.ID, "other")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound), "no grant hides the beneficiary")
}

func TestGrantAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)

	_, err := f.svc.Grant(ctx, b.ID, "owner", "friend", beneficiary.RoleOwner)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))

	_, err = f.svc.Grant(ctx, b.ID, "owner", "friend", beneficiary.RoleViewer)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, b.ID, "friend", Input{FirstName: ptr("Lea")})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden), "viewer cannot edit")

	_, err = f.svc.Grant(ctx, b.ID, "friend", "other", beneficiary.RoleViewer)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden), "only the owner grants")

	_, err = f.svc.Grant(ctx, b.ID, "owner", "friend", beneficiary.RoleEditor)
	require.NoError(t, err)
	updated, err := f.svc.Update(ctx, b.ID, "friend", Input{FirstName: ptr("Lea")})
	require.NoError(t, err)
	assert.Equal(t, "Lea", updated.FirstName)

	err = f.svc.Revoke(ctx, b.ID, "owner", "owner")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict), "owner grant stays")

	require.NoError(t, f.svc.Revoke(ctx, b.ID, "owner", "friend"))
	_, err = f.svc.Get(ctx, b.ID, "friend")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))
}

func TestInvitationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)

	inv, token, err := f.svc.Invite(ctx, b.ID, "owner", " Friend@Example.com ", beneficiary.RoleEditor)
	require.NoError(t, err)
	assert.Equal(t, "friend@example.com", inv.Email)
	assert.True(t, strings.HasPrefix(token, inv.ID+"."))
	assert.Equal(t, f.now.Add(7*24*time.Hour), inv.ExpiresAt)

	sent := f.mailer.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "friend@example.com", sent[0].To)
	assert.Contains(t, sent[0].HTML, "https://app.fl2m.test/invitations/accept?token=")

	_, err = f.svc.AcceptInvitation(ctx, inv.ID+".wrong", "friend")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden), "bad secret")

	_, err = f.svc.AcceptInvitation(ctx, token, "other")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden), "email mismatch")

	grant, err := f.svc.AcceptInvitation(ctx, token, "friend")
	require.NoError(t, err)
	assert.Equal(t, beneficiary.RoleEditor, grant.Role)

	_, err = f.svc.AcceptInvitation(ctx, token, "friend")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict), "single use")
}

func TestAcceptKeepsHigherExistingRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)

	_, err := f.svc.Grant(ctx, b.ID, "owner", "friend", beneficiary.RoleEditor)
	require.NoError(t, err)
	_, token, err := f.svc.Invite(ctx, b.ID, "owner", "friend@example.com", beneficiary.RoleViewer)
	require.NoError(t, err)

	grant, err := f.svc.AcceptInvitation(ctx, token, "friend")
	require.NoError(t, err)
	assert.Equal(t, beneficiary.RoleEditor, grant.Role)

	stored, err := f.store.GetGrant(ctx, b.ID, "friend")
	require.NoError(t, err)
	assert.Equal(t, beneficiary.RoleEditor, stored.Role)

	// A higher invited role still upgrades.
	_, err = f.svc.Grant(ctx, b.ID, "owner", "friend", beneficiary.RoleViewer)
	require.NoError(t, err)
	_, token, err = f.svc.Invite(ctx, b.ID, "owner", "friend@example.com", beneficiary.RoleEditor)
	require.NoError(t, err)
	grant, err = f.svc.AcceptInvitation(ctx, token, "friend")
	require.NoError(t, err)
	assert.Equal(t, beneficiary.RoleEditor, grant.Role)
}

func TestInvitationExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)

	inv, token, err := f.svc.Invite(ctx, b.ID, "owner", "friend@example.com", beneficiary.RoleViewer)
	require.NoError(t, err)

	later := f.now.Add(8 * 24 * time.Hour)
	f.svc.SetClock(func() time.Time { return later })
	_, err = f.svc.AcceptInvitation(ctx, token, "friend")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeConflict))

	stored, err := f.store.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, beneficiary.InvitationExpired, stored.Status)

	_, _, err = f.svc.Invite(ctx, b.ID, "owner", "other@example.com", beneficiary.RoleViewer)
	require.NoError(t, err)
	n, err := f.svc.ExpireInvitations(ctx, later.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t)
	_, err := f.svc.Grant(ctx, b.ID, "owner", "friend", beneficiary.RoleViewer)
	require.NoError(t, err)

	_, err = f.svc.Upload(ctx, b.ID, "friend", "notes.pdf", "application/pdf", []byte("%PDF"))
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeForbidden), "viewer cannot upload")

	doc, err := f.svc.Upload(ctx, b.ID, "owner", "../bilan 2026.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "bilan_2026.pdf", doc.Name)
	assert.True(t, strings.HasPrefix(doc.StoragePath, b.ID+"/"))
	assert.True(t, strings.HasSuffix(doc.StoragePath, "-bilan_2026.pdf"))

	docs, err := f.svc.Documents(ctx, b.ID, "friend")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	link, err := f.svc.DocumentURL(ctx, b.ID, "friend", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, link, doc.StoragePath)

	require.NoError(t, f.svc.Delete(ctx, b.ID, "owner"))
	assert.Equal(t, 0, f.files.count())
}
