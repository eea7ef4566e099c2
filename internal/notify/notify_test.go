package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fl2m/platform/pkg/logger"
)

func TestInvitationRendersLink(t *testing.T) {
	rec := &RecordingMailer{}
	n := New(rec, logger.NewNop())

	n.InvitationSent(context.Background(), Invitation{
		To:              "friend@example.com",
		InviterName:     "Ana",
		BeneficiaryName: "Léa Martin",
		Role:            "viewer",
		AcceptURL:       "https://app.fl2m.fr/invitations/accept?token=abc.def",
		ExpiresAt:       time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC),
	})

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "friend@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].HTML, "token=abc.def")
	assert.Contains(t, msgs[0].HTML, "26/10/2026")
}

func TestTemplateEscapesInput(t *testing.T) {
	rec := &RecordingMailer{}
	n := New(rec, logger.NewNop())

	n.InvoiceIssued(context.Background(), InvoiceIssued{To: "c@example.com", ClientName: "<script>x</script>", Number: "FL2M-2026-000001", Amount: "60,00 €"})

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, strings.Contains(msgs[0].HTML, "<script>"))
}

func TestNoRecipientSkips(t *testing.T) {
	rec := &RecordingMailer{}
	New(rec, logger.NewNop()).AppointmentCancelled(context.Background(), AppointmentCancelled{Name: "x"})
	assert.Empty(t, rec.Messages())

	var nilNotifier *Notifier
	nilNotifier.InvoiceIssued(context.Background(), InvoiceIssued{To: "c@example.com"})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "60,00 €", FormatAmount(6000, "eur"))
	assert.Equal(t, "0,05 €", FormatAmount(5, "EUR"))
	assert.Equal(t, "-12,30 USD", FormatAmount(-1230, "usd"))
}
