// Package notify sends transactional email through Resend.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/fl2m/platform/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ResendMailer delivers through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer creates a mailer sending from the given address.
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// LogMailer logs messages instead of sending them. Used when no Resend key
// is configured.
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.WithContext(ctx).WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("email not sent: no mail provider configured")
	return nil
}

// RecordingMailer keeps messages in memory for tests.
type RecordingMailer struct {
	mu   sync.Mutex
	Sent []Message
}

func (m *RecordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *RecordingMailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Sent...)
}

// Notifier renders the platform's emails and hands them to a Mailer. Send
// failures are logged and never fail the calling operation.
type Notifier struct {
	mailer Mailer
	log    *logger.Logger
}

// New creates a Notifier. A nil mailer disables email.
func New(mailer Mailer, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &Notifier{mailer: mailer, log: log}
}

func (n *Notifier) send(ctx context.Context, to, subject, tmpl string, data any) {
	if n == nil || n.mailer == nil || strings.TrimSpace(to) == "" {
		return
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, tmpl, data); err != nil {
		n.log.WithContext(ctx).WithError(err).WithField("template", tmpl).Error("render email")
		return
	}
	if err := n.mailer.Send(ctx, Message{To: to, Subject: subject, HTML: buf.String()}); err != nil {
		n.log.WithContext(ctx).WithError(err).WithField("template", tmpl).Warn("send email failed")
	}
}

// FormatAmount renders cents as a euro amount, e.g. "60,00 €".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	symbol := strings.ToUpper(currency)
	if symbol == "EUR" || symbol == "" {
		symbol = "€"
	}
	return fmt.Sprintf("%s%d,%02d %s", sign, cents/100, cents%100, symbol)
}

// Invitation is sent to the invitee with the one-time acceptance link.
type Invitation struct {
	To              string
	InviterName     string
	BeneficiaryName string
	Role            string
	AcceptURL       string
	ExpiresAt       time.Time
}

func (n *Notifier) InvitationSent(ctx context.Context, inv Invitation) {
	n.send(ctx, inv.To, "Invitation FL²M", "invitation.html", inv)
}

// AppointmentConfirmed is sent to the client once payment succeeds.
type AppointmentConfirmed struct {
	To               string
	ClientName       string
	PractitionerName string
	StartTime        time.Time
	Amount           string
}

func (n *Notifier) AppointmentConfirmed(ctx context.Context, msg AppointmentConfirmed) {
	n.send(ctx, msg.To, "Votre séance est confirmée", "appointment_confirmed.html", msg)
}

// AppointmentCancelled is sent to each participant of a cancelled session.
type AppointmentCancelled struct {
	To        string
	Name      string
	StartTime time.Time
	Reason    string
	Refunded  bool
}

func (n *Notifier) AppointmentCancelled(ctx context.Context, msg AppointmentCancelled) {
	n.send(ctx, msg.To, "Séance annulée", "appointment_cancelled.html", msg)
}

// InvoiceIssued is sent to the client when an invoice number is allocated.
type InvoiceIssued struct {
	To         string
	ClientName string
	Number     string
	Amount     string
}

func (n *Notifier) InvoiceIssued(ctx context.Context, msg InvoiceIssued) {
	n.send(ctx, msg.To, "Facture "+msg.Number, "invoice_issued.html", msg)
}
