package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fl2m/platform/internal/app/domain/appointment"
	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/domain/draw"
	"github.com/fl2m/platform/internal/app/domain/invoice"
	"github.com/fl2m/platform/internal/app/domain/payment"
	"github.com/fl2m/platform/internal/app/domain/profile"
	"github.com/fl2m/platform/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu sync.RWMutex

	profiles      map[string]profile.Profile
	practitioners map[string]profile.Practitioner
	contracts     map[string]contract.Contract
	beneficiaries map[string]beneficiary.Beneficiary
	grants        map[string]map[string]beneficiary.AccessGrant // beneficiary -> profile -> grant
	invitations   map[string]beneficiary.Invitation
	documents     map[string]beneficiary.Document
	appointments  map[string]appointment.Appointment
	transactions  map[string]payment.Transaction
	events        map[string]payment.WebhookEvent
	invoices      map[string]invoice.Invoice
	invoiceSeq    map[int]int64
	messages      map[string]draw.Message
	history       map[string]draw.HistoryEntry // identity|date -> entry
}

var _ storage.ProfileStore = (*Store)(nil)
var _ storage.ContractStore = (*Store)(nil)
var _ storage.BeneficiaryStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.DrawStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		profiles:      make(map[string]profile.Profile),
		practitioners: make(map[string]profile.Practitioner),
		contracts:     make(map[string]contract.Contract),
		beneficiaries: make(map[string]beneficiary.Beneficiary),
		grants:        make(map[string]map[string]beneficiary.AccessGrant),
		invitations:   make(map[string]beneficiary.Invitation),
		documents:     make(map[string]beneficiary.Document),
		appointments:  make(map[string]appointment.Appointment),
		transactions:  make(map[string]payment.Transaction),
		events:        make(map[string]payment.WebhookEvent),
		invoices:      make(map[string]invoice.Invoice),
		invoiceSeq:    make(map[int]int64),
		messages:      make(map[string]draw.Message),
		history:       make(map[string]draw.HistoryEntry),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, storage.ErrConflict)...)
}

func now() time.Time {
	return time.Now().UTC()
}

// ProfileStore implementation -------------------------------------------------

func (s *Store) CreateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.profiles[p.ID]; exists {
		return profile.Profile{}, conflict("profile %s already exists", p.ID)
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[p.ID]
	if !ok {
		return profile.Profile{}, notFound("profile", p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now()
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return profile.Profile{}, notFound("profile", id)
	}
	return p, nil
}

func (s *Store) CreatePractitioner(_ context.Context, p profile.Practitioner) (profile.Practitioner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.practitioners {
		if existing.ProfileID == p.ProfileID {
			return profile.Practitioner{}, conflict("profile %s is already a practitioner", p.ProfileID)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Specialties = cloneStrings(p.Specialties)
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	s.practitioners[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePractitioner(_ context.Context, p profile.Practitioner) (profile.Practitioner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.practitioners[p.ID]
	if !ok {
		return profile.Practitioner{}, notFound("practitioner", p.ID)
	}
	p.ProfileID = existing.ProfileID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now()
	p.Specialties = cloneStrings(p.Specialties)
	s.practitioners[p.ID] = p
	return p, nil
}

func (s *Store) GetPractitioner(_ context.Context, id string) (profile.Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.practitioners[id]
	if !ok {
		return profile.Practitioner{}, notFound("practitioner", id)
	}
	p.Specialties = cloneStrings(p.Specialties)
	return p, nil
}

func (s *Store) GetPractitionerByProfile(_ context.Context, profileID string) (profile.Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.practitioners {
		if p.ProfileID == profileID {
			p.Specialties = cloneStrings(p.Specialties)
			return p, nil
		}
	}
	return profile.Practitioner{}, notFound("practitioner for profile", profileID)
}

func (s *Store) GetPractitionerByStripeAccount(_ context.Context, accountID string) (profile.Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.practitioners {
		if accountID != "" && p.StripeAccountID == accountID {
			p.Specialties = cloneStrings(p.Specialties)
			return p, nil
		}
	}
	return profile.Practitioner{}, notFound("practitioner for account", accountID)
}

func (s *Store) ListPractitioners(_ context.Context, activeOnly bool) ([]profile.Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]profile.Practitioner, 0, len(s.practitioners))
	for _, p := range s.practitioners {
		if activeOnly && !p.Active {
			continue
		}
		p.Specialties = cloneStrings(p.Specialties)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out, nil
}

// ContractStore implementation ------------------------------------------------

func (s *Store) CreateContract(_ context.Context, c contract.Contract) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Status == contract.StatusActive {
		for _, existing := range s.contracts {
			if existing.PractitionerID == c.PractitionerID && existing.Status == contract.StatusActive {
				return contract.Contract{}, conflict("practitioner %s already has an active contract", c.PractitionerID)
			}
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	s.contracts[c.ID] = c
	return c, nil
}

func (s *Store) UpdateContract(_ context.Context, c contract.Contract) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.contracts[c.ID]
	if !ok {
		return contract.Contract{}, notFound("contract", c.ID)
	}
	if c.Status == contract.StatusActive && existing.Status != contract.StatusActive {
		for id, other := range s.contracts {
			if id != c.ID && other.PractitionerID == c.PractitionerID && other.Status == contract.StatusActive {
				return contract.Contract{}, conflict("practitioner %s already has an active contract", c.PractitionerID)
			}
		}
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = now()
	s.contracts[c.ID] = c
	return c, nil
}

func (s *Store) GetContract(_ context.Context, id string) (contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return contract.Contract{}, notFound("contract", id)
	}
	return c, nil
}

func (s *Store) ListContracts(_ context.Context, practitionerID string) ([]contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contract.Contract
	for _, c := range s.contracts {
		if c.PractitionerID == practitionerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (s *Store) GetActiveContract(_ context.Context, practitionerID string) (contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contracts {
		if c.PractitionerID == practitionerID && c.Status == contract.StatusActive {
			return c, nil
		}
	}
	return contract.Contract{}, notFound("active contract for practitioner", practitionerID)
}

func (s *Store) ListDueContracts(_ context.Context, asOf time.Time) ([]contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contract.Contract
	for _, c := range s.contracts {
		if c.Due(asOf) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *Store) ActivateContract(_ context.Context, id string, asOf time.Time) (contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return contract.Contract{}, notFound("contract", id)
	}
	if c.Status != contract.StatusPending {
		return contract.Contract{}, conflict("contract %s is %s", id, c.Status)
	}

	ts := now()
	end := contract.DateOf(asOf)
	for otherID, other := range s.contracts {
		if other.PractitionerID == c.PractitionerID && other.Status == contract.StatusActive {
			other.Status = contract.StatusEnded
			other.EndDate = &end
			other.UpdatedAt = ts
			s.contracts[otherID] = other
		}
	}
	c.Status = contract.StatusActive
	c.UpdatedAt = ts
	s.contracts[id] = c
	return c, nil
}

// BeneficiaryStore implementation ---------------------------------------------

func (s *Store) CreateBeneficiary(_ context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.LinkedProfileID != nil {
		for _, existing := range s.beneficiaries {
			if existing.LinkedProfileID != nil && *existing.LinkedProfileID == *b.LinkedProfileID {
				return beneficiary.Beneficiary{}, conflict("profile %s already has a self beneficiary", *b.LinkedProfileID)
			}
		}
	}
	b.CreatedAt = now()
	b.UpdatedAt = b.CreatedAt
	s.beneficiaries[b.ID] = b
	s.grants[b.ID] = map[string]beneficiary.AccessGrant{
		b.OwnerID: {
			BeneficiaryID: b.ID,
			ProfileID:     b.OwnerID,
			Role:          beneficiary.RoleOwner,
			GrantedBy:     b.OwnerID,
			CreatedAt:     b.CreatedAt,
		},
	}
	return b, nil
}

func (s *Store) UpdateBeneficiary(_ context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.beneficiaries[b.ID]
	if !ok {
		return beneficiary.Beneficiary{}, notFound("beneficiary", b.ID)
	}
	b.OwnerID = existing.OwnerID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = now()
	s.beneficiaries[b.ID] = b
	return b, nil
}

func (s *Store) GetBeneficiary(_ context.Context, id string) (beneficiary.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.beneficiaries[id]
	if !ok {
		return beneficiary.Beneficiary{}, notFound("beneficiary", id)
	}
	return b, nil
}

func (s *Store) DeleteBeneficiary(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.beneficiaries[id]; !ok {
		return notFound("beneficiary", id)
	}
	delete(s.beneficiaries, id)
	delete(s.grants, id)
	for invID, inv := range s.invitations {
		if inv.BeneficiaryID == id {
			delete(s.invitations, invID)
		}
	}
	for docID, doc := range s.documents {
		if doc.BeneficiaryID == id {
			delete(s.documents, docID)
		}
	}
	return nil
}

func (s *Store) ListBeneficiariesForProfile(_ context.Context, profileID string) ([]beneficiary.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []beneficiary.Beneficiary
	for id, byProfile := range s.grants {
		if _, ok := byProfile[profileID]; ok {
			out = append(out, s.beneficiaries[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetGrant(_ context.Context, beneficiaryID, profileID string) (beneficiary.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[beneficiaryID][profileID]
	if !ok {
		return beneficiary.AccessGrant{}, notFound("grant", beneficiaryID+"/"+profileID)
	}
	return g, nil
}

func (s *Store) UpsertGrant(_ context.Context, g beneficiary.AccessGrant) (beneficiary.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.beneficiaries[g.BeneficiaryID]; !ok {
		return beneficiary.AccessGrant{}, notFound("beneficiary", g.BeneficiaryID)
	}
	byProfile := s.grants[g.BeneficiaryID]
	if existing, ok := byProfile[g.ProfileID]; ok {
		g.CreatedAt = existing.CreatedAt
	} else {
		g.CreatedAt = now()
	}
	byProfile[g.ProfileID] = g
	return g, nil
}

func (s *Store) DeleteGrant(_ context.Context, beneficiaryID, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[beneficiaryID][profileID]; !ok {
		return notFound("grant", beneficiaryID+"/"+profileID)
	}
	delete(s.grants[beneficiaryID], profileID)
	return nil
}

func (s *Store) ListGrants(_ context.Context, beneficiaryID string) ([]beneficiary.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]beneficiary.AccessGrant, 0, len(s.grants[beneficiaryID]))
	for _, g := range s.grants[beneficiaryID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateInvitation(_ context.Context, inv beneficiary.Invitation) (beneficiary.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.beneficiaries[inv.BeneficiaryID]; !ok {
		return beneficiary.Invitation{}, notFound("beneficiary", inv.BeneficiaryID)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = now()
	inv.TokenHash = append([]byte(nil), inv.TokenHash...)
	s.invitations[inv.ID] = inv
	return inv, nil
}

func (s *Store) UpdateInvitation(_ context.Context, inv beneficiary.Invitation) (beneficiary.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.invitations[inv.ID]
	if !ok {
		return beneficiary.Invitation{}, notFound("invitation", inv.ID)
	}
	inv.CreatedAt = existing.CreatedAt
	inv.TokenHash = existing.TokenHash
	s.invitations[inv.ID] = inv
	return inv, nil
}

func (s *Store) GetInvitation(_ context.Context, id string) (beneficiary.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[id]
	if !ok {
		return beneficiary.Invitation{}, notFound("invitation", id)
	}
	return inv, nil
}

func (s *Store) ListInvitations(_ context.Context, beneficiaryID string) ([]beneficiary.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []beneficiary.Invitation
	for _, inv := range s.invitations {
		if inv.BeneficiaryID == beneficiaryID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ExpireInvitations(_ context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inv := range s.invitations {
		if inv.Status == beneficiary.InvitationPending && inv.Expired(at) {
			inv.Status = beneficiary.InvitationExpired
			s.invitations[id] = inv
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateDocument(_ context.Context, d beneficiary.Document) (beneficiary.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.beneficiaries[d.BeneficiaryID]; !ok {
		return beneficiary.Document{}, notFound("beneficiary", d.BeneficiaryID)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = now()
	s.documents[d.ID] = d
	return d, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (beneficiary.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return beneficiary.Document{}, notFound("document", id)
	}
	return d, nil
}

func (s *Store) ListDocuments(_ context.Context, beneficiaryID string) ([]beneficiary.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []beneficiary.Document
	for _, d := range s.documents {
		if d.BeneficiaryID == beneficiaryID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return notFound("document", id)
	}
	delete(s.documents, id)
	return nil
}

// AppointmentStore implementation ---------------------------------------------

func (s *Store) CreateAppointment(_ context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.appointments {
		if existing.PractitionerID == a.PractitionerID && existing.Overlaps(a.StartTime, a.EndTime) {
			return appointment.Appointment{}, conflict("slot overlaps appointment %s", existing.ID)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = now()
	a.UpdatedAt = a.CreatedAt
	s.appointments[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAppointment(_ context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.appointments[a.ID]
	if !ok {
		return appointment.Appointment{}, notFound("appointment", a.ID)
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = now()
	s.appointments[a.ID] = a
	return a, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok {
		return appointment.Appointment{}, notFound("appointment", id)
	}
	return a, nil
}

func (s *Store) ListAppointmentsByClient(_ context.Context, clientID string) ([]appointment.Appointment, error) {
	return s.filterAppointments(func(a appointment.Appointment) bool { return a.ClientID == clientID }), nil
}

func (s *Store) ListAppointmentsByPractitioner(_ context.Context, practitionerID string) ([]appointment.Appointment, error) {
	return s.filterAppointments(func(a appointment.Appointment) bool { return a.PractitionerID == practitionerID }), nil
}

func (s *Store) ListConfirmedEndedBefore(_ context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	return s.filterAppointments(func(a appointment.Appointment) bool {
		return a.Status == appointment.StatusConfirmed && !a.EndTime.After(cutoff)
	}), nil
}

func (s *Store) filterAppointments(keep func(appointment.Appointment) bool) []appointment.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []appointment.Appointment
	for _, a := range s.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx payment.Transaction) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.transactions {
		if existing.AppointmentID == tx.AppointmentID {
			return payment.Transaction{}, conflict("appointment %s already has a transaction", tx.AppointmentID)
		}
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = now()
	tx.UpdatedAt = tx.CreatedAt
	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx payment.Transaction) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transactions[tx.ID]
	if !ok {
		return payment.Transaction{}, notFound("transaction", tx.ID)
	}
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = now()
	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return payment.Transaction{}, notFound("transaction", id)
	}
	return tx, nil
}

func (s *Store) findTransaction(kind, key string, match func(payment.Transaction) bool) (payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key != "" {
		for _, tx := range s.transactions {
			if match(tx) {
				return tx, nil
			}
		}
	}
	return payment.Transaction{}, notFound("transaction for "+kind, key)
}

func (s *Store) GetTransactionByAppointment(_ context.Context, appointmentID string) (payment.Transaction, error) {
	return s.findTransaction("appointment", appointmentID, func(tx payment.Transaction) bool { return tx.AppointmentID == appointmentID })
}

func (s *Store) GetTransactionByCheckoutSession(_ context.Context, sessionID string) (payment.Transaction, error) {
	return s.findTransaction("checkout session", sessionID, func(tx payment.Transaction) bool { return tx.CheckoutSessionID == sessionID })
}

func (s *Store) GetTransactionByPaymentIntent(_ context.Context, paymentIntentID string) (payment.Transaction, error) {
	return s.findTransaction("payment intent", paymentIntentID, func(tx payment.Transaction) bool { return tx.PaymentIntentID == paymentIntentID })
}

func (s *Store) GetTransactionByTransfer(_ context.Context, transferID string) (payment.Transaction, error) {
	return s.findTransaction("transfer", transferID, func(tx payment.Transaction) bool { return tx.TransferID == transferID })
}

func (s *Store) ListDueTransfers(_ context.Context, at time.Time, limit int) ([]payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.Transaction
	for _, tx := range s.transactions {
		if tx.Due(at) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EligibleForTransferAt.Before(*out[j].EligibleForTransferAt) })
	return truncate(out, limit), nil
}

func (s *Store) ListStaleTransfers(_ context.Context, olderThan time.Time, limit int) ([]payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.Transaction
	for _, tx := range s.transactions {
		if tx.TransferStatus == payment.TransferProcessing && !tx.UpdatedAt.After(olderThan) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (s *Store) ClaimTransfer(_ context.Context, id string, from payment.TransferStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, notFound("transaction", id)
	}
	if tx.TransferStatus != from {
		return false, nil
	}
	tx.TransferStatus = payment.TransferProcessing
	tx.TransferAttempts++
	tx.UpdatedAt = at.UTC()
	s.transactions[id] = tx
	return true, nil
}

func (s *Store) FinishTransfer(_ context.Context, id string, out payment.TransferOutcome, at time.Time) (payment.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return payment.Transaction{}, false, notFound("transaction", id)
	}
	if tx.TransferStatus != payment.TransferProcessing {
		return tx, false, nil
	}
	tx.TransferStatus = out.Status
	tx.TransferError = out.Error
	tx.TransferAttempts = out.Attempts
	if out.TransferID != "" {
		tx.TransferID = out.TransferID
	}
	if out.TransferredAt != nil {
		tx.TransferredAt = out.TransferredAt
	}
	tx.UpdatedAt = at.UTC()
	s.transactions[id] = tx
	return tx, true, nil
}

func (s *Store) SwapTransferStatus(_ context.Context, id string, from, to payment.TransferStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, notFound("transaction", id)
	}
	if tx.TransferStatus != from {
		return false, nil
	}
	tx.TransferStatus = to
	tx.UpdatedAt = now()
	s.transactions[id] = tx
	return true, nil
}

func (s *Store) MarkRefunded(_ context.Context, id string) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return payment.Transaction{}, notFound("transaction", id)
	}
	tx.Status = payment.StatusRefunded
	switch tx.TransferStatus {
	case payment.TransferProcessing, payment.TransferCompleted, payment.TransferReversed:
	default:
		tx.TransferStatus = payment.TransferCancelled
	}
	tx.UpdatedAt = now()
	s.transactions[id] = tx
	return tx, nil
}

func (s *Store) RecordWebhookEvent(_ context.Context, evt payment.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.events[evt.ID]; exists && existing.ProcessedAt != nil && existing.Error == "" {
		return false, nil
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = now()
	}
	s.events[evt.ID] = evt
	return true, nil
}

func (s *Store) MarkWebhookEventProcessed(_ context.Context, id string, processedAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[id]
	if !ok {
		return notFound("webhook event", id)
	}
	evt.ProcessedAt = &processedAt
	evt.Error = errMsg
	s.events[id] = evt
	return nil
}

// WebhookEvent returns a recorded event; used by tests.
func (s *Store) WebhookEvent(id string) (payment.WebhookEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[id]
	return evt, ok
}

// InvoiceStore implementation -------------------------------------------------

func (s *Store) NextInvoiceSequence(_ context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invoiceSeq[year]++
	return s.invoiceSeq[year], nil
}

func (s *Store) CreateInvoice(_ context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invoices {
		if existing.TransactionID == inv.TransactionID {
			return invoice.Invoice{}, conflict("transaction %s already invoiced", inv.TransactionID)
		}
		if existing.Number == inv.Number {
			return invoice.Invoice{}, conflict("invoice number %s already used", inv.Number)
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = now()
	}
	s.invoices[inv.ID] = inv
	return inv, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, notFound("invoice", id)
	}
	return inv, nil
}

func (s *Store) GetInvoiceByTransaction(_ context.Context, transactionID string) (invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.TransactionID == transactionID {
			return inv, nil
		}
	}
	return invoice.Invoice{}, notFound("invoice for transaction", transactionID)
}

func (s *Store) ListInvoicesForProfile(_ context.Context, clientID, practitionerID string) ([]invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []invoice.Invoice
	for _, inv := range s.invoices {
		if (clientID != "" && inv.ClientID == clientID) || (practitionerID != "" && inv.PractitionerID == practitionerID) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

// DrawStore implementation ----------------------------------------------------

func (s *Store) UpsertDrawMessage(_ context.Context, m draw.Message) (draw.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if existing, ok := s.messages[m.ID]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now()
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *Store) GetDrawMessage(_ context.Context, id string) (draw.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return draw.Message{}, notFound("draw message", id)
	}
	return m, nil
}

func (s *Store) ListDrawMessages(_ context.Context, number int) ([]draw.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []draw.Message
	for _, m := range s.messages {
		if m.Number == number {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func historyKey(identity string, day time.Time) string {
	return identity + "|" + draw.DateKey(day)
}

func (s *Store) GetDrawHistory(_ context.Context, identity string, day time.Time) (draw.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.history[historyKey(identity, day)]
	if !ok {
		return draw.HistoryEntry{}, notFound("draw history", historyKey(identity, day))
	}
	return e, nil
}

func (s *Store) CreateDrawHistory(_ context.Context, e draw.HistoryEntry) (draw.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(e.Identity, e.DrawDate)
	if _, exists := s.history[key]; exists {
		return draw.HistoryEntry{}, conflict("draw already served for %s", key)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = now()
	s.history[key] = e
	return e, nil
}

func (s *Store) ListDrawHistory(_ context.Context, identity string, limit int) ([]draw.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []draw.HistoryEntry
	for _, e := range s.history {
		if e.Identity == identity {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DrawDate.After(out[j].DrawDate) })
	return truncate(out, limit), nil
}

// helpers ---------------------------------------------------------------------

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
