package stripeconnect

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Fake is an in-memory Gateway used by tests and by local runs without a
// Stripe key. Transfers honour idempotency keys the way Stripe does: a
// repeated key returns the original transfer.
type Fake struct {
	mu sync.Mutex

	WebhookSecret string

	// TransferErr, when set, is returned by CreateTransfer and cleared if
	// TransferErrOnce is true.
	TransferErr     error
	TransferErrOnce bool
	CheckoutErr     error
	RefundErr       error

	Accounts  map[string]AccountStatus
	Transfers []TransferRequest
	Refunds   []string
	Sessions  []CheckoutRequest

	byKey map[string]Transfer
	seq   int
}

var _ Gateway = (*Fake)(nil)

// NewFake creates a Fake with the given webhook secret.
func NewFake(webhookSecret string) *Fake {
	return &Fake{
		WebhookSecret: webhookSecret,
		Accounts:      make(map[string]AccountStatus),
		byKey:         make(map[string]Transfer),
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return prefix + strconv.Itoa(f.seq)
}

func (f *Fake) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CheckoutErr != nil {
		return CheckoutSession{}, f.CheckoutErr
	}
	f.Sessions = append(f.Sessions, req)
	id := f.nextID("cs_test_")
	return CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *Fake) CreateTransfer(_ context.Context, req TransferRequest) (Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		err := f.TransferErr
		if f.TransferErrOnce {
			f.TransferErr = nil
		}
		return Transfer{}, err
	}
	if tr, ok := f.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return tr, nil
	}
	f.Transfers = append(f.Transfers, req)
	tr := Transfer{ID: f.nextID("tr_test_"), Amount: req.AmountCents}
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = tr
	}
	return tr, nil
}

func (f *Fake) CreateExpressAccount(_ context.Context, email, country string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("acct_test_")
	f.Accounts[id] = AccountStatus{ID: id}
	return id, nil
}

func (f *Fake) GetAccount(_ context.Context, accountID string) (AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.Accounts[accountID]
	if !ok {
		return AccountStatus{}, fmt.Errorf("no such account: %s", accountID)
	}
	return acct, nil
}

func (f *Fake) CreateAccountLink(_ context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return "https://connect.stripe.test/setup/" + accountID, nil
}

func (f *Fake) Refund(_ context.Context, paymentIntentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return f.RefundErr
	}
	f.Refunds = append(f.Refunds, paymentIntentID)
	return nil
}

func (f *Fake) ParseEvent(payload []byte, signature string) (Event, error) {
	return parseEvent(payload, signature, f.WebhookSecret)
}

// TransferCount returns how many distinct transfers were created.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

// SignPayload builds a Stripe-Signature header for payload, for tests and the
// local webhook replay command.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
