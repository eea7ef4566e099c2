// Package stripeconnect wraps the Stripe API calls the platform makes:
// Checkout for client payments, Connect Express accounts for practitioners,
// and transfers to those accounts.
package stripeconnect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CheckoutRequest describes a hosted Checkout session for one appointment.
type CheckoutRequest struct {
	AppointmentID string
	TransactionID string
	ProductName   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	// IdempotencyKey makes repeated requests for the same transaction return
	// the same session.
	IdempotencyKey string
}

// CheckoutSession is the created session.
type CheckoutSession struct {
	ID  string
	URL string
}

// TransferRequest moves funds from the platform balance to a connected
// account.
type TransferRequest struct {
	AmountCents    int64
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
	Metadata       map[string]string
}

// Transfer is the created transfer.
type Transfer struct {
	ID       string
	Amount   int64
	Reversed bool
}

// AccountStatus summarises a connected account's capabilities.
type AccountStatus struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Gateway is the subset of Stripe used by the platform.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	CreateExpressAccount(ctx context.Context, email, country string) (string, error)
	GetAccount(ctx context.Context, accountID string) (AccountStatus, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	Refund(ctx context.Context, paymentIntentID, idempotencyKey string) error
	ParseEvent(payload []byte, signature string) (Event, error)
}

// Client implements Gateway with stripe-go.
type Client struct {
	api           *client.API
	webhookSecret string
}

var _ Gateway = (*Client)(nil)

// New builds a Client for the given secret key and webhook signing secret.
func New(secretKey, webhookSecret string) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{api: api, webhookSecret: webhookSecret}
}

func params(ctx context.Context, idempotencyKey string) stripe.Params {
	p := stripe.Params{Context: ctx}
	if idempotencyKey != "" {
		p.IdempotencyKey = stripe.String(idempotencyKey)
	}
	return p
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	p := &stripe.CheckoutSessionParams{
		Params:            params(ctx, req.IdempotencyKey),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.TransactionID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferGroup: stripe.String("appointment-" + req.AppointmentID),
		},
	}
	if req.CustomerEmail != "" {
		p.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	p.AddMetadata("appointment_id", req.AppointmentID)
	p.AddMetadata("transaction_id", req.TransactionID)
	p.PaymentIntentData.AddMetadata("transaction_id", req.TransactionID)

	sess, err := c.api.CheckoutSessions.New(p)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	p := &stripe.TransferParams{
		Params:      params(ctx, req.IdempotencyKey),
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	if req.TransferGroup != "" {
		p.TransferGroup = stripe.String(req.TransferGroup)
	}
	for k, v := range req.Metadata {
		p.AddMetadata(k, v)
	}

	tr, err := c.api.Transfers.New(p)
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{ID: tr.ID, Amount: tr.Amount, Reversed: tr.Reversed}, nil
}

func (c *Client) CreateExpressAccount(ctx context.Context, email, country string) (string, error) {
	p := &stripe.AccountParams{
		Params:  params(ctx, ""),
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(country),
		Email:   stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	acct, err := c.api.Accounts.New(p)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (AccountStatus, error) {
	acct, err := c.api.Accounts.GetByID(accountID, &stripe.AccountParams{Params: params(ctx, "")})
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	link, err := c.api.AccountLinks.New(&stripe.AccountLinkParams{
		Params:     params(ctx, ""),
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	})
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func (c *Client) Refund(ctx context.Context, paymentIntentID, idempotencyKey string) error {
	_, err := c.api.Refunds.New(&stripe.RefundParams{
		Params:        params(ctx, idempotencyKey),
		PaymentIntent: stripe.String(paymentIntentID),
	})
	return err
}

// Retryable reports whether a Stripe error is transient and the same request
// may be sent again with the same idempotency key.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		// network failures never reached Stripe
		return true
	}
	switch {
	case serr.HTTPStatusCode == http.StatusTooManyRequests,
		serr.HTTPStatusCode >= http.StatusInternalServerError,
		serr.HTTPStatusCode == http.StatusConflict:
		return true
	case serr.Type == stripe.ErrorTypeAPI:
		return true
	}
	return false
}

// Describe renders an error for storage on the transaction row.
func Describe(err error) string {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		code := string(serr.Code)
		if code == "" {
			code = string(serr.Type)
		}
		return fmt.Sprintf("stripe %s (%s): %s", code, strconv.Itoa(serr.HTTPStatusCode), serr.Msg)
	}
	return err.Error()
}
