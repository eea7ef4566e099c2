package stripeconnect

import (
	"errors"

	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid stripe signature")

// Event is a verified webhook event. Data holds the raw JSON of the event's
// data.object.
type Event struct {
	ID      string
	Type    string
	Account string
	Data    []byte
}

// ParseEvent verifies the Stripe-Signature header against the signing secret
// and decodes the envelope.
func (c *Client) ParseEvent(payload []byte, signature string) (Event, error) {
	return parseEvent(payload, signature, c.webhookSecret)
}

func parseEvent(payload []byte, signature, secret string) (Event, error) {
	if secret == "" || signature == "" {
		return Event{}, ErrInvalidSignature
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	out := Event{ID: evt.ID, Type: string(evt.Type), Account: evt.Account}
	if evt.Data != nil {
		out.Data = evt.Data.Raw
	}
	return out, nil
}
