package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Stripe implements Gateway with PaymentIntents.
type Stripe struct {
	api *client.API
}

// NewStripe builds a gateway for the given secret key.
func NewStripe(secretKey string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api}
}

// minor converts whole units to the gateway's smallest unit.
func minor(amount int64) int64 { return amount * 100 }

func (s *Stripe) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minor(amount)),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret, Amount: amount, Currency: currency}, nil
}

func (s *Stripe) Lookup(ctx context.Context, ref string) (Outcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(ref, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return Outcome{}, ErrUnknownIntent
		}
		return Outcome{}, fmt.Errorf("get payment intent: %w", err)
	}
	return Outcome{
		Ref:      pi.ID,
		Status:   stripeStatus(pi.Status),
		Amount:   pi.Amount / 100,
		Currency: string(pi.Currency),
	}, nil
}

func stripeStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
