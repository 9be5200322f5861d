// Package payment talks to the external payment gateway. The gateway settles
// funds; this package only creates intents and reads their outcome.
package payment

import (
	"context"
	"errors"
)

// Status is the settled state of an intent as reported by the gateway.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrUnknownIntent is returned by Lookup for references the gateway never issued.
var ErrUnknownIntent = errors.New("payment: unknown intent")

// Intent is a checkout started at the gateway. ClientSecret is handed to the
// browser to complete the card flow.
type Intent struct {
	Ref          string `json:"ref"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Outcome is the gateway's view of an intent.
type Outcome struct {
	Ref      string
	Status   Status
	Amount   int64
	Currency string
}

// Gateway is the narrow surface the lifecycle engine needs. Amounts are in
// whole currency units.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (Intent, error)
	Lookup(ctx context.Context, ref string) (Outcome, error)
}
