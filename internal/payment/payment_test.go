package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeIntentLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewFake(false)

	intent, err := g.CreateIntent(ctx, 5000, "bdt", map[string]string{"application_id": "a1"})
	require.NoError(t, err)
	assert.NotEmpty(t, intent.Ref)
	assert.NotEmpty(t, intent.ClientSecret)
	assert.Equal(t, int64(5000), intent.Amount)

	out, err := g.Lookup(ctx, intent.Ref)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.Status)

	g.Settle(intent.Ref, StatusSucceeded)
	out, err = g.Lookup(ctx, intent.Ref)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, int64(5000), out.Amount)
}

func TestFakeAutoSucceed(t *testing.T) {
	g := NewFake(true)
	intent, err := g.CreateIntent(context.Background(), 100, "bdt", nil)
	require.NoError(t, err)

	out, err := g.Lookup(context.Background(), intent.Ref)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, out.Status)
}

func TestFakeUnknownAndFailure(t *testing.T) {
	g := NewFake(false)
	_, err := g.Lookup(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrUnknownIntent)

	down := errors.New("gateway down")
	g.Fail(down)
	_, err = g.CreateIntent(context.Background(), 1, "bdt", nil)
	assert.ErrorIs(t, err, down)
}

func TestStripeStatusMapping(t *testing.T) {
	assert.Equal(t, StatusSucceeded, stripeStatus("succeeded"))
	assert.Equal(t, StatusFailed, stripeStatus("canceled"))
	assert.Equal(t, StatusPending, stripeStatus("requires_payment_method"))
	assert.Equal(t, int64(500000), minor(5000))
}
