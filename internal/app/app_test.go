package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tutormarket/internal/config"
	"tutormarket/internal/model"
	"tutormarket/internal/queue"
)

func memoryConfig() config.App {
	return config.App{
		Env:              "dev",
		StoreBackend:     "memory",
		QueueBackend:     "memory",
		BroadcastBackend: "memory",
		PaymentBackend:   "fake",
		PaymentCurrency:  "bdt",
	}
}

func TestBuildMemoryBackends(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.IsType(t, &queue.InMemory{}, a.Queue)
	require.NoError(t, a.Store.Ping(ctx))

	student := model.User{ID: "stu@x.com", Role: model.RoleStudent}
	_, err = a.Engine.SyncUser(ctx, student)
	require.NoError(t, err)
	got, err := a.Store.GetUser(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleStudent, got.Role)
	assert.NotNil(t, a.Worker())
}

func TestBuildRejectsBadBackends(t *testing.T) {
	ctx := context.Background()
	for name, mutate := range map[string]func(*config.App){
		"store":        func(c *config.App) { c.StoreBackend = "sqlite" },
		"queue":        func(c *config.App) { c.QueueBackend = "kafka" },
		"payment":      func(c *config.App) { c.PaymentBackend = "cash" },
		"stripe key":   func(c *config.App) { c.PaymentBackend = "stripe" },
		"broadcasting": func(c *config.App) { c.BroadcastBackend = "carrier-pigeon" },
		"prod fake": func(c *config.App) {
			c.Env = "production"
			c.JWTSigningKey = "private"
		},
		"prod dev key": func(c *config.App) {
			c.Env = "production"
			c.JWTSigningKey = config.DevSigningKey
			c.PaymentBackend = "stripe"
			c.StripeSecretKey = "sk_test_x"
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := memoryConfig()
			mutate(&cfg)
			_, err := Build(ctx, cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}
}
