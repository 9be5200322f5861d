package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type confirm struct {
	ApplicationID string `json:"application_id"`
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	job, err := NewJob(TypeConfirmPayment, confirm{ApplicationID: "a1"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, job))
	assert.Equal(t, 1, q.Len())

	jobs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case got := <-jobs:
		assert.Equal(t, TypeConfirmPayment, got.Type)
		var c confirm
		require.NoError(t, got.Decode(&c))
		assert.Equal(t, "a1", c.ApplicationID)
	case <-time.After(time.Second):
		t.Fatal("no job")
	}

	cancel()
	_, open := <-jobs
	assert.False(t, open)
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Job{Type: TypeExpirePayments}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Job{Type: TypeExpirePayments}), context.DeadlineExceeded)
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	key := "tutormarket:test:" + time.Now().Format("150405.000000")
	defer client.Del(context.Background(), key)

	q := NewRedisQueue(client, key, nil)
	job, err := NewJob(TypeConfirmPayment, confirm{ApplicationID: "a2"})
	require.NoError(t, err)
	job.Attempt = 2
	require.NoError(t, q.Publish(ctx, job))

	jobs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case got := <-jobs:
		assert.Equal(t, 2, got.Attempt)
		var c confirm
		require.NoError(t, got.Decode(&c))
		assert.Equal(t, "a2", c.ApplicationID)
	case <-time.After(6 * time.Second):
		t.Fatal("no job")
	}
}
