package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrTransportDown is returned by a broadcaster that cannot reach its backend.
var ErrTransportDown = errors.New("messaging: transport down")

// DeliverFunc receives every event published on any topic.
type DeliverFunc func(topic string, ev Event)

// Broadcaster fans events out to every API instance. Events published in
// sequence from one instance are delivered in that sequence.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(ctx context.Context, deliver DeliverFunc) (stop func(), err error)
	Ping(ctx context.Context) error
}

// MemoryBroadcaster delivers synchronously inside one process.
type MemoryBroadcaster struct {
	mu       sync.RWMutex
	handlers map[int]DeliverFunc
	next     int
	down     bool
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{handlers: map[int]DeliverFunc{}}
}

// SetDown simulates an unreachable transport.
func (b *MemoryBroadcaster) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *MemoryBroadcaster) Publish(_ context.Context, topic string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.down {
		return ErrTransportDown
	}
	for _, h := range b.handlers {
		h(topic, ev)
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(_ context.Context, deliver DeliverFunc) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = deliver
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}, nil
}

func (b *MemoryBroadcaster) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.down {
		return ErrTransportDown
	}
	return nil
}

const redisPrefix = "chat:"

// RedisBroadcaster uses PUBLISH/PSUBSCRIBE on chat:<topic> channels.
type RedisBroadcaster struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroadcaster(client *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, logger: logger}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisPrefix+topic, payload).Err()
}

// Subscribe blocks until the pattern subscription is confirmed and then
// delivers from a single goroutine, keeping channel order.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, deliver DeliverFunc) (func(), error) {
	ps := b.client.PSubscribe(ctx, redisPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping malformed broadcast", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			deliver(strings.TrimPrefix(msg.Channel, redisPrefix), ev)
		}
	}()
	return func() {
		_ = ps.Close()
		<-done
	}, nil
}

func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrTransportDown, err)
	}
	return nil
}
