// Package messaging delivers chat messages between the two parties of a
// conversation. Messages are persisted first and then broadcast; every
// message carries its per-conversation Seq so clients can order and dedupe.
//
// Within one process a per-conversation lock keeps publish order equal to
// Seq order. Across instances sharing the Redis broadcaster, Seq assignment
// is still serialized by the conversation row lock, but two instances may
// publish out of Seq order; View sorts by Seq, so clients converge.
package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/metrics"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

const maxMessageLen = 4000

// Gateway is the messaging service. Start must be called before clients
// receive broadcasts.
type Gateway struct {
	store   store.Store
	hub     *Hub
	bus     Broadcaster
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	locks   keyedMutex

	stopMu sync.Mutex
	stop   func()
}

var _ lifecycle.HireNotifier = (*Gateway)(nil)

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(st store.Store, bus Broadcaster, opts ...Option) *Gateway {
	g := &Gateway{
		store:  st,
		bus:    bus,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	g.hub = NewHub(g.logger)
	return g
}

// Start subscribes the local hub to the broadcaster.
func (g *Gateway) Start(ctx context.Context) error {
	stop, err := g.bus.Subscribe(ctx, g.hub.Deliver)
	if err != nil {
		return err
	}
	g.stopMu.Lock()
	g.stop = stop
	g.stopMu.Unlock()
	return nil
}

// Close stops receiving broadcasts.
func (g *Gateway) Close() {
	g.stopMu.Lock()
	defer g.stopMu.Unlock()
	if g.stop != nil {
		g.stop()
		g.stop = nil
	}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// Connect registers a connection for u. The client receives updates about
// u's conversations until Disconnect.
func (g *Gateway) Connect(u model.User) *Client {
	c := newClient(u)
	g.hub.join(userTopic(u.ID), c)
	g.metrics.ClientConnected()
	g.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", u.ID))
	return c
}

// Disconnect leaves every topic and closes the client's event stream.
func (g *Gateway) Disconnect(c *Client) {
	g.hub.leaveAll(c)
	c.close()
	g.metrics.ClientDisconnected()
	g.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.User.ID))
}

// OpenConversation returns the conversation of the tuition's student and
// the tutor among caller and counterpartID, creating it when absent. The
// tutor must have applied to the tuition.
func (g *Gateway) OpenConversation(ctx context.Context, caller model.User, counterpartID, tuitionID string) (model.Conversation, error) {
	const op = "messaging.OpenConversation"
	t, err := g.store.GetTuition(ctx, tuitionID)
	if err != nil {
		return model.Conversation{}, err
	}
	var tutorID string
	switch {
	case caller.ID == t.StudentID:
		tutorID = counterpartID
	case counterpartID == t.StudentID:
		tutorID = caller.ID
	default:
		return model.Conversation{}, apperr.New(op, apperr.ErrUnauthorized, "conversations are between the tuition's student and a tutor")
	}
	if tutorID == "" || tutorID == t.StudentID {
		return model.Conversation{}, apperr.Validation(op, apperr.FieldError{Field: "participant", Error: "is invalid"})
	}

	var (
		conv    model.Conversation
		created bool
	)
	err = g.store.InTx(ctx, func(tx store.Tx) error {
		if _, ok, err := tx.FindApplication(ctx, t.ID, tutorID); err != nil {
			return err
		} else if !ok {
			return apperr.New(op, apperr.ErrPreconditionFailed, "the tutor has not applied to this tuition")
		}
		var err error
		conv, created, err = tx.EnsureConversation(ctx, model.Conversation{
			TuitionID: t.ID,
			StudentID: t.StudentID,
			TutorID:   tutorID,
			CreatedAt: g.now(),
		})
		return err
	})
	if err != nil {
		return model.Conversation{}, err
	}

	if created {
		g.logger.Info("conversation opened",
			zap.String("conversation_id", conv.ID),
			zap.String("tuition_id", conv.TuitionID),
			zap.String("by", caller.ID),
		)
		g.announce(ctx, conv)
	}
	return conv, nil
}

// HireCommitted pushes the hire's conversation to both parties.
func (g *Gateway) HireCommitted(ctx context.Context, h lifecycle.Hire) {
	g.announce(ctx, h.Conversation)
}

// announce publishes conv to the user topics of both participants.
func (g *Gateway) announce(ctx context.Context, conv model.Conversation) {
	ev, err := NewEvent(EventConversationUpdated, conv)
	if err != nil {
		return
	}
	for _, uid := range []string{conv.StudentID, conv.TutorID} {
		if err := g.bus.Publish(ctx, userTopic(uid), ev); err != nil {
			g.logger.Warn("conversation update not broadcast",
				zap.String("conversation_id", conv.ID),
				zap.String("user_id", uid),
				zap.Error(err),
			)
		}
	}
}

// participantConversation loads a conversation the user takes part in.
func (g *Gateway) participantConversation(ctx context.Context, op string, u model.User, conversationID string) (model.Conversation, error) {
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	if !conv.HasParticipant(u.ID) {
		return model.Conversation{}, apperr.New(op, apperr.ErrUnauthorized, "not a participant of this conversation")
	}
	return conv, nil
}

// JoinChannel subscribes c to future messages of the conversation. History
// is not replayed; fetch it with History.
func (g *Gateway) JoinChannel(ctx context.Context, c *Client, conversationID string) error {
	if _, err := g.participantConversation(ctx, "messaging.JoinChannel", c.User, conversationID); err != nil {
		return err
	}
	g.hub.join(conversationTopic(conversationID), c)
	if ev, err := NewEvent(EventJoined, ConversationRef{ConversationID: conversationID}); err == nil {
		c.enqueue(ev)
	}
	return nil
}

// Leave unsubscribes c from the conversation.
func (g *Gateway) Leave(c *Client, conversationID string) {
	g.hub.leave(conversationTopic(conversationID), c)
}

// SendMessage appends a message and broadcasts it to the conversation.
// It fails fast with ErrUnavailable when the broadcast transport is down,
// before anything is written.
func (g *Gateway) SendMessage(ctx context.Context, sender model.User, conversationID, text string) (model.Message, error) {
	const op = "messaging.SendMessage"
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, apperr.New(op, apperr.ErrEmptyMessage, "message is empty")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return model.Message{}, apperr.Validation(op, apperr.FieldError{Field: "text", Error: "is too long"})
	}
	if err := g.bus.Ping(ctx); err != nil {
		return model.Message{}, apperr.Wrap(op, apperr.ErrUnavailable, "messaging transport unavailable", err)
	}

	// append and publish under one lock so local broadcast order is seq order
	unlock := g.locks.lock(conversationID)
	defer unlock()

	var (
		msg  model.Message
		conv model.Conversation
	)
	err := g.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		conv, err = tx.LockConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(sender.ID) {
			return apperr.New(op, apperr.ErrUnauthorized, "not a participant of this conversation")
		}
		msg = model.Message{
			ConversationID: conv.ID,
			SenderID:       sender.ID,
			SenderName:     sender.Name,
			Text:           text,
			CreatedAt:      g.now(),
		}
		if err := tx.InsertMessage(ctx, &msg); err != nil {
			return err
		}
		at := msg.CreatedAt
		conv.LastMessage = text
		conv.LastMessageAt = &at
		other := conv.Counterpart(sender.ID)
		conv.SetUnread(other, conv.UnreadFor(other)+1)
		return tx.UpdateConversation(ctx, conv)
	})
	if err != nil {
		return model.Message{}, err
	}

	g.metrics.MessageSent()
	g.logger.Info("message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.Int64("seq", msg.Seq),
		zap.String("sender_id", sender.ID),
	)

	if ev, err := NewEvent(EventReceiveMessage, msg); err == nil {
		if err := g.bus.Publish(ctx, conversationTopic(conv.ID), ev); err != nil {
			g.logger.Warn("message persisted but not broadcast", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	g.announce(ctx, conv)
	return msg, nil
}

// MarkRead resets the reader's unread counter and flags the other side's
// messages as read.
func (g *Gateway) MarkRead(ctx context.Context, reader model.User, conversationID string) (model.Conversation, error) {
	const op = "messaging.MarkRead"
	unlock := g.locks.lock(conversationID)
	defer unlock()

	var conv model.Conversation
	err := g.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		conv, err = tx.LockConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(reader.ID) {
			return apperr.New(op, apperr.ErrUnauthorized, "not a participant of this conversation")
		}
		if err := tx.MarkMessagesRead(ctx, conv.ID, reader.ID); err != nil {
			return err
		}
		conv.SetUnread(reader.ID, 0)
		return tx.UpdateConversation(ctx, conv)
	})
	if err != nil {
		return model.Conversation{}, err
	}

	if ev, err := NewEvent(EventConversationUpdated, conv); err == nil {
		if err := g.bus.Publish(ctx, userTopic(reader.ID), ev); err != nil {
			g.logger.Warn("read state not broadcast", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	return conv, nil
}

// History returns the conversation's messages in append order.
func (g *Gateway) History(ctx context.Context, reader model.User, conversationID string) ([]model.Message, error) {
	if _, err := g.participantConversation(ctx, "messaging.History", reader, conversationID); err != nil {
		return nil, err
	}
	return g.store.ListMessages(ctx, conversationID)
}

// ListConversations returns the user's conversations, most recent first.
func (g *Gateway) ListConversations(ctx context.Context, u model.User) ([]model.Conversation, error) {
	return g.store.ListConversations(ctx, u.ID)
}

// Reconcile recomputes the last message cache and the unread counters of a
// conversation from its message log.
func (g *Gateway) Reconcile(ctx context.Context, conversationID string) (model.Conversation, error) {
	unlock := g.locks.lock(conversationID)
	defer unlock()

	var conv model.Conversation
	err := g.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		conv, err = tx.LockConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		msgs, err := tx.ListMessages(ctx, conversationID)
		if err != nil {
			return err
		}
		conv.LastMessage = ""
		conv.LastMessageAt = nil
		conv.StudentUnread = 0
		conv.TutorUnread = 0
		for _, m := range msgs {
			if !m.Read {
				other := conv.Counterpart(m.SenderID)
				conv.SetUnread(other, conv.UnreadFor(other)+1)
			}
		}
		if n := len(msgs); n > 0 {
			at := msgs[n-1].CreatedAt
			conv.LastMessage = msgs[n-1].Text
			conv.LastMessageAt = &at
		}
		return tx.UpdateConversation(ctx, conv)
	})
	if err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

// Ping reports whether the broadcast transport is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.bus.Ping(ctx); err != nil {
		return errors.Join(apperr.ErrUnavailable, err)
	}
	return nil
}

// keyedMutex serializes work per key and forgets idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyLock{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
