// Package lifecycle owns every status transition of tuitions, applications,
// payments and sessions. Mutations run inside a store transaction that first
// locks the entity they change; hires lock the tuition before the
// application so two approvals for one tuition are serialized.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/metrics"
	"tutormarket/internal/model"
	"tutormarket/internal/payment"
	"tutormarket/internal/store"
)

// Hire describes a committed confirmPayment or approval.
type Hire struct {
	Tuition      model.Tuition      `json:"tuition"`
	Application  model.Application  `json:"application"`
	Payment      model.Payment      `json:"payment"`
	Conversation model.Conversation `json:"conversation"`
	// Approved is true when this call moved the application to approved.
	Approved bool `json:"approved"`
	// ConversationCreated is true when this call provisioned the conversation.
	ConversationCreated bool `json:"conversation_created"`
}

// HireNotifier is told about hires after they commit.
type HireNotifier interface {
	HireCommitted(ctx context.Context, h Hire)
}

// Retrier schedules a later re-run of ConfirmPayment for an application
// whose payment succeeded but whose commit did not.
type Retrier interface {
	RetryConfirm(ctx context.Context, applicationID, ref string) error
}

// Engine runs lifecycle commands against a store.
type Engine struct {
	store      store.Store
	gateway    payment.Gateway
	logger     *zap.Logger
	metrics    *metrics.Metrics
	notifiers  []HireNotifier
	retrier    Retrier
	now        func() time.Time
	pendingTTL time.Duration
	currency   string
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier adds a hire listener. Listeners run in registration order.
func WithNotifier(n HireNotifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

func WithRetrier(r Retrier) Option {
	return func(e *Engine) { e.retrier = r }
}

// WithPendingTTL sets how long a payment may stay pending before
// ExpireStalePayments marks it failed.
func WithPendingTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pendingTTL = d
		}
	}
}

func WithCurrency(c string) Option {
	return func(e *Engine) {
		if c != "" {
			e.currency = c
		}
	}
}

// New builds an engine. gateway may be nil, in which case checkout is
// unavailable and confirmations are not verified.
func New(st store.Store, gateway payment.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		gateway:    gateway,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		pendingTTL: 30 * time.Minute,
		currency:   "bdt",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}


func (e *Engine) notify(ctx context.Context, h Hire) {
	for _, n := range e.notifiers {
		n.HireCommitted(ctx, h)
	}
}

// scheduleRetry queues a confirm re-run when the failure was not a domain
// rejection. Background callers own their own retries.
func (e *Engine) scheduleRetry(ctx context.Context, caller model.User, applicationID, ref string, cause error) {
	if e.retrier == nil || caller.Role == model.RoleSystem {
		return
	}
	if kind := apperr.KindOf(cause); kind != nil && !errors.Is(kind, apperr.ErrUnavailable) {
		return
	}
	if err := e.retrier.RetryConfirm(ctx, applicationID, ref); err != nil {
		e.logger.Error("schedule confirm retry failed",
			zap.String("application_id", applicationID),
			zap.String("transaction_ref", ref),
			zap.Error(err),
		)
		return
	}
	e.logger.Warn("confirm payment failed, retry scheduled",
		zap.String("application_id", applicationID),
		zap.String("transaction_ref", ref),
		zap.Error(cause),
	)
}

func requireRole(op string, caller model.User, roles ...model.Role) error {
	for _, r := range roles {
		if caller.Role == r {
			return nil
		}
	}
	return apperr.New(op, apperr.ErrUnauthorized, "role "+string(caller.Role)+" may not do this")
}

// actsFor reports whether caller may act on behalf of ownerID.
func actsFor(caller model.User, ownerID string) bool {
	return caller.ID == ownerID || caller.Role == model.RoleAdmin || caller.Role == model.RoleSystem
}

// lockPair locks the tuition of applicationID and then the application.
func lockPair(ctx context.Context, tx store.Tx, applicationID string) (model.Tuition, model.Application, error) {
	a, err := tx.GetApplication(ctx, applicationID)
	if err != nil {
		return model.Tuition{}, model.Application{}, err
	}
	t, err := tx.LockTuition(ctx, a.TuitionID)
	if err != nil {
		return model.Tuition{}, model.Application{}, err
	}
	a, err = tx.LockApplication(ctx, applicationID)
	if err != nil {
		return model.Tuition{}, model.Application{}, err
	}
	return t, a, nil
}
