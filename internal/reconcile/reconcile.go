// Package reconcile finishes hires whose payment was captured but whose
// commit did not complete, and expires checkouts that were never paid.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/metrics"
	"tutormarket/internal/model"
	"tutormarket/internal/queue"
)

// ConfirmJob is the payload of a payment.confirm job.
type ConfirmJob struct {
	ApplicationID  string `json:"application_id"`
	TransactionRef string `json:"transaction_ref"`
}

// Engine is the part of the lifecycle engine the worker drives.
type Engine interface {
	ConfirmPayment(ctx context.Context, caller model.User, applicationID string, res lifecycle.PaymentResult) (lifecycle.Hire, error)
	RecordPaymentFailure(ctx context.Context, caller model.User, applicationID, ref string) (model.Payment, error)
	ExpireStalePayments(ctx context.Context) (int, error)
}

// Retrier enqueues confirm jobs. It satisfies lifecycle.Retrier.
type Retrier struct {
	q queue.Queue
}

var _ lifecycle.Retrier = (*Retrier)(nil)

func NewRetrier(q queue.Queue) *Retrier {
	return &Retrier{q: q}
}

func (r *Retrier) RetryConfirm(ctx context.Context, applicationID, ref string) error {
	job, err := queue.NewJob(queue.TypeConfirmPayment, ConfirmJob{ApplicationID: applicationID, TransactionRef: ref})
	if err != nil {
		return err
	}
	return r.q.Publish(ctx, job)
}

// Worker consumes reconciliation jobs.
type Worker struct {
	engine      Engine
	q           queue.Queue
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	backoff     time.Duration

	wg sync.WaitGroup
}

type Option func(*Worker)

func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithRetryPolicy sets how many times a confirm job runs and the base delay
// between runs. The delay grows linearly with the attempt number.
func WithRetryPolicy(maxAttempts int, backoff time.Duration) Option {
	return func(w *Worker) {
		w.maxAttempts = maxAttempts
		w.backoff = backoff
	}
}

func NewWorker(engine Engine, q queue.Queue, opts ...Option) *Worker {
	w := &Worker{
		engine:      engine,
		q:           q,
		logger:      zap.NewNop(),
		maxAttempts: 6,
		backoff:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until ctx is cancelled, then waits for pending requeues.
func (w *Worker) Run(ctx context.Context) error {
	jobs, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("reconcile worker started")
	for job := range jobs {
		if err := w.Process(ctx, job); err != nil {
			w.logger.Warn("job failed", zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err))
		}
	}
	w.wg.Wait()
	w.logger.Info("reconcile worker stopped")
	return nil
}

// Process runs one job. Retryable confirm failures are requeued.
func (w *Worker) Process(ctx context.Context, job queue.Job) error {
	switch job.Type {
	case queue.TypeConfirmPayment:
		return w.confirm(ctx, job)
	case queue.TypeExpirePayments:
		n, err := w.engine.ExpireStalePayments(ctx)
		if err != nil {
			w.metrics.Job(job.Type, "error")
			return err
		}
		w.metrics.Job(job.Type, "ok")
		if n > 0 {
			w.logger.Info("stale payments expired", zap.Int("count", n))
		}
		return nil
	default:
		w.metrics.Job(job.Type, "unknown")
		return errors.New("reconcile: unknown job type " + job.Type)
	}
}

func (w *Worker) confirm(ctx context.Context, job queue.Job) error {
	var in ConfirmJob
	if err := job.Decode(&in); err != nil {
		w.metrics.Job(job.Type, "malformed")
		return err
	}
	log := w.logger.With(
		zap.String("application_id", in.ApplicationID),
		zap.String("transaction_ref", in.TransactionRef),
		zap.Int("attempt", job.Attempt),
	)

	_, err := w.engine.ConfirmPayment(ctx, model.System(), in.ApplicationID, lifecycle.PaymentResult{TransactionRef: in.TransactionRef})
	switch {
	case err == nil:
		w.metrics.Job(job.Type, "ok")
		log.Info("hire confirmed by reconcile")
		return nil
	case errors.Is(err, apperr.ErrTuitionAlreadyHired), errors.Is(err, apperr.ErrInvalidTransition):
		// the hire can no longer happen; stop sweeping this payment
		if _, ferr := w.engine.RecordPaymentFailure(ctx, model.System(), in.ApplicationID, in.TransactionRef); ferr != nil && !errors.Is(ferr, apperr.ErrInvalidTransition) {
			log.Error("marking abandoned payment failed", zap.Error(ferr))
		}
		log.Error("captured payment cannot complete a hire, refund manually", zap.Error(err))
		w.metrics.Job(job.Type, "abandoned")
		return nil
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrUnauthorized):
		w.metrics.Job(job.Type, "dropped")
		return err
	}

	if job.Attempt+1 >= w.maxAttempts {
		w.metrics.Job(job.Type, "exhausted")
		log.Error("confirm retries exhausted", zap.Error(err))
		return err
	}
	w.metrics.Job(job.Type, "retry")
	w.requeue(ctx, job)
	return err
}

func (w *Worker) requeue(ctx context.Context, job queue.Job) {
	job.Attempt++
	delay := time.Duration(job.Attempt) * w.backoff
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				// publish anyway so a durable queue keeps the job across restarts
			}
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.q.Publish(pubCtx, job); err != nil {
			w.logger.Error("requeue failed", zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err))
		}
	}()
}

// Scheduler enqueues an expiry sweep on an interval.
type Scheduler struct {
	q        queue.Queue
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewScheduler(q queue.Queue, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{q: q, interval: interval, logger: logger, stopChan: make(chan struct{})}
}

// Start runs the sweep loop in the background. The first sweep is enqueued
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting expiry scheduler", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping expiry scheduler")
		close(s.stopChan)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	s.enqueue(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.enqueue(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context) {
	job, err := queue.NewJob(queue.TypeExpirePayments, nil)
	if err != nil {
		return
	}
	if err := s.q.Publish(ctx, job); err != nil && ctx.Err() == nil {
		s.logger.Error("enqueue expiry sweep failed", zap.Error(err))
	}
}
