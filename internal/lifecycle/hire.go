package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/payment"
	"tutormarket/internal/store"
)

// Checkout is a started payment for an application.
type Checkout struct {
	Payment      model.Payment `json:"payment"`
	ClientSecret string        `json:"client_secret"`
}

// InitiateHire opens a gateway intent for the application's expected salary
// and records a pending payment. The application stays pending.
func (e *Engine) InitiateHire(ctx context.Context, caller model.User, applicationID string) (Checkout, error) {
	const op = "lifecycle.InitiateHire"
	if e.gateway == nil {
		return Checkout{}, apperr.New(op, apperr.ErrUnavailable, "payment gateway not configured")
	}
	a, err := e.store.GetApplication(ctx, applicationID)
	if err != nil {
		return Checkout{}, err
	}
	if a.StudentID != caller.ID {
		return Checkout{}, apperr.New(op, apperr.ErrUnauthorized, "only the tuition owner can hire")
	}
	hired, err := e.store.ListApplications(ctx, store.ApplicationFilter{TuitionID: a.TuitionID, Status: model.ApplicationApproved})
	if err != nil {
		return Checkout{}, err
	}
	if len(hired) > 0 && hired[0].ID != a.ID {
		return Checkout{}, apperr.New(op, apperr.ErrTuitionAlreadyHired, "this tuition has already been filled")
	}
	if a.Status != model.ApplicationPending {
		return Checkout{}, apperr.New(op, apperr.ErrInvalidTransition, "application is already "+string(a.Status))
	}

	intent, err := e.gateway.CreateIntent(ctx, a.ExpectedSalary, e.currency, map[string]string{
		"application_id": a.ID,
		"tuition_id":     a.TuitionID,
		"student_id":     a.StudentID,
		"tutor_id":       a.TutorID,
	})
	if err != nil {
		return Checkout{}, apperr.Wrap(op, apperr.ErrUnavailable, "payment gateway unavailable", err)
	}

	now := e.now()
	p := model.Payment{
		ApplicationID:  a.ID,
		TuitionID:      a.TuitionID,
		StudentID:      a.StudentID,
		TutorID:        a.TutorID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		TransactionRef: intent.Ref,
		Status:         model.PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.InTx(ctx, func(tx store.Tx) error {
		cur, err := tx.LockApplication(ctx, a.ID)
		if err != nil {
			return err
		}
		if cur.Status != model.ApplicationPending || cur.ExpectedSalary != a.ExpectedSalary {
			return apperr.New(op, apperr.ErrPreconditionFailed, "application changed during checkout")
		}
		return tx.InsertPayment(ctx, &p)
	}); err != nil {
		return Checkout{}, err
	}

	e.logger.Info("checkout started",
		zap.String("application_id", a.ID),
		zap.String("payment_id", p.ID),
		zap.String("transaction_ref", p.TransactionRef),
		zap.Int64("amount", p.Amount),
	)
	return Checkout{Payment: p, ClientSecret: intent.ClientSecret}, nil
}

// ConfirmPayment commits a hire after the gateway reported success: the
// success payment, the approval and the conversation are written in one
// transaction. Re-running it for the same application is a no-op that
// returns the existing hire.
func (e *Engine) ConfirmPayment(ctx context.Context, caller model.User, applicationID string, res PaymentResult) (Hire, error) {
	const op = "lifecycle.ConfirmPayment"
	if err := check(op, res); err != nil {
		return Hire{}, err
	}

	outcome, err := e.verify(ctx, op, res)
	if err != nil {
		e.scheduleRetry(ctx, caller, applicationID, res.TransactionRef, err)
		return Hire{}, err
	}

	h, err := e.commitHire(ctx, op, caller, applicationID, func(tx store.Tx, t model.Tuition, a model.Application) (model.Payment, error) {
		return e.recordSuccess(ctx, tx, op, t, a, outcome)
	})
	if err != nil {
		e.scheduleRetry(ctx, caller, applicationID, res.TransactionRef, err)
		return Hire{}, err
	}
	return h, nil
}

// ApproveApplication re-runs the approval and conversation steps for an
// application that already has a successful payment.
func (e *Engine) ApproveApplication(ctx context.Context, caller model.User, applicationID string) (Hire, error) {
	const op = "lifecycle.ApproveApplication"
	return e.commitHire(ctx, op, caller, applicationID, func(tx store.Tx, _ model.Tuition, a model.Application) (model.Payment, error) {
		p, ok, err := tx.SuccessfulPayment(ctx, a.ID)
		if err != nil {
			return model.Payment{}, err
		}
		if !ok {
			return model.Payment{}, apperr.New(op, apperr.ErrPreconditionFailed, "a successful payment is required before approval")
		}
		return p, nil
	})
}

// verify asks the gateway for the settled outcome of res.
func (e *Engine) verify(ctx context.Context, op string, res PaymentResult) (payment.Outcome, error) {
	if e.gateway == nil {
		return payment.Outcome{Ref: res.TransactionRef, Status: payment.StatusSucceeded, Amount: res.Amount, Currency: e.currency}, nil
	}
	out, err := e.gateway.Lookup(ctx, res.TransactionRef)
	switch {
	case errors.Is(err, payment.ErrUnknownIntent):
		return payment.Outcome{}, apperr.Wrap(op, apperr.ErrPreconditionFailed, "unknown transaction", err)
	case err != nil:
		return payment.Outcome{}, apperr.Wrap(op, apperr.ErrUnavailable, "payment gateway unavailable", err)
	case out.Status != payment.StatusSucceeded:
		return payment.Outcome{}, apperr.New(op, apperr.ErrPreconditionFailed, "payment is "+string(out.Status))
	}
	return out, nil
}

type payFunc func(tx store.Tx, t model.Tuition, a model.Application) (model.Payment, error)

// commitHire runs the shared hire transaction. Exclusivity is checked
// before the payment step so a second hire always reports
// ErrTuitionAlreadyHired.
func (e *Engine) commitHire(ctx context.Context, op string, caller model.User, applicationID string, pay payFunc) (Hire, error) {
	var h Hire
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		t, a, err := lockPair(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if !actsFor(caller, t.StudentID) {
			return apperr.New(op, apperr.ErrUnauthorized, "only the tuition owner can hire")
		}
		if other, ok, err := tx.ApprovedApplication(ctx, t.ID); err != nil {
			return err
		} else if ok && other.ID != a.ID {
			return apperr.New(op, apperr.ErrTuitionAlreadyHired, "this tuition has already been filled")
		}
		if a.Status == model.ApplicationRejected {
			return apperr.New(op, apperr.ErrInvalidTransition, "application was rejected")
		}

		p, err := pay(tx, t, a)
		if err != nil {
			return err
		}

		approved := false
		if a.Status == model.ApplicationPending {
			a.Status = model.ApplicationApproved
			a.UpdatedAt = e.now()
			if err := tx.UpdateApplication(ctx, a); err != nil {
				return err
			}
			approved = true
		}

		conv, created, err := tx.EnsureConversation(ctx, model.Conversation{
			TuitionID: t.ID,
			StudentID: t.StudentID,
			TutorID:   a.TutorID,
			CreatedAt: e.now(),
		})
		if err != nil {
			return err
		}
		h = Hire{Tuition: t, Application: a, Payment: p, Conversation: conv, Approved: approved, ConversationCreated: created}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrTuitionAlreadyHired) {
			e.metrics.HireConflict()
		}
		return Hire{}, err
	}

	if h.Approved {
		e.metrics.Hire()
		e.metrics.Transition("application", string(model.ApplicationApproved))
		e.logger.Info("tutor hired",
			zap.String("application_id", h.Application.ID),
			zap.String("tuition_id", h.Tuition.ID),
			zap.String("tutor_id", h.Application.TutorID),
			zap.String("payment_id", h.Payment.ID),
			zap.String("conversation_id", h.Conversation.ID),
		)
	}
	if h.Approved || h.ConversationCreated {
		e.notify(ctx, h)
	}
	return h, nil
}

// recordSuccess writes the success payment for a, reusing an existing one.
func (e *Engine) recordSuccess(ctx context.Context, tx store.Tx, op string, t model.Tuition, a model.Application, out payment.Outcome) (model.Payment, error) {
	if p, ok, err := tx.SuccessfulPayment(ctx, a.ID); err != nil {
		return model.Payment{}, err
	} else if ok {
		if p.TransactionRef != out.Ref {
			if err := e.failDuplicateCharge(ctx, tx, op, a, p, out.Ref); err != nil {
				return model.Payment{}, err
			}
		}
		return p, nil
	}

	amount := out.Amount
	if amount <= 0 {
		amount = a.ExpectedSalary
	}
	currency := out.Currency
	if currency == "" {
		currency = e.currency
	}
	now := e.now()

	p, ok, err := tx.PaymentByRef(ctx, out.Ref)
	if err != nil {
		return model.Payment{}, err
	}
	if ok {
		if p.ApplicationID != a.ID {
			return model.Payment{}, apperr.New(op, apperr.ErrPreconditionFailed, "transaction belongs to another application")
		}
		if !p.Status.CanTransition(model.PaymentSuccess) {
			return model.Payment{}, apperr.New(op, apperr.ErrInvalidTransition, "payment is already "+string(p.Status))
		}
		p.Status = model.PaymentSuccess
		p.Amount = amount
		p.Currency = currency
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return model.Payment{}, err
		}
	} else {
		p = model.Payment{
			ApplicationID:  a.ID,
			TuitionID:      t.ID,
			StudentID:      t.StudentID,
			TutorID:        a.TutorID,
			Amount:         amount,
			Currency:       currency,
			TransactionRef: out.Ref,
			Status:         model.PaymentSuccess,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, &p); err != nil {
			return model.Payment{}, err
		}
	}
	e.metrics.Transition("payment", string(model.PaymentSuccess))
	return p, nil
}

// failDuplicateCharge closes a second captured checkout for an application
// that is already paid. The charge has to be refunded by hand.
func (e *Engine) failDuplicateCharge(ctx context.Context, tx store.Tx, op string, a model.Application, paid model.Payment, ref string) error {
	dup, ok, err := tx.PaymentByRef(ctx, ref)
	if err != nil {
		return err
	}
	if !ok || dup.ApplicationID != a.ID || dup.Status != model.PaymentPending {
		return nil
	}
	if err := e.failPayment(ctx, tx, op, &dup); err != nil {
		return err
	}
	e.logger.Error("duplicate charge for a paid application, refund manually",
		zap.String("application_id", a.ID),
		zap.String("recorded_ref", paid.TransactionRef),
		zap.String("transaction_ref", ref),
		zap.Int64("amount", dup.Amount),
	)
	return nil
}

// RecordPaymentFailure marks the pending payment ref of an application
// failed. The application stays pending and can be paid again.
func (e *Engine) RecordPaymentFailure(ctx context.Context, caller model.User, applicationID, ref string) (model.Payment, error) {
	const op = "lifecycle.RecordPaymentFailure"
	var p model.Payment
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		t, a, err := lockPair(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if !actsFor(caller, t.StudentID) {
			return apperr.New(op, apperr.ErrUnauthorized, "only the tuition owner can report payments")
		}
		var ok bool
		p, ok, err = tx.PaymentByRef(ctx, ref)
		if err != nil {
			return err
		}
		if !ok || p.ApplicationID != a.ID {
			return apperr.NotFound(op, "payment")
		}
		return e.failPayment(ctx, tx, op, &p)
	})
	if err != nil {
		return model.Payment{}, err
	}

	e.logger.Info("payment failed",
		zap.String("application_id", applicationID),
		zap.String("transaction_ref", ref),
	)
	return p, nil
}

func (e *Engine) failPayment(ctx context.Context, tx store.Tx, op string, p *model.Payment) error {
	if !p.Status.CanTransition(model.PaymentFailed) {
		return apperr.New(op, apperr.ErrInvalidTransition, "payment is already "+string(p.Status))
	}
	p.Status = model.PaymentFailed
	p.UpdatedAt = e.now()
	if err := tx.UpdatePayment(ctx, *p); err != nil {
		return err
	}
	e.metrics.Transition("payment", string(model.PaymentFailed))
	return nil
}

// ExpireStalePayments fails pending payments older than the pending TTL.
// Payments the gateway reports as captured are handed to the retrier
// instead, unless no confirm could ever apply them; those are failed for a
// manual refund. It returns how many payments were failed.
func (e *Engine) ExpireStalePayments(ctx context.Context) (int, error) {
	const op = "lifecycle.ExpireStalePayments"
	cutoff := e.now().Add(-e.pendingTTL)
	stale, err := e.store.ListPayments(ctx, store.PaymentFilter{Status: model.PaymentPending, CreatedBefore: cutoff})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range stale {
		if e.gateway != nil {
			out, err := e.gateway.Lookup(ctx, p.TransactionRef)
			switch {
			case err == nil && out.Status == payment.StatusSucceeded:
				abandoned, err := e.abandonCaptured(ctx, op, p)
				if err != nil {
					return expired, err
				}
				if abandoned {
					expired++
					continue
				}
				if e.retrier != nil {
					if err := e.retrier.RetryConfirm(ctx, p.ApplicationID, p.TransactionRef); err != nil {
						e.logger.Error("schedule confirm for captured payment failed", zap.String("payment_id", p.ID), zap.Error(err))
					}
				}
				continue
			case err != nil && !errors.Is(err, payment.ErrUnknownIntent):
				e.logger.Warn("payment lookup failed, leaving pending", zap.String("payment_id", p.ID), zap.Error(err))
				continue
			}
		}

		changed := false
		err := e.store.InTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockApplication(ctx, p.ApplicationID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			cur, ok, err := tx.PaymentByRef(ctx, p.TransactionRef)
			if err != nil || !ok || cur.Status != model.PaymentPending {
				return err
			}
			if err := e.failPayment(ctx, tx, op, &cur); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
			e.logger.Info("stale payment expired",
				zap.String("payment_id", p.ID),
				zap.String("application_id", p.ApplicationID),
				zap.Time("created_at", p.CreatedAt),
			)
		}
	}
	return expired, nil
}

// abandonCaptured fails a captured payment whose hire can no longer happen.
// It reports false when a confirm may still succeed.
func (e *Engine) abandonCaptured(ctx context.Context, op string, p model.Payment) (bool, error) {
	var reason string
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		cur, ok, err := tx.PaymentByRef(ctx, p.TransactionRef)
		if err != nil || !ok || cur.Status != model.PaymentPending {
			return err
		}
		reason, err = unconfirmable(ctx, tx, cur)
		if err != nil || reason == "" {
			return err
		}
		return e.failPayment(ctx, tx, op, &cur)
	})
	if err != nil || reason == "" {
		return false, err
	}
	e.logger.Error("captured payment cannot complete a hire, refund manually",
		zap.String("payment_id", p.ID),
		zap.String("application_id", p.ApplicationID),
		zap.String("transaction_ref", p.TransactionRef),
		zap.Int64("amount", p.Amount),
		zap.String("reason", reason),
	)
	return true, nil
}

// unconfirmable returns why ConfirmPayment can never succeed for p, or ""
// when it still can.
func unconfirmable(ctx context.Context, tx store.Tx, p model.Payment) (string, error) {
	a, err := tx.LockApplication(ctx, p.ApplicationID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "application no longer exists", nil
	}
	if err != nil {
		return "", err
	}
	if a.Status == model.ApplicationRejected {
		return "application was rejected", nil
	}
	other, ok, err := tx.ApprovedApplication(ctx, a.TuitionID)
	if err != nil {
		return "", err
	}
	if ok && other.ID != a.ID {
		return "tuition hired another tutor", nil
	}
	paid, ok, err := tx.SuccessfulPayment(ctx, a.ID)
	if err != nil {
		return "", err
	}
	if ok && paid.TransactionRef != p.TransactionRef {
		return "application already paid", nil
	}
	return "", nil
}

func (e *Engine) ListStudentPayments(ctx context.Context, caller model.User) ([]model.Payment, error) {
	return e.store.ListPayments(ctx, store.PaymentFilter{StudentID: caller.ID})
}

func (e *Engine) ListAllPayments(ctx context.Context, caller model.User) ([]model.Payment, error) {
	if err := requireRole("lifecycle.ListAllPayments", caller, model.RoleAdmin); err != nil {
		return nil, err
	}
	return e.store.ListPayments(ctx, store.PaymentFilter{})
}
