package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

// SubmitApplication records a tutor's bid on an approved tuition.
func (e *Engine) SubmitApplication(ctx context.Context, caller model.User, in ApplicationInput) (model.Application, error) {
	const op = "lifecycle.SubmitApplication"
	if err := requireRole(op, caller, model.RoleTutor); err != nil {
		return model.Application{}, err
	}
	in.normalize()
	if err := check(op, in); err != nil {
		return model.Application{}, err
	}

	var a model.Application
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTuition(ctx, in.TuitionID)
		if err != nil {
			return err
		}
		if t.Status != model.TuitionApproved {
			return apperr.New(op, apperr.ErrPreconditionFailed, "tuition is not open for applications")
		}
		if _, exists, err := tx.FindApplication(ctx, t.ID, caller.ID); err != nil {
			return err
		} else if exists {
			return apperr.New(op, apperr.ErrDuplicateApplication, "you already applied to this tuition")
		}

		now := e.now()
		a = model.Application{
			TuitionID:      t.ID,
			StudentID:      t.StudentID,
			TutorID:        caller.ID,
			TutorName:      caller.Name,
			Qualifications: in.Qualifications,
			Experience:     in.Experience,
			ExpectedSalary: in.ExpectedSalary,
			Status:         model.ApplicationPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.InsertApplication(ctx, &a)
	})
	if err != nil {
		return model.Application{}, err
	}

	e.logger.Info("application submitted",
		zap.String("application_id", a.ID),
		zap.String("tuition_id", a.TuitionID),
		zap.String("tutor_id", a.TutorID),
		zap.Int64("expected_salary", a.ExpectedSalary),
	)
	return a, nil
}

// RejectApplication lets the tuition owner turn down a pending application.
// It is allowed after another application was hired.
func (e *Engine) RejectApplication(ctx context.Context, caller model.User, applicationID string) (model.Application, error) {
	const op = "lifecycle.RejectApplication"
	var a model.Application
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		t, locked, err := lockPair(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		a = locked
		if t.StudentID != caller.ID {
			return apperr.New(op, apperr.ErrUnauthorized, "only the tuition owner can reject applications")
		}
		if !a.Status.CanTransition(model.ApplicationRejected) {
			return apperr.New(op, apperr.ErrInvalidTransition, "application is already "+string(a.Status))
		}
		if err := noOpenCheckout(ctx, tx, op, a.ID); err != nil {
			return err
		}
		a.Status = model.ApplicationRejected
		a.UpdatedAt = e.now()
		return tx.UpdateApplication(ctx, a)
	})
	if err != nil {
		return model.Application{}, err
	}

	e.metrics.Transition("application", string(a.Status))
	e.logger.Info("application rejected",
		zap.String("application_id", a.ID),
		zap.String("tuition_id", a.TuitionID),
		zap.String("student_id", caller.ID),
	)
	return a, nil
}

// lockOwnPending locks an application the caller submitted and that is
// still pending.
func lockOwnPending(ctx context.Context, tx store.Tx, op string, caller model.User, applicationID string) (model.Application, error) {
	a, err := tx.LockApplication(ctx, applicationID)
	if err != nil {
		return model.Application{}, err
	}
	if a.TutorID != caller.ID {
		return model.Application{}, apperr.New(op, apperr.ErrUnauthorized, "only the applying tutor can change an application")
	}
	if a.Status != model.ApplicationPending {
		return model.Application{}, apperr.New(op, apperr.ErrPreconditionFailed, "application is "+string(a.Status))
	}
	if err := noOpenCheckout(ctx, tx, op, a.ID); err != nil {
		return model.Application{}, err
	}
	return a, nil
}

// noOpenCheckout fails while a payment for the application awaits its
// outcome. The checkout amount was taken from the application as it stands.
func noOpenCheckout(ctx context.Context, tx store.Tx, op, applicationID string) error {
	pending, err := tx.HasPendingPayment(ctx, applicationID)
	if err != nil {
		return err
	}
	if pending {
		return apperr.New(op, apperr.ErrPreconditionFailed, "a payment for this application is in progress")
	}
	return nil
}

// UpdateApplication edits a pending application.
func (e *Engine) UpdateApplication(ctx context.Context, caller model.User, applicationID string, in ApplicationUpdate) (model.Application, error) {
	const op = "lifecycle.UpdateApplication"
	in.normalize()
	if err := check(op, in); err != nil {
		return model.Application{}, err
	}

	var a model.Application
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = lockOwnPending(ctx, tx, op, caller, applicationID)
		if err != nil {
			return err
		}
		a.Qualifications = in.Qualifications
		a.Experience = in.Experience
		a.ExpectedSalary = in.ExpectedSalary
		a.UpdatedAt = e.now()
		return tx.UpdateApplication(ctx, a)
	})
	if err != nil {
		return model.Application{}, err
	}

	e.logger.Info("application updated", zap.String("application_id", a.ID))
	return a, nil
}

// WithdrawApplication deletes a pending application.
func (e *Engine) WithdrawApplication(ctx context.Context, caller model.User, applicationID string) error {
	const op = "lifecycle.WithdrawApplication"
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		a, err := lockOwnPending(ctx, tx, op, caller, applicationID)
		if err != nil {
			return err
		}
		return tx.DeleteApplication(ctx, a.ID)
	})
	if err != nil {
		return err
	}

	e.logger.Info("application withdrawn", zap.String("application_id", applicationID), zap.String("tutor_id", caller.ID))
	return nil
}

func (e *Engine) ListTutorApplications(ctx context.Context, caller model.User) ([]model.Application, error) {
	return e.store.ListApplications(ctx, store.ApplicationFilter{TutorID: caller.ID})
}

// ListOngoing returns the tutor's hired applications.
func (e *Engine) ListOngoing(ctx context.Context, caller model.User) ([]model.Application, error) {
	return e.store.ListApplications(ctx, store.ApplicationFilter{TutorID: caller.ID, Status: model.ApplicationApproved})
}

func (e *Engine) ListStudentApplications(ctx context.Context, caller model.User) ([]model.Application, error) {
	return e.store.ListApplications(ctx, store.ApplicationFilter{StudentID: caller.ID})
}

// ListTuitionApplications returns the applications of one tuition to its owner.
func (e *Engine) ListTuitionApplications(ctx context.Context, caller model.User, tuitionID string) ([]model.Application, error) {
	t, err := e.store.GetTuition(ctx, tuitionID)
	if err != nil {
		return nil, err
	}
	if !actsFor(caller, t.StudentID) {
		return nil, apperr.New("lifecycle.ListTuitionApplications", apperr.ErrUnauthorized, "only the tuition owner can list applications")
	}
	return e.store.ListApplications(ctx, store.ApplicationFilter{TuitionID: t.ID})
}
