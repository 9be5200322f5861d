package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

// CreateTuition posts a new tuition awaiting admin review.
func (e *Engine) CreateTuition(ctx context.Context, caller model.User, in TuitionInput) (model.Tuition, error) {
	const op = "lifecycle.CreateTuition"
	if err := requireRole(op, caller, model.RoleStudent); err != nil {
		return model.Tuition{}, err
	}
	in.normalize()
	if err := check(op, in); err != nil {
		return model.Tuition{}, err
	}

	now := e.now()
	t := model.Tuition{
		StudentID:   caller.ID,
		StudentName: caller.Name,
		Subject:     in.Subject,
		Class:       in.Class,
		Location:    in.Location,
		Salary:      in.Salary,
		Description: in.Description,
		Status:      model.TuitionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertTuition(ctx, &t)
	}); err != nil {
		return model.Tuition{}, err
	}

	e.logger.Info("tuition posted",
		zap.String("tuition_id", t.ID),
		zap.String("student_id", t.StudentID),
		zap.String("subject", t.Subject),
	)
	return t, nil
}

// ReviewTuition moves a pending tuition to approved or rejected.
func (e *Engine) ReviewTuition(ctx context.Context, caller model.User, tuitionID string, decision Decision) (model.Tuition, error) {
	const op = "lifecycle.ReviewTuition"
	if err := requireRole(op, caller, model.RoleAdmin); err != nil {
		return model.Tuition{}, err
	}
	to, ok := decision.status()
	if !ok {
		return model.Tuition{}, apperr.Validation(op, apperr.FieldError{Field: "decision", Error: "must be one of approve reject"})
	}

	var t model.Tuition
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.LockTuition(ctx, tuitionID)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(to) {
			return apperr.New(op, apperr.ErrInvalidTransition, "tuition is already "+string(t.Status))
		}
		t.Status = to
		t.UpdatedAt = e.now()
		return tx.UpdateTuition(ctx, t)
	})
	if err != nil {
		return model.Tuition{}, err
	}

	e.metrics.Transition("tuition", string(to))
	e.logger.Info("tuition reviewed",
		zap.String("tuition_id", t.ID),
		zap.String("status", string(t.Status)),
		zap.String("admin_id", caller.ID),
	)
	return t, nil
}

// editable reports whether the owner may still change t: while pending, or
// while approved and nobody has applied.
func editable(ctx context.Context, tx store.Tx, op string, t model.Tuition) error {
	switch t.Status {
	case model.TuitionPending:
		return nil
	case model.TuitionApproved:
		n, err := tx.CountApplications(ctx, t.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return apperr.New(op, apperr.ErrPreconditionFailed, "tuition already has applications")
	}
	return apperr.New(op, apperr.ErrPreconditionFailed, "tuition is "+string(t.Status))
}

// UpdateTuition edits the owner's tuition while it is still editable.
func (e *Engine) UpdateTuition(ctx context.Context, caller model.User, tuitionID string, in TuitionInput) (model.Tuition, error) {
	const op = "lifecycle.UpdateTuition"
	in.normalize()
	if err := check(op, in); err != nil {
		return model.Tuition{}, err
	}

	var t model.Tuition
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.LockTuition(ctx, tuitionID)
		if err != nil {
			return err
		}
		if t.StudentID != caller.ID {
			return apperr.New(op, apperr.ErrUnauthorized, "only the owner can edit a tuition")
		}
		if err := editable(ctx, tx, op, t); err != nil {
			return err
		}
		t.Subject = in.Subject
		t.Class = in.Class
		t.Location = in.Location
		t.Salary = in.Salary
		t.Description = in.Description
		t.UpdatedAt = e.now()
		return tx.UpdateTuition(ctx, t)
	})
	if err != nil {
		return model.Tuition{}, err
	}

	e.logger.Info("tuition updated", zap.String("tuition_id", t.ID))
	return t, nil
}

// DeleteTuition removes the owner's tuition while it is still editable.
func (e *Engine) DeleteTuition(ctx context.Context, caller model.User, tuitionID string) error {
	const op = "lifecycle.DeleteTuition"
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTuition(ctx, tuitionID)
		if err != nil {
			return err
		}
		if t.StudentID != caller.ID && caller.Role != model.RoleAdmin {
			return apperr.New(op, apperr.ErrUnauthorized, "only the owner can delete a tuition")
		}
		if err := editable(ctx, tx, op, t); err != nil {
			return err
		}
		return tx.DeleteTuition(ctx, t.ID)
	})
	if err != nil {
		return err
	}

	e.logger.Info("tuition deleted", zap.String("tuition_id", tuitionID), zap.String("by", caller.ID))
	return nil
}

// GetTuition returns an approved tuition to anyone, and any tuition to its
// owner or an admin.
func (e *Engine) GetTuition(ctx context.Context, caller model.User, tuitionID string) (model.Tuition, error) {
	t, err := e.store.GetTuition(ctx, tuitionID)
	if err != nil {
		return model.Tuition{}, err
	}
	if t.Status != model.TuitionApproved && !actsFor(caller, t.StudentID) {
		return model.Tuition{}, apperr.NotFound("lifecycle.GetTuition", "tuition")
	}
	return t, nil
}

// ListApprovedTuitions is the public tuition board.
func (e *Engine) ListApprovedTuitions(ctx context.Context, q TuitionQuery) ([]model.Tuition, error) {
	return e.store.ListTuitions(ctx, store.TuitionFilter{
		Status:   model.TuitionApproved,
		Subject:  q.Subject,
		Location: q.Location,
	})
}

func (e *Engine) ListStudentTuitions(ctx context.Context, caller model.User) ([]model.Tuition, error) {
	return e.store.ListTuitions(ctx, store.TuitionFilter{StudentID: caller.ID})
}

// ListAllTuitions is the admin review queue. status may be empty.
func (e *Engine) ListAllTuitions(ctx context.Context, caller model.User, status model.TuitionStatus) ([]model.Tuition, error) {
	if err := requireRole("lifecycle.ListAllTuitions", caller, model.RoleAdmin); err != nil {
		return nil, err
	}
	return e.store.ListTuitions(ctx, store.TuitionFilter{Status: status})
}
