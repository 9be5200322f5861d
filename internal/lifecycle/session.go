package lifecycle

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

// ScheduleSession books one class for a hired application. Either party
// may schedule.
func (e *Engine) ScheduleSession(ctx context.Context, caller model.User, in SessionInput) (model.Session, error) {
	const op = "lifecycle.ScheduleSession"
	in.Location = strings.TrimSpace(in.Location)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := check(op, in); err != nil {
		return model.Session{}, err
	}
	if !in.EndsAt.After(in.StartsAt) {
		return model.Session{}, apperr.New(op, apperr.ErrInvalidRange, "end time must be after start time")
	}
	if in.StartsAt.Before(e.now()) {
		return model.Session{}, apperr.New(op, apperr.ErrInThePast, "start time is in the past")
	}

	var s model.Session
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockApplication(ctx, in.ApplicationID)
		if err != nil {
			return err
		}
		if caller.ID != a.StudentID && caller.ID != a.TutorID {
			return apperr.New(op, apperr.ErrUnauthorized, "only the hired pair can schedule sessions")
		}
		if a.Status != model.ApplicationApproved {
			return apperr.New(op, apperr.ErrPreconditionFailed, "application is not hired")
		}
		t, err := tx.GetTuition(ctx, a.TuitionID)
		if err != nil {
			return err
		}
		location := in.Location
		if location == "" {
			location = t.Location
		}
		now := e.now()
		s = model.Session{
			TuitionID:     t.ID,
			ApplicationID: a.ID,
			StudentID:     a.StudentID,
			TutorID:       a.TutorID,
			Subject:       t.Subject,
			StartsAt:      in.StartsAt.UTC(),
			EndsAt:        in.EndsAt.UTC(),
			Location:      location,
			Notes:         in.Notes,
			Status:        model.SessionScheduled,
			CreatedBy:     caller.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.InsertSession(ctx, &s)
	})
	if err != nil {
		return model.Session{}, err
	}

	e.logger.Info("session scheduled",
		zap.String("session_id", s.ID),
		zap.String("application_id", s.ApplicationID),
		zap.Time("starts_at", s.StartsAt),
		zap.String("by", caller.ID),
	)
	return s, nil
}

// UpdateSessionStatus completes or cancels a scheduled session.
func (e *Engine) UpdateSessionStatus(ctx context.Context, caller model.User, sessionID string, to model.SessionStatus) (model.Session, error) {
	const op = "lifecycle.UpdateSessionStatus"
	if to != model.SessionCompleted && to != model.SessionCancelled {
		return model.Session{}, apperr.Validation(op, apperr.FieldError{Field: "status", Error: "must be one of completed cancelled"})
	}

	var s model.Session
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		s, err = tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.HasParticipant(caller.ID) {
			return apperr.New(op, apperr.ErrUnauthorized, "not a participant of this session")
		}
		if !s.Status.CanTransition(to) {
			return apperr.New(op, apperr.ErrInvalidTransition, "session is already "+string(s.Status))
		}
		s.Status = to
		s.UpdatedAt = e.now()
		return tx.UpdateSession(ctx, s)
	})
	if err != nil {
		return model.Session{}, err
	}

	e.metrics.Transition("session", string(to))
	e.logger.Info("session status changed",
		zap.String("session_id", s.ID),
		zap.String("status", string(s.Status)),
		zap.String("by", caller.ID),
	)
	return s, nil
}

// DeleteSession removes a session that is still scheduled.
func (e *Engine) DeleteSession(ctx context.Context, caller model.User, sessionID string) error {
	const op = "lifecycle.DeleteSession"
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		s, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.HasParticipant(caller.ID) {
			return apperr.New(op, apperr.ErrUnauthorized, "not a participant of this session")
		}
		if s.Status != model.SessionScheduled {
			return apperr.New(op, apperr.ErrPreconditionFailed, "only scheduled sessions can be deleted")
		}
		return tx.DeleteSession(ctx, s.ID)
	})
	if err != nil {
		return err
	}

	e.logger.Info("session deleted", zap.String("session_id", sessionID), zap.String("by", caller.ID))
	return nil
}

// ListSessions returns the caller's sessions ordered by start time.
func (e *Engine) ListSessions(ctx context.Context, caller model.User) ([]model.Session, error) {
	return e.store.ListSessions(ctx, caller.ID)
}
