package lifecycle

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

// TutorProfile is the public directory entry of a tutor.
type TutorProfile struct {
	model.User
	Hires        int `json:"hires"`
	Applications int `json:"applications"`
}

// SyncUser records the verified identity of a caller and returns the stored
// user. A role is taken from the identity only the first time a user is
// seen; afterwards the stored role is authoritative.
func (e *Engine) SyncUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		return model.User{}, apperr.Validation("lifecycle.SyncUser", apperr.FieldError{Field: "id", Error: "is required"})
	}
	var stored model.User
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		u.SeenAt = e.now()
		if err := tx.UpsertUser(ctx, u); err != nil {
			return err
		}
		var err error
		stored, err = tx.GetUser(ctx, u.ID)
		return err
	})
	if err != nil {
		return model.User{}, err
	}
	return stored, nil
}

func (e *Engine) GetUser(ctx context.Context, id string) (model.User, error) {
	return e.store.GetUser(ctx, normalizeEmail(id))
}

// UserRole returns the stored role of a user.
func (e *Engine) UserRole(ctx context.Context, id string) (model.Role, error) {
	u, err := e.store.GetUser(ctx, normalizeEmail(id))
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// ListUsers returns every user with role, or all users when role is empty.
// Admin only.
func (e *Engine) ListUsers(ctx context.Context, caller model.User, role model.Role) ([]model.User, error) {
	if err := requireRole("lifecycle.ListUsers", caller, model.RoleAdmin); err != nil {
		return nil, err
	}
	return e.store.ListUsers(ctx, role)
}

// SetUserRole changes a user's stored role. Admins cannot change their own
// role so the last admin cannot lock everyone out.
func (e *Engine) SetUserRole(ctx context.Context, caller model.User, id string, role model.Role) (model.User, error) {
	const op = "lifecycle.SetUserRole"
	if err := requireRole(op, caller, model.RoleAdmin); err != nil {
		return model.User{}, err
	}
	switch role {
	case model.RoleStudent, model.RoleTutor, model.RoleAdmin:
	default:
		return model.User{}, apperr.Validation(op, apperr.FieldError{Field: "role", Error: "must be one of student tutor admin"})
	}
	id = normalizeEmail(id)
	if id == caller.ID {
		return model.User{}, apperr.New(op, apperr.ErrPreconditionFailed, "admins cannot change their own role")
	}

	var u model.User
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetUserRole(ctx, id, role); err != nil {
			return err
		}
		var err error
		u, err = tx.GetUser(ctx, id)
		return err
	})
	if err != nil {
		return model.User{}, err
	}

	e.logger.Info("user role changed",
		zap.String("user_id", id),
		zap.String("role", string(role)),
		zap.String("admin_id", caller.ID),
	)
	return u, nil
}

func (e *Engine) ListTutors(ctx context.Context) ([]model.User, error) {
	return e.store.ListUsers(ctx, model.RoleTutor)
}

// GetTutor returns a tutor's directory entry. Users that are not tutors are
// reported as not found.
func (e *Engine) GetTutor(ctx context.Context, id string) (TutorProfile, error) {
	u, err := e.store.GetUser(ctx, normalizeEmail(id))
	if err != nil {
		return TutorProfile{}, err
	}
	if u.Role != model.RoleTutor {
		return TutorProfile{}, apperr.NotFound("lifecycle.GetTutor", "tutor")
	}
	apps, err := e.store.ListApplications(ctx, store.ApplicationFilter{TutorID: u.ID})
	if err != nil {
		return TutorProfile{}, err
	}
	p := TutorProfile{User: u, Applications: len(apps)}
	for _, a := range apps {
		if a.Status == model.ApplicationApproved {
			p.Hires++
		}
	}
	return p, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
