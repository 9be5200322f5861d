package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

var _ store.Tx = (*txQueries)(nil)

// txQueries adds row locks and writes on top of queries bound to a *sql.Tx.
type txQueries struct {
	queries
}

func (t *txQueries) LockTuition(ctx context.Context, id string) (model.Tuition, error) {
	tu, err := scanTuition(t.q.QueryRowContext(ctx, `SELECT `+tuitionColumns+` FROM tuitions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Tuition{}, mapError("postgres.LockTuition", err)
	}
	return tu, nil
}

func (t *txQueries) LockApplication(ctx context.Context, id string) (model.Application, error) {
	a, err := scanApplication(t.q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Application{}, mapError("postgres.LockApplication", err)
	}
	return a, nil
}

func (t *txQueries) LockConversation(ctx context.Context, id string) (model.Conversation, error) {
	c, err := scanConversation(t.q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Conversation{}, mapError("postgres.LockConversation", err)
	}
	return c, nil
}

func (t *txQueries) LockSession(ctx context.Context, id string) (model.Session, error) {
	s, err := scanSession(t.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Session{}, mapError("postgres.LockSession", err)
	}
	return s, nil
}

func (t *txQueries) UpsertUser(ctx context.Context, u model.User) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO users (id, name, photo_url, role, seen_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, photo_url = EXCLUDED.photo_url, seen_at = NOW()
	`, u.ID, u.Name, u.PhotoURL, u.Role)
	return mapError("postgres.UpsertUser", err)
}

func (t *txQueries) SetUserRole(ctx context.Context, id string, role model.Role) error {
	res, err := t.q.ExecContext(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, role)
	return affected("postgres.SetUserRole", "user", res, err)
}

func (t *txQueries) InsertTuition(ctx context.Context, tu *model.Tuition) error {
	ensureID(&tu.ID)
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO tuitions (id, student_id, student_name, subject, class, location, salary, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, tu.ID, tu.StudentID, tu.StudentName, tu.Subject, tu.Class, tu.Location, tu.Salary, tu.Description, tu.Status).
		Scan(&tu.CreatedAt, &tu.UpdatedAt)
	return mapError("postgres.InsertTuition", err)
}

func (t *txQueries) UpdateTuition(ctx context.Context, tu model.Tuition) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE tuitions
		SET subject = $2, class = $3, location = $4, salary = $5, description = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, tu.ID, tu.Subject, tu.Class, tu.Location, tu.Salary, tu.Description, tu.Status, updatedAt(tu.UpdatedAt))
	return affected("postgres.UpdateTuition", "tuition", res, err)
}

func (t *txQueries) DeleteTuition(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM tuitions WHERE id = $1`, id)
	return affected("postgres.DeleteTuition", "tuition", res, err)
}

func (t *txQueries) InsertApplication(ctx context.Context, a *model.Application) error {
	ensureID(&a.ID)
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO applications (id, tuition_id, student_id, tutor_id, tutor_name, qualifications, experience, expected_salary, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.TuitionID, a.StudentID, a.TutorID, a.TutorName, a.Qualifications, a.Experience, a.ExpectedSalary, a.Status).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapError("postgres.InsertApplication", err)
}

func (t *txQueries) UpdateApplication(ctx context.Context, a model.Application) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE applications
		SET qualifications = $2, experience = $3, expected_salary = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, a.ID, a.Qualifications, a.Experience, a.ExpectedSalary, a.Status, updatedAt(a.UpdatedAt))
	return affected("postgres.UpdateApplication", "application", res, err)
}

func (t *txQueries) DeleteApplication(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	return affected("postgres.DeleteApplication", "application", res, err)
}

func (t *txQueries) FindApplication(ctx context.Context, tuitionID, tutorID string) (model.Application, bool, error) {
	a, err := scanApplication(t.q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE tuition_id = $1 AND tutor_id = $2`, tuitionID, tutorID))
	return optional("postgres.FindApplication", a, err)
}

func (t *txQueries) ApprovedApplication(ctx context.Context, tuitionID string) (model.Application, bool, error) {
	a, err := scanApplication(t.q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE tuition_id = $1 AND status = 'approved'`, tuitionID))
	return optional("postgres.ApprovedApplication", a, err)
}

func (t *txQueries) CountApplications(ctx context.Context, tuitionID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications WHERE tuition_id = $1`, tuitionID).Scan(&n)
	if err != nil {
		return 0, mapError("postgres.CountApplications", err)
	}
	return n, nil
}

func (t *txQueries) InsertPayment(ctx context.Context, p *model.Payment) error {
	ensureID(&p.ID)
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO payments (id, application_id, tuition_id, student_id, tutor_id, amount, currency, transaction_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, p.ID, p.ApplicationID, p.TuitionID, p.StudentID, p.TutorID, p.Amount, p.Currency, p.TransactionRef, p.Status).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapError("postgres.InsertPayment", err)
}

func (t *txQueries) UpdatePayment(ctx context.Context, p model.Payment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE payments
		SET amount = $2, currency = $3, transaction_ref = $4, status = $5, updated_at = $6
		WHERE id = $1 AND status <> 'success'
	`, p.ID, p.Amount, p.Currency, p.TransactionRef, p.Status, updatedAt(p.UpdatedAt))
	if err != nil {
		return mapError("postgres.UpdatePayment", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := t.GetPayment(ctx, p.ID); err != nil {
		return err
	}
	return apperr.New("postgres.UpdatePayment", apperr.ErrInvalidTransition, "successful payments are immutable")
}

func (t *txQueries) PaymentByRef(ctx context.Context, ref string) (model.Payment, bool, error) {
	p, err := scanPayment(t.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_ref = $1`, ref))
	return optional("postgres.PaymentByRef", p, err)
}

func (t *txQueries) SuccessfulPayment(ctx context.Context, applicationID string) (model.Payment, bool, error) {
	p, err := scanPayment(t.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE application_id = $1 AND status = 'success'`, applicationID))
	return optional("postgres.SuccessfulPayment", p, err)
}

func (t *txQueries) HasPendingPayment(ctx context.Context, applicationID string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE application_id = $1 AND status = 'pending')`, applicationID).
		Scan(&exists)
	if err != nil {
		return false, mapError("postgres.HasPendingPayment", err)
	}
	return exists, nil
}

func (t *txQueries) InsertSession(ctx context.Context, s *model.Session) error {
	ensureID(&s.ID)
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO sessions (id, tuition_id, application_id, student_id, tutor_id, subject, starts_at, ends_at, location, notes, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, s.ID, s.TuitionID, s.ApplicationID, s.StudentID, s.TutorID, s.Subject, s.StartsAt, s.EndsAt,
		s.Location, s.Notes, s.Status, s.CreatedBy).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapError("postgres.InsertSession", err)
}

func (t *txQueries) UpdateSession(ctx context.Context, s model.Session) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE sessions
		SET starts_at = $2, ends_at = $3, location = $4, notes = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, s.ID, s.StartsAt, s.EndsAt, s.Location, s.Notes, s.Status, updatedAt(s.UpdatedAt))
	return affected("postgres.UpdateSession", "session", res, err)
}

func (t *txQueries) DeleteSession(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return affected("postgres.DeleteSession", "session", res, err)
}

func (t *txQueries) EnsureConversation(ctx context.Context, c model.Conversation) (model.Conversation, bool, error) {
	ensureID(&c.ID)
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO conversations (id, tuition_id, student_id, tutor_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT ux_conversations_triple DO NOTHING
	`, c.ID, c.TuitionID, c.StudentID, c.TutorID)
	if err != nil {
		return model.Conversation{}, false, mapError("postgres.EnsureConversation", err)
	}
	created := false
	if n, _ := res.RowsAffected(); n == 1 {
		created = true
	}
	conv, err := scanConversation(t.q.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tuition_id = $1 AND student_id = $2 AND tutor_id = $3
	`, c.TuitionID, c.StudentID, c.TutorID))
	if err != nil {
		return model.Conversation{}, false, mapError("postgres.EnsureConversation", err)
	}
	return conv, created, nil
}

func (t *txQueries) UpdateConversation(ctx context.Context, c model.Conversation) error {
	var last sql.NullTime
	if c.LastMessageAt != nil {
		last = sql.NullTime{Time: *c.LastMessageAt, Valid: true}
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = $2, last_message_at = $3, student_unread = $4, tutor_unread = $5
		WHERE id = $1
	`, c.ID, c.LastMessage, last, c.StudentUnread, c.TutorUnread)
	return affected("postgres.UpdateConversation", "conversation", res, err)
}

// InsertMessage relies on the caller holding LockConversation so the
// MAX(seq) read cannot race another insert into the same conversation.
func (t *txQueries) InsertMessage(ctx context.Context, m *model.Message) error {
	ensureID(&m.ID)
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, sender_name, text)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = $2), $3, $4, $5)
		RETURNING seq, read, created_at
	`, m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Text).
		Scan(&m.Seq, &m.Read, &m.CreatedAt)
	return mapError("postgres.InsertMessage", err)
}

func (t *txQueries) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE messages SET read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read
	`, conversationID, readerID)
	return mapError("postgres.MarkMessagesRead", err)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func affected(op, entity string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(op, entity)
	}
	return nil
}

func optional[T any](op string, v T, err error) (T, bool, error) {
	var zero T
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapError(op, err)
	}
	return v, true, nil
}
