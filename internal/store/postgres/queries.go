package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries implements store.Reader on either the pool or a transaction.
type queries struct {
	q querier
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

const userColumns = `id, name, photo_url, role, seen_at`

func (r queries) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.PhotoURL, &u.Role, &u.SeenAt)
	if err != nil {
		return model.User{}, mapError("postgres.GetUser", err)
	}
	return u, nil
}

func (r queries) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	var w where
	if role != "" {
		w.add("role = ?", role)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, mapError("postgres.ListUsers", err)
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.PhotoURL, &u.Role, &u.SeenAt); err != nil {
			return nil, mapError("postgres.ListUsers", err)
		}
		out = append(out, u)
	}
	return out, mapError("postgres.ListUsers", rows.Err())
}

const tuitionColumns = `id, student_id, student_name, subject, class, location, salary, description, status, created_at, updated_at`

func scanTuition(row scanner) (model.Tuition, error) {
	var t model.Tuition
	err := row.Scan(&t.ID, &t.StudentID, &t.StudentName, &t.Subject, &t.Class, &t.Location,
		&t.Salary, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r queries) GetTuition(ctx context.Context, id string) (model.Tuition, error) {
	t, err := scanTuition(r.q.QueryRowContext(ctx, `SELECT `+tuitionColumns+` FROM tuitions WHERE id = $1`, id))
	if err != nil {
		return model.Tuition{}, mapError("postgres.GetTuition", err)
	}
	return t, nil
}

func (r queries) ListTuitions(ctx context.Context, f store.TuitionFilter) ([]model.Tuition, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = ?", f.StudentID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Subject != "" {
		w.add("LOWER(subject) = LOWER(?)", f.Subject)
	}
	if f.Location != "" {
		w.add("location ILIKE '%' || ? || '%'", f.Location)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+tuitionColumns+` FROM tuitions`+w.String()+` ORDER BY created_at DESC, id`, w.args...)
	if err != nil {
		return nil, mapError("postgres.ListTuitions", err)
	}
	defer rows.Close()

	out := make([]model.Tuition, 0)
	for rows.Next() {
		t, err := scanTuition(rows)
		if err != nil {
			return nil, mapError("postgres.ListTuitions", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const applicationColumns = `id, tuition_id, student_id, tutor_id, tutor_name, qualifications, experience, expected_salary, status, created_at, updated_at`

func scanApplication(row scanner) (model.Application, error) {
	var a model.Application
	err := row.Scan(&a.ID, &a.TuitionID, &a.StudentID, &a.TutorID, &a.TutorName, &a.Qualifications,
		&a.Experience, &a.ExpectedSalary, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r queries) GetApplication(ctx context.Context, id string) (model.Application, error) {
	a, err := scanApplication(r.q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return model.Application{}, mapError("postgres.GetApplication", err)
	}
	return a, nil
}

func (r queries) ListApplications(ctx context.Context, f store.ApplicationFilter) ([]model.Application, error) {
	var w where
	if f.TuitionID != "" {
		w.add("tuition_id = ?", f.TuitionID)
	}
	if f.TutorID != "" {
		w.add("tutor_id = ?", f.TutorID)
	}
	if f.StudentID != "" {
		w.add("student_id = ?", f.StudentID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	return r.applications(ctx, `SELECT `+applicationColumns+` FROM applications`+w.String()+` ORDER BY created_at DESC, id`, w.args...)
}

func (r queries) applications(ctx context.Context, query string, args ...any) ([]model.Application, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("postgres.ListApplications", err)
	}
	defer rows.Close()

	out := make([]model.Application, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, mapError("postgres.ListApplications", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const paymentColumns = `id, application_id, tuition_id, student_id, tutor_id, amount, currency, transaction_ref, status, created_at, updated_at`

func scanPayment(row scanner) (model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.ApplicationID, &p.TuitionID, &p.StudentID, &p.TutorID, &p.Amount,
		&p.Currency, &p.TransactionRef, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r queries) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return model.Payment{}, mapError("postgres.GetPayment", err)
	}
	return p, nil
}

func (r queries) ListPayments(ctx context.Context, f store.PaymentFilter) ([]model.Payment, error) {
	var w where
	if f.StudentID != "" {
		w.add("student_id = ?", f.StudentID)
	}
	if f.ApplicationID != "" {
		w.add("application_id = ?", f.ApplicationID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if !f.CreatedBefore.IsZero() {
		w.add("created_at < ?", f.CreatedBefore)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments`+w.String()+` ORDER BY created_at DESC, id`, w.args...)
	if err != nil {
		return nil, mapError("postgres.ListPayments", err)
	}
	defer rows.Close()

	out := make([]model.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapError("postgres.ListPayments", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const sessionColumns = `id, tuition_id, application_id, student_id, tutor_id, subject, starts_at, ends_at, location, notes, status, created_by, created_at, updated_at`

func scanSession(row scanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.TuitionID, &s.ApplicationID, &s.StudentID, &s.TutorID, &s.Subject,
		&s.StartsAt, &s.EndsAt, &s.Location, &s.Notes, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r queries) GetSession(ctx context.Context, id string) (model.Session, error) {
	s, err := scanSession(r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return model.Session{}, mapError("postgres.GetSession", err)
	}
	return s, nil
}

func (r queries) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE student_id = $1 OR tutor_id = $1
		ORDER BY starts_at, id
	`, userID)
	if err != nil {
		return nil, mapError("postgres.ListSessions", err)
	}
	defer rows.Close()

	out := make([]model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, mapError("postgres.ListSessions", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const conversationColumns = `id, tuition_id, student_id, tutor_id, last_message, last_message_at, student_unread, tutor_unread, created_at`

func scanConversation(row scanner) (model.Conversation, error) {
	var (
		c    model.Conversation
		last sql.NullTime
	)
	err := row.Scan(&c.ID, &c.TuitionID, &c.StudentID, &c.TutorID, &c.LastMessage, &last,
		&c.StudentUnread, &c.TutorUnread, &c.CreatedAt)
	if last.Valid {
		at := last.Time
		c.LastMessageAt = &at
	}
	return c, err
}

func (r queries) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	c, err := scanConversation(r.q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return model.Conversation{}, mapError("postgres.GetConversation", err)
	}
	return c, nil
}

func (r queries) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE student_id = $1 OR tutor_id = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC, id
	`, userID)
	if err != nil {
		return nil, mapError("postgres.ListConversations", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, mapError("postgres.ListConversations", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const messageColumns = `id, conversation_id, seq, sender_id, sender_name, text, read, created_at`

func (r queries) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return nil, mapError("postgres.ListMessages", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.SenderName, &m.Text, &m.Read, &m.CreatedAt); err != nil {
			return nil, mapError("postgres.ListMessages", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
