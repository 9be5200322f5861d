package memory

import (
	"context"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

var _ store.Tx = (*tx)(nil)

// tx writes into the private copy owned by one InTx call. Locks are implied
// because InTx admits a single transaction at a time.
type tx struct {
	reader
	s *Store
}

func (t *tx) fault(op string) error {
	return t.s.takeFault(op)
}

func (t *tx) LockTuition(ctx context.Context, id string) (model.Tuition, error) {
	return t.GetTuition(ctx, id)
}

func (t *tx) LockApplication(ctx context.Context, id string) (model.Application, error) {
	return t.GetApplication(ctx, id)
}

func (t *tx) LockConversation(ctx context.Context, id string) (model.Conversation, error) {
	return t.GetConversation(ctx, id)
}

func (t *tx) LockSession(ctx context.Context, id string) (model.Session, error) {
	return t.GetSession(ctx, id)
}

func (t *tx) UpsertUser(_ context.Context, u model.User) error {
	if err := t.fault("UpsertUser"); err != nil {
		return err
	}
	stamp(&u.SeenAt)
	if cur, ok := t.d.users[u.ID]; ok {
		u.Role = cur.Role
	}
	t.d.users[u.ID] = u
	return nil
}

func (t *tx) SetUserRole(_ context.Context, id string, role model.Role) error {
	if err := t.fault("SetUserRole"); err != nil {
		return err
	}
	u, ok := t.d.users[id]
	if !ok {
		return apperr.NotFound("memory.SetUserRole", "user")
	}
	u.Role = role
	t.d.users[id] = u
	return nil
}

func (t *tx) InsertTuition(_ context.Context, tu *model.Tuition) error {
	if err := t.fault("InsertTuition"); err != nil {
		return err
	}
	newID(&tu.ID)
	stamp(&tu.CreatedAt)
	stamp(&tu.UpdatedAt)
	t.d.tuitions[tu.ID] = *tu
	return nil
}

func (t *tx) UpdateTuition(_ context.Context, tu model.Tuition) error {
	if err := t.fault("UpdateTuition"); err != nil {
		return err
	}
	if _, ok := t.d.tuitions[tu.ID]; !ok {
		return apperr.NotFound("memory.UpdateTuition", "tuition")
	}
	t.d.tuitions[tu.ID] = tu
	return nil
}

func (t *tx) DeleteTuition(_ context.Context, id string) error {
	if err := t.fault("DeleteTuition"); err != nil {
		return err
	}
	if _, ok := t.d.tuitions[id]; !ok {
		return apperr.NotFound("memory.DeleteTuition", "tuition")
	}
	delete(t.d.tuitions, id)
	return nil
}

func (t *tx) InsertApplication(ctx context.Context, a *model.Application) error {
	if err := t.fault("InsertApplication"); err != nil {
		return err
	}
	if _, exists, _ := t.FindApplication(ctx, a.TuitionID, a.TutorID); exists {
		return apperr.New("memory.InsertApplication", apperr.ErrDuplicateApplication, "already applied to this tuition")
	}
	newID(&a.ID)
	stamp(&a.CreatedAt)
	stamp(&a.UpdatedAt)
	t.d.applications[a.ID] = *a
	return nil
}

func (t *tx) UpdateApplication(ctx context.Context, a model.Application) error {
	if err := t.fault("UpdateApplication"); err != nil {
		return err
	}
	if _, ok := t.d.applications[a.ID]; !ok {
		return apperr.NotFound("memory.UpdateApplication", "application")
	}
	if a.Status == model.ApplicationApproved {
		// mirrors the partial unique index in postgres
		if other, ok, _ := t.ApprovedApplication(ctx, a.TuitionID); ok && other.ID != a.ID {
			return apperr.New("memory.UpdateApplication", apperr.ErrTuitionAlreadyHired, "tuition already has a hired tutor")
		}
	}
	t.d.applications[a.ID] = a
	return nil
}

func (t *tx) DeleteApplication(_ context.Context, id string) error {
	if err := t.fault("DeleteApplication"); err != nil {
		return err
	}
	if _, ok := t.d.applications[id]; !ok {
		return apperr.NotFound("memory.DeleteApplication", "application")
	}
	delete(t.d.applications, id)
	return nil
}

func (t *tx) FindApplication(_ context.Context, tuitionID, tutorID string) (model.Application, bool, error) {
	for _, a := range t.d.applications {
		if a.TuitionID == tuitionID && a.TutorID == tutorID {
			return a, true, nil
		}
	}
	return model.Application{}, false, nil
}

func (t *tx) ApprovedApplication(_ context.Context, tuitionID string) (model.Application, bool, error) {
	for _, a := range t.d.applications {
		if a.TuitionID == tuitionID && a.Status == model.ApplicationApproved {
			return a, true, nil
		}
	}
	return model.Application{}, false, nil
}

func (t *tx) CountApplications(_ context.Context, tuitionID string) (int, error) {
	n := 0
	for _, a := range t.d.applications {
		if a.TuitionID == tuitionID {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertPayment(_ context.Context, p *model.Payment) error {
	if err := t.fault("InsertPayment"); err != nil {
		return err
	}
	for _, existing := range t.d.payments {
		if p.TransactionRef != "" && existing.TransactionRef == p.TransactionRef {
			return apperr.New("memory.InsertPayment", apperr.ErrPreconditionFailed, "transaction already recorded")
		}
	}
	newID(&p.ID)
	stamp(&p.CreatedAt)
	stamp(&p.UpdatedAt)
	t.d.payments[p.ID] = *p
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p model.Payment) error {
	if err := t.fault("UpdatePayment"); err != nil {
		return err
	}
	prev, ok := t.d.payments[p.ID]
	if !ok {
		return apperr.NotFound("memory.UpdatePayment", "payment")
	}
	if prev.Status == model.PaymentSuccess {
		return apperr.New("memory.UpdatePayment", apperr.ErrInvalidTransition, "successful payments are immutable")
	}
	t.d.payments[p.ID] = p
	return nil
}

func (t *tx) PaymentByRef(_ context.Context, ref string) (model.Payment, bool, error) {
	for _, p := range t.d.payments {
		if p.TransactionRef == ref {
			return p, true, nil
		}
	}
	return model.Payment{}, false, nil
}

func (t *tx) SuccessfulPayment(_ context.Context, applicationID string) (model.Payment, bool, error) {
	for _, p := range t.d.payments {
		if p.ApplicationID == applicationID && p.Status == model.PaymentSuccess {
			return p, true, nil
		}
	}
	return model.Payment{}, false, nil
}

func (t *tx) HasPendingPayment(_ context.Context, applicationID string) (bool, error) {
	for _, p := range t.d.payments {
		if p.ApplicationID == applicationID && p.Status == model.PaymentPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertSession(_ context.Context, s *model.Session) error {
	if err := t.fault("InsertSession"); err != nil {
		return err
	}
	newID(&s.ID)
	stamp(&s.CreatedAt)
	stamp(&s.UpdatedAt)
	t.d.sessions[s.ID] = *s
	return nil
}

func (t *tx) UpdateSession(_ context.Context, s model.Session) error {
	if err := t.fault("UpdateSession"); err != nil {
		return err
	}
	if _, ok := t.d.sessions[s.ID]; !ok {
		return apperr.NotFound("memory.UpdateSession", "session")
	}
	t.d.sessions[s.ID] = s
	return nil
}

func (t *tx) DeleteSession(_ context.Context, id string) error {
	if err := t.fault("DeleteSession"); err != nil {
		return err
	}
	if _, ok := t.d.sessions[id]; !ok {
		return apperr.NotFound("memory.DeleteSession", "session")
	}
	delete(t.d.sessions, id)
	return nil
}

func (t *tx) EnsureConversation(_ context.Context, c model.Conversation) (model.Conversation, bool, error) {
	if err := t.fault("EnsureConversation"); err != nil {
		return model.Conversation{}, false, err
	}
	for _, existing := range t.d.conversations {
		if existing.TuitionID == c.TuitionID && existing.StudentID == c.StudentID && existing.TutorID == c.TutorID {
			return existing, false, nil
		}
	}
	newID(&c.ID)
	stamp(&c.CreatedAt)
	t.d.conversations[c.ID] = c
	return c, true, nil
}

func (t *tx) UpdateConversation(_ context.Context, c model.Conversation) error {
	if err := t.fault("UpdateConversation"); err != nil {
		return err
	}
	if _, ok := t.d.conversations[c.ID]; !ok {
		return apperr.NotFound("memory.UpdateConversation", "conversation")
	}
	t.d.conversations[c.ID] = c
	return nil
}

func (t *tx) InsertMessage(_ context.Context, m *model.Message) error {
	if err := t.fault("InsertMessage"); err != nil {
		return err
	}
	if _, ok := t.d.conversations[m.ConversationID]; !ok {
		return apperr.NotFound("memory.InsertMessage", "conversation")
	}
	msgs := t.d.messages[m.ConversationID]
	newID(&m.ID)
	stamp(&m.CreatedAt)
	m.Seq = int64(len(msgs)) + 1
	t.d.messages[m.ConversationID] = append(msgs, *m)
	return nil
}

func (t *tx) MarkMessagesRead(_ context.Context, conversationID, readerID string) error {
	if err := t.fault("MarkMessagesRead"); err != nil {
		return err
	}
	msgs := t.d.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID {
			msgs[i].Read = true
		}
	}
	return nil
}
