// Package memory is a map-backed store.Store used for development and tests.
// Transactions run one at a time against a private copy of the data which
// replaces the live copy on success.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

type data struct {
	users         map[string]model.User
	tuitions      map[string]model.Tuition
	applications  map[string]model.Application
	payments      map[string]model.Payment
	sessions      map[string]model.Session
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
}

func newData() *data {
	return &data{
		users:         map[string]model.User{},
		tuitions:      map[string]model.Tuition{},
		applications:  map[string]model.Application{},
		payments:      map[string]model.Payment{},
		sessions:      map[string]model.Session{},
		conversations: map[string]model.Conversation{},
		messages:      map[string][]model.Message{},
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *data) clone() *data {
	msgs := make(map[string][]model.Message, len(d.messages))
	for k, v := range d.messages {
		msgs[k] = append([]model.Message(nil), v...)
	}
	return &data{
		users:         cloneMap(d.users),
		tuitions:      cloneMap(d.tuitions),
		applications:  cloneMap(d.applications),
		payments:      cloneMap(d.payments),
		sessions:      cloneMap(d.sessions),
		conversations: cloneMap(d.conversations),
		messages:      msgs,
	}
}

// Store implements store.Store in memory.
type Store struct {
	txMu   sync.Mutex // serializes transactions
	mu     sync.RWMutex
	data   *data
	faults map[string]error
	closed bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: newData(), faults: map[string]error{}}
}

// FailOn makes the next write named op fail with err inside a transaction.
// Op names match the store.Tx method names, e.g. "EnsureConversation".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) takeFault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.faults[op]
	delete(s.faults, op)
	return err
}

// InTx runs fn against a private copy and publishes it if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&tx{reader: reader{d: work}, s: s}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return apperr.New("memory.Ping", apperr.ErrUnavailable, "store closed")
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return lockedRead(s, func(r reader) (model.User, error) { return r.GetUser(ctx, id) })
}

func (s *Store) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	return lockedRead(s, func(r reader) ([]model.User, error) { return r.ListUsers(ctx, role) })
}

func (s *Store) GetTuition(ctx context.Context, id string) (model.Tuition, error) {
	return lockedRead(s, func(r reader) (model.Tuition, error) { return r.GetTuition(ctx, id) })
}

func (s *Store) ListTuitions(ctx context.Context, f store.TuitionFilter) ([]model.Tuition, error) {
	return lockedRead(s, func(r reader) ([]model.Tuition, error) { return r.ListTuitions(ctx, f) })
}

func (s *Store) GetApplication(ctx context.Context, id string) (model.Application, error) {
	return lockedRead(s, func(r reader) (model.Application, error) { return r.GetApplication(ctx, id) })
}

func (s *Store) ListApplications(ctx context.Context, f store.ApplicationFilter) ([]model.Application, error) {
	return lockedRead(s, func(r reader) ([]model.Application, error) { return r.ListApplications(ctx, f) })
}

func (s *Store) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	return lockedRead(s, func(r reader) (model.Payment, error) { return r.GetPayment(ctx, id) })
}

func (s *Store) ListPayments(ctx context.Context, f store.PaymentFilter) ([]model.Payment, error) {
	return lockedRead(s, func(r reader) ([]model.Payment, error) { return r.ListPayments(ctx, f) })
}

func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	return lockedRead(s, func(r reader) (model.Session, error) { return r.GetSession(ctx, id) })
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	return lockedRead(s, func(r reader) ([]model.Session, error) { return r.ListSessions(ctx, userID) })
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	return lockedRead(s, func(r reader) (model.Conversation, error) { return r.GetConversation(ctx, id) })
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return lockedRead(s, func(r reader) ([]model.Conversation, error) { return r.ListConversations(ctx, userID) })
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return lockedRead(s, func(r reader) ([]model.Message, error) { return r.ListMessages(ctx, conversationID) })
}

// lockedRead holds the read lock for the whole read so slices returned are
// copied from a consistent snapshot.
func lockedRead[T any](s *Store, fn func(r reader) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(reader{d: s.data})
}

// reader implements store.Reader over one data snapshot.
type reader struct {
	d *data
}

func (r reader) GetUser(_ context.Context, id string) (model.User, error) {
	u, ok := r.d.users[id]
	if !ok {
		return model.User{}, apperr.NotFound("memory.GetUser", "user")
	}
	return u, nil
}

func (r reader) ListUsers(_ context.Context, role model.Role) ([]model.User, error) {
	out := make([]model.User, 0)
	for _, u := range r.d.users {
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) GetTuition(_ context.Context, id string) (model.Tuition, error) {
	t, ok := r.d.tuitions[id]
	if !ok {
		return model.Tuition{}, apperr.NotFound("memory.GetTuition", "tuition")
	}
	return t, nil
}

func (r reader) ListTuitions(_ context.Context, f store.TuitionFilter) ([]model.Tuition, error) {
	out := make([]model.Tuition, 0)
	for _, t := range r.d.tuitions {
		if f.StudentID != "" && t.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Subject != "" && !strings.EqualFold(t.Subject, f.Subject) {
			continue
		}
		if f.Location != "" && !strings.Contains(strings.ToLower(t.Location), strings.ToLower(f.Location)) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r reader) GetApplication(_ context.Context, id string) (model.Application, error) {
	a, ok := r.d.applications[id]
	if !ok {
		return model.Application{}, apperr.NotFound("memory.GetApplication", "application")
	}
	return a, nil
}

func (r reader) ListApplications(_ context.Context, f store.ApplicationFilter) ([]model.Application, error) {
	out := make([]model.Application, 0)
	for _, a := range r.d.applications {
		if f.TuitionID != "" && a.TuitionID != f.TuitionID {
			continue
		}
		if f.TutorID != "" && a.TutorID != f.TutorID {
			continue
		}
		if f.StudentID != "" && a.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r reader) GetPayment(_ context.Context, id string) (model.Payment, error) {
	p, ok := r.d.payments[id]
	if !ok {
		return model.Payment{}, apperr.NotFound("memory.GetPayment", "payment")
	}
	return p, nil
}

func (r reader) ListPayments(_ context.Context, f store.PaymentFilter) ([]model.Payment, error) {
	out := make([]model.Payment, 0)
	for _, p := range r.d.payments {
		if f.StudentID != "" && p.StudentID != f.StudentID {
			continue
		}
		if f.ApplicationID != "" && p.ApplicationID != f.ApplicationID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if !f.CreatedBefore.IsZero() && !p.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r reader) GetSession(_ context.Context, id string) (model.Session, error) {
	s, ok := r.d.sessions[id]
	if !ok {
		return model.Session{}, apperr.NotFound("memory.GetSession", "session")
	}
	return s, nil
}

func (r reader) ListSessions(_ context.Context, userID string) ([]model.Session, error) {
	out := make([]model.Session, 0)
	for _, s := range r.d.sessions {
		if s.HasParticipant(userID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (r reader) GetConversation(_ context.Context, id string) (model.Conversation, error) {
	c, ok := r.d.conversations[id]
	if !ok {
		return model.Conversation{}, apperr.NotFound("memory.GetConversation", "conversation")
	}
	return c, nil
}

func (r reader) ListConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	out := make([]model.Conversation, 0)
	for _, c := range r.d.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(activity(out[i]), activity(out[j]), out[i].ID, out[j].ID)
	})
	return out, nil
}

func (r reader) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	return append([]model.Message{}, r.d.messages[conversationID]...), nil
}

func activity(c model.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func newer(a, b time.Time, idA, idB string) bool {
	if a.Equal(b) {
		return idA < idB
	}
	return a.After(b)
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
