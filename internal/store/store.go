// Package store defines the data-access contract for marketplace entities.
// Implementations live in store/postgres and store/memory.
package store

import (
	"context"
	"time"

	"tutormarket/internal/model"
)

// TuitionFilter narrows tuition listings. Zero values match everything.
type TuitionFilter struct {
	StudentID string
	Status    model.TuitionStatus
	Subject   string
	Location  string
}

// ApplicationFilter narrows application listings.
type ApplicationFilter struct {
	TuitionID string
	TutorID   string
	StudentID string
	Status    model.ApplicationStatus
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	StudentID     string
	ApplicationID string
	Status        model.PaymentStatus
	CreatedBefore time.Time
}

// Reader holds point-in-time reads. Missing entities are reported as
// apperr.ErrNotFound.
type Reader interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	// ListUsers returns users ordered by id; an empty role matches all.
	ListUsers(ctx context.Context, role model.Role) ([]model.User, error)
	GetTuition(ctx context.Context, id string) (model.Tuition, error)
	ListTuitions(ctx context.Context, f TuitionFilter) ([]model.Tuition, error)
	GetApplication(ctx context.Context, id string) (model.Application, error)
	ListApplications(ctx context.Context, f ApplicationFilter) ([]model.Application, error)
	GetPayment(ctx context.Context, id string) (model.Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]model.Payment, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context, userID string) ([]model.Session, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Tx is a unit of work. Lock* methods are the per-entity serialization
// points: a second transaction locking the same id blocks until the first
// commits or rolls back.
type Tx interface {
	Reader

	LockTuition(ctx context.Context, id string) (model.Tuition, error)
	LockApplication(ctx context.Context, id string) (model.Application, error)
	LockConversation(ctx context.Context, id string) (model.Conversation, error)
	LockSession(ctx context.Context, id string) (model.Session, error)

	// UpsertUser records a user. The role is only written on insert; after
	// that it changes through SetUserRole.
	UpsertUser(ctx context.Context, u model.User) error
	SetUserRole(ctx context.Context, id string, role model.Role) error

	InsertTuition(ctx context.Context, t *model.Tuition) error
	UpdateTuition(ctx context.Context, t model.Tuition) error
	DeleteTuition(ctx context.Context, id string) error

	// InsertApplication reports apperr.ErrDuplicateApplication when the
	// tutor already applied to the tuition.
	InsertApplication(ctx context.Context, a *model.Application) error
	UpdateApplication(ctx context.Context, a model.Application) error
	DeleteApplication(ctx context.Context, id string) error
	FindApplication(ctx context.Context, tuitionID, tutorID string) (model.Application, bool, error)
	ApprovedApplication(ctx context.Context, tuitionID string) (model.Application, bool, error)
	CountApplications(ctx context.Context, tuitionID string) (int, error)

	InsertPayment(ctx context.Context, p *model.Payment) error
	UpdatePayment(ctx context.Context, p model.Payment) error
	PaymentByRef(ctx context.Context, ref string) (model.Payment, bool, error)
	SuccessfulPayment(ctx context.Context, applicationID string) (model.Payment, bool, error)
	HasPendingPayment(ctx context.Context, applicationID string) (bool, error)

	InsertSession(ctx context.Context, s *model.Session) error
	UpdateSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, id string) error

	// EnsureConversation returns the conversation for the triple in c,
	// creating it from c when absent. created reports which happened.
	EnsureConversation(ctx context.Context, c model.Conversation) (conv model.Conversation, created bool, err error)
	UpdateConversation(ctx context.Context, c model.Conversation) error
	// InsertMessage assigns m.Seq as the next position in its conversation.
	InsertMessage(ctx context.Context, m *model.Message) error
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) error
}

// Store is the entity store.
type Store interface {
	Reader
	// InTx runs fn in a transaction. Nothing fn wrote is visible unless fn
	// returns nil and the commit succeeds.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
