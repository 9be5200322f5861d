package model

import "time"

// Role is the marketplace role attached to a verified identity.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
	// RoleSystem is used by background workers re-running idempotent steps.
	RoleSystem Role = "system"
)

// User is the verified caller identity supplied by the identity provider.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	PhotoURL string    `json:"photo_url,omitempty"`
	Role     Role      `json:"role"`
	SeenAt   time.Time `json:"seen_at,omitempty"`
}

// System returns the identity used by background jobs.
func System() User {
	return User{ID: "system", Name: "system", Role: RoleSystem}
}

type TuitionStatus string

const (
	TuitionPending  TuitionStatus = "pending"
	TuitionApproved TuitionStatus = "approved"
	TuitionRejected TuitionStatus = "rejected"
)

// Tuition is a tutoring request posted by a student.
type Tuition struct {
	ID          string        `json:"id"`
	StudentID   string        `json:"student_id"`
	StudentName string        `json:"student_name"`
	Subject     string        `json:"subject"`
	Class       string        `json:"class,omitempty"`
	Location    string        `json:"location"`
	Salary      int64         `json:"salary"`
	Description string        `json:"description,omitempty"`
	Status      TuitionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Application is a tutor's bid on a tuition.
type Application struct {
	ID             string            `json:"id"`
	TuitionID      string            `json:"tuition_id"`
	StudentID      string            `json:"student_id"`
	TutorID        string            `json:"tutor_id"`
	TutorName      string            `json:"tutor_name"`
	Qualifications string            `json:"qualifications"`
	Experience     string            `json:"experience"`
	ExpectedSalary int64             `json:"expected_salary"`
	Status         ApplicationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is a ledger record for one checkout attempt.
type Payment struct {
	ID             string        `json:"id"`
	ApplicationID  string        `json:"application_id"`
	TuitionID      string        `json:"tuition_id"`
	StudentID      string        `json:"student_id"`
	TutorID        string        `json:"tutor_id"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	TransactionRef string        `json:"transaction_ref"`
	Status         PaymentStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is a single scheduled class for a hired application.
type Session struct {
	ID            string        `json:"id"`
	TuitionID     string        `json:"tuition_id"`
	ApplicationID string        `json:"application_id"`
	StudentID     string        `json:"student_id"`
	TutorID       string        `json:"tutor_id"`
	Subject       string        `json:"subject"`
	StartsAt      time.Time     `json:"start_time"`
	EndsAt        time.Time     `json:"end_time"`
	Location      string        `json:"location,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Status        SessionStatus `json:"status"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasParticipant reports whether userID is the session's student or tutor.
func (s Session) HasParticipant(userID string) bool {
	return userID != "" && (s.StudentID == userID || s.TutorID == userID)
}

// Conversation is the chat thread for one (tuition, student, tutor) triple.
type Conversation struct {
	ID            string     `json:"id"`
	TuitionID     string     `json:"tuition_id"`
	StudentID     string     `json:"student_id"`
	TutorID       string     `json:"tutor_id"`
	LastMessage   string     `json:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	StudentUnread int        `json:"student_unread"`
	TutorUnread   int        `json:"tutor_unread"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HasParticipant reports whether userID is one side of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.StudentID == userID || c.TutorID == userID)
}

// Counterpart returns the other participant's id.
func (c Conversation) Counterpart(userID string) string {
	if userID == c.StudentID {
		return c.TutorID
	}
	return c.StudentID
}

// UnreadFor returns the unread counter of userID.
func (c Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.StudentID:
		return c.StudentUnread
	case c.TutorID:
		return c.TutorUnread
	}
	return 0
}

// SetUnread overwrites the unread counter of userID.
func (c *Conversation) SetUnread(userID string, n int) {
	switch userID {
	case c.StudentID:
		c.StudentUnread = n
	case c.TutorID:
		c.TutorUnread = n
	}
}

// Message is an immutable chat line. Seq is the server append order inside
// its conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
