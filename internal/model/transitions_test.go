package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTuitionTransitions(t *testing.T) {
	assert.True(t, TuitionPending.CanTransition(TuitionApproved))
	assert.True(t, TuitionPending.CanTransition(TuitionRejected))
	for _, terminal := range []TuitionStatus{TuitionApproved, TuitionRejected} {
		for _, to := range []TuitionStatus{TuitionPending, TuitionApproved, TuitionRejected} {
			assert.False(t, terminal.CanTransition(to), "%s -> %s", terminal, to)
		}
	}
}

func TestSessionTerminal(t *testing.T) {
	assert.False(t, SessionScheduled.Terminal())
	assert.True(t, SessionCompleted.Terminal())
	assert.True(t, SessionCancelled.Terminal())
	assert.False(t, SessionCompleted.CanTransition(SessionCancelled))
}

func TestConversationCounters(t *testing.T) {
	c := Conversation{StudentID: "s@x.com", TutorID: "t@x.com"}
	c.SetUnread("t@x.com", 3)
	assert.Equal(t, 3, c.UnreadFor("t@x.com"))
	assert.Equal(t, 0, c.UnreadFor("s@x.com"))
	assert.Equal(t, "s@x.com", c.Counterpart("t@x.com"))
	assert.False(t, c.HasParticipant("other@x.com"))
	assert.False(t, c.HasParticipant(""))
}
