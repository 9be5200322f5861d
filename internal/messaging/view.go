package messaging

import (
	"sort"
	"sync"

	"tutormarket/internal/model"
)

// View is a client-side mirror of one conversation. Messages are kept
// unique by id and ordered by Seq regardless of arrival order. Unread is
// the server counter plus messages from the other side received after it.
type View struct {
	mu             sync.Mutex
	conversationID string
	self           string
	byID           map[string]model.Message
	serverUnread   int
	serverSeq      int64
	tentative      map[string]struct{}
}

// NewView returns an empty view of conversationID for the user self.
func NewView(conversationID, self string) *View {
	return &View{
		conversationID: conversationID,
		self:           self,
		byID:           map[string]model.Message{},
		tentative:      map[string]struct{}{},
	}
}

// Load replaces the view with fetched history.
func (v *View) Load(history []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byID = make(map[string]model.Message, len(history))
	v.tentative = map[string]struct{}{}
	v.serverSeq = 0
	for _, m := range history {
		v.byID[m.ID] = m
		if m.Seq > v.serverSeq {
			v.serverSeq = m.Seq
		}
	}
}

// Apply adds a received message. It reports false for duplicates and for
// messages of other conversations.
func (v *View) Apply(m model.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m.ConversationID != v.conversationID {
		return false
	}
	if _, ok := v.byID[m.ID]; ok {
		return false
	}
	v.byID[m.ID] = m
	if m.SenderID != v.self && !m.Read && m.Seq > v.serverSeq {
		v.tentative[m.ID] = struct{}{}
	}
	return true
}

// SetServerUnread records the counter from a conversation update. Messages
// up to the newest one applied so far are assumed to be counted in it.
func (v *View) SetServerUnread(conv model.Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if conv.ID != v.conversationID {
		return
	}
	v.serverUnread = conv.UnreadFor(v.self)
	v.tentative = map[string]struct{}{}
	if s := v.maxSeq(); s > v.serverSeq {
		v.serverSeq = s
	}
}

// MarkReadLocally clears the unread state after a mark_read request.
func (v *View) MarkReadLocally() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.serverUnread = 0
	v.tentative = map[string]struct{}{}
	for id, m := range v.byID {
		if m.SenderID != v.self {
			m.Read = true
			v.byID[id] = m
		}
	}
}

// Unread returns the unread count for the view's owner.
func (v *View) Unread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.serverUnread + len(v.tentative)
}

// Messages returns the messages ordered by Seq.
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, 0, len(v.byID))
	for _, m := range v.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Observe feeds a server event into the view. It reports whether the view
// changed.
func (v *View) Observe(ev Event) bool {
	switch ev.Type {
	case EventReceiveMessage:
		var m model.Message
		if ev.Decode(&m) != nil {
			return false
		}
		return v.Apply(m)
	case EventConversationUpdated:
		var conv model.Conversation
		if ev.Decode(&conv) != nil || conv.ID != v.conversationID {
			return false
		}
		v.SetServerUnread(conv)
		return true
	}
	return false
}

func (v *View) maxSeq() int64 {
	var top int64
	for _, m := range v.byID {
		if m.Seq > top {
			top = m.Seq
		}
	}
	return top
}
