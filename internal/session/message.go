// Package session implements the conversational session engine: the
// authoritative message/branch graph, the token budget tracker, and the
// summarization coordinator. One Session owns one conversation; concurrent
// sessions get independent instances and share nothing.
package session

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the allowed roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Feedback is an optional user rating on a message.
type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// deletedMarker replaces the content of soft-deleted messages. The message
// itself keeps its id and position so summaries and branches that reference
// it stay valid.
const deletedMarker = "[message deleted]"

// Message is a single entry in the conversation. A message is fully formed
// at creation; after that only metadata (pin, feedback) and the soft-delete
// transition may change.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time

	// Reasoning is an optional trace extracted from model output.
	Reasoning string
	// Sources lists citation labels for retrieved context, if any.
	Sources []string

	Pinned   bool
	Feedback Feedback

	// BranchID is the branch that owns this message.
	BranchID string
	// ParentMessageID links a branched or summarized message back to its
	// origin. Empty when the message has no lineage.
	ParentMessageID string

	// SummaryOf lists the ids this message condenses. Non-empty only for
	// synthetic summary messages.
	SummaryOf []string

	// Deleted marks a soft-deleted message (content tombstoned).
	Deleted bool
	// CondensedBy is the id of the summary message that replaced this one
	// in default rendering. Empty while the message is still visible.
	CondensedBy string
}

func newMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// visible reports whether the message appears in default chat rendering.
func (m *Message) visible() bool {
	return !m.Deleted && m.CondensedBy == ""
}

// clone returns a deep copy so callers can hold snapshots without racing
// the arena.
func (m *Message) clone() Message {
	c := *m
	if m.Sources != nil {
		c.Sources = append([]string(nil), m.Sources...)
	}
	if m.SummaryOf != nil {
		c.SummaryOf = append([]string(nil), m.SummaryOf...)
	}
	return c
}
