package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the single entry point external collaborators use: it owns the
// conversation tree and exposes message, metadata, and splice operations.
// Branch lifecycle operations live on the BranchManager view returned by
// Branches().
//
// Commands for one session are expected to arrive serialized, but every
// operation still takes the session lock so a hosting environment that
// interleaves commands cannot corrupt state.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	tree      *conversationTree
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithMaxBranches overrides the branch ceiling (including main).
func WithMaxBranches(n int) Option {
	return func(s *Session) { s.tree.maxBranches = n }
}

// New creates a session with its root "main" branch active.
func New(opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		tree:      newConversationTree(DefaultMaxBranches),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Branches returns the branch lifecycle view. It shares the session's lock,
// so branch operations and message operations never interleave.
func (s *Session) Branches() *BranchManager { return &BranchManager{s: s} }

// Meta carries the optional fields of a new message.
type Meta struct {
	Reasoning string
	Sources   []string
}

// AddMessage appends a message to the active branch. The role must be one
// of the allowed enumeration and the content must be non-blank text;
// violations return ErrInvalidInput.
func (s *Session) AddMessage(role Role, content string, meta Meta) (Message, error) {
	if !ValidRole(role) {
		return Message{}, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("%w: blank content", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := newMessage(role, content)
	msg.Reasoning = meta.Reasoning
	msg.Sources = append([]string(nil), meta.Sources...)
	if err := s.tree.append(s.tree.activeID, msg); err != nil {
		return Message{}, err
	}
	return msg.clone(), nil
}

// Messages returns the active branch's visible messages in conversation
// order. Soft-deleted and condensed messages are excluded.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, _ := s.tree.branchMessages(s.tree.activeID, false)
	return msgs
}

// AllMessages returns the active branch's full sequence including
// soft-deleted and condensed messages, for audit and export.
func (s *Session) AllMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, _ := s.tree.branchMessages(s.tree.activeID, true)
	return msgs
}

// BranchMessages returns the visible messages of the given branch.
func (s *Session) BranchMessages(branchID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.branchMessages(branchID, false)
}

// History returns the active branch's effective history: ancestor messages
// up to each fork point followed by the branch's own visible messages. This
// is the sequence prompts are built from.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, _ := s.tree.lineage(s.tree.activeID)
	return msgs
}

// MessageAt returns the i-th visible message of the active branch. Negative
// indices resolve from the end, so MessageAt(-1) is the last message.
func (s *Session) MessageAt(i int) (Message, error) {
	msgs := s.Messages()
	if i < 0 {
		i += len(msgs)
	}
	if i < 0 || i >= len(msgs) {
		return Message{}, fmt.Errorf("%w: index %d out of range (len %d)", ErrNotFound, i, len(msgs))
	}
	return msgs[i], nil
}

// Pin marks a message as pinned. Unknown ids return false, not an error,
// so callers can treat "already in desired state" uniformly.
func (s *Session) Pin(messageID string) bool { return s.setPinned(messageID, true) }

// Unpin clears a message's pinned flag. Unknown ids return false.
func (s *Session) Unpin(messageID string) bool { return s.setPinned(messageID, false) }

func (s *Session) setPinned(messageID string, pinned bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tree.messages[messageID]
	if !ok {
		return false
	}
	m.Pinned = pinned
	return true
}

// SetFeedback records a user rating on a message. Values outside the
// feedback enumeration and unknown ids return false.
func (s *Session) SetFeedback(messageID string, fb Feedback) bool {
	switch fb {
	case FeedbackNone, FeedbackPositive, FeedbackNegative:
	default:
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tree.messages[messageID]
	if !ok {
		return false
	}
	m.Feedback = fb
	return true
}

// DeleteMessage soft-deletes a message: the content is replaced with a
// tombstone while the id, role, and position are preserved so references
// from summaries and branches stay valid. Unknown ids return false.
func (s *Session) DeleteMessage(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tree.messages[messageID]
	if !ok || m.Deleted {
		return false
	}
	m.Deleted = true
	m.Content = deletedMarker
	m.Reasoning = ""
	return true
}

// SearchMessages returns the active branch's visible messages whose content
// contains the query, case-insensitively. A blank query returns nothing:
// search never dumps the full history by accident.
func (s *Session) SearchMessages(query string) []Message {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	q := strings.ToLower(query)
	var hits []Message
	for _, m := range s.Messages() {
		if strings.Contains(strings.ToLower(m.Content), q) {
			hits = append(hits, m)
		}
	}
	return hits
}

// ApplySummary splices a summarization result into the active branch: a
// synthetic summary message is inserted at the condensed prefix's position
// and the condensed messages are hidden from default rendering. Nothing is
// physically removed and the preserved suffix keeps its ids and order. A
// failed or empty result is rejected without touching the tree.
func (s *Session) ApplySummary(res SummaryResult) (Message, error) {
	if !res.OK {
		return Message{}, fmt.Errorf("%w: cannot splice failed summary", ErrInvalidInput)
	}
	if len(res.OriginalIDs) == 0 {
		return Message{}, fmt.Errorf("%w: summary condenses no messages", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.tree.branches[s.tree.activeID]

	// Validate the whole prefix before mutating anything: splice is
	// all-or-nothing.
	pos := -1
	for _, id := range res.OriginalIDs {
		m, ok := s.tree.messages[id]
		if !ok {
			return Message{}, fmt.Errorf("%w: message %s", ErrNotFound, id)
		}
		if m.CondensedBy != "" {
			return Message{}, fmt.Errorf("%w: message %s already condensed", ErrInvalidInput, id)
		}
		if m.BranchID != b.ID {
			return Message{}, fmt.Errorf("%w: message %s is not on the active branch", ErrInvalidInput, id)
		}
		for i, bid := range b.MessageIDs {
			if bid == id && (pos == -1 || i < pos) {
				pos = i
			}
		}
	}

	sum := newSummaryMessage(res.Summary, res.OriginalIDs)
	sum.BranchID = b.ID
	s.tree.messages[sum.ID] = sum
	for _, id := range res.OriginalIDs {
		s.tree.messages[id].CondensedBy = sum.ID
	}

	b.MessageIDs = append(b.MessageIDs, "")
	copy(b.MessageIDs[pos+1:], b.MessageIDs[pos:])
	b.MessageIDs[pos] = sum.ID

	return sum.clone(), nil
}

// Snapshot returns deep copies of the active branch's visible messages.
// Re-importing a snapshot with Restore yields the same role/content/order,
// which is all later persistence needs from this core.
func (s *Session) Snapshot() []Message {
	return s.Messages()
}

// Restore appends a snapshot's messages onto the active branch of a fresh
// session, preserving ids. It fails if any id already exists.
func (s *Session) Restore(snapshot []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range snapshot {
		m := snapshot[i].clone()
		m.BranchID = ""
		if err := s.tree.append(s.tree.activeID, &m); err != nil {
			return err
		}
	}
	return nil
}
