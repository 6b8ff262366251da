package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxBranches is the branch ceiling (including main) used when the
// caller does not configure one.
const DefaultMaxBranches = 10

// RootBranchName is the name of the branch created at session start. It can
// never be deleted.
const RootBranchName = "main"

// Branch is a named, ordered continuation of messages forked from a specific
// point in an ancestor branch. The message sequence is never reordered.
type Branch struct {
	ID        string
	Name      string
	CreatedAt time.Time

	// CreatedFromMessageID anchors the fork point. Empty only for the root
	// branch.
	CreatedFromMessageID string
	// ParentBranchID is the branch that was active at fork time. Empty only
	// for the root branch.
	ParentBranchID string

	// MessageIDs holds this branch's own messages in conversation order.
	MessageIDs []string
}

// MessageCount returns the number of messages owned by the branch.
func (b *Branch) MessageCount() int { return len(b.MessageIDs) }

func (b *Branch) clone() Branch {
	c := *b
	c.MessageIDs = append([]string(nil), b.MessageIDs...)
	return c
}

// conversationTree is the authoritative data structure: a flat arena of
// messages keyed by id plus the branch forest rooted at "main". All
// structural invariants are enforced here, at the single mutation points,
// so they cannot be violated by any valid API sequence.
type conversationTree struct {
	messages map[string]*Message
	branches map[string]*Branch

	// branchOrder preserves creation order for listing.
	branchOrder []string
	// children records fork relationships at creation time; the tree view
	// reflects exactly these, never inferred links.
	children map[string][]string

	rootID   string
	activeID string

	maxBranches int
}

func newConversationTree(maxBranches int) *conversationTree {
	if maxBranches <= 0 {
		maxBranches = DefaultMaxBranches
	}
	root := &Branch{
		ID:        uuid.NewString(),
		Name:      RootBranchName,
		CreatedAt: time.Now(),
	}
	return &conversationTree{
		messages:    map[string]*Message{},
		branches:    map[string]*Branch{root.ID: root},
		branchOrder: []string{root.ID},
		children:    map[string][]string{},
		rootID:      root.ID,
		activeID:    root.ID,
		maxBranches: maxBranches,
	}
}

// append adds a fully formed message to the given branch. The first message
// of a forked branch inherits the fork point as its parent, establishing
// lineage without duplicating storage.
func (t *conversationTree) append(branchID string, msg *Message) error {
	b, ok := t.branches[branchID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
	}
	if _, exists := t.messages[msg.ID]; exists {
		return fmt.Errorf("%w: duplicate message id %s", ErrInvalidInput, msg.ID)
	}
	msg.BranchID = b.ID
	if len(b.MessageIDs) == 0 && b.CreatedFromMessageID != "" && msg.ParentMessageID == "" {
		msg.ParentMessageID = b.CreatedFromMessageID
	}
	t.messages[msg.ID] = msg
	b.MessageIDs = append(b.MessageIDs, msg.ID)
	return nil
}

// createBranch forks a new branch from an existing, non-deleted message.
// The new branch becomes active: the user is now continuing from that point.
func (t *conversationTree) createBranch(fromMessageID, name string) (*Branch, error) {
	src, ok := t.messages[fromMessageID]
	if !ok || src.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, fromMessageID)
	}
	if len(t.branches) >= t.maxBranches {
		return nil, fmt.Errorf("%w: ceiling is %d", ErrBranchLimit, t.maxBranches)
	}
	if name == "" {
		name = fmt.Sprintf("Branch %d", len(t.branches))
	}
	b := &Branch{
		ID:                   uuid.NewString(),
		Name:                 name,
		CreatedAt:            time.Now(),
		CreatedFromMessageID: fromMessageID,
		ParentBranchID:       t.activeID,
	}
	t.branches[b.ID] = b
	t.branchOrder = append(t.branchOrder, b.ID)
	t.children[b.ParentBranchID] = append(t.children[b.ParentBranchID], b.ID)
	t.activeID = b.ID
	return b, nil
}

// deleteBranch removes a branch from the mapping. The root branch is never
// deletable. Children of the deleted branch are re-parented to its parent
// so the forest stays connected. Deleting the active branch atomically
// re-activates the root.
func (t *conversationTree) deleteBranch(id string) bool {
	b, ok := t.branches[id]
	if !ok || id == t.rootID {
		return false
	}

	// Re-parent children to the deleted branch's parent.
	parent := b.ParentBranchID
	for _, childID := range t.children[id] {
		if c, ok := t.branches[childID]; ok {
			c.ParentBranchID = parent
		}
		t.children[parent] = append(t.children[parent], childID)
	}
	delete(t.children, id)
	t.children[parent] = removeID(t.children[parent], id)

	// Any surviving branch anchored on a message this branch owned would be
	// left with an unresolvable fork point. Collapse those forks to this
	// branch's own fork point, which is owned by a surviving ancestor.
	for _, other := range t.branches {
		if other.ID == id || other.CreatedFromMessageID == "" {
			continue
		}
		if fork, ok := t.messages[other.CreatedFromMessageID]; ok && fork.BranchID == id {
			other.CreatedFromMessageID = b.CreatedFromMessageID
		}
	}

	delete(t.branches, id)
	t.branchOrder = removeID(t.branchOrder, id)

	if t.activeID == id {
		t.activeID = t.rootID
	}
	return true
}

// merge moves the source branch's message sequence onto the target, in
// order. The fork message is not part of the source's own sequence, so no
// exclusion step is needed. Self-merge is a no-op success. On unknown ids
// both branches are left untouched.
func (t *conversationTree) merge(sourceID, targetID string) error {
	src, ok := t.branches[sourceID]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrBranchNotFound, sourceID)
	}
	dst, ok := t.branches[targetID]
	if !ok {
		return fmt.Errorf("%w: target %s", ErrBranchNotFound, targetID)
	}
	if sourceID == targetID {
		return nil
	}
	for _, id := range src.MessageIDs {
		t.messages[id].BranchID = dst.ID
		dst.MessageIDs = append(dst.MessageIDs, id)
	}
	src.MessageIDs = nil
	return nil
}

// branchMessages returns the branch's own sequence. When includeHidden is
// false, soft-deleted and condensed messages are skipped (the default for
// chat rendering; audit and export pass true).
func (t *conversationTree) branchMessages(branchID string, includeHidden bool) ([]Message, error) {
	b, ok := t.branches[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
	}
	out := make([]Message, 0, len(b.MessageIDs))
	for _, id := range b.MessageIDs {
		m := t.messages[id]
		if !includeHidden && !m.visible() {
			continue
		}
		out = append(out, m.clone())
	}
	return out, nil
}

// lineage returns the branch's effective history: the ancestor chain up to
// each fork point followed by the branch's own visible messages. The fork
// point is resolved through the arena to whichever branch currently owns
// the fork message, so histories stay correct after merges and deletions
// move or retire the branch that owned it at fork time.
func (t *conversationTree) lineage(branchID string) ([]Message, error) {
	if _, ok := t.branches[branchID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
	}
	return t.lineageFrom(branchID, map[string]bool{})
}

func (t *conversationTree) lineageFrom(branchID string, seen map[string]bool) ([]Message, error) {
	b := t.branches[branchID]
	seen[branchID] = true

	var prefix []Message
	if b.CreatedFromMessageID != "" {
		fork, ok := t.messages[b.CreatedFromMessageID]
		if !ok {
			return nil, fmt.Errorf("%w: fork message %s", ErrNotFound, b.CreatedFromMessageID)
		}
		// Merges can relocate a fork message onto a descendant; the seen
		// set keeps such ownership loops from recursing forever.
		if owner, ok := t.branches[fork.BranchID]; ok && !seen[owner.ID] {
			ownerHist, err := t.lineageFrom(owner.ID, seen)
			if err != nil {
				return nil, err
			}
			for _, m := range ownerHist {
				prefix = append(prefix, m)
				if m.ID == b.CreatedFromMessageID {
					break
				}
			}
		}
	}
	own, err := t.branchMessages(branchID, false)
	if err != nil {
		return nil, err
	}
	return append(prefix, own...), nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
