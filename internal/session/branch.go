package session

// BranchManager exposes branch lifecycle operations over a session's
// conversation tree. It is a view, not an owner: it shares the session's
// lock, so a reader can never observe an active branch id that does not
// resolve to an existing branch.
type BranchManager struct {
	s *Session
}

// Create forks a new branch from the given message and switches to it:
// time-travel semantics, the user is now continuing from that point. The
// source message must exist and not be deleted (ErrInvalidMessage), and the
// branch ceiling must not be reached (ErrBranchLimit).
func (bm *BranchManager) Create(fromMessageID, name string) (Branch, error) {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	b, err := bm.s.tree.createBranch(fromMessageID, name)
	if err != nil {
		return Branch{}, err
	}
	return b.clone(), nil
}

// List returns all branches in creation order.
func (bm *BranchManager) List() []Branch {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	out := make([]Branch, 0, len(bm.s.tree.branchOrder))
	for _, id := range bm.s.tree.branchOrder {
		out = append(out, bm.s.tree.branches[id].clone())
	}
	return out
}

// Get looks up a branch by id. A missing branch is a valid outcome, not an
// error: the second return value reports presence.
func (bm *BranchManager) Get(id string) (Branch, bool) {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	b, ok := bm.s.tree.branches[id]
	if !ok {
		return Branch{}, false
	}
	return b.clone(), true
}

// Active returns the currently active branch.
func (bm *BranchManager) Active() Branch {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	return bm.s.tree.branches[bm.s.tree.activeID].clone()
}

// Switch makes the given branch active. Unknown ids return false.
func (bm *BranchManager) Switch(id string) bool {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	if _, ok := bm.s.tree.branches[id]; !ok {
		return false
	}
	bm.s.tree.activeID = id
	return true
}

// Delete removes a branch. The root branch returns false rather than an
// error, keeping call sites simple. Deleting the active branch re-selects
// the root atomically; children of the deleted branch are re-parented to
// its parent, so nothing is orphaned and nothing cascades.
func (bm *BranchManager) Delete(id string) bool {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	return bm.s.tree.deleteBranch(id)
}

// Merge appends the source branch's message sequence onto the target.
// Merging a branch into itself succeeds as a no-op. Unknown source or
// target ids fail with ErrBranchNotFound and leave both branches untouched.
func (bm *BranchManager) Merge(sourceID, targetID string) error {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	return bm.s.tree.merge(sourceID, targetID)
}

// TreeNode is one branch's position in the fork hierarchy.
type TreeNode struct {
	ID       string
	Name     string
	ParentID string
	// ChildIDs lists child branches in fork order.
	ChildIDs []string
	Active   bool
}

// Tree returns the fork hierarchy in branch creation order. It reflects
// exactly the relationships recorded at creation (or re-parenting on
// delete), never inferred ones.
func (bm *BranchManager) Tree() []TreeNode {
	bm.s.mu.Lock()
	defer bm.s.mu.Unlock()
	t := bm.s.tree
	out := make([]TreeNode, 0, len(t.branchOrder))
	for _, id := range t.branchOrder {
		b := t.branches[id]
		out = append(out, TreeNode{
			ID:       b.ID,
			Name:     b.Name,
			ParentID: b.ParentBranchID,
			ChildIDs: append([]string(nil), t.children[id]...),
			Active:   id == t.activeID,
		})
	}
	return out
}
