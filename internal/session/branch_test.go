package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestCreateBranchTimeTravelScenario(t *testing.T) {
	s := New()
	msgs := addN(t, s, 6) // three user/assistant pairs
	bm := s.Branches()
	root := bm.Active()

	b, err := bm.Create(msgs[1].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if b.CreatedFromMessageID != msgs[1].ID {
		t.Fatalf("CreatedFromMessageID = %s, want %s", b.CreatedFromMessageID, msgs[1].ID)
	}
	if bm.Active().ID != b.ID {
		t.Fatal("creating a branch must switch to it")
	}
	if b.ParentBranchID != root.ID {
		t.Fatal("new branch's parent must be the branch active at fork time")
	}

	// The root branch is unchanged.
	rootMsgs, err := s.BranchMessages(root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rootMsgs) != 6 {
		t.Fatalf("root branch length changed: got %d, want 6", len(rootMsgs))
	}

	// The new branch starts empty; its first message inherits the fork
	// point as lineage.
	if got, _ := s.BranchMessages(b.ID); len(got) != 0 {
		t.Fatalf("new branch must start empty, got %d messages", len(got))
	}
	first, err := s.AddMessage(RoleUser, "alternate continuation", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if first.ParentMessageID != msgs[1].ID {
		t.Fatalf("branch root message lineage = %q, want %s", first.ParentMessageID, msgs[1].ID)
	}
}

func TestCreateBranchValidation(t *testing.T) {
	s := New()
	msgs := addN(t, s, 2)
	bm := s.Branches()

	if _, err := bm.Create("no-such-message", ""); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("unknown source: got %v, want ErrInvalidMessage", err)
	}

	s.DeleteMessage(msgs[0].ID)
	if _, err := bm.Create(msgs[0].ID, ""); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("deleted source: got %v, want ErrInvalidMessage", err)
	}
}

func TestBranchCeiling(t *testing.T) {
	s := New()
	msgs := addN(t, s, 1)
	bm := s.Branches()

	// Main counts against the ceiling, so 9 more fit.
	for i := 0; i < DefaultMaxBranches-1; i++ {
		if _, err := bm.Create(msgs[0].ID, fmt.Sprintf("alt-%d", i)); err != nil {
			t.Fatalf("branch %d: %v", i, err)
		}
	}
	if n := len(bm.List()); n != DefaultMaxBranches {
		t.Fatalf("branch count = %d, want %d", n, DefaultMaxBranches)
	}

	before := bm.List()
	if _, err := bm.Create(msgs[0].ID, "one-too-many"); !errors.Is(err, ErrBranchLimit) {
		t.Fatalf("got %v, want ErrBranchLimit", err)
	}
	after := bm.List()
	if len(after) != len(before) {
		t.Fatal("failed creation must leave existing branches unchanged")
	}
	for i := range before {
		if after[i].ID != before[i].ID {
			t.Fatal("branch ordering changed after failed creation")
		}
	}
}

func TestBranchNamesAutoGenerated(t *testing.T) {
	s := New()
	msgs := addN(t, s, 1)
	bm := s.Branches()

	b1, err := bm.Create(msgs[0].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if b1.Name != "Branch 1" {
		t.Fatalf("auto name = %q, want Branch 1", b1.Name)
	}
	b2, _ := bm.Create(msgs[0].ID, "custom")
	if b2.Name != "custom" {
		t.Fatalf("explicit name = %q", b2.Name)
	}
}

func TestListBranchesCreationOrder(t *testing.T) {
	s := New()
	msgs := addN(t, s, 1)
	bm := s.Branches()

	var want []string
	want = append(want, bm.Active().ID)
	for i := 0; i < 3; i++ {
		b, err := bm.Create(msgs[0].ID, "")
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, b.ID)
	}
	got := bm.List()
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("branch %d out of creation order", i)
		}
	}
}

func TestGetBranchAbsentIsNotAnError(t *testing.T) {
	s := New()
	bm := s.Branches()
	if _, ok := bm.Get("missing"); ok {
		t.Fatal("Get must report absence for unknown id")
	}
	if b, ok := bm.Get(bm.Active().ID); !ok || b.Name != RootBranchName {
		t.Fatal("Get must find the root branch")
	}
}

func TestDeleteActiveBranchFallsBackToRoot(t *testing.T) {
	s := New()
	msgs := addN(t, s, 2)
	bm := s.Branches()
	root := bm.Active()

	b, err := bm.Create(msgs[0].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bm.Delete(b.ID) {
		t.Fatal("Delete returned false for existing branch")
	}
	active := bm.Active()
	if active.ID != root.ID {
		t.Fatalf("active after delete = %s, want root %s", active.ID, root.ID)
	}
	if _, ok := bm.Get(b.ID); ok {
		t.Fatal("deleted branch still resolvable")
	}
}

func TestDeleteRootBranchRefused(t *testing.T) {
	s := New()
	bm := s.Branches()
	if bm.Delete(bm.Active().ID) {
		t.Fatal("root branch must never be deletable")
	}
	if bm.Delete("unknown") {
		t.Fatal("deleting unknown branch must return false")
	}
}

func TestDeleteBranchReparentsChildren(t *testing.T) {
	s := New()
	msgs := addN(t, s, 2)
	bm := s.Branches()
	root := bm.Active()

	mid, err := bm.Create(msgs[0].ID, "mid")
	if err != nil {
		t.Fatal(err)
	}
	midMsg, err := s.AddMessage(RoleUser, "on mid", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := bm.Create(midMsg.ID, "leaf")
	if err != nil {
		t.Fatal(err)
	}

	if !bm.Delete(mid.ID) {
		t.Fatal("delete mid failed")
	}
	got, ok := bm.Get(leaf.ID)
	if !ok {
		t.Fatal("child branch must survive parent deletion")
	}
	if got.ParentBranchID != root.ID {
		t.Fatalf("child re-parented to %s, want grandparent %s", got.ParentBranchID, root.ID)
	}
	for _, node := range bm.Tree() {
		if node.ID == root.ID {
			found := false
			for _, c := range node.ChildIDs {
				if c == leaf.ID {
					found = true
				}
				if c == mid.ID {
					t.Fatal("deleted branch still listed as child")
				}
			}
			if !found {
				t.Fatal("re-parented child missing from tree view")
			}
		}
	}
}

func TestMergeSelfIsNoOp(t *testing.T) {
	s := New()
	msgs := addN(t, s, 3)
	bm := s.Branches()
	b, err := bm.Create(msgs[0].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddMessage(RoleUser, "fork content", Meta{}); err != nil {
		t.Fatal(err)
	}

	before, _ := s.BranchMessages(b.ID)
	if err := bm.Merge(b.ID, b.ID); err != nil {
		t.Fatalf("self-merge must succeed, got %v", err)
	}
	after, _ := s.BranchMessages(b.ID)
	if len(after) != len(before) {
		t.Fatalf("self-merge changed length: %d != %d", len(after), len(before))
	}
}

func TestMergeUnknownBranches(t *testing.T) {
	s := New()
	msgs := addN(t, s, 1)
	bm := s.Branches()
	b, _ := bm.Create(msgs[0].ID, "")

	if err := bm.Merge("ghost", b.ID); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("unknown source: got %v", err)
	}
	if err := bm.Merge(b.ID, "ghost"); !errors.Is(err, ErrBranchNotFound) {
		t.Fatalf("unknown target: got %v", err)
	}
}

func TestMergeAppendsInOrder(t *testing.T) {
	s := New()
	msgs := addN(t, s, 2)
	bm := s.Branches()
	root := bm.Active()

	b, err := bm.Create(msgs[1].ID, "")
	if err != nil {
		t.Fatal(err)
	}
	m1, _ := s.AddMessage(RoleUser, "alt one", Meta{})
	m2, _ := s.AddMessage(RoleAssistant, "alt two", Meta{})

	if err := bm.Merge(b.ID, root.ID); err != nil {
		t.Fatal(err)
	}
	rootMsgs, _ := s.BranchMessages(root.ID)
	if len(rootMsgs) != 4 {
		t.Fatalf("root has %d messages after merge, want 4", len(rootMsgs))
	}
	if rootMsgs[2].ID != m1.ID || rootMsgs[3].ID != m2.ID {
		t.Fatal("merged messages out of order")
	}
	if rootMsgs[2].BranchID != root.ID {
		t.Fatal("merged message ownership not transferred")
	}
	// Source still exists (only explicit deletion destroys branches).
	src, ok := bm.Get(b.ID)
	if !ok {
		t.Fatal("source branch destroyed by merge")
	}
	if src.MessageCount() != 0 {
		t.Fatalf("source should be drained, has %d", src.MessageCount())
	}
}

func TestHistoryCrossesForkPoint(t *testing.T) {
	s := New()
	msgs := addN(t, s, 4)
	bm := s.Branches()

	if _, err := bm.Create(msgs[1].ID, ""); err != nil {
		t.Fatal(err)
	}
	alt, err := s.AddMessage(RoleUser, "what if instead", Meta{})
	if err != nil {
		t.Fatal(err)
	}

	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("history = %d messages, want 3 (2 ancestors + 1 own)", len(hist))
	}
	if hist[0].ID != msgs[0].ID || hist[1].ID != msgs[1].ID || hist[2].ID != alt.ID {
		t.Fatal("history must be ancestor prefix up to fork, then own messages")
	}
}

func TestSwitchBranch(t *testing.T) {
	s := New()
	msgs := addN(t, s, 2)
	bm := s.Branches()
	root := bm.Active()
	b, _ := bm.Create(msgs[0].ID, "")

	if !bm.Switch(root.ID) {
		t.Fatal("switch to root failed")
	}
	if bm.Active().ID != root.ID {
		t.Fatal("active branch not switched")
	}
	if bm.Switch("ghost") {
		t.Fatal("switch to unknown branch must return false")
	}
	if bm.Active().ID != root.ID {
		t.Fatal("failed switch must not change the active branch")
	}
	_ = b
}

func TestHistoryAfterDeletingMiddleBranch(t *testing.T) {
	s := New()
	msgs := addN(t, s, 4)
	bm := s.Branches()

	mid, err := bm.Create(msgs[1].ID, "mid")
	if err != nil {
		t.Fatal(err)
	}
	midMsg, err := s.AddMessage(RoleUser, "mid turn", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bm.Create(midMsg.ID, "leaf"); err != nil {
		t.Fatal(err)
	}
	leafMsg, err := s.AddMessage(RoleUser, "leaf turn", Meta{})
	if err != nil {
		t.Fatal(err)
	}

	hist := s.History()
	if len(hist) != 4 {
		t.Fatalf("history before delete = %d messages, want 4", len(hist))
	}

	if !bm.Delete(mid.ID) {
		t.Fatal("delete mid failed")
	}

	// The leaf's fork collapses to mid's own fork point: the shared prefix
	// survives, mid's turn goes with its branch, and later root messages
	// never leak in.
	hist = s.History()
	want := []string{msgs[0].ID, msgs[1].ID, leafMsg.ID}
	if len(hist) != len(want) {
		t.Fatalf("history after delete = %d messages, want %d", len(hist), len(want))
	}
	for i, id := range want {
		if hist[i].ID != id {
			t.Fatalf("history[%d] = %s, want %s", i, hist[i].ID, id)
		}
	}
	for _, m := range hist {
		if m.ID == msgs[2].ID || m.ID == msgs[3].ID {
			t.Fatalf("history contains root message %q beyond the fork point", m.Content)
		}
	}
}

func TestHistoryStableWhenMergeMovesForkMessage(t *testing.T) {
	s := New()
	msgs := addN(t, s, 3)
	bm := s.Branches()
	root := bm.Active()

	target, err := bm.Create(msgs[0].ID, "target")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bm.Create(msgs[1].ID, "side"); err != nil {
		t.Fatal(err)
	}
	sideMsg, err := s.AddMessage(RoleUser, "side turn", Meta{})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{msgs[0].ID, msgs[1].ID, sideMsg.ID}
	check := func(stage string) {
		t.Helper()
		hist := s.History()
		if len(hist) != len(want) {
			t.Fatalf("%s: history = %d messages, want %d", stage, len(hist), len(want))
		}
		for i, id := range want {
			if hist[i].ID != id {
				t.Fatalf("%s: history[%d] = %s, want %s", stage, i, hist[i].ID, id)
			}
		}
	}
	check("before merge")

	// Moving the fork message's ownership must not change the side
	// branch's effective history.
	if err := bm.Merge(root.ID, target.ID); err != nil {
		t.Fatal(err)
	}
	check("after merge")
}
