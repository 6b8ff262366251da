package eventlog

import (
	"testing"
)

func TestLogAndReadRecent(t *testing.T) {
	l, err := New("sess-1", t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Log(EventSessionStart, nil)
	l.Log(EventMessageAdded, map[string]any{"role": "user"})
	l.Log(EventBranchCreated, map[string]any{"branch": "Branch 1"})

	events, err := l.ReadRecent(0)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventSessionStart {
		t.Errorf("first event %q, want %q", events[0].Type, EventSessionStart)
	}
	if events[1].SessionID != "sess-1" {
		t.Errorf("session id %q, want sess-1", events[1].SessionID)
	}
}

func TestReadRecentTail(t *testing.T) {
	l, err := New("sess-2", t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Log(EventMessageAdded, i)
	}
	l.Log(EventSessionEnd, nil)

	events, err := l.ReadRecent(2)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Type != EventSessionEnd {
		t.Errorf("last event %q, want %q", events[1].Type, EventSessionEnd)
	}
}

func TestAppendAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := New("sess-3", dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(EventSessionStart, nil)
	l.Close()

	l2, err := New("sess-3", dir)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer l2.Close()
	l2.Log(EventSessionEnd, nil)

	events, err := l2.ReadRecent(0)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 across reopen", len(events))
	}
}
