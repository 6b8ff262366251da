package session

import (
	"errors"
	"strings"
	"testing"
)

func TestHeuristicCounterTotal(t *testing.T) {
	cases := []struct {
		text string
		min  int
	}{
		{"", 0},
		{"a", 1},
		{"hello world, this is a sentence", 1},
		{strings.Repeat("x", 4000), 1000},
		{"日本語のテキスト", 1},
	}
	var c HeuristicCounter
	for _, tc := range cases {
		n, err := c.Count(tc.text)
		if err != nil {
			t.Fatalf("heuristic counter must never fail, got %v", err)
		}
		if n < tc.min {
			t.Errorf("Count(%.20q) = %d, want >= %d", tc.text, n, tc.min)
		}
	}
}

func TestCountTokensFallsBackOnPrimaryFailure(t *testing.T) {
	failing := CounterFunc(func(string) (int, error) {
		return 0, errors.New("tokenizer unavailable")
	})
	tr := NewBudgetTracker(failing, 1000)

	n := tr.CountTokens("some text that still needs counting")
	if n <= 0 {
		t.Fatalf("fallback count = %d, want > 0", n)
	}
	if tr.CountTokens("") != 0 {
		t.Fatal("empty text must count as zero")
	}
}

func TestContextBreakdownEmptyInputsZeroMax(t *testing.T) {
	tr := NewBudgetTracker(nil, 0)
	b := tr.ContextBreakdown(nil, "", nil)
	if b.Total != 0 || b.SystemPrompt != 0 || b.ChatHistory != 0 || b.Context != 0 {
		t.Fatalf("expected all-zero breakdown, got %+v", b)
	}
	if b.Percentage != 0.0 {
		t.Fatalf("percentage with max 0 must be 0.0, got %f", b.Percentage)
	}
}

func TestContextBreakdownCategories(t *testing.T) {
	exact := CounterFunc(func(text string) (int, error) { return len(text), nil })
	tr := NewBudgetTracker(exact, 100)

	msgs := []Message{
		{Content: "abcd", Reasoning: "xy"},
		{Content: "ef"},
	}
	b := tr.ContextBreakdown(msgs, "sys", []string{"doc1", "doc2!"})
	if b.SystemPrompt != 3 {
		t.Errorf("system = %d, want 3", b.SystemPrompt)
	}
	if b.ChatHistory != 8 {
		t.Errorf("chat = %d, want 8 (content + reasoning)", b.ChatHistory)
	}
	if b.Context != 9 {
		t.Errorf("context = %d, want 9", b.Context)
	}
	if b.Total != 20 {
		t.Errorf("total = %d, want 20", b.Total)
	}
	if b.Percentage != 0.2 {
		t.Errorf("percentage = %f, want 0.2", b.Percentage)
	}
}

func TestPercentageNeverClamped(t *testing.T) {
	exact := CounterFunc(func(text string) (int, error) { return len(text), nil })
	tr := NewBudgetTracker(exact, 10)
	u := tr.Refresh([]Message{{Content: strings.Repeat("x", 25)}}, "", nil)
	if u.Percentage != 2.5 {
		t.Fatalf("overflow percentage = %f, want 2.5 (unclamped)", u.Percentage)
	}
}

func TestWarningLevelsAgreeWithApproachingLimit(t *testing.T) {
	exact := CounterFunc(func(text string) (int, error) { return len(text), nil })

	cases := []struct {
		tokens      int
		level       WarningLevel
		approaching bool
	}{
		{0, WarnNormal, false},
		{79, WarnNormal, false},
		{80, WarnWarning, true}, // boundary: exactly 0.8
		{89, WarnWarning, true},
		{90, WarnCritical, true}, // boundary: exactly 0.9
		{150, WarnCritical, true},
	}
	for _, tc := range cases {
		tr := NewBudgetTracker(exact, 100)
		if tc.tokens > 0 {
			tr.Refresh([]Message{{Content: strings.Repeat("x", tc.tokens)}}, "", nil)
		} else {
			tr.Refresh(nil, "", nil)
		}
		if got := tr.WarningLevel(); got != tc.level {
			t.Errorf("tokens=%d: level = %q, want %q", tc.tokens, got, tc.level)
		}
		if got := tr.IsApproachingLimit(0.8); got != tc.approaching {
			t.Errorf("tokens=%d: approaching = %v, want %v", tc.tokens, got, tc.approaching)
		}
		// Cross-check the invariant directly: approaching(0.8) iff
		// level is warning or critical.
		lvl := tr.WarningLevel()
		wantApproaching := lvl == WarnWarning || lvl == WarnCritical
		if tr.IsApproachingLimit(0.8) != wantApproaching {
			t.Errorf("tokens=%d: signals disagree at boundary", tc.tokens)
		}
	}
}

func TestNoUsageDataIsNotOverLimit(t *testing.T) {
	tr := NewBudgetTracker(nil, 100)
	if tr.IsApproachingLimit(0.8) {
		t.Fatal("no data must not report approaching limit")
	}
	if tr.WarningLevel() != WarnNormal {
		t.Fatal("no data must report normal")
	}
	u := tr.CurrentUsage()
	if u.Current != 0 || u.Percentage != 0 {
		t.Fatalf("usage before any message must be zero, got %+v", u)
	}
}

func TestEstimateResponseTokens(t *testing.T) {
	exact := CounterFunc(func(text string) (int, error) { return len(text), nil })
	tr := NewBudgetTracker(exact, 100)
	tr.Refresh([]Message{{Content: strings.Repeat("x", 30)}}, "", nil)

	if got := tr.EstimateResponseTokens(0); got != 70 {
		t.Fatalf("uncapped estimate = %d, want 70", got)
	}
	if got := tr.EstimateResponseTokens(50); got != 50 {
		t.Fatalf("capped estimate = %d, want 50", got)
	}
	// Over budget: never negative.
	tr.Refresh([]Message{{Content: strings.Repeat("x", 300)}}, "", nil)
	if got := tr.EstimateResponseTokens(0); got != 0 {
		t.Fatalf("over-budget estimate = %d, want 0", got)
	}
}
