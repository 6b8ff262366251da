package session

import (
	"sync"
	"unicode/utf8"
)

// Counter turns text into a token count. Implementations backed by a real
// tokenizer may fail; the tracker falls back to a total approximation so
// counting as a whole never does.
type Counter interface {
	Count(text string) (int, error)
}

// HeuristicCounter approximates token counts from text length. It is total:
// it never fails, for any input. Most BPE tokenizers land around 3-4 chars
// per token for English-ish text, so bytes/4 with a rune-based lower bound
// is a stable, deterministic estimate.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	byBytes := len(text) / 4
	byRunes := utf8.RuneCountInString(text) / 2
	if byRunes > byBytes {
		return byRunes + 1, nil
	}
	return byBytes + 1, nil
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func(text string) (int, error)

func (f CounterFunc) Count(text string) (int, error) { return f(text) }

// TokenBreakdown is the per-category token usage of a prompt assembled from
// the active branch. Percentage is total/max in 0.0-1.0 and may exceed 1.0
// to signal overflow; it is never clamped. When max is 0 the percentage is
// 0.0 by policy, so no division surprise ever reaches display code.
type TokenBreakdown struct {
	SystemPrompt int
	ChatHistory  int
	Context      int
	Total        int
	Percentage   float64
}

// TokenUsage wraps the latest breakdown with the configured ceiling.
type TokenUsage struct {
	Current    int
	Max        int
	Percentage float64
	Breakdown  TokenBreakdown
}

// WarningLevel classifies usage against the budget.
type WarningLevel string

const (
	WarnNormal   WarningLevel = "normal"
	WarnWarning  WarningLevel = "warning"
	WarnCritical WarningLevel = "critical"
)

// Warning thresholds. IsApproachingLimit's default threshold equals
// warnThreshold so the two signals agree at the boundary.
const (
	warnThreshold     = 0.8
	criticalThreshold = 0.9
)

// BudgetTracker composes Counter results into usage and warning signals for
// the active branch's visible history. It is read-only with respect to the
// session: it never mutates messages.
type BudgetTracker struct {
	mu       sync.Mutex
	primary  Counter
	fallback HeuristicCounter
	max      int
	usage    *TokenUsage
}

// NewBudgetTracker creates a tracker with the given counting strategy and
// context ceiling. A nil counter uses the heuristic directly.
func NewBudgetTracker(primary Counter, maxContextTokens int) *BudgetTracker {
	return &BudgetTracker{primary: primary, max: maxContextTokens}
}

// MaxContextTokens returns the configured budget.
func (t *BudgetTracker) MaxContextTokens() int { return t.max }

// CountTokens counts tokens in text. If the primary strategy fails, the
// deterministic heuristic takes over, so this call is total.
func (t *BudgetTracker) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.primary != nil {
		if n, err := t.primary.Count(text); err == nil && n >= 0 {
			return n
		}
	}
	n, _ := t.fallback.Count(text)
	return n
}

// ContextBreakdown sums counts per category. Empty inputs yield an all-zero
// breakdown with percentage 0.0.
func (t *BudgetTracker) ContextBreakdown(messages []Message, systemPrompt string, contextDocs []string) TokenBreakdown {
	system := t.CountTokens(systemPrompt)

	chat := 0
	for _, m := range messages {
		chat += t.CountTokens(m.Content)
		if m.Reasoning != "" {
			chat += t.CountTokens(m.Reasoning)
		}
	}

	ctx := 0
	for _, doc := range contextDocs {
		ctx += t.CountTokens(doc)
	}

	total := system + chat + ctx
	pct := 0.0
	if t.max > 0 {
		pct = float64(total) / float64(t.max)
	}
	return TokenBreakdown{
		SystemPrompt: system,
		ChatHistory:  chat,
		Context:      ctx,
		Total:        total,
		Percentage:   pct,
	}
}

// Refresh recomputes usage from the given inputs and records it as the
// tracker's current usage.
func (t *BudgetTracker) Refresh(messages []Message, systemPrompt string, contextDocs []string) TokenUsage {
	b := t.ContextBreakdown(messages, systemPrompt, contextDocs)
	u := TokenUsage{Current: b.Total, Max: t.max, Percentage: b.Percentage, Breakdown: b}
	t.mu.Lock()
	t.usage = &u
	t.mu.Unlock()
	return u
}

// CurrentUsage returns the latest recorded usage. Before any refresh it is
// all-zero, which is a defined state, not an error.
func (t *BudgetTracker) CurrentUsage() TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usage == nil {
		return TokenUsage{Max: t.max}
	}
	return *t.usage
}

// IsApproachingLimit reports whether usage has reached the threshold.
// With no usage data it returns false: "no data" is not "over limit".
func (t *BudgetTracker) IsApproachingLimit(threshold float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usage == nil {
		return false
	}
	return t.usage.Percentage >= threshold
}

// WarningLevel classifies the latest usage: normal below 0.8, warning in
// [0.8, 0.9), critical at or above 0.9. The boundaries match
// IsApproachingLimit's >= comparison exactly, so the two signals never
// disagree at 0.8.
func (t *BudgetTracker) WarningLevel() WarningLevel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usage == nil {
		return WarnNormal
	}
	switch {
	case t.usage.Percentage >= criticalThreshold:
		return WarnCritical
	case t.usage.Percentage >= warnThreshold:
		return WarnWarning
	}
	return WarnNormal
}

// EstimateResponseTokens returns the room left for a model response:
// max minus current usage, floored at zero, further capped by
// maxResponseTokens when positive.
func (t *BudgetTracker) EstimateResponseTokens(maxResponseTokens int) int {
	u := t.CurrentUsage()
	avail := t.max - u.Current
	if avail < 0 {
		avail = 0
	}
	if maxResponseTokens > 0 && avail > maxResponseTokens {
		avail = maxResponseTokens
	}
	return avail
}
