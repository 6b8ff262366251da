package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Generator is the opaque generation function the coordinator calls to
// condense history. It is the engine's only suspension point: callers bound
// it with a context deadline or cancellation, and on failure the
// conversation tree is left completely unmodified.
type Generator func(ctx context.Context, prompt string) (string, error)

// DefaultPreserveRecent is how many trailing messages a summarization
// leaves untouched when the caller does not say otherwise.
const DefaultPreserveRecent = 4

// CoordinatorState tracks a single summarization request:
// Idle → Requested → Generating → (Succeeded | Failed) → Idle.
type CoordinatorState string

const (
	StateIdle       CoordinatorState = "idle"
	StateRequested  CoordinatorState = "requested"
	StateGenerating CoordinatorState = "generating"
	StateSucceeded  CoordinatorState = "succeeded"
	StateFailed     CoordinatorState = "failed"
)

// SummaryResult is the outcome of one summarization request. A failed
// result carries the reason; the caller decides whether to retry or
// abandon.
type SummaryResult struct {
	Summary     string
	OriginalIDs []string
	TokensSaved int
	OK          bool
	Reason      string
}

// Coordinator condenses a message range through the opaque generation
// function. It never mutates the session itself; a successful result is
// spliced in by Session.ApplySummary.
type Coordinator struct {
	mu       sync.Mutex
	generate Generator
	tracker  *BudgetTracker
	state    CoordinatorState
}

// NewCoordinator creates a coordinator around the generation function. The
// tracker is used only to estimate tokens saved; nil falls back to the
// heuristic counter.
func NewCoordinator(generate Generator, tracker *BudgetTracker) *Coordinator {
	if tracker == nil {
		tracker = NewBudgetTracker(nil, 0)
	}
	return &Coordinator{generate: generate, tracker: tracker, state: StateIdle}
}

// State returns the coordinator's current position in the request
// lifecycle.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(st CoordinatorState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

// SummarizeMessages condenses all but the last preserveRecent messages into
// a single summary. A history of preserveRecent messages or fewer is a
// benign no-op: success with nothing condensed. Generation failure, a blank
// result, or context cancellation produce success=false with the reason and
// no partial effect.
func (c *Coordinator) SummarizeMessages(ctx context.Context, messages []Message, preserveRecent int) SummaryResult {
	if preserveRecent < 0 {
		preserveRecent = DefaultPreserveRecent
	}

	c.setState(StateRequested)
	defer c.setState(StateIdle)

	if len(messages) <= preserveRecent {
		c.setState(StateSucceeded)
		return SummaryResult{OK: true}
	}

	prefix := messages[:len(messages)-preserveRecent]
	originalIDs := make([]string, len(prefix))
	for i, m := range prefix {
		originalIDs[i] = m.ID
	}

	prompt := SummaryPrompt(prefix)

	c.setState(StateGenerating)
	summary, err := c.generate(ctx, prompt)
	if err != nil {
		c.setState(StateFailed)
		return SummaryResult{OK: false, Reason: fmt.Sprintf("generation failed: %v", err)}
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		c.setState(StateFailed)
		return SummaryResult{OK: false, Reason: "generation returned no usable text"}
	}

	before := 0
	for _, m := range prefix {
		before += c.tracker.CountTokens(m.Content)
		if m.Reasoning != "" {
			before += c.tracker.CountTokens(m.Reasoning)
		}
	}
	saved := before - c.tracker.CountTokens(summary)
	if saved < 0 {
		saved = 0
	}

	c.setState(StateSucceeded)
	return SummaryResult{
		Summary:     summary,
		OriginalIDs: originalIDs,
		TokensSaved: saved,
		OK:          true,
	}
}

// CreateSummaryMessage synthesizes the system message that stands in for a
// condensed range. It is total: an empty id list still yields a well-formed
// message so the splice path never fails here.
func (c *Coordinator) CreateSummaryMessage(summary string, originalIDs []string) Message {
	return newSummaryMessage(summary, originalIDs).clone()
}

func newSummaryMessage(summary string, originalIDs []string) *Message {
	m := newMessage(RoleSystem, fmt.Sprintf("[Previous conversation summary: %s]", summary))
	m.SummaryOf = append([]string(nil), originalIDs...)
	if len(originalIDs) > 0 {
		m.ParentMessageID = originalIDs[0]
	}
	return m
}

// SummaryPrompt builds the deterministic role-tagged transcript sent to the
// generation function. Empty input yields a structurally valid prompt with
// an empty body.
func SummaryPrompt(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", titleRole(m.Role), m.Content))
	}

	return fmt.Sprintf(`Please provide a concise summary of the following conversation.
Focus on the key points, questions asked, and important information shared.

CONVERSATION:
%s

SUMMARY (be brief, 2-4 sentences):`, strings.Join(lines, "\n\n"))
}

func titleRole(r Role) string {
	if r == "" {
		return ""
	}
	s := string(r)
	return strings.ToUpper(s[:1]) + s[1:]
}
