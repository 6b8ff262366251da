package provider

import (
	"regexp"
	"strings"
)

// Models that interleave their thinking with the answer mark it in a few
// common ways. These patterns cover the tag style (<think>...</think>) and
// the labeled-section style (REASONING: ... ANSWER: ...).
var (
	thinkTagRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	sectionRe  = regexp.MustCompile(`(?is)(?:REASONING|Thinking|Analysis):\s*(.+?)(?:ANSWER|Answer):\s*(.+)$`)
)

// ExtractReasoning splits inline reasoning out of model output. It returns
// the reasoning trace and the remaining answer text. When no reasoning
// markers are found, reasoning is empty and the answer is the input
// unchanged (minus surrounding whitespace).
func ExtractReasoning(text string) (reasoning, answer string) {
	text = strings.TrimSpace(text)

	if m := thinkTagRe.FindStringSubmatch(text); m != nil {
		reasoning = strings.TrimSpace(m[1])
		answer = strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
		return reasoning, answer
	}

	if m := sectionRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}

	return "", text
}
