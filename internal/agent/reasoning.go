package agent

import (
	"sort"
	"strings"
	"unicode"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// requiredReasoningSections are the headers a well formed reasoning
// block carries, matching what the agent system prompt asks for.
var requiredReasoningSections = []string{"analysis:", "plan:"}

// placeholderTokens mark stub reasoning the model should have filled in.
var placeholderTokens = []string{"tbd", "todo", "fixme", "lorem ipsum", "placeholder"}

// deferralPhrases announce work instead of doing it. A response whose
// text matches one of these while carrying no tool calls gets one
// corrective re-ask in agent mode.
var deferralPhrases = []string{
	"i will now implement",
	"i'll now implement",
	"i will now proceed",
	"i will now create",
	"i will now write",
	"i am now going to implement",
	"let me now implement",
}

// splitReasoning separates <think> blocks from the visible answer. An
// unclosed block swallows the remainder as reasoning.
func splitReasoning(content string) (visible, reasoning string) {
	rest := content
	var vis, think strings.Builder
	for {
		open := strings.Index(rest, thinkOpen)
		if open < 0 {
			vis.WriteString(rest)
			break
		}
		vis.WriteString(rest[:open])
		rest = rest[open+len(thinkOpen):]

		end := strings.Index(rest, thinkClose)
		if end < 0 {
			end = len(rest)
		}
		if think.Len() > 0 {
			think.WriteString("\n")
		}
		think.WriteString(strings.TrimSpace(rest[:end]))
		if end == len(rest) {
			break
		}
		rest = rest[end+len(thinkClose):]
	}
	return strings.TrimSpace(vis.String()), strings.TrimSpace(think.String())
}

// missingStructure reports whether a non-empty reasoning block lacks a
// required section header. An absent block has nothing to repair.
func missingStructure(reasoning string) bool {
	if reasoning == "" {
		return false
	}
	lower := strings.ToLower(reasoning)
	for _, section := range requiredReasoningSections {
		if !strings.Contains(lower, section) {
			return true
		}
	}
	return false
}

// poorQuality reports whether a non-empty reasoning block is
// placeholder grade: it contains stub tokens, or fewer than two
// sections hold at least six meaningful characters.
func poorQuality(reasoning string) bool {
	if reasoning == "" {
		return false
	}
	lower := strings.ToLower(reasoning)
	for _, tok := range placeholderTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	substantive := 0
	for _, section := range reasoningSections(reasoning) {
		if meaningfulChars(stripSectionHeader(section)) >= 6 {
			substantive++
		}
	}
	return substantive < 2
}

// stripSectionHeader drops a leading required header so only the
// section body counts as substance.
func stripSectionHeader(s string) string {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	for _, header := range requiredReasoningSections {
		if strings.HasPrefix(lower, header) {
			return trimmed[len(header):]
		}
	}
	return trimmed
}

// reasoningSections splits a reasoning block into sections: one per
// required header when present, otherwise blank-line separated blocks.
func reasoningSections(reasoning string) []string {
	lower := strings.ToLower(reasoning)
	cuts := make([]int, 0, len(requiredReasoningSections))
	for _, header := range requiredReasoningSections {
		if idx := strings.Index(lower, header); idx >= 0 {
			cuts = append(cuts, idx)
		}
	}
	if len(cuts) >= 2 {
		sort.Ints(cuts)
		sections := make([]string, 0, len(cuts))
		for i, start := range cuts {
			end := len(reasoning)
			if i+1 < len(cuts) {
				end = cuts[i+1]
			}
			sections = append(sections, reasoning[start:end])
		}
		return sections
	}
	return strings.Split(reasoning, "\n\n")
}

// announcesWithoutActing reports whether visible text matches one of the
// deferral trigger phrases.
func announcesWithoutActing(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range deferralPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func meaningfulChars(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
