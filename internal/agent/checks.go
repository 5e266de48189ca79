package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loomworks/loom/internal/tools"
)

var failLineRe = regexp.MustCompile(`(?i)(FAIL|Error|ERROR):?\s+([A-Za-z0-9_./-]+)`)

// AnalyzeCommandOutput scrapes failing test or build target names from
// verification command output.
func AnalyzeCommandOutput(output string) []string {
	names := make([]string, 0, 8)
	for _, line := range strings.Split(output, "\n") {
		m := failLineRe.FindStringSubmatch(line)
		if len(m) >= 3 {
			names = append(names, strings.TrimSpace(m[2]))
		}
	}
	return uniqueStrings(names)
}

// verifierReport condenses the verifier phase's command results into a
// short pass/fail block appended to the phase output.
func verifierReport(results []tools.Result) string {
	ran, failed := 0, 0
	failing := make([]string, 0, 8)
	for _, res := range results {
		if res.ToolName != "run_command" {
			continue
		}
		ran++
		if !res.OK() {
			failed++
		}
		failing = append(failing, AnalyzeCommandOutput(res.Content())...)
	}
	if ran == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Verification: %d command(s), %d failed.", ran, failed)
	if names := uniqueStrings(failing); len(names) > 0 {
		fmt.Fprintf(&b, " Failing: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
