package agent

import "testing"

func TestSplitReasoningExtractsThinkBlock(t *testing.T) {
	visible, reasoning := splitReasoning("<think>Analysis: slow query\nPlan: add index</think>Use an index on user_id.")
	if visible != "Use an index on user_id." {
		t.Fatalf("visible = %q", visible)
	}
	if reasoning != "Analysis: slow query\nPlan: add index" {
		t.Fatalf("reasoning = %q", reasoning)
	}
}

func TestSplitReasoningUnclosedBlockSwallowsRest(t *testing.T) {
	visible, reasoning := splitReasoning("Partial answer <think>still thinking about it")
	if visible != "Partial answer" {
		t.Fatalf("visible = %q", visible)
	}
	if reasoning != "still thinking about it" {
		t.Fatalf("reasoning = %q", reasoning)
	}
}

func TestSplitReasoningJoinsMultipleBlocks(t *testing.T) {
	visible, reasoning := splitReasoning("<think>first</think>mid<think>second</think>end")
	if visible != "midend" {
		t.Fatalf("visible = %q", visible)
	}
	if reasoning != "first\nsecond" {
		t.Fatalf("reasoning = %q", reasoning)
	}
}

func TestSplitReasoningWithoutBlock(t *testing.T) {
	visible, reasoning := splitReasoning("plain answer")
	if visible != "plain answer" || reasoning != "" {
		t.Fatalf("visible = %q reasoning = %q", visible, reasoning)
	}
}

func TestMissingStructure(t *testing.T) {
	cases := []struct {
		reasoning string
		want      bool
	}{
		{"", false},
		{"Analysis: the loop never resets\nPlan: reset counter on entry", false},
		{"analysis: lower case works\nPLAN: so does upper", false},
		{"some free-form rambling without sections", true},
		{"Analysis: only half the structure", true},
	}
	for _, tc := range cases {
		if got := missingStructure(tc.reasoning); got != tc.want {
			t.Fatalf("missingStructure(%q) = %v, want %v", tc.reasoning, got, tc.want)
		}
	}
}

func TestPoorQuality(t *testing.T) {
	cases := []struct {
		reasoning string
		want      bool
	}{
		{"", false},
		{"Analysis: TBD\nPlan: later", true},
		{"Analysis: ab\nPlan: cd", true},
		{"Analysis: the parser drops trailing tokens\nPlan: rewrite the lexer loop to buffer", false},
		{"one short blob", true},
		{"first substantial paragraph here\n\nsecond substantial paragraph here", false},
	}
	for _, tc := range cases {
		if got := poorQuality(tc.reasoning); got != tc.want {
			t.Fatalf("poorQuality(%q) = %v, want %v", tc.reasoning, got, tc.want)
		}
	}
}

func TestAnnouncesWithoutActing(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I will now implement the parser fix.", true},
		{"I'll now implement it step by step", true},
		{"i WILL NOW proceed to edit the files", true},
		{"Here is the finished diff.", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := announcesWithoutActing(tc.text); got != tc.want {
			t.Fatalf("announcesWithoutActing(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
