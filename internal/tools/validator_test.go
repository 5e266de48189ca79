package tools

import (
	"testing"
)

func TestValidateCallSchema(t *testing.T) {
	read := &ReadFileTool{}
	if err := ValidateCall(read, map[string]interface{}{"path": "file.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateCall(read, map[string]interface{}{}); err == nil {
		t.Fatalf("expected missing path error")
	}

	run := &RunCommandTool{}
	if err := ValidateCall(run, map[string]interface{}{"command": 123}); err == nil {
		t.Fatalf("expected type error")
	}
	if err := ValidateCall(run, map[string]interface{}{"command": "echo", "args": []interface{}{"hi"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCallNumberAndBoolean(t *testing.T) {
	search := &SearchTextTool{}
	if err := ValidateCall(search, map[string]interface{}{"pattern": "x", "max_results": "ten"}); err == nil {
		t.Fatalf("expected number type error")
	}
	if err := ValidateCall(search, map[string]interface{}{"pattern": "x", "max_results": float64(10)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	patch := &ApplyPatchTool{}
	if err := ValidateCall(patch, map[string]interface{}{"patch": "diff", "dry_run": "yes"}); err == nil {
		t.Fatalf("expected boolean type error")
	}
}
