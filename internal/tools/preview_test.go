package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPreviewFromNameAndArgsOnly(t *testing.T) {
	t.Parallel()

	require.Equal(t, "read_file: main.go",
		BuildPreview("read_file", map[string]any{"path": "main.go"}))

	require.Equal(t, "write_file: main.go (5 bytes)",
		BuildPreview("write_file", map[string]any{"path": "main.go", "content": "hello"}))

	require.Equal(t, "run_command: go test ./...",
		BuildPreview("run_command", map[string]any{"command": "go", "args": []any{"test", "./..."}}))

	require.Equal(t, "write_files: a.go, b.go",
		BuildPreview("write_files", map[string]any{"files": []any{
			map[string]any{"path": "a.go", "content": "x"},
			map[string]any{"path": "b.go", "content": "y"},
		}}))

	require.Equal(t, "git_status", BuildPreview("git_status", map[string]any{}))
}

func TestBuildPreviewTruncatesLongDetail(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("p", 500)
	got := BuildPreview("read_file", map[string]any{"path": long})
	require.LessOrEqual(t, len(got), len("read_file: ")+previewLimit+3)
	require.True(t, strings.HasSuffix(got, "..."))
}
