package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/semantic"
)

// ReadFileTool reads one file inside the workspace.
type ReadFileTool struct {
	FS *Filesystem
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Schema() Schema {
	return Schema{
		Name:        "read_file",
		Description: "Read a file relative to the workspace root",
		Parameters: []SchemaField{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
		},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	return t.FS.ReadFile(path)
}

// WriteFileTool writes one file inside the workspace.
type WriteFileTool struct {
	FS *Filesystem
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Schema() Schema {
	return Schema{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed",
		Parameters: []SchemaField{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "Full file content", Required: true},
		},
	}
}

func (t *WriteFileTool) Targets(args map[string]any) []string {
	path, _ := args["path"].(string)
	return []string{path}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := t.FS.WriteFile(path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// WriteFilesTool writes several files in one call, holding every target
// lock for the duration.
type WriteFilesTool struct {
	FS *Filesystem
}

func (t *WriteFilesTool) Name() string { return "write_files" }

func (t *WriteFilesTool) Schema() Schema {
	return Schema{
		Name:        "write_files",
		Description: "Write multiple files atomically with respect to other writers",
		Parameters: []SchemaField{
			{Name: "files", Type: "array", Description: "Objects with path and content", Required: true},
		},
	}
}

func (t *WriteFilesTool) Targets(args map[string]any) []string {
	files, _ := args["files"].([]any)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if m, ok := f.(map[string]any); ok {
			if p, ok := m["path"].(string); ok && p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

func (t *WriteFilesTool) Execute(_ context.Context, args map[string]any) (string, error) {
	files, _ := args["files"].([]any)
	if len(files) == 0 {
		return "", fmt.Errorf("files must be a non-empty array of {path, content}")
	}
	written := make([]string, 0, len(files))
	for i, f := range files {
		m, ok := f.(map[string]any)
		if !ok {
			return "", fmt.Errorf("files[%d] must be an object with path and content", i)
		}
		path, _ := m["path"].(string)
		content, _ := m["content"].(string)
		if path == "" {
			return "", fmt.Errorf("files[%d] is missing path", i)
		}
		if err := t.FS.WriteFile(path, content); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return fmt.Sprintf("wrote %d files: %s", len(written), strings.Join(written, ", ")), nil
}

// ListDirTool lists directory entries.
type ListDirTool struct {
	FS *Filesystem
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Schema() Schema {
	return Schema{
		Name:        "list_dir",
		Description: "List entries of a directory",
		Parameters: []SchemaField{
			{Name: "path", Type: "string", Description: "Relative directory path, defaults to workspace root", Required: false},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	entries, err := t.FS.ListDir(path)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}

// StatTool reports file metadata.
type StatTool struct {
	FS *Filesystem
}

func (t *StatTool) Name() string { return "stat" }

func (t *StatTool) Schema() Schema {
	return Schema{
		Name:        "stat",
		Description: "Report size, mode and modification time for a path",
		Parameters: []SchemaField{
			{Name: "path", Type: "string", Description: "Relative path", Required: true},
		},
	}
}

func (t *StatTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	info, err := t.FS.Stat(path)
	if err != nil {
		return "", err
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return fmt.Sprintf("%s: %s, %d bytes, mode %s, modified %s",
		path, kind, info.Size(), info.Mode(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z")), nil
}

// SearchTextTool finds literal pattern occurrences in workspace files.
type SearchTextTool struct {
	FS *Filesystem
}

func (t *SearchTextTool) Name() string { return "search_text" }

func (t *SearchTextTool) Schema() Schema {
	return Schema{
		Name:        "search_text",
		Description: "Search files for a literal text pattern",
		Parameters: []SchemaField{
			{Name: "pattern", Type: "string", Description: "Literal text to find", Required: true},
			{Name: "path", Type: "string", Description: "Subtree to search, defaults to workspace root", Required: false},
			{Name: "max_results", Type: "integer", Description: "Result cap, defaults to 20", Required: false},
		},
	}
}

func (t *SearchTextTool) Execute(_ context.Context, args map[string]any) (string, error) {
	pattern, _ := args["pattern"].(string)
	root, _ := args["path"].(string)
	if root == "" {
		root = "."
	}
	matches, err := t.FS.Search(root, pattern, argInt(args, "max_results", 20))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("no matches for %q", pattern), nil
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, fmt.Sprintf("%s:%d: %s", m.Path, m.Line, strings.TrimSpace(m.Snippet)))
	}
	return strings.Join(lines, "\n"), nil
}

// DescribeStructureTool renders a directory outline.
type DescribeStructureTool struct {
	FS *Filesystem
}

func (t *DescribeStructureTool) Name() string { return "describe_structure" }

func (t *DescribeStructureTool) Schema() Schema {
	return Schema{
		Name:        "describe_structure",
		Description: "Render a tree outline of a directory",
		Parameters: []SchemaField{
			{Name: "path", Type: "string", Description: "Relative directory, defaults to workspace root", Required: false},
			{Name: "max_depth", Type: "integer", Description: "Depth cap, defaults to 3", Required: false},
		},
	}
}

func (t *DescribeStructureTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	return t.FS.DescribeStructure(path, argInt(args, "max_depth", 3), argInt(args, "max_entries", 200))
}

// RunCommandTool executes a workspace command, streaming stdout lines.
type RunCommandTool struct {
	Terminal *Terminal
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Schema() Schema {
	return Schema{
		Name:        "run_command",
		Description: "Execute a command in the workspace and return its output",
		Parameters: []SchemaField{
			{Name: "command", Type: "string", Description: "Executable name", Required: true},
			{Name: "args", Type: "array", Description: "Command arguments", Required: false},
		},
	}
}

// Targets serializes command execution; two commands never run at once.
func (t *RunCommandTool) Targets(map[string]any) []string {
	return []string{"terminal"}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.ExecuteStream(ctx, args, nil)
}

func (t *RunCommandTool) ExecuteStream(ctx context.Context, args map[string]any, onChunk func(string)) (string, error) {
	command, _ := args["command"].(string)
	cmdArgs := argStrings(args, "args")

	res, err := t.Terminal.ExecStream(ctx, onChunk, command, cmdArgs...)
	if err != nil {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("command failed (exit %d): %s", res.ExitCode, detail)
	}
	out := res.Stdout
	if strings.TrimSpace(out) == "" && strings.TrimSpace(res.Stderr) != "" {
		out = res.Stderr
	}
	return out, nil
}

// PrefixRestrictedCommand wraps a command tool with a prefix allowlist.
// Used for phases that may only run approved commands.
type PrefixRestrictedCommand struct {
	Inner    *RunCommandTool
	Prefixes []string
}

func (t *PrefixRestrictedCommand) Name() string { return t.Inner.Name() }

func (t *PrefixRestrictedCommand) Schema() Schema {
	s := t.Inner.Schema()
	s.Description = fmt.Sprintf("%s (restricted to: %s)", s.Description, strings.Join(t.Prefixes, ", "))
	return s
}

func (t *PrefixRestrictedCommand) Targets(args map[string]any) []string {
	return t.Inner.Targets(args)
}

func (t *PrefixRestrictedCommand) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.ExecuteStream(ctx, args, nil)
}

func (t *PrefixRestrictedCommand) ExecuteStream(ctx context.Context, args map[string]any, onChunk func(string)) (string, error) {
	command, _ := args["command"].(string)
	full := strings.TrimSpace(strings.Join(append([]string{command}, argStrings(args, "args")...), " "))
	if !prefixAllowed(full, t.Prefixes) {
		return "", fmt.Errorf("command %q is not in the approved prefix list", full)
	}
	return t.Inner.ExecuteStream(ctx, args, onChunk)
}

func prefixAllowed(full string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if full == p || strings.HasPrefix(full, p+" ") {
			return true
		}
	}
	return false
}

// GitStatusTool reports working tree status.
type GitStatusTool struct {
	Git *GitTool
}

func (t *GitStatusTool) Name() string { return "git_status" }

func (t *GitStatusTool) Schema() Schema {
	return Schema{
		Name:        "git_status",
		Description: "Show short git status for the workspace",
		Parameters:  []SchemaField{},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	out, err := t.Git.Status(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "clean working tree", nil
	}
	return out, nil
}

// ApplyPatchTool applies a unified diff with backup lineage.
type ApplyPatchTool struct {
	Git *GitTool
}

func (t *ApplyPatchTool) Name() string { return "apply_patch" }

func (t *ApplyPatchTool) Schema() Schema {
	return Schema{
		Name:        "apply_patch",
		Description: "Apply a git patch; set dry_run to validate without applying",
		Parameters: []SchemaField{
			{Name: "patch", Type: "string", Description: "Unified diff content", Required: true},
			{Name: "dry_run", Type: "boolean", Description: "Validate only", Required: false},
		},
	}
}

// Targets serializes patch application against other git mutations.
func (t *ApplyPatchTool) Targets(map[string]any) []string {
	return []string{"git"}
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	patch, _ := args["patch"].(string)
	dryRun, _ := args["dry_run"].(bool)
	out, err := t.Git.ApplyPatch(ctx, patch, dryRun)
	if err != nil {
		return "", fmt.Errorf("apply patch: %s", strings.TrimSpace(out+" "+err.Error()))
	}
	if dryRun {
		return "patch applies cleanly (dry run)", nil
	}
	if strings.TrimSpace(out) == "" {
		return "patch applied", nil
	}
	return out, nil
}

// RestoreBackupTool reverts the workspace to a saved patch backup.
type RestoreBackupTool struct {
	Git *GitTool
}

func (t *RestoreBackupTool) Name() string { return "restore_backup" }

func (t *RestoreBackupTool) Schema() Schema {
	return Schema{
		Name:        "restore_backup",
		Description: "Revert the latest applied patch backup, or a specific one by name",
		Parameters: []SchemaField{
			{Name: "name", Type: "string", Description: "Backup id, defaults to latest", Required: false},
		},
	}
}

func (t *RestoreBackupTool) Targets(map[string]any) []string {
	return []string{"git"}
}

func (t *RestoreBackupTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	out, err := t.Git.RestoreBackup(ctx, name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "backup restored", nil
	}
	return out, nil
}

// ListBackupsTool lists saved patch backups.
type ListBackupsTool struct {
	Git *GitTool
}

func (t *ListBackupsTool) Name() string { return "list_backups" }

func (t *ListBackupsTool) Schema() Schema {
	return Schema{
		Name:        "list_backups",
		Description: "List saved patch backups",
		Parameters:  []SchemaField{},
	}
}

func (t *ListBackupsTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	ids, err := t.Git.ListBackups()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "no backups saved", nil
	}
	return strings.Join(ids, "\n"), nil
}

// PreviewBackupTool shows a backup's patch content.
type PreviewBackupTool struct {
	Git *GitTool
}

func (t *PreviewBackupTool) Name() string { return "preview_backup" }

func (t *PreviewBackupTool) Schema() Schema {
	return Schema{
		Name:        "preview_backup",
		Description: "Show the patch content of a backup, latest when name is omitted",
		Parameters: []SchemaField{
			{Name: "name", Type: "string", Description: "Backup id", Required: false},
		},
	}
}

func (t *PreviewBackupTool) Execute(_ context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	return t.Git.PreviewBackup(name)
}

// SemanticSearchTool finds files relevant to a natural language query.
type SemanticSearchTool struct {
	Engine *semantic.Engine
}

func (t *SemanticSearchTool) Name() string { return "semantic_search" }

func (t *SemanticSearchTool) Schema() Schema {
	return Schema{
		Name:        "semantic_search",
		Description: "Find relevant files by token overlap with a query",
		Parameters: []SchemaField{
			{Name: "query", Type: "string", Description: "What to look for", Required: true},
			{Name: "limit", Type: "integer", Description: "Result cap, defaults to 5", Required: false},
		},
	}
}

func (t *SemanticSearchTool) Execute(_ context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	hits, err := t.Engine.Search(query, argInt(args, "limit", 5))
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return fmt.Sprintf("no files matched %q", query), nil
	}
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("%s (%.2f): %s", h.Path, h.Score, h.Snippet))
	}
	return strings.Join(lines, "\n"), nil
}

// PlannerTool records the model's plan for the task. It performs no
// side effects; the orchestrator reads the normalized plan back from
// the call result.
type PlannerTool struct{}

func (t *PlannerTool) Name() string { return "planner" }

func (t *PlannerTool) Schema() Schema {
	return Schema{
		Name:        "planner",
		Description: "Record the step-by-step plan before any implementation work",
		Parameters: []SchemaField{
			{Name: "steps", Type: "array", Description: "Ordered plan steps", Required: false},
			{Name: "plan", Type: "string", Description: "Free-form plan text when steps are not used", Required: false},
		},
	}
}

func (t *PlannerTool) Execute(_ context.Context, args map[string]any) (string, error) {
	if steps := argStrings(args, "steps"); len(steps) > 0 {
		lines := make([]string, 0, len(steps))
		for i, step := range steps {
			step = strings.TrimSpace(step)
			if step == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, step))
		}
		if len(lines) > 0 {
			return strings.Join(lines, "\n"), nil
		}
	}
	if plan, _ := args["plan"].(string); strings.TrimSpace(plan) != "" {
		return strings.TrimSpace(plan), nil
	}
	return "", fmt.Errorf("planner requires steps or plan")
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}
