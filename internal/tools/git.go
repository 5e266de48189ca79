package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// defaultBackupDir is where apply_patch stores reverse-patch backups,
// relative to the workspace root.
const defaultBackupDir = ".loom/patch-backups"

// GitTool wraps the git binary for status and patch management. Every
// non-dry-run apply records a backup entry first so the change can be
// reversed with restore_backup.
type GitTool struct {
	WorkingDir string
	AllowExec  bool
	DryRunOnly bool
	BackupDir  string
	stack      *patchStack
}

// Status returns git status --short for the workspace.
func (g *GitTool) Status(ctx context.Context) (string, error) {
	if !g.AllowExec {
		return "", fmt.Errorf("git operations disabled")
	}
	return g.runGit(ctx, "", "status", "--short")
}

// ApplyPatch applies a unified diff. With dryRun the patch is only
// validated (git apply --check); otherwise a backup is written before
// the patch lands.
func (g *GitTool) ApplyPatch(ctx context.Context, patch string, dryRun bool) (string, error) {
	if !g.AllowExec {
		return "", fmt.Errorf("git operations disabled")
	}
	if g.DryRunOnly && !dryRun {
		return "", fmt.Errorf("apply_patch is restricted to dry-run mode")
	}
	if dryRun {
		return g.runGit(ctx, patch, "apply", "--check", "-")
	}
	if err := g.recordBackup(patch); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	return g.runGit(ctx, patch, "apply", "-")
}

// RestoreBackup reverse-applies a stored patch. An empty name selects
// the most recent backup.
func (g *GitTool) RestoreBackup(ctx context.Context, name string) (string, error) {
	if !g.AllowExec {
		return "", fmt.Errorf("git operations disabled")
	}
	if g.DryRunOnly {
		return "", fmt.Errorf("restore_backup not allowed in dry-run-only mode")
	}
	data, err := g.readBackup(name)
	if err != nil {
		return "", err
	}
	return g.runGit(ctx, string(data), "apply", "-R", "-")
}

// ListBackups returns the ids of stored backups, oldest first.
func (g *GitTool) ListBackups() ([]string, error) {
	stack, err := g.ensureStack()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stack.Entries))
	for _, e := range stack.Entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// PreviewBackup returns the patch content of a backup, latest when
// name is empty.
func (g *GitTool) PreviewBackup(name string) (string, error) {
	data, err := g.readBackup(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *GitTool) backupDir() string {
	if g.BackupDir != "" {
		return g.BackupDir
	}
	return defaultBackupDir
}

func (g *GitTool) stackPath() string {
	return filepath.Join(g.WorkingDir, g.backupDir(), "stack.json")
}

func (g *GitTool) ensureStack() (*patchStack, error) {
	if g.stack != nil {
		return g.stack, nil
	}
	st, err := loadPatchStack(g.stackPath())
	if err != nil {
		return nil, err
	}
	g.stack = st
	return st, nil
}

// recordBackup stores the patch on disk and appends a stack entry
// whose parent is the previous head, preserving apply order.
func (g *GitTool) recordBackup(patch string) error {
	dir := filepath.Join(g.WorkingDir, g.backupDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	stack, err := g.ensureStack()
	if err != nil {
		return err
	}
	id := fmt.Sprintf("backup-%d", time.Now().UnixNano())
	filename := id + ".patch"
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(patch), 0o644); err != nil {
		return err
	}
	stack.push(PatchEntry{
		ID:        id,
		ParentID:  stack.headID(),
		FileName:  filename,
		CreatedAt: time.Now().UTC(),
	})
	return stack.save(g.stackPath())
}

func (g *GitTool) readBackup(name string) ([]byte, error) {
	stack, err := g.ensureStack()
	if err != nil {
		return nil, err
	}
	if len(stack.Entries) == 0 {
		return nil, fmt.Errorf("no backups available")
	}
	entry := stack.find(name)
	if entry == nil {
		return nil, fmt.Errorf("backup %s not found", name)
	}
	return os.ReadFile(filepath.Join(g.WorkingDir, g.backupDir(), entry.FileName))
}

func (g *GitTool) runGit(ctx context.Context, input string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if g.WorkingDir != "" {
		cmd.Dir = g.WorkingDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	if err := cmd.Run(); err != nil {
		return stderr.String(), err
	}
	return stdout.String(), nil
}
