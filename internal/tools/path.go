package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard confines filesystem access to a base directory. Tool paths
// are workspace-relative; the guard rejects anything that would
// resolve outside the root.
type PathGuard struct {
	BaseDir string
}

// NewPathGuard roots a guard at baseDir, falling back to the current
// working directory when empty.
func NewPathGuard(baseDir string) (*PathGuard, error) {
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	return &PathGuard{BaseDir: abs}, nil
}

// Resolve turns a workspace-relative path into an absolute one,
// rejecting absolute input and traversal outside BaseDir.
func (g *PathGuard) Resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(filepath.Clean(p)) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}
	abs := filepath.Clean(filepath.Join(g.BaseDir, p))
	if !g.contains(abs) {
		return "", fmt.Errorf("path escapes base directory")
	}
	return abs, nil
}

// Rel maps an absolute path under BaseDir back to workspace-relative
// form. Paths outside the root come back unchanged.
func (g *PathGuard) Rel(abs string) string {
	rel, err := filepath.Rel(g.BaseDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return abs
	}
	return rel
}

func (g *PathGuard) contains(abs string) bool {
	if abs == g.BaseDir {
		return true
	}
	return strings.HasPrefix(abs, g.BaseDir+string(os.PathSeparator))
}
