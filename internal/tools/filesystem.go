package tools

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxReadBytes caps file reads so a single read cannot flood the
// model context.
const DefaultMaxReadBytes = 256 * 1024

// errWalkLimit ends a directory walk once a result or entry budget is
// spent. Never surfaced to callers.
var errWalkLimit = errors.New("walk limit reached")

// Filesystem provides safe file operations rooted at a base directory.
type Filesystem struct {
	guard        *PathGuard
	allowWrite   bool
	allowRead    bool
	maxReadBytes int
}

// NewFilesystem builds a filesystem tool with write permissions controlled by allowWrite.
func NewFilesystem(baseDir string, allowWrite bool) (*Filesystem, error) {
	guard, err := NewPathGuard(baseDir)
	if err != nil {
		return nil, err
	}
	return &Filesystem{
		guard:        guard,
		allowWrite:   allowWrite,
		allowRead:    true,
		maxReadBytes: DefaultMaxReadBytes,
	}, nil
}

// ReadFile returns file contents as string, truncated at the read cap.
func (f *Filesystem) ReadFile(path string) (string, error) {
	if !f.allowRead {
		return "", errors.New("read is disabled by configuration")
	}
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if f.maxReadBytes > 0 && len(data) > f.maxReadBytes {
		return string(data[:f.maxReadBytes]) + "\n... [truncated]", nil
	}
	return string(data), nil
}

// WriteFile writes content to a file if allowed.
func (f *Filesystem) WriteFile(path string, content string) error {
	if !f.allowWrite {
		return errors.New("write is disabled by configuration")
	}
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// Stat returns file info for a path inside the guard.
func (f *Filesystem) Stat(path string) (fs.FileInfo, error) {
	if !f.allowRead {
		return nil, errors.New("read is disabled by configuration")
	}
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(resolved)
}

// ListDir lists entries in a directory (names only).
func (f *Filesystem) ListDir(path string) ([]fs.DirEntry, error) {
	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(resolved)
}

// SearchResult represents a single pattern match.
type SearchResult struct {
	Path    string
	Line    int
	Snippet string
}

// Search looks for pattern occurrences in files under root (relative path).
func (f *Filesystem) Search(root string, pattern string, maxResults int) ([]SearchResult, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, maxResults)
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != resolved && skipWalkDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		matches, err := scanForPattern(path, f.guard.Rel(path), pattern, maxResults-len(results))
		if err != nil {
			// unreadable files are skipped
			return nil
		}
		results = append(results, matches...)
		if len(results) >= maxResults {
			return errWalkLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errWalkLimit) {
		return results, err
	}
	return results, nil
}

// scanForPattern collects up to limit line matches in one file.
func scanForPattern(path, rel, pattern string, limit int) ([]SearchResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []SearchResult
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		if !strings.Contains(scanner.Text(), pattern) {
			continue
		}
		out = append(out, SearchResult{Path: rel, Line: line, Snippet: scanner.Text()})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// WalkFiles walks files under root and invokes fn with relative path and entry.
func (f *Filesystem) WalkFiles(root string, maxFiles int, fn func(rel string, info fs.DirEntry) error) error {
	if fn == nil {
		return fmt.Errorf("fn is required")
	}
	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return err
	}
	count := 0
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != resolved && skipWalkDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if maxFiles > 0 && count >= maxFiles {
			return errWalkLimit
		}
		count++
		return fn(f.guard.Rel(path), d)
	})
	if errors.Is(err, errWalkLimit) {
		return nil
	}
	return err
}

// DescribeStructure returns a tree-like outline for a directory with depth/entry caps.
func (f *Filesystem) DescribeStructure(root string, maxDepth int, maxEntries int) (string, error) {
	if !f.allowRead {
		return "", errors.New("read is disabled by configuration")
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxEntries <= 0 {
		maxEntries = 200
	}

	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}

	lines := []string{filepath.Clean(root) + "/"}
	added := 0

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			name := e.Name()
			if skipWalkDir(name) {
				continue
			}

			prefix := strings.Repeat("  ", depth-1)
			line := fmt.Sprintf("%s- %s", prefix, name)
			if e.IsDir() {
				line += "/"
			}
			lines = append(lines, line)
			added++
			if added >= maxEntries {
				lines = append(lines, fmt.Sprintf("%s... truncated after %d entries", prefix, maxEntries))
				return errWalkLimit
			}

			if e.IsDir() && depth < maxDepth {
				if err := walk(filepath.Join(dir, name), depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(resolved, 1); err != nil && !errors.Is(err, errWalkLimit) {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// skipWalkDir filters VCS and dependency directories out of search,
// index and structure walks.
func skipWalkDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", "node_modules", ".idea", ".vscode", "vendor", ".cache", ".github":
		return true
	default:
		return false
	}
}
