package tools

import (
	"fmt"
	"strings"
)

// ErrToolNotFound is wrapped by resolution failures. Unknown tools are
// terminal for the call; there is no fuzzy matching beyond the alias
// table.
var ErrToolNotFound = fmt.Errorf("tool not found")

// aliases maps shorthand names models emit to canonical tool names.
// The first alias present in the registry wins.
var aliases = map[string][]string{
	"read":        {"read_file"},
	"read_files":  {"read_file"},
	"open":        {"read_file"},
	"cat":         {"read_file"},
	"write":       {"write_file", "write_files"},
	"create_file": {"write_file"},
	"edit":        {"write_file"},
	"ls":          {"list_dir"},
	"list":        {"list_dir"},
	"dir":         {"list_dir"},
	"search":      {"search_text"},
	"grep":        {"search_text"},
	"find":        {"search_text"},
	"tree":        {"describe_structure"},
	"structure":   {"describe_structure"},
	"run":         {"run_command"},
	"exec":        {"run_command"},
	"shell":       {"run_command"},
	"bash":        {"run_command"},
	"terminal":    {"run_command"},
	"status":      {"git_status"},
	"patch":       {"apply_patch"},
	"diff":        {"apply_patch"},
	"plan":        {"planner"},
	"semantic":    {"semantic_search"},
}

// Resolve maps a model-supplied tool name to a registered tool. Exact
// names win; otherwise the alias table is consulted. A miss is a hard
// failure, never a guess.
func Resolve(reg *Registry, name string) (Tool, string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, "", fmt.Errorf("%w: empty tool name", ErrToolNotFound)
	}

	if t, ok := reg.Get(trimmed); ok {
		return t, trimmed, nil
	}

	if candidates, ok := aliases[strings.ToLower(trimmed)]; ok {
		for _, candidate := range candidates {
			if t, ok := reg.Get(candidate); ok {
				return t, candidate, nil
			}
		}
	}

	return nil, "", fmt.Errorf("%w: %q is not a registered tool", ErrToolNotFound, trimmed)
}
