package tools

import (
	"fmt"
	"strings"
)

const previewLimit = 120

// BuildPreview renders a one-line description of a call from the tool
// name and arguments alone. It never inspects results, so it is safe to
// emit before and during execution.
func BuildPreview(name string, args map[string]any) string {
	detail := previewDetail(name, args)
	if detail == "" {
		return name
	}
	return name + ": " + detail
}

func previewDetail(name string, args map[string]any) string {
	switch name {
	case "write_files":
		if files, ok := args["files"].([]any); ok {
			paths := make([]string, 0, len(files))
			for _, f := range files {
				if m, ok := f.(map[string]any); ok {
					if p, ok := m["path"].(string); ok {
						paths = append(paths, p)
					}
				}
			}
			if len(paths) > 0 {
				return truncatePreview(strings.Join(paths, ", "))
			}
		}
	case "write_file":
		path, _ := args["path"].(string)
		if content, ok := args["content"].(string); ok && path != "" {
			return truncatePreview(fmt.Sprintf("%s (%d bytes)", path, len(content)))
		}
		return truncatePreview(path)
	case "run_command":
		command, _ := args["command"].(string)
		if cmdArgs, ok := args["args"].([]any); ok && len(cmdArgs) > 0 {
			parts := make([]string, 0, len(cmdArgs)+1)
			parts = append(parts, command)
			for _, a := range cmdArgs {
				parts = append(parts, fmt.Sprintf("%v", a))
			}
			return truncatePreview(strings.Join(parts, " "))
		}
		return truncatePreview(command)
	case "apply_patch":
		if patch, ok := args["patch"].(string); ok {
			return truncatePreview(firstLine(patch))
		}
	}

	for _, key := range []string{"path", "pattern", "query", "plan", "name"} {
		if v, ok := args[key].(string); ok && v != "" {
			return truncatePreview(v)
		}
	}
	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func truncatePreview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > previewLimit {
		return s[:previewLimit] + "..."
	}
	return s
}
