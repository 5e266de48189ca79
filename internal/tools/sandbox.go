package tools

import (
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/semantic"
)

// Sandbox holds the configured tool engines rooted at one workspace.
type Sandbox struct {
	FS       *Filesystem
	Terminal *Terminal
	Git      *GitTool
}

var defaultNetworkDenied = []string{
	"curl", "wget", "ping", "nc", "netcat", "telnet", "ssh", "scp", "sftp",
}

// NewSandbox builds filesystem, terminal and git engines respecting
// config flags.
func NewSandbox(baseDir string, sandboxCfg config.SandboxConfig, toolsCfg config.ToolsConfig) (*Sandbox, error) {
	fsTool, err := NewFilesystem(baseDir, sandboxCfg.AllowWrite && toolsCfg.AllowFileWrite)
	if err != nil {
		return nil, fmt.Errorf("build filesystem tool: %w", err)
	}

	denied := append([]string{}, sandboxCfg.DeniedCommands...)
	if !sandboxCfg.AllowNetwork {
		denied = append(denied, defaultNetworkDenied...)
	}

	execTimeout := sandboxCfg.TimeoutSeconds
	if toolsCfg.ExecTimeoutSeconds > 0 {
		execTimeout = toolsCfg.ExecTimeoutSeconds
	}

	term := &Terminal{
		WorkingDir:     baseDir,
		Allowed:        sandboxCfg.AllowedCommands,
		Denied:         dedupeStrings(denied),
		Timeout:        time.Duration(execTimeout) * time.Second,
		AllowExecution: toolsCfg.AllowExec && sandboxCfg.Enabled && allowCommands(sandboxCfg),
	}

	git := &GitTool{
		WorkingDir: baseDir,
		AllowExec:  toolsCfg.AllowGit && sandboxCfg.Enabled,
		DryRunOnly: !sandboxCfg.AllowWrite,
	}

	return &Sandbox{FS: fsTool, Terminal: term, Git: git}, nil
}

// BuildRegistry assembles the full tool registry from the sandbox
// engines. The semantic engine is optional.
func (s *Sandbox) BuildRegistry(engine *semantic.Engine) *Registry {
	reg := NewRegistry()
	reg.Register(&ReadFileTool{FS: s.FS})
	reg.Register(&WriteFileTool{FS: s.FS})
	reg.Register(&WriteFilesTool{FS: s.FS})
	reg.Register(&ListDirTool{FS: s.FS})
	reg.Register(&StatTool{FS: s.FS})
	reg.Register(&SearchTextTool{FS: s.FS})
	reg.Register(&DescribeStructureTool{FS: s.FS})
	reg.Register(&RunCommandTool{Terminal: s.Terminal})
	reg.Register(&GitStatusTool{Git: s.Git})
	reg.Register(&ApplyPatchTool{Git: s.Git})
	reg.Register(&RestoreBackupTool{Git: s.Git})
	reg.Register(&ListBackupsTool{Git: s.Git})
	reg.Register(&PreviewBackupTool{Git: s.Git})
	if engine != nil {
		reg.Register(&SemanticSearchTool{Engine: engine})
	}
	reg.Register(&PlannerTool{})
	return reg
}

func allowCommands(s config.SandboxConfig) bool {
	return s.AllowWrite || len(s.AllowedCommands) > 0 || len(s.DeniedCommands) > 0 || s.AllowNetwork
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
