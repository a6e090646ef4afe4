package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

const (
	// agentsFile is folded into the system prompt's workspace section when
	// present at the workspace root.
	agentsFile = "AGENTS.md"

	contextMaxEntries = 50
	contextMaxAgents  = 4 * 1024
)

// Context gathers the workspace overview rendered into a node's system
// prompt: top-level entries, AGENTS.md and git status. Failures degrade to
// a smaller section, never an error.
func (w *Workspace) Context(ctx context.Context) string {
	var sb strings.Builder

	if entries, err := os.ReadDir(w.root); err == nil && len(entries) > 0 {
		sb.WriteString("Top-level entries:\n")
		for i, entry := range entries {
			if i == contextMaxEntries {
				sb.WriteString("- ...\n")
				break
			}
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			sb.WriteString("- ")
			sb.WriteString(name)
			sb.WriteString("\n")
		}
	}

	if data, err := os.ReadFile(filepath.Join(w.root, agentsFile)); err == nil {
		text := string(data)
		if len(text) > contextMaxAgents {
			text = text[:contextMaxAgents] + "\n[truncated]"
		}
		sb.WriteString("\nAGENTS.md:\n")
		sb.WriteString(strings.TrimSpace(text))
		sb.WriteString("\n")
	}

	if w.isGitRepo() {
		res, err := w.RunCommand(ctx, "git status --porcelain", ExecOptions{Timeout: gitTimeout})
		if err == nil && res.ExitCode == 0 {
			if status := strings.TrimSpace(res.Stdout); status != "" {
				sb.WriteString("\nGit status:\n")
				sb.WriteString(status)
				sb.WriteString("\n")
			}
		}
	}

	return strings.TrimSpace(sb.String())
}
