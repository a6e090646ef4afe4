// Package workspace confines a node's tool execution to its run's working
// directory. Path resolution, file operations, command execution and git
// integration all go through one Workspace value rooted at the run cwd;
// relative paths that escape the root are rejected before any I/O happens.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxReadBytes caps read_file output so a single tool call cannot
	// flood the event log.
	maxReadBytes = 256 * 1024

	// Walk limits for list_files and context gathering.
	maxWalkFiles = 5000
	maxWalkDepth = 30
)

// skipDirNames are directory names never descended into when listing files.
var skipDirNames = map[string]bool{
	".git":         true,
	".loom":        true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"bin":          true,
}

// Workspace executes file and command operations confined to one root
// directory.
type Workspace struct {
	root string
}

// New creates a workspace rooted at dir. The directory must exist.
func New(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// SafePath resolves rel against the root and rejects paths that escape it.
func (w *Workspace) SafePath(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("path is empty")
	}
	abs := filepath.Join(w.root, rel)
	back, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", rel, err)
	}
	if back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

// ReadFile returns the file's content, truncated at maxBytes. maxBytes <= 0
// applies the default cap.
func (w *Workspace) ReadFile(rel string, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		maxBytes = maxReadBytes
	}
	abs, err := w.SafePath(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	if len(data) > maxBytes {
		return string(data[:maxBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

// WriteFile writes content to rel, creating parent directories as needed.
func (w *Workspace) WriteFile(rel, content string) error {
	abs, err := w.SafePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// DeleteFile removes a regular file. Directories are refused.
func (w *Workspace) DeleteFile(rel string) error {
	abs, err := w.SafePath(rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", rel)
	}
	return os.Remove(abs)
}

// ListFiles walks the workspace and returns relative file paths, skipping
// dependency and VCS directories. maxFiles <= 0 applies the default limit.
func (w *Workspace) ListFiles(maxFiles int) ([]string, error) {
	if maxFiles <= 0 || maxFiles > maxWalkFiles {
		maxFiles = maxWalkFiles
	}
	var out []string
	err := w.walkDir(w.root, "", 0, maxFiles, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Workspace) walkDir(dir, rel string, depth, maxFiles int, out *[]string) error {
	if len(*out) >= maxFiles || depth > maxWalkDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable subdirectories are skipped; only the root is an error.
		if rel == "" {
			return fmt.Errorf("list workspace: %w", err)
		}
		return nil
	}
	for _, entry := range entries {
		if len(*out) >= maxFiles {
			return nil
		}
		name := entry.Name()
		next := name
		if rel != "" {
			next = rel + "/" + name
		}
		if entry.IsDir() {
			if skipDirNames[name] {
				continue
			}
			if err := w.walkDir(filepath.Join(dir, name), next, depth+1, maxFiles, out); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		*out = append(*out, next)
	}
	return nil
}
