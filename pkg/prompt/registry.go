package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weftlab/loom/pkg/config"
)

// TemplateRegistry resolves role template names to file contents.
//
// Resolution walks the configured directories in order; relative entries are
// joined to the run's working directory so a repository can ship its own
// templates, absolute entries (the data directory fallback) apply to every
// run. A name that resolves nowhere yields a cached placeholder, never an
// error: a node with a broken template still runs, it just knows nothing
// about its role.
//
// Contents are cached with a TTL; expired entries are re-read lazily on
// Lookup, no background goroutine. When watching is enabled, a filesystem
// event under any resolved directory drops the whole cache so edits show up
// on the next turn instead of after the TTL.
type TemplateRegistry struct {
	dirs []string
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]*templateEntry

	watcher   *fsnotify.Watcher
	watchMu   sync.Mutex
	watched   map[string]bool
	watchDone chan struct{}
}

type templateEntry struct {
	content  string
	loadedAt time.Time
}

// NewTemplateRegistry creates a registry from the templates configuration.
// A watcher failure is logged and disables watching rather than failing
// startup; the TTL still bounds staleness.
func NewTemplateRegistry(cfg *config.TemplatesConfig) *TemplateRegistry {
	r := &TemplateRegistry{
		dirs:    append([]string(nil), cfg.Dirs...),
		ttl:     cfg.CacheTTL,
		entries: make(map[string]*templateEntry),
		watched: make(map[string]bool),
	}

	if cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("Template watching disabled", "error", err)
			return r
		}
		r.watcher = watcher
		r.watchDone = make(chan struct{})
		go r.watchLoop()
	}

	return r
}

// Close stops the filesystem watcher, if any.
func (r *TemplateRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.watchDone
	return err
}

// Lookup returns the template content for name, resolved against the run's
// working directory. Never fails; missing or unsafe names return the
// placeholder text.
func (r *TemplateRegistry) Lookup(name, cwd string) string {
	if !safeTemplateName(name) {
		return fmt.Sprintf(missingTemplateFormat, name)
	}

	key := cwd + "\x00" + name

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if ok && (r.ttl <= 0 || time.Since(entry.loadedAt) <= r.ttl) {
		return entry.content
	}

	content := r.load(name, cwd)

	r.mu.Lock()
	r.entries[key] = &templateEntry{content: content, loadedAt: time.Now()}
	r.mu.Unlock()

	return content
}

// Invalidate drops all cached templates.
func (r *TemplateRegistry) Invalidate() {
	r.mu.Lock()
	r.entries = make(map[string]*templateEntry)
	r.mu.Unlock()
}

func (r *TemplateRegistry) load(name, cwd string) string {
	filename := name + ".md"

	for _, dir := range r.dirs {
		base := dir
		if !filepath.IsAbs(base) {
			if cwd == "" {
				continue
			}
			base = filepath.Join(cwd, base)
		}

		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		r.watchDir(base)
		return string(data)
	}

	slog.Debug("Role template not found, using placeholder", "template", name)
	return fmt.Sprintf(missingTemplateFormat, name)
}

// watchDir registers a directory with the watcher on first successful read.
// Directories are discovered lazily because relative entries depend on the
// run's working directory.
func (r *TemplateRegistry) watchDir(dir string) {
	if r.watcher == nil {
		return
	}

	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watched[dir] {
		return
	}
	if err := r.watcher.Add(dir); err != nil {
		slog.Warn("Failed to watch template directory", "dir", dir, "error", err)
		return
	}
	r.watched[dir] = true
}

func (r *TemplateRegistry) watchLoop() {
	defer close(r.watchDone)

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.Invalidate()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Template watcher error", "error", err)
		}
	}
}

// safeTemplateName rejects names that could escape the template directories.
func safeTemplateName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}
