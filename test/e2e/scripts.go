package e2e

import (
	"sync"

	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/provider"
)

// ScriptBook assigns mock provider scripts to nodes by label and records
// every adapter it hands out, so tests can script a node before creating
// it and inspect its session afterwards. A node without a script gets the
// default mock behavior (every turn completes with "ok").
type ScriptBook struct {
	mu       sync.Mutex
	scripts  map[string]*provider.MockScript
	adapters map[string][]*provider.MockAdapter
}

// NewScriptBook creates an empty script book.
func NewScriptBook() *ScriptBook {
	return &ScriptBook{
		scripts:  make(map[string]*provider.MockScript),
		adapters: make(map[string][]*provider.MockAdapter),
	}
}

// Script registers the script for nodes with the given label. Later
// registrations replace earlier ones; sessions already created keep the
// script they were built with.
func (b *ScriptBook) Script(label string, script *provider.MockScript) *ScriptBook {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[label] = script
	return b
}

// Factory returns a provider factory that serves scripted mock adapters.
func (b *ScriptBook) Factory() provider.Factory {
	return provider.FactoryFunc(func(run *models.Run, node *models.Node) (provider.Adapter, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		adapter := provider.NewMockAdapter(
			provider.Identity{RunID: run.ID, NodeID: node.ID},
			b.scripts[node.Label],
		)
		b.adapters[node.Label] = append(b.adapters[node.Label], adapter)
		return adapter, nil
	})
}

// Adapter returns the most recently created adapter for the label, or nil
// when no session has been built yet.
func (b *ScriptBook) Adapter(label string) *provider.MockAdapter {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.adapters[label]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Adapters returns every adapter created for the label, oldest first.
func (b *ScriptBook) Adapters(label string) []*provider.MockAdapter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*provider.MockAdapter, len(b.adapters[label]))
	copy(out, b.adapters[label])
	return out
}
