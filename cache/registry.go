package cache

import (
	"slices"
	"sync"
)

// ChangeFunc is called after a tool's config changes. old is the zero
// ToolConfig when the tool was not registered; removed reports Remove.
type ChangeFunc func(tool string, old, cur ToolConfig, removed bool)

// Registry maps tool names to their cache configuration. Unknown tools
// resolve to a disabled config.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolConfig
	watchers map[int]ChangeFunc
	nextID   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]ToolConfig),
		watchers: make(map[int]ChangeFunc),
	}
}

// Set registers or replaces tool's config.
func (r *Registry) Set(tool string, cfg ToolConfig) {
	cfg.Tags = slices.Clone(cfg.Tags)

	r.mu.Lock()
	old := r.tools[tool]
	r.tools[tool] = cfg
	watchers := r.watchersLocked()
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(tool, old, cfg, false)
	}
}

// Get returns tool's config, or a disabled config when unknown.
func (r *Registry) Get(tool string) ToolConfig {
	cfg, _ := r.Lookup(tool)
	return cfg
}

// Lookup returns tool's config and whether it is registered.
func (r *Registry) Lookup(tool string) (ToolConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tools[tool]
	cfg.Tags = slices.Clone(cfg.Tags)
	return cfg, ok
}

// Disable turns caching off for tool, keeping the rest of its config.
func (r *Registry) Disable(tool string) {
	r.mu.RLock()
	cfg, ok := r.tools[tool]
	r.mu.RUnlock()
	if !ok || !cfg.Enabled {
		return
	}
	cfg.Enabled = false
	r.Set(tool, cfg)
}

// Remove unregisters tool.
func (r *Registry) Remove(tool string) {
	r.mu.Lock()
	old, ok := r.tools[tool]
	delete(r.tools, tool)
	watchers := r.watchersLocked()
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, fn := range watchers {
		fn(tool, old, ToolConfig{}, true)
	}
}

// Tools returns the registered tool names in sorted order.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Subscribe registers fn for config changes and returns a function that
// unregisters it. Callbacks run synchronously, outside the registry lock.
func (r *Registry) Subscribe(fn ChangeFunc) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *Registry) watchersLocked() []ChangeFunc {
	ids := make([]int, 0, len(r.watchers))
	for id := range r.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]ChangeFunc, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.watchers[id])
	}
	return out
}
