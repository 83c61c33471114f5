package agent

import (
	"sync"

	"github.com/avoncourt/voxform/internal/forms"
)

// Builder constructs an agent for one form config snapshot.
type Builder func(cfg *forms.FormConfig) (*DynamicAgent, error)

// Registry caches one agent per form, keyed by the config version, so an
// updated form gets a fresh prompt and schema on its next turn.
type Registry struct {
	mu     sync.Mutex
	build  Builder
	agents map[string]registryEntry
}

type registryEntry struct {
	version string
	agent   *DynamicAgent
}

func NewRegistry(build Builder) *Registry {
	return &Registry{
		build:  build,
		agents: make(map[string]registryEntry),
	}
}

// For returns the cached agent for cfg, rebuilding when the version moved.
func (r *Registry) For(cfg *forms.FormConfig) (*DynamicAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.agents[cfg.ID]; ok && e.version == cfg.Version() {
		return e.agent, nil
	}
	a, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.agents[cfg.ID] = registryEntry{version: cfg.Version(), agent: a}
	return a, nil
}

// Invalidate drops the cached agent for a form, if any.
func (r *Registry) Invalidate(formID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, formID)
}
