package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/omni-agent/omnicore/guard"
)

// Tool is the single capability every external collaborator implements.
// Tools are only ever invoked by the dispatch coordinator, never directly
// by the conversational layer, and they declare their own action kind and
// risk tier so the coordinator can gate them without type-checking
// concrete implementations.
type Tool interface {
	Name() string
	Kind() guard.ActionKind
	RiskTier() guard.RiskTier

	// Execute runs the tool against target. secrets holds the resolved
	// plaintext values the coordinator fetched from the vault for this one
	// call; implementations must not retain them.
	Execute(ctx context.Context, target string, secrets map[string]string) (string, error)
}

// Registry maps capability ids to tools.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[strings.TrimSpace(name)]
	return t, ok
}

func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name])
	}
	return out
}
