package core

import (
	"github.com/barysiuk/mountplan/internal/core/manifest"
)

// CollectComponents lists every component a compile must materialize.
// Session-level components come first (orchestrator, context, providers,
// root contexts), then each behavior's hooks, agents, contexts and tools in
// sorted order. A repeated identity keeps its first occurrence.
func CollectComponents(p *manifest.Profile, sorted []string, behaviors map[string]*manifest.BehaviorDefinition) []manifest.ComponentRef {
	var out []manifest.ComponentRef
	seen := make(map[manifest.Identity]bool)
	add := func(refs ...manifest.ComponentRef) {
		for _, c := range refs {
			if seen[c.Identity()] {
				continue
			}
			seen[c.Identity()] = true
			out = append(out, c)
		}
	}

	if p.Orchestrator != nil {
		add(*p.Orchestrator)
	}
	if p.Context != nil {
		add(*p.Context)
	}
	add(p.Providers...)
	add(p.Contexts...)

	for _, id := range sorted {
		b := behaviors[id]
		if b == nil {
			continue
		}
		add(withBehavior(b.Hooks, id, manifest.KindHooks)...)
		add(withBehavior(b.Agents, id, manifest.KindAgents)...)
		add(withBehavior(b.Contexts, id, manifest.KindContexts)...)
		add(withBehavior(b.Tools, id, manifest.KindTools)...)
	}
	return out
}

// withBehavior stamps the owning behavior on refs that were built by hand
// rather than parsed.
func withBehavior(refs []manifest.ComponentRef, behaviorID string, kind manifest.Kind) []manifest.ComponentRef {
	out := make([]manifest.ComponentRef, len(refs))
	for i, c := range refs {
		if c.BehaviorID == "" {
			c.BehaviorID = behaviorID
		}
		if c.Type == "" {
			c.Type = kind
		}
		out[i] = c
	}
	return out
}
