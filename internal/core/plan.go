package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/barysiuk/mountplan/internal/core/manifest"
)

// PlanFileName is the compiled document inside a profile directory.
const PlanFileName = "mount_plan.json"

// MountPlan is the compiled, source-free runtime configuration of a profile.
// Every path in it is relative to the compiled profile directory.
type MountPlan struct {
	Session   Session               `json:"session"`
	Providers []ModuleEntry         `json:"providers"`
	Tools     []ModuleEntry         `json:"tools"`
	Hooks     []ModuleEntry         `json:"hooks"`
	Agents    map[string]AgentEntry `json:"agents"`
}

// Session holds the session-level modules.
type Session struct {
	Orchestrator *SessionModule `json:"orchestrator,omitempty"`
	Context      *SessionModule `json:"context,omitempty"`
	Contexts     []ContextEntry `json:"contexts"`
}

// SessionModule is an orchestrator or context manager. Source records which
// profile supplied it; it is not a fetchable reference.
type SessionModule struct {
	Module string         `json:"module"`
	Source string         `json:"source"`
	Path   string         `json:"path"`
	Config map[string]any `json:"config"`
}

// ModuleEntry is a provider, tool or hook.
type ModuleEntry struct {
	Module string         `json:"module"`
	Path   string         `json:"path"`
	Config map[string]any `json:"config"`
}

// ContextEntry is a context bundle made available to the session.
type ContextEntry struct {
	Name     string `json:"name"`
	Behavior string `json:"behavior,omitempty"`
	Path     string `json:"path"`
}

// AgentEntry is an agent definition inlined into the plan.
type AgentEntry struct {
	Content  string        `json:"content"`
	Metadata AgentMetadata `json:"metadata"`
}

// AgentMetadata records where an agent's content came from.
type AgentMetadata struct {
	Source string `json:"source"`
}

// agentFiles are tried in order; "%s" is the agent id.
var agentFiles = []string{"%s.md", "agent.md", "README.md"}

// AssemblePlan builds the mount plan for profileName from materialized
// assets and the merged configuration. Tools and hooks are keyed by id; the
// first asset with a given id wins.
func AssemblePlan(profileName string, assets []ResolvedAsset, merged map[string]any) (*MountPlan, error) {
	plan := &MountPlan{
		Session:   Session{Contexts: []ContextEntry{}},
		Providers: []ModuleEntry{},
		Tools:     []ModuleEntry{},
		Hooks:     []ModuleEntry{},
		Agents:    map[string]AgentEntry{},
	}

	ns, err := newNamespaces(merged)
	if err != nil {
		return nil, err
	}

	seenTools := make(map[string]bool)
	seenHooks := make(map[string]bool)
	for _, a := range assets {
		c := a.Ref
		switch c.Type {
		case manifest.KindOrchestrator, manifest.KindContext:
			m := &SessionModule{
				Module: c.ID,
				Source: profileName,
				Path:   a.RelPath,
				Config: DeepMerge(c.Config, ns.lookup(c.ID)),
			}
			if c.Type == manifest.KindOrchestrator {
				plan.Session.Orchestrator = m
			} else {
				plan.Session.Context = m
			}

		case manifest.KindProviders:
			plan.Providers = append(plan.Providers, ModuleEntry{
				Module: c.ID,
				Path:   a.RelPath,
				Config: DeepMerge(c.Config, ns.lookup(c.ID)),
			})

		case manifest.KindTools, manifest.KindHooks:
			seen := seenTools
			if c.Type == manifest.KindHooks {
				seen = seenHooks
			}
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			entry := ModuleEntry{Module: c.ID, Path: a.RelPath, Config: moduleConfig(c, ns)}
			if c.Type == manifest.KindTools {
				plan.Tools = append(plan.Tools, entry)
			} else {
				plan.Hooks = append(plan.Hooks, entry)
			}

		case manifest.KindContexts:
			plan.Session.Contexts = append(plan.Session.Contexts, ContextEntry{
				Name:     c.ID,
				Behavior: c.BehaviorID,
				Path:     a.RelPath,
			})

		case manifest.KindAgents:
			if _, ok := plan.Agents[c.ID]; ok {
				continue
			}
			content, err := readAgent(a.ProfilePath, c.ID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", describeComponent(c), err)
			}
			plan.Agents[c.ID] = AgentEntry{
				Content:  content,
				Metadata: AgentMetadata{Source: fmt.Sprintf("%s:agents/%s.md", profileName, c.ID)},
			}
		}
	}
	return plan, nil
}

// moduleConfig layers a working_dir default, the component's inline config
// and the namespaced entries from the merged config.
func moduleConfig(c manifest.ComponentRef, ns namespaces) map[string]any {
	cfg := map[string]any{"working_dir": "."}
	cfg = DeepMerge(cfg, c.Config)
	return DeepMerge(cfg, ns.lookup(c.ID))
}

func readAgent(dir, id string) (string, error) {
	var tried []string
	for _, pattern := range agentFiles {
		name := pattern
		if strings.Contains(pattern, "%s") {
			name = fmt.Sprintf(pattern, id)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		tried = append(tried, name)
	}
	return "", fmt.Errorf("no agent file found (tried %s)", strings.Join(tried, ", "))
}

// namespaces answers "<id>.<key>" lookups over the merged configuration,
// both as a nested object under the id and as flat dotted keys.
type namespaces struct {
	doc gjson.Result
}

func newNamespaces(merged map[string]any) (namespaces, error) {
	if len(merged) == 0 {
		return namespaces{}, nil
	}
	raw, err := manifest.CanonicalJSON(merged)
	if err != nil {
		return namespaces{}, fmt.Errorf("encoding merged config: %w", err)
	}
	return namespaces{doc: gjson.ParseBytes(raw)}, nil
}

func (n namespaces) lookup(id string) map[string]any {
	if !n.doc.Exists() {
		return nil
	}
	out := map[string]any{}
	prefix := id + "."
	n.doc.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		switch {
		case k == id && value.IsObject():
			if m, ok := value.Value().(map[string]any); ok {
				out = DeepMerge(out, m)
			}
		case strings.HasPrefix(k, prefix) && len(k) > len(prefix):
			out[k[len(prefix):]] = value.Value()
		}
		return true
	})
	return out
}

// EncodePlan serializes a plan as canonical JSON with a trailing newline, so
// equal plans are byte-identical.
func EncodePlan(plan *MountPlan) ([]byte, error) {
	data, err := manifest.CanonicalJSON(plan)
	if err != nil {
		return nil, fmt.Errorf("encoding mount plan: %w", err)
	}
	return append(data, '\n'), nil
}
