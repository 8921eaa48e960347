package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Adapter reads one historical profile layout into the canonical Profile.
type Adapter interface {
	// Name identifies the layout, e.g. "v2".
	Name() string
	// Detect reports whether a decoded document uses this layout.
	Detect(doc map[string]any) bool
	// Schema names the embedded JSON schema for the layout.
	Schema() string
	Adapt(root *yaml.Node) (*Profile, error)
}

// adapters are tried in order; the last one is the fallback.
var adapters = []Adapter{sessionAdapter{}, profileAdapter{}}

// ParseProfile validates and adapts a profile manifest.
func ParseProfile(data []byte) (*Profile, error) {
	root, doc, err := decodeDocument("profile", data)
	if err != nil {
		return nil, err
	}

	a := adapterFor(doc)
	if err := validate("profile", a.Schema(), doc); err != nil {
		return nil, err
	}
	p, err := a.Adapt(root)
	if err != nil {
		return nil, err
	}
	p.Shape = a.Name()
	if err := checkBehaviorRefs(p.Behaviors); err != nil {
		return nil, err
	}
	return p, nil
}

func adapterFor(doc map[string]any) Adapter {
	for _, a := range adapters {
		if a.Detect(doc) {
			return a
		}
	}
	return adapters[len(adapters)-1]
}

func decodeDocument(doc string, data []byte) (*yaml.Node, map[string]any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, invalid(doc, err.Error())
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil, invalid(doc, "document is empty")
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, nil, invalid(doc, fmt.Sprintf("line %d: top level must be a mapping", root.Content[0].Line))
	}
	var m map[string]any
	if err := root.Decode(&m); err != nil {
		return nil, nil, invalid(doc, err.Error())
	}
	return &root, m, nil
}

// checkBehaviorRefs enforces that every behavior a profile lists names its
// source, and that ids are not declared twice with different sources.
func checkBehaviorRefs(refs []BehaviorRef) error {
	var problems []string
	seen := make(map[string]string)
	for i, b := range refs {
		if b.ID == "" {
			problems = append(problems, fmt.Sprintf("behaviors[%d]: cannot determine behavior id", i))
			continue
		}
		if b.Source == "" {
			problems = append(problems, fmt.Sprintf("behaviors[%d]: behavior %q has no source", i, b.ID))
			continue
		}
		if prev, ok := seen[b.ID]; ok && prev != b.Source {
			problems = append(problems, fmt.Sprintf("behaviors[%d]: behavior %q declared twice with different sources", i, b.ID))
		}
		seen[b.ID] = b.Source
	}
	if len(problems) > 0 {
		return invalid("profile", problems...)
	}
	return nil
}

// profileAdapter reads the current layout:
//
//	profile: {name, version, description, schema_version, extends, depends_on}
//	orchestrator / context / providers / contexts
//	behaviors: [{id, source}]
type profileAdapter struct{}

func (profileAdapter) Name() string   { return "v2" }
func (profileAdapter) Schema() string { return "profile_v2" }

func (profileAdapter) Detect(doc map[string]any) bool {
	_, ok := doc["profile"]
	return ok
}

func (profileAdapter) Adapt(root *yaml.Node) (*Profile, error) {
	var shape struct {
		Profile struct {
			Name          string   `yaml:"name"`
			Version       string   `yaml:"version"`
			Description   string   `yaml:"description"`
			SchemaVersion int      `yaml:"schema_version"`
			Extends       string   `yaml:"extends"`
			DependsOn     []string `yaml:"depends_on"`
		} `yaml:"profile"`
		Orchestrator *componentEntry  `yaml:"orchestrator"`
		Context      *componentEntry  `yaml:"context"`
		Providers    []componentEntry `yaml:"providers"`
		Contexts     []componentEntry `yaml:"contexts"`
		Behaviors    []behaviorEntry  `yaml:"behaviors"`
		Config       map[string]any   `yaml:"config"`
	}
	if err := root.Decode(&shape); err != nil {
		return nil, invalid("profile", err.Error())
	}

	h := shape.Profile
	p := &Profile{
		Name:          h.Name,
		Version:       h.Version,
		Description:   h.Description,
		SchemaVersion: h.SchemaVersion,
		Extends:       h.Extends,
		DependsOn:     h.DependsOn,
		Providers:     toRefs(shape.Providers, KindProviders, ""),
		Contexts:      toRefs(shape.Contexts, KindContexts, ""),
		Behaviors:     toBehaviorRefs(shape.Behaviors),
		Config:        shape.Config,
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = 2
	}
	if shape.Orchestrator != nil {
		r := shape.Orchestrator.toRef(KindOrchestrator, "")
		p.Orchestrator = &r
	}
	if shape.Context != nil {
		r := shape.Context.toRef(KindContext, "")
		p.Context = &r
	}
	return p, nil
}

// sessionAdapter reads the legacy layout:
//
//	name / version / description at the top level
//	session: {orchestrator, context_manager}
//	behaviors: {<id>: <source> | {source}}
type sessionAdapter struct{}

func (sessionAdapter) Name() string   { return "v1" }
func (sessionAdapter) Schema() string { return "profile_v1" }

func (sessionAdapter) Detect(doc map[string]any) bool {
	if _, ok := doc["session"]; ok {
		return true
	}
	if v, ok := doc["schema_version"].(int); ok && v == 1 {
		return true
	}
	return false
}

func (sessionAdapter) Adapt(root *yaml.Node) (*Profile, error) {
	var shape struct {
		Name        string   `yaml:"name"`
		Version     string   `yaml:"version"`
		Description string   `yaml:"description"`
		Extends     string   `yaml:"extends"`
		DependsOn   []string `yaml:"depends_on"`
		Session     struct {
			Orchestrator   *componentEntry `yaml:"orchestrator"`
			ContextManager *componentEntry `yaml:"context_manager"`
		} `yaml:"session"`
		Providers []componentEntry `yaml:"providers"`
		Contexts  []componentEntry `yaml:"contexts"`
		Behaviors yaml.Node        `yaml:"behaviors"`
		Config    map[string]any   `yaml:"config"`
	}
	if err := root.Decode(&shape); err != nil {
		return nil, invalid("profile", err.Error())
	}

	behaviors, err := legacyBehaviors(&shape.Behaviors)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Name:          shape.Name,
		Version:       shape.Version,
		Description:   shape.Description,
		SchemaVersion: 1,
		Extends:       shape.Extends,
		DependsOn:     shape.DependsOn,
		Providers:     toRefs(shape.Providers, KindProviders, ""),
		Contexts:      toRefs(shape.Contexts, KindContexts, ""),
		Behaviors:     behaviors,
		Config:        shape.Config,
	}
	if shape.Session.Orchestrator != nil {
		r := shape.Session.Orchestrator.toRef(KindOrchestrator, "")
		p.Orchestrator = &r
	}
	if shape.Session.ContextManager != nil {
		r := shape.Session.ContextManager.toRef(KindContext, "")
		p.Context = &r
	}
	return p, nil
}

// legacyBehaviors reads the id → source mapping in document order.
func legacyBehaviors(n *yaml.Node) ([]BehaviorRef, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, invalid("profile", fmt.Sprintf("line %d: behaviors must be a mapping of id to source", n.Line))
	}

	var out []BehaviorRef
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		b := BehaviorRef{ID: key.Value}
		switch val.Kind {
		case yaml.ScalarNode:
			b.Source = val.Value
		case yaml.MappingNode:
			var m struct {
				Source string `yaml:"source"`
			}
			if err := val.Decode(&m); err != nil {
				return nil, invalid("profile", err.Error())
			}
			b.Source = m.Source
		default:
			return nil, invalid("profile", fmt.Sprintf("line %d: behavior %q must map to a source", val.Line, key.Value))
		}
		out = append(out, b)
	}
	return out, nil
}
