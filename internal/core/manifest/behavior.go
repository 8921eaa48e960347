package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type behaviorHeader struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ParseBehavior validates a behavior document loaded for r. The id r was
// referenced by wins over the id the document declares, since requires edges
// are written against the referencing id.
func ParseBehavior(data []byte, r BehaviorRef) (*BehaviorDefinition, error) {
	doc := "behavior"
	if r.ID != "" {
		doc = fmt.Sprintf("behavior %q", r.ID)
	}

	root, m, err := decodeDocument(doc, data)
	if err != nil {
		return nil, err
	}
	if err := validate(doc, "behavior", m); err != nil {
		return nil, err
	}

	var shape struct {
		Behavior *behaviorHeader  `yaml:"behavior"`
		Profile  *behaviorHeader  `yaml:"profile"`
		ID       string           `yaml:"id"`
		Requires []behaviorEntry  `yaml:"requires"`
		Tools    []componentEntry `yaml:"tools"`
		Hooks    []componentEntry `yaml:"hooks"`
		Agents   []componentEntry `yaml:"agents"`
		Contexts []componentEntry `yaml:"contexts"`
		Config   map[string]any   `yaml:"config"`
	}
	if err := root.Decode(&shape); err != nil {
		return nil, invalid(doc, err.Error())
	}

	h := shape.Behavior
	if h == nil {
		h = shape.Profile
	}
	if h == nil {
		h = &behaviorHeader{}
	}

	id := r.ID
	for _, candidate := range []string{h.ID, shape.ID, h.Name, DeriveID(r.Source)} {
		if id != "" {
			break
		}
		id = candidate
	}
	if id == "" {
		return nil, invalid(doc, "cannot determine behavior id")
	}

	def := &BehaviorDefinition{
		ID:          id,
		Name:        h.Name,
		Description: h.Description,
		Version:     h.Version,
		Source:      r.Source,
		Requires:    toBehaviorRefs(shape.Requires),
		Tools:       toRefs(shape.Tools, KindTools, id),
		Hooks:       toRefs(shape.Hooks, KindHooks, id),
		Agents:      toRefs(shape.Agents, KindAgents, id),
		Contexts:    toRefs(shape.Contexts, KindContexts, id),
		Config:      shape.Config,
	}
	for i, req := range def.Requires {
		if req.ID == "" {
			return nil, invalid(doc, fmt.Sprintf("requires[%d]: cannot determine behavior id", i))
		}
	}
	return def, nil
}

// Header is the part of a profile manifest that links it to other profiles.
type Header struct {
	Name      string
	Extends   string
	DependsOn []string
}

// PeekHeader reads name, extends and depends_on without validating the rest,
// for either layout.
func PeekHeader(data []byte) (Header, error) {
	var doc struct {
		Profile *struct {
			Name      string   `yaml:"name"`
			Extends   string   `yaml:"extends"`
			DependsOn []string `yaml:"depends_on"`
		} `yaml:"profile"`
		Name      string   `yaml:"name"`
		Extends   string   `yaml:"extends"`
		DependsOn []string `yaml:"depends_on"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Header{}, invalid("profile", err.Error())
	}
	if doc.Profile != nil {
		return Header{Name: doc.Profile.Name, Extends: doc.Profile.Extends, DependsOn: doc.Profile.DependsOn}, nil
	}
	return Header{Name: doc.Name, Extends: doc.Extends, DependsOn: doc.DependsOn}, nil
}
