package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/barysiuk/mountplan/internal/core/ref"
)

// componentEntry is the "string or object" union as written in YAML. It is
// collapsed into a ComponentRef at parse time and never leaves this package.
type componentEntry struct {
	id     string
	source string
	config map[string]any
}

func (c *componentEntry) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		if ref.IsReference(s) {
			c.source = s
			c.id = DeriveID(s)
		} else {
			c.id = s
		}
		return nil

	case yaml.MappingNode:
		var m struct {
			ID     string         `yaml:"id"`
			Module string         `yaml:"module"`
			Source string         `yaml:"source"`
			Config map[string]any `yaml:"config"`
		}
		if err := n.Decode(&m); err != nil {
			return err
		}
		c.id = m.ID
		if c.id == "" {
			c.id = m.Module
		}
		if c.id == "" && m.Source != "" {
			c.id = DeriveID(m.Source)
		}
		c.source = m.Source
		c.config = m.Config
		return nil
	}
	return fmt.Errorf("line %d: component must be a string or a mapping", n.Line)
}

func (c componentEntry) toRef(kind Kind, behaviorID string) ComponentRef {
	return ComponentRef{
		ID:         c.id,
		Type:       kind,
		BehaviorID: behaviorID,
		Source:     c.source,
		Config:     c.config,
	}
}

func toRefs(entries []componentEntry, kind Kind, behaviorID string) []ComponentRef {
	out := make([]ComponentRef, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.toRef(kind, behaviorID))
	}
	return out
}

// behaviorEntry accepts a bare id, a reference string or {id, source}.
type behaviorEntry struct {
	BehaviorRef
	line int
}

func (b *behaviorEntry) UnmarshalYAML(n *yaml.Node) error {
	b.line = n.Line
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		if ref.IsReference(s) {
			b.Source = s
			b.ID = DeriveID(s)
		} else {
			b.ID = s
		}
		return nil
	case yaml.MappingNode:
		var m struct {
			ID     string `yaml:"id"`
			Source string `yaml:"source"`
		}
		if err := n.Decode(&m); err != nil {
			return err
		}
		b.ID, b.Source = m.ID, m.Source
		if b.ID == "" && b.Source != "" {
			b.ID = DeriveID(b.Source)
		}
		return nil
	}
	return fmt.Errorf("line %d: behavior reference must be a string or a mapping", n.Line)
}

func toBehaviorRefs(entries []behaviorEntry) []BehaviorRef {
	out := make([]BehaviorRef, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.BehaviorRef)
	}
	return out
}
