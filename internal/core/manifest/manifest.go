// Package manifest parses profile and behavior documents into one canonical
// model. Two historical profile layouts are accepted; each is handled by an
// Adapter and both produce the same Profile value, so nothing downstream
// knows which layout a document used.
package manifest

import (
	"fmt"
	"path"
	"strings"

	"github.com/barysiuk/mountplan/internal/core/ref"
)

// Kind is the fixed component taxonomy.
type Kind string

const (
	KindOrchestrator Kind = "orchestrator"
	KindContext      Kind = "context"
	KindProviders    Kind = "providers"
	KindContexts     Kind = "contexts"
	KindTools        Kind = "tools"
	KindHooks        Kind = "hooks"
	KindAgents       Kind = "agents"
)

// ComponentRef names one externally sourced component.
type ComponentRef struct {
	ID         string         `json:"id"`
	Type       Kind           `json:"type"`
	BehaviorID string         `json:"behaviorId,omitempty"` // empty for session-level components
	Source     string         `json:"source,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// Identity is the dedup key of a component.
type Identity struct {
	ID         string
	Type       Kind
	BehaviorID string
}

// Identity returns (id, type, behaviorId).
func (c ComponentRef) Identity() Identity {
	return Identity{ID: c.ID, Type: c.Type, BehaviorID: c.BehaviorID}
}

// BehaviorRef points at a behavior definition. Source is empty for bare-id
// references that rely on another declaration of the same id.
type BehaviorRef struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
}

// Profile is the canonical form of a profile manifest.
type Profile struct {
	Name          string
	Version       string
	Description   string
	SchemaVersion int
	Extends       string
	DependsOn     []string

	Orchestrator *ComponentRef
	Context      *ComponentRef
	Providers    []ComponentRef
	Contexts     []ComponentRef
	Behaviors    []BehaviorRef

	// Config is the profile's own root configuration block.
	Config map[string]any

	// Shape names the adapter that read the document.
	Shape string
}

// BehaviorDefinition is a parsed behavior document. Component refs carry
// Type and BehaviorID already.
type BehaviorDefinition struct {
	ID          string
	Name        string
	Description string
	Version     string
	Source      string

	Requires []BehaviorRef
	Tools    []ComponentRef
	Hooks    []ComponentRef
	Agents   []ComponentRef
	Contexts []ComponentRef
	Config   map[string]any
}

// ValidationError reports a malformed manifest.
type ValidationError struct {
	Doc      string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid %s: %s", e.Doc, e.Problems[0])
	}
	return fmt.Sprintf("invalid %s:\n  - %s", e.Doc, strings.Join(e.Problems, "\n  - "))
}

func invalid(doc string, problems ...string) *ValidationError {
	return &ValidationError{Doc: doc, Problems: problems}
}

// DeriveID names a component or behavior given only its source reference:
// the last path element without a manifest extension. A file named
// behavior.yaml takes its directory's name instead.
func DeriveID(source string) string {
	src, err := ref.Parse(source)
	if err != nil {
		return ""
	}
	loc := strings.Trim(src.Location(), "/")
	if i := strings.LastIndex(loc, ":"); i >= 0 && src.Kind == ref.KindGit && src.Subdirectory == "" && src.SubPath == "" {
		loc = loc[i+1:]
	}
	if loc == "" {
		return ""
	}

	elems := strings.Split(loc, "/")
	last := elems[len(elems)-1]
	ext := path.Ext(last)
	switch ext {
	case ".yaml", ".yml", ".md":
		last = strings.TrimSuffix(last, ext)
	}
	if (last == "behavior" || last == "profile") && len(elems) > 1 && ext != "" {
		last = elems[len(elems)-2]
	}
	return last
}
