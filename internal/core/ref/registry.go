package ref

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps a short id to the base URI that amp:// references expand under.
type Registry struct {
	ID          string `json:"id"`
	URI         string `json:"uri"`
	Description string `json:"description,omitempty"`
}

// DefaultRegistries is the built-in table. Entries from the user's config are
// layered on top of it.
var DefaultRegistries = []Registry{
	{
		ID:          "core",
		URI:         "git+https://github.com/barysiuk/mountplan-modules@main",
		Description: "Orchestrators, context managers and providers maintained with mountplan",
	},
	{
		ID:          "behaviors",
		URI:         "git+https://github.com/barysiuk/mountplan-behaviors@main",
		Description: "Shared behavior bundles",
	},
}

// RegistryTable resolves amp://<id>/<path> short forms.
type RegistryTable struct {
	byID map[string]Registry
}

// NewRegistryTable builds a table from one or more registry lists. Later lists
// override earlier ones on id collision.
func NewRegistryTable(lists ...[]Registry) *RegistryTable {
	t := &RegistryTable{byID: make(map[string]Registry)}
	for _, list := range lists {
		for _, r := range list {
			if r.ID == "" {
				continue
			}
			t.byID[r.ID] = r
		}
	}
	return t
}

// IDs returns the known registry ids in sorted order.
func (t *RegistryTable) IDs() []string {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the registries sorted by id.
func (t *RegistryTable) List() []Registry {
	out := make([]Registry, 0, len(t.byID))
	for _, id := range t.IDs() {
		out = append(out, t.byID[id])
	}
	return out
}

// Lookup returns the registry with the given id.
func (t *RegistryTable) Lookup(id string) (Registry, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Expand rewrites amp://<id>/<path> to <uri>/<path>. Anything else is returned
// unchanged. For git base URIs the path lands after the @ref, which the git
// grammar reads as a repo-relative path.
func (t *RegistryTable) Expand(source string) (string, error) {
	if !strings.HasPrefix(source, registryScheme) {
		return source, nil
	}
	src, err := parseRegistrySource(source)
	if err != nil {
		return "", err
	}

	reg, ok := t.byID[src.RegistryID]
	if !ok {
		ids := t.IDs()
		if len(ids) == 0 {
			return "", fmt.Errorf("registry %q not found (no registries configured)", src.RegistryID)
		}
		return "", fmt.Errorf("registry %q not found. Available: %s", src.RegistryID, strings.Join(ids, ", "))
	}

	base := strings.TrimRight(reg.URI, "/")
	if src.Path == "" {
		return base, nil
	}
	return base + "/" + src.Path, nil
}
