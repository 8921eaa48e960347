package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/barysiuk/mountplan/internal/core/manifest"
)

// BehaviorLoader fetches and parses one behavior definition.
type BehaviorLoader interface {
	LoadBehavior(ctx context.Context, ref manifest.BehaviorRef) (*manifest.BehaviorDefinition, error)
}

// BehaviorLoaderFunc adapts a function to BehaviorLoader.
type BehaviorLoaderFunc func(ctx context.Context, ref manifest.BehaviorRef) (*manifest.BehaviorDefinition, error)

func (f BehaviorLoaderFunc) LoadBehavior(ctx context.Context, ref manifest.BehaviorRef) (*manifest.BehaviorDefinition, error) {
	return f(ctx, ref)
}

// BehaviorGraph is the transitive closure of a profile's behaviors.
type BehaviorGraph struct {
	Behaviors map[string]*manifest.BehaviorDefinition
	// Order is the order behaviors were first enqueued; it breaks ties
	// when sorting.
	Order []string
}

type pendingBehavior struct {
	ref   manifest.BehaviorRef
	chain []string
}

func (p pendingBehavior) path() string {
	return strings.Join(p.chain, " -> ")
}

// LoadBehaviorGraph follows requires edges breadth-first from roots. An id
// that was already loaded is skipped, so diamonds load once. A bare-id
// require must be declared with a source somewhere in the closure.
func LoadBehaviorGraph(ctx context.Context, roots []manifest.BehaviorRef, loader BehaviorLoader) (*BehaviorGraph, error) {
	g := &BehaviorGraph{Behaviors: make(map[string]*manifest.BehaviorDefinition)}

	declared := make(map[string]string)
	var queue []pendingBehavior
	for _, r := range roots {
		if r.Source != "" && declared[r.ID] == "" {
			declared[r.ID] = r.Source
		}
		queue = append(queue, pendingBehavior{ref: r, chain: []string{r.ID}})
	}

	var deferred []pendingBehavior
	for {
		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			item := queue[0]
			queue = queue[1:]

			id := item.ref.ID
			if _, done := g.Behaviors[id]; done {
				continue
			}
			source := item.ref.Source
			if source == "" {
				source = declared[id]
			}
			if source == "" {
				// Another behavior later in the queue may still declare it.
				deferred = append(deferred, item)
				continue
			}

			def, err := loader.LoadBehavior(ctx, manifest.BehaviorRef{ID: id, Source: source})
			if err != nil {
				return nil, fmt.Errorf("loading behavior %s: %w", item.path(), err)
			}
			g.Behaviors[id] = def
			g.Order = append(g.Order, id)

			for _, req := range def.Requires {
				if req.Source != "" && declared[req.ID] == "" {
					declared[req.ID] = req.Source
				}
				chain := append(append([]string(nil), item.chain...), req.ID)
				queue = append(queue, pendingBehavior{ref: req, chain: chain})
			}
		}

		var still []pendingBehavior
		for _, item := range deferred {
			if _, done := g.Behaviors[item.ref.ID]; done {
				continue
			}
			if declared[item.ref.ID] != "" {
				queue = append(queue, item)
				continue
			}
			still = append(still, item)
		}
		deferred = still

		if len(queue) > 0 {
			continue
		}
		if len(deferred) > 0 {
			item := deferred[0]
			requiredBy := ""
			if len(item.chain) > 1 {
				requiredBy = item.chain[len(item.chain)-2]
			}
			return nil, fmt.Errorf("loading behavior %s: %w", item.path(), &DependencyError{
				Kind:       DependencyUnknown,
				Offender:   item.ref.ID,
				RequiredBy: requiredBy,
				Known:      sortedKeys(g.Behaviors),
			})
		}
		return g, nil
	}
}

// SortBehaviors orders a closed behavior set so every behavior comes after
// the behaviors it requires. order supplies the tie-break; ids missing from it
// are appended alphabetically.
func SortBehaviors(behaviors map[string]*manifest.BehaviorDefinition, order []string) ([]string, error) {
	ids := completeOrder(behaviors, order)
	known := sortedKeys(behaviors)

	deps := make(map[string][]string, len(ids))
	for _, id := range ids {
		seen := make(map[string]bool)
		for _, req := range behaviors[id].Requires {
			if _, ok := behaviors[req.ID]; !ok {
				return nil, &DependencyError{
					Kind:       DependencyUnknown,
					Offender:   req.ID,
					RequiredBy: id,
					Known:      known,
				}
			}
			if !seen[req.ID] {
				seen[req.ID] = true
				deps[id] = append(deps[id], req.ID)
			}
		}
	}

	sorted, remainder := topoOrder(ids, deps)
	if len(remainder) > 0 {
		sort.Strings(remainder)
		return nil, &DependencyError{Kind: DependencyCycle, IDs: remainder, Known: known}
	}
	return sorted, nil
}

// topoOrder is Kahn's algorithm over ids, where deps[x] lists the ids x
// depends on. Among nodes that are ready at the same time the one earliest in
// ids goes first. Nodes left unsorted sit on or behind a cycle.
func topoOrder(ids []string, deps map[string][]string) (sorted, remainder []string) {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	indegree := make([]int, len(ids))
	dependents := make([][]int, len(ids))
	for i, id := range ids {
		for _, d := range deps[id] {
			j, ok := index[d]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	used := make([]bool, len(ids))
	sorted = make([]string, 0, len(ids))
	for len(sorted) < len(ids) {
		picked := -1
		for i := range ids {
			if !used[i] && indegree[i] == 0 {
				picked = i
				break
			}
		}
		if picked == -1 {
			break
		}
		used[picked] = true
		sorted = append(sorted, ids[picked])
		for _, j := range dependents[picked] {
			indegree[j]--
		}
	}

	for i, id := range ids {
		if !used[i] {
			remainder = append(remainder, id)
		}
	}
	return sorted, remainder
}

func completeOrder(behaviors map[string]*manifest.BehaviorDefinition, order []string) []string {
	ids := make([]string, 0, len(behaviors))
	seen := make(map[string]bool, len(behaviors))
	for _, id := range order {
		if _, ok := behaviors[id]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range sortedKeys(behaviors) {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
