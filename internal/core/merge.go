package core

import (
	"github.com/barysiuk/mountplan/internal/core/manifest"
)

// DeepMerge returns base overlaid with override. Maps merge key by key; any
// other value, lists included, replaces the base value wholesale. Neither
// input is modified.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range override {
		if om, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = DeepMerge(bm, om)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// MergeConfig applies the root config (without its behaviors map) and then
// every behavior's config block in sorted order, so a behavior overrides the
// behaviors it requires.
func MergeConfig(root map[string]any, sorted []string, behaviors map[string]*manifest.BehaviorDefinition) map[string]any {
	merged := make(map[string]any, len(root))
	for k, v := range root {
		if k == "behaviors" {
			continue
		}
		merged[k] = cloneValue(v)
	}
	for _, id := range sorted {
		if b := behaviors[id]; b != nil && len(b.Config) > 0 {
			merged = DeepMerge(merged, b.Config)
		}
	}
	return merged
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
