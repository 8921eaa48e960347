package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"
)

// CanonicalJSON encodes v as RFC 8785 canonical JSON, so equal values always
// produce equal bytes regardless of map iteration order.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(jsonCompatible(v))
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// HashProfileSources hashes a manifest together with its config overlay.
// Without an overlay it equals HashManifest(data).
func HashProfileSources(data, overlay []byte) (string, error) {
	if len(bytes.TrimSpace(overlay)) == 0 {
		return HashManifest(data)
	}
	var m, o any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("hashing manifest: %w", err)
	}
	if err := yaml.Unmarshal(overlay, &o); err != nil {
		return "", fmt.Errorf("hashing config overlay: %w", err)
	}
	canonical, err := CanonicalJSON(map[string]any{"manifest": m, "overlay": o})
	if err != nil {
		return "", fmt.Errorf("hashing manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// HashManifest returns "sha256:<hex>" over the canonical JSON form of a YAML
// document. Formatting, comments and key order do not affect the hash.
func HashManifest(data []byte) (string, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("hashing manifest: %w", err)
	}
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("hashing manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
