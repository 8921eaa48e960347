package manifest

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

func loadSchema(name string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[name]; ok {
		return s, nil
	}
	data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	s, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// validate checks a decoded YAML document against the named schema.
func validate(doc, schemaName string, v any) error {
	if err := CheckNumbers(doc, v); err != nil {
		return err
	}
	data, err := json.Marshal(jsonCompatible(v))
	if err != nil {
		return invalid(doc, "document is not representable as JSON: "+err.Error())
	}
	s, err := loadSchema(schemaName)
	if err != nil {
		return err
	}

	result := s.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}

	var problems []string
	for loc, e := range result.Errors {
		problems = append(problems, fmt.Sprintf("%v: %v", loc, e))
	}
	sort.Strings(problems)
	if len(problems) == 0 {
		problems = []string{"schema validation failed"}
	}
	return invalid(doc, problems...)
}

// jsonCompatible rewrites YAML-decoded values so encoding/json accepts them:
// maps with non-string keys get their keys stringified.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonCompatible(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonCompatible(val)
		}
		return out
	default:
		return v
	}
}

// maxExactInt is the largest integer a JSON number keeps exactly once it is
// canonicalized as an IEEE 754 double.
const maxExactInt = 1 << 53

// CheckNumbers rejects integers in a decoded YAML value that a mount plan
// could not carry exactly. Quote such values to pass them as strings.
func CheckNumbers(doc string, v any) error {
	var problems []string
	walkNumbers(v, "", &problems)
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return invalid(doc, problems...)
}

func walkNumbers(v any, at string, problems *[]string) {
	bad := func(n any) {
		where := at
		if where == "" {
			where = "(root)"
		}
		*problems = append(*problems, fmt.Sprintf("%s: integer %v exceeds 2^53 in magnitude and would lose precision; quote it", where, n))
	}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			walkNumbers(val, joinPath(at, k), problems)
		}
	case map[any]any:
		for k, val := range t {
			walkNumbers(val, joinPath(at, fmt.Sprint(k)), problems)
		}
	case []any:
		for i, val := range t {
			walkNumbers(val, fmt.Sprintf("%s[%d]", at, i), problems)
		}
	case int:
		if n := int64(t); n > maxExactInt || n < -maxExactInt {
			bad(t)
		}
	case int64:
		if t > maxExactInt || t < -maxExactInt {
			bad(t)
		}
	case uint64:
		if t > maxExactInt {
			bad(t)
		}
	}
}

func joinPath(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}
