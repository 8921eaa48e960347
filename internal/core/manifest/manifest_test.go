package manifest

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const v2Profile = `
profile:
  name: dev
  version: 1.2.0
  description: Development profile
orchestrator: loop-basic
context:
  module: context-simple
  source: git+https://github.com/acme/modules@main#subdirectory=context-simple
  config:
    max_tokens: 4000
providers:
  - module: provider-anthropic
    source: amp://core/providers/anthropic
    config:
      model: claude
contexts:
  - /opt/contexts/style.md
behaviors:
  - id: review
    source: git+https://github.com/acme/behaviors@v1/review.yaml
  - git+https://github.com/acme/behaviors@v1/testing/behavior.yaml
config:
  bash:
    timeout: 30
`

const v1Profile = `
name: legacy
schema_version: 1
session:
  orchestrator:
    module: loop-basic
    source: /opt/modules/loop
  context_manager: context-simple
behaviors:
  zeta: /opt/behaviors/zeta.yaml
  alpha:
    source: /opt/behaviors/alpha.yaml
`

func TestParseProfile_V2(t *testing.T) {
	p, err := ParseProfile([]byte(v2Profile))
	if err != nil {
		t.Fatalf("ParseProfile() error: %v", err)
	}

	if p.Shape != "v2" || p.Name != "dev" || p.Version != "1.2.0" || p.SchemaVersion != 2 {
		t.Errorf("header = %q %q %q %d", p.Shape, p.Name, p.Version, p.SchemaVersion)
	}

	wantOrch := &ComponentRef{ID: "loop-basic", Type: KindOrchestrator}
	if diff := cmp.Diff(wantOrch, p.Orchestrator); diff != "" {
		t.Errorf("orchestrator mismatch (-want +got):\n%s", diff)
	}

	wantCtx := &ComponentRef{
		ID:     "context-simple",
		Type:   KindContext,
		Source: "git+https://github.com/acme/modules@main#subdirectory=context-simple",
		Config: map[string]any{"max_tokens": 4000},
	}
	if diff := cmp.Diff(wantCtx, p.Context); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}

	if len(p.Providers) != 1 || p.Providers[0].ID != "provider-anthropic" || p.Providers[0].Type != KindProviders {
		t.Errorf("providers = %+v", p.Providers)
	}
	if len(p.Contexts) != 1 || p.Contexts[0].ID != "style" || p.Contexts[0].Source != "/opt/contexts/style.md" {
		t.Errorf("contexts = %+v", p.Contexts)
	}

	wantBehaviors := []BehaviorRef{
		{ID: "review", Source: "git+https://github.com/acme/behaviors@v1/review.yaml"},
		{ID: "testing", Source: "git+https://github.com/acme/behaviors@v1/testing/behavior.yaml"},
	}
	if diff := cmp.Diff(wantBehaviors, p.Behaviors); diff != "" {
		t.Errorf("behaviors mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(map[string]any{"bash": map[string]any{"timeout": 30}}, p.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProfile_V1ConvergesToSameModel(t *testing.T) {
	p, err := ParseProfile([]byte(v1Profile))
	if err != nil {
		t.Fatalf("ParseProfile() error: %v", err)
	}

	if p.Shape != "v1" || p.Name != "legacy" || p.SchemaVersion != 1 {
		t.Errorf("header = %q %q %d", p.Shape, p.Name, p.SchemaVersion)
	}
	if p.Orchestrator == nil || p.Orchestrator.ID != "loop-basic" || p.Orchestrator.Source != "/opt/modules/loop" {
		t.Errorf("orchestrator = %+v", p.Orchestrator)
	}
	if p.Context == nil || p.Context.ID != "context-simple" || p.Context.Type != KindContext {
		t.Errorf("context = %+v", p.Context)
	}

	// Document order is kept.
	want := []BehaviorRef{
		{ID: "zeta", Source: "/opt/behaviors/zeta.yaml"},
		{ID: "alpha", Source: "/opt/behaviors/alpha.yaml"},
	}
	if diff := cmp.Diff(want, p.Behaviors); diff != "" {
		t.Errorf("behaviors mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProfile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantSub string
	}{
		{"empty", "", "empty"},
		{"not a mapping", "- a\n- b\n", "top level must be a mapping"},
		{"missing name", "profile:\n  version: 1\n", "profile"},
		{"behavior without source", "profile:\n  name: x\nbehaviors:\n  - review\n", `"review" has no source`},
		{"behavior object without source", "profile:\n  name: x\nbehaviors:\n  - id: review\n", "invalid profile"},
		{"duplicate behavior", "profile:\n  name: x\nbehaviors:\n  - {id: a, source: /x}\n  - {id: a, source: /y}\n", "declared twice"},
		{"bad component", "profile:\n  name: x\nproviders:\n  - [1, 2]\n", "invalid profile"},
		{"legacy without orchestrator", "name: x\nsession: {}\n", "invalid profile"},
		{"inexact integer", "profile:\n  name: x\nconfig:\n  ids:\n    max: 9007199254740993\n", "config.ids.max: integer 9007199254740993 exceeds 2^53"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %T is not a *ValidationError: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestParseBehavior(t *testing.T) {
	doc := `
behavior:
  id: declared-name
  description: Reviews code
requires:
  - base
  - id: lint
    source: /opt/behaviors/lint.yaml
  - git+https://github.com/acme/behaviors@v1/security/behavior.yaml
tools:
  - id: bash
    source: amp://core/tools/bash
    config:
      timeout: 10
  - grep
agents:
  - id: reviewer
    source: /opt/agents/reviewer
config:
  review:
    strict: true
`
	def, err := ParseBehavior([]byte(doc), BehaviorRef{ID: "review", Source: "/opt/behaviors/review.yaml"})
	if err != nil {
		t.Fatalf("ParseBehavior() error: %v", err)
	}

	if def.ID != "review" {
		t.Errorf("ID = %q, want the referencing id", def.ID)
	}
	wantReq := []BehaviorRef{
		{ID: "base"},
		{ID: "lint", Source: "/opt/behaviors/lint.yaml"},
		{ID: "security", Source: "git+https://github.com/acme/behaviors@v1/security/behavior.yaml"},
	}
	if diff := cmp.Diff(wantReq, def.Requires); diff != "" {
		t.Errorf("requires mismatch (-want +got):\n%s", diff)
	}

	wantTools := []ComponentRef{
		{ID: "bash", Type: KindTools, BehaviorID: "review", Source: "amp://core/tools/bash", Config: map[string]any{"timeout": 10}},
		{ID: "grep", Type: KindTools, BehaviorID: "review"},
	}
	if diff := cmp.Diff(wantTools, def.Tools); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
	if len(def.Agents) != 1 || def.Agents[0].BehaviorID != "review" || def.Agents[0].Type != KindAgents {
		t.Errorf("agents = %+v", def.Agents)
	}

	t.Run("declared id used when reference has none", func(t *testing.T) {
		def, err := ParseBehavior([]byte(doc), BehaviorRef{Source: "/opt/behaviors/review.yaml"})
		if err != nil {
			t.Fatal(err)
		}
		if def.ID != "declared-name" {
			t.Errorf("ID = %q", def.ID)
		}
	})

	t.Run("invalid tools", func(t *testing.T) {
		_, err := ParseBehavior([]byte("tools: bash\n"), BehaviorRef{ID: "x", Source: "/x"})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("error = %v, want *ValidationError", err)
		}
	})
}

func TestDeriveID(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"git+https://github.com/acme/behaviors@v1/review.yaml", "review"},
		{"git+https://github.com/acme/behaviors@v1/testing/behavior.yaml", "testing"},
		{"git+https://github.com/acme/tool-bash@main", "tool-bash"},
		{"git+git@github.com:acme/tool-bash.git@main", "tool-bash"},
		{"git+https://github.com/acme/modules@main#subdirectory=providers/anthropic", "anthropic"},
		{"/opt/agents/reviewer.md", "reviewer"},
		{"amp://core/tools/bash", "bash"},
		{"not a reference", ""},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			if got := DeriveID(tt.source); got != tt.want {
				t.Errorf("DeriveID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashManifest(t *testing.T) {
	a := "profile:\n  name: dev\n  version: 1\nbehaviors: []\n"
	b := "# comment\nbehaviors: []\nprofile: {version: 1, name: dev}\n"
	c := "profile:\n  name: dev\n  version: 2\nbehaviors: []\n"

	ha, err := HashManifest([]byte(a))
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := HashManifest([]byte(b))
	hc, _ := HashManifest([]byte(c))

	if !strings.HasPrefix(ha, "sha256:") || len(ha) != len("sha256:")+64 {
		t.Errorf("hash = %q", ha)
	}
	if ha != hb {
		t.Errorf("formatting changed the hash: %s vs %s", ha, hb)
	}
	if ha == hc {
		t.Error("content change did not change the hash")
	}
}

func TestHashProfileSources(t *testing.T) {
	m := []byte("profile:\n  name: dev\n")

	plain, _ := HashManifest(m)
	if got, err := HashProfileSources(m, nil); err != nil || got != plain {
		t.Errorf("no overlay = %q, %v; want %q", got, err, plain)
	}
	if got, _ := HashProfileSources(m, []byte("  \n")); got != plain {
		t.Errorf("blank overlay = %q, want %q", got, plain)
	}

	o1, err := HashProfileSources(m, []byte("loop:\n  max_turns: 9\n"))
	if err != nil {
		t.Fatal(err)
	}
	o2, _ := HashProfileSources(m, []byte("loop: {max_turns: 11}\n"))
	if o1 == plain || o1 == o2 {
		t.Errorf("overlay not reflected in hash: plain=%s o1=%s o2=%s", plain, o1, o2)
	}
	if _, err := HashProfileSources(m, []byte("loop: [\n")); err == nil {
		t.Error("invalid overlay should fail")
	}
}

func TestCheckNumbers(t *testing.T) {
	ok := []string{
		"a: 9007199254740992\n",
		"a: -9007199254740992\n",
		"a: '9007199254740993'\n",
		"a: 1.5e300\n",
	}
	for _, doc := range ok {
		var v any
		if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
			t.Fatal(err)
		}
		if err := CheckNumbers("config", v); err != nil {
			t.Errorf("CheckNumbers(%q) = %v", doc, err)
		}
	}

	var v any
	if err := yaml.Unmarshal([]byte("a:\n  - 1\n  - -9007199254740993\nb: 18446744073709551615\n"), &v); err != nil {
		t.Fatal(err)
	}
	err := CheckNumbers("config", v)
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Problems) != 2 {
		t.Fatalf("CheckNumbers() = %v, want two problems", err)
	}
	if !strings.HasPrefix(ve.Problems[0], "a[1]:") || !strings.HasPrefix(ve.Problems[1], "b:") {
		t.Errorf("problems = %q", ve.Problems)
	}
}

func TestPeekHeader(t *testing.T) {
	h, err := PeekHeader([]byte("profile:\n  name: child\n  extends: base/dev\n  depends_on: [base/tools]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Header{Name: "child", Extends: "base/dev", DependsOn: []string{"base/tools"}}, h); diff != "" {
		t.Errorf("v2 header mismatch (-want +got):\n%s", diff)
	}

	h, err = PeekHeader([]byte(v1Profile))
	if err != nil {
		t.Fatal(err)
	}
	if h.Name != "legacy" || h.Extends != "" {
		t.Errorf("v1 header = %+v", h)
	}
}
