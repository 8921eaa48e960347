package ref

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryTable_Expand(t *testing.T) {
	table := NewRegistryTable(
		[]Registry{
			{ID: "core", URI: "git+https://github.com/acme/modules@main"},
			{ID: "docs", URI: "mem://bundles/"},
		},
	)

	tests := []struct {
		input string
		want  string
	}{
		{"amp://core/tools/bash", "git+https://github.com/acme/modules@main/tools/bash"},
		{"amp://core", "git+https://github.com/acme/modules@main"},
		{"amp://docs/guides/style.md", "mem://bundles/guides/style.md"},
		{"git+https://github.com/acme/x@v1", "git+https://github.com/acme/x@v1"},
		{"/opt/local/tool", "/opt/local/tool"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := table.Expand(tt.input)
			if err != nil {
				t.Fatalf("Expand() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryTable_ExpandedGitReferenceParses(t *testing.T) {
	table := NewRegistryTable([]Registry{{ID: "core", URI: "git+https://github.com/acme/modules@main"}})

	expanded, err := table.Expand("amp://core/tools/bash")
	if err != nil {
		t.Fatal(err)
	}
	src, err := ParseGitURL(expanded, false)
	if err != nil {
		t.Fatalf("ParseGitURL(%q) error: %v", expanded, err)
	}
	if src.URL != "https://github.com/acme/modules" || src.Ref != "main" || src.SubPath != "tools/bash" {
		t.Errorf("parsed = %+v", src)
	}
}

func TestRegistryTable_UnknownID(t *testing.T) {
	table := NewRegistryTable([]Registry{
		{ID: "core", URI: "git+https://a@main"},
		{ID: "alpha", URI: "git+https://b@main"},
	})

	_, err := table.Expand("amp://nope/x")
	if err == nil {
		t.Fatal("expected error for unknown registry id")
	}
	if !strings.Contains(err.Error(), `"nope"`) || !strings.Contains(err.Error(), "Available: alpha, core") {
		t.Errorf("error = %q, want it to name the id and list known ids", err)
	}

	empty := NewRegistryTable()
	if _, err := empty.Expand("amp://core/x"); err == nil || !strings.Contains(err.Error(), "no registries configured") {
		t.Errorf("empty table error = %v", err)
	}
}

func TestNewRegistryTable_LaterOverrides(t *testing.T) {
	table := NewRegistryTable(
		DefaultRegistries,
		[]Registry{{ID: "core", URI: "/srv/mirror/core"}, {ID: "", URI: "ignored"}},
	)

	r, ok := table.Lookup("core")
	if !ok || r.URI != "/srv/mirror/core" {
		t.Errorf("Lookup(core) = %+v, %v", r, ok)
	}

	if diff := cmp.Diff([]string{"behaviors", "core"}, table.IDs()); diff != "" {
		t.Errorf("IDs() mismatch (-want +got):\n%s", diff)
	}
}
