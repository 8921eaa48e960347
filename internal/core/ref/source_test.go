package ref

import (
	"testing"
)

func TestParseGitURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantURL string
		wantRef string
		wantSub string
		wantDir string
	}{
		{
			name:    "ref only",
			input:   "git+https://github.com/acme/tools@v1",
			wantURL: "https://github.com/acme/tools",
			wantRef: "v1",
		},
		{
			name:    "repo relative path",
			input:   "git+https://host/repo@v1/docs/readme.md",
			wantURL: "https://host/repo",
			wantRef: "v1",
			wantSub: "docs/readme.md",
		},
		{
			name:    "subdirectory fragment",
			input:   "git+https://github.com/acme/tools@main#subdirectory=modules/bash",
			wantURL: "https://github.com/acme/tools",
			wantRef: "main",
			wantDir: "modules/bash",
		},
		{
			name:    "trailing fragment path",
			input:   "git+https://github.com/acme/tools@main#modules/bash",
			wantURL: "https://github.com/acme/tools",
			wantRef: "main",
			wantDir: "modules/bash",
		},
		{
			name:    "ssh user info is not a ref",
			input:   "git+ssh://git@github.com/acme/tools.git@v2.1.0",
			wantURL: "ssh://git@github.com/acme/tools.git",
			wantRef: "v2.1.0",
		},
		{
			name:    "scp-like URL",
			input:   "git+git@github.com:acme/tools.git@main",
			wantURL: "git@github.com:acme/tools.git",
			wantRef: "main",
		},
		{
			name:    "file URL",
			input:   "git+file:///tmp/repos/tools@main/agents/reviewer",
			wantURL: "file:///tmp/repos/tools",
			wantRef: "main",
			wantSub: "agents/reviewer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := ParseGitURL(tt.input, false)
			if err != nil {
				t.Fatalf("ParseGitURL() error: %v", err)
			}
			if src.Kind != KindGit {
				t.Errorf("Kind = %q, want %q", src.Kind, KindGit)
			}
			if src.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", src.URL, tt.wantURL)
			}
			if src.Ref != tt.wantRef {
				t.Errorf("Ref = %q, want %q", src.Ref, tt.wantRef)
			}
			if src.SubPath != tt.wantSub {
				t.Errorf("SubPath = %q, want %q", src.SubPath, tt.wantSub)
			}
			if src.Subdirectory != tt.wantDir {
				t.Errorf("Subdirectory = %q, want %q", src.Subdirectory, tt.wantDir)
			}
		})
	}
}

func TestParseGitURL_MissingRef(t *testing.T) {
	t.Run("strict parser rejects", func(t *testing.T) {
		if _, err := ParseGitURL("git+https://github.com/acme/tools", false); err == nil {
			t.Fatal("expected error for missing @ref")
		}
	})

	t.Run("lenient parser defaults to HEAD", func(t *testing.T) {
		src, err := ParseGitURL("git+https://github.com/acme/tools#subdirectory=x", true)
		if err != nil {
			t.Fatalf("ParseGitURL() error: %v", err)
		}
		if src.Ref != "HEAD" || !src.RefDefaulted {
			t.Errorf("Ref = %q (defaulted=%v), want HEAD (defaulted)", src.Ref, src.RefDefaulted)
		}
		if src.Subdirectory != "x" {
			t.Errorf("Subdirectory = %q, want %q", src.Subdirectory, "x")
		}
	})
}

func TestParseGitURL_Errors(t *testing.T) {
	for _, input := range []string{
		"git+",
		"git+https://github.com/acme/tools@",
		"git+https://github.com/acme/tools@main#subdirectory=",
		"git+https://github.com/acme/tools@main/docs#subdirectory=x",
	} {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseGitURL(input, true); err == nil {
				t.Errorf("expected error for %q", input)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		wantKind Kind
		check    func(t *testing.T, s *Source)
	}{
		{"git+https://github.com/acme/tools@main", KindGit, nil},
		{"amp://core/tools/bash", KindRegistry, func(t *testing.T, s *Source) {
			if s.RegistryID != "core" || s.Path != "tools/bash" {
				t.Errorf("RegistryID/Path = %q/%q", s.RegistryID, s.Path)
			}
		}},
		{"/opt/modules/bash", KindLocal, func(t *testing.T, s *Source) {
			if s.Path != "/opt/modules/bash" {
				t.Errorf("Path = %q", s.Path)
			}
		}},
		{"file:///opt/modules/bash", KindRemote, func(t *testing.T, s *Source) {
			if s.Protocol != "file" || s.Path != "/opt/modules/bash" {
				t.Errorf("Protocol/Path = %q/%q", s.Protocol, s.Path)
			}
		}},
		{"https://example.com/agents/reviewer.md", KindRemote, func(t *testing.T, s *Source) {
			if s.Protocol != "https" {
				t.Errorf("Protocol = %q", s.Protocol)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			src, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if src.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", src.Kind, tt.wantKind)
			}
			if tt.check != nil {
				tt.check(t, src)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "   ", "relative/path", "amp:///tools", "://nothing"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("expected error for %q", input)
			}
		})
	}
}

func TestSource_Basename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"git+https://github.com/acme/tools.git@main", "tools"},
		{"git+https://github.com/acme/tools@main#subdirectory=behaviors/review.yaml", "review.yaml"},
		{"git+https://host/repo@v1/docs/readme.md", "readme.md"},
		{"mem://bundles/docs/", "docs"},
		{"/opt/modules/bash", "bash"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			src, err := Parse(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if got := src.Basename(); got != tt.want {
				t.Errorf("Basename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsReference(t *testing.T) {
	if !IsReference("git+https://github.com/acme/tools@main") {
		t.Error("git reference not recognized")
	}
	if !IsReference("amp://core/x") {
		t.Error("registry reference not recognized")
	}
	if IsReference("code-review") {
		t.Error("bare id treated as reference")
	}
}
