package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

func TestCopyPath_Directory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "tool")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(src, "README.md"), []byte("# tool"), 0o644)
	os.WriteFile(filepath.Join(src, "nested", "main.py"), []byte("print(1)"), 0o644)
	os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref"), 0o644)

	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyPath(src, dst); err != nil {
		t.Fatalf("CopyPath() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "README.md"))
	if err != nil {
		t.Fatalf("README.md not copied: %v", err)
	}
	if string(data) != "# tool" {
		t.Errorf("README.md = %q, want %q", data, "# tool")
	}
	if _, err := os.Stat(filepath.Join(dst, "nested", "main.py")); err != nil {
		t.Errorf("nested file not copied: %v", err)
	}
	if Exists(filepath.Join(dst, ".git")) {
		t.Error(".git should not be copied")
	}
}

func TestCopyPath_SingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "agent.md")
	os.WriteFile(src, []byte("You are helpful."), 0o644)

	dst := filepath.Join(dir, "out", "agent.md")
	if err := CopyPath(src, dst); err != nil {
		t.Fatalf("CopyPath() error: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "You are helpful." {
		t.Errorf("content = %q", data)
	}
}

func TestCopyTree_MemoryToDisk(t *testing.T) {
	mem := memfs.New()
	if err := util.WriteFile(mem, "bundle/docs/guide.md", []byte("guide"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := util.WriteFile(mem, "bundle/index.md", []byte("index"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	if err := CopyTree(mem, "bundle", osfs.New(root), "bundle"); err != nil {
		t.Fatalf("CopyTree() error: %v", err)
	}
	for _, p := range []string{"bundle/docs/guide.md", "bundle/index.md"} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Errorf("%s not copied: %v", p, err)
		}
	}
}

func TestMoveDir(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	os.MkdirAll(src, 0o755)
	os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644)

	dst := filepath.Join(base, "nested", "dst")
	if err := MoveDir(src, dst); err != nil {
		t.Fatalf("MoveDir() error: %v", err)
	}
	if Exists(src) {
		t.Error("source should be gone after move")
	}
	if !Exists(filepath.Join(dst, "a.txt")) {
		t.Error("file missing at destination")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := WriteFileAtomic(path, []byte("{}\n")); err != nil {
		t.Fatalf("WriteFileAtomic() error: %v", err)
	}
	if Exists(path + ".tmp") {
		t.Error("temp file left behind")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{}\n" {
		t.Errorf("content = %q", data)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tool-bash", "tool-bash"},
		{"Tool_Bash.v2", "Tool_Bash.v2"},
		{"a/b", "a-b"},
		{"../escape", "-escape"},
		{"..", "unnamed"},
		{"", "unnamed"},
		{"has space", "has-space"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SafeName(tt.in); got != tt.want {
				t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUniqueName(t *testing.T) {
	if got := UniqueName("my-tool"); got != "my-tool" {
		t.Errorf("UniqueName(my-tool) = %q, want it unchanged", got)
	}

	seen := map[string]string{}
	for _, name := range []string{"my-tool", "my tool", "my/tool", "a/b", "a-b", "..", "unnamed"} {
		got := UniqueName(name)
		if strings.ContainsAny(got, "/ ") || strings.HasPrefix(got, ".") {
			t.Errorf("UniqueName(%q) = %q is not a safe segment", name, got)
		}
		if prev, ok := seen[got]; ok {
			t.Errorf("UniqueName(%q) and UniqueName(%q) both = %q", prev, name, got)
		}
		seen[got] = name
	}

	long := strings.Repeat("x y", 200)
	if got := UniqueName(long); len(got) > 255 {
		t.Errorf("UniqueName(long) has %d bytes", len(got))
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := ExpandHome("~/tools"); got != "/home/tester/tools" {
		t.Errorf("ExpandHome(~/tools) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}
