package core

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestCollections(t *testing.T, opts CollectionOptions) (*CollectionManager, *SQLiteStore) {
	t.Helper()
	store := openTestStore(t)
	if opts.ShareDir == "" {
		opts.ShareDir = t.TempDir()
	}
	if opts.Resolver == nil {
		opts.Resolver = localResolver(t)
	}
	opts.Store = store
	return NewCollectionManager(opts), store
}

func profileIDs(profiles []ProfileMetadata) []string {
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ProfileID)
	}
	return ids
}

// initGitRepo commits files to a fresh repository on branch main.
func initGitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	writeFiles(t, dir, files)
	runGitCmd(t, dir, "init", "--quiet")
	runGitCmd(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	commitAll(t, dir, "initial")
	return dir
}

func commitAll(t *testing.T, dir, msg string) string {
	t.Helper()
	runGitCmd(t, dir, "add", ".")
	runGitCmd(t, dir, "-c", "commit.gpgsign=false", "commit", "--quiet", "-m", msg)
	return runGitCmd(t, dir, "rev-parse", "HEAD")
}

func runGitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestCollectionManager_AddLocal(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"profiles/dev.yaml":        "profile: {name: dev}\n",
		"profiles/dev.config.yaml": "lint: {strict: true}\n",
		"profiles/base.yml":        "profile: {name: base}\n",
		"profiles/notes.txt":       "not a profile\n",
	})
	m, store := newTestCollections(t, CollectionOptions{})

	c, err := m.Add(ctx, "team", src)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if c.SourceType != SourceLocal || c.MountPath != src || c.LastUpdated.IsZero() {
		t.Errorf("collection = %+v", c)
	}

	profiles, err := store.ListProfilesByCollection(ctx, "team")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"team/base", "team/dev"}, profileIDs(profiles)); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
	dev, _ := store.GetProfile(ctx, "team/dev")
	if dev.SourcePath != filepath.Join(src, "profiles", "dev.yaml") {
		t.Errorf("SourcePath = %q", dev.SourcePath)
	}
	if !dev.CacheBuilt.IsZero() {
		t.Errorf("a discovered profile should not count as built")
	}

	if _, err := m.Add(ctx, "team", src); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second Add() error = %v", err)
	}
}

func TestCollectionManager_AddRejects(t *testing.T) {
	m, store := newTestCollections(t, CollectionOptions{})
	ctx := context.Background()

	tests := []struct {
		name   string
		id     string
		source string
	}{
		{name: "invalid id", id: "bad id", source: t.TempDir()},
		{name: "reserved id", id: StandaloneNamespace, source: t.TempDir()},
		{name: "relative path", id: "rel", source: "profiles/dev"},
		{name: "missing path", id: "gone", source: filepath.Join(t.TempDir(), "nope")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Add(ctx, tt.id, tt.source); err == nil {
				t.Fatal("Add() should fail")
			}
			if c, _ := store.GetCollection(ctx, tt.id); c != nil {
				t.Errorf("failed Add() recorded %+v", c)
			}
		})
	}
}

func TestCollectionManager_DiscoverDropsVanishedProfiles(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"profiles/dev.yaml":  "profile: {name: dev}\n",
		"profiles/prod.yaml": "profile: {name: prod}\n",
	})
	m, store := newTestCollections(t, CollectionOptions{})
	c, err := m.Add(ctx, "team", src)
	if err != nil {
		t.Fatal(err)
	}

	compiled := ProfileDir(m.opts.ShareDir, "team/prod")
	writeFiles(t, compiled, map[string]string{PlanFileName: "{}\n"})
	if err := os.Remove(filepath.Join(src, "profiles", "prod.yaml")); err != nil {
		t.Fatal(err)
	}

	found, err := m.Discover(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"team/dev"}, profileIDs(found)); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
	if p, _ := store.GetProfile(ctx, "team/prod"); p != nil {
		t.Errorf("vanished profile still recorded: %+v", p)
	}
	if _, err := os.Stat(compiled); !os.IsNotExist(err) {
		t.Errorf("compiled output of vanished profile kept: %v", err)
	}
}

func TestCollectionManager_SingleFile(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"solo.yaml": "profile: {name: solo}\n"})
	m, _ := newTestCollections(t, CollectionOptions{})

	if _, err := m.Add(context.Background(), "one", filepath.Join(src, "solo.yaml")); err != nil {
		t.Fatal(err)
	}
	profiles, err := m.opts.Store.ListProfilesByCollection(context.Background(), "one")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"one/solo"}, profileIDs(profiles)); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectionManager_Remove(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"profiles/dev.yaml": "profile: {name: dev}\n"})
	m, store := newTestCollections(t, CollectionOptions{})
	if _, err := m.Add(ctx, "team", src); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, ProfileDir(m.opts.ShareDir, "team/dev"), map[string]string{PlanFileName: "{}\n"})

	if err := m.Remove(ctx, "team"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if c, _ := store.GetCollection(ctx, "team"); c != nil {
		t.Errorf("collection still recorded")
	}
	if ps, _ := store.ListProfilesByCollection(ctx, "team"); len(ps) != 0 {
		t.Errorf("profiles still recorded: %+v", ps)
	}
	if _, err := os.Stat(filepath.Join(m.opts.ShareDir, "profiles", "team")); !os.IsNotExist(err) {
		t.Errorf("compiled profiles left behind: %v", err)
	}
	// Local sources belong to the user.
	if _, err := os.Stat(filepath.Join(src, "profiles", "dev.yaml")); err != nil {
		t.Errorf("local source touched: %v", err)
	}

	if err := m.Remove(ctx, "team"); err == nil {
		t.Error("removing an unknown collection should fail")
	}
}

type failingCloner struct{ calls int }

func (f *failingCloner) Clone(_ context.Context, _, _, _ string) error {
	f.calls++
	return errors.New("repository not found")
}

func TestCollectionManager_FailedCloneLeavesNothing(t *testing.T) {
	ctx := context.Background()
	git := &failingCloner{}
	m, store := newTestCollections(t, CollectionOptions{Git: git})

	_, err := m.Add(ctx, "team", "git+https://github.com/acme/profiles@main")
	if err == nil || !strings.Contains(err.Error(), "repository not found") {
		t.Fatalf("Add() error = %v", err)
	}
	if git.calls != 1 {
		t.Errorf("clone calls = %d", git.calls)
	}
	if c, _ := store.GetCollection(ctx, "team"); c != nil {
		t.Errorf("failed Add() recorded %+v", c)
	}
	entries, _ := os.ReadDir(filepath.Join(m.opts.ShareDir, "collections"))
	if len(entries) != 0 {
		t.Errorf("clone leftovers: %v", entries)
	}
}

func TestCollectionManager_GitSync(t *testing.T) {
	ctx := context.Background()
	repo := initGitRepo(t, map[string]string{"profiles/dev.yaml": "profile: {name: dev}\n"})
	first := runGitCmd(t, repo, "rev-parse", "HEAD")

	m, store := newTestCollections(t, CollectionOptions{})
	c, err := m.Add(ctx, "team", "git+file://"+repo+"@main")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if c.SourceType != SourceGit || c.SourceCommit != first {
		t.Errorf("collection = %+v", c)
	}
	if _, err := os.Stat(filepath.Join(c.MountPath, "profiles", "dev.yaml")); err != nil {
		t.Errorf("checkout missing: %v", err)
	}

	d := NewChangeDetector(DetectorOptions{Store: store})
	if ch := d.CheckCollectionSource(ctx, c); ch != nil {
		t.Errorf("fresh checkout reported %+v", ch)
	}

	writeFiles(t, repo, map[string]string{"profiles/prod.yaml": "profile: {name: prod}\n"})
	second := commitAll(t, repo, "add prod")

	ch := d.CheckCollectionSource(ctx, c)
	if ch == nil || ch.New != second {
		t.Fatalf("new commit not detected: %+v", ch)
	}

	found, err := m.Sync(ctx, c)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if c.SourceCommit != second {
		t.Errorf("SourceCommit = %q, want %q", c.SourceCommit, second)
	}
	if diff := cmp.Diff([]string{"team/dev", "team/prod"}, profileIDs(found)); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}

	if err := m.Remove(ctx, "team"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(CollectionDir(m.opts.ShareDir, "team")); !os.IsNotExist(err) {
		t.Errorf("checkout left behind: %v", err)
	}
}
