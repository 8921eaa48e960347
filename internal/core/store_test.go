package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "share", "metadata.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Collections(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	got, err := s.GetCollection(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("GetCollection(missing) = %v, %v; want nil, nil", got, err)
	}

	updated := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	c := &CollectionMetadata{
		CollectionID:   "team",
		SourceType:     SourceGit,
		SourceLocation: "git+https://github.com/acme/profiles@main",
		MountPath:      "/share/collections/team",
		SourceCommit:   "abc123",
		LastUpdated:    updated,
	}
	if err := s.SaveCollection(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err = s.GetCollection(ctx, "team")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("collection mismatch (-want +got):\n%s", diff)
	}
	if !got.LastChecked.IsZero() {
		t.Errorf("LastChecked = %v, want zero", got.LastChecked)
	}

	c.SourceCommit = "def456"
	c.LastChecked = updated.Add(time.Hour)
	if err := s.SaveCollection(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCollection(ctx, &CollectionMetadata{CollectionID: "alpha", SourceType: SourceLocal, SourceLocation: "/src", MountPath: "/src"}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].CollectionID != "alpha" || list[1].SourceCommit != "def456" {
		t.Errorf("ListCollections() = %+v", list)
	}

	if err := s.DeleteCollection(ctx, "team"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetCollection(ctx, "team"); got != nil {
		t.Errorf("collection still present after delete: %+v", got)
	}
}

func TestSQLiteStore_Profiles(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	built := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	p := &ProfileMetadata{
		ProfileID:    "team/dev",
		CollectionID: "team",
		SourcePath:   "/share/collections/team/profiles/dev.yaml",
		CachePath:    "/share/profiles/team/dev",
		ManifestHash: "sha256:aa",
		CacheBuilt:   built,
		Dependencies: []ProfileDependency{
			{DependentProfileID: "team/dev", DependencyProfileID: "team/base", DependencyType: DependencyExtends},
			{DependentProfileID: "team/dev", DependencyProfileID: "team/tools", DependencyType: DependencyRequires},
		},
	}
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfile(ctx, &ProfileMetadata{ProfileID: "team/base", CollectionID: "team", SourcePath: "b", CachePath: "c"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfile(ctx, &ProfileMetadata{ProfileID: "other/x", CollectionID: "other", SourcePath: "x", CachePath: "y"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProfile(ctx, "team/dev")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	// Saving again replaces the dependency set.
	p.Dependencies = p.Dependencies[:1]
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetProfile(ctx, "team/dev")
	if len(got.Dependencies) != 1 {
		t.Errorf("dependencies = %+v", got.Dependencies)
	}

	byColl, err := s.ListProfilesByCollection(ctx, "team")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range byColl {
		ids = append(ids, p.ProfileID)
	}
	if diff := cmp.Diff([]string{"team/base", "team/dev"}, ids); diff != "" {
		t.Errorf("ListProfilesByCollection() mismatch (-want +got):\n%s", diff)
	}
	if len(byColl[1].Dependencies) != 1 {
		t.Errorf("listed profile lost its dependencies: %+v", byColl[1])
	}

	all, err := s.ListProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ListProfiles() returned %d profiles", len(all))
	}

	if err := s.DeleteProfile(ctx, "team/dev"); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetProfile(ctx, "team/dev"); err != nil || got != nil {
		t.Errorf("GetProfile after delete = %+v, %v", got, err)
	}
}
