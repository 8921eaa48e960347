package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/barysiuk/mountplan/internal/core/fsx"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

var collectionIDRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Cloner checks out a git repository. ref.GitInspector implements it.
type Cloner interface {
	Clone(ctx context.Context, url, ref, dest string) error
}

// CollectionOptions configures a CollectionManager.
type CollectionOptions struct {
	ShareDir string
	Store    MetadataStore
	Resolver SourceResolver
	Registry *ref.RegistryTable
	Git      Cloner
	Logger   *zap.Logger
	Now      func() time.Time
}

// CollectionManager installs collections and keeps the profile records of
// each collection in step with the profiles it ships.
type CollectionManager struct {
	opts CollectionOptions
	log  *zap.Logger
}

// NewCollectionManager creates a CollectionManager.
func NewCollectionManager(opts CollectionOptions) *CollectionManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Git == nil {
		opts.Git = ref.GitInspector{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &CollectionManager{opts: opts, log: log}
}

// CollectionDir is where a git collection is checked out.
func CollectionDir(shareDir, id string) string {
	return filepath.Join(shareDir, "collections", id)
}

// Add installs the collection at source under id and registers its profiles.
func (m *CollectionManager) Add(ctx context.Context, id, source string) (*CollectionMetadata, error) {
	if !collectionIDRegexp.MatchString(id) {
		return nil, fmt.Errorf("invalid collection id %q", id)
	}
	if id == StandaloneNamespace {
		return nil, fmt.Errorf("collection id %q is reserved for standalone compiles", id)
	}
	existing, err := m.opts.Store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("collection %q already exists (source: %s)", id, existing.SourceLocation)
	}

	c := &CollectionMetadata{CollectionID: id, SourceLocation: strings.TrimSpace(source)}
	if err := m.fetch(ctx, c); err != nil {
		return nil, fmt.Errorf("adding collection %q: %w", id, err)
	}
	if err := m.opts.Store.SaveCollection(ctx, c); err != nil {
		return nil, err
	}
	if _, err := m.Discover(ctx, c); err != nil {
		return nil, err
	}
	m.log.Info("collection added",
		zap.String("collection", id),
		zap.String("type", string(c.SourceType)),
		zap.String("mount", c.MountPath))
	return c, nil
}

// Sync refetches c from its source, records the new state and rediscovers
// its profiles.
func (m *CollectionManager) Sync(ctx context.Context, c *CollectionMetadata) ([]ProfileMetadata, error) {
	if err := m.fetch(ctx, c); err != nil {
		return nil, fmt.Errorf("syncing collection %q: %w", c.CollectionID, err)
	}
	if err := m.opts.Store.SaveCollection(ctx, c); err != nil {
		return nil, err
	}
	return m.Discover(ctx, c)
}

// fetch installs or refreshes c's source and fills in type, mount path,
// commit and timestamps.
func (m *CollectionManager) fetch(ctx context.Context, c *CollectionMetadata) error {
	source := c.SourceLocation
	now := m.opts.Now()

	switch {
	case strings.HasPrefix(source, "git+"):
		src, err := ref.ParseGitURL(source, true)
		if err != nil {
			return err
		}
		commit, err := m.cloneCollection(ctx, c.CollectionID, src)
		if err != nil {
			return err
		}
		c.SourceType = SourceGit
		c.SourceCommit = commit
		c.MountPath = CollectionDir(m.opts.ShareDir, c.CollectionID)
		if src.Subdirectory != "" {
			c.MountPath = filepath.Join(c.MountPath, filepath.FromSlash(src.Subdirectory))
		}

	case strings.HasPrefix(source, "amp://"):
		path, err := m.resolve(ctx, source)
		if err != nil {
			return err
		}
		c.SourceType = SourceRegistry
		c.MountPath = path

	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		path, err := m.resolve(ctx, source)
		if err != nil {
			return err
		}
		c.SourceType = SourceHTTP
		c.MountPath = path

	default:
		path := fsx.ExpandHome(source)
		if !filepath.IsAbs(path) {
			return fmt.Errorf("unsupported collection source %q", source)
		}
		if !fsx.Exists(path) {
			return fmt.Errorf("collection source %s does not exist", path)
		}
		c.SourceType = SourceLocal
		c.MountPath = path
	}

	c.LastUpdated = now
	c.LastChecked = now
	return nil
}

func (m *CollectionManager) resolve(ctx context.Context, source string) (string, error) {
	if m.opts.Registry != nil {
		expanded, err := m.opts.Registry.Expand(source)
		if err != nil {
			return "", err
		}
		source = expanded
	}
	return m.opts.Resolver.Resolve(ctx, source)
}

// cloneCollection clones next to the final directory and swaps it in, so a
// failed clone leaves the previous checkout alone.
func (m *CollectionManager) cloneCollection(ctx context.Context, id string, src *ref.Source) (string, error) {
	final := CollectionDir(m.opts.ShareDir, id)
	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(parent, "."+id+".clone-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	checkout := filepath.Join(tmp, "repo")
	m.log.Info("cloning collection", zap.String("collection", id), zap.String("url", src.URL), zap.String("ref", src.Ref))
	if err := m.opts.Git.Clone(ctx, src.URL, src.Ref, checkout); err != nil {
		return "", err
	}
	commit, err := ref.HeadCommit(ctx, checkout)
	if err != nil {
		return "", err
	}
	if src.Subdirectory != "" && !fsx.DirExists(filepath.Join(checkout, filepath.FromSlash(src.Subdirectory))) {
		return "", fmt.Errorf("subdirectory %q not found in %s", src.Subdirectory, src.URL)
	}

	if err := os.RemoveAll(final); err != nil {
		return "", err
	}
	if err := os.Rename(checkout, final); err != nil {
		return "", err
	}
	return commit, nil
}

// Discover registers every profile shipped by c and drops the records (and
// compiled output) of profiles that disappeared. Profiles live in
// <mount>/profiles/*.yaml; a collection whose mount is a single file is that
// one profile.
func (m *CollectionManager) Discover(ctx context.Context, c *CollectionMetadata) ([]ProfileMetadata, error) {
	files, err := profileFiles(c.MountPath)
	if err != nil {
		return nil, fmt.Errorf("discovering profiles of %q: %w", c.CollectionID, err)
	}

	found := make(map[string]bool, len(files))
	var out []ProfileMetadata
	for _, file := range files {
		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		id := c.CollectionID + "/" + stem
		found[id] = true

		p, err := m.opts.Store.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			p = &ProfileMetadata{ProfileID: id, CollectionID: c.CollectionID}
		}
		p.SourcePath = file
		p.CachePath = ProfileDir(m.opts.ShareDir, id)
		if err := m.opts.Store.SaveProfile(ctx, p); err != nil {
			return nil, err
		}
		out = append(out, *p)
	}

	existing, err := m.opts.Store.ListProfilesByCollection(ctx, c.CollectionID)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if found[p.ProfileID] {
			continue
		}
		m.log.Info("profile removed from collection", zap.String("profile", p.ProfileID))
		if err := m.dropProfile(ctx, p.ProfileID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Remove deletes a collection, its profile records, its compiled profiles
// and, for git collections, the checkout.
func (m *CollectionManager) Remove(ctx context.Context, id string) error {
	c, err := m.opts.Store.GetCollection(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("collection %q not found", id)
	}

	profiles, err := m.opts.Store.ListProfilesByCollection(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := m.dropProfile(ctx, p.ProfileID); err != nil {
			return err
		}
	}
	_ = os.RemoveAll(filepath.Join(m.opts.ShareDir, "profiles", id))

	if c.SourceType == SourceGit {
		if err := os.RemoveAll(CollectionDir(m.opts.ShareDir, id)); err != nil {
			return fmt.Errorf("removing checkout: %w", err)
		}
	}
	return m.opts.Store.DeleteCollection(ctx, id)
}

// List returns all installed collections.
func (m *CollectionManager) List(ctx context.Context) ([]CollectionMetadata, error) {
	return m.opts.Store.ListCollections(ctx)
}

func (m *CollectionManager) dropProfile(ctx context.Context, id string) error {
	if err := os.RemoveAll(ProfileDir(m.opts.ShareDir, id)); err != nil {
		return err
	}
	return m.opts.Store.DeleteProfile(ctx, id)
}

func profileFiles(mount string) ([]string, error) {
	info, err := os.Stat(mount)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{mount}, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(mount, "profiles", pattern))
		if err != nil {
			return nil, err
		}
		for _, f := range matches {
			if strings.HasSuffix(f, configSuffix+filepath.Ext(f)) {
				continue
			}
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}
