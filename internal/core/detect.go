package core

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/barysiuk/mountplan/internal/core/manifest"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

// ChangeKind says why something is considered changed.
type ChangeKind string

const (
	ChangeSourceCommit      ChangeKind = "source-commit"
	ChangeSourceModified    ChangeKind = "source-modified"
	ChangeManifest          ChangeKind = "manifest"
	ChangeNeverBuilt        ChangeKind = "never-built"
	ChangeCacheMissing      ChangeKind = "cache-missing"
	ChangeDependencyMissing ChangeKind = "dependency-missing"
	ChangeDependencyStale   ChangeKind = "dependency-stale"
	ChangeDependencyNewer   ChangeKind = "dependency-newer"
)

// CollectionChange reports a collection whose source moved on.
type CollectionChange struct {
	CollectionID string     `json:"collectionId"`
	Kind         ChangeKind `json:"kind"`
	Old          string     `json:"old,omitempty"`
	New          string     `json:"new,omitempty"`
}

// ProfileChange reports one reason a compiled profile is out of date.
type ProfileChange struct {
	ProfileID  string     `json:"profileId"`
	Kind       ChangeKind `json:"kind"`
	Dependency string     `json:"dependency,omitempty"`
	Old        string     `json:"old,omitempty"`
	New        string     `json:"new,omitempty"`
}

func (c ProfileChange) String() string {
	if c.Dependency != "" {
		return fmt.Sprintf("%s (%s)", c.Kind, c.Dependency)
	}
	return string(c.Kind)
}

// RemoteInspector reports the commit a remote ref currently points at.
// ref.GitInspector is the production implementation.
type RemoteInspector interface {
	RemoteCommit(ctx context.Context, url, ref string) (string, error)
}

// DetectorOptions configures a ChangeDetector.
type DetectorOptions struct {
	Store      MetadataStore
	Inspector  RemoteInspector
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ChangeDetector compares live sources with persisted metadata. A check that
// fails (unreachable remote, unreadable file) is logged and reported as no
// change.
type ChangeDetector struct {
	store     MetadataStore
	inspector RemoteInspector
	client    *http.Client
	log       *zap.Logger
}

// NewChangeDetector creates a ChangeDetector.
func NewChangeDetector(opts DetectorOptions) *ChangeDetector {
	d := &ChangeDetector{
		store:     opts.Store,
		inspector: opts.Inspector,
		client:    opts.HTTPClient,
		log:       opts.Logger,
	}
	if d.inspector == nil {
		d.inspector = ref.GitInspector{}
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// CheckCollectionSource reports whether c's source differs from what was
// last installed. HTTP sources are inspected but never reported as changed.
func (d *ChangeDetector) CheckCollectionSource(ctx context.Context, c *CollectionMetadata) *CollectionChange {
	log := d.log.With(zap.String("collection", c.CollectionID), zap.String("source", c.SourceLocation))

	switch c.SourceType {
	case SourceGit:
		src, err := ref.ParseGitURL(c.SourceLocation, true)
		if err != nil {
			log.Warn("source check failed", zap.Error(err))
			return nil
		}
		remote, err := d.inspector.RemoteCommit(ctx, src.URL, src.Ref)
		if err != nil {
			log.Warn("source check failed", zap.Error(err))
			return nil
		}
		if remote == c.SourceCommit {
			return nil
		}
		return &CollectionChange{CollectionID: c.CollectionID, Kind: ChangeSourceCommit, Old: c.SourceCommit, New: remote}

	case SourceLocal, SourceRegistry:
		newest, err := newestModTime(c.MountPath)
		if err != nil {
			log.Warn("source check failed", zap.Error(err))
			return nil
		}
		if !c.LastUpdated.IsZero() && !newest.After(c.LastUpdated) {
			return nil
		}
		return &CollectionChange{
			CollectionID: c.CollectionID,
			Kind:         ChangeSourceModified,
			Old:          formatStamp(c.LastUpdated),
			New:          formatStamp(newest),
		}

	case SourceHTTP:
		d.inspectHTTP(ctx, c.SourceLocation, log)
		return nil
	}

	log.Warn("unknown source type", zap.String("type", string(c.SourceType)))
	return nil
}

// inspectHTTP sends a HEAD request to an HTTP source. Its validators are
// logged, but HTTP sources are never flagged as changed.
func (d *ChangeDetector) inspectHTTP(ctx context.Context, url string, log *zap.Logger) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		log.Warn("source check failed", zap.Error(err))
		return
	}
	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("source check failed", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
	log.Info("http source inspected; changes are not detected for http sources",
		zap.Int("status", resp.StatusCode),
		zap.String("etag", resp.Header.Get("ETag")),
		zap.String("last_modified", resp.Header.Get("Last-Modified")))
}

// CheckProfileManifest compares the hash of p's manifest and config overlay
// on disk with the hash recorded at its last build.
func (d *ChangeDetector) CheckProfileManifest(_ context.Context, p *ProfileMetadata) *ProfileChange {
	current, err := hashProfileSources(p.SourcePath)
	if err != nil {
		d.log.Warn("manifest check failed", zap.String("profile", p.ProfileID), zap.Error(err))
		return nil
	}
	if current == p.ManifestHash {
		return nil
	}
	return &ProfileChange{ProfileID: p.ProfileID, Kind: ChangeManifest, Old: p.ManifestHash, New: current}
}

// CheckProfileDependencies looks one hop along p's dependency edges. A
// dependency is flagged when it is missing, has never been built, has an
// edited manifest, or was rebuilt after p.
func (d *ChangeDetector) CheckProfileDependencies(ctx context.Context, p *ProfileMetadata) []ProfileChange {
	var changes []ProfileChange
	for _, dep := range p.Dependencies {
		other, err := d.store.GetProfile(ctx, dep.DependencyProfileID)
		if err != nil {
			d.log.Warn("dependency check failed",
				zap.String("profile", p.ProfileID),
				zap.String("dependency", dep.DependencyProfileID),
				zap.Error(err))
			continue
		}
		change := ProfileChange{ProfileID: p.ProfileID, Dependency: dep.DependencyProfileID}
		switch {
		case other == nil:
			change.Kind = ChangeDependencyMissing
		case other.CacheBuilt.IsZero():
			change.Kind = ChangeDependencyStale
		case d.CheckProfileManifest(ctx, other) != nil:
			change.Kind = ChangeDependencyStale
		case other.CacheBuilt.After(p.CacheBuilt):
			change.Kind = ChangeDependencyNewer
			change.Old = formatStamp(p.CacheBuilt)
			change.New = formatStamp(other.CacheBuilt)
		default:
			continue
		}
		changes = append(changes, change)
	}
	return changes
}

// IsProfileStale reports whether p needs recompiling and why.
func (d *ChangeDetector) IsProfileStale(ctx context.Context, p *ProfileMetadata) (bool, []ProfileChange) {
	if p.CacheBuilt.IsZero() {
		return true, []ProfileChange{{ProfileID: p.ProfileID, Kind: ChangeNeverBuilt}}
	}

	var changes []ProfileChange
	if p.CachePath != "" {
		if _, err := os.Stat(filepath.Join(p.CachePath, PlanFileName)); os.IsNotExist(err) {
			changes = append(changes, ProfileChange{ProfileID: p.ProfileID, Kind: ChangeCacheMissing})
		}
	}
	if c := d.CheckProfileManifest(ctx, p); c != nil {
		changes = append(changes, *c)
	}
	changes = append(changes, d.CheckProfileDependencies(ctx, p)...)
	return len(changes) > 0, changes
}

// hashProfileSources hashes the manifest at path and its config overlay.
func hashProfileSources(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	overlay, err := readOverlay(path)
	if err != nil {
		return "", err
	}
	return manifest.HashProfileSources(data, overlay)
}

// newestModTime is the latest modification time of root or anything below
// it. VCS metadata is ignored.
func newestModTime(root string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() && e.Name() == ".git" {
			return filepath.SkipDir
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
