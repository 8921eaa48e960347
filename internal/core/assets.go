package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/barysiuk/mountplan/internal/core/fsx"
	"github.com/barysiuk/mountplan/internal/core/manifest"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

// ErrMissingSource is returned for a component declared without a source.
var ErrMissingSource = errors.New("component has no source")

// SourceResolver turns a source reference into a local path.
// *ref.Resolver is the production implementation.
type SourceResolver interface {
	Resolve(ctx context.Context, source string) (string, error)
}

// ResolvedAsset is a component after both resolution stages: the shared
// cache path it was fetched to and its copy inside the compiled profile.
type ResolvedAsset struct {
	Ref         manifest.ComponentRef
	SharedPath  string
	ProfilePath string
	// RelPath is ProfilePath relative to the profile directory, slash separated.
	RelPath string
}

// AssetResolver resolves component sources to shared cache paths.
type AssetResolver struct {
	Registry *ref.RegistryTable
	Resolver SourceResolver
}

// Resolve expands a registry short form, then resolves the source.
func (a *AssetResolver) Resolve(ctx context.Context, c manifest.ComponentRef) (string, error) {
	if c.Source == "" {
		return "", fmt.Errorf("%s: %w", describeComponent(c), ErrMissingSource)
	}
	local, err := a.resolveSource(ctx, c.Source)
	if err != nil {
		return "", fmt.Errorf("%s: %w", describeComponent(c), err)
	}
	return local, nil
}

func (a *AssetResolver) resolveSource(ctx context.Context, source string) (string, error) {
	if a.Registry != nil {
		expanded, err := a.Registry.Expand(source)
		if err != nil {
			return "", &ref.ResolutionError{Ref: source, Reason: "unknown registry", Err: err}
		}
		source = expanded
	}
	return a.Resolver.Resolve(ctx, source)
}

func describeComponent(c manifest.ComponentRef) string {
	kind := string(c.Type)
	if c.BehaviorID != "" {
		return fmt.Sprintf("%s %q of behavior %q", kind, c.ID, c.BehaviorID)
	}
	return fmt.Sprintf("session %s %q", kind, c.ID)
}

// ProfileCacheWriter copies resolved assets into a profile directory.
// Components that are already present are left alone, so an interrupted
// compile can be re-run over the same directory.
type ProfileCacheWriter struct {
	root string
	fs   billy.Filesystem
}

// NewProfileCacheWriter writes under root.
func NewProfileCacheWriter(root string) *ProfileCacheWriter {
	return &ProfileCacheWriter{root: root, fs: osfs.New(root)}
}

// ComponentDir is the slash-separated location of a component inside a
// compiled profile. Distinct ids always map to distinct directories.
func ComponentDir(c manifest.ComponentRef) string {
	id := fsx.UniqueName(c.ID)
	if c.BehaviorID == "" {
		return path.Join("session", string(c.Type), id)
	}
	return path.Join("behaviors", fsx.UniqueName(c.BehaviorID), string(c.Type), id)
}

// Write materializes shared into the component's directory and reports
// whether anything was copied. A directory is mirrored; a single file lands
// inside the component directory under its own name.
func (w *ProfileCacheWriter) Write(shared string, c manifest.ComponentRef) (ResolvedAsset, bool, error) {
	rel := ComponentDir(c)
	asset := ResolvedAsset{
		Ref:         c,
		SharedPath:  shared,
		ProfilePath: filepath.Join(w.root, filepath.FromSlash(rel)),
		RelPath:     rel,
	}

	if _, err := w.fs.Stat(rel); err == nil {
		return asset, false, nil
	} else if !os.IsNotExist(err) {
		return asset, false, err
	}

	info, err := os.Stat(shared)
	if err != nil {
		return asset, false, err
	}

	partial := rel + ".partial"
	if err := util.RemoveAll(w.fs, partial); err != nil {
		return asset, false, err
	}

	srcFS := osfs.New(filepath.Dir(shared))
	dst := partial
	if !info.IsDir() {
		dst = path.Join(partial, filepath.Base(shared))
	}
	if err := fsx.CopyTree(srcFS, filepath.Base(shared), w.fs, dst); err != nil {
		_ = util.RemoveAll(w.fs, partial)
		return asset, false, fmt.Errorf("copying %s: %w", shared, err)
	}
	if err := w.fs.Rename(partial, rel); err != nil {
		_ = util.RemoveAll(w.fs, partial)
		return asset, false, err
	}
	return asset, true, nil
}
