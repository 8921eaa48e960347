package ref

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/barysiuk/mountplan/internal/core/fsx"
)

// Options configures a Resolver.
type Options struct {
	// CacheDir is the root of the shared cache. Ignored when Store is set.
	CacheDir string
	// Store overrides the default DirStore rooted at CacheDir.
	Store BlobStore
	// DefaultRefHEAD makes a git reference without @<ref> resolve HEAD instead
	// of failing.
	DefaultRefHEAD bool
	// CloneURLOverrides maps a repository URL to the URL actually cloned.
	CloneURLOverrides map[string]string
	// Registries, when set, lets Resolve accept amp:// short forms directly.
	Registries *RegistryTable
	Protocols  Protocols
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Resolver turns source references into local paths.
//
// Resolved references are memoized for the life of the Resolver, so a second
// Resolve of the same reference never clones again. Across processes the
// content-addressed store still avoids duplicate storage, but a fresh clone is
// needed to learn which commit a branch points at.
type Resolver struct {
	opts  Options
	store BlobStore
	log   *zap.Logger

	mu     sync.Mutex
	memo   map[string]string
	clones int
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	store := opts.Store
	if store == nil {
		store = NewDirStore(opts.CacheDir)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		opts:  opts,
		store: store,
		log:   log,
		memo:  make(map[string]string),
	}
}

// Resolve returns a local path for source. Errors are *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	if r.opts.Registries != nil && strings.HasPrefix(strings.TrimSpace(source), registryScheme) {
		expanded, err := r.opts.Registries.Expand(strings.TrimSpace(source))
		if err != nil {
			return "", resolutionErr(source, "unknown registry", err)
		}
		source = expanded
	}

	src, err := Parse(source)
	if err != nil {
		return "", resolutionErr(source, "invalid reference", err)
	}

	switch src.Kind {
	case KindGit:
		return r.resolveGit(ctx, src)
	case KindLocal:
		if !fsx.Exists(src.Path) {
			return "", resolutionErr(src.Raw, "local path not found", nil)
		}
		return src.Path, nil
	case KindRemote:
		return r.resolveRemote(ctx, src)
	case KindRegistry:
		return "", resolutionErr(src.Raw, "registry reference must be expanded before resolution", nil)
	}
	return "", resolutionErr(src.Raw, "unsupported reference kind", nil)
}

func (r *Resolver) resolveGit(ctx context.Context, src *Source) (string, error) {
	if src.RefDefaulted && !r.opts.DefaultRefHEAD {
		return "", resolutionErr(src.Raw, "missing @<ref>", nil)
	}

	memoKey := strings.Join([]string{src.URL, src.Ref, src.Subdirectory, src.SubPath}, "\x00")
	if p, ok := r.memoized(memoKey); ok {
		r.log.Debug("reference cache hit", zap.String("ref", src.Raw), zap.String("path", p))
		return p, nil
	}

	root, err := r.checkout(ctx, src)
	if err != nil {
		return "", err
	}

	result := root
	if src.SubPath != "" {
		result = filepath.Join(root, filepath.FromSlash(src.SubPath))
		if !fsx.Exists(result) {
			return "", resolutionErr(src.Raw, "path not found in repository: "+src.SubPath, nil)
		}
	}

	r.mu.Lock()
	r.memo[memoKey] = result
	r.mu.Unlock()
	return result, nil
}

// checkout clones src into scratch space, keys it by commit (and
// subdirectory), then either discards the clone in favor of an existing cache
// entry or moves it into the cache.
func (r *Resolver) checkout(ctx context.Context, src *Source) (string, error) {
	scratch, err := r.store.Scratch("clone-*")
	if err != nil {
		return "", resolutionErr(src.Raw, "creating scratch dir", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	cloneURL := cloneURLFor(r.opts.CloneURLOverrides, src.URL)
	dir := filepath.Join(scratch, "repo")

	r.log.Info("cloning", zap.String("url", cloneURL), zap.String("ref", src.Ref))
	r.mu.Lock()
	r.clones++
	r.mu.Unlock()

	if err := CloneInto(ctx, cloneURL, src.Ref, dir); err != nil {
		return "", resolutionErr(src.Raw, "clone failed", err)
	}
	commit, err := HeadCommit(ctx, dir)
	if err != nil {
		return "", resolutionErr(src.Raw, "reading commit", err)
	}
	_ = os.RemoveAll(filepath.Join(dir, ".git"))

	content := dir
	if src.Subdirectory != "" {
		content = filepath.Join(dir, filepath.FromSlash(src.Subdirectory))
		if !fsx.Exists(content) {
			return "", resolutionErr(src.Raw, "subdirectory not found: "+src.Subdirectory, nil)
		}
	}

	key := gitCacheKey(src.URL, commit, src.Subdirectory)
	if p, ok := r.store.Lookup(key); ok {
		r.log.Debug("reference cache hit", zap.String("ref", src.Raw), zap.String("commit", commit))
		return p, nil
	}
	r.log.Debug("reference cache miss", zap.String("ref", src.Raw), zap.String("commit", commit))

	p, err := r.store.Put(key, content)
	if err != nil {
		return "", resolutionErr(src.Raw, "caching checkout", err)
	}
	return p, nil
}

func (r *Resolver) memoized(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.memo[key]
	if !ok {
		return "", false
	}
	if !fsx.Exists(p) {
		delete(r.memo, key)
		return "", false
	}
	return p, true
}
