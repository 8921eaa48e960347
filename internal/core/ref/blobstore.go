package ref

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/barysiuk/mountplan/internal/core/fsx"
)

// BlobStore is the shared content-addressed cache behind the resolver.
// Entries are immutable once published; callers never write into them.
type BlobStore interface {
	// Lookup returns the path for key if it is already cached.
	Lookup(key string) (string, bool)
	// Put moves src into the store under key. When key is already present src
	// is discarded and the existing entry is returned.
	Put(key, src string) (string, error)
	// GetOrFetch returns the entry for key, calling fetch to populate it on a
	// miss. fetch receives a scratch directory on the store's volume and
	// returns the path to publish; the scratch directory is removed afterwards.
	GetOrFetch(key string, fetch func(scratch string) (string, error)) (string, error)
	// Scratch creates a temporary directory on the store's volume so Put can
	// rename instead of copy. The caller removes it.
	Scratch(pattern string) (string, error)
}

// DirStore is a BlobStore backed by a plain directory tree. It takes no locks:
// two writers racing for one key store identical content and the loser's copy
// is dropped.
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

// Root returns the directory the store lives in.
func (s *DirStore) Root() string { return s.root }

func (s *DirStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *DirStore) Lookup(key string) (string, bool) {
	p := s.path(key)
	if fsx.Exists(p) {
		return p, true
	}
	return "", false
}

func (s *DirStore) Put(key, src string) (string, error) {
	dst := s.path(key)
	if fsx.Exists(dst) {
		_ = os.RemoveAll(src)
		return dst, nil
	}
	if err := fsx.MoveDir(src, dst); err != nil {
		// Lost a race with a writer publishing the same content.
		if fsx.Exists(dst) {
			_ = os.RemoveAll(src)
			return dst, nil
		}
		return "", fmt.Errorf("publishing cache entry %s: %w", key, err)
	}
	return dst, nil
}

func (s *DirStore) GetOrFetch(key string, fetch func(scratch string) (string, error)) (string, error) {
	if p, ok := s.Lookup(key); ok {
		return p, nil
	}
	scratch, err := s.Scratch("fetch-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	src, err := fetch(scratch)
	if err != nil {
		return "", err
	}
	if src == "" {
		return "", errors.New("fetch returned no content")
	}
	return s.Put(key, src)
}

func (s *DirStore) Scratch(pattern string) (string, error) {
	dir := filepath.Join(s.root, ".tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache scratch dir: %w", err)
	}
	return os.MkdirTemp(dir, pattern)
}

// gitCacheKey derives the cache key of a checkout from its commit and optional
// subdirectory. A readable repository name prefixes the hash so the cache can
// be browsed by hand.
func gitCacheKey(url, commit, subdir string) string {
	h := sha256.New()
	h.Write([]byte(commit))
	if subdir != "" {
		h.Write([]byte{0})
		h.Write([]byte(subdir))
	}
	sum := hex.EncodeToString(h.Sum(nil))[:16]

	name := readableRepoName(url)
	if name == "" {
		return "git/" + sum
	}
	return "git/" + name + "-" + sum
}

// readableRepoName turns "git@github.com:org/repo.git" or
// "https://github.com/org/repo" into "org-repo".
func readableRepoName(repoURL string) string {
	s := strings.ToLower(strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git"))
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
		if slash := strings.Index(s, "/"); slash >= 0 {
			s = s[slash+1:]
		}
	} else if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.Trim(s, "/")
	if parts := strings.Split(s, "/"); len(parts) > 2 {
		s = strings.Join(parts[len(parts)-2:], "/")
	}
	return strings.Trim(fsx.SafeName(strings.ReplaceAll(s, "/", "-")), "-")
}

// remoteCacheKey names a remote download by protocol and basename.
func remoteCacheKey(protocol, basename string) string {
	return "remote/" + fsx.SafeName(protocol) + "/" + fsx.SafeName(basename)
}
