// Package ref turns source-reference strings into local paths.
//
// It understands git references (git+<url>@<ref>), registry short forms
// (amp://<id>/<path>), absolute local paths and generic remote-filesystem URIs
// (<protocol>://<path>). Fetched content lands in a shared, content-addressed
// cache so repeated resolutions are cheap.
package ref

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/barysiuk/mountplan/internal/core/fsx"
)

// Kind indicates the kind of source reference.
type Kind string

const (
	KindGit      Kind = "git"
	KindRegistry Kind = "registry"
	KindLocal    Kind = "local"
	KindRemote   Kind = "remote"
)

const (
	gitPrefix         = "git+"
	registryScheme    = "amp://"
	subdirectoryParam = "subdirectory="
	defaultGitRef     = "HEAD"
)

// Source is a parsed source reference.
type Source struct {
	Kind Kind
	Raw  string

	// Git
	URL          string // clone URL without the git+ prefix
	Ref          string // branch, tag or commit
	RefDefaulted bool   // true when @<ref> was absent and Ref was set to HEAD
	Subdirectory string // from #subdirectory=<path> or a trailing #<path>
	SubPath      string // repo-relative path from @<ref>/<path>

	// Registry
	RegistryID string

	// Local and remote
	Protocol string // remote only, e.g. "https", "mem"
	Path     string // absolute local path, or the path part of a remote URI
}

// Parse parses a source reference string.
//
// Supported formats:
//   - "git+<url>@<ref>"                      → git repository at ref
//   - "git+<url>@<ref>/<path>"               → repo-relative path inside the checkout
//   - "git+<url>@<ref>#subdirectory=<path>"  → subdirectory of the checkout
//   - "amp://<registry-id>/<path>"           → registry short form
//   - "/abs/path" or "~/path"                → local path
//   - "<protocol>://<path>"                  → remote filesystem (file://, https://, ...)
//
// A git reference without @<ref> parses with Ref "HEAD" and RefDefaulted set;
// whether that is acceptable is up to the caller (see Resolver).
func Parse(input string) (*Source, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty source reference")
	}

	switch {
	case strings.HasPrefix(input, gitPrefix):
		return ParseGitURL(input, true)
	case strings.HasPrefix(input, registryScheme):
		return parseRegistrySource(input)
	case isLocalPath(input):
		return parseLocalSource(input)
	case strings.Contains(input, "://"):
		return parseRemoteSource(input)
	}

	return nil, fmt.Errorf("unrecognized source reference: %q", input)
}

// ParseGitURL parses the git reference grammar:
//
//	git+<url>[@<ref>][/<subpath>]
//	git+<url>[@<ref>]#subdirectory=<subpath>
//
// When defaultHEAD is false a missing @<ref> is an error; otherwise the ref
// defaults to HEAD.
func ParseGitURL(input string, defaultHEAD bool) (*Source, error) {
	raw := strings.TrimSpace(input)
	s := strings.TrimPrefix(raw, gitPrefix)
	if s == "" {
		return nil, fmt.Errorf("empty git URL in %q", raw)
	}

	src := &Source{Kind: KindGit, Raw: raw}

	if idx := strings.Index(s, "#"); idx >= 0 {
		frag := s[idx+1:]
		s = s[:idx]
		src.Subdirectory = strings.Trim(strings.TrimPrefix(frag, subdirectoryParam), "/")
		if src.Subdirectory == "" {
			return nil, fmt.Errorf("empty subdirectory in %q", raw)
		}
	}

	pathStart := repoPathStart(s)
	at := strings.Index(s[pathStart:], "@")
	if at < 0 {
		if !defaultHEAD {
			return nil, fmt.Errorf("git reference %q is missing @<ref>", raw)
		}
		src.URL = s
		src.Ref = defaultGitRef
		src.RefDefaulted = true
		return src, nil
	}

	src.URL = s[:pathStart+at]
	rest := s[pathStart+at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		src.Ref = rest[:slash]
		src.SubPath = strings.Trim(rest[slash+1:], "/")
	} else {
		src.Ref = rest
	}

	if src.URL == "" {
		return nil, fmt.Errorf("empty git URL in %q", raw)
	}
	if src.Ref == "" {
		return nil, fmt.Errorf("empty ref in %q", raw)
	}
	if src.SubPath != "" && src.Subdirectory != "" {
		return nil, fmt.Errorf("git reference %q has both a path and #subdirectory", raw)
	}
	return src, nil
}

// repoPathStart returns the index where the repository path begins, so that
// user info such as "git@" in the authority is not mistaken for @<ref>.
func repoPathStart(s string) int {
	if i := strings.Index(s, "://"); i >= 0 {
		if j := strings.Index(s[i+3:], "/"); j >= 0 {
			return i + 3 + j
		}
		return len(s)
	}
	// scp-like: user@host:path
	if i := strings.Index(s, ":"); i >= 0 {
		return i + 1
	}
	return 0
}

func isLocalPath(input string) bool {
	return strings.HasPrefix(input, "/") ||
		strings.HasPrefix(input, "~/") ||
		filepath.IsAbs(input)
}

func parseLocalSource(input string) (*Source, error) {
	p := filepath.Clean(fsx.ExpandHome(input))
	if !filepath.IsAbs(p) {
		return nil, fmt.Errorf("local source must be an absolute path: %q", input)
	}
	return &Source{Kind: KindLocal, Raw: input, Path: p}, nil
}

func parseRegistrySource(input string) (*Source, error) {
	rest := strings.TrimPrefix(input, registryScheme)
	id, p, _ := strings.Cut(rest, "/")
	if id == "" {
		return nil, fmt.Errorf("registry reference %q is missing a registry id", input)
	}
	return &Source{Kind: KindRegistry, Raw: input, RegistryID: id, Path: strings.Trim(p, "/")}, nil
}

func parseRemoteSource(input string) (*Source, error) {
	idx := strings.Index(input, "://")
	proto := strings.ToLower(input[:idx])
	if proto == "" {
		return nil, fmt.Errorf("remote reference %q is missing a protocol", input)
	}
	p := input[idx+3:]
	if p == "" {
		return nil, fmt.Errorf("remote reference %q is missing a path", input)
	}
	if proto == "file" {
		p = filepath.Clean(p)
	}
	return &Source{Kind: KindRemote, Raw: input, Protocol: proto, Path: p}, nil
}

// IsReference reports whether s looks like a source reference rather than a
// bare identifier.
func IsReference(s string) bool {
	return strings.HasPrefix(s, gitPrefix) ||
		strings.HasPrefix(s, registryScheme) ||
		strings.Contains(s, "://") ||
		isLocalPath(s)
}

// Location returns the slash-separated path a reference points at inside its
// origin: the subdirectory or repo-relative path for git, the path otherwise.
func (s *Source) Location() string {
	var p string
	switch s.Kind {
	case KindGit:
		switch {
		case s.Subdirectory != "":
			p = s.Subdirectory
		case s.SubPath != "":
			p = s.SubPath
		default:
			p = strings.TrimSuffix(s.URL, ".git")
		}
	default:
		p = s.Path
	}
	return strings.TrimRight(strings.ReplaceAll(p, "\\", "/"), "/")
}

// Basename returns the last meaningful path element of a reference, used to
// name cache entries and to derive identifiers from URI-form references.
func (s *Source) Basename() string {
	p := s.Location()
	if p == "" {
		return ""
	}
	if i := strings.LastIndexAny(p, "/:"); i >= 0 {
		p = p[i+1:]
	}
	return path.Clean(p)
}
