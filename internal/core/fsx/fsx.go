// Package fsx holds the small filesystem helpers shared by the reference
// resolver and the profile cache writer. Tree copies go through go-billy so the
// same code serves local directories and in-memory or remote filesystems.
package fsx

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// excluded are entries never copied between trees.
var excluded = map[string]bool{
	".git": true,
}

// CopyTree mirrors srcPath on src to dstPath on dst. A directory is copied
// recursively; a regular file is copied to dstPath itself. Symlinks and other
// special files are skipped.
func CopyTree(src billy.Filesystem, srcPath string, dst billy.Filesystem, dstPath string) error {
	info, err := src.Stat(srcPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := dst.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return err
		}
		return copyFile(src, srcPath, dst, dstPath, info.Mode().Perm())
	}

	return util.Walk(src, srcPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if excluded[fi.Name()] && path != srcPath {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcPath, path)
		if err != nil {
			return err
		}
		target := dstPath
		if rel != "." {
			target = dst.Join(dstPath, rel)
		}

		switch {
		case fi.IsDir():
			return dst.MkdirAll(target, 0o755)
		case fi.Mode().IsRegular():
			return copyFile(src, path, dst, target, fi.Mode().Perm())
		default:
			return nil
		}
	})
}

// CopyPath copies a local file or directory to dst using the OS filesystem.
func CopyPath(src, dst string) error {
	srcFS := osfs.New(filepath.Dir(src))
	dstFS := osfs.New(filepath.Dir(dst))
	return CopyTree(srcFS, filepath.Base(src), dstFS, filepath.Base(dst))
}

func copyFile(src billy.Filesystem, srcPath string, dst billy.Filesystem, dstPath string, perm os.FileMode) error {
	in, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if perm == 0 {
		perm = 0o644
	}
	out, err := dst.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// MoveDir renames src to dst. When the rename crosses filesystems it falls
// back to copy-then-remove.
func MoveDir(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || Exists(dst) {
		return err
	}
	if err := CopyPath(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return os.RemoveAll(src)
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists returns true if the path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ExpandHome expands a leading ~ to the user's home directory and $VAR
// references to environment values.
func ExpandHome(p string) string {
	if strings.Contains(p, "$") {
		p = os.ExpandEnv(p)
	}
	if strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, p[2:])
	}
	if p == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	return p
}

// SafeName normalizes an identifier for use as a single path segment.
// Anything outside [A-Za-z0-9._-] becomes '-'; the result never starts with '.'.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > 255 {
		out = out[:255]
	}
	if out == "" {
		out = "unnamed"
	}
	return out
}

// UniqueName is SafeName(name) when that leaves name unchanged. Otherwise a
// short digest of name is appended, so two names that normalize alike still
// get different segments.
func UniqueName(name string) string {
	safe := SafeName(name)
	if safe == name {
		return safe
	}
	sum := sha256.Sum256([]byte(name))
	if len(safe) > 255-9 {
		safe = safe[:255-9]
	}
	return safe + "-" + hex.EncodeToString(sum[:4])
}
