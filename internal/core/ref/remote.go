package ref

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/barysiuk/mountplan/internal/core/fsx"
)

// Protocols maps a URI scheme to the filesystem serving it. Any go-billy
// implementation works: memfs for tests, an sftp or object-store adapter in
// production.
type Protocols map[string]billy.Filesystem

// resolveRemote materializes a <protocol>://<path> reference. file:// paths are
// used in place; registered protocols are copied recursively; http(s) without a
// registered filesystem downloads a single file.
func (r *Resolver) resolveRemote(ctx context.Context, src *Source) (string, error) {
	if src.Protocol == "file" {
		if !fsx.Exists(src.Path) {
			return "", resolutionErr(src.Raw, "local path not found", nil)
		}
		return src.Path, nil
	}

	base := src.Basename()
	if base == "" || base == "." || base == "/" {
		base = src.Protocol
	}
	key := remoteCacheKey(src.Protocol, base)

	if fs, ok := r.opts.Protocols[src.Protocol]; ok {
		p, err := r.store.GetOrFetch(key, func(scratch string) (string, error) {
			r.log.Debug("copying remote tree", zap.String("protocol", src.Protocol), zap.String("path", src.Path))
			return copyFromFilesystem(fs, src.Path, scratch, base)
		})
		if err != nil {
			return "", resolutionErr(src.Raw, "remote copy failed", err)
		}
		return p, nil
	}

	switch src.Protocol {
	case "http", "https":
		p, err := r.store.GetOrFetch(key, func(scratch string) (string, error) {
			dest := filepath.Join(scratch, fsx.SafeName(base))
			r.log.Debug("downloading", zap.String("url", src.Raw))
			return dest, r.download(ctx, src.Raw, dest)
		})
		if err != nil {
			return "", resolutionErr(src.Raw, "download failed", err)
		}
		return p, nil
	}

	return "", resolutionErr(src.Raw, fmt.Sprintf("unsupported protocol %q", src.Protocol), nil)
}

func copyFromFilesystem(fs billy.Filesystem, srcPath, scratch, base string) (string, error) {
	srcPath = path.Clean("/" + srcPath)
	if _, err := fs.Stat(srcPath); err != nil {
		return "", err
	}
	name := fsx.SafeName(base)
	if err := fsx.CopyTree(fs, srcPath, osfs.New(scratch), name); err != nil {
		return "", err
	}
	return filepath.Join(scratch, name), nil
}

func (r *Resolver) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (r *Resolver) httpClient() *http.Client {
	if r.opts.HTTPClient != nil {
		return r.opts.HTTPClient
	}
	return http.DefaultClient
}
