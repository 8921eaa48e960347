package ref

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var commitSHARegexp = regexp.MustCompile(`^[0-9a-f]{40}$`)

// gitEnv disables interactive credential prompts so a missing credential
// fails fast instead of hanging the process.
func gitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
}

// runGit runs git with the given args. Cancellation follows ctx; there is no
// internal timeout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = gitEnv()
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		return string(out) + "\n" + ctx.Err().Error(), err
	}
	return string(out), err
}

// FormatCloneCommand returns the clone command line shown in error messages.
func FormatCloneCommand(url, ref string) string {
	args := []string{"git", "clone", "--depth", "1"}
	if ref != "" && ref != defaultGitRef {
		args = append(args, "--branch", ref)
	}
	args = append(args, url)
	return strings.Join(args, " ")
}

// CloneInto makes a shallow checkout of url at ref in dest. Branches and tags
// go through clone --branch; full commit hashes are fetched directly since
// clone cannot check them out at depth 1. On failure it returns a *CloneError.
func CloneInto(ctx context.Context, url, ref, dest string) error {
	if commitSHARegexp.MatchString(ref) {
		return cloneAtCommit(ctx, url, ref, dest)
	}

	args := []string{"clone", "--depth", "1"}
	if ref != "" && ref != defaultGitRef {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dest)

	output, err := runGit(ctx, "", args...)
	if err != nil {
		return ClassifyCloneError(url, FormatCloneCommand(url, ref), output)
	}
	return nil
}

// cloneAtCommit uses git init + fetch --depth 1 + checkout FETCH_HEAD.
func cloneAtCommit(ctx context.Context, url, commit, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating checkout dir: %w", err)
	}

	steps := [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", url},
		{"fetch", "--depth", "1", "origin", commit},
		{"checkout", "--quiet", "FETCH_HEAD"},
	}
	for _, args := range steps {
		output, err := runGit(ctx, dest, args...)
		if err != nil {
			return ClassifyCloneError(url, "git "+strings.Join(args, " "), output)
		}
	}
	return nil
}

// HeadCommit returns the commit checked out in dir.
func HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %s", strings.TrimSpace(out))
	}
	return strings.TrimSpace(out), nil
}

// LsRemote returns the commit ref points to on the remote without cloning.
// Annotated tags resolve to the commit they point at.
func LsRemote(ctx context.Context, url, ref string) (string, error) {
	if ref == "" {
		ref = defaultGitRef
	}
	if commitSHARegexp.MatchString(ref) {
		return ref, nil
	}

	out, err := runGit(ctx, "", "ls-remote", url, ref, ref+"^{}")
	if err != nil {
		return "", ClassifyCloneError(url, "git ls-remote "+url+" "+ref, out)
	}

	var first, peeled string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || !commitSHARegexp.MatchString(fields[0]) {
			continue
		}
		if strings.HasSuffix(fields[1], "^{}") {
			if peeled == "" {
				peeled = fields[0]
			}
			continue
		}
		if first == "" {
			first = fields[0]
		}
	}

	switch {
	case peeled != "":
		return peeled, nil
	case first != "":
		return first, nil
	}
	return "", &CloneError{
		Kind:      CloneErrRefNotFound,
		Protocol:  detectProtocol(url),
		URL:       url,
		Command:   "git ls-remote " + url + " " + ref,
		RawOutput: fmt.Sprintf("ref %q not found on remote", ref),
		Hints:     cloneHints(CloneErrRefNotFound, detectProtocol(url), url),
	}
}

// cloneURLFor applies a configured clone URL override, if any.
func cloneURLFor(overrides map[string]string, url string) string {
	if o, ok := overrides[url]; ok && o != "" {
		return o
	}
	return url
}

// GitInspector answers "what commit does this ref point to right now" for
// change detection.
type GitInspector struct {
	CloneURLOverrides map[string]string
}

// RemoteCommit implements the remote inspection used by change detection.
func (g GitInspector) RemoteCommit(ctx context.Context, url, ref string) (string, error) {
	return LsRemote(ctx, cloneURLFor(g.CloneURLOverrides, url), ref)
}

// Clone checks out url at ref into dest, honoring clone URL overrides.
func (g GitInspector) Clone(ctx context.Context, url, ref, dest string) error {
	return CloneInto(ctx, cloneURLFor(g.CloneURLOverrides, url), ref, dest)
}
