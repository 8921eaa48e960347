package ref

import (
	"fmt"
	"strings"
)

// CloneErrorKind says what went wrong in a git clone, fetch or ls-remote.
type CloneErrorKind int

const (
	CloneErrUnknown CloneErrorKind = iota
	// CloneErrAuth: the remote wants credentials and none were accepted.
	CloneErrAuth
	// CloneErrRepoNotFound: wrong URL, or a private repository.
	CloneErrRepoNotFound
	// CloneErrRefNotFound: the repository exists but the @ref does not.
	CloneErrRefNotFound
	CloneErrNetwork
	// CloneErrSSHKey: no usable SSH key was offered.
	CloneErrSSHKey
	// CloneErrHostKey: the SSH host is not in known_hosts.
	CloneErrHostKey
	CloneErrCanceled
)

var cloneErrorLabels = map[CloneErrorKind]string{
	CloneErrUnknown:      "unexpected git failure",
	CloneErrAuth:         "authentication required",
	CloneErrRepoNotFound: "repository not found",
	CloneErrRefNotFound:  "ref not found",
	CloneErrNetwork:      "remote unreachable",
	CloneErrSSHKey:       "ssh key rejected",
	CloneErrHostKey:      "unknown ssh host",
	CloneErrCanceled:     "canceled",
}

func (k CloneErrorKind) String() string {
	if s, ok := cloneErrorLabels[k]; ok {
		return s
	}
	return cloneErrorLabels[CloneErrUnknown]
}

// CloneError is a failed git command against a remote, classified from its
// output. Hints are shown to the user under the error.
type CloneError struct {
	Kind      CloneErrorKind
	Protocol  string // https, ssh or file
	URL       string
	Command   string
	RawOutput string
	Hints     []string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.verb(), e.Kind, e.summary())
}

func (e *CloneError) verb() string {
	if f := strings.Fields(e.Command); len(f) >= 2 {
		return f[0] + " " + f[1]
	}
	return "git"
}

// summary is the most telling line of git's output: the first fatal line,
// else the first line that is not progress noise.
func (e *CloneError) summary() string {
	var first string
	for _, line := range strings.Split(e.RawOutput, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "", strings.HasPrefix(line, "Cloning into"):
			continue
		case strings.HasPrefix(line, "fatal:"):
			return line
		case first == "":
			first = line
		}
	}
	if first == "" {
		return "git printed nothing"
	}
	return first
}

// cloneErrorPatterns is checked in order; the first kind with a matching
// fragment wins. Ref errors come before repository errors because git
// reports a missing branch as "... not found in upstream origin".
var cloneErrorPatterns = []struct {
	kind      CloneErrorKind
	fragments []string
}{
	{CloneErrCanceled, []string{"signal: killed", "context canceled", "context deadline exceeded"}},
	{CloneErrSSHKey, []string{"permission denied (publickey)", "no such identity", "load key", "identity file"}},
	{CloneErrHostKey, []string{"host key verification failed", "known_hosts"}},
	{CloneErrAuth, []string{
		"could not read username", "could not read password", "authentication failed",
		"invalid credentials", "logon failed", "returned error: 401", "returned error: 403",
	}},
	{CloneErrRefNotFound, []string{"remote branch", "couldn't find remote ref", "not our ref", "unadvertised object"}},
	{CloneErrRepoNotFound, []string{"repository not found", "does not appear to be a git repository", "does not exist", "not found"}},
	{CloneErrNetwork, []string{
		"could not resolve host", "name or service not known", "connection refused",
		"connection timed out", "network is unreachable", "no route to host",
	}},
}

// ClassifyCloneError builds a CloneError from the output of a failed git
// command run against url.
func ClassifyCloneError(url, command, output string) *CloneError {
	kind := classifyOutput(output)
	protocol := detectProtocol(url)
	return &CloneError{
		Kind:      kind,
		Protocol:  protocol,
		URL:       url,
		Command:   command,
		RawOutput: strings.TrimSpace(output),
		Hints:     cloneHints(kind, protocol, url),
	}
}

func classifyOutput(output string) CloneErrorKind {
	lower := strings.ToLower(output)
	for _, p := range cloneErrorPatterns {
		for _, f := range p.fragments {
			if strings.Contains(lower, f) {
				return p.kind
			}
		}
	}
	return CloneErrUnknown
}

func detectProtocol(url string) string {
	switch {
	case strings.HasPrefix(url, "file://"), strings.HasPrefix(url, "/"):
		return "file"
	case strings.HasPrefix(url, "ssh://"), strings.Contains(url, "@") && !strings.Contains(url, "://"):
		return "ssh"
	default:
		return "https"
	}
}

// cloneHints suggests next steps in terms of source references and the
// settings in config.json.
func cloneHints(kind CloneErrorKind, protocol, url string) []string {
	var hints []string
	switch kind {
	case CloneErrAuth:
		hints = append(hints,
			"git runs without a terminal, so credentials must come from a credential helper (git config --global credential.helper)")
		if alt := alternateURL(url); alt != "" && protocol == "https" {
			hints = append(hints, fmt.Sprintf("with an SSH key set up, reference the repository as git+%s", alt))
		}
		hints = append(hints, fmt.Sprintf(`or point "settings.cloneURLOverrides" in config.json at a mirror of %s`, url))
	case CloneErrSSHKey:
		hints = append(hints, "check that ssh-agent holds a key for this host (ssh-add -l)")
		if alt := alternateURL(url); alt != "" && protocol == "ssh" {
			hints = append(hints, fmt.Sprintf("or reference the repository over HTTPS as git+%s", alt))
		}
	case CloneErrHostKey:
		hints = append(hints, fmt.Sprintf("add the host key first: ssh-keyscan %s >> ~/.ssh/known_hosts", hostOf(url)))
	case CloneErrRepoNotFound:
		hints = append(hints,
			fmt.Sprintf("check the repository URL %s in the source reference", url),
			"private repositories report not found when credentials are missing")
	case CloneErrRefNotFound:
		hints = append(hints,
			"the @<ref> of the source names no branch, tag or commit on the remote",
			fmt.Sprintf("list what exists with: git ls-remote %s", url))
	case CloneErrNetwork:
		hints = append(hints,
			fmt.Sprintf("%s could not be reached; retry once the network is back", hostOf(url)),
			`a reachable mirror can be configured in "settings.cloneURLOverrides"`)
	case CloneErrCanceled:
	default:
		hints = append(hints, "run the git command above by hand to see the full output")
	}
	return hints
}

// alternateURL flips a remote between its HTTPS and scp-like SSH forms:
// https://host/owner/repo <-> git@host:owner/repo.git. It returns "" when url
// has neither form.
func alternateURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		host, path, ok := strings.Cut(rest, "/")
		if !ok || path == "" || strings.Contains(host, "@") {
			return ""
		}
		if !strings.HasSuffix(path, ".git") {
			path += ".git"
		}
		return "git@" + host + ":" + path
	}
	if rest, ok := strings.CutPrefix(url, "git@"); ok {
		host, path, ok := strings.Cut(rest, ":")
		if !ok || path == "" {
			return ""
		}
		return "https://" + host + "/" + path
	}
	return ""
}

func hostOf(url string) string {
	rest := url
	if _, after, ok := strings.Cut(url, "://"); ok {
		rest = after
	}
	if _, after, ok := strings.Cut(rest, "@"); ok {
		rest = after
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, ":")
	if host == "" {
		return url
	}
	return host
}
