// Package github lists and fetches repository content through the GitHub
// REST API.
package github

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidRef is returned for anything that is not a GitHub repository
// reference.
var ErrInvalidRef = errors.New("github: invalid repository reference")

// Ref identifies a repository.
type Ref struct {
	Owner string
	Name  string
}

func (r Ref) String() string { return r.Owner + "/" + r.Name }

// URL is the repository's web address.
func (r Ref) URL() string { return "https://github.com/" + r.String() }

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ParseRef accepts https://github.com/o/r[.git][/tree/...], github.com/o/r,
// git@github.com:o/r.git and the bare o/r shorthand.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, fmt.Errorf("%w: empty", ErrInvalidRef)
	}

	var repoPath string
	switch {
	case strings.HasPrefix(raw, "git@github.com:"):
		repoPath = strings.TrimPrefix(raw, "git@github.com:")
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %v", ErrInvalidRef, err)
		}
		host := strings.ToLower(strings.TrimSpace(u.Host))
		if host != "github.com" && host != "www.github.com" {
			return Ref{}, fmt.Errorf("%w: only github.com is supported, got %q", ErrInvalidRef, u.Host)
		}
		repoPath = u.Path
	case strings.HasPrefix(strings.ToLower(raw), "github.com/"), strings.HasPrefix(strings.ToLower(raw), "www.github.com/"):
		repoPath = raw[strings.Index(raw, "/")+1:]
	default:
		if strings.Count(strings.Trim(raw, "/"), "/") != 1 {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
		}
		repoPath = raw
	}

	owner, name, ok := splitOwnerRepo(repoPath)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
	return Ref{Owner: owner, Name: name}, nil
}

// splitOwnerRepo keeps the first two path segments; anything after them
// (tree/<branch>, blob/..., issues) is ignored.
func splitOwnerRepo(repoPath string) (owner, name string, ok bool) {
	parts := strings.Split(strings.Trim(repoPath, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	owner = strings.TrimSpace(parts[0])
	name = strings.TrimSuffix(strings.TrimSpace(parts[1]), ".git")
	if !segmentRe.MatchString(owner) || !segmentRe.MatchString(name) || name == "." || name == ".." {
		return "", "", false
	}
	return owner, name, true
}
