package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"setupguide/internal/scan"
)

const (
	DefaultBaseURL = "https://api.github.com"
	// maxResponseBytes bounds any single API response body.
	maxResponseBytes = 32 << 20
)

var (
	// ErrNotFound covers missing repositories and private ones the token
	// cannot see; GitHub answers both with 404.
	ErrNotFound     = errors.New("github: repository not found or private")
	ErrUnauthorized = errors.New("github: token rejected")
	ErrRateLimited  = errors.New("github: api rate limit exceeded")
)

// StatusError is a non-2xx API answer.
type StatusError struct {
	StatusCode int
	Message    string
	// ResetAt is set from X-RateLimit-Reset when the answer was a rate limit.
	ResetAt time.Time
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github: %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound || (e.StatusCode == http.StatusForbidden && e.ResetAt.IsZero())
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode == http.StatusForbidden && !e.ResetAt.IsZero())
	}
	return false
}

// Repository is the subset of repository metadata the analyzer needs.
type Repository struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	// SizeKiB is GitHub's reported repository size in kilobytes.
	SizeKiB int64 `json:"size"`
	Private bool  `json:"private"`
}

// SizeBytes converts SizeKiB.
func (r Repository) SizeBytes() int64 { return r.SizeKiB * 1024 }

// Listing is a flat recursive tree.
type Listing struct {
	SHA     string
	Entries []scan.Entry
	// Truncated means GitHub cut the listing short.
	Truncated bool
}

// Client talks to the REST API. The zero value is not usable; use NewClient.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewClient returns a Client. A nil httpClient gets a 30s timeout; an empty
// baseURL means api.github.com.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, userAgent: "setupguide"}
}

func (c *Client) Repo(ctx context.Context, ref Ref, token string) (Repository, error) {
	var out Repository
	err := c.getJSON(ctx, token, &out, nil, "repos", ref.Owner, ref.Name)
	return out, err
}

type treeResponse struct {
	SHA       string `json:"sha"`
	Truncated bool   `json:"truncated"`
	Tree      []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
		Size *int64 `json:"size"`
		URL  string `json:"url"`
	} `json:"tree"`
}

// Tree lists every blob reachable from treeish (a branch, tag or sha).
func (c *Client) Tree(ctx context.Context, ref Ref, treeish, token string) (Listing, error) {
	var resp treeResponse
	if err := c.getJSON(ctx, token, &resp, url.Values{"recursive": {"1"}}, "repos", ref.Owner, ref.Name, "git", "trees", treeish); err != nil {
		return Listing{}, err
	}
	out := Listing{SHA: resp.SHA, Truncated: resp.Truncated, Entries: make([]scan.Entry, 0, len(resp.Tree))}
	for _, it := range resp.Tree {
		if it.Type != "blob" {
			continue
		}
		out.Entries = append(out.Entries, scan.Entry{Path: it.Path, Size: it.Size, SHA: it.SHA, URL: it.URL})
	}
	return out, nil
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Blob returns the UTF-8 text of a blob. Non-text content is an error.
func (c *Client) Blob(ctx context.Context, ref Ref, sha, token string) (string, error) {
	var resp blobResponse
	if err := c.getJSON(ctx, token, &resp, nil, "repos", ref.Owner, ref.Name, "git", "blobs", sha); err != nil {
		return "", err
	}
	return decodeContent(resp.Content, resp.Encoding)
}

func decodeContent(content, encoding string) (string, error) {
	var raw []byte
	switch strings.ToLower(encoding) {
	case "base64":
		var err error
		raw, err = base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(content))
		if err != nil {
			return "", fmt.Errorf("github: decode blob: %w", err)
		}
	case "utf-8", "utf8", "":
		raw = []byte(content)
	default:
		return "", fmt.Errorf("github: unsupported blob encoding %q", encoding)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("github: blob is not UTF-8 text")
	}
	return string(raw), nil
}

func (c *Client) getJSON(ctx context.Context, token string, dst any, query url.Values, segments ...string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("github: invalid base URL: %w", err)
	}
	u = u.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s: %w", u.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("github: read %s: %w", u.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("github: decode %s: %w", u.Path, err)
	}
	return nil
}

func statusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		se.Message = payload.Message
	}
	limited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.Header.Get("X-RateLimit-Remaining") == "0" ||
		strings.Contains(strings.ToLower(se.Message), "rate limit")
	if limited {
		se.ResetAt = time.Now().Add(time.Minute)
		if secs, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && secs > 0 {
			se.ResetAt = time.Unix(secs, 0)
		}
	}
	return se
}
