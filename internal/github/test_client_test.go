package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func b64(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	// GitHub wraps base64 content at 60 columns.
	var b strings.Builder
	for len(enc) > 60 {
		b.WriteString(enc[:60] + "\n")
		enc = enc[60:]
	}
	b.WriteString(enc)
	return b.String()
}

func TestClientRepoTreeBlob(t *testing.T) {
	var auth, query string
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"/repos/octo/hello": func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			writeJSON(w, map[string]any{"full_name": "octo/hello", "default_branch": "trunk", "size": 2048, "private": false})
		},
		"/repos/octo/hello/git/trees/trunk": func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.RawQuery
			writeJSON(w, map[string]any{
				"sha":       "t1",
				"truncated": true,
				"tree": []any{
					map[string]any{"path": "README.md", "type": "blob", "sha": "b1", "size": 12},
					map[string]any{"path": "src", "type": "tree", "sha": "t2"},
					map[string]any{"path": "lfs.bin", "type": "blob", "sha": "b2"},
					map[string]any{"path": "vendor/mod", "type": "commit", "sha": "c1"},
				},
			})
		},
		"/repos/octo/hello/git/blobs/b1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"encoding": "base64", "content": b64("# Hello, 世界 — a long enough readme to wrap the base64 body")})
		},
	})
	c := NewClient(srv.Client(), srv.URL+"/")
	ctx := context.Background()
	ref := Ref{Owner: "octo", Name: "hello"}

	repo, err := c.Repo(ctx, ref, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "trunk", repo.DefaultBranch)
	assert.Equal(t, int64(2048*1024), repo.SizeBytes())

	listing, err := c.Tree(ctx, ref, repo.DefaultBranch, "")
	require.NoError(t, err)
	assert.Equal(t, "recursive=1", query)
	assert.True(t, listing.Truncated)
	require.Len(t, listing.Entries, 2)
	assert.Equal(t, "README.md", listing.Entries[0].Path)
	require.NotNil(t, listing.Entries[0].Size)
	assert.Equal(t, int64(12), *listing.Entries[0].Size)
	assert.Nil(t, listing.Entries[1].Size, "missing size must stay unknown")

	text, err := c.Blob(ctx, ref, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, "# Hello, 世界 — a long enough readme to wrap the base64 body", text)
}

func TestClientStatusErrors(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()
	srv := fakeAPI(t, map[string]http.HandlerFunc{
		"/repos/octo/limited": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", jsonNumber(reset))
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded for 1.2.3.4."}`))
		},
		"/repos/octo/forbidden": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Resource not accessible"}`))
		},
		"/repos/octo/badtoken": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		},
	})
	c := NewClient(srv.Client(), srv.URL)
	ctx := context.Background()

	_, err := c.Repo(ctx, Ref{Owner: "octo", Name: "missing"}, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Repo(ctx, Ref{Owner: "octo", Name: "forbidden"}, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Repo(ctx, Ref{Owner: "octo", Name: "badtoken"}, "x")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Repo(ctx, Ref{Owner: "octo", Name: "limited"}, "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrNotFound)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, reset, se.ResetAt.Unix())
	assert.Contains(t, se.Error(), "rate limit")
}

func jsonNumber(n int64) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func TestDecodeContent(t *testing.T) {
	got, err := decodeContent(b64("hi"), "base64")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = decodeContent("!!!", "base64")
	assert.Error(t, err)

	_, err = decodeContent(base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00}), "base64")
	assert.Error(t, err, "binary payloads are rejected")

	_, err = decodeContent("x", "rot13")
	assert.Error(t, err)
}
