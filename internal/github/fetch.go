package github

import (
	"context"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"setupguide/internal/scan"
)

const (
	DefaultBatchSize = 50
	// DefaultMaxChars caps each fetched file, counted in characters.
	DefaultMaxChars = scan.DefaultMaxFileChars
)

// BlobGetter is the slice of Client the Fetcher needs.
type BlobGetter interface {
	Blob(ctx context.Context, ref Ref, sha, token string) (string, error)
}

// FetchedFile is an entry with its text. Content never exceeds the
// fetcher's MaxChars characters.
type FetchedFile struct {
	scan.Entry
	Content   string
	Truncated bool
}

type FetcherOption func(*Fetcher)

func WithBatchSize(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

func WithMaxChars(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithBlobCache keeps up to size decoded blobs keyed by sha. Blobs are
// content-addressed, so entries never go stale.
func WithBlobCache(size int) FetcherOption {
	return func(f *Fetcher) {
		if size <= 0 {
			f.blobs = nil
			return
		}
		c, err := lru.New[string, string](size)
		if err == nil {
			f.blobs = c
		}
	}
}

// Fetcher retrieves file contents in bounded batches.
type Fetcher struct {
	blobsAPI  BlobGetter
	batchSize int
	maxChars  int
	blobs     *lru.Cache[string, string]
}

func NewFetcher(api BlobGetter, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{blobsAPI: api, batchSize: DefaultBatchSize, maxChars: DefaultMaxChars}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves every entry. Batches run one after another and the
// entries inside a batch run concurrently. A failed entry is logged and
// left out; the result keeps the input order. Only cancellation of ctx
// is returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref, entries []scan.Entry, token string) ([]FetchedFile, error) {
	slots := make([]*FetchedFile, len(entries))
	failed := 0
	for start := 0; start < len(entries); start += f.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+f.batchSize, len(entries))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				slots[i] = f.fetchOne(ctx, ref, entries[i], token)
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]FetchedFile, 0, len(entries))
	for _, s := range slots {
		if s == nil {
			failed++
			continue
		}
		out = append(out, *s)
	}
	if failed > 0 {
		log.Printf("github: %s: fetched %d/%d files, %d skipped", ref, len(out), len(entries), failed)
	}
	return out, nil
}

// fetchOne returns nil on any failure.
func (f *Fetcher) fetchOne(ctx context.Context, ref Ref, e scan.Entry, token string) *FetchedFile {
	text, ok := f.cached(e.SHA)
	if !ok {
		var err error
		text, err = f.blobsAPI.Blob(ctx, ref, e.SHA, token)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("github: %s: skip %s: %v", ref, e.Path, err)
			}
			return nil
		}
		if f.blobs != nil && e.SHA != "" {
			f.blobs.Add(e.SHA, text)
		}
	}
	content, truncated := Truncate(text, f.maxChars)
	return &FetchedFile{Entry: e, Content: content, Truncated: truncated}
}

func (f *Fetcher) cached(sha string) (string, bool) {
	if f.blobs == nil || sha == "" {
		return "", false
	}
	return f.blobs.Get(sha)
}

// Truncate cuts s to at most maxChars characters without splitting a rune.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(s) <= maxChars {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i], true
		}
		n++
	}
	return s, false
}
