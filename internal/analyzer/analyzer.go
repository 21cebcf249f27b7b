// Package analyzer turns a repository reference into a setup guide: it
// lists the tree, selects files under a token budget, fetches them, asks a
// model and parses the answer.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"setupguide/internal/github"
	"setupguide/internal/guide"
	"setupguide/internal/llm"
	llmclient "setupguide/internal/llm/client"
	"setupguide/internal/scan"
)

const (
	DefaultMaxRepoBytes   int64 = 100 << 20
	DefaultAsyncThreshold int64 = 20 << 20
)

// RepoHost lists repositories.
type RepoHost interface {
	Repo(ctx context.Context, ref github.Ref, token string) (github.Repository, error)
	Tree(ctx context.Context, ref github.Ref, treeish, token string) (github.Listing, error)
}

type ContentFetcher interface {
	Fetch(ctx context.Context, ref github.Ref, entries []scan.Entry, token string) ([]github.FetchedFile, error)
}

type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (llm.Response, error)
}

type Config struct {
	// Budget is the selector's token budget; <= 0 means scan.DefaultBudget.
	Budget int
	// MaxRepoBytes rejects repositories above this size; <= 0 means 100MB.
	MaxRepoBytes int64
	Weights      scan.Weights
}

// Options are per-request inputs.
type Options struct {
	ModelCredential string
	RepoToken       string
	TargetOS        string
	// Model, when set, is tried before the memoized and fallback models.
	Model string
}

// Report is a finished analysis.
type Report struct {
	Repo        string        `json:"repo"`
	Result      guide.Result  `json:"result"`
	Model       string        `json:"model"`
	Selected    int           `json:"selectedFiles"`
	Fetched     int           `json:"fetchedFiles"`
	TotalTokens int           `json:"estimatedTokens"`
	Truncated   bool          `json:"listingTruncated"`
	Attempts    []llm.Attempt `json:"-"`
}

// Plan is everything decided before any content is fetched.
type Plan struct {
	Ref       github.Ref
	Repo      github.Repository
	Listing   github.Listing
	Selection scan.Selection
}

// Async reports whether the repository is big enough to be queued instead of
// answered inline. threshold <= 0 never queues.
func (p Plan) Async(threshold int64) bool {
	return threshold > 0 && p.Repo.SizeBytes() >= threshold
}

type Analyzer struct {
	host     RepoHost
	fetcher  ContentFetcher
	invoker  Invoker
	selector *scan.Selector
	budget   int
	maxBytes int64
}

func New(cfg Config, host RepoHost, fetcher ContentFetcher, invoker Invoker) *Analyzer {
	if cfg.Budget <= 0 {
		cfg.Budget = scan.DefaultBudget
	}
	if cfg.MaxRepoBytes <= 0 {
		cfg.MaxRepoBytes = DefaultMaxRepoBytes
	}
	if cfg.Weights == (scan.Weights{}) {
		cfg.Weights = scan.DefaultWeights()
	}
	return &Analyzer{
		host:     host,
		fetcher:  fetcher,
		invoker:  invoker,
		selector: scan.NewSelector(cfg.Weights),
		budget:   cfg.Budget,
		maxBytes: cfg.MaxRepoBytes,
	}
}

// Analyze runs the whole pipeline.
func (a *Analyzer) Analyze(ctx context.Context, rawRef string, opts Options) (Report, error) {
	plan, err := a.Plan(ctx, rawRef, opts.RepoToken)
	if err != nil {
		return Report{}, err
	}
	return a.Run(ctx, plan, opts)
}

// Plan parses the reference, checks the size ceiling, lists the tree and
// selects files.
func (a *Analyzer) Plan(ctx context.Context, rawRef, repoToken string) (Plan, error) {
	ref, err := github.ParseRef(rawRef)
	if err != nil {
		return Plan{}, newError(KindInvalidReference, "", err)
	}
	repo, err := a.host.Repo(ctx, ref, repoToken)
	if err != nil {
		return Plan{}, hostError(ctx, ref, err)
	}
	if repo.SizeBytes() > a.maxBytes {
		return Plan{}, newError(KindTooLarge, fmt.Sprintf("%s is %d MB, limit is %d MB", ref, repo.SizeBytes()>>20, a.maxBytes>>20), nil)
	}
	treeish := repo.DefaultBranch
	if treeish == "" {
		treeish = "HEAD"
	}
	listing, err := a.host.Tree(ctx, ref, treeish, repoToken)
	if err != nil {
		return Plan{}, hostError(ctx, ref, err)
	}
	if listing.Truncated {
		log.Printf("analyzer: %s: tree listing truncated at %d entries", ref, len(listing.Entries))
	}
	sel := a.selector.Select(listing.Entries, a.budget)
	log.Printf("analyzer: %s: selected %d of %d files (%d tokens of %d)", ref, len(sel.Files), len(listing.Entries), sel.TotalTokens, a.budget)
	return Plan{Ref: ref, Repo: repo, Listing: listing, Selection: sel}, nil
}

// Run fetches, prompts and parses for an existing plan.
func (a *Analyzer) Run(ctx context.Context, plan Plan, opts Options) (Report, error) {
	start := time.Now()
	if len(plan.Selection.Files) == 0 {
		return Report{}, newError(KindNoContent, fmt.Sprintf("%s has no selectable text files", plan.Ref), nil)
	}
	files, err := a.fetcher.Fetch(ctx, plan.Ref, plan.Selection.Entries(), opts.RepoToken)
	if err != nil {
		return Report{}, err
	}
	if len(files) == 0 {
		return Report{}, newError(KindNoContent, fmt.Sprintf("none of %d selected files could be fetched", len(plan.Selection.Files)), nil)
	}

	in := guide.PromptInput{
		Repo:        plan.Ref.String(),
		Description: plan.Repo.Description,
		TargetOS:    opts.TargetOS,
		Truncated:   plan.Listing.Truncated,
		Files:       make([]guide.File, 0, len(files)),
	}
	for _, f := range files {
		in.Files = append(in.Files, guide.File{Path: f.Path, Content: f.Content})
	}

	resp, err := a.invoker.Invoke(ctx, llm.Request{
		Credential: opts.ModelCredential,
		Model:      opts.Model,
		Prompt:     guide.ComposePrompt(in),
	})
	if err != nil {
		return Report{}, invokeError(err)
	}

	result, err := guide.Parse(resp.Text)
	if err != nil {
		return Report{}, newError(KindMalformedOutput, "model "+resp.Model, err)
	}
	log.Printf("analyzer: %s: guide from %s in %s", plan.Ref, resp.Model, time.Since(start).Round(time.Millisecond))
	return Report{
		Repo:        plan.Ref.String(),
		Result:      result,
		Model:       resp.Model,
		Selected:    len(plan.Selection.Files),
		Fetched:     len(files),
		TotalTokens: plan.Selection.TotalTokens,
		Truncated:   plan.Listing.Truncated,
		Attempts:    resp.Attempts,
	}, nil
}

func hostError(ctx context.Context, ref github.Ref, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var se *github.StatusError
	switch {
	case errors.Is(err, github.ErrRateLimited):
		e := newError(KindRateLimited, "repository host rate limit; supply a GitHub token", err)
		if errors.As(err, &se) {
			e.ResetAt = se.ResetAt
		}
		return e
	case errors.Is(err, github.ErrUnauthorized):
		return newError(KindNotFound, ref.String()+": repository token rejected", err)
	default:
		return newError(KindNotFound, ref.String(), err)
	}
}

func invokeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var ex *llm.ExhaustedError
		if !errors.As(err, &ex) {
			return err
		}
	}
	if errors.Is(err, llmclient.ErrInvalidCredential) {
		return newError(KindInvalidCredential, "the model API key was rejected", err)
	}
	return newError(KindModelsExhausted, "", err)
}
