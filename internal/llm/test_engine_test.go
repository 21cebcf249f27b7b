package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	genai "google.golang.org/genai"

	"setupguide/internal/cache"
	"setupguide/internal/cache/memory"
	llmclient "setupguide/internal/llm/client"
	"setupguide/internal/tester"
)

// scripted answers calls per model from a queue of canned results. A model
// with an exhausted script answers with a clean STOP completion.
type scripted struct {
	mu    sync.Mutex
	calls []string
	plan  map[string][]result
}

type result struct {
	comp llmclient.Completion
	err  error
}

func ok(text string) result {
	return result{comp: llmclient.Completion{Candidates: 1, FinishReason: "STOP", Text: text}}
}

func fail(code int, msg string) result {
	return result{err: genai.APIError{Code: code, Message: msg}}
}

func (s *scripted) Generate(ctx context.Context, model, prompt string) (llmclient.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, model)
	q := s.plan[model]
	if len(q) == 0 {
		return ok("answer from " + model).comp, nil
	}
	next := q[0]
	s.plan[model] = q[1:]
	return next.comp, next.err
}

func newTestEngine(t *testing.T, gen llmclient.Generator, memo cache.KV, fallbacks ...string) (*Engine, *[]time.Duration) {
	t.Helper()
	src := llmclient.SourceFunc(func(context.Context, string) (llmclient.Generator, error) { return gen, nil })
	e := NewEngine(Config{Fallbacks: fallbacks, BaseDelay: 100 * time.Millisecond}, src, memo)
	var slept []time.Duration
	e.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	e.Observer = func(Attempt) {}
	return e, &slept
}

func TestInvokeCredentialErrorAbortsImmediately(t *testing.T) {
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(400, "API key not valid. Please pass a valid API key.")},
	}}
	e, _ := newTestEngine(t, gen, nil, "model-a", "model-b", "model-c")

	_, err := e.Invoke(context.Background(), Request{Credential: "k", Prompt: "p"})
	tester.ErrIs(t, err, llmclient.ErrInvalidCredential)
	var ex *ExhaustedError
	tester.True(t, errors.As(err, &ex))
	tester.True(t, ex.Aborted)
	tester.Eq(t, gen.calls, []string{"model-a"})
}

func TestInvokeRetriesTransientOnSameModel(t *testing.T) {
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(503, "The model is overloaded."), ok(`{"projectOverview":"x"}`)},
	}}
	e, slept := newTestEngine(t, gen, nil, "model-a", "model-b")

	resp, err := e.Invoke(context.Background(), Request{Credential: "k", Prompt: "p"})
	tester.NoErr(t, err)
	tester.Eq(t, resp.Model, "model-a")
	tester.Eq(t, resp.Text, `{"projectOverview":"x"}`)
	tester.Eq(t, gen.calls, []string{"model-a", "model-a"})
	tester.Eq(t, *slept, []time.Duration{100 * time.Millisecond})
	tester.Eq(t, len(resp.Attempts), 2)
	tester.Eq(t, resp.Attempts[0].Outcome, OutcomeRetryableError)
	tester.Eq(t, resp.Attempts[1].Outcome, OutcomeSuccess)
	tester.Eq(t, resp.Attempts[1].Number, 2)
}

func TestInvokeTransientBackoffIsLinearThenFallsBack(t *testing.T) {
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(500, "internal"), fail(502, "bad gateway"), fail(503, "unavailable")},
	}}
	e, slept := newTestEngine(t, gen, nil, "model-a", "model-b")

	resp, err := e.Invoke(context.Background(), Request{Credential: "k", Prompt: "p"})
	tester.NoErr(t, err)
	tester.Eq(t, resp.Model, "model-b")
	tester.Eq(t, gen.calls, []string{"model-a", "model-a", "model-a", "model-b"})
	tester.Eq(t, *slept, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond})
}

func TestInvokeAdvancesWithoutRetry(t *testing.T) {
	cases := []struct {
		name  string
		first result
	}{
		{"model missing", fail(404, "models/model-a is not found")},
		{"rate limited", fail(429, "Resource has been exhausted (e.g. check quota).")},
		{"safety block", result{comp: llmclient.Completion{Candidates: 1, FinishReason: "SAFETY"}}},
		{"no candidates", result{comp: llmclient.Completion{}}},
		{"empty text", result{comp: llmclient.Completion{Candidates: 1, FinishReason: "STOP", Text: "  "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &scripted{plan: map[string][]result{"model-a": {tc.first}}}
			e, slept := newTestEngine(t, gen, nil, "model-a", "model-b")

			resp, err := e.Invoke(context.Background(), Request{Credential: "k", Prompt: "p"})
			tester.NoErr(t, err)
			tester.Eq(t, resp.Model, "model-b")
			tester.Eq(t, gen.calls, []string{"model-a", "model-b"})
			tester.Eq(t, len(*slept), 0)
			tester.Eq(t, resp.Attempts[0].Outcome, OutcomeModelUnavailable)
		})
	}
}

func TestInvokeUnclassifiedIsFatal(t *testing.T) {
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(400, "Invalid JSON payload received.")},
	}}
	e, _ := newTestEngine(t, gen, nil, "model-a", "model-b")

	_, err := e.Invoke(context.Background(), Request{Credential: "k", Prompt: "p"})
	tester.ErrIs(t, err, llmclient.ErrUnclassified)
	tester.Eq(t, gen.calls, []string{"model-a"})
}

func TestInvokeExhaustedNamesEveryModel(t *testing.T) {
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(404, "not found")},
		"model-b": {fail(429, "quota")},
	}}
	e, _ := newTestEngine(t, gen, nil, "model-a", "model-b")

	_, err := e.Invoke(context.Background(), Request{Credential: "k", Prompt: "p"})
	var ex *ExhaustedError
	tester.True(t, errors.As(err, &ex))
	tester.False(t, ex.Aborted)
	tester.Eq(t, ex.Models, []string{"model-a", "model-b"})
	tester.ErrIs(t, err, llmclient.ErrRateLimited)
	tester.True(t, len(ex.Error()) > 0)
}

func TestInvokeTimeoutAdvances(t *testing.T) {
	gen := llmclient.GeneratorFunc(func(ctx context.Context, model, _ string) (llmclient.Completion, error) {
		if model == "slow" {
			<-ctx.Done()
			return llmclient.Completion{}, ctx.Err()
		}
		return ok("fast").comp, nil
	})
	src := llmclient.SourceFunc(func(context.Context, string) (llmclient.Generator, error) { return gen, nil })
	e := NewEngine(Config{Fallbacks: []string{"slow", "quick"}, CallTimeout: 20 * time.Millisecond}, src, nil)
	var seen []Attempt
	e.Observer = func(a Attempt) { seen = append(seen, a) }

	resp, err := e.Invoke(context.Background(), Request{Prompt: "p"})
	tester.NoErr(t, err)
	tester.Eq(t, resp.Model, "quick")
	tester.Eq(t, len(seen), 2)
	tester.Eq(t, seen[0].Kind, llmclient.KindTimeout)
}

func TestInvokeParentCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := llmclient.GeneratorFunc(func(context.Context, string, string) (llmclient.Completion, error) {
		cancel()
		return llmclient.Completion{}, context.Canceled
	})
	src := llmclient.SourceFunc(func(context.Context, string) (llmclient.Generator, error) { return gen, nil })
	e := NewEngine(Config{Fallbacks: []string{"a", "b"}}, src, nil)
	e.Observer = func(Attempt) {}

	_, err := e.Invoke(ctx, Request{Prompt: "p"})
	tester.ErrIs(t, err, context.Canceled)
}

func TestInvokeMemoizesWinningModel(t *testing.T) {
	memo := memory.NewStore(16)
	ctx := context.Background()
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(404, "not found")},
	}}
	e, _ := newTestEngine(t, gen, memo, "model-a", "model-b", "model-c")

	resp, err := e.Invoke(ctx, Request{Credential: "secret", Prompt: "p"})
	tester.NoErr(t, err)
	tester.Eq(t, resp.Model, "model-b")
	raw, hit, err := memo.Get(ctx, cache.LastModelKey("secret"))
	tester.NoErr(t, err)
	tester.True(t, hit)
	tester.Eq(t, string(raw), "model-b")

	// the memoized model now goes first
	gen.calls = nil
	_, err = e.Invoke(ctx, Request{Credential: "secret", Prompt: "p"})
	tester.NoErr(t, err)
	tester.Eq(t, gen.calls, []string{"model-b"})

	// an explicit model still outranks the memo
	gen.calls = nil
	resp, err = e.Invoke(ctx, Request{Credential: "secret", Model: "model-c", Prompt: "p"})
	tester.NoErr(t, err)
	tester.Eq(t, resp.Model, "model-c")
	tester.Eq(t, gen.calls, []string{"model-c"})
}

func TestInvokeTotalFailureForgetsMemo(t *testing.T) {
	memo := memory.NewStore(16)
	ctx := context.Background()
	tester.NoErr(t, memo.Set(ctx, cache.LastModelKey("secret"), []byte("model-b"), time.Hour))
	gen := &scripted{plan: map[string][]result{
		"model-a": {fail(404, "gone")},
		"model-b": {fail(404, "gone")},
	}}
	e, _ := newTestEngine(t, gen, memo, "model-a")

	_, err := e.Invoke(ctx, Request{Credential: "secret", Prompt: "p"})
	tester.True(t, err != nil)
	tester.Eq(t, gen.calls, []string{"model-b", "model-a"})
	_, hit, _ := memo.Get(ctx, cache.LastModelKey("secret"))
	tester.False(t, hit, "memo must be invalidated")
}

func TestInvokeSourceCredentialError(t *testing.T) {
	src := llmclient.SourceFunc(func(ctx context.Context, credential string) (llmclient.Generator, error) {
		return llmclient.NewGeminiClient(ctx, credential, llmclient.GeminiConfig{})
	})
	e := NewEngine(Config{}, src, nil)
	_, err := e.Invoke(context.Background(), Request{Credential: "", Prompt: "p"})
	tester.ErrIs(t, err, llmclient.ErrInvalidCredential)

	_, err = e.Invoke(context.Background(), Request{Credential: "k", Prompt: " "})
	tester.True(t, err != nil, "empty prompt")
}

func TestCandidatesDeduplicate(t *testing.T) {
	memo := memory.NewStore(4)
	ctx := context.Background()
	tester.NoErr(t, memo.Set(ctx, cache.LastModelKey("k"), []byte("b"), time.Hour))
	e := NewEngine(Config{Fallbacks: []string{"a", "b", "c", "a"}}, nil, memo)
	tester.Eq(t, e.candidates(ctx, Request{Credential: "k", Model: "c"}), []string{"c", "b", "a"})
	tester.Eq(t, e.candidates(ctx, Request{}), []string{"a", "b", "c"})
}

func TestDefaultFallbacksComeFromCatalog(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)
	tester.Eq(t, e.Config().Fallbacks, llmclient.DefaultCatalog("").Fallbacks())
	tester.Eq(t, e.Config().MaxAttempts, DefaultMaxAttempts)
	tester.Eq(t, e.Config().CallTimeout, DefaultCallTimeout)
}
