package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"setupguide/internal/cache"
	llmclient "setupguide/internal/llm/client"
)

const (
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 60 * time.Second
	DefaultBaseDelay   = time.Second
	DefaultMemoTTL     = 24 * time.Hour
)

type Config struct {
	// MaxAttempts caps tries per model.
	MaxAttempts int
	// CallTimeout bounds each individual call.
	CallTimeout time.Duration
	// BaseDelay is multiplied by the attempt number between retries.
	BaseDelay time.Duration
	// MemoTTL is how long a winning model stays first in line for its
	// credential.
	MemoTTL time.Duration
	// Fallbacks is tried after the requested and memoized models. Empty means
	// the default Gemini catalog order.
	Fallbacks []string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	} else if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MemoTTL <= 0 {
		c.MemoTTL = DefaultMemoTTL
	}
	if len(c.Fallbacks) == 0 {
		c.Fallbacks = llmclient.DefaultCatalog("").Fallbacks()
	}
	return c
}

// Engine is safe for concurrent use; each Invoke keeps its own state.
type Engine struct {
	cfg     Config
	clients llmclient.Source
	memo    cache.KV

	// Sleep waits between retries. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Observer, when set, sees every attempt. nil logs them.
	Observer AttemptObserver
	now      func() time.Time
}

// NewEngine builds an Engine. memo may be nil, which disables the
// last-working-model shortcut.
func NewEngine(cfg Config, clients llmclient.Source, memo cache.KV) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		clients: clients,
		memo:    memo,
		Sleep:   sleepCtx,
		now:     time.Now,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Invoke runs req through the candidate queue. It returns the first
// completion that passes validation, or an *ExhaustedError. If ctx itself is
// cancelled the context error is returned as is.
func (e *Engine) Invoke(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, errors.New("llm: empty prompt")
	}
	r := &run{engine: e, req: req}
	gen, err := e.clients.Client(ctx, req.Credential)
	if err != nil {
		ce := llmclient.Classify("", err)
		return Response{}, e.fail(ctx, r, ce, true)
	}
	r.gen = gen
	r.queue = e.candidates(ctx, req)

	for r.idx < len(r.queue) {
		model := r.queue[r.idx]
		r.attempt++
		if r.attempt == 1 {
			r.tried = append(r.tried, model)
		}

		start := e.now()
		comp, ce := e.call(ctx, gen, model, req.Prompt)
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if ce == nil {
			ce = validate(model, comp)
		}

		var next step
		if ce == nil {
			next = r.onSuccess(comp)
		} else {
			next = r.dispatch(ce)
		}
		e.observe(r, model, ce, next, e.now().Sub(start))

		switch next {
		case stepDone:
			e.remember(ctx, req.Credential, model)
			return Response{Text: r.text, Model: model, Attempts: r.attempts}, nil
		case stepRetry:
			if err := e.Sleep(ctx, e.cfg.BaseDelay*time.Duration(r.attempt)); err != nil {
				return Response{}, err
			}
		case stepAdvance:
			r.advance()
		case stepAbort:
			return Response{}, e.fail(ctx, r, ce, true)
		}
	}
	return Response{}, e.fail(ctx, r, r.last, false)
}

// candidates is requested model, then the memoized one, then the fallbacks,
// keeping the first occurrence of each.
func (e *Engine) candidates(ctx context.Context, req Request) []string {
	seen := map[string]bool{}
	var out []string
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}
	add(req.Model)
	add(e.recall(ctx, req.Credential))
	for _, m := range e.cfg.Fallbacks {
		add(m)
	}
	return out
}

// call issues one bounded request and classifies its failure.
func (e *Engine) call(ctx context.Context, gen llmclient.Generator, model, prompt string) (llmclient.Completion, *llmclient.CallError) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	comp, err := gen.Generate(callCtx, model, prompt)
	if err == nil {
		return comp, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return comp, &llmclient.CallError{
			Kind:    llmclient.KindTimeout,
			Model:   model,
			Message: fmt.Sprintf("no response within %s", e.cfg.CallTimeout),
			Err:     err,
		}
	}
	return comp, llmclient.Classify(model, err)
}

// validate rejects completions that arrived without error but are unusable.
func validate(model string, c llmclient.Completion) *llmclient.CallError {
	if c.Candidates == 0 {
		msg := "response has no candidates"
		if c.BlockReason != "" {
			return &llmclient.CallError{Kind: llmclient.KindBlocked, Model: model, Message: "prompt blocked: " + c.BlockReason, FinishReason: c.BlockReason}
		}
		return &llmclient.CallError{Kind: llmclient.KindEmptyResponse, Model: model, Message: msg}
	}
	if !strings.EqualFold(c.FinishReason, "STOP") {
		return &llmclient.CallError{Kind: llmclient.KindBlocked, Model: model, Message: "finish reason " + c.FinishReason, FinishReason: c.FinishReason}
	}
	if strings.TrimSpace(c.Text) == "" {
		return &llmclient.CallError{Kind: llmclient.KindEmptyResponse, Model: model, Message: "response text is empty", FinishReason: c.FinishReason}
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, r *run, last *llmclient.CallError, aborted bool) error {
	e.forget(ctx, r.req.Credential)
	return &ExhaustedError{Models: r.tried, Last: last, Aborted: aborted}
}

func (e *Engine) observe(r *run, model string, ce *llmclient.CallError, next step, elapsed time.Duration) {
	a := Attempt{Model: model, Number: r.attempt, Elapsed: elapsed, Outcome: outcomeFor(ce, next)}
	if ce != nil {
		a.Kind = ce.Kind
		a.Err = ce
	}
	r.attempts = append(r.attempts, a)
	if e.Observer != nil {
		e.Observer(a)
		return
	}
	if ce != nil {
		log.Printf("llm: %s attempt %d %s (%s): %v", model, a.Number, a.Outcome, elapsed.Round(time.Millisecond), ce)
	} else {
		log.Printf("llm: %s attempt %d %s (%s)", model, a.Number, a.Outcome, elapsed.Round(time.Millisecond))
	}
}

func outcomeFor(ce *llmclient.CallError, next step) Outcome {
	switch {
	case ce == nil:
		return OutcomeSuccess
	case next == stepAbort:
		return OutcomeFatalError
	case ce.Kind == llmclient.KindTransient:
		return OutcomeRetryableError
	default:
		return OutcomeModelUnavailable
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
