package llm

import (
	llmclient "setupguide/internal/llm/client"
)

// step is what the loop does after an attempt.
type step int

const (
	stepDone    step = iota // return the completion
	stepRetry               // same model, next attempt after backoff
	stepAdvance             // next model, attempt counter reset
	stepAbort               // stop the whole run
)

func (s step) String() string {
	switch s {
	case stepDone:
		return "done"
	case stepRetry:
		return "retry"
	case stepAdvance:
		return "advance"
	case stepAbort:
		return "abort"
	}
	return "unknown"
}

// run is the state of one Invoke: a model queue and an attempt counter.
type run struct {
	engine *Engine
	req    Request
	gen    llmclient.Generator

	queue   []string
	idx     int
	attempt int

	tried    []string
	attempts []Attempt
	last     *llmclient.CallError
	text     string
}

func (r *run) advance() {
	r.idx++
	r.attempt = 0
}

func (r *run) dispatch(ce *llmclient.CallError) step {
	r.last = ce
	switch ce.Kind {
	case llmclient.KindInvalidCredential:
		return r.onInvalidCredential(ce)
	case llmclient.KindModelUnavailable:
		return r.onModelUnavailable(ce)
	case llmclient.KindRateLimited:
		return r.onRateLimited(ce)
	case llmclient.KindTransient:
		return r.onTransient(ce)
	case llmclient.KindTimeout:
		return r.onTimeout(ce)
	case llmclient.KindBlocked, llmclient.KindEmptyResponse:
		return r.onBlocked(ce)
	default:
		return r.onUnclassified(ce)
	}
}

func (r *run) onSuccess(c llmclient.Completion) step {
	r.text = c.Text
	return stepDone
}

// The key itself was rejected; no other model will accept it either.
func (r *run) onInvalidCredential(*llmclient.CallError) step { return stepAbort }

func (r *run) onModelUnavailable(*llmclient.CallError) step { return stepAdvance }

func (r *run) onRateLimited(*llmclient.CallError) step { return stepAdvance }

// onTransient retries the same model until the attempt limit, then moves on.
func (r *run) onTransient(*llmclient.CallError) step {
	if r.attempt < r.engine.cfg.MaxAttempts {
		return stepRetry
	}
	return stepAdvance
}

// A timed-out model forfeits its remaining attempts.
func (r *run) onTimeout(*llmclient.CallError) step { return stepAdvance }

// onBlocked covers non-STOP finishes and empty completions. Retrying the
// same prompt on the same model would end the same way.
func (r *run) onBlocked(*llmclient.CallError) step { return stepAdvance }

func (r *run) onUnclassified(*llmclient.CallError) step { return stepAbort }
