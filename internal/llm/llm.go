// Package llm drives a prompt through an ordered list of candidate models
// until one of them returns a usable completion.
package llm

import (
	"time"

	llmclient "setupguide/internal/llm/client"
)

// Request is one invocation. Model is optional and, when set, is tried
// before anything else.
type Request struct {
	Credential string
	Model      string
	Prompt     string
}

// Response carries the winning completion text and the model that produced it.
type Response struct {
	Text     string
	Model    string
	Attempts []Attempt
}

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableError   Outcome = "retryable-error"
	OutcomeFatalError       Outcome = "fatal-error"
	OutcomeModelUnavailable Outcome = "model-unavailable"
)

// Attempt records a single call for observability and tests.
type Attempt struct {
	Model   string
	Number  int
	Outcome Outcome
	// Kind is empty on success.
	Kind    llmclient.Kind
	Elapsed time.Duration
	Err     error
}

// AttemptObserver receives every Attempt as soon as it finishes.
type AttemptObserver func(Attempt)
