package llm

import (
	"fmt"
	"strings"

	llmclient "setupguide/internal/llm/client"
)

// ExhaustedError is the single error Invoke fails with once no candidate
// model is left to try, or when a call aborted the whole run.
type ExhaustedError struct {
	// Models lists every model that was called, in order.
	Models []string
	Last   *llmclient.CallError
	// Aborted is true when Last stopped the run early (bad credential or an
	// unclassified failure) instead of the queue running dry.
	Aborted bool
}

func (e *ExhaustedError) Error() string {
	verb := "all models exhausted"
	if e.Aborted {
		verb = "aborted"
	}
	msg := fmt.Sprintf("llm: %s after trying [%s]", verb, strings.Join(e.Models, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}
