package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	genai "google.golang.org/genai"
)

// Kind tags a failed model call.
type Kind string

const (
	KindInvalidCredential Kind = "invalid-credential"
	KindModelUnavailable  Kind = "model-unavailable"
	KindRateLimited       Kind = "rate-limited"
	KindTransient         Kind = "transient"
	KindTimeout           Kind = "timeout"
	// KindBlocked is a completion that ended for a reason other than STOP.
	KindBlocked Kind = "blocked"
	// KindEmptyResponse is a completion with no candidates or no text.
	KindEmptyResponse Kind = "empty-response"
	KindUnclassified  Kind = "unclassified"
)

// CallError is the single error type model calls fail with.
type CallError struct {
	Kind    Kind
	Model   string
	Message string
	// StatusCode and Status come from the upstream error payload when present.
	StatusCode   int
	Status       string
	FinishReason string
	Payload      []map[string]any
	Err          error
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Model != "" {
		b.WriteString(" (" + e.Model + ")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " [%d %s]", e.StatusCode, e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches another *CallError by Kind, so the Err* sentinels below work
// with errors.Is.
func (e *CallError) Is(target error) bool {
	var t *CallError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Model == "" && t.Message == ""
}

var (
	ErrInvalidCredential = &CallError{Kind: KindInvalidCredential}
	ErrModelUnavailable  = &CallError{Kind: KindModelUnavailable}
	ErrRateLimited       = &CallError{Kind: KindRateLimited}
	ErrTransient         = &CallError{Kind: KindTransient}
	ErrTimeout           = &CallError{Kind: KindTimeout}
	ErrBlocked           = &CallError{Kind: KindBlocked}
	ErrEmptyResponse     = &CallError{Kind: KindEmptyResponse}
	ErrUnclassified      = &CallError{Kind: KindUnclassified}
)

var (
	credentialHints  = []string{"api key", "api_key", "apikey", "credential", "unauthenticated", "unauthorized"}
	unavailableHints = []string{"not found", "is not supported", "not supported for", "does not exist", "unknown model", "no longer available"}
	rateHints        = []string{"quota", "rate limit", "rate-limit", "resource_exhausted", "resource exhausted", "too many requests"}
	transientHints   = []string{"timeout", "timed out", "try again", "temporarily", "unavailable", "overloaded", "internal error", "connection reset", "eof"}
)

// Classify maps any error returned by a Generator onto a *CallError. An error
// that already is a *CallError is returned as is.
func Classify(model string, err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.Model == "" {
			cp := *ce
			cp.Model = model
			return &cp
		}
		return ce
	}

	out := &CallError{Model: model, Message: err.Error(), Err: err}
	if api, ok := asAPIError(err); ok {
		out.StatusCode = api.Code
		out.Status = api.Status
		out.Message = api.Message
		out.Payload = api.Details
		out.Kind = classifyAPI(api.Code, api.Status, api.Message)
		return out
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
	case isNetError(err):
		out.Kind = KindTransient
	default:
		out.Kind = classifyAPI(0, "", err.Error())
	}
	return out
}

func classifyAPI(code int, status, message string) Kind {
	msg := strings.ToLower(message + " " + status)
	switch {
	case code == 401,
		(code == 400 || code == 403) && containsAny(msg, credentialHints),
		strings.Contains(msg, "api_key_invalid"):
		return KindInvalidCredential
	case code == 404, code == 403, containsAny(msg, unavailableHints):
		return KindModelUnavailable
	case code == 429, containsAny(msg, rateHints):
		return KindRateLimited
	case code >= 500, containsAny(msg, transientHints):
		return KindTransient
	case code == 0 && containsAny(msg, credentialHints):
		return KindInvalidCredential
	default:
		return KindUnclassified
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
