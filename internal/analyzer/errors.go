package analyzer

import (
	"errors"
	"time"
)

// Kind names a user-facing failure class.
type Kind string

const (
	KindInvalidReference  Kind = "invalid-reference"
	KindNotFound          Kind = "not-found-or-private"
	KindTooLarge          Kind = "too-large"
	KindNoContent         Kind = "no-fetchable-content"
	KindInvalidCredential Kind = "invalid-credential"
	KindModelsExhausted   Kind = "all-models-exhausted"
	KindMalformedOutput   Kind = "malformed-model-output"
	// KindRateLimited is raised by the collaborator layer (pooled quota) and
	// by the repository host.
	KindRateLimited Kind = "rate-limited"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
	// ResetAt is when a rate limit lifts, if known.
	ResetAt time.Time
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare *Error by Kind, so errors.Is(err, ErrTooLarge) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidReference  = &Error{Kind: KindInvalidReference}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTooLarge          = &Error{Kind: KindTooLarge}
	ErrNoContent         = &Error{Kind: KindNoContent}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrModelsExhausted   = &Error{Kind: KindModelsExhausted}
	ErrMalformedOutput   = &Error{Kind: KindMalformedOutput}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
)

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
