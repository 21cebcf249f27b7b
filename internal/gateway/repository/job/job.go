package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

// Job is one queued analysis. Credentials are sealed by the caller; the
// store never sees them in clear.
type Job struct {
	ID       string `json:"id"`
	Repo     string `json:"repo"`
	TargetOS string `json:"targetOs,omitempty"`
	Model    string `json:"model,omitempty"`
	// Sealed is the encrypted credential pair the worker needs.
	Sealed []byte `json:"-"`
	Status Status `json:"status"`
	// Result is the finished report as JSON.
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// processing -> queued hands an interrupted job back to the queue.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusComplete, StatusFailed, StatusQueued},
}

func checkTransition(from, to Status) error {
	for _, s := range validTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Store persists jobs.
type Store interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Update moves a job to status. Transitions are validated.
	Update(ctx context.Context, id string, status Status, opts ...UpdateOption) (Job, error)
	// ListByStatus returns up to limit jobs, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error)
}

type updateParams struct {
	result    json.RawMessage
	errMsg    *string
	errKind   *string
	dropCreds bool
}

type UpdateOption func(*updateParams)

func WithResult(raw json.RawMessage) UpdateOption {
	return func(p *updateParams) { p.result = raw }
}

func WithError(kind, msg string) UpdateOption {
	return func(p *updateParams) {
		p.errKind = &kind
		p.errMsg = &msg
	}
}

// WithoutCredentials wipes the sealed credentials, typically once the job
// has finished.
func WithoutCredentials() UpdateOption {
	return func(p *updateParams) { p.dropCreds = true }
}

func applyUpdate(j *Job, status Status, opts []UpdateOption, now time.Time) {
	p := &updateParams{}
	for _, opt := range opts {
		opt(p)
	}
	j.Status = status
	j.UpdatedAt = now
	if p.result != nil {
		j.Result = append(json.RawMessage(nil), p.result...)
	}
	if p.errMsg != nil {
		j.Error = *p.errMsg
	}
	if p.errKind != nil {
		j.ErrorKind = *p.errKind
	}
	if p.dropCreds {
		j.Sealed = nil
	}
}
