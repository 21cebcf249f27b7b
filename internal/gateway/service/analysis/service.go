// Package analysis resolves who pays for a request, then either answers it
// inline or queues it for the worker.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"setupguide/internal/analyzer"
	"setupguide/internal/gateway/repository/job"
	"setupguide/internal/gateway/repository/session"
	"setupguide/internal/guide"
)

const remediation = "supply your own Gemini API key"

// Pipeline is the part of *analyzer.Analyzer the service drives.
type Pipeline interface {
	Plan(ctx context.Context, rawRef, repoToken string) (analyzer.Plan, error)
	Run(ctx context.Context, plan analyzer.Plan, opts analyzer.Options) (analyzer.Report, error)
}

// Notifier hears about newly queued jobs.
type Notifier interface {
	Publish(j job.Job)
}

type Config struct {
	// PooledKey is the operator's model credential, used when the caller
	// brings none. Empty disables pooled analyses.
	PooledKey string
	// RepoToken is the operator's GitHub token, used when the caller brings
	// none.
	RepoToken string
	// AsyncThreshold queues repositories at or above this many bytes.
	AsyncThreshold int64
}

type Request struct {
	Repo      string
	TargetOS  string
	Model     string
	SessionID string
	// Credentials given on the request itself win over the session's.
	Credentials session.Credentials
	// Client identifies the caller for the pooled quota.
	Client string
}

// Outcome carries exactly one of Report or Job.
type Outcome struct {
	Report *analyzer.Report
	Job    *job.Job
	// Quota is set when the pooled key was charged.
	Quota *Decision
}

type Service struct {
	cfg      Config
	pipeline Pipeline
	jobs     job.Store
	sessions *session.Store
	quota    *Quota
	notifier Notifier
	newID    func() string
}

func New(cfg Config, pipeline Pipeline, jobs job.Store, sessions *session.Store, quota *Quota, notifier Notifier) *Service {
	return &Service{
		cfg:      cfg,
		pipeline: pipeline,
		jobs:     jobs,
		sessions: sessions,
		quota:    quota,
		notifier: notifier,
		newID:    uuid.NewString,
	}
}

// Remediation is the hint attached to pooled-quota rejections.
func Remediation() string { return remediation }

func (s *Service) Analyze(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Repo) == "" {
		return Outcome{}, &analyzer.Error{Kind: analyzer.KindInvalidReference, Message: "repository is required"}
	}
	target := strings.TrimSpace(req.TargetOS)
	if target != "" {
		if _, ok := guide.NormalizeOS(target); !ok {
			log.Printf("analysis: unknown target os %q, using generic instructions", target)
		}
	}

	creds, err := s.credentials(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	modelKey := creds.ModelKey
	if modelKey == "" {
		if s.cfg.PooledKey == "" {
			return Outcome{}, &analyzer.Error{Kind: analyzer.KindInvalidCredential, Message: "no model credential configured; " + remediation}
		}
		if s.quota != nil {
			d := s.quota.Check(ctx, req.Client)
			out.Quota = &d
			if !d.Allowed {
				return out, &analyzer.Error{
					Kind:    analyzer.KindRateLimited,
					Message: fmt.Sprintf("daily limit of %d pooled analyses reached", d.Limit),
					ResetAt: d.ResetAt,
				}
			}
		}
		modelKey = s.cfg.PooledKey
	}
	repoToken := firstNonEmpty(creds.RepoToken, s.cfg.RepoToken)

	plan, err := s.pipeline.Plan(ctx, req.Repo, repoToken)
	if err != nil {
		return out, err
	}
	if plan.Async(s.cfg.AsyncThreshold) {
		j, err := s.enqueue(ctx, plan, req, creds)
		if err != nil {
			return out, err
		}
		out.Job = &j
		return out, nil
	}
	rep, err := s.pipeline.Run(ctx, plan, analyzer.Options{
		ModelCredential: modelKey,
		RepoToken:       repoToken,
		TargetOS:        target,
		Model:           req.Model,
	})
	if err != nil {
		return out, err
	}
	out.Report = &rep
	return out, nil
}

func (s *Service) credentials(ctx context.Context, req Request) (session.Credentials, error) {
	creds := session.Credentials{
		ModelKey:  strings.TrimSpace(req.Credentials.ModelKey),
		RepoToken: strings.TrimSpace(req.Credentials.RepoToken),
	}
	if req.SessionID == "" || s.sessions == nil {
		return creds, nil
	}
	sess, err := s.sessions.Get(ctx, req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return creds, nil
	}
	if err != nil {
		return creds, err
	}
	creds.ModelKey = firstNonEmpty(creds.ModelKey, sess.ModelKey)
	creds.RepoToken = firstNonEmpty(creds.RepoToken, sess.RepoToken)
	return creds, nil
}

// enqueue stores a job. Only caller-supplied credentials are sealed into it;
// the worker falls back to the operator's own.
func (s *Service) enqueue(ctx context.Context, plan analyzer.Plan, req Request, creds session.Credentials) (job.Job, error) {
	id := s.newID()
	var sealed []byte
	if s.sessions != nil {
		var err error
		if sealed, err = s.sessions.SealCredentials(creds, id); err != nil {
			return job.Job{}, fmt.Errorf("seal job credentials: %w", err)
		}
	} else if !creds.Empty() {
		return job.Job{}, errors.New("analysis: cannot queue caller credentials without a sealer")
	}
	j := job.Job{
		ID:       id,
		Repo:     plan.Ref.String(),
		TargetOS: strings.TrimSpace(req.TargetOS),
		Model:    strings.TrimSpace(req.Model),
		Sealed:   sealed,
		Status:   job.StatusQueued,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return job.Job{}, err
	}
	stored, err := s.jobs.Get(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	log.Printf("analysis: queued %s for %s (%d bytes)", id, j.Repo, plan.Repo.SizeBytes())
	if s.notifier != nil {
		s.notifier.Publish(stored)
	}
	stored.Sealed = nil
	return stored, nil
}

func (s *Service) Job(ctx context.Context, id string) (job.Job, error) {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return job.Job{}, err
	}
	j.Sealed = nil
	return j, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
