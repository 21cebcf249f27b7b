// Package worker drains queued analysis jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"setupguide/internal/analyzer"
	"setupguide/internal/gateway/repository/artifact"
	"setupguide/internal/gateway/repository/job"
	"setupguide/internal/gateway/repository/session"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultWorkers      = 2
	// DefaultStaleAfter is how long a job may sit in processing before a
	// starting worker assumes its owner died and requeues it.
	DefaultStaleAfter = 15 * time.Minute
	defaultBatch      = 16
)

// Analyzer runs one full analysis.
type Analyzer interface {
	Analyze(ctx context.Context, rawRef string, opts analyzer.Options) (analyzer.Report, error)
}

// Opener recovers credentials sealed into a job.
type Opener interface {
	OpenCredentials(sealed []byte, label string) (session.Credentials, error)
}

type Config struct {
	PooledKey    string
	RepoToken    string
	PollInterval time.Duration
	Workers      int
	StaleAfter   time.Duration
}

type Worker struct {
	cfg       Config
	jobs      job.Store
	analyzer  Analyzer
	opener    Opener
	artifacts artifact.Store
	hub       *Hub
	wake      chan struct{}
}

func New(cfg Config, jobs job.Store, a Analyzer, opener Opener, artifacts artifact.Store, hub *Hub) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Worker{
		cfg:       cfg,
		jobs:      jobs,
		analyzer:  a,
		opener:    opener,
		artifacts: artifacts,
		hub:       hub,
		wake:      make(chan struct{}, 1),
	}
}

func (w *Worker) Hub() *Hub { return w.hub }

// Publish forwards j to watchers and, for a fresh job, wakes the loop.
func (w *Worker) Publish(j job.Job) {
	w.hub.Publish(j)
	if j.Status == job.StatusQueued {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Run drains the queue every PollInterval, or sooner when woken, until ctx
// ends.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.Recover(ctx, time.Now()); err != nil {
		log.Printf("worker: recover: %v", err)
	} else if n > 0 {
		log.Printf("worker: requeued %d stale jobs", n)
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Printf("worker: drain: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Recover requeues jobs that have been processing since before
// now-StaleAfter. Such rows belong to a worker that exited without recording
// an outcome.
func (w *Worker) Recover(ctx context.Context, now time.Time) (int, error) {
	stuck, err := w.jobs.ListByStatus(ctx, job.StatusProcessing, defaultBatch)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-w.cfg.StaleAfter)
	n := 0
	for _, j := range stuck {
		if j.UpdatedAt.After(cutoff) {
			continue
		}
		if w.requeue(ctx, j.ID) {
			n++
		}
	}
	return n, nil
}

// Drain claims and processes the queued jobs visible right now. It returns
// how many jobs this call finished. A job that cannot be claimed is logged
// and skipped; the rest of the batch still runs.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	queued, err := w.jobs.ListByStatus(ctx, job.StatusQueued, defaultBatch)
	if err != nil {
		return 0, err
	}
	var g errgroup.Group
	g.SetLimit(w.cfg.Workers)
	done := make([]bool, len(queued))
	claimErrs := make([]error, len(queued))
	for i, j := range queued {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			claimed, err := w.jobs.Update(ctx, j.ID, job.StatusProcessing)
			if errors.Is(err, job.ErrInvalidTransition) || errors.Is(err, job.ErrNotFound) {
				return nil
			}
			if err != nil {
				log.Printf("worker: %s: claim: %v", j.ID, err)
				claimErrs[i] = err
				return nil
			}
			w.hub.Publish(claimed)
			done[i] = w.process(ctx, claimed)
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range done {
		if ok {
			n++
		}
	}
	return n, errors.Join(claimErrs...)
}

// process runs a claimed job to a terminal state. It reports false only
// when the terminal state could not be recorded.
func (w *Worker) process(ctx context.Context, j job.Job) bool {
	start := time.Now()
	creds, err := w.opener.OpenCredentials(j.Sealed, j.ID)
	if err != nil {
		return w.finish(ctx, j.ID, job.StatusFailed, job.WithError(string(analyzer.KindInvalidCredential), "stored credentials are no longer readable"))
	}
	opts := analyzer.Options{
		ModelCredential: firstNonEmpty(creds.ModelKey, w.cfg.PooledKey),
		RepoToken:       firstNonEmpty(creds.RepoToken, w.cfg.RepoToken),
		TargetOS:        j.TargetOS,
		Model:           j.Model,
	}
	rep, err := w.analyzer.Analyze(ctx, j.Repo, opts)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("worker: %s interrupted, requeueing: %v", j.ID, err)
			w.requeue(ctx, j.ID)
			return false
		}
		kind := analyzer.KindOf(err)
		if kind == "" {
			kind = "internal"
		}
		log.Printf("worker: %s failed after %s: %v", j.ID, time.Since(start).Round(time.Millisecond), err)
		return w.finish(ctx, j.ID, job.StatusFailed, job.WithError(string(kind), err.Error()))
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return w.finish(ctx, j.ID, job.StatusFailed, job.WithError("internal", err.Error()))
	}
	if w.artifacts != nil {
		if err := w.artifacts.Put(ctx, j.ID, artifact.GuideName, raw); err != nil {
			log.Printf("worker: %s: store artifact: %v", j.ID, err)
		}
	}
	log.Printf("worker: %s complete via %s in %s", j.ID, rep.Model, time.Since(start).Round(time.Millisecond))
	return w.finish(ctx, j.ID, job.StatusComplete, job.WithResult(raw))
}

func (w *Worker) finish(ctx context.Context, id string, status job.Status, opt job.UpdateOption) bool {
	updated, err := w.jobs.Update(context.WithoutCancel(ctx), id, status, opt, job.WithoutCredentials())
	if err != nil {
		log.Printf("worker: %s: record %s: %v", id, status, err)
		return false
	}
	w.hub.Publish(updated)
	return true
}

// requeue hands a processing job back to the queue with its credentials
// intact.
func (w *Worker) requeue(ctx context.Context, id string) bool {
	updated, err := w.jobs.Update(context.WithoutCancel(ctx), id, job.StatusQueued)
	if err != nil {
		log.Printf("worker: %s: requeue: %v", id, err)
		return false
	}
	w.hub.Publish(updated)
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
