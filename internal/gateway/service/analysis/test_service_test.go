package analysis

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupguide/internal/analyzer"
	"setupguide/internal/cache/memory"
	"setupguide/internal/gateway/repository/job"
	"setupguide/internal/gateway/repository/session"
	"setupguide/internal/github"
)

type fakePipeline struct {
	sizeKiB   int64
	planErr   error
	runErr    error
	planToken string
	runOpts   *analyzer.Options
}

func (f *fakePipeline) Plan(_ context.Context, rawRef, token string) (analyzer.Plan, error) {
	f.planToken = token
	if f.planErr != nil {
		return analyzer.Plan{}, f.planErr
	}
	ref, err := github.ParseRef(rawRef)
	if err != nil {
		return analyzer.Plan{}, err
	}
	return analyzer.Plan{Ref: ref, Repo: github.Repository{FullName: ref.String(), SizeKiB: f.sizeKiB}}, nil
}

func (f *fakePipeline) Run(_ context.Context, plan analyzer.Plan, opts analyzer.Options) (analyzer.Report, error) {
	f.runOpts = &opts
	if f.runErr != nil {
		return analyzer.Report{}, f.runErr
	}
	return analyzer.Report{Repo: plan.Ref.String(), Model: "gemini-2.5-flash"}, nil
}

type recorder struct{ jobs []job.Job }

func (r *recorder) Publish(j job.Job) { r.jobs = append(r.jobs, j) }

type fixture struct {
	svc      *Service
	pipe     *fakePipeline
	jobs     *job.MemoryStore
	sessions *session.Store
	notes    *recorder
	quota    *Quota
}

func newFixture(t *testing.T, pooled string, limit int) *fixture {
	t.Helper()
	kv := memory.NewStore(64)
	sealer, err := session.NewSealer(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	f := &fixture{
		pipe:     &fakePipeline{sizeKiB: 10},
		jobs:     job.NewMemoryStore(),
		sessions: session.NewStore(kv, sealer, time.Hour),
		notes:    &recorder{},
		quota:    NewQuota(kv, limit),
	}
	f.svc = New(Config{PooledKey: pooled, RepoToken: "ops-token", AsyncThreshold: 20 << 20}, f.pipe, f.jobs, f.sessions, f.quota, f.notes)
	f.svc.newID = func() string { return "job-1" }
	return f
}

func TestSyncAnalysisWithPooledKeyChargesQuota(t *testing.T) {
	f := newFixture(t, "pooled", 2)
	out, err := f.svc.Analyze(context.Background(), Request{Repo: "octo/hello", TargetOS: "mac", Client: "1.2.3.4"})
	require.NoError(t, err)
	require.NotNil(t, out.Report)
	assert.Nil(t, out.Job)
	require.NotNil(t, out.Quota)
	assert.Equal(t, 1, out.Quota.Remaining)
	assert.Equal(t, "pooled", f.pipe.runOpts.ModelCredential)
	assert.Equal(t, "ops-token", f.pipe.runOpts.RepoToken)
	assert.Equal(t, "mac", f.pipe.runOpts.TargetOS)
}

func TestPooledQuotaExhausted(t *testing.T) {
	f := newFixture(t, "pooled", 1)
	ctx := context.Background()
	_, err := f.svc.Analyze(ctx, Request{Repo: "octo/hello", Client: "c"})
	require.NoError(t, err)

	out, err := f.svc.Analyze(ctx, Request{Repo: "octo/hello", Client: "c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, analyzer.ErrRateLimited))
	var ae *analyzer.Error
	require.True(t, errors.As(err, &ae))
	assert.False(t, ae.ResetAt.IsZero())
	require.NotNil(t, out.Quota)
	assert.False(t, out.Quota.Allowed)

	// Another client has its own bucket.
	_, err = f.svc.Analyze(ctx, Request{Repo: "octo/hello", Client: "d"})
	assert.NoError(t, err)
}

func TestUserKeyBypassesQuota(t *testing.T) {
	f := newFixture(t, "pooled", 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		out, err := f.svc.Analyze(ctx, Request{Repo: "octo/hello", Client: "c", Credentials: session.Credentials{ModelKey: "mine"}})
		require.NoError(t, err)
		assert.Nil(t, out.Quota)
	}
	assert.Equal(t, "mine", f.pipe.runOpts.ModelCredential)
}

func TestSessionCredentialsAreUsed(t *testing.T) {
	f := newFixture(t, "", 0)
	ctx := context.Background()
	sess, err := f.sessions.Create(ctx, session.Credentials{ModelKey: "sess-key", RepoToken: "sess-token"})
	require.NoError(t, err)

	_, err = f.svc.Analyze(ctx, Request{Repo: "octo/hello", SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "sess-key", f.pipe.runOpts.ModelCredential)
	assert.Equal(t, "sess-token", f.pipe.planToken)

	// Explicit credentials beat the session's.
	_, err = f.svc.Analyze(ctx, Request{Repo: "octo/hello", SessionID: sess.ID, Credentials: session.Credentials{ModelKey: "header-key"}})
	require.NoError(t, err)
	assert.Equal(t, "header-key", f.pipe.runOpts.ModelCredential)
	assert.Equal(t, "sess-token", f.pipe.runOpts.RepoToken)
}

func TestNoCredentialAtAll(t *testing.T) {
	f := newFixture(t, "", 5)
	_, err := f.svc.Analyze(context.Background(), Request{Repo: "octo/hello", SessionID: "stale"})
	assert.True(t, errors.Is(err, analyzer.ErrInvalidCredential))
	assert.Contains(t, err.Error(), Remediation())
}

func TestLargeRepositoryIsQueued(t *testing.T) {
	f := newFixture(t, "pooled", 5)
	f.pipe.sizeKiB = 25 << 10 // 25 MB
	ctx := context.Background()

	out, err := f.svc.Analyze(ctx, Request{Repo: "https://github.com/octo/big", TargetOS: "linux",
		Credentials: session.Credentials{ModelKey: "mine", RepoToken: "tok"}})
	require.NoError(t, err)
	require.NotNil(t, out.Job)
	assert.Nil(t, out.Report)
	assert.Nil(t, f.pipe.runOpts, "queued jobs are not run inline")
	assert.Equal(t, "job-1", out.Job.ID)
	assert.Equal(t, "octo/big", out.Job.Repo)
	assert.Equal(t, job.StatusQueued, out.Job.Status)
	assert.Nil(t, out.Job.Sealed)

	stored, err := f.jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotEmpty(t, stored.Sealed)
	assert.NotContains(t, string(stored.Sealed), "mine")
	creds, err := f.sessions.OpenCredentials(stored.Sealed, "job-1")
	require.NoError(t, err)
	assert.Equal(t, session.Credentials{ModelKey: "mine", RepoToken: "tok"}, creds)

	require.Len(t, f.notes.jobs, 1)
	assert.Equal(t, "job-1", f.notes.jobs[0].ID)

	got, err := f.svc.Job(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got.Sealed)
}

func TestPipelineErrorsPassThrough(t *testing.T) {
	f := newFixture(t, "pooled", 5)
	f.pipe.planErr = &analyzer.Error{Kind: analyzer.KindTooLarge}
	_, err := f.svc.Analyze(context.Background(), Request{Repo: "octo/huge"})
	assert.Equal(t, analyzer.KindTooLarge, analyzer.KindOf(err))

	_, err = f.svc.Analyze(context.Background(), Request{Repo: "  "})
	assert.Equal(t, analyzer.KindInvalidReference, analyzer.KindOf(err))
}

type brokenCounter struct{}

func (brokenCounter) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestQuotaFailsOpenAndResetsAtMidnight(t *testing.T) {
	q := NewQuota(brokenCounter{}, 3)
	q.now = func() time.Time { return time.Date(2026, 3, 4, 22, 30, 0, 0, time.UTC) }
	d := q.Check(context.Background(), "c")
	assert.True(t, d.Allowed)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), d.ResetAt)

	off := NewQuota(brokenCounter{}, 0)
	assert.False(t, off.Check(context.Background(), "c").Allowed, "a zero limit disables the pooled key")
}
