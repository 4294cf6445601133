package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := OpenTestDB()
	require.NoError(t, err)
	s, err := NewGormStore(db)
	require.NoError(t, err)
	return s
}

func TestCreateAndGetJob_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := &job.Job{
		ID:        "job_abc12345",
		Prompt:    "build a coffee shop landing page",
		Model:     "openrouter/auto",
		Status:    job.StatusPending,
		CreatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.CreateJob(ctx, j))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
	require.Equal(t, j.Prompt, got.Prompt)
	require.Equal(t, j.Model, got.Model)
	require.Equal(t, job.StatusPending, got.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "job_missing1")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestMarkRunning_OnlyFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := &job.Job{ID: "job_run000001", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreateJob(ctx, j))

	started := time.Now().Truncate(time.Second)
	require.NoError(t, s.MarkRunning(ctx, j.ID, started))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.MarkRunning(ctx, j.ID, started.Add(time.Hour)))
	again, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, again.StartedAt)
	require.Equal(t, started.Unix(), again.StartedAt.Unix(), "MarkRunning must not touch a job that is no longer pending")
}

func TestMarkCompleted_SetsMetricsAndExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := &job.Job{ID: "job_comp00001", Prompt: "p", Model: "m", Status: job.StatusRunning, CreatedAt: time.Now()}
	require.NoError(t, s.CreateJob(ctx, j))

	completedAt := time.Now().Truncate(time.Second)
	expiresAt := completedAt.Add(24 * time.Hour)
	require.NoError(t, s.MarkCompleted(ctx, j.ID, job.Metrics{
		PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30,
		Cost: 0.01, TotalDurationMS: 5000,
	}, CompleteOptions{
		CompletedAt: completedAt,
		ExpiresAt:   expiresAt,
		WorkerName:  "nimbus-job-comp00001",
		DeployedURL: "https://nimbus-job-comp00001.workers.dev",
		FileCount:   3,
		LinesOfCode: 42,
	}))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ExpiresAt)
	require.Equal(t, expiresAt.Unix(), got.ExpiresAt.Unix())
	require.Equal(t, 30, got.Metrics.TotalTokens)
	require.Equal(t, 3, got.FileCount, "file_count must be set at completion, spec.md §3")
	require.Equal(t, 42, got.LinesOfCode)
	require.NotNil(t, got.DeployedURL)
	require.True(t, strings.HasSuffix(*got.DeployedURL, ".workers.dev"))
}

func TestMarkFailed_DoesNotSetDeployedURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := &job.Job{ID: "job_fail00001", Prompt: "p", Model: "m", Status: job.StatusRunning, CreatedAt: time.Now()}
	require.NoError(t, s.CreateJob(ctx, j))

	now := time.Now()
	require.NoError(t, s.MarkFailed(ctx, j.ID, "build failed", FailOptions{
		CompletedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Nil(t, got.DeployedURL)
}

func TestListJobs_TruncatesPromptAtExactBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exactly100 := strings.Repeat("a", 100)
	exactly101 := strings.Repeat("b", 101)

	require.NoError(t, s.CreateJob(ctx, &job.Job{ID: "job_p100", Prompt: exactly100, Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateJob(ctx, &job.Job{ID: "job_p101", Prompt: exactly101, Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}))

	items, err := s.ListJobs(ctx, 10)
	require.NoError(t, err)

	byID := map[string]job.ListItem{}
	for _, it := range items {
		byID[it.ID] = it
	}
	require.Equal(t, exactly100, byID["job_p100"].Prompt)
	require.Equal(t, exactly100+"…", byID["job_p101"].Prompt)
}

func TestSweepCandidates_SelectsExpiredTerminalJobsOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, s.CreateJob(ctx, &job.Job{ID: "job_exp_done", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.MarkCompleted(ctx, "job_exp_done", job.Metrics{}, CompleteOptions{CompletedAt: time.Now(), ExpiresAt: past}))

	require.NoError(t, s.CreateJob(ctx, &job.Job{ID: "job_not_yet", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.MarkCompleted(ctx, "job_not_yet", job.Metrics{}, CompleteOptions{CompletedAt: time.Now(), ExpiresAt: future}))

	require.NoError(t, s.CreateJob(ctx, &job.Job{ID: "job_still_run", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.MarkRunning(ctx, "job_still_run", time.Now()))

	cands, err := s.SweepCandidates(ctx, time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "job_exp_done", cands[0].ID)
}

func TestCreateJobOrGetExisting_SecondCallWithSameKeyReturnsFirstRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "req-dedup-key-1"
	first := &job.Job{ID: "job_idem00001", Prompt: "build a blog", Model: "m", Status: job.StatusPending, IdempotencyKey: &key, CreatedAt: time.Now()}
	existing, created, err := s.CreateJobOrGetExisting(ctx, first)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "job_idem00001", existing.ID)

	retry := &job.Job{ID: "job_idem00002", Prompt: "build a blog", Model: "m", Status: job.StatusPending, IdempotencyKey: &key, CreatedAt: time.Now()}
	existing, created, err = s.CreateJobOrGetExisting(ctx, retry)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "job_idem00001", existing.ID)

	var count int64
	require.NoError(t, s.db.WithContext(ctx).Model(&jobRow{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreateJobOrGetExisting_NoKeyAlwaysCreatesNewRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &job.Job{ID: "job_nokey0001", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}
	_, created, err := s.CreateJobOrGetExisting(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	b := &job.Job{ID: "job_nokey0002", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}
	_, created, err = s.CreateJobOrGetExisting(ctx, b)
	require.NoError(t, err)
	require.True(t, created)
}

func TestMarkExpired_ClearsExternalResources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, &job.Job{ID: "job_to_expire", Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.MarkCompleted(ctx, "job_to_expire", job.Metrics{}, CompleteOptions{
		CompletedAt: time.Now(), ExpiresAt: time.Now().Add(-time.Minute),
		WorkerName: "nimbus-job-to-expire", BuildLogKey: "jobs/job_to_expire/build.log",
	}))

	require.NoError(t, s.MarkExpired(ctx, "job_to_expire"))

	got, err := s.GetJob(ctx, "job_to_expire")
	require.NoError(t, err)
	require.Equal(t, job.StatusExpired, got.Status)
	require.Nil(t, got.WorkerName)
	require.Nil(t, got.BuildLogKey)
}
