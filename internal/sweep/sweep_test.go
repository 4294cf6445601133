package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/nimbusbuild/orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorkerDeleter records calls and lets a test force a particular outcome
// per worker name, matching the teacher's recordingProvider test-double
// shape (internal/chat/service_test.go).
type fakeWorkerDeleter struct {
	deleted []string
	results map[string]error
}

func (f *fakeWorkerDeleter) DeleteWorker(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	if err, ok := f.results[name]; ok {
		return err
	}
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.OpenTestDB()
	require.NoError(t, err)
	st, err := store.NewGormStore(db)
	require.NoError(t, err)
	return st
}

func seedExpiredJob(t *testing.T, st store.Store, id string, workerName, buildLogKey, deployLogKey string) {
	t.Helper()
	ctx := context.Background()
	j := &job.Job{ID: id, Prompt: "p", Model: "m", Status: job.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, st.CreateJob(ctx, j))
	require.NoError(t, st.MarkRunning(ctx, id, time.Now()))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, st.MarkCompleted(ctx, id, job.Metrics{}, store.CompleteOptions{
		CompletedAt:  past,
		ExpiresAt:    past,
		WorkerName:   workerName,
		BuildLogKey:  buildLogKey,
		DeployLogKey: deployLogKey,
		DeployedURL:  "https://" + workerName + ".workers.dev",
	}))
}

func TestSweep_ExpiresJobAndPurgesResources(t *testing.T) {
	st := newTestStore(t)
	ar := archive.NewMemoryArchive()
	ctx := context.Background()
	require.NoError(t, ar.Put(ctx, "jobs/job_1/build.log", "build ok"))
	require.NoError(t, ar.Put(ctx, "jobs/job_1/deploy.log", "deploy ok"))
	seedExpiredJob(t, st, "job_1", "nimbus-job-1", "jobs/job_1/build.log", "jobs/job_1/deploy.log")

	wd := &fakeWorkerDeleter{results: map[string]error{}}
	sw := New(st, ar, wd, 50)
	sw.Run(ctx)

	got, err := st.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusExpired, got.Status)
	assert.Nil(t, got.WorkerName)
	assert.Nil(t, got.BuildLogKey)
	assert.Nil(t, got.DeployLogKey)
	assert.False(t, ar.Has("jobs/job_1/build.log"))
	assert.False(t, ar.Has("jobs/job_1/deploy.log"))
	assert.Equal(t, []string{"nimbus-job-1"}, wd.deleted)
}

func TestSweep_404FromWorkerDeleteIsTreatedAsSuccess(t *testing.T) {
	st := newTestStore(t)
	ar := archive.NewMemoryArchive()
	ctx := context.Background()
	seedExpiredJob(t, st, "job_2", "nimbus-job-2", "", "")

	wd := &fakeWorkerDeleter{results: map[string]error{"nimbus-job-2": ErrWorkerNotFound}}
	sw := New(st, ar, wd, 50)
	sw.Run(ctx)

	got, err := st.GetJob(ctx, "job_2")
	require.NoError(t, err)
	assert.Equal(t, job.StatusExpired, got.Status)
}

func TestSweep_OtherWorkerDeleteFailureSkipsRowForNextPass(t *testing.T) {
	st := newTestStore(t)
	ar := archive.NewMemoryArchive()
	ctx := context.Background()
	seedExpiredJob(t, st, "job_3", "nimbus-job-3", "", "")

	wd := &fakeWorkerDeleter{results: map[string]error{"nimbus-job-3": assertErr{}}}
	sw := New(st, ar, wd, 50)
	sw.Run(ctx)

	got, err := st.GetJob(ctx, "job_3")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status, "row must remain for the next sweep on unexpected failures")
}

func TestSweep_IsIdempotentSecondPassSeesNoCandidates(t *testing.T) {
	st := newTestStore(t)
	ar := archive.NewMemoryArchive()
	ctx := context.Background()
	seedExpiredJob(t, st, "job_4", "nimbus-job-4", "", "")

	wd := &fakeWorkerDeleter{}
	sw := New(st, ar, wd, 50)
	sw.Run(ctx)
	sw.Run(ctx)

	assert.Equal(t, []string{"nimbus-job-4"}, wd.deleted, "second pass must not re-delete an already-expired worker")
}

type assertErr struct{}

func (assertErr) Error() string { return "transient failure" }
