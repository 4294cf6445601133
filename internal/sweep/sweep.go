// Package sweep implements the Cleanup Sweeper (C9, spec.md §4.7): a
// scheduled task that expires completed/failed jobs past their retention
// window, deleting their edge-worker and archived logs along the way.
// Structured the same way the teacher's internal/ai.Provider is: a narrow
// collaborator interface (WorkerDeleter) plus one concrete HTTP-backed
// implementation, so the sweeper itself stays a pure policy loop over
// internal/store.Store and internal/archive.Archive.
package sweep

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/nimbusbuild/orchestrator/internal/store"
)

// WorkerDeleter deletes a previously-published edge worker by name.
// Implementations report a 404 from the underlying API as
// ErrWorkerNotFound, which the sweeper treats the same as a successful
// delete (spec.md §4.7 "Treat HTTP 404 as success").
type WorkerDeleter interface {
	DeleteWorker(ctx context.Context, name string) error
}

// ErrWorkerNotFound is returned by a WorkerDeleter when the edge-worker API
// reports the worker does not exist. Sweep treats this identically to a
// successful delete.
var ErrWorkerNotFound = errors.New("sweep: worker not found")

// Sweeper runs spec.md §4.7's policy: up to BatchSize jobs with status in
// {completed, failed} and expires_at <= now, each row handled independently
// so one failure never blocks the next (spec.md "Cleanup is idempotent per
// row. A failure on one row does not block the next.").
type Sweeper struct {
	Store     store.Store
	Archive   archive.Archive
	Workers   WorkerDeleter
	BatchSize int
}

func New(st store.Store, ar archive.Archive, wd WorkerDeleter, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{Store: st, Archive: ar, Workers: wd, BatchSize: batchSize}
}

// Run executes one sweep pass. It never returns an error itself — per-row
// failures are logged and skipped, matching the teacher's worker loop
// convention of logging and continuing rather than aborting a batch.
func (s *Sweeper) Run(ctx context.Context) {
	now := time.Now()
	candidates, err := s.Store.SweepCandidates(ctx, now, s.BatchSize)
	if err != nil {
		log.Printf("component=sweep err=%v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	log.Printf("component=sweep candidates=%d", len(candidates))

	for _, j := range candidates {
		if err := s.sweepOne(ctx, j); err != nil {
			log.Printf("component=sweep job_id=%s err=%v", j.ID, err)
			continue
		}
	}
}

func (s *Sweeper) sweepOne(ctx context.Context, j job.Job) error {
	if j.WorkerName != nil && *j.WorkerName != "" {
		if err := s.Workers.DeleteWorker(ctx, *j.WorkerName); err != nil && !errors.Is(err, ErrWorkerNotFound) {
			// Leave the row untouched for the next sweep, per spec.md §4.7
			// step 1: "On other failures, skip this job".
			return err
		}
	}

	if j.BuildLogKey != nil && *j.BuildLogKey != "" {
		if err := s.Archive.Delete(ctx, *j.BuildLogKey); err != nil {
			log.Printf("component=sweep job_id=%s log=build err=%v", j.ID, err)
		}
	}
	if j.DeployLogKey != nil && *j.DeployLogKey != "" {
		if err := s.Archive.Delete(ctx, *j.DeployLogKey); err != nil {
			log.Printf("component=sweep job_id=%s log=deploy err=%v", j.ID, err)
		}
	}

	return s.Store.MarkExpired(ctx, j.ID)
}
