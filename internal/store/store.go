// Package store is the Job Store (C1): a durable record per job, backed by
// gorm the same way the teacher's internal/chat.Repo wraps *gorm.DB. Every
// mutating method is a single-row upsert keyed by job id, matching spec.md
// §4.5's "single-writer-per-row by id with no cross-row coordination".
package store

import (
	"context"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/job"
)

// CompleteOptions carries the side-table fields set alongside a terminal
// status transition, beyond the metrics themselves.
type CompleteOptions struct {
	CompletedAt  time.Time
	ExpiresAt    time.Time
	WorkerName   string
	BuildLogKey  string
	DeployLogKey string
	PreviewURL   string
	DeployedURL  string
	FileCount    int
	LinesOfCode  int
}

// FailOptions mirrors CompleteOptions for the failed path; URLs are absent
// because a failed job never acquires a deploy URL (invariant 3, spec.md §3).
type FailOptions struct {
	CompletedAt  time.Time
	ExpiresAt    time.Time
	BuildLogKey  string
	DeployLogKey string
}

// LogKeys is the projection returned by GetJobLogKeys.
type LogKeys struct {
	BuildLogKey  *string
	DeployLogKey *string
}

// Store is the Job Store contract. Implementations: *GormStore (production,
// MySQL) and the same *GormStore pointed at an in-memory glebarez/sqlite DB
// (tests), matching the teacher's openTestDB helper in
// internal/chat/service_test.go.
type Store interface {
	CreateJob(ctx context.Context, j *job.Job) error
	// CreateJobOrGetExisting implements SPEC_FULL.md §4.1's idempotent
	// retry guard: if j.IdempotencyKey is set and a row already exists for
	// it, that existing row is returned with created=false instead of a
	// duplicate insert. A nil/empty key always creates (created=true).
	CreateJobOrGetExisting(ctx context.Context, j *job.Job) (existing *job.Job, created bool, err error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context, limit int) ([]job.ListItem, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, metrics job.Metrics, opts CompleteOptions) error
	MarkFailed(ctx context.Context, id string, message string, opts FailOptions) error
	GetJobLogKeys(ctx context.Context, id string) (LogKeys, error)

	// SweepCandidates returns up to limit jobs eligible for expiry (status in
	// {completed, failed} and expires_at <= now), spec.md §4.7.
	SweepCandidates(ctx context.Context, now time.Time, limit int) ([]job.Job, error)
	// MarkExpired transitions a job to expired and clears external resource
	// references, spec.md §3 invariant 5 / §4.7.
	MarkExpired(ctx context.Context, id string) error
}
