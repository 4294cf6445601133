// Package archive is the Log Archive (C2): a content-addressed object store
// for build/deploy log blobs, keyed by "jobs/{id}/{build|deploy}.log"
// (spec.md §4.5, §6).
package archive

import "context"

// Archive is the contract the pipeline, the HTTP surface, and the sweeper
// depend on. GCSArchive (production) and MemoryArchive (tests) both
// implement it.
type Archive interface {
	// Put uploads body under key with content-type text/plain; charset=utf-8.
	Put(ctx context.Context, key string, body string) error
	// Get retrieves a previously-archived blob. Returns ErrNotFound if the
	// key does not exist.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes a blob; deleting a missing key is not an error
	// (idempotent, per the sweeper's requirements in spec.md §4.7).
	Delete(ctx context.Context, key string) error
}

// BuildLogKey and DeployLogKey compute the canonical archive keys for a job,
// per spec.md §4.1 stage 6 and §6.
func BuildLogKey(jobID string) string  { return "jobs/" + jobID + "/build.log" }
func DeployLogKey(jobID string) string { return "jobs/" + jobID + "/deploy.log" }
