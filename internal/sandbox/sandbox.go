// Package sandbox implements the Sandbox Driver (C5, spec.md §4.3): it
// provisions a disposable container, materializes a generated project tree
// inside it, runs install/build with timeouts and heartbeats, tails logs,
// and writes the deployment descriptor the deploy driver (internal/deploy)
// later reads. The sandbox itself is modeled as a narrow collaborator
// interface (Exec/WriteFile/Destroy), per spec.md §4.3's "Operations on the
// sandbox collaborator", with two implementations: ContainerSandbox
// (testcontainers-go, production) and FakeSandbox (in-memory, tests).
package sandbox

import (
	"context"
	"time"
)

// ExecResult is what Exec returns, mirroring spec.md §4.3's
// "exec(cmd, {timeoutMs}) → {exitCode, stdout, stderr}".
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sandbox is the narrow contract the driver depends on. Implementations
// must not assume incremental stdout delivery from Exec — interactive
// progress comes only from tailing log files the driver redirects into
// (spec.md §4.3).
type Sandbox interface {
	ID() string
	Exec(ctx context.Context, cmd []string, timeout time.Duration) (ExecResult, error)
	WriteFile(ctx context.Context, path string, contents []byte) error
	// ReadFile reads a file's contents back, used to collect the build and
	// deploy logs and to update an existing .assetsignore (log tailing runs
	// an in-sandbox tail through Exec instead).
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Exists reports whether path exists in the sandbox filesystem.
	Exists(ctx context.Context, path string) (bool, error)
	Destroy(ctx context.Context) error
}

// Provisioner creates a fresh Sandbox for one job. Separated from Sandbox
// itself so the pipeline can depend on a single factory function without
// caring which backend is behind it.
type Provisioner interface {
	New(ctx context.Context, jobID string) (Sandbox, error)
}
