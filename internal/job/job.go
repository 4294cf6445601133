// Package job holds the types shared by every stage of the build-and-deploy
// pipeline: the Job record itself, the generated-file and config shapes that
// flow between the LLM client and the framework registry, and the SSE event
// taxonomy the pipeline emits.
package job

import "time"

// Status is one of the five legal lifecycle states a Job can be in.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the five legal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Metrics carries the usage/timing numbers recorded once a job reaches a
// terminal state. Zero values are distinguished from "unset" by the caller
// checking the job's status, per invariant 2 in spec.md §3.
type Metrics struct {
	PromptTokens      int     `json:"promptTokens"`
	CompletionTokens  int     `json:"completionTokens"`
	TotalTokens       int     `json:"totalTokens"`
	Cost              float64 `json:"cost"`
	LLMLatencyMS      int64   `json:"llmLatencyMs"`
	InstallDurationMS int64   `json:"installDurationMs"`
	BuildDurationMS   int64   `json:"buildDurationMs"`
	DeployDurationMS  int64   `json:"deployDurationMs"`
	TotalDurationMS   int64   `json:"totalDurationMs"`
}

// Job is the central persisted entity described in spec.md §3.
type Job struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	ExpiresAt   *time.Time `json:"expiresAt"`

	PreviewURL   *string `json:"previewUrl"`
	DeployedURL  *string `json:"deployedUrl"`
	ErrorMessage *string `json:"errorMessage"`

	FileCount   int `json:"fileCount"`
	LinesOfCode int `json:"linesOfCode"`

	Metrics Metrics `json:"metrics"`

	BuildLogKey  *string `json:"buildLogKey"`
	DeployLogKey *string `json:"deployLogKey"`
	WorkerName   *string `json:"workerName"`

	// SandboxID is retained for operator diagnostics only; never exposed on
	// the public GET /api/jobs/{id} representation (see SPEC_FULL.md §3).
	SandboxID *string `json:"-"`
	RequestID string  `json:"-"`

	// IdempotencyKey implements SPEC_FULL.md §4.1's idempotent retry guard:
	// a client-supplied key that lets a retried POST /api/jobs return the
	// original job instead of enqueueing a duplicate pipeline run.
	IdempotencyKey *string `json:"-"`
}

// ListItem is the truncated projection returned by GET /api/jobs.
type ListItem struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	DeployedURL *string   `json:"deployedUrl"`
}

// TruncatePrompt implements the list-projection rule from spec.md §4.5:
// truncate at 100 characters, appending "…" only when truncation actually
// occurred. Operates on runes so multi-byte prompts truncate correctly.
func TruncatePrompt(prompt string) string {
	r := []rune(prompt)
	if len(r) <= 100 {
		return prompt
	}
	return string(r[:100]) + "…"
}

// GeneratedFile is one path+content pair returned by the LLM client and
// consumed by the framework registry and sandbox driver.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NimbusConfig is the optional nimbus.config.json descriptor a generated
// project may embed, and the canonical form the framework registry writes
// back after normalization.
type NimbusConfig struct {
	Framework   string `json:"framework,omitempty"`
	Target      string `json:"target,omitempty"`
	AssetsDir   string `json:"assetsDir,omitempty"`
	WorkerEntry string `json:"workerEntry,omitempty"`
}
