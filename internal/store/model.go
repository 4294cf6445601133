package store

import (
	"time"

	"github.com/nimbusbuild/orchestrator/internal/job"
)

// jobRow is the gorm row shape for the jobs table. Field names are
// snake_cased by gorm's default naming strategy; the public job.Job type
// stays camelCase-friendly for JSON, matching the teacher's pattern of a
// distinct DB-facing struct (chat.Job) from the API-facing response shapes
// built ad hoc in the handlers. Indexes declared inline: "by status" and
// "by created_at DESC" (spec.md §4.5), plus the unique
// idx_jobs_idempotency_key that CreateJobOrGetExisting relies on.
type jobRow struct {
	ID     string `gorm:"primaryKey;size:32"`
	Prompt string `gorm:"type:text;not null"`
	Model  string `gorm:"size:128;not null"`
	Status string `gorm:"size:16;not null;index:idx_jobs_status"`

	CreatedAt   time.Time  `gorm:"index:idx_jobs_created_at,sort:desc;not null"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	ExpiresAt   *time.Time

	PreviewURL   *string `gorm:"size:512"`
	DeployedURL  *string `gorm:"size:512"`
	ErrorMessage *string `gorm:"type:text"`

	FileCount   int
	LinesOfCode int

	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	Cost              float64
	LLMLatencyMS      int64
	InstallDurationMS int64
	BuildDurationMS   int64
	DeployDurationMS  int64
	TotalDurationMS   int64

	BuildLogKey  *string `gorm:"size:256"`
	DeployLogKey *string `gorm:"size:256"`
	WorkerName   *string `gorm:"size:128"`
	SandboxID    *string `gorm:"size:128"`
	RequestID    string  `gorm:"size:64"`

	IdempotencyKey *string `gorm:"size:128;uniqueIndex:idx_jobs_idempotency_key"`
}

func (jobRow) TableName() string { return "jobs" }

func rowFromJob(j *job.Job) *jobRow {
	return &jobRow{
		ID:                j.ID,
		Prompt:            j.Prompt,
		Model:             j.Model,
		Status:            string(j.Status),
		CreatedAt:         j.CreatedAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
		ExpiresAt:         j.ExpiresAt,
		PreviewURL:        j.PreviewURL,
		DeployedURL:       j.DeployedURL,
		ErrorMessage:      j.ErrorMessage,
		FileCount:         j.FileCount,
		LinesOfCode:       j.LinesOfCode,
		PromptTokens:      j.Metrics.PromptTokens,
		CompletionTokens:  j.Metrics.CompletionTokens,
		TotalTokens:       j.Metrics.TotalTokens,
		Cost:              j.Metrics.Cost,
		LLMLatencyMS:      j.Metrics.LLMLatencyMS,
		InstallDurationMS: j.Metrics.InstallDurationMS,
		BuildDurationMS:   j.Metrics.BuildDurationMS,
		DeployDurationMS:  j.Metrics.DeployDurationMS,
		TotalDurationMS:   j.Metrics.TotalDurationMS,
		BuildLogKey:       j.BuildLogKey,
		DeployLogKey:      j.DeployLogKey,
		WorkerName:        j.WorkerName,
		SandboxID:         j.SandboxID,
		RequestID:         j.RequestID,
		IdempotencyKey:    j.IdempotencyKey,
	}
}

func (r *jobRow) toJob() *job.Job {
	return &job.Job{
		ID:           r.ID,
		Prompt:       r.Prompt,
		Model:        r.Model,
		Status:       job.Status(r.Status),
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ExpiresAt:    r.ExpiresAt,
		PreviewURL:   r.PreviewURL,
		DeployedURL:  r.DeployedURL,
		ErrorMessage: r.ErrorMessage,
		FileCount:    r.FileCount,
		LinesOfCode:  r.LinesOfCode,
		Metrics: job.Metrics{
			PromptTokens:      r.PromptTokens,
			CompletionTokens:  r.CompletionTokens,
			TotalTokens:       r.TotalTokens,
			Cost:              r.Cost,
			LLMLatencyMS:      r.LLMLatencyMS,
			InstallDurationMS: r.InstallDurationMS,
			BuildDurationMS:   r.BuildDurationMS,
			DeployDurationMS:  r.DeployDurationMS,
			TotalDurationMS:   r.TotalDurationMS,
		},
		BuildLogKey:  r.BuildLogKey,
		DeployLogKey: r.DeployLogKey,
		WorkerName:     r.WorkerName,
		SandboxID:      r.SandboxID,
		RequestID:      r.RequestID,
		IdempotencyKey: r.IdempotencyKey,
	}
}
