package store

import (
	"context"
	"errors"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"gorm.io/gorm"
)

// GormStore implements Store over *gorm.DB, following the teacher's
// internal/chat.Repo: each method opens with r.db.WithContext(ctx) and does
// exactly one statement.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-connected *gorm.DB and ensures the jobs
// table exists.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, apperr.Wrap(apperr.StoreFailure, err, "automigrate jobs table")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateJob(ctx context.Context, j *job.Job) error {
	row := rowFromJob(j)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return apperr.Wrap(apperr.StoreFailure, err, "create job")
	}
	return nil
}

// CreateJobOrGetExisting implements the §4.1 idempotent retry guard,
// grounded on the teacher's Repo.CreateJobOrGetExisting
// (internal/chat/repo.go): attempt the insert, and on a unique-constraint
// violation against idx_jobs_idempotency_key, fetch and return the row that
// already won the race instead of erroring.
func (s *GormStore) CreateJobOrGetExisting(ctx context.Context, j *job.Job) (*job.Job, bool, error) {
	if j.IdempotencyKey == nil || *j.IdempotencyKey == "" {
		if err := s.CreateJob(ctx, j); err != nil {
			return nil, false, err
		}
		return j, true, nil
	}

	row := rowFromJob(j)
	err := s.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return j, true, nil
	}

	var existingRow jobRow
	getErr := s.db.WithContext(ctx).
		Where("idempotency_key = ?", *j.IdempotencyKey).
		First(&existingRow).Error
	if getErr == nil {
		return existingRow.toJob(), false, nil
	}
	return nil, false, apperr.Wrap(apperr.StoreFailure, err, "create job")
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "job not found")
		}
		return nil, apperr.Wrap(apperr.StoreFailure, err, "get job")
	}
	return row.toJob(), nil
}

func (s *GormStore) ListJobs(ctx context.Context, limit int) ([]job.ListItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []jobRow
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.StoreFailure, err, "list jobs")
	}
	items := make([]job.ListItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, job.ListItem{
			ID:          r.ID,
			Prompt:      job.TruncatePrompt(r.Prompt),
			Model:       r.Model,
			Status:      job.Status(r.Status),
			CreatedAt:   r.CreatedAt,
			DeployedURL: r.DeployedURL,
		})
	}
	return items, nil
}

func (s *GormStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND status = ?", id, string(job.StatusPending)).
		Updates(map[string]any{
			"status":     string(job.StatusRunning),
			"started_at": startedAt,
		})
	if res.Error != nil {
		return apperr.Wrap(apperr.StoreFailure, res.Error, "mark running")
	}
	return nil
}

func (s *GormStore) MarkCompleted(ctx context.Context, id string, m job.Metrics, opts CompleteOptions) error {
	updates := map[string]any{
		"status":              string(job.StatusCompleted),
		"completed_at":        opts.CompletedAt,
		"expires_at":          opts.ExpiresAt,
		"file_count":          opts.FileCount,
		"lines_of_code":       opts.LinesOfCode,
		"prompt_tokens":       m.PromptTokens,
		"completion_tokens":   m.CompletionTokens,
		"total_tokens":        m.TotalTokens,
		"cost":                m.Cost,
		"llm_latency_ms":      m.LLMLatencyMS,
		"install_duration_ms": m.InstallDurationMS,
		"build_duration_ms":   m.BuildDurationMS,
		"deploy_duration_ms":  m.DeployDurationMS,
		"total_duration_ms":   m.TotalDurationMS,
	}
	if opts.WorkerName != "" {
		updates["worker_name"] = opts.WorkerName
	}
	if opts.BuildLogKey != "" {
		updates["build_log_key"] = opts.BuildLogKey
	}
	if opts.DeployLogKey != "" {
		updates["deploy_log_key"] = opts.DeployLogKey
	}
	if opts.PreviewURL != "" {
		updates["preview_url"] = opts.PreviewURL
	}
	if opts.DeployedURL != "" {
		updates["deployed_url"] = opts.DeployedURL
	}
	res := s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return apperr.Wrap(apperr.StoreFailure, res.Error, "mark completed")
	}
	return nil
}

func (s *GormStore) MarkFailed(ctx context.Context, id string, message string, opts FailOptions) error {
	updates := map[string]any{
		"status":        string(job.StatusFailed),
		"error_message": message,
		"completed_at":  opts.CompletedAt,
		"expires_at":    opts.ExpiresAt,
	}
	if opts.BuildLogKey != "" {
		updates["build_log_key"] = opts.BuildLogKey
	}
	if opts.DeployLogKey != "" {
		updates["deploy_log_key"] = opts.DeployLogKey
	}
	res := s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return apperr.Wrap(apperr.StoreFailure, res.Error, "mark failed")
	}
	return nil
}

func (s *GormStore) GetJobLogKeys(ctx context.Context, id string) (LogKeys, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).Select("build_log_key", "deploy_log_key").First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LogKeys{}, apperr.New(apperr.NotFound, "job not found")
		}
		return LogKeys{}, apperr.Wrap(apperr.StoreFailure, err, "get log keys")
	}
	return LogKeys{BuildLogKey: row.BuildLogKey, DeployLogKey: row.DeployLogKey}, nil
}

func (s *GormStore) SweepCandidates(ctx context.Context, now time.Time, limit int) ([]job.Job, error) {
	var rows []jobRow
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", []string{string(job.StatusCompleted), string(job.StatusFailed)}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.StoreFailure, err, "sweep candidates")
	}
	out := make([]job.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toJob())
	}
	return out, nil
}

func (s *GormStore) MarkExpired(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":         string(job.StatusExpired),
		"worker_name":    nil,
		"build_log_key":  nil,
		"deploy_log_key": nil,
	})
	if res.Error != nil {
		return apperr.Wrap(apperr.StoreFailure, res.Error, "mark expired")
	}
	return nil
}
