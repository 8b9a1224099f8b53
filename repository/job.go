package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new pending job
func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = entity.JobStatusPending
	job.Progress = 0
	return r.db.WithContext(ctx).Create(job).Error
}

// FindByID finds a job by its ID
func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim moves a pending job to processing and takes a lease on it. Only one
// caller can win: the update is conditional on the pending status.
func (r *JobRepository) Claim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) (*entity.Job, error) {
	now := time.Now()
	expires := now.Add(lease)

	result := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, entity.JobStatusPending).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusProcessing,
			"progress":         0,
			"started_at":       now,
			"lease_owner":      owner,
			"lease_expires_at": expires,
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrJobNotClaimable
	}
	return r.FindByID(ctx, id)
}

// UpdateProgress raises progress and extends the lease. Lower or equal values
// are ignored so progress never goes backwards.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, lease time.Duration) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND progress < ?", id, entity.JobStatusProcessing, progress).
		Updates(map[string]interface{}{
			"progress":         progress,
			"lease_expires_at": now.Add(lease),
			"updated_at":       now,
		}).Error
}

// Complete sets status, progress 100 and the result reference in one update.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, resultRef string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, entity.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusCompleted,
			"progress":         100,
			"result_ref":       resultRef,
			"completed_at":     now,
			"lease_owner":      "",
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("complete job %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Fail records the failure and leaves progress where it was.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, failure entity.JobFailure) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, entity.JobStatusProcessing).
		Updates(failureUpdates(failure, now))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("fail job %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// FailExpiredLeases fails every processing job whose lease ran out before now.
func (r *JobRepository) FailExpiredLeases(ctx context.Context, now time.Time, failure entity.JobFailure) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("status = ? AND lease_expires_at < ?", entity.JobStatusProcessing, now).
		Updates(failureUpdates(failure, now))
	return result.RowsAffected, result.Error
}

// FindStalePending returns pending jobs created before olderThan, oldest first.
func (r *JobRepository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", entity.JobStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func failureUpdates(failure entity.JobFailure, now time.Time) map[string]interface{} {
	message := failure.Message
	if message == "" {
		message = "evaluation failed"
	}
	return map[string]interface{}{
		"status":              entity.JobStatusFailed,
		"error":               message,
		"retryable":           failure.Retryable,
		"retry_after_seconds": int(failure.RetryAfter / time.Second),
		"completed_at":        now,
		"lease_owner":         "",
		"lease_expires_at":    nil,
		"updated_at":          now,
	}
}
