package sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vidgenie/internal/entity"

	"gorm.io/gorm"
)

var jobSortColumns = map[string]struct{}{
	"created_at":  {},
	"updated_at":  {},
	"status":      {},
	"retry_count": {},
}

// CreateJob persists a new generation job.
func (r *GormRepository) CreateJob(ctx context.Context, job *entity.DbGenerationJob) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if job.UserID == 0 {
		return fmt.Errorf("invalid user id")
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// GetJob loads a job by ID.
func (r *GormRepository) GetJob(ctx context.Context, id string) (*entity.DbGenerationJob, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var job entity.DbGenerationJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobByProviderJobID loads a job by the provider-assigned task id.
func (r *GormRepository) GetJobByProviderJobID(ctx context.Context, providerJobID string) (*entity.DbGenerationJob, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	providerJobID = strings.TrimSpace(providerJobID)
	if providerJobID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var job entity.DbGenerationJob
	if err := r.db.WithContext(ctx).First(&job, "provider_job_id = ?", providerJobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// TransitionJob applies updates only while the job is in one of the from statuses.
// It returns gorm.ErrRecordNotFound when no row matched.
func (r *GormRepository) TransitionJob(ctx context.Context, id string, from []entity.JobStatus, updates entity.JobUpdates) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if updates.IsEmpty() {
		return nil
	}

	query := r.db.WithContext(ctx).Model(&entity.DbGenerationJob{}).Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	result := query.Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkJobRefunded stamps refunded_at once; a second call returns gorm.ErrRecordNotFound.
func (r *GormRepository) MarkJobRefunded(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	result := r.db.WithContext(ctx).
		Model(&entity.DbGenerationJob{}).
		Where("id = ? AND refunded_at IS NULL", id).
		Update("refunded_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListJobs returns paginated jobs.
func (r *GormRepository) ListJobs(ctx context.Context, params *entity.GenerationJobQuery) ([]entity.DbGenerationJob, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, errNotInitialised
	}
	if params == nil {
		params = &entity.GenerationJobQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbGenerationJob{})
	if params.UserID != 0 {
		query = query.Where("user_id = ?", params.UserID)
	}
	if status := strings.TrimSpace(params.Status); status != "" {
		query = query.Where("status = ?", strings.ToUpper(status))
	}
	if kind := strings.TrimSpace(params.Kind); kind != "" {
		query = query.Where("kind = ?", strings.ToUpper(kind))
	}
	if projectID := strings.TrimSpace(params.ProjectID); projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	query, page, pageSize := paginate(query, params.BaseParams)
	var jobs []entity.DbGenerationJob
	if err := query.Order(orderClause(params.BaseParams, jobSortColumns, "created_at DESC")).Find(&jobs).Error; err != nil {
		return nil, nil, err
	}
	return jobs, r.calculatePagination(total, page, pageSize), nil
}

// ListStaleJobs returns jobs in the given statuses not updated since before.
func (r *GormRepository) ListStaleJobs(ctx context.Context, statuses []entity.JobStatus, before time.Time, limit int) ([]entity.DbGenerationJob, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var jobs []entity.DbGenerationJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
