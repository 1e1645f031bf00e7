package sql

import (
	"context"
	"fmt"
	"time"

	"vidgenie/internal/entity"
)

// CreateWebhookEvent stores a raw webhook delivery for audit.
func (r *GormRepository) CreateWebhookEvent(ctx context.Context, event *entity.DbWebhookEvent) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if event == nil {
		return fmt.Errorf("webhook event is nil")
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// MarkWebhookEventProcessed records the outcome of handling a webhook.
func (r *GormRepository) MarkWebhookEventProcessed(ctx context.Context, id uint, jobID *string, processingErr string) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid webhook event id")
	}
	updates := map[string]interface{}{
		"processed_at":     time.Now(),
		"processing_error": processingErr,
	}
	if jobID != nil {
		updates["job_id"] = *jobID
	}
	return r.db.WithContext(ctx).Model(&entity.DbWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
