package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidgenie/internal/entity"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultQueue       = "generation"
	defaultMaxAttempts = 3
	maxBackoff         = time.Hour
)

// EnqueueOptions 入队参数
type EnqueueOptions struct {
	MaxAttempts int
	ScheduleAt  *time.Time
}

// QueueDispatcher 基于数据库表的持久化队列，至少投递一次
type QueueDispatcher struct {
	db    *gorm.DB
	queue string
	now   func() time.Time
}

func NewQueueDispatcher(db *gorm.DB, queue string) *QueueDispatcher {
	if strings.TrimSpace(queue) == "" {
		queue = DefaultQueue
	}
	return &QueueDispatcher{db: db, queue: queue, now: time.Now}
}

func (q *QueueDispatcher) Name() string {
	return q.queue
}

// Dispatch 入队，立即可被 worker 取走
func (q *QueueDispatcher) Dispatch(ctx context.Context, event Event) error {
	_, err := q.Enqueue(ctx, event, EnqueueOptions{})
	return err
}

// Enqueue 写入一条待处理事件
func (q *QueueDispatcher) Enqueue(ctx context.Context, event Event, opts EnqueueOptions) (*entity.DbDispatchEvent, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("dispatch queue is not initialised")
	}
	if strings.TrimSpace(event.Name) == "" {
		return nil, errors.New("event name is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	row := &entity.DbDispatchEvent{
		ID:          uuid.NewString(),
		Queue:       q.queue,
		Name:        event.Name,
		Key:         event.Key,
		Payload:     datatypes.JSON(event.Payload),
		Status:      entity.DispatchStatusPending,
		MaxAttempts: opts.MaxAttempts,
		ScheduledAt: opts.ScheduleAt,
	}
	if err := q.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", event.Name, err)
	}
	return row, nil
}

// Dequeue 取出下一条到期事件并标记为处理中，没有事件时返回 nil
func (q *QueueDispatcher) Dequeue(ctx context.Context) (*entity.DbDispatchEvent, error) {
	var row entity.DbDispatchEvent
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.now()
		if err := tx.
			Where("queue = ? AND status IN ?", q.queue, []entity.DispatchStatus{entity.DispatchStatusPending, entity.DispatchStatusRetrying}).
			Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
			Order("created_at ASC").
			First(&row).Error; err != nil {
			return err
		}

		// 多个 worker 可能选中同一行，只有状态未变的那个能认领
		result := tx.Model(&entity.DbDispatchEvent{}).
			Where("id = ? AND status = ?", row.ID, row.Status).
			Updates(map[string]interface{}{
				"status":     entity.DispatchStatusProcessing,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		row.Status = entity.DispatchStatusProcessing
		row.StartedAt = &now
		row.Attempts++
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue event: %w", err)
	}
	return &row, nil
}

func (q *QueueDispatcher) MarkCompleted(ctx context.Context, id string) error {
	now := q.now()
	return q.db.WithContext(ctx).Model(&entity.DbDispatchEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       entity.DispatchStatusCompleted,
			"completed_at": now,
			"error":        "",
		}).Error
}

// MarkFailed 未达上限时按指数退避重新排期，否则置为失败
func (q *QueueDispatcher) MarkFailed(ctx context.Context, id string, cause error) error {
	var row entity.DbDispatchEvent
	if err := q.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to find event: %w", err)
	}

	now := q.now()
	updates := map[string]interface{}{
		"failed_at": now,
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}
	if row.Attempts < row.MaxAttempts {
		scheduleAt := now.Add(calculateBackoff(row.Attempts))
		updates["status"] = entity.DispatchStatusRetrying
		updates["scheduled_at"] = scheduleAt
	} else {
		updates["status"] = entity.DispatchStatusFailed
		updates["completed_at"] = now
	}
	return q.db.WithContext(ctx).Model(&entity.DbDispatchEvent{}).Where("id = ?", id).Updates(updates).Error
}

// Cancel 取消一条尚未开始的事件
func (q *QueueDispatcher) Cancel(ctx context.Context, id string) error {
	result := q.db.WithContext(ctx).Model(&entity.DbDispatchEvent{}).
		Where("id = ? AND status IN ?", id, []entity.DispatchStatus{entity.DispatchStatusPending, entity.DispatchStatusRetrying}).
		Update("status", entity.DispatchStatusCancelled)
	if result.Error != nil {
		return fmt.Errorf("failed to cancel event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("event not found or not in cancellable state")
	}
	return nil
}

// CancelByKey 取消某业务对象所有尚未开始的事件
func (q *QueueDispatcher) CancelByKey(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, nil
	}
	result := q.db.WithContext(ctx).Model(&entity.DbDispatchEvent{}).
		Where("queue = ? AND event_key = ? AND status IN ?", q.queue, key, []entity.DispatchStatus{entity.DispatchStatusPending, entity.DispatchStatusRetrying}).
		Update("status", entity.DispatchStatusCancelled)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RequeueStale 把进程崩溃后遗留在处理中的事件放回队列
func (q *QueueDispatcher) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().Add(-olderThan)
	result := q.db.WithContext(ctx).Model(&entity.DbDispatchEvent{}).
		Where("queue = ? AND status = ? AND started_at < ?", q.queue, entity.DispatchStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       entity.DispatchStatusRetrying,
			"scheduled_at": q.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to requeue stale events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOldEvents 删除早于 olderThan 的已结束事件
func (q *QueueDispatcher) DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().Add(-olderThan)
	result := q.db.WithContext(ctx).
		Where("queue = ? AND status IN ? AND completed_at < ?", q.queue,
			[]entity.DispatchStatus{entity.DispatchStatusCompleted, entity.DispatchStatusFailed}, cutoff).
		Delete(&entity.DbDispatchEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetEvent 按 ID 查询
func (q *QueueDispatcher) GetEvent(ctx context.Context, id string) (*entity.DbDispatchEvent, error) {
	var row entity.DbDispatchEvent
	if err := q.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// calculateBackoff 2^attempt 秒，最多一小时
func calculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 12 {
		return maxBackoff
	}
	backoff := time.Duration(1<<attempt) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func toEvent(row *entity.DbDispatchEvent) Event {
	return Event{
		ID:      row.ID,
		Name:    row.Name,
		Key:     row.Key,
		Payload: []byte(row.Payload),
		Attempt: row.Attempts,
	}
}

var (
	_ Dispatcher = (*QueueDispatcher)(nil)
	_ Canceller  = (*QueueDispatcher)(nil)
)
