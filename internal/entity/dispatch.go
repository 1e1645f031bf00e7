package entity

import (
	"time"

	"gorm.io/datatypes"
)

// DispatchStatus 分发事件状态
type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "pending"
	DispatchStatusProcessing DispatchStatus = "processing"
	DispatchStatusCompleted  DispatchStatus = "completed"
	DispatchStatusFailed     DispatchStatus = "failed"
	DispatchStatusRetrying   DispatchStatus = "retrying"
	DispatchStatusCancelled  DispatchStatus = "cancelled"
)

// DbDispatchEvent 持久化队列中的一条事件
type DbDispatchEvent struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)"`
	Queue       string         `gorm:"type:varchar(100);not null;index"`
	Name        string         `gorm:"type:varchar(100);not null"`
	Key         string         `gorm:"column:event_key;type:varchar(64);index"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	Status      DispatchStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Attempts    int            `gorm:"not null;default:0"`
	MaxAttempts int            `gorm:"not null;default:3"`
	ScheduledAt *time.Time     `gorm:"index"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	Error       string         `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DbDispatchEvent) TableName() string {
	return "dispatch_events"
}
