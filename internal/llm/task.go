package llm

import (
	"context"
	"strings"
	"time"
)

// TaskStatus 服务商异步任务的统一状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsFinal 服务商不会再改变该任务
func (s TaskStatus) IsFinal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCancelled
}

// AsyncTask 一次视频生成任务的快照
type AsyncTask struct {
	ID           string
	ProviderID   string
	Status       TaskStatus
	VideoURL     string
	LastFrameURL string
	Error        string
	Raw          []byte
	UpdatedAt    time.Time
}

// TaskPoller 可主动查询任务状态的服务商，回调丢失时由巡检使用
type TaskPoller interface {
	Poll(ctx context.Context, taskID string) (*AsyncTask, error)
}

// MapTaskStatus 把各服务商的状态字符串归一，未知状态按进行中处理
func MapTaskStatus(status string) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "queued", "in_queue", "created":
		return TaskStatusPending
	case "running", "processing", "in_progress", "started":
		return TaskStatusRunning
	case "succeeded", "success", "completed", "done", "ok":
		return TaskStatusSucceeded
	case "failed", "failure", "error", "expired":
		return TaskStatusFailed
	case "cancelled", "canceled", "aborted", "stopped":
		return TaskStatusCancelled
	default:
		return TaskStatusRunning
	}
}
