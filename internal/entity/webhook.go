package entity

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DbWebhookEvent 服务商回调审计记录，处理前写入
type DbWebhookEvent struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	Provider        string         `gorm:"column:provider;type:varchar(64);index" json:"provider"`
	ProviderJobID   string         `gorm:"column:provider_job_id;type:varchar(128);index" json:"provider_job_id"`
	JobID           *string        `gorm:"column:job_id;type:varchar(36);index" json:"job_id,omitempty"`
	EventStatus     string         `gorm:"column:event_status;type:varchar(32)" json:"event_status"`
	Payload         datatypes.JSON `gorm:"column:payload" json:"payload"`
	SignatureValid  bool           `gorm:"column:signature_valid;not null;default:false" json:"signature_valid"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"column:processing_error;type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (DbWebhookEvent) TableName() string {
	return "webhook_events"
}

// VideoWebhookPayload 视频服务商回调内容
type VideoWebhookPayload struct {
	ID            string `json:"id"`
	ProviderJobID string `json:"provider_job_id"`
	Provider      string `json:"provider"`
	Status        string `json:"status"`
	VideoURL      string `json:"video_url"`
	ThumbnailURL  string `json:"thumbnail_url"`
	Duration      int    `json:"duration"`
	Content       *struct {
		VideoURL     string `json:"video_url"`
		LastFrameURL string `json:"last_frame_url"`
	} `json:"content,omitempty"`
	// Error 可能是字符串，也可能是 {code, message} 对象
	Error json.RawMessage `json:"error,omitempty"`
}

// JobIdentifier 兼容两种任务标识字段
func (p VideoWebhookPayload) JobIdentifier() string {
	if p.ProviderJobID != "" {
		return p.ProviderJobID
	}
	return p.ID
}

// ResultURL 兼容两种结果字段
func (p VideoWebhookPayload) ResultURL() string {
	if p.VideoURL != "" {
		return p.VideoURL
	}
	if p.Content != nil {
		return p.Content.VideoURL
	}
	return ""
}

// ThumbnailOrLastFrame 缩略图地址
func (p VideoWebhookPayload) ThumbnailOrLastFrame() string {
	if p.ThumbnailURL != "" {
		return p.ThumbnailURL
	}
	if p.Content != nil {
		return p.Content.LastFrameURL
	}
	return ""
}

// FailureMessage 失败原因
func (p VideoWebhookPayload) FailureMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(p.Error, &text); err == nil {
		return text
	}
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Error, &detail); err == nil {
		if detail.Message != "" {
			return detail.Message
		}
		return detail.Code
	}
	return string(p.Error)
}

type WebhookAckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
