package entity

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// JobKind 生成任务类型
type JobKind string

const (
	JobKindImage        JobKind = "IMAGE"
	JobKindVideo        JobKind = "VIDEO"
	JobKindImageToVideo JobKind = "IMAGE_TO_VIDEO"
)

// ParseJobKind 解析任务类型，大小写不敏感
func ParseJobKind(raw string) (JobKind, bool) {
	switch JobKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case JobKindImage:
		return JobKindImage, true
	case JobKindVideo:
		return JobKindVideo, true
	case JobKindImageToVideo:
		return JobKindImageToVideo, true
	default:
		return "", false
	}
}

// Cost 返回该类型任务固定消耗的积分，VIDEO 同时生成图片和视频，按组合计价
func (k JobKind) Cost() int64 {
	switch k {
	case JobKindImage:
		return 5
	case JobKindVideo:
		return 20
	case JobKindImageToVideo:
		return 15
	default:
		return 0
	}
}

// NeedsImageStage 是否需要先生成图片
func (k JobKind) NeedsImageStage() bool {
	return k == JobKindImage || k == JobKindVideo
}

// NeedsVideoStage 是否需要生成视频
func (k JobKind) NeedsVideoStage() bool {
	return k == JobKindVideo || k == JobKindImageToVideo
}

// JobStatus 生成任务状态
type JobStatus string

const (
	JobStatusQueued          JobStatus = "QUEUED"
	JobStatusGeneratingImage JobStatus = "GENERATING_IMAGE"
	JobStatusImageReady      JobStatus = "IMAGE_READY"
	JobStatusGeneratingVideo JobStatus = "GENERATING_VIDEO"
	JobStatusVideoReady      JobStatus = "VIDEO_READY"
	JobStatusFailed          JobStatus = "FAILED"
)

// Progress 由状态唯一决定的进度百分比
func (s JobStatus) Progress() int {
	switch s {
	case JobStatusQueued:
		return 5
	case JobStatusGeneratingImage:
		return 25
	case JobStatusImageReady:
		return 50
	case JobStatusGeneratingVideo:
		return 75
	case JobStatusVideoReady:
		return 100
	default:
		return 0
	}
}

// NonTerminalStatuses 返回某类任务所有非终态
func NonTerminalStatuses(kind JobKind) []JobStatus {
	switch kind {
	case JobKindImage:
		return []JobStatus{JobStatusQueued, JobStatusGeneratingImage}
	case JobKindImageToVideo:
		return []JobStatus{JobStatusQueued, JobStatusImageReady, JobStatusGeneratingVideo}
	default:
		return []JobStatus{JobStatusQueued, JobStatusGeneratingImage, JobStatusImageReady, JobStatusGeneratingVideo}
	}
}

// JobConfig 生成参数，以 JSON 形式保存在任务上
type JobConfig struct {
	Style         string `json:"style,omitempty"`
	Quality       string `json:"quality,omitempty"`
	Size          string `json:"size,omitempty"`
	Duration      int    `json:"duration,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	GenerateAudio bool   `json:"generate_audio,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
}

// DbGenerationJob 一次生成请求
type DbGenerationJob struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    uint    `gorm:"column:user_id;index;not null" json:"user_id"`
	ProjectID *string `gorm:"column:project_id;type:varchar(64);index" json:"project_id,omitempty"`

	Kind   JobKind        `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Status JobStatus      `gorm:"column:status;type:varchar(32);index;not null" json:"status"`
	Prompt string         `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Config datatypes.JSON `gorm:"column:config" json:"config"`

	ImageProvider string `gorm:"column:image_provider;type:varchar(64)" json:"image_provider,omitempty"`
	VideoProvider string `gorm:"column:video_provider;type:varchar(64)" json:"video_provider,omitempty"`
	CostCredits   int64  `gorm:"column:cost_credits;not null" json:"cost_credits"`

	InputAssetID       *string `gorm:"column:input_asset_id;type:varchar(36)" json:"input_asset_id,omitempty"`
	OutputImageAssetID *string `gorm:"column:output_image_asset_id;type:varchar(36)" json:"output_image_asset_id,omitempty"`
	OutputVideoAssetID *string `gorm:"column:output_video_asset_id;type:varchar(36)" json:"output_video_asset_id,omitempty"`
	ProviderJobID      *string `gorm:"column:provider_job_id;type:varchar(128);uniqueIndex" json:"provider_job_id,omitempty"`

	ErrorMessage string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	RetryCount   int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	RefundedAt   *time.Time `gorm:"column:refunded_at" json:"refunded_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (DbGenerationJob) TableName() string {
	return "generation_jobs"
}

// IsTerminal 当前状态对该任务是否为终态
func (j *DbGenerationJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusFailed, JobStatusVideoReady:
		return true
	case JobStatusImageReady:
		return j.Kind == JobKindImage
	default:
		return false
	}
}

// CanTransition 状态机是否允许从当前状态迁移到 to
func (j *DbGenerationJob) CanTransition(to JobStatus) bool {
	if j.IsTerminal() {
		return j.Status == JobStatusFailed && to == JobStatusQueued
	}
	switch to {
	case JobStatusFailed:
		return true
	case JobStatusGeneratingImage:
		return j.Status == JobStatusQueued && j.Kind.NeedsImageStage()
	case JobStatusImageReady:
		if j.Kind == JobKindImageToVideo {
			return j.Status == JobStatusQueued
		}
		return j.Status == JobStatusGeneratingImage
	case JobStatusGeneratingVideo:
		return j.Status == JobStatusImageReady && j.Kind.NeedsVideoStage()
	case JobStatusVideoReady:
		return j.Status == JobStatusGeneratingVideo
	default:
		return false
	}
}

// ParsedConfig 解析任务参数，解析失败时返回零值
func (j *DbGenerationJob) ParsedConfig() JobConfig {
	var cfg JobConfig
	if len(j.Config) == 0 {
		return cfg
	}
	_ = json.Unmarshal(j.Config, &cfg)
	return cfg
}

// GenerationJobQuery 任务列表查询参数
type GenerationJobQuery struct {
	BaseParams
	Status    string `json:"status" form:"status"`
	Kind      string `json:"kind" form:"kind"`
	ProjectID string `json:"project_id" form:"project_id"`
	UserID    uint   `json:"-" form:"-"`
}

// SubmitGenerationRequest 提交生成请求
type SubmitGenerationRequest struct {
	Kind         string  `json:"kind" binding:"required"`
	Prompt       string  `json:"prompt"`
	ProjectID    *string `json:"project_id"`
	InputAssetID *string `json:"input_asset_id"`

	Style         string `json:"style"`
	Quality       string `json:"quality"`
	Size          string `json:"size"`
	Duration      int    `json:"duration"`
	Resolution    string `json:"resolution"`
	GenerateAudio bool   `json:"generate_audio"`
	ClientID      string `json:"client_id"`
}

type SubmitGenerationResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Cost   int64     `json:"cost"`
}

// JobStatusView 任务状态视图
type JobStatusView struct {
	ID           string     `json:"id"`
	Kind         JobKind    `json:"kind"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Prompt       string     `json:"prompt"`
	CostCredits  int64      `json:"cost_credits"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ImageAsset   *AssetView `json:"image_asset,omitempty"`
	VideoAsset   *AssetView `json:"video_asset,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs []JobStatusView `json:"jobs"`
	Meta *Meta           `json:"meta"`
}
