package entity

import "time"

const (
	AssetStatusReady      = "ready"
	AssetStatusProcessing = "processing"
	AssetStatusFailed     = "failed"
)

// DbAsset 已持久化的生成媒体
type DbAsset struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    uint    `gorm:"column:user_id;index;not null" json:"user_id"`
	ProjectID *string `gorm:"column:project_id;type:varchar(64);index" json:"project_id,omitempty"`
	JobID     *string `gorm:"column:job_id;type:varchar(36);index" json:"job_id,omitempty"`

	Kind            Modality `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	Filename        string   `gorm:"column:filename;type:varchar(255)" json:"filename"`
	MimeType        string   `gorm:"column:mime_type;type:varchar(128)" json:"mime_type"`
	FileSize        int64    `gorm:"column:file_size" json:"file_size"`
	Width           int      `gorm:"column:width" json:"width,omitempty"`
	Height          int      `gorm:"column:height" json:"height,omitempty"`
	DurationSeconds int      `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`

	StorageBackend string `gorm:"column:storage_backend;type:varchar(32)" json:"storage_backend"`
	StorageKey     string `gorm:"column:storage_key;type:varchar(512);not null" json:"storage_key"`
	PublicURL      string `gorm:"column:public_url;type:text" json:"public_url"`
	ThumbnailURL   string `gorm:"column:thumbnail_url;type:text" json:"thumbnail_url,omitempty"`
	SourceURL      string `gorm:"column:source_url;type:text" json:"-"`

	Provider string  `gorm:"column:provider;type:varchar(64)" json:"provider"`
	Prompt   string  `gorm:"column:prompt;type:text" json:"prompt"`
	Status   string  `gorm:"column:status;type:varchar(16);not null;default:'ready'" json:"status"`
	Metadata JSONMap `gorm:"column:metadata;type:json" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DbAsset) TableName() string {
	return "assets"
}

// AssetQuery 资产列表查询参数
type AssetQuery struct {
	BaseParams
	Kind      string `json:"kind" form:"kind"`
	ProjectID string `json:"project_id" form:"project_id"`
	UserID    uint   `json:"-" form:"-"`
}

// AssetView 返回给客户端的资产视图
type AssetView struct {
	ID              string    `json:"id"`
	Kind            Modality  `json:"kind"`
	Filename        string    `json:"filename"`
	MimeType        string    `json:"mime_type"`
	FileSize        int64     `json:"file_size"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	URL             string    `json:"url"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	Provider        string    `json:"provider"`
	Prompt          string    `json:"prompt"`
	Status          string    `json:"status"`
	Metadata        JSONMap   `json:"metadata,omitempty"`
	JobID           *string   `json:"job_id,omitempty"`
	ProjectID       *string   `json:"project_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ToView 转换为客户端视图
func (a *DbAsset) ToView() *AssetView {
	if a == nil {
		return nil
	}
	return &AssetView{
		ID:              a.ID,
		Kind:            a.Kind,
		Filename:        a.Filename,
		MimeType:        a.MimeType,
		FileSize:        a.FileSize,
		Width:           a.Width,
		Height:          a.Height,
		DurationSeconds: a.DurationSeconds,
		URL:             a.PublicURL,
		ThumbnailURL:    a.ThumbnailURL,
		Provider:        a.Provider,
		Prompt:          a.Prompt,
		Status:          a.Status,
		Metadata:        a.Metadata,
		JobID:           a.JobID,
		ProjectID:       a.ProjectID,
		CreatedAt:       a.CreatedAt,
	}
}

type AssetListResponse struct {
	Assets []AssetView `json:"assets"`
	Meta   *Meta       `json:"meta"`
}

// AssetMetadataRequest SEO/描述信息标注
type AssetMetadataRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
	AltText     *string  `json:"alt_text"`
}
