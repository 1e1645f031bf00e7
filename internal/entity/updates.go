package entity

import "time"

// UserUpdates 用户更新字段，余额只能通过积分流水变更
type UserUpdates struct {
	DisplayName  *string
	Role         *string
	Plan         *string
	PasswordHash *string
	IsActive     *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u UserUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.DisplayName != nil {
		updates["display_name"] = *u.DisplayName
	}
	if u.Role != nil {
		updates["role"] = *u.Role
	}
	if u.Plan != nil {
		updates["plan"] = *u.Plan
	}
	if u.PasswordHash != nil {
		updates["password_hash"] = *u.PasswordHash
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u UserUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// ProviderUpdates 提供商更新字段
type ProviderUpdates struct {
	Name        *string
	Description *string
	APIKey      *string
	BaseURL     *string
	Config      *JSONMap
	IsActive    *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u ProviderUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.APIKey != nil {
		updates["api_key"] = *u.APIKey
	}
	if u.BaseURL != nil {
		updates["base_url"] = *u.BaseURL
	}
	if u.Config != nil {
		updates["config"] = *u.Config
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u ProviderUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// JobUpdates 生成任务更新字段
//
// 没有 CostCredits：扣费金额在创建后不可修改，退款按它原样返还。
type JobUpdates struct {
	Status             *JobStatus
	ImageProvider      *string
	VideoProvider      *string
	OutputImageAssetID *string
	OutputVideoAssetID *string
	ProviderJobID      *string
	ClearProviderJobID bool
	ErrorMessage       *string
	RetryCount         *int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ClearCompletedAt   bool
	ClearRefundedAt    bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u JobUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.ImageProvider != nil {
		updates["image_provider"] = *u.ImageProvider
	}
	if u.VideoProvider != nil {
		updates["video_provider"] = *u.VideoProvider
	}
	if u.OutputImageAssetID != nil {
		updates["output_image_asset_id"] = *u.OutputImageAssetID
	}
	if u.OutputVideoAssetID != nil {
		updates["output_video_asset_id"] = *u.OutputVideoAssetID
	}
	if u.ClearProviderJobID {
		updates["provider_job_id"] = nil
	} else if u.ProviderJobID != nil {
		updates["provider_job_id"] = *u.ProviderJobID
	}
	if u.ErrorMessage != nil {
		updates["error_message"] = *u.ErrorMessage
	}
	if u.RetryCount != nil {
		updates["retry_count"] = *u.RetryCount
	}
	if u.StartedAt != nil {
		updates["started_at"] = *u.StartedAt
	}
	if u.ClearCompletedAt {
		updates["completed_at"] = nil
	} else if u.CompletedAt != nil {
		updates["completed_at"] = *u.CompletedAt
	}
	if u.ClearRefundedAt {
		updates["refunded_at"] = nil
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u JobUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// AssetUpdates 资产更新字段，仅允许标注类信息
type AssetUpdates struct {
	Metadata     *JSONMap
	ThumbnailURL *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u AssetUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Metadata != nil {
		updates["metadata"] = *u.Metadata
	}
	if u.ThumbnailURL != nil {
		updates["thumbnail_url"] = *u.ThumbnailURL
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u AssetUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// ModelUpdates 模型更新字段
type ModelUpdates struct {
	Name           *string
	Description    *string
	Price          *string
	Capability     *string
	SupportedSizes *StringArray
	Settings       *JSONMap
	IsActive       *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u ModelUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.Price != nil {
		updates["price"] = *u.Price
	}
	if u.Capability != nil {
		updates["capability"] = *u.Capability
	}
	if u.SupportedSizes != nil {
		updates["supported_sizes"] = *u.SupportedSizes
	}
	if u.Settings != nil {
		updates["settings"] = *u.Settings
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u ModelUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
