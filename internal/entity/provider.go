package entity

import (
	"strings"
	"time"
)

const (
	ProviderDriverOpenAI     = "openai"
	ProviderDriverVolcengine = "volcengine"
	ProviderDriverFake       = "fake"

	CapabilityImage = "image"
	CapabilityVideo = "video"
)

// DbProvider stores configurable generation provider metadata and credentials.
type DbProvider struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string    `gorm:"type:varchar(128);not null" json:"name"`
	Driver      string    `gorm:"type:varchar(64);not null" json:"driver"`
	Description string    `gorm:"type:text" json:"description"`
	APIKey      string    `gorm:"type:text" json:"api_key"`
	BaseURL     string    `gorm:"type:text" json:"base_url"`
	Config      JSONMap   `gorm:"type:json" json:"config"`
	IsActive    bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Models []DbModel `gorm:"foreignKey:ProviderID" json:"models,omitempty"`
}

// TableName overrides the table name for DbProvider.
func (DbProvider) TableName() string {
	return "llm_providers"
}

// DefaultModel 返回指定能力下第一个启用的模型
func (p *DbProvider) DefaultModel(capability string) (DbModel, bool) {
	if p == nil {
		return DbModel{}, false
	}
	for _, model := range p.Models {
		if model.IsActive && strings.EqualFold(model.Capability, capability) {
			return model, true
		}
	}
	return DbModel{}, false
}

// DbModel stores provider-specific model configuration.
type DbModel struct {
	ID uint `gorm:"primarykey" json:"id"`

	ProviderID string `gorm:"column:provider_id;type:varchar(64);index:idx_provider_model,priority:1;not null" json:"provider_id"`
	ModelID    string `gorm:"column:model_id;type:varchar(255);index:idx_provider_model,priority:2;not null" json:"model_id"`

	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Price       string `gorm:"type:varchar(64)" json:"price"`

	Capability     string      `gorm:"column:capability;type:varchar(16);not null;default:'image'" json:"capability"`
	SupportedSizes StringArray `gorm:"column:supported_sizes;type:json" json:"supported_sizes"`
	Settings       JSONMap     `gorm:"column:settings;type:json" json:"settings"`

	IsActive  bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name for DbModel.
func (DbModel) TableName() string {
	return "llm_models"
}

// SupportsSize 是否支持该尺寸，未声明尺寸时不限制
func (m DbModel) SupportsSize(size string) bool {
	size = strings.TrimSpace(size)
	if size == "" || len(m.SupportedSizes) == 0 {
		return true
	}
	for _, allowed := range m.SupportedSizes {
		if strings.EqualFold(allowed, size) {
			return true
		}
	}
	return false
}

// ProviderAdminView is the admin-facing provider representation.
type ProviderAdminView struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Driver      string                 `json:"driver"`
	Description string                 `json:"description,omitempty"`
	BaseURL     string                 `json:"base_url,omitempty"`
	HasAPIKey   bool                   `json:"has_api_key"`
	Config      JSONMap                `json:"config,omitempty"`
	IsActive    bool                   `json:"is_active"`
	Models      []ProviderModelSummary `json:"models,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// ProviderModelSummary 模型摘要
type ProviderModelSummary struct {
	ModelID        string   `json:"model_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Price          string   `json:"price,omitempty"`
	Capability     string   `json:"capability"`
	SupportedSizes []string `json:"supported_sizes,omitempty"`
	Settings       JSONMap  `json:"settings,omitempty"`
	IsActive       bool     `json:"is_active"`
}

// ModelToAdminView 将 DbModel 转换为 ProviderModelSummary
func ModelToAdminView(m DbModel) ProviderModelSummary {
	return ProviderModelSummary{
		ModelID:        m.ModelID,
		Name:           m.Name,
		Description:    m.Description,
		Price:          m.Price,
		Capability:     m.Capability,
		SupportedSizes: m.SupportedSizes.ToSlice(),
		Settings:       m.Settings,
		IsActive:       m.IsActive,
	}
}

// ProviderToAdminView 将 DbProvider 转换为 ProviderAdminView，API Key 不回显
func ProviderToAdminView(p DbProvider, includeModels bool) ProviderAdminView {
	view := ProviderAdminView{
		ID:          p.ID,
		Name:        p.Name,
		Driver:      p.Driver,
		Description: p.Description,
		BaseURL:     p.BaseURL,
		HasAPIKey:   strings.TrimSpace(p.APIKey) != "",
		Config:      p.Config,
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if includeModels {
		view.Models = make([]ProviderModelSummary, 0, len(p.Models))
		for _, model := range p.Models {
			view.Models = append(view.Models, ModelToAdminView(model))
		}
	}
	return view
}

// CreateProviderRequest defines payload for creating providers.
type CreateProviderRequest struct {
	ID          string                 `json:"id" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Driver      string                 `json:"driver" binding:"required"`
	Description string                 `json:"description"`
	APIKey      string                 `json:"api_key"`
	BaseURL     string                 `json:"base_url"`
	Config      map[string]interface{} `json:"config"`
	IsActive    *bool                  `json:"is_active"`
}

// UpdateProviderRequest defines payload for updating providers.
type UpdateProviderRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	APIKey      *string                `json:"api_key"`
	BaseURL     *string                `json:"base_url"`
	Config      map[string]interface{} `json:"config"`
	IsActive    *bool                  `json:"is_active"`
}

// CreateModelRequest defines payload for creating provider models.
type CreateModelRequest struct {
	ModelID        string                 `json:"model_id" binding:"required"`
	Name           string                 `json:"name" binding:"required"`
	Description    string                 `json:"description"`
	Price          string                 `json:"price"`
	Capability     string                 `json:"capability" binding:"required"`
	SupportedSizes []string               `json:"supported_sizes"`
	Settings       map[string]interface{} `json:"settings"`
	IsActive       *bool                  `json:"is_active"`
}

// UpdateModelRequest defines payload for updating provider models.
type UpdateModelRequest struct {
	Name           *string                `json:"name"`
	Description    *string                `json:"description"`
	Price          *string                `json:"price"`
	Capability     *string                `json:"capability"`
	SupportedSizes []string               `json:"supported_sizes"`
	Settings       map[string]interface{} `json:"settings"`
	IsActive       *bool                  `json:"is_active"`
}
