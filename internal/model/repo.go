package model

import (
	"context"
	"time"

	"vidgenie/internal/entity"
	"vidgenie/internal/model/sql"

	"gorm.io/gorm"
)

// Repository 定义数据库操作接口
type Repository interface {
	// Transaction 在同一事务中执行 fn，fn 返回错误时整体回滚
	Transaction(ctx context.Context, fn func(repo Repository) error) error

	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	DeleteUser(ctx context.Context, id uint) error
	CountUsers(ctx context.Context) (int64, error)

	// 积分
	DebitBalance(ctx context.Context, userID uint, amount int64) (int64, error)
	CreditBalance(ctx context.Context, userID uint, amount int64) (int64, error)
	AppendLedger(ctx context.Context, entry *entity.DbCreditLedger) error
	ListLedger(ctx context.Context, params *entity.CreditLedgerQuery) ([]entity.DbCreditLedger, *entity.Meta, error)
	SumLedger(ctx context.Context, userID uint) (int64, error)

	// 生成任务
	CreateJob(ctx context.Context, job *entity.DbGenerationJob) error
	GetJob(ctx context.Context, id string) (*entity.DbGenerationJob, error)
	GetJobByProviderJobID(ctx context.Context, providerJobID string) (*entity.DbGenerationJob, error)
	TransitionJob(ctx context.Context, id string, from []entity.JobStatus, updates entity.JobUpdates) error
	MarkJobRefunded(ctx context.Context, id string, at time.Time) error
	ListJobs(ctx context.Context, params *entity.GenerationJobQuery) ([]entity.DbGenerationJob, *entity.Meta, error)
	ListStaleJobs(ctx context.Context, statuses []entity.JobStatus, before time.Time, limit int) ([]entity.DbGenerationJob, error)

	// 资产
	CreateAsset(ctx context.Context, asset *entity.DbAsset) error
	GetAsset(ctx context.Context, id string) (*entity.DbAsset, error)
	GetAssetsByIDs(ctx context.Context, ids []string) ([]entity.DbAsset, error)
	ListAssets(ctx context.Context, params *entity.AssetQuery) ([]entity.DbAsset, *entity.Meta, error)
	UpdateAsset(ctx context.Context, id string, updates entity.AssetUpdates) error
	DeleteAsset(ctx context.Context, id string) error

	// 回调审计
	CreateWebhookEvent(ctx context.Context, event *entity.DbWebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, id uint, jobID *string, processingErr string) error

	// 服务商和模型
	CreateProvider(ctx context.Context, provider *entity.DbProvider) error
	UpdateProvider(ctx context.Context, id string, updates entity.ProviderUpdates) error
	DeleteProvider(ctx context.Context, id string) error
	ListProviders(ctx context.Context, includeInactive bool) ([]entity.DbProvider, error)
	GetProvider(ctx context.Context, id string) (*entity.DbProvider, error)
	GetProviderWithModel(ctx context.Context, providerID, modelID string, includeInactive bool) (*entity.DbProvider, *entity.DbModel, error)

	GetModel(ctx context.Context, providerID, modelID string) (*entity.DbModel, error)
	CreateModel(ctx context.Context, model *entity.DbModel) error
	UpdateModel(ctx context.Context, providerID, modelID string, updates entity.ModelUpdates) error
	DeleteModel(ctx context.Context, providerID, modelID string) error
	ListModels(ctx context.Context, providerID string, includeInactive bool) ([]entity.DbModel, error)
}

// gormRepository 把 sql.GormRepository 的事务方法适配为 Repository 接口
type gormRepository struct {
	*sql.GormRepository
}

// NewGormRepository 基于已打开的连接创建仓库
func NewGormRepository(db *gorm.DB) Repository {
	return gormRepository{GormRepository: sql.NewGormRepository(db)}
}

func (r gormRepository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.GormRepository.RunInTransaction(ctx, func(tx *sql.GormRepository) error {
		return fn(gormRepository{GormRepository: tx})
	})
}
