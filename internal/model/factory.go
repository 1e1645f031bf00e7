package model

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"vidgenie/internal/config"
	"vidgenie/internal/entity"
	"vidgenie/internal/model/sql"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DBTypeMySQL    = "mysql"
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// ErrInsufficientBalance 条件扣减未命中，余额不足
var ErrInsufficientBalance = sql.ErrInsufficientBalance

// RepositoryFactory 根据数据库类型创建对应的仓库实现
type RepositoryFactory struct{}

// NewRepositoryFactory 创建新的仓库工厂
func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

// InitRepository 初始化仓库的辅助函数，同时返回底层连接供任务队列复用
func InitRepository(cfg *config.Config) (Repository, *gorm.DB, error) {
	if cfg == nil {
		return nil, nil, errors.New("config is nil")
	}
	if cfg.DBType == "" {
		return nil, nil, errors.New("DBType is required")
	}

	db, err := NewRepositoryFactory().Open(cfg)
	if err != nil {
		return nil, nil, err
	}

	// 自动迁移数据库表结构
	if err := MigrateSchema(db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return NewGormRepository(db), db, nil
}

// Open 根据配置打开对应的数据库连接
func (f *RepositoryFactory) Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBType {
	case DBTypeMySQL:
		return f.openMySQL(cfg)
	case DBTypeSQLite:
		return f.openSQLite(cfg)
	case DBTypePostgres:
		return f.openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
}

// openMySQL 创建 MySQL 连接
func (f *RepositoryFactory) openMySQL(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.DSNURL
	if dsn == "" {
		// 从各个配置项构建 DSN
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.DBUser, cfg.DBPassword, cfg.DBAddr, cfg.DBPort, cfg.DBName)
	}

	db, err := f.openGormDB(mysql.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return db, nil
}

// openSQLite 创建 SQLite 连接
func (f *RepositoryFactory) openSQLite(cfg *config.Config) (*gorm.DB, error) {
	filePath := cfg.DBPath
	if filePath == "" {
		filePath = "datas/vidgenie.db"
	}

	// SQLite 会自动创建 .db 文件，但目录必须已存在
	if dir := filepath.Dir(filePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}

	db, err := f.openGormDB(sqlite.Open(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// SQLite 单写者，扣费等条件更新依赖串行写入
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// openPostgres 创建 PostgreSQL 连接
func (f *RepositoryFactory) openPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.DSNURL
	if dsn == "" {
		// 从各个配置项构建 DSN
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBAddr, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	}

	db, err := f.openGormDB(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

func (f *RepositoryFactory) openGormDB(dialector gorm.Dialector) (*gorm.DB, error) {
	// 配置 GORM 日志
	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second * 5,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true, // 使用单数表名
		},
	})
	if err != nil {
		return nil, err
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// MigrateSchema 迁移数据库表结构
func MigrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.DbUser{},
		&entity.DbGenerationJob{},
		&entity.DbAsset{},
		&entity.DbCreditLedger{},
		&entity.DbWebhookEvent{},
		&entity.DbDispatchEvent{},
		&entity.DbProvider{},
		&entity.DbModel{},
	)
}
