package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidgenie/internal/entity"

	"gorm.io/gorm"
)

var errNotInitialised = errors.New("repository not initialised")

// GormRepository implements Repository using GORM
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new repository instance
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// RunInTransaction runs fn against a repository bound to a single transaction.
func (r *GormRepository) RunInTransaction(ctx context.Context, fn func(tx *GormRepository) error) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if fn == nil {
		return fmt.Errorf("transaction func is nil")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}

// calculatePagination calculates pagination metrics
func (r *GormRepository) calculatePagination(totalCount int64, page, pageSize int64) *entity.Meta {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}

	return &entity.Meta{
		Total:    totalCount,
		Page:     page,
		PageSize: pageSize,
	}
}

// paginate applies offset/limit and returns the normalised page values.
func paginate(query *gorm.DB, params entity.BaseParams) (*gorm.DB, int64, int64) {
	page, pageSize := params.Normalize(20, 100)
	offset := (page - 1) * pageSize
	return query.Offset(int(offset)).Limit(int(pageSize)), page, pageSize
}

// orderClause builds a safe ORDER BY clause limited to whitelisted columns.
func orderClause(params entity.BaseParams, allowed map[string]struct{}, fallback string) string {
	column := strings.ToLower(strings.TrimSpace(params.SortBy))
	if column == "" {
		return fallback
	}
	if _, ok := allowed[column]; !ok {
		return fallback
	}
	if params.SortDesc {
		return column + " DESC"
	}
	return column + " ASC"
}
