package sql

import (
	"context"
	"fmt"
	"strings"

	"vidgenie/internal/entity"

	"gorm.io/gorm"
)

var assetSortColumns = map[string]struct{}{
	"created_at": {},
	"file_size":  {},
	"filename":   {},
}

// CreateAsset persists a new asset.
func (r *GormRepository) CreateAsset(ctx context.Context, asset *entity.DbAsset) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}
	if strings.TrimSpace(asset.ID) == "" {
		return fmt.Errorf("asset id is required")
	}
	if strings.TrimSpace(asset.StorageKey) == "" {
		return fmt.Errorf("asset storage key is required")
	}
	return r.db.WithContext(ctx).Create(asset).Error
}

// GetAsset loads an asset by ID.
func (r *GormRepository) GetAsset(ctx context.Context, id string) (*entity.DbAsset, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var asset entity.DbAsset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetAssetsByIDs loads several assets at once; missing ids are skipped.
func (r *GormRepository) GetAssetsByIDs(ctx context.Context, ids []string) ([]entity.DbAsset, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	if len(ids) == 0 {
		return []entity.DbAsset{}, nil
	}
	var assets []entity.DbAsset
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// ListAssets returns paginated assets.
func (r *GormRepository) ListAssets(ctx context.Context, params *entity.AssetQuery) ([]entity.DbAsset, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, errNotInitialised
	}
	if params == nil {
		params = &entity.AssetQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbAsset{})
	if params.UserID != 0 {
		query = query.Where("user_id = ?", params.UserID)
	}
	if kind := strings.TrimSpace(params.Kind); kind != "" {
		query = query.Where("kind = ?", strings.ToLower(kind))
	}
	if projectID := strings.TrimSpace(params.ProjectID); projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	query, page, pageSize := paginate(query, params.BaseParams)
	var assets []entity.DbAsset
	if err := query.Order(orderClause(params.BaseParams, assetSortColumns, "created_at DESC")).Find(&assets).Error; err != nil {
		return nil, nil, err
	}
	return assets, r.calculatePagination(total, page, pageSize), nil
}

// UpdateAsset applies annotation updates.
func (r *GormRepository) UpdateAsset(ctx context.Context, id string, updates entity.AssetUpdates) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbAsset{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAsset removes an asset row.
func (r *GormRepository) DeleteAsset(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	result := r.db.WithContext(ctx).Delete(&entity.DbAsset{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
