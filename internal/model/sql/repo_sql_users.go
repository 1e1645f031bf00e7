package sql

import (
	"context"
	"fmt"
	"strings"

	"vidgenie/internal/entity"

	"gorm.io/gorm"
)

var userSortColumns = map[string]struct{}{
	"id":             {},
	"created_at":     {},
	"email":          {},
	"credit_balance": {},
}

// CreateUser persists a new user record.
func (r *GormRepository) CreateUser(ctx context.Context, user *entity.DbUser) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if user == nil {
		return fmt.Errorf("user is nil")
	}
	if user.CreditBalance < 0 {
		return fmt.Errorf("credit balance must not be negative")
	}
	return r.db.WithContext(ctx).Create(user).Error
}

// UpdateUser updates an existing user entry. Balance changes go through DebitBalance/CreditBalance.
func (r *GormRepository) UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid user")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbUser{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetUserByEmail loads a user by email.
func (r *GormRepository) GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return nil, fmt.Errorf("email is empty")
	}

	var user entity.DbUser
	if err := r.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(trimmed)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID loads a user by ID.
func (r *GormRepository) GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialised
	}
	if id == 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	var user entity.DbUser
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns paginated users.
func (r *GormRepository) ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, errNotInitialised
	}
	if params == nil {
		params = &entity.UserQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbUser{})
	if trimmed := strings.TrimSpace(params.Role); trimmed != "" {
		query = query.Where("role = ?", trimmed)
	}
	if keyword := strings.TrimSpace(params.Keyword); keyword != "" {
		kw := "%" + strings.ToLower(keyword) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(display_name) LIKE ?", kw, kw)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	query, page, pageSize := paginate(query, params.BaseParams)
	var users []entity.DbUser
	if err := query.Order(orderClause(params.BaseParams, userSortColumns, "id DESC")).Find(&users).Error; err != nil {
		return nil, nil, err
	}

	return users, r.calculatePagination(total, page, pageSize), nil
}

// DeleteUser removes a user by ID.
func (r *GormRepository) DeleteUser(ctx context.Context, id uint) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid user id")
	}
	result := r.db.WithContext(ctx).Delete(&entity.DbUser{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountUsers returns total user count.
func (r *GormRepository) CountUsers(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errNotInitialised
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&entity.DbUser{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
