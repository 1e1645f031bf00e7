package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidgenie/internal/entity"

	"gorm.io/gorm"
)

// ErrInsufficientBalance is returned when a conditional debit matched no row.
var ErrInsufficientBalance = errors.New("insufficient credit balance")

// DebitBalance decrements the cached balance only when it covers amount, and returns the new balance.
func (r *GormRepository) DebitBalance(ctx context.Context, userID uint, amount int64) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errNotInitialised
	}
	if userID == 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive")
	}

	result := r.db.WithContext(ctx).
		Model(&entity.DbUser{}).
		Where("id = ? AND credit_balance >= ?", userID, amount).
		Update("credit_balance", gorm.Expr("credit_balance - ?", amount))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetUserByID(ctx, userID); err != nil {
			return 0, err
		}
		return 0, ErrInsufficientBalance
	}
	return r.currentBalance(ctx, userID)
}

// CreditBalance increments the cached balance and returns the new balance.
func (r *GormRepository) CreditBalance(ctx context.Context, userID uint, amount int64) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errNotInitialised
	}
	if userID == 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive")
	}

	result := r.db.WithContext(ctx).
		Model(&entity.DbUser{}).
		Where("id = ?", userID).
		Update("credit_balance", gorm.Expr("credit_balance + ?", amount))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return r.currentBalance(ctx, userID)
}

func (r *GormRepository) currentBalance(ctx context.Context, userID uint) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Model(&entity.DbUser{}).
		Where("id = ?", userID).
		Select("credit_balance").
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AppendLedger inserts one immutable ledger row.
func (r *GormRepository) AppendLedger(ctx context.Context, entry *entity.DbCreditLedger) error {
	if r == nil || r.db == nil {
		return errNotInitialised
	}
	if entry == nil {
		return fmt.Errorf("ledger entry is nil")
	}
	if entry.UserID == 0 {
		return fmt.Errorf("invalid user id")
	}
	if entry.Amount == 0 {
		return fmt.Errorf("ledger amount must not be zero")
	}
	if !entry.Type.Valid() {
		return fmt.Errorf("unknown ledger type %q", entry.Type)
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListLedger returns a user's ledger entries, newest first.
func (r *GormRepository) ListLedger(ctx context.Context, params *entity.CreditLedgerQuery) ([]entity.DbCreditLedger, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, errNotInitialised
	}
	if params == nil {
		params = &entity.CreditLedgerQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbCreditLedger{})
	if params.UserID != 0 {
		query = query.Where("user_id = ?", params.UserID)
	}
	if t := strings.TrimSpace(params.Type); t != "" {
		query = query.Where("type = ?", strings.ToLower(t))
	}
	if jobID := strings.TrimSpace(params.JobID); jobID != "" {
		query = query.Where("job_id = ?", jobID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	query, page, pageSize := paginate(query, params.BaseParams)
	var entries []entity.DbCreditLedger
	if err := query.Order("id DESC").Find(&entries).Error; err != nil {
		return nil, nil, err
	}
	return entries, r.calculatePagination(total, page, pageSize), nil
}

// SumLedger returns the signed sum of all ledger rows for a user.
func (r *GormRepository) SumLedger(ctx context.Context, userID uint) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errNotInitialised
	}
	if userID == 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&entity.DbCreditLedger{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}
