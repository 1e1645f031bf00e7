package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vidgenie/internal/entity"
	"vidgenie/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CreditChange 一次余额变动，Amount 始终为正数，方向由调用的方法决定
type CreditChange struct {
	UserID      uint
	Amount      int64
	Type        entity.CreditType
	Description string
	JobID       *string
	CostUSD     decimal.NullDecimal
}

// CreditService 积分服务，每次变动都同时写流水和余额
type CreditService struct {
	repo model.Repository
}

func NewCreditService(repo model.Repository) *CreditService {
	return &CreditService{repo: repo}
}

// Debit 扣减积分，返回新余额
func (s *CreditService) Debit(ctx context.Context, change CreditChange) (int64, error) {
	var balance int64
	err := s.repo.Transaction(ctx, func(tx model.Repository) error {
		var err error
		balance, err = s.DebitTx(ctx, tx, change)
		return err
	})
	return balance, err
}

// Credit 增加积分，返回新余额
func (s *CreditService) Credit(ctx context.Context, change CreditChange) (int64, error) {
	var balance int64
	err := s.repo.Transaction(ctx, func(tx model.Repository) error {
		var err error
		balance, err = s.CreditTx(ctx, tx, change)
		return err
	})
	return balance, err
}

// DebitTx 在调用方的事务中扣减，余额检查与扣减是同一条条件更新
func (s *CreditService) DebitTx(ctx context.Context, tx model.Repository, change CreditChange) (int64, error) {
	if err := validateChange(change); err != nil {
		return 0, err
	}

	balance, err := tx.DebitBalance(ctx, change.UserID, change.Amount)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientBalance) {
			have := int64(0)
			if user, getErr := tx.GetUserByID(ctx, change.UserID); getErr == nil {
				have = user.CreditBalance
			}
			return 0, &InsufficientCreditsError{Have: have, Need: change.Amount}
		}
		return 0, notFoundOr(err, "user", strconv.FormatUint(uint64(change.UserID), 10))
	}

	if err := tx.AppendLedger(ctx, ledgerEntry(change, -change.Amount)); err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}
	return balance, nil
}

// CreditTx 在调用方的事务中增加积分
func (s *CreditService) CreditTx(ctx context.Context, tx model.Repository, change CreditChange) (int64, error) {
	if err := validateChange(change); err != nil {
		return 0, err
	}

	balance, err := tx.CreditBalance(ctx, change.UserID, change.Amount)
	if err != nil {
		return 0, notFoundOr(err, "user", strconv.FormatUint(uint64(change.UserID), 10))
	}
	if err := tx.AppendLedger(ctx, ledgerEntry(change, change.Amount)); err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}
	return balance, nil
}

func validateChange(change CreditChange) error {
	if change.UserID == 0 {
		return newValidationError("user_id", "is required")
	}
	if change.Amount <= 0 {
		return newValidationError("amount", "must be positive")
	}
	if !change.Type.Valid() {
		return newValidationError("type", "unknown credit type %q", change.Type)
	}
	return nil
}

func ledgerEntry(change CreditChange, signed int64) *entity.DbCreditLedger {
	return &entity.DbCreditLedger{
		UserID:      change.UserID,
		Amount:      signed,
		Type:        change.Type,
		Description: change.Description,
		JobID:       change.JobID,
		CostUSD:     change.CostUSD,
	}
}

// Balance 读取缓存余额
func (s *CreditService) Balance(ctx context.Context, userID uint) (int64, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, notFoundOr(err, "user", strconv.FormatUint(uint64(userID), 10))
	}
	return user.CreditBalance, nil
}

// ListLedger 分页查询用户流水
func (s *CreditService) ListLedger(ctx context.Context, userID uint, query entity.CreditLedgerQuery) (*entity.CreditLedgerResponse, error) {
	query.UserID = userID
	entries, meta, err := s.repo.ListLedger(ctx, &query)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []entity.DbCreditLedger{}
	}
	return &entity.CreditLedgerResponse{Entries: entries, Meta: meta}, nil
}

// Reconcile 对比缓存余额与流水合计
func (s *CreditService) Reconcile(ctx context.Context, userID uint) (*entity.CreditReconcileResponse, error) {
	result := &entity.CreditReconcileResponse{UserID: userID}
	err := s.repo.Transaction(ctx, func(tx model.Repository) error {
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := tx.SumLedger(ctx, userID)
		if err != nil {
			return err
		}
		result.Balance = user.CreditBalance
		result.LedgerSum = sum
		return nil
	})
	if err != nil {
		return nil, notFoundOr(err, "user", strconv.FormatUint(uint64(userID), 10))
	}
	result.Consistent = result.Balance == result.LedgerSum
	if !result.Consistent {
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"balance":    result.Balance,
			"ledger_sum": result.LedgerSum,
		}).Error("credit_ledger_mismatch")
	}
	return result, nil
}

// Grant 管理员发放积分，类型只允许 purchase 或 promotion
func (s *CreditService) Grant(ctx context.Context, userID uint, req entity.CreditGrantRequest) (int64, error) {
	creditType := entity.CreditType(strings.ToLower(strings.TrimSpace(req.Type)))
	if creditType == "" {
		creditType = entity.CreditTypePromotion
	}
	if creditType != entity.CreditTypePurchase && creditType != entity.CreditTypePromotion {
		return 0, newValidationError("type", "must be purchase or promotion")
	}

	var cost decimal.NullDecimal
	if raw := strings.TrimSpace(req.CostUSD); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, newValidationError("cost_usd", "invalid decimal %q", raw)
		}
		if amount.IsNegative() {
			return 0, newValidationError("cost_usd", "must not be negative")
		}
		cost = decimal.NewNullDecimal(amount.Round(4))
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = fmt.Sprintf("%s grant", creditType)
	}

	return s.Credit(ctx, CreditChange{
		UserID:      userID,
		Amount:      req.Amount,
		Type:        creditType,
		Description: description,
		CostUSD:     cost,
	})
}
