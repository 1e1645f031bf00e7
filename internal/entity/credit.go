package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditType 积分流水类型
type CreditType string

const (
	CreditTypeGeneration CreditType = "generation"
	CreditTypePublishing CreditType = "publishing"
	CreditTypePurchase   CreditType = "purchase"
	CreditTypeRefund     CreditType = "refund"
	CreditTypePromotion  CreditType = "promotion"
)

// Valid 是否为已知类型
func (t CreditType) Valid() bool {
	switch t {
	case CreditTypeGeneration, CreditTypePublishing, CreditTypePurchase, CreditTypeRefund, CreditTypePromotion:
		return true
	default:
		return false
	}
}

// DbCreditLedger 积分流水，只追加不修改
type DbCreditLedger struct {
	ID          uint                `gorm:"primarykey" json:"id"`
	UserID      uint                `gorm:"column:user_id;index;not null" json:"user_id"`
	Amount      int64               `gorm:"column:amount;not null" json:"amount"`
	Type        CreditType          `gorm:"column:type;type:varchar(32);index;not null" json:"type"`
	Description string              `gorm:"column:description;type:varchar(512)" json:"description"`
	JobID       *string             `gorm:"column:job_id;type:varchar(36);index" json:"job_id,omitempty"`
	CostUSD     decimal.NullDecimal `gorm:"column:cost_usd;type:decimal(12,4)" json:"cost_usd"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (DbCreditLedger) TableName() string {
	return "credit_ledger"
}

// CreditLedgerQuery 积分流水查询
type CreditLedgerQuery struct {
	BaseParams
	Type   string `json:"type" form:"type"`
	JobID  string `json:"job_id" form:"job_id"`
	UserID uint   `json:"-" form:"-"`
}

type CreditBalanceResponse struct {
	Balance int64 `json:"balance"`
}

type CreditLedgerResponse struct {
	Entries []DbCreditLedger `json:"entries"`
	Meta    *Meta            `json:"meta"`
}

// CreditGrantRequest 管理员发放积分
type CreditGrantRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CostUSD     string `json:"cost_usd"`
}

// CreditReconcileResponse 余额与流水核对结果
type CreditReconcileResponse struct {
	UserID     uint  `json:"user_id"`
	Balance    int64 `json:"balance"`
	LedgerSum  int64 `json:"ledger_sum"`
	Consistent bool  `json:"consistent"`
}
