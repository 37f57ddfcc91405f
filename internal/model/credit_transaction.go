package model

import (
	"time"
)

const (
	ReasonWearSuit = "analysis:wear_suit"
	ReasonBestFit  = "analysis:best_fit"
	ReasonPurchase = "purchase"
	ReasonRefund   = "refund"
	ReasonManual   = "manual"
)

// CreditTransaction 积分流水，Delta 为负表示扣除
type CreditTransaction struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"not null;index" json:"user_id"`
	Delta        int       `gorm:"not null" json:"delta"`
	BalanceAfter int       `gorm:"not null" json:"balance_after"`
	Reason       string    `gorm:"size:50;not null" json:"reason"`
	Reference    *string   `gorm:"size:191;uniqueIndex" json:"reference,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
