package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/internal/model"
)

// ErrBalanceTooLow 条件扣减未命中：余额不足
var ErrBalanceTooLow = errors.New("balance too low")

// LedgerRepository 积分余额与流水。余额只通过条件 UPDATE 修改。
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Debit 原子扣减：credits >= amount 时才会更新。
// 用户不存在返回 gorm.ErrRecordNotFound，余额不足返回 ErrBalanceTooLow。
func (r *LedgerRepository) Debit(ctx context.Context, userID int64, amount int, reason string) (int, error) {
	var balance int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("id = ? AND credits >= ?", userID, amount).
			Update("credits", gorm.Expr("credits - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrBalanceTooLow
		}

		var err error
		balance, err = currentBalance(tx, userID)
		if err != nil {
			return err
		}
		return tx.Create(&model.CreditTransaction{
			UserID:       userID,
			Delta:        -amount,
			BalanceAfter: balance,
			Reason:       reason,
		}).Error
	})
	return balance, err
}

// Credit 增加余额。reference 非空且已入账时不重复入账，applied 返回 false。
func (r *LedgerRepository) Credit(ctx context.Context, userID int64, amount int, reason string, reference *string) (balance int, applied bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if reference != nil {
			var count int64
			if err := tx.Model(&model.CreditTransaction{}).Where("reference = ?", *reference).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				b, err := currentBalance(tx, userID)
				if err != nil {
					return err
				}
				balance = b
				return nil
			}
		}

		res := tx.Model(&model.User{}).
			Where("id = ?", userID).
			Update("credits", gorm.Expr("credits + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		b, err := currentBalance(tx, userID)
		if err != nil {
			return err
		}
		balance = b
		applied = true
		return tx.Create(&model.CreditTransaction{
			UserID:       userID,
			Delta:        amount,
			BalanceAfter: balance,
			Reason:       reason,
			Reference:    reference,
		}).Error
	})
	return balance, applied, err
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.CreditTransaction, error) {
	var txs []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func currentBalance(tx *gorm.DB, userID int64) (int, error) {
	var user model.User
	if err := tx.Select("id", "credits").Where("id = ?", userID).First(&user).Error; err != nil {
		return 0, err
	}
	return user.Credits, nil
}
