package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/metrics"
	"github.com/qs3c/style_go_server/internal/repository"
)

// PurchaseResult 购买入账结果。UnknownProduct 时余额不变，不视为错误。
type PurchaseResult struct {
	Tier           *Tier
	UnknownProduct bool
	Duplicate      bool
	Balance        int
}

type CreditService struct {
	ledger *repository.LedgerRepository
	tiers  *TierTable
}

func NewCreditService(ledger *repository.LedgerRepository, tiers *TierTable) *CreditService {
	return &CreditService{
		ledger: ledger,
		tiers:  tiers,
	}
}

// Debit 扣减积分，返回扣减后的余额
func (s *CreditService) Debit(ctx context.Context, userID int64, amount int, reason string) (int, error) {
	if amount <= 0 {
		metrics.RecordCreditOp("debit", ErrInvalidAmount)
		return 0, ErrInvalidAmount
	}

	balance, err := s.ledger.Debit(ctx, userID, amount, reason)
	err = s.mapLedgerError("debit", err)
	metrics.RecordCreditOp("debit", err)
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount,
		"reason":  reason,
		"balance": balance,
	}).Info("credits debited")
	return balance, nil
}

// Credit 增加积分，返回增加后的余额
func (s *CreditService) Credit(ctx context.Context, userID int64, amount int, reason string) (int, error) {
	if amount <= 0 {
		metrics.RecordCreditOp("credit", ErrInvalidAmount)
		return 0, ErrInvalidAmount
	}

	balance, _, err := s.ledger.Credit(ctx, userID, amount, reason, nil)
	err = s.mapLedgerError("credit", err)
	metrics.RecordCreditOp("credit", err)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Refund 分析调用失败后退还已扣积分
func (s *CreditService) Refund(ctx context.Context, userID int64, amount int) (int, error) {
	balance, err := s.Credit(ctx, userID, amount, model.ReasonRefund)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"amount":  amount,
		}).Error("credit refund failed")
		return 0, err
	}
	return balance, nil
}

// CreditForPurchase 按 productID 对应的套餐入账。reference 重复时不再入账。
func (s *CreditService) CreditForPurchase(ctx context.Context, userID int64, productID, reference string) (*PurchaseResult, error) {
	tier, ok := s.tiers.ByProductID(productID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"product_id": productID,
			"reference":  reference,
		}).Warn("purchase for unknown product, no credits granted")
		return &PurchaseResult{UnknownProduct: true}, nil
	}

	var ref *string
	if reference != "" {
		ref = &reference
	}

	balance, applied, err := s.ledger.Credit(ctx, userID, tier.Credits, model.ReasonPurchase, ref)
	err = s.mapLedgerError("purchase", err)
	metrics.RecordCreditOp("purchase", err)
	if err != nil {
		return nil, err
	}

	if !applied {
		logrus.WithFields(logrus.Fields{
			"user_id":   userID,
			"reference": reference,
		}).Info("purchase already credited, skipping")
	} else {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"tier":    tier.ID,
			"credits": tier.Credits,
			"balance": balance,
		}).Info("purchase credited")
	}

	return &PurchaseResult{
		Tier:      &tier,
		Duplicate: !applied,
		Balance:   balance,
	}, nil
}

// History 最近的积分流水
func (s *CreditService) History(ctx context.Context, userID int64, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	txs, err := s.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, storageError("list credit history", err)
	}
	return txs, nil
}

func (s *CreditService) mapLedgerError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrBalanceTooLow):
		return ErrInsufficientCredits
	default:
		return storageError(op, err)
	}
}
