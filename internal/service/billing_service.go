package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/payment"
)

// checkout session metadata 键
const (
	MetaUserID    = "user_id"
	MetaTierID    = "tier_id"
	MetaProductID = "product_id"
	MetaCredits   = "credits"
)

// WebhookResult 回调处理结果。Handled 为 false 表示事件类型无需处理。
type WebhookResult struct {
	EventType string
	Handled   bool
	Purchase  *PurchaseResult
}

type BillingService struct {
	gateway payment.Gateway
	users   *UserService
	credits *CreditService
	tiers   *TierTable
	appURL  string
}

func NewBillingService(gateway payment.Gateway, users *UserService, credits *CreditService, tiers *TierTable, cfg *config.Config) *BillingService {
	return &BillingService{
		gateway: gateway,
		users:   users,
		credits: credits,
		tiers:   tiers,
		appURL:  strings.TrimRight(cfg.Stripe.AppURL, "/"),
	}
}

func (s *BillingService) Tiers() []Tier {
	return s.tiers.All()
}

// CreateCheckout 为用户创建托管支付页，必要时先创建支付平台客户
func (s *BillingService) CreateCheckout(ctx context.Context, user *model.User, tierID string) (*payment.CheckoutSession, error) {
	if s.gateway == nil {
		return nil, payment.ErrNotConfigured
	}

	tier, ok := s.tiers.ByID(tierID)
	if !ok {
		return nil, ErrInvalidTier
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	userID := strconv.FormatInt(user.ID, 10)
	sess, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutParams{
		CustomerID:        customerID,
		PriceID:           tier.PriceID,
		SuccessURL:        s.appURL + "/credits?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         s.appURL + "/credits?canceled=true",
		ClientReferenceID: userID,
		Metadata: map[string]string{
			MetaUserID:    userID,
			MetaTierID:    tier.ID,
			MetaProductID: tier.ProductID,
			MetaCredits:   strconv.Itoa(tier.Credits),
		},
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"tier":       tier.ID,
		"session_id": sess.ID,
	}).Info("checkout session created")
	return sess, nil
}

// HandleWebhook 校验签名并处理 checkout.session.completed
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.gateway == nil {
		return nil, payment.ErrNotConfigured
	}

	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{EventType: event.Type}
	if event.Type != payment.EventCheckoutCompleted || event.Checkout == nil {
		logrus.WithField("event_type", event.Type).Debug("unhandled webhook event")
		return result, nil
	}

	checkout := event.Checkout
	if checkout.PaymentStatus != "" && checkout.PaymentStatus != "paid" && checkout.PaymentStatus != "no_payment_required" {
		logrus.WithFields(logrus.Fields{
			"session_id":     checkout.SessionID,
			"payment_status": checkout.PaymentStatus,
		}).Warn("checkout completed without payment, skipping")
		return result, nil
	}

	userID, err := s.purchaser(ctx, checkout)
	if err != nil {
		return nil, err
	}

	productID := s.purchasedProduct(checkout)
	purchase, err := s.credits.CreditForPurchase(ctx, userID, productID, checkout.SessionID)
	if err != nil {
		return nil, err
	}

	if raw := checkout.Metadata[MetaCredits]; raw != "" && purchase.Tier != nil {
		if n, err := strconv.Atoi(raw); err != nil || n != purchase.Tier.Credits {
			logrus.WithFields(logrus.Fields{
				"session_id": checkout.SessionID,
				"metadata":   raw,
				"expected":   purchase.Tier.Credits,
			}).Warn("checkout credits metadata differs from tier table, tier table applied")
		}
	}

	result.Handled = true
	result.Purchase = purchase
	return result, nil
}

func (s *BillingService) ensureCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	name := user.Name
	if name == "" {
		name = user.Username
	}

	customerID, err := s.gateway.CreateCustomer(ctx, email, name, map[string]string{
		MetaUserID: strconv.FormatInt(user.ID, 10),
	})
	if err != nil {
		return "", err
	}
	if err := s.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	user.StripeCustomerID = &customerID
	return customerID, nil
}

// purchaser metadata.user_id → client_reference_id → 支付平台客户
func (s *BillingService) purchaser(ctx context.Context, c *payment.CompletedCheckout) (int64, error) {
	for _, raw := range []string{c.Metadata[MetaUserID], c.ClientReferenceID} {
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad user id %q", payment.ErrInvalidPayload, raw)
		}
		return id, nil
	}

	if c.CustomerID != "" {
		user, err := s.users.GetByStripeCustomerID(ctx, c.CustomerID)
		if err != nil {
			return 0, err
		}
		return user.ID, nil
	}

	return 0, fmt.Errorf("%w: checkout session %s carries no user", payment.ErrInvalidPayload, c.SessionID)
}

// purchasedProduct 优先 product_id，其次按 tier_id 反查
func (s *BillingService) purchasedProduct(c *payment.CompletedCheckout) string {
	if p := c.Metadata[MetaProductID]; p != "" {
		return p
	}
	if tier, ok := s.tiers.ByID(c.Metadata[MetaTierID]); ok {
		return tier.ProductID
	}
	return ""
}

// IsPaymentInputError 签名或载荷错误，应返回 400
func IsPaymentInputError(err error) bool {
	return errors.Is(err, payment.ErrInvalidSignature) || errors.Is(err, payment.ErrInvalidPayload)
}
