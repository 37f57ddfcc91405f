package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/payment"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

const stripeSignatureHeader = "Stripe-Signature"

type BillingHandler struct {
	billingService *service.BillingService
	userService    *service.UserService
}

func NewBillingHandler(billingService *service.BillingService, userService *service.UserService) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		userService:    userService,
	}
}

// CreateCheckout 创建积分购买的托管支付页
// POST /api/stripe/create-checkout-session
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	user, ok := sessionUser(c, h.userService)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "tierId is required")
		return
	}

	sess, err := h.billingService.CreateCheckout(c.Request.Context(), user, req.TierID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTier):
			response.ParamError(c, "Invalid tier")
		case errors.Is(err, payment.ErrNotConfigured):
			response.ServerError(c, "Payment provider not configured", "")
		default:
			writeServiceError(c, err, "Failed to create checkout session")
		}
		return
	}

	response.Success(c, dto.CheckoutResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
	})
}

// Webhook 支付平台回调，按套餐表为用户加积分
// POST /api/stripe/webhook
func (h *BillingHandler) Webhook(c *gin.Context) {
	signature := c.GetHeader(stripeSignatureHeader)
	if signature == "" {
		response.ParamError(c, "Missing Stripe signature")
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "Failed to read request body")
		return
	}

	result, err := h.billingService.HandleWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case service.IsPaymentInputError(err):
			logrus.WithError(err).Warn("rejected webhook")
			response.ParamError(c, err.Error())
		case errors.Is(err, payment.ErrNotConfigured):
			response.ServerError(c, "Payment provider not configured", "")
		default:
			writeServiceError(c, err, "Failed to process webhook")
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"event_type": result.EventType,
		"handled":    result.Handled,
	}).Debug("webhook processed")

	response.Success(c, gin.H{"received": true})
}
