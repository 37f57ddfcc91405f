package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/payment"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/service"
	"github.com/qs3c/style_go_server/internal/testutil"
)

const validSignature = "t=1,v1=valid"

type fakeGateway struct {
	event    *payment.Event
	checkout payment.CheckoutParams
}

func (f *fakeGateway) CreateCustomer(context.Context, string, string, map[string]string) (string, error) {
	return "cus_test", nil
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, p payment.CheckoutParams) (*payment.CheckoutSession, error) {
	f.checkout = p
	return &payment.CheckoutSession{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

func (f *fakeGateway) ParseWebhook(_ []byte, signature string) (*payment.Event, error) {
	if signature != validSignature {
		return nil, payment.ErrInvalidSignature
	}
	return f.event, nil
}

func setupBillingHandler(t *testing.T, gateway payment.Gateway) (*BillingHandler, *testContext) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{Stripe: config.StripeConfig{AppURL: "https://style.example/"}}
	tiers := testTiers(t)
	users := service.NewUserService(repository.NewUserRepository(db), nil, cfg)
	credits := service.NewCreditService(repository.NewLedgerRepository(db), tiers)
	billing := service.NewBillingService(gateway, users, credits, tiers, cfg)

	return NewBillingHandler(billing, users), &testContext{DB: db}
}

func postWebhook(router http.Handler, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/stripe/webhook", bytes.NewBufferString(`{"id":"evt_1"}`))
	if signature != "" {
		req.Header.Set(stripeSignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func completedEvent(userID int64, productID string) *payment.Event {
	return &payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
		Checkout: &payment.CompletedCheckout{
			SessionID:     "cs_" + strconv.FormatInt(userID, 10),
			PaymentStatus: "paid",
			Metadata: map[string]string{
				service.MetaUserID:    strconv.FormatInt(userID, 10),
				service.MetaProductID: productID,
			},
		},
	}
}

func reloadUserCredits(t *testing.T, ctx *testContext, id int64) int {
	t.Helper()
	var user model.User
	require.NoError(t, ctx.DB.First(&user, id).Error)
	return user.Credits
}

func TestBillingHandler_CreateCheckout(t *testing.T) {
	gateway := &fakeGateway{}
	handler, ctx := setupBillingHandler(t, gateway)
	user := testutil.TestUser(t, ctx.DB)

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.POST("/checkout", handler.CreateCheckout)

	w := performRequest(router, "POST", "/checkout", map[string]string{"tierId": "standard"})
	require.Equal(t, http.StatusOK, w.Code)

	data := parseJSON(t, w)
	assert.Equal(t, "cs_test", data["sessionId"])
	assert.Equal(t, "https://checkout.example/cs_test", data["url"])

	assert.Equal(t, "price_standard", gateway.checkout.PriceID)
	assert.Equal(t, "cus_test", gateway.checkout.CustomerID)
	assert.Equal(t, "prod_standard", gateway.checkout.Metadata[service.MetaProductID])
	assert.Equal(t, "https://style.example/credits?canceled=true", gateway.checkout.CancelURL)
}

func TestBillingHandler_CreateCheckout_InvalidTier(t *testing.T) {
	handler, ctx := setupBillingHandler(t, &fakeGateway{})
	user := testutil.TestUser(t, ctx.DB)

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.POST("/checkout", handler.CreateCheckout)

	w := performRequest(router, "POST", "/checkout", map[string]string{"tierId": "gold"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid tier", parseError(t, w).Error)

	w = performRequest(router, "POST", "/checkout", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandler_CreateCheckout_NotConfigured(t *testing.T) {
	handler, ctx := setupBillingHandler(t, nil)
	user := testutil.TestUser(t, ctx.DB)

	router := gin.New()
	router.Use(mockAuth(user.ID))
	router.POST("/checkout", handler.CreateCheckout)

	w := performRequest(router, "POST", "/checkout", map[string]string{"tierId": "basic"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBillingHandler_Webhook_CreditsOnce(t *testing.T) {
	gateway := &fakeGateway{}
	handler, ctx := setupBillingHandler(t, gateway)
	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(5))
	gateway.event = completedEvent(user.ID, "prod_basic")

	router := gin.New()
	router.POST("/stripe/webhook", handler.Webhook)

	w := postWebhook(router, validSignature)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, parseJSON(t, w)["received"])
	assert.Equal(t, 55, reloadUserCredits(t, ctx, user.ID))

	// 重复投递
	w = postWebhook(router, validSignature)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 55, reloadUserCredits(t, ctx, user.ID))
}

func TestBillingHandler_Webhook_UnknownProduct(t *testing.T) {
	gateway := &fakeGateway{}
	handler, ctx := setupBillingHandler(t, gateway)
	user := testutil.TestUser(t, ctx.DB, testutil.WithCredits(5))
	gateway.event = completedEvent(user.ID, "prod_unknown")

	router := gin.New()
	router.POST("/stripe/webhook", handler.Webhook)

	w := postWebhook(router, validSignature)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, reloadUserCredits(t, ctx, user.ID))
}

func TestBillingHandler_Webhook_BadSignature(t *testing.T) {
	handler, _ := setupBillingHandler(t, &fakeGateway{})

	router := gin.New()
	router.POST("/stripe/webhook", handler.Webhook)

	assert.Equal(t, http.StatusBadRequest, postWebhook(router, "").Code)
	assert.Equal(t, http.StatusBadRequest, postWebhook(router, "t=1,v1=forged").Code)
}

func TestBillingHandler_Webhook_UnknownUser(t *testing.T) {
	gateway := &fakeGateway{event: completedEvent(424242, "prod_basic")}
	handler, _ := setupBillingHandler(t, gateway)

	router := gin.New()
	router.POST("/stripe/webhook", handler.Webhook)

	w := postWebhook(router, validSignature)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBillingHandler_Webhook_IgnoredEvent(t *testing.T) {
	gateway := &fakeGateway{event: &payment.Event{ID: "evt_2", Type: "invoice.paid"}}
	handler, _ := setupBillingHandler(t, gateway)

	router := gin.New()
	router.POST("/stripe/webhook", handler.Webhook)

	w := postWebhook(router, validSignature)
	assert.Equal(t, http.StatusOK, w.Code)
}
