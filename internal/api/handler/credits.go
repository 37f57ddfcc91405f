package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

type CreditsHandler struct {
	creditService *service.CreditService
	tiers         *service.TierTable
}

func NewCreditsHandler(creditService *service.CreditService, tiers *service.TierTable) *CreditsHandler {
	return &CreditsHandler{
		creditService: creditService,
		tiers:         tiers,
	}
}

// Tiers 积分套餐列表
// GET /api/credits/tiers
func (h *CreditsHandler) Tiers(c *gin.Context) {
	all := h.tiers.All()
	items := make([]dto.TierInfo, 0, len(all))
	for _, t := range all {
		items = append(items, dto.TierInfo{
			ID:      t.ID,
			Name:    t.Name,
			Price:   t.Price,
			Credits: t.Credits,
			PriceID: t.PriceID,
		})
	}
	response.Success(c, gin.H{"tiers": items})
}

// History 积分流水
// GET /api/credits/history?limit=20
func (h *CreditsHandler) History(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	txs, err := h.creditService.History(c.Request.Context(), userID, limit)
	if err != nil {
		writeServiceError(c, err, "Failed to list credit history")
		return
	}

	items := make([]dto.CreditTransactionItem, 0, len(txs))
	for _, tx := range txs {
		items = append(items, dto.CreditTransactionItem{
			Delta:        tx.Delta,
			BalanceAfter: tx.BalanceAfter,
			Reason:       tx.Reason,
			CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
		})
	}
	response.Success(c, gin.H{"transactions": items})
}
