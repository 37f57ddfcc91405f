package dto

// CheckoutRequest 创建支付会话
type CheckoutRequest struct {
	TierID string `json:"tierId" binding:"required"`
}

// CheckoutResponse 支付会话
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// TierInfo 积分套餐
type TierInfo struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Credits int     `json:"credits"`
	PriceID string  `json:"priceId"`
}

// CreditTransactionItem 积分流水条目
type CreditTransactionItem struct {
	Delta        int    `json:"delta"`
	BalanceAfter int    `json:"balanceAfter"`
	Reason       string `json:"reason"`
	CreatedAt    string `json:"createdAt"`
}
