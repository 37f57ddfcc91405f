package service

import (
	"fmt"

	"github.com/qs3c/style_go_server/config"
)

// Tier 积分套餐，只来自配置
type Tier struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Credits   int     `json:"credits"`
	ProductID string  `json:"productId"`
	PriceID   string  `json:"priceId"`
}

type TierTable struct {
	tiers     []Tier
	byID      map[string]int
	byProduct map[string]int
}

// NewTierTable 校验并构建套餐表。id、product_id 必须非空且唯一，credits 必须为正。
func NewTierTable(cfgs []config.TierConfig) (*TierTable, error) {
	t := &TierTable{
		tiers:     make([]Tier, 0, len(cfgs)),
		byID:      make(map[string]int, len(cfgs)),
		byProduct: make(map[string]int, len(cfgs)),
	}

	for i, c := range cfgs {
		if c.ID == "" {
			return nil, fmt.Errorf("tier #%d: empty id", i)
		}
		if c.ProductID == "" {
			return nil, fmt.Errorf("tier %q: empty product_id", c.ID)
		}
		if c.Credits <= 0 {
			return nil, fmt.Errorf("tier %q: credits must be positive, got %d", c.ID, c.Credits)
		}
		if _, ok := t.byID[c.ID]; ok {
			return nil, fmt.Errorf("tier %q: duplicate id", c.ID)
		}
		if prev, ok := t.byProduct[c.ProductID]; ok {
			return nil, fmt.Errorf("tier %q: product_id %q already used by tier %q", c.ID, c.ProductID, t.tiers[prev].ID)
		}

		t.byID[c.ID] = len(t.tiers)
		t.byProduct[c.ProductID] = len(t.tiers)
		t.tiers = append(t.tiers, Tier{
			ID:        c.ID,
			Name:      c.Name,
			Price:     c.Price,
			Credits:   c.Credits,
			ProductID: c.ProductID,
			PriceID:   c.PriceID,
		})
	}

	return t, nil
}

func (t *TierTable) ByID(id string) (Tier, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Tier{}, false
	}
	return t.tiers[i], true
}

func (t *TierTable) ByProductID(productID string) (Tier, bool) {
	i, ok := t.byProduct[productID]
	if !ok {
		return Tier{}, false
	}
	return t.tiers[i], true
}

// All 按配置顺序返回副本
func (t *TierTable) All() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
