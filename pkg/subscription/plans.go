package subscription

import (
	"fmt"
	"sort"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $9.99 USD would be Amount: 999, Currency: "USD".
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// String formats the amount for receipts, e.g. "$9.99".
func (m Money) String() string {
	symbol := m.Currency + " "
	switch m.Currency {
	case "", "USD":
		symbol = "$"
	case "EUR":
		symbol = "€"
	case "GBP":
		symbol = "£"
	}
	return fmt.Sprintf("%s%d.%02d", symbol, m.Amount/100, m.Amount%100)
}

// PlanInfo describes a tier: its display name, price and the provider price ID
// that checkout uses and webhooks report back.
type PlanInfo struct {
	Plan    Plan
	Name    string
	Price   Money
	PriceID string // empty for free
}

// Catalog maps plans to provider prices and back.
type Catalog struct {
	plans   map[Plan]PlanInfo
	byPrice map[string]Plan
}

// NewCatalog builds a catalog. A free plan is always present.
func NewCatalog(infos ...PlanInfo) *Catalog {
	c := &Catalog{
		plans:   make(map[Plan]PlanInfo, len(infos)+1),
		byPrice: make(map[string]Plan, len(infos)),
	}
	c.plans[PlanFree] = PlanInfo{Plan: PlanFree, Name: "Free Plan", Price: Money{Currency: "USD"}}
	for _, info := range infos {
		c.plans[info.Plan] = info
		if info.PriceID != "" {
			c.byPrice[info.PriceID] = info.Plan
		}
	}
	return c
}

// DefaultCatalog is the standard three-tier catalog with prices bound to the
// configured provider price IDs.
func DefaultCatalog(proPriceID, enterprisePriceID string) *Catalog {
	return NewCatalog(
		PlanInfo{Plan: PlanPro, Name: "Pro Plan", Price: Money{Amount: 999, Currency: "USD"}, PriceID: proPriceID},
		PlanInfo{Plan: PlanEnterprise, Name: "Enterprise Plan", Price: Money{Amount: 2999, Currency: "USD"}, PriceID: enterprisePriceID},
	)
}

// Info returns the plan descriptor.
func (c *Catalog) Info(p Plan) (PlanInfo, bool) {
	info, ok := c.plans[p]
	return info, ok
}

// PriceID returns the provider price for a paid plan.
func (c *Catalog) PriceID(p Plan) (string, error) {
	info, ok := c.plans[p]
	if !ok || !p.Paid() {
		return "", ErrUnknownPlan
	}
	if info.PriceID == "" {
		return "", ErrMissingPriceID
	}
	return info.PriceID, nil
}

// PlanForPrice maps a provider price back to a plan.
func (c *Catalog) PlanForPrice(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// DisplayName returns "Unknown Plan" for plans outside the catalog.
func (c *Catalog) DisplayName(p Plan) string {
	if info, ok := c.plans[p]; ok && info.Name != "" {
		return info.Name
	}
	return "Unknown Plan"
}

// Plans lists the catalog sorted by price.
func (c *Catalog) Plans() []PlanInfo {
	out := make([]PlanInfo, 0, len(c.plans))
	for _, info := range c.plans {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.Amount < out[j].Price.Amount })
	return out
}
