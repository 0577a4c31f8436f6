// Package pricing converts a product's acquisition cost and margin into a
// dual-currency sale price at the current daily rate.
package pricing

import (
	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/money"
)

type Result struct {
	SaleLocal              float64 `json:"sale_local"`
	SaleUSD                float64 `json:"sale_usd"`
	CostLocalAtCurrentRate float64 `json:"cost_local_at_current_rate"`
	HasFixedPrice          bool    `json:"has_fixed_price"`

	// CostUSD is an intermediate and is not rounded.
	CostUSD float64 `json:"cost_usd"`
}

// Compute never fails: zero or negative rates degrade the affected fields to 0.
func Compute(p domain.Product, dailyRate float64) Result {
	var costUSD float64
	if p.AcquisitionRate > 0 {
		costUSD = p.AcquisitionCostLocal / p.AcquisitionRate
	}

	var costLocal float64
	if dailyRate > 0 {
		costLocal = money.Round2(costUSD * dailyRate)
	}

	res := Result{
		CostUSD:                costUSD,
		CostLocalAtCurrentRate: costLocal,
		HasFixedPrice:          p.HasFixedPrice,
	}

	if p.HasFixedPrice {
		res.SaleLocal = money.Round2(p.FixedPriceLocal)
		if dailyRate > 0 {
			res.SaleUSD = money.Round2(res.SaleLocal / dailyRate)
		}
		return res
	}

	res.SaleUSD = money.Round2(costUSD * (1 + p.ProfitPercentMargin/100))
	if dailyRate > 0 {
		res.SaleLocal = money.Round2(res.SaleUSD * dailyRate)
	}
	return res
}
