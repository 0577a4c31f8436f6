package cart

import (
	"fmt"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/money"
	"github.com/r3xsaler/Mi-tienda-pos/internal/pricing"
)

var (
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than zero", domain.ErrValidation)
	ErrInvalidWeight   = fmt.Errorf("%w: weight must be greater than zero", domain.ErrValidation)
	ErrIndexOutOfRange = fmt.Errorf("%w: cart line index out of range", domain.ErrValidation)
)

const WeightUnit = "g"

// Line prices are frozen when the line is added.
type Line struct {
	ProductID      string
	Name           string
	Category       domain.Category
	UnitKind       domain.UnitKind
	Quantity       float64
	WeightGrams    float64
	WeightBased    bool
	SalePriceLocal float64
	SalePriceUSD   float64
	CostLocal      float64
	ProfitLocal    float64
	StockAtAdd     float64
}

func (l Line) Unit() string {
	if l.WeightBased {
		return WeightUnit
	}
	return ""
}

// TotalLocal is the line's contribution to the cart total.
func (l Line) TotalLocal() float64 {
	if l.WeightBased {
		return l.SalePriceLocal
	}
	return l.SalePriceLocal * l.Quantity
}

func (l Line) TotalProfit() float64 {
	if l.WeightBased {
		return l.ProfitLocal
	}
	return l.ProfitLocal * l.Quantity
}

type Totals struct {
	TotalLocal       float64
	TotalUSD         float64
	TotalProfitLocal float64
}

// Cart keeps lines in insertion order. It is not safe for concurrent use.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

func (c *Cart) AddUnitLine(p domain.Product, quantity float64, dailyRate float64) error {
	if !(quantity > 0) {
		return ErrInvalidQuantity
	}

	for i := range c.lines {
		if c.lines[i].ProductID == p.ID && !c.lines[i].WeightBased {
			c.lines[i].Quantity = money.Round2(c.lines[i].Quantity + quantity)
			return nil
		}
	}

	price := pricing.Compute(p, dailyRate)
	c.lines = append(c.lines, Line{
		ProductID:      p.ID,
		Name:           p.Name,
		Category:       p.Category,
		UnitKind:       p.UnitKind,
		Quantity:       quantity,
		SalePriceLocal: price.SaleLocal,
		SalePriceUSD:   price.SaleUSD,
		CostLocal:      price.CostLocalAtCurrentRate,
		ProfitLocal:    money.Round2(price.SaleLocal - price.CostLocalAtCurrentRate),
		StockAtAdd:     p.Stock,
	})
	return nil
}

func (c *Cart) AddWeightLine(p domain.Product, weightGrams float64, dailyRate float64) error {
	if !(weightGrams > 0) {
		return ErrInvalidWeight
	}

	price := pricing.Compute(p, dailyRate)
	kg := weightGrams / 1000
	finalPrice := money.Round2(price.SaleLocal * kg)
	finalCost := money.Round2(price.CostLocalAtCurrentRate * kg)

	c.lines = append(c.lines, Line{
		ProductID:      p.ID,
		Name:           p.Name,
		Category:       p.Category,
		UnitKind:       p.UnitKind,
		Quantity:       1,
		WeightGrams:    weightGrams,
		WeightBased:    true,
		SalePriceLocal: finalPrice,
		SalePriceUSD:   money.Round2(price.SaleUSD * kg),
		CostLocal:      finalCost,
		ProfitLocal:    money.Round2(finalPrice - finalCost),
		StockAtAdd:     p.Stock,
	})
	return nil
}

func (c *Cart) RemoveLine(index int) error {
	if index < 0 || index >= len(c.lines) {
		return ErrIndexOutOfRange
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return nil
}

func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Totals(dailyRate float64) Totals {
	var sum, profit float64
	for _, line := range c.lines {
		sum += line.TotalLocal()
		profit += line.TotalProfit()
	}

	totals := Totals{
		TotalLocal:       money.Round2(sum),
		TotalProfitLocal: money.Round2(profit),
	}
	if dailyRate > 0 {
		totals.TotalUSD = money.Round2(totals.TotalLocal / dailyRate)
	}
	return totals
}

func (c *Cart) Clear() {
	c.lines = nil
}

// ShareText is the one-line summary operators paste into chats.
func ShareText(t Totals) string {
	return "Total: " + money.FormatLocal(t.TotalLocal)
}
