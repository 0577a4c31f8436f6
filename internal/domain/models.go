package domain

import "time"

type Category string

const (
	CategoryPersonalCare Category = "Aseo personal"
	CategoryDrinks       Category = "Bebidas"
	CategoryDeli         Category = "Charcutería"
	CategorySnacks       Category = "Chucherias"
	CategoryMedicine     Category = "Medicinas"
	CategoryOther        Category = "Otros"
	CategoryStationery   Category = "Papelería"
	CategoryGroceries    Category = "Víveres"
)

var Categories = []Category{
	CategoryPersonalCare,
	CategoryDrinks,
	CategoryDeli,
	CategorySnacks,
	CategoryMedicine,
	CategoryOther,
	CategoryStationery,
	CategoryGroceries,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type UnitKind string

const (
	ByUnit   UnitKind = "Unidad"
	ByWeight UnitKind = "Peso"
)

func (k UnitKind) Valid() bool {
	return k == ByUnit || k == ByWeight
}

type PaymentMethod string

const (
	PaymentBiopago      PaymentMethod = "Biopago"
	PaymentCashLocal    PaymentMethod = "Bolívares en Efectivo"
	PaymentCashUSD      PaymentMethod = "Dolares en Efectivo"
	PaymentMobile       PaymentMethod = "Pago móvil"
	PaymentCardTerminal PaymentMethod = "Punto de venta"
	PaymentBankTransfer PaymentMethod = "Transferencia Bancaria"
	PaymentZelle        PaymentMethod = "Zelle"
)

// PaymentMethods is ordered; closing summaries follow this order.
var PaymentMethods = []PaymentMethod{
	PaymentBiopago,
	PaymentCashLocal,
	PaymentCashUSD,
	PaymentMobile,
	PaymentCardTerminal,
	PaymentBankTransfer,
	PaymentZelle,
}

func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type Product struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Category             Category  `json:"category"`
	UnitKind             UnitKind  `json:"unit_kind"`
	AcquisitionCostLocal float64   `json:"acquisition_cost_local"`
	AcquisitionRate      float64   `json:"acquisition_rate"`
	ProfitPercentMargin  float64   `json:"profit_percent_margin"`
	HasFixedPrice        bool      `json:"has_fixed_price"`
	FixedPriceLocal      float64   `json:"fixed_price_local"`
	Stock                float64   `json:"stock"`
	Code                 string    `json:"code,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

type SaleLine struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	SalePrice float64 `json:"sale_price"`
	UnitPrice float64 `json:"unit_price"`
	Profit    float64 `json:"profit"`
	Unit      string  `json:"unit,omitempty"`

	// StockQuantity is the stock decrement applied at checkout.
	StockQuantity float64 `json:"stock_quantity"`
}

func (l SaleLine) WeightBased() bool {
	return l.Unit == "g"
}

// StockDelta is the amount of stock the line took at checkout. Lines stored
// without StockQuantity fall back to the quantity, or 1 for weight lines.
func (l SaleLine) StockDelta() float64 {
	if l.StockQuantity > 0 {
		return l.StockQuantity
	}
	if l.WeightBased() {
		return 1
	}
	return l.Quantity
}

type Sale struct {
	ID               string        `json:"id"`
	Lines            []SaleLine    `json:"items"`
	TotalLocal       float64       `json:"total_local"`
	TotalUSD         float64       `json:"total_usd"`
	TotalProfitLocal float64       `json:"total_profit_local"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	CreatedAt        time.Time     `json:"created_at"`
}

func (s Sale) Clone() Sale {
	out := s
	out.Lines = append([]SaleLine(nil), s.Lines...)
	return out
}

type DailyClosing struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	TotalLocal       float64   `json:"total_local"`
	TotalUSD         float64   `json:"total_usd"`
	TotalProfitLocal float64   `json:"total_profit_local"`
	SalesCount       int       `json:"sales_count"`
	Sales            []Sale    `json:"sales_data"`
}

func (c DailyClosing) Clone() DailyClosing {
	out := c
	out.Sales = make([]Sale, len(c.Sales))
	for i, sale := range c.Sales {
		out.Sales[i] = sale.Clone()
	}
	return out
}

type PaymentSummary struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalLocal    float64       `json:"total_local"`
	TotalUSD      float64       `json:"total_usd"`
	ProfitLocal   float64       `json:"profit_local"`
	SalesCount    int           `json:"sales_count"`
}

type Actor struct {
	OperatorID string `json:"operator_id"`
	Email      string `json:"email"`
}

type UserAccount struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	AccessToken string `json:"access_token"`
	OperatorID  string `json:"operator_id"`
	Email       string `json:"email"`
	ExpiresAt   string `json:"expires_at"`
}

// ProductInput carries operator-entered fields. Pointers mark fields that
// must be present.
type ProductInput struct {
	Name                 string   `json:"name" validate:"required"`
	Category             string   `json:"category" validate:"required"`
	UnitKind             string   `json:"unit_kind" validate:"required,oneof=Unidad Peso"`
	AcquisitionCostLocal *float64 `json:"acquisition_cost_local" validate:"required,gte=0"`
	AcquisitionRate      *float64 `json:"acquisition_rate" validate:"required,gte=0"`
	ProfitPercentMargin  *float64 `json:"profit_percent_margin" validate:"required,gte=0"`
	HasFixedPrice        bool     `json:"has_fixed_price"`
	FixedPriceLocal      float64  `json:"fixed_price_local" validate:"gte=0"`
	Stock                *float64 `json:"stock" validate:"omitempty,gte=0"`
	Code                 string   `json:"code" validate:"max=64"`
}

type ProductFilter struct {
	Query     string
	Category  Category
	FixedOnly bool
}

type AddUnitLineRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
}

type AddWeightLineRequest struct {
	ProductID   string  `json:"product_id"`
	WeightGrams float64 `json:"weight_grams"`
}

type PaymentMethodRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
}

type CheckoutRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
}

type DailyRateRequest struct {
	Value string `json:"value"`
}

type CartLineView struct {
	ProductID      string   `json:"product_id"`
	Name           string   `json:"name"`
	Category       Category `json:"category"`
	Quantity       float64  `json:"quantity"`
	WeightGrams    float64  `json:"weight_grams,omitempty"`
	WeightBased    bool     `json:"weight_based"`
	Unit           string   `json:"unit,omitempty"`
	SalePriceLocal float64  `json:"sale_price_local"`
	SalePriceUSD   float64  `json:"sale_price_usd"`
	ProfitLocal    float64  `json:"profit_local"`
	LineTotalLocal float64  `json:"line_total_local"`
}

type CartView struct {
	Lines            []CartLineView `json:"lines"`
	TotalLocal       float64        `json:"total_local"`
	TotalUSD         float64        `json:"total_usd"`
	TotalProfitLocal float64        `json:"total_profit_local"`
	DailyRate        float64        `json:"daily_rate"`
	PaymentMethod    PaymentMethod  `json:"payment_method,omitempty"`
}

type CloseDayResponse struct {
	Closed  bool             `json:"closed"`
	Message string           `json:"message,omitempty"`
	Closing *DailyClosing    `json:"closing,omitempty"`
	Summary []PaymentSummary `json:"summary,omitempty"`
}

type ClosingDetail struct {
	Closing DailyClosing     `json:"closing"`
	Summary []PaymentSummary `json:"summary"`
}
