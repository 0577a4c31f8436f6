// Package settlement turns a cart into a sale and compensates voided sales.
//
// Outside of stores implementing store.AtomicSettler, the sale write and the
// stock writes are independent: when one of them fails the others may still
// have been applied. Callers get ErrSettlementFailed and keep the cart so the
// operator can retry.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/r3xsaler/Mi-tienda-pos/internal/cart"
	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

var (
	ErrEmptyCart        = fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	ErrNoPaymentMethod  = fmt.Errorf("%w: select a payment method", domain.ErrValidation)
	ErrSettlementFailed = fmt.Errorf("%w: sale could not be settled", domain.ErrStore)
	ErrVoidFailed       = fmt.Errorf("%w: sale could not be voided", domain.ErrStore)
	ErrSaleNotFound     = fmt.Errorf("%w: sale", domain.ErrNotFound)
)

type Store interface {
	CreateSale(ctx context.Context, operatorID string, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, operatorID string, saleID string) error
	SetStock(ctx context.Context, operatorID string, productID string, stock float64) error
}

type Settler struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(st Store, logger zerolog.Logger) *Settler {
	return &Settler{
		store: st,
		log:   logger.With().Str("component", "settlement").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// BuildSale snapshots cart lines. Weight lines record grams as quantity and
// their composite price as unit price.
func BuildSale(lines []cart.Line, totals cart.Totals, method domain.PaymentMethod, at time.Time) domain.Sale {
	items := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		item := domain.SaleLine{
			ProductID:     line.ProductID,
			Name:          line.Name,
			Quantity:      line.Quantity,
			SalePrice:     line.SalePriceLocal,
			Profit:        line.ProfitLocal,
			Unit:          line.Unit(),
			StockQuantity: line.Quantity,
		}
		if line.WeightBased {
			item.Quantity = line.WeightGrams
			item.UnitPrice = line.SalePriceLocal
		} else {
			item.UnitPrice = line.SalePriceLocal / line.Quantity
		}
		items = append(items, item)
	}

	return domain.Sale{
		Lines:            items,
		TotalLocal:       totals.TotalLocal,
		TotalUSD:         totals.TotalUSD,
		TotalProfitLocal: totals.TotalProfitLocal,
		PaymentMethod:    method,
		CreatedAt:        at,
	}
}

// Decrements sums the stock taken per product. A weight line takes one unit.
func Decrements(lines []cart.Line) map[string]float64 {
	out := make(map[string]float64, len(lines))
	for _, line := range lines {
		out[line.ProductID] += line.Quantity
	}
	return out
}

func Restorations(sale domain.Sale) map[string]float64 {
	out := make(map[string]float64, len(sale.Lines))
	for _, line := range sale.Lines {
		out[line.ProductID] += line.StockDelta()
	}
	return out
}

// Checkout settles the cart against the catalog snapshot and clears it on
// success.
func (s *Settler) Checkout(ctx context.Context, operatorID string, c *cart.Cart, method domain.PaymentMethod, catalog []domain.Product, dailyRate float64) (domain.Sale, error) {
	if c.IsEmpty() {
		return domain.Sale{}, ErrEmptyCart
	}
	if method == "" || !method.Valid() {
		return domain.Sale{}, ErrNoPaymentMethod
	}

	lines := c.Lines()
	sale := BuildSale(lines, c.Totals(dailyRate), method, s.now())
	decrements := Decrements(lines)

	if atomic, ok := s.store.(store.AtomicSettler); ok {
		saved, err := atomic.SettleSale(ctx, operatorID, sale, decrements)
		if err != nil {
			return domain.Sale{}, fmt.Errorf("%w: %w", ErrSettlementFailed, err)
		}
		c.Clear()
		return *saved, nil
	}

	stock := stockByID(catalog)
	var saved *domain.Sale
	var g errgroup.Group
	g.Go(func() error {
		created, err := s.store.CreateSale(ctx, operatorID, sale)
		if err != nil {
			return fmt.Errorf("create sale: %w", err)
		}
		saved = created
		return nil
	})
	for productID, qty := range decrements {
		productID := productID
		current, ok := stock[productID]
		if !ok {
			s.log.Warn().Str("operator_id", operatorID).Str("product_id", productID).Msg("product no longer in catalog, stock not decremented")
			continue
		}
		next := current - qty
		g.Go(func() error {
			if err := s.store.SetStock(ctx, operatorID, productID, next); err != nil {
				return fmt.Errorf("set stock %s: %w", productID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).
			Str("operator_id", operatorID).
			Bool("sale_written", saved != nil).
			Msg("settlement failed, writes may be partially applied")
		return domain.Sale{}, fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}

	c.Clear()
	return *saved, nil
}

// VoidSale restores stock for every product still in the catalog, then
// deletes the sale. The sale is only deleted when all restores succeeded.
func (s *Settler) VoidSale(ctx context.Context, operatorID string, saleID string, ledger []domain.Sale, catalog []domain.Product) error {
	var sale *domain.Sale
	for i := range ledger {
		if ledger[i].ID == saleID {
			sale = &ledger[i]
			break
		}
	}
	if sale == nil {
		return ErrSaleNotFound
	}

	stock := stockByID(catalog)
	var g errgroup.Group
	for productID, qty := range Restorations(*sale) {
		productID := productID
		current, ok := stock[productID]
		if !ok {
			continue
		}
		next := current + qty
		g.Go(func() error {
			if err := s.store.SetStock(ctx, operatorID, productID, next); err != nil {
				return fmt.Errorf("restore stock %s: %w", productID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrVoidFailed, err)
	}

	if err := s.store.DeleteSale(ctx, operatorID, saleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrSaleNotFound
		}
		return fmt.Errorf("%w: delete sale: %w", ErrVoidFailed, err)
	}
	return nil
}

func stockByID(catalog []domain.Product) map[string]float64 {
	out := make(map[string]float64, len(catalog))
	for _, p := range catalog {
		out[p.ID] = p.Stock
	}
	return out
}
