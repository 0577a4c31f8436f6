package closing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/money"
)

var ErrCloseFailed = fmt.Errorf("%w: day could not be closed", domain.ErrStore)

type Store interface {
	CreateClosing(ctx context.Context, operatorID string, closing domain.DailyClosing) (*domain.DailyClosing, error)
	DeleteSale(ctx context.Context, operatorID string, saleID string) error
}

type Result struct {
	// Closed is false when the ledger was empty and nothing was written.
	Closed  bool
	Closing domain.DailyClosing
}

// Build rolls the ledger into a closing that embeds copies of every sale.
func Build(sales []domain.Sale, at time.Time) (domain.DailyClosing, bool) {
	if len(sales) == 0 {
		return domain.DailyClosing{}, false
	}

	var local, usd, profit float64
	embedded := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		local += sale.TotalLocal
		usd += sale.TotalUSD
		profit += sale.TotalProfitLocal
		embedded = append(embedded, sale.Clone())
	}

	return domain.DailyClosing{
		CreatedAt:        at,
		TotalLocal:       money.Round2(local),
		TotalUSD:         money.Round2(usd),
		TotalProfitLocal: money.Round2(profit),
		SalesCount:       len(sales),
		Sales:            embedded,
	}, true
}

// Summarize groups sales by payment method in the enumerated order and drops
// methods without a positive local total.
func Summarize(sales []domain.Sale) []domain.PaymentSummary {
	byMethod := make(map[domain.PaymentMethod]*domain.PaymentSummary, len(domain.PaymentMethods))
	for _, sale := range sales {
		entry, ok := byMethod[sale.PaymentMethod]
		if !ok {
			entry = &domain.PaymentSummary{PaymentMethod: sale.PaymentMethod}
			byMethod[sale.PaymentMethod] = entry
		}
		entry.TotalLocal += sale.TotalLocal
		entry.TotalUSD += sale.TotalUSD
		entry.ProfitLocal += sale.TotalProfitLocal
		entry.SalesCount++
	}

	out := make([]domain.PaymentSummary, 0, len(byMethod))
	for _, method := range domain.PaymentMethods {
		entry, ok := byMethod[method]
		if !ok || entry.TotalLocal <= 0 {
			continue
		}
		entry.TotalLocal = money.Round2(entry.TotalLocal)
		entry.TotalUSD = money.Round2(entry.TotalUSD)
		entry.ProfitLocal = money.Round2(entry.ProfitLocal)
		out = append(out, *entry)
	}
	return out
}

type Closer struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(st Store, logger zerolog.Logger) *Closer {
	return &Closer{
		store: st,
		log:   logger.With().Str("component", "closing").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CloseDay writes the closing before deleting any ledger sale, so an
// interrupted close leaves duplicates rather than gaps.
func (c *Closer) CloseDay(ctx context.Context, operatorID string, ledger []domain.Sale) (Result, error) {
	draft, ok := Build(ledger, c.now())
	if !ok {
		return Result{}, nil
	}

	saved, err := c.store.CreateClosing(ctx, operatorID, draft)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCloseFailed, err)
	}

	var g errgroup.Group
	for _, sale := range ledger {
		sale := sale
		g.Go(func() error {
			if err := c.store.DeleteSale(ctx, operatorID, sale.ID); err != nil {
				return fmt.Errorf("delete sale %s: %w", sale.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn().Err(err).
			Str("operator_id", operatorID).
			Str("closing_id", saved.ID).
			Msg("closing written but open ledger not fully cleared")
		return Result{Closed: true, Closing: *saved}, fmt.Errorf("%w: %w", ErrCloseFailed, err)
	}

	return Result{Closed: true, Closing: *saved}, nil
}
