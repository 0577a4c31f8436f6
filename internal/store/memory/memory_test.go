package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

func TestProductsArePartitionedByOperator(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.UpsertProduct(ctx, "op-a", domain.Product{Name: "Malta", Stock: 10})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	other, err := s.ListProducts(ctx, "op-b")
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = s.GetProduct(ctx, "op-b", created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertKeepsCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.UpsertProduct(ctx, "op-a", domain.Product{Name: "Malta"})
	require.NoError(t, err)

	updated := *created
	updated.Name = "Malta Polar"
	updated.CreatedAt = time.Time{}
	saved, err := s.UpsertProduct(ctx, "op-a", updated)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, saved.CreatedAt)
	assert.Equal(t, "Malta Polar", saved.Name)
}

func TestSetStockAndDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	p, err := s.UpsertProduct(ctx, "op-a", domain.Product{Name: "Malta", Stock: 10})
	require.NoError(t, err)

	require.NoError(t, s.SetStock(ctx, "op-a", p.ID, 7))
	got, err := s.GetProduct(ctx, "op-a", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Stock)

	require.NoError(t, s.DeleteProduct(ctx, "op-a", p.ID))
	assert.ErrorIs(t, s.SetStock(ctx, "op-a", p.ID, 1), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteProduct(ctx, "op-a", p.ID), store.ErrNotFound)
}

func TestOpenSalesNewestFirstAndBounded(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)

	for i := 0; i < store.OpenLedgerLimit+5; i++ {
		_, err := s.CreateSale(ctx, "op-a", domain.Sale{
			Lines:      []domain.SaleLine{{ProductID: "p", Quantity: 1}},
			TotalLocal: float64(i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	sales, err := s.ListOpenSales(ctx, "op-a", store.OpenLedgerLimit)
	require.NoError(t, err)
	require.Len(t, sales, store.OpenLedgerLimit)
	assert.Equal(t, float64(store.OpenLedgerLimit+4), sales[0].TotalLocal)
	assert.Equal(t, 5.0, sales[len(sales)-1].TotalLocal)
}

func TestSalesWithSameTimestampKeepInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.CreateSale(ctx, "op-a", domain.Sale{
			Lines:      []domain.SaleLine{{ProductID: "p", Quantity: 1}},
			TotalLocal: float64(i),
			CreatedAt:  at,
		})
		require.NoError(t, err)
	}

	sales, err := s.ListOpenSales(ctx, "op-a", 0)
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, []float64{2, 1, 0}, []float64{sales[0].TotalLocal, sales[1].TotalLocal, sales[2].TotalLocal})
}

func TestSaleReturnedCopiesAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateSale(ctx, "op-a", domain.Sale{Lines: []domain.SaleLine{{ProductID: "p", Name: "Arroz", Quantity: 1}}})
	require.NoError(t, err)
	created.Lines[0].Name = "changed"

	sales, err := s.ListOpenSales(ctx, "op-a", 10)
	require.NoError(t, err)
	assert.Equal(t, "Arroz", sales[0].Lines[0].Name)
}

func TestCreateSaleRejectsEmptySale(t *testing.T) {
	_, err := New().CreateSale(context.Background(), "op-a", domain.Sale{})
	assert.ErrorIs(t, err, store.ErrInvalidDocument)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClosingsLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < store.ClosingsLimit+2; i++ {
		_, err := s.CreateClosing(ctx, "op-a", domain.DailyClosing{
			CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			SalesCount: i,
		})
		require.NoError(t, err)
	}

	closings, err := s.ListClosings(ctx, "op-a", store.ClosingsLimit)
	require.NoError(t, err)
	require.Len(t, closings, store.ClosingsLimit)
	assert.Equal(t, store.ClosingsLimit+1, closings[0].SalesCount)

	got, err := s.GetClosing(ctx, "op-a", closings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, closings[0].ID, got.ID)

	require.NoError(t, s.DeleteClosing(ctx, "op-a", got.ID))
	_, err = s.GetClosing(ctx, "op-a", got.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteClosing(ctx, "op-a", got.ID), store.ErrNotFound)
}

func TestDailyRate(t *testing.T) {
	s := New()
	ctx := context.Background()

	rate, err := s.GetDailyRate(ctx, "op-a")
	require.NoError(t, err)
	assert.Zero(t, rate)

	assert.ErrorIs(t, s.SetDailyRate(ctx, "op-a", 0), store.ErrInvalidDocument)
	require.NoError(t, s.SetDailyRate(ctx, "op-a", 36.5))

	rate, err = s.GetDailyRate(ctx, "op-a")
	require.NoError(t, err)
	assert.Equal(t, 36.5, rate)
}

func TestUsers(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{ID: "op-a", Email: "Ana@Tienda.com", Password: "$2a$hash"}))
	err := s.CreateUser(ctx, domain.UserAccount{ID: "op-b", Email: "ana@tienda.com", Password: "$2a$hash"})
	assert.ErrorIs(t, err, store.ErrConflict)

	user, err := s.FindUserByEmail(ctx, " ANA@tienda.com ")
	require.NoError(t, err)
	assert.Equal(t, "op-a", user.ID)

	_, err = s.FindUserByEmail(ctx, "nobody@tienda.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSeeded(t *testing.T) {
	t.Setenv("SEED_OPERATOR_EMAIL", "")
	t.Setenv("SEED_OPERATOR_PASSWORD", "")

	s := NewSeeded()
	ctx := context.Background()

	user, err := s.FindUserByEmail(ctx, "demo@mitienda.local")
	require.NoError(t, err)
	assert.Equal(t, DemoOperatorID, user.ID)

	products, err := s.ListProducts(ctx, DemoOperatorID)
	require.NoError(t, err)
	assert.NotEmpty(t, products)
	for _, p := range products {
		assert.True(t, p.Category.Valid(), fmt.Sprintf("category %q", p.Category))
		assert.True(t, p.UnitKind.Valid())
	}

	rate, err := s.GetDailyRate(ctx, DemoOperatorID)
	require.NoError(t, err)
	assert.Greater(t, rate, 0.0)
}
