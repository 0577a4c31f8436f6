package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3xsaler/Mi-tienda-pos/internal/cart"
	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

type fakeStore struct {
	mu           sync.Mutex
	sales        map[string]domain.Sale
	stock        map[string]float64
	failSale     bool
	failStockFor string
	failDelete   bool
	nextID       int
}

var _ Store = (*fakeStore)(nil)

func newFakeStore(stock map[string]float64) *fakeStore {
	return &fakeStore{sales: map[string]domain.Sale{}, stock: stock}
}

func (f *fakeStore) CreateSale(_ context.Context, _ string, sale domain.Sale) (*domain.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSale {
		return nil, errors.New("write rejected")
	}
	f.nextID++
	sale.ID = "sale-" + string(rune('0'+f.nextID))
	f.sales[sale.ID] = sale
	return &sale, nil
}

func (f *fakeStore) DeleteSale(_ context.Context, _ string, saleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errors.New("delete rejected")
	}
	if _, ok := f.sales[saleID]; !ok {
		return store.ErrNotFound
	}
	delete(f.sales, saleID)
	return nil
}

func (f *fakeStore) SetStock(_ context.Context, _ string, productID string, stock float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if productID == f.failStockFor {
		return errors.New("patch rejected")
	}
	f.stock[productID] = stock
	return nil
}

func (f *fakeStore) ledger() []domain.Sale {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Sale, 0, len(f.sales))
	for _, s := range f.sales {
		out = append(out, s)
	}
	return out
}

type atomicStore struct {
	*fakeStore
	settled    int
	decrements map[string]float64
}

func (a *atomicStore) SettleSale(ctx context.Context, operatorID string, sale domain.Sale, decrements map[string]float64) (*domain.Sale, error) {
	a.settled++
	a.decrements = decrements
	return a.fakeStore.CreateSale(ctx, operatorID, sale)
}

var _ store.AtomicSettler = (*atomicStore)(nil)

func catalog() []domain.Product {
	return []domain.Product{
		{
			ID: "p-harina", Name: "Harina PAN", Category: domain.CategoryGroceries, UnitKind: domain.ByUnit,
			AcquisitionCostLocal: 120, AcquisitionRate: 40, ProfitPercentMargin: 25, Stock: 20,
		},
		{
			ID: "p-queso", Name: "Queso blanco", Category: domain.CategoryDeli, UnitKind: domain.ByWeight,
			AcquisitionCostLocal: 6, AcquisitionRate: 1, HasFixedPrice: true, FixedPriceLocal: 10, Stock: 4,
		},
	}
}

func filledCart(t *testing.T) *cart.Cart {
	t.Helper()
	products := catalog()
	c := cart.New()
	require.NoError(t, c.AddUnitLine(products[0], 2, 50))
	require.NoError(t, c.AddWeightLine(products[1], 500, 50))
	return c
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	s := New(newFakeStore(map[string]float64{}), zerolog.Nop())
	_, err := s.Checkout(context.Background(), "op-1", cart.New(), domain.PaymentZelle, catalog(), 50)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckoutRejectsMissingPaymentMethod(t *testing.T) {
	fs := newFakeStore(map[string]float64{})
	s := New(fs, zerolog.Nop())
	c := filledCart(t)

	for _, method := range []domain.PaymentMethod{"", "Bitcoin"} {
		_, err := s.Checkout(context.Background(), "op-1", c, method, catalog(), 50)
		assert.ErrorIs(t, err, ErrNoPaymentMethod)
	}
	assert.Equal(t, 2, c.Len())
	assert.Empty(t, fs.ledger())
}

func TestCheckoutWritesSaleAndDecrementsStock(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})
	s := New(fs, zerolog.Nop())
	c := filledCart(t)
	want := c.Totals(50)

	sale, err := s.Checkout(context.Background(), "op-1", c, domain.PaymentMobile, catalog(), 50)
	require.NoError(t, err)

	assert.True(t, c.IsEmpty())
	assert.NotEmpty(t, sale.ID)
	assert.Equal(t, want.TotalLocal, sale.TotalLocal)
	assert.Equal(t, want.TotalUSD, sale.TotalUSD)
	assert.Equal(t, want.TotalProfitLocal, sale.TotalProfitLocal)
	assert.Equal(t, domain.PaymentMobile, sale.PaymentMethod)
	require.Len(t, fs.ledger(), 1)

	require.Len(t, sale.Lines, 2)
	unit, weight := sale.Lines[0], sale.Lines[1]
	assert.Equal(t, 2.0, unit.Quantity)
	assert.Equal(t, 93.75, unit.UnitPrice)
	assert.Equal(t, 2.0, unit.StockQuantity)
	assert.Equal(t, 500.0, weight.Quantity)
	assert.Equal(t, "g", weight.Unit)
	assert.Equal(t, weight.SalePrice, weight.UnitPrice)
	assert.Equal(t, 1.0, weight.StockQuantity)

	assert.Equal(t, 18.0, fs.stock["p-harina"])
	assert.Equal(t, 3.0, fs.stock["p-queso"])
}

func TestCheckoutAggregatesDecrementsPerProduct(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-queso": 4})
	s := New(fs, zerolog.Nop())
	c := cart.New()
	queso := catalog()[1]
	require.NoError(t, c.AddWeightLine(queso, 200, 50))
	require.NoError(t, c.AddWeightLine(queso, 300, 50))

	_, err := s.Checkout(context.Background(), "op-1", c, domain.PaymentZelle, catalog(), 50)
	require.NoError(t, err)
	assert.Equal(t, 2.0, fs.stock["p-queso"])
}

func TestCheckoutSkipsProductsMissingFromCatalog(t *testing.T) {
	fs := newFakeStore(map[string]float64{})
	s := New(fs, zerolog.Nop())
	c := filledCart(t)

	_, err := s.Checkout(context.Background(), "op-1", c, domain.PaymentZelle, nil, 50)
	require.NoError(t, err)
	assert.Empty(t, fs.stock)
	assert.Len(t, fs.ledger(), 1)
}

func TestCheckoutStockFailureKeepsCartAndSale(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})
	fs.failStockFor = "p-queso"
	s := New(fs, zerolog.Nop())
	c := filledCart(t)

	_, err := s.Checkout(context.Background(), "op-1", c, domain.PaymentZelle, catalog(), 50)
	require.ErrorIs(t, err, ErrSettlementFailed)
	assert.ErrorIs(t, err, domain.ErrStore)

	assert.Equal(t, 2, c.Len())
	assert.Len(t, fs.ledger(), 1, "sale write is independent of stock writes")
	assert.Equal(t, 18.0, fs.stock["p-harina"])
}

func TestCheckoutSaleFailureKeepsCart(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})
	fs.failSale = true
	s := New(fs, zerolog.Nop())
	c := filledCart(t)

	_, err := s.Checkout(context.Background(), "op-1", c, domain.PaymentZelle, catalog(), 50)
	require.ErrorIs(t, err, ErrSettlementFailed)
	assert.Equal(t, 2, c.Len())
	assert.Empty(t, fs.ledger())
}

func TestCheckoutUsesAtomicSettlerWhenAvailable(t *testing.T) {
	as := &atomicStore{fakeStore: newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})}
	s := New(as, zerolog.Nop())
	c := filledCart(t)

	_, err := s.Checkout(context.Background(), "op-1", c, domain.PaymentZelle, catalog(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, as.settled)
	assert.Equal(t, map[string]float64{"p-harina": 2, "p-queso": 1}, as.decrements)
	assert.Equal(t, 20.0, as.stock["p-harina"], "stock is left to the transaction")
	assert.True(t, c.IsEmpty())
}

func TestVoidSaleRestoresStockAndDeletes(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})
	s := New(fs, zerolog.Nop())
	sale, err := s.Checkout(context.Background(), "op-1", filledCart(t), domain.PaymentZelle, catalog(), 50)
	require.NoError(t, err)

	after := catalog()
	after[0].Stock = fs.stock["p-harina"]
	after[1].Stock = fs.stock["p-queso"]

	require.NoError(t, s.VoidSale(context.Background(), "op-1", sale.ID, fs.ledger(), after))
	assert.Equal(t, 20.0, fs.stock["p-harina"])
	assert.Equal(t, 4.0, fs.stock["p-queso"])
	assert.Empty(t, fs.ledger())

	err = s.VoidSale(context.Background(), "op-1", sale.ID, fs.ledger(), after)
	assert.ErrorIs(t, err, ErrSaleNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVoidSaleRestoreFailureKeepsSale(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})
	s := New(fs, zerolog.Nop())
	sale, err := s.Checkout(context.Background(), "op-1", filledCart(t), domain.PaymentZelle, catalog(), 50)
	require.NoError(t, err)

	fs.failStockFor = "p-harina"
	err = s.VoidSale(context.Background(), "op-1", sale.ID, fs.ledger(), catalog())
	require.ErrorIs(t, err, ErrVoidFailed)
	assert.Len(t, fs.ledger(), 1)
}

func TestVoidSaleSkipsDeletedProducts(t *testing.T) {
	fs := newFakeStore(map[string]float64{"p-harina": 20, "p-queso": 4})
	s := New(fs, zerolog.Nop())
	sale, err := s.Checkout(context.Background(), "op-1", filledCart(t), domain.PaymentZelle, catalog(), 50)
	require.NoError(t, err)

	onlyQueso := []domain.Product{catalog()[1]}
	onlyQueso[0].Stock = 3
	require.NoError(t, s.VoidSale(context.Background(), "op-1", sale.ID, fs.ledger(), onlyQueso))
	assert.Equal(t, 4.0, fs.stock["p-queso"])
	assert.Equal(t, 18.0, fs.stock["p-harina"])
}

func TestRestorationsFallBackForLegacyLines(t *testing.T) {
	sale := domain.Sale{Lines: []domain.SaleLine{
		{ProductID: "a", Quantity: 3},
		{ProductID: "b", Quantity: 750, Unit: "g"},
		{ProductID: "b", Quantity: 250, Unit: "g"},
	}}
	assert.Equal(t, map[string]float64{"a": 3, "b": 2}, Restorations(sale))
}
