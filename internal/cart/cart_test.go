package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
)

func harina() domain.Product {
	return domain.Product{
		ID:                   "p-harina",
		Name:                 "Harina PAN",
		Category:             domain.CategoryGroceries,
		UnitKind:             domain.ByUnit,
		AcquisitionCostLocal: 120,
		AcquisitionRate:      40,
		ProfitPercentMargin:  25,
		Stock:                20,
	}
}

func queso() domain.Product {
	return domain.Product{
		ID:                   "p-queso",
		Name:                 "Queso blanco",
		Category:             domain.CategoryDeli,
		UnitKind:             domain.ByWeight,
		AcquisitionCostLocal: 6,
		AcquisitionRate:      1,
		HasFixedPrice:        true,
		FixedPriceLocal:      10,
		Stock:                4,
	}
}

func TestAddUnitLineComputesFrozenPrice(t *testing.T) {
	c := New()
	require.NoError(t, c.AddUnitLine(harina(), 2, 50))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 187.5, lines[0].SalePriceLocal)
	assert.Equal(t, 3.75, lines[0].SalePriceUSD)
	assert.Equal(t, 37.5, lines[0].ProfitLocal)
	assert.Equal(t, 2.0, lines[0].Quantity)
	assert.False(t, lines[0].WeightBased)
	assert.Equal(t, "", lines[0].Unit())
}

func TestAddUnitLineMergesKeepingFirstPrice(t *testing.T) {
	c := New()
	require.NoError(t, c.AddUnitLine(harina(), 2, 50))
	require.NoError(t, c.AddUnitLine(harina(), 3, 80))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 5.0, lines[0].Quantity)
	assert.Equal(t, 187.5, lines[0].SalePriceLocal)
	assert.Equal(t, 3.75, lines[0].SalePriceUSD)
}

func TestAddUnitLineRejectsNonPositiveQuantity(t *testing.T) {
	c := New()
	for _, qty := range []float64{0, -1} {
		err := c.AddUnitLine(harina(), qty, 50)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.True(t, c.IsEmpty())
}

func TestAddWeightLine(t *testing.T) {
	c := New()
	require.NoError(t, c.AddWeightLine(queso(), 500, 1))

	lines := c.Lines()
	require.Len(t, lines, 1)
	line := lines[0]
	assert.True(t, line.WeightBased)
	assert.Equal(t, 1.0, line.Quantity)
	assert.Equal(t, 500.0, line.WeightGrams)
	assert.Equal(t, 5.0, line.SalePriceLocal)
	assert.Equal(t, 3.0, line.CostLocal)
	assert.Equal(t, 2.0, line.ProfitLocal)
	assert.Equal(t, 5.0, line.SalePriceUSD)
	assert.Equal(t, WeightUnit, line.Unit())
}

func TestAddWeightLineNeverMerges(t *testing.T) {
	c := New()
	require.NoError(t, c.AddWeightLine(queso(), 250, 1))
	require.NoError(t, c.AddWeightLine(queso(), 250, 1))
	assert.Equal(t, 2, c.Len())
}

func TestAddWeightLineRejectsNonPositiveWeight(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.AddWeightLine(queso(), 0, 1), ErrInvalidWeight)
	assert.ErrorIs(t, c.AddWeightLine(queso(), -10, 1), ErrInvalidWeight)
	assert.Equal(t, 0, c.Len())
}

func TestUnitLineDoesNotMergeIntoWeightLine(t *testing.T) {
	c := New()
	p := queso()
	require.NoError(t, c.AddWeightLine(p, 300, 1))
	require.NoError(t, c.AddUnitLine(p, 1, 1))
	assert.Equal(t, 2, c.Len())
}

func TestRemoveLine(t *testing.T) {
	c := New()
	require.NoError(t, c.AddUnitLine(harina(), 1, 50))
	require.NoError(t, c.AddWeightLine(queso(), 500, 1))

	assert.ErrorIs(t, c.RemoveLine(2), ErrIndexOutOfRange)
	assert.ErrorIs(t, c.RemoveLine(-1), ErrIndexOutOfRange)

	require.NoError(t, c.RemoveLine(0))
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "p-queso", lines[0].ProductID)
}

func TestTotals(t *testing.T) {
	c := New()
	require.NoError(t, c.AddUnitLine(harina(), 2, 50))
	require.NoError(t, c.AddWeightLine(queso(), 500, 50))

	totals := c.Totals(50)
	// 187.50*2 + 10*0.5
	assert.Equal(t, 380.0, totals.TotalLocal)
	assert.Equal(t, 7.6, totals.TotalUSD)
	// 37.50*2 + (5.00 - 150.00)
	assert.Equal(t, -70.0, totals.TotalProfitLocal)
}

func TestTotalsWithoutRate(t *testing.T) {
	c := New()
	require.NoError(t, c.AddWeightLine(queso(), 1000, 0))
	totals := c.Totals(0)
	assert.Equal(t, 10.0, totals.TotalLocal)
	assert.Zero(t, totals.TotalUSD)
}

func TestClearAndShareText(t *testing.T) {
	c := New()
	require.NoError(t, c.AddUnitLine(harina(), 8, 50))
	assert.Equal(t, "Total: Bs. 1.500,00", ShareText(c.Totals(50)))

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.Equal(t, Totals{}, c.Totals(50))
}
