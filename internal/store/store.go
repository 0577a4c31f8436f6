package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
)

const (
	OpenLedgerLimit = 100
	ClosingsLimit   = 30
)

var (
	ErrNotFound        = domain.ErrNotFound
	ErrConflict        = errors.New("already exists")
	ErrInvalidDocument = fmt.Errorf("%w: invalid document", domain.ErrValidation)
)

// Every method is scoped by the authenticated operator id.
type Catalog interface {
	ListProducts(ctx context.Context, operatorID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, operatorID string, productID string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, operatorID string, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, operatorID string, productID string) error
	SetStock(ctx context.Context, operatorID string, productID string, stock float64) error
}

type Ledger interface {
	CreateSale(ctx context.Context, operatorID string, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, operatorID string, saleID string) error
	// ListOpenSales returns the newest sales first.
	ListOpenSales(ctx context.Context, operatorID string, limit int) ([]domain.Sale, error)
}

type Closings interface {
	CreateClosing(ctx context.Context, operatorID string, closing domain.DailyClosing) (*domain.DailyClosing, error)
	GetClosing(ctx context.Context, operatorID string, closingID string) (*domain.DailyClosing, error)
	DeleteClosing(ctx context.Context, operatorID string, closingID string) error
	ListClosings(ctx context.Context, operatorID string, limit int) ([]domain.DailyClosing, error)
}

type Settings interface {
	// GetDailyRate returns 0 when no rate was saved yet.
	GetDailyRate(ctx context.Context, operatorID string) (float64, error)
	SetDailyRate(ctx context.Context, operatorID string, rate float64) error
}

type Users interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
}

type Repository interface {
	Catalog
	Ledger
	Closings
	Settings
	Users
}

// AtomicSettler is implemented by stores that can write a sale together with
// its stock decrements in one transaction.
type AtomicSettler interface {
	SettleSale(ctx context.Context, operatorID string, sale domain.Sale, decrements map[string]float64) (*domain.Sale, error)
}
