package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
	"github.com/r3xsaler/Mi-tienda-pos/internal/xid"
)

const DemoOperatorID = "demo-operator"

type Store struct {
	mu          sync.RWMutex
	seq         int64
	operators   map[string]*partition
	usersByMail map[string]domain.UserAccount
}

type partition struct {
	products  map[string]domain.Product
	sales     map[string]entry[domain.Sale]
	closings  map[string]entry[domain.DailyClosing]
	dailyRate float64
}

// entry keeps insertion order for documents created within the same instant.
type entry[T any] struct {
	doc T
	seq int64
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		operators:   make(map[string]*partition),
		usersByMail: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo operator, a small catalog and a daily
// rate. Credentials come from SEED_OPERATOR_EMAIL and SEED_OPERATOR_PASSWORD;
// dev defaults are used with a warning when unset.
func NewSeeded() *Store {
	s := New()

	email := strings.ToLower(envOr("SEED_OPERATOR_EMAIL", "demo@mitienda.local"))
	password := envOr("SEED_OPERATOR_PASSWORD", "demo1234")
	if os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default demo credentials; set SEED_OPERATOR_EMAIL and SEED_OPERATOR_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash seed password")
	}
	now := time.Now().UTC()
	s.usersByMail[email] = domain.UserAccount{
		ID:        DemoOperatorID,
		Email:     email,
		Password:  string(hash),
		CreatedAt: now,
	}

	part := s.partition(DemoOperatorID)
	part.dailyRate = 36.5
	for _, p := range []domain.Product{
		{Name: "Harina PAN 1kg", Category: domain.CategoryGroceries, UnitKind: domain.ByUnit, AcquisitionCostLocal: 40, AcquisitionRate: 36.5, ProfitPercentMargin: 30, Stock: 48, Code: "7591002000011"},
		{Name: "Arroz Mary 1kg", Category: domain.CategoryGroceries, UnitKind: domain.ByUnit, AcquisitionCostLocal: 45, AcquisitionRate: 36.5, ProfitPercentMargin: 25, Stock: 36},
		{Name: "Malta Polar", Category: domain.CategoryDrinks, UnitKind: domain.ByUnit, AcquisitionCostLocal: 25, AcquisitionRate: 36.5, ProfitPercentMargin: 35, Stock: 60},
		{Name: "Queso blanco", Category: domain.CategoryDeli, UnitKind: domain.ByWeight, AcquisitionCostLocal: 150, AcquisitionRate: 36.5, ProfitPercentMargin: 30, Stock: 5},
		{Name: "Jamón de pierna", Category: domain.CategoryDeli, UnitKind: domain.ByWeight, AcquisitionCostLocal: 220, AcquisitionRate: 36.5, ProfitPercentMargin: 28, Stock: 3},
		{Name: "Acetaminofén 500mg", Category: domain.CategoryMedicine, UnitKind: domain.ByUnit, AcquisitionCostLocal: 18, AcquisitionRate: 36.5, HasFixedPrice: true, FixedPriceLocal: 30, Stock: 24},
		{Name: "Cuaderno 100 hojas", Category: domain.CategoryStationery, UnitKind: domain.ByUnit, AcquisitionCostLocal: 35, AcquisitionRate: 36.5, ProfitPercentMargin: 40, Stock: 15},
	} {
		p.ID = xid.New("prod")
		p.CreatedAt = now
		part.products[p.ID] = p
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// partition must be called with s.mu held for writing.
func (s *Store) partition(operatorID string) *partition {
	part, ok := s.operators[operatorID]
	if !ok {
		part = &partition{
			products: make(map[string]domain.Product),
			sales:    make(map[string]entry[domain.Sale]),
			closings: make(map[string]entry[domain.DailyClosing]),
		}
		s.operators[operatorID] = part
	}
	return part
}

func (s *Store) read(operatorID string) (*partition, bool) {
	part, ok := s.operators[operatorID]
	return part, ok
}

func (s *Store) ListProducts(_ context.Context, operatorID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.read(operatorID)
	if !ok {
		return []domain.Product{}, nil
	}
	products := make([]domain.Product, 0, len(part.products))
	for _, p := range part.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, operatorID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.read(operatorID)
	if !ok {
		return nil, store.ErrNotFound
	}
	p, ok := part.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpsertProduct(_ context.Context, operatorID string, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partition(operatorID)
	if product.ID == "" {
		product.ID = xid.New("prod")
		product.CreatedAt = time.Now().UTC()
	} else if existing, ok := part.products[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	part.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, operatorID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.read(operatorID)
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := part.products[productID]; !ok {
		return store.ErrNotFound
	}
	delete(part.products, productID)
	return nil
}

func (s *Store) SetStock(_ context.Context, operatorID string, productID string, stock float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.read(operatorID)
	if !ok {
		return store.ErrNotFound
	}
	p, ok := part.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = stock
	part.products[productID] = p
	return nil
}

func (s *Store) CreateSale(_ context.Context, operatorID string, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partition(operatorID)
	sale = sale.Clone()
	sale.ID = xid.New("sale")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.seq++
	part.sales[sale.ID] = entry[domain.Sale]{doc: sale, seq: s.seq}

	created := sale.Clone()
	return &created, nil
}

func (s *Store) DeleteSale(_ context.Context, operatorID string, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.read(operatorID)
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := part.sales[saleID]; !ok {
		return store.ErrNotFound
	}
	delete(part.sales, saleID)
	return nil
}

func (s *Store) ListOpenSales(_ context.Context, operatorID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.read(operatorID)
	if !ok {
		return []domain.Sale{}, nil
	}
	return newestFirst(part.sales, func(sale domain.Sale) time.Time { return sale.CreatedAt }, domain.Sale.Clone, limit), nil
}

func (s *Store) CreateClosing(_ context.Context, operatorID string, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partition(operatorID)
	closing = closing.Clone()
	closing.ID = xid.New("closing")
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	s.seq++
	part.closings[closing.ID] = entry[domain.DailyClosing]{doc: closing, seq: s.seq}

	created := closing.Clone()
	return &created, nil
}

func (s *Store) GetClosing(_ context.Context, operatorID string, closingID string) (*domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.read(operatorID)
	if !ok {
		return nil, store.ErrNotFound
	}
	e, ok := part.closings[closingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	closing := e.doc.Clone()
	return &closing, nil
}

func (s *Store) DeleteClosing(_ context.Context, operatorID string, closingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.read(operatorID)
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := part.closings[closingID]; !ok {
		return store.ErrNotFound
	}
	delete(part.closings, closingID)
	return nil
}

func (s *Store) ListClosings(_ context.Context, operatorID string, limit int) ([]domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.read(operatorID)
	if !ok {
		return []domain.DailyClosing{}, nil
	}
	return newestFirst(part.closings, func(c domain.DailyClosing) time.Time { return c.CreatedAt }, domain.DailyClosing.Clone, limit), nil
}

func (s *Store) GetDailyRate(_ context.Context, operatorID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.read(operatorID)
	if !ok {
		return 0, nil
	}
	return part.dailyRate, nil
}

func (s *Store) SetDailyRate(_ context.Context, operatorID string, rate float64) error {
	if !(rate > 0) {
		return store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.partition(operatorID).dailyRate = rate
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || user.ID == "" || user.Password == "" {
		return store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByMail[email]; exists {
		return store.ErrConflict
	}
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByMail[email] = user
	return nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByMail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func newestFirst[T any](docs map[string]entry[T], createdAt func(T) time.Time, clone func(T) T, limit int) []T {
	entries := make([]entry[T], 0, len(docs))
	for _, e := range docs {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b entry[T]) int {
		if c := createdAt(b.doc).Compare(createdAt(a.doc)); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, clone(e.doc))
	}
	return out
}
