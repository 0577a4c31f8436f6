// Package firestore keeps the POS data in the Cloud Firestore layout the web
// client uses: artifacts/{appID}/users/{operator}/{inventory,salesHistory,
// dailyClosings,settings}.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

const (
	inventoryCollection = "inventory"
	salesCollection     = "salesHistory"
	closingsCollection  = "dailyClosings"
	settingsCollection  = "settings"
	dailyRateDoc        = "dailyRate"
	operatorsCollection = "operators"
)

var _ store.Repository = (*Store)(nil)

type Config struct {
	ProjectID       string
	AppID           string
	CredentialsFile string
}

type Store struct {
	client *firestore.Client
	appID  string
	log    zerolog.Logger
}

func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	appID := cfg.AppID
	if appID == "" {
		appID = "default-app-id"
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: new client: %w", err)
	}

	return &Store{
		client: client,
		appID:  appID,
		log:    logger.With().Str("component", "firestore-store").Logger(),
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) operatorDoc(operatorID string) *firestore.DocumentRef {
	return s.client.Collection("artifacts").Doc(s.appID).Collection("users").Doc(operatorID)
}

func (s *Store) collection(operatorID, name string) *firestore.CollectionRef {
	return s.operatorDoc(operatorID).Collection(name)
}

func (s *Store) rateRef(operatorID string) *firestore.DocumentRef {
	return s.collection(operatorID, settingsCollection).Doc(dailyRateDoc)
}

func (s *Store) operators() *firestore.CollectionRef {
	return s.client.Collection("artifacts").Doc(s.appID).Collection(operatorsCollection)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return store.ErrNotFound
	}
	return err
}

type productDoc struct {
	Name             string    `firestore:"name"`
	Category         string    `firestore:"category"`
	Type             string    `firestore:"type"`
	CostBs           float64   `firestore:"costBs"`
	AcquisitionRate  float64   `firestore:"acquisitionRate"`
	ProfitPercentage float64   `firestore:"profitPercentage"`
	Code             string    `firestore:"code"`
	Stock            float64   `firestore:"stock"`
	HasFixedPrice    bool      `firestore:"hasFixedPrice"`
	FixedPriceAmount float64   `firestore:"fixedPriceAmount"`
	CreatedAt        time.Time `firestore:"createdAt,serverTimestamp"`
}

func toProductDoc(p domain.Product) productDoc {
	return productDoc{
		Name:             p.Name,
		Category:         string(p.Category),
		Type:             string(p.UnitKind),
		CostBs:           p.AcquisitionCostLocal,
		AcquisitionRate:  p.AcquisitionRate,
		ProfitPercentage: p.ProfitPercentMargin,
		Code:             p.Code,
		Stock:            p.Stock,
		HasFixedPrice:    p.HasFixedPrice,
		FixedPriceAmount: p.FixedPriceLocal,
		CreatedAt:        p.CreatedAt,
	}
}

func (d productDoc) product(id string) domain.Product {
	kind := domain.UnitKind(d.Type)
	if !kind.Valid() {
		kind = domain.ByUnit
	}
	return domain.Product{
		ID:                   id,
		Name:                 d.Name,
		Category:             domain.Category(d.Category),
		UnitKind:             kind,
		AcquisitionCostLocal: d.CostBs,
		AcquisitionRate:      d.AcquisitionRate,
		ProfitPercentMargin:  d.ProfitPercentage,
		HasFixedPrice:        d.HasFixedPrice,
		FixedPriceLocal:      d.FixedPriceAmount,
		Stock:                d.Stock,
		Code:                 d.Code,
		CreatedAt:            d.CreatedAt.UTC(),
	}
}

func (s *Store) ListProducts(ctx context.Context, operatorID string) ([]domain.Product, error) {
	snaps, err := s.collection(operatorID, inventoryCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(snaps))
	for _, snap := range snaps {
		var doc productDoc
		if err := snap.DataTo(&doc); err != nil {
			s.log.Warn().Err(err).Str("product_id", snap.Ref.ID).Msg("skipping unreadable product")
			continue
		}
		products = append(products, doc.product(snap.Ref.ID))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, operatorID string, productID string) (*domain.Product, error) {
	snap, err := s.collection(operatorID, inventoryCollection).Doc(productID).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	var doc productDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	p := doc.product(snap.Ref.ID)
	return &p, nil
}

// UpsertProduct replaces the whole document. A zero CreatedAt lets the server
// stamp it.
func (s *Store) UpsertProduct(ctx context.Context, operatorID string, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidDocument
	}
	coll := s.collection(operatorID, inventoryCollection)
	ref := coll.NewDoc()
	if product.ID != "" {
		ref = coll.Doc(product.ID)
	}
	if _, err := ref.Set(ctx, toProductDoc(product)); err != nil {
		return nil, err
	}
	product.ID = ref.ID
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, operatorID string, productID string) error {
	_, err := s.collection(operatorID, inventoryCollection).Doc(productID).Delete(ctx, firestore.Exists)
	return mapErr(err)
}

func (s *Store) SetStock(ctx context.Context, operatorID string, productID string, stock float64) error {
	_, err := s.collection(operatorID, inventoryCollection).Doc(productID).Update(ctx, []firestore.Update{
		{Path: "stock", Value: stock},
	})
	return mapErr(err)
}

type saleItemDoc struct {
	ID        string  `firestore:"id"`
	Name      string  `firestore:"name"`
	Quantity  float64 `firestore:"quantity"`
	SalePrice float64 `firestore:"salePrice"`
	Profit    float64 `firestore:"profit"`
	UnitPrice float64 `firestore:"unitPrice"`
	Unit      string  `firestore:"unit"`
	StockQty  float64 `firestore:"stockQty"`
}

// saleDoc is both a salesHistory document and an entry of a closing's
// salesData, where the id is embedded.
type saleDoc struct {
	ID            string        `firestore:"id,omitempty"`
	Items         []saleItemDoc `firestore:"items"`
	TotalBs       float64       `firestore:"totalBs"`
	TotalDollars  float64       `firestore:"totalDollars"`
	TotalProfitBs float64       `firestore:"totalProfitBs"`
	PaymentMethod string        `firestore:"paymentMethod"`
	CreatedAt     time.Time     `firestore:"createdAt"`
}

func toSaleDoc(sale domain.Sale) saleDoc {
	items := make([]saleItemDoc, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		items = append(items, saleItemDoc{
			ID:        l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			SalePrice: l.SalePrice,
			Profit:    l.Profit,
			UnitPrice: l.UnitPrice,
			Unit:      l.Unit,
			StockQty:  l.StockQuantity,
		})
	}
	return saleDoc{
		ID:            sale.ID,
		Items:         items,
		TotalBs:       sale.TotalLocal,
		TotalDollars:  sale.TotalUSD,
		TotalProfitBs: sale.TotalProfitLocal,
		PaymentMethod: string(sale.PaymentMethod),
		CreatedAt:     sale.CreatedAt,
	}
}

func (d saleDoc) sale(id string) domain.Sale {
	if id == "" {
		id = d.ID
	}
	lines := make([]domain.SaleLine, 0, len(d.Items))
	for _, item := range d.Items {
		lines = append(lines, domain.SaleLine{
			ProductID:     item.ID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			SalePrice:     item.SalePrice,
			UnitPrice:     item.UnitPrice,
			Profit:        item.Profit,
			Unit:          item.Unit,
			StockQuantity: item.StockQty,
		})
	}
	return domain.Sale{
		ID:               id,
		Lines:            lines,
		TotalLocal:       d.TotalBs,
		TotalUSD:         d.TotalDollars,
		TotalProfitLocal: d.TotalProfitBs,
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		CreatedAt:        d.CreatedAt.UTC(),
	}
}

func (s *Store) CreateSale(ctx context.Context, operatorID string, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidDocument
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.ID = ""

	ref := s.collection(operatorID, salesCollection).NewDoc()
	if _, err := ref.Create(ctx, toSaleDoc(sale)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := sale.Clone()
	saved.ID = ref.ID
	return &saved, nil
}

func (s *Store) DeleteSale(ctx context.Context, operatorID string, saleID string) error {
	_, err := s.collection(operatorID, salesCollection).Doc(saleID).Delete(ctx, firestore.Exists)
	return mapErr(err)
}

// ListOpenSales orders by createdAt on the server. When that query fails (a
// missing index, documents without the field) it falls back to an unordered
// read sorted here.
func (s *Store) ListOpenSales(ctx context.Context, operatorID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = store.OpenLedgerLimit
	}
	coll := s.collection(operatorID, salesCollection)
	snaps, err := coll.OrderBy("createdAt", firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		s.log.Warn().Err(err).Str("operator_id", operatorID).Msg("ordered ledger query failed, falling back to unordered read")
		snaps, err = coll.Limit(limit).Documents(ctx).GetAll()
		if err != nil {
			return nil, err
		}
	}

	sales := make([]domain.Sale, 0, len(snaps))
	for _, snap := range snaps {
		var doc saleDoc
		if err := snap.DataTo(&doc); err != nil {
			s.log.Warn().Err(err).Str("sale_id", snap.Ref.ID).Msg("skipping unreadable sale")
			continue
		}
		sales = append(sales, doc.sale(snap.Ref.ID))
	}
	slices.SortStableFunc(sales, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return sales, nil
}

type closingDoc struct {
	TotalBs      float64   `firestore:"totalBs"`
	TotalDollars float64   `firestore:"totalDollars"`
	TotalProfit  float64   `firestore:"totalProfit"`
	SalesCount   int       `firestore:"salesCount"`
	SalesData    []saleDoc `firestore:"salesData"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func toClosingDoc(c domain.DailyClosing) closingDoc {
	sales := make([]saleDoc, 0, len(c.Sales))
	for _, sale := range c.Sales {
		sales = append(sales, toSaleDoc(sale))
	}
	return closingDoc{
		TotalBs:      c.TotalLocal,
		TotalDollars: c.TotalUSD,
		TotalProfit:  c.TotalProfitLocal,
		SalesCount:   c.SalesCount,
		SalesData:    sales,
		CreatedAt:    c.CreatedAt,
	}
}

func (d closingDoc) closing(id string) domain.DailyClosing {
	sales := make([]domain.Sale, 0, len(d.SalesData))
	for _, sale := range d.SalesData {
		sales = append(sales, sale.sale(""))
	}
	return domain.DailyClosing{
		ID:               id,
		CreatedAt:        d.CreatedAt.UTC(),
		TotalLocal:       d.TotalBs,
		TotalUSD:         d.TotalDollars,
		TotalProfitLocal: d.TotalProfit,
		SalesCount:       d.SalesCount,
		Sales:            sales,
	}
}

func (s *Store) CreateClosing(ctx context.Context, operatorID string, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	ref := s.collection(operatorID, closingsCollection).NewDoc()
	if _, err := ref.Create(ctx, toClosingDoc(closing)); err != nil {
		return nil, err
	}
	saved := closing.Clone()
	saved.ID = ref.ID
	return &saved, nil
}

func (s *Store) GetClosing(ctx context.Context, operatorID string, closingID string) (*domain.DailyClosing, error) {
	snap, err := s.collection(operatorID, closingsCollection).Doc(closingID).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	var doc closingDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	c := doc.closing(snap.Ref.ID)
	return &c, nil
}

func (s *Store) DeleteClosing(ctx context.Context, operatorID string, closingID string) error {
	_, err := s.collection(operatorID, closingsCollection).Doc(closingID).Delete(ctx, firestore.Exists)
	return mapErr(err)
}

func (s *Store) ListClosings(ctx context.Context, operatorID string, limit int) ([]domain.DailyClosing, error) {
	if limit < 1 {
		limit = store.ClosingsLimit
	}
	iter := s.collection(operatorID, closingsCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	closings := make([]domain.DailyClosing, 0, limit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc closingDoc
		if err := snap.DataTo(&doc); err != nil {
			s.log.Warn().Err(err).Str("closing_id", snap.Ref.ID).Msg("skipping unreadable closing")
			continue
		}
		closings = append(closings, doc.closing(snap.Ref.ID))
	}
	return closings, nil
}

type rateDoc struct {
	Value float64 `firestore:"value"`
}

func (s *Store) GetDailyRate(ctx context.Context, operatorID string) (float64, error) {
	snap, err := s.rateRef(operatorID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	var doc rateDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (s *Store) SetDailyRate(ctx context.Context, operatorID string, rate float64) error {
	if !(rate > 0) {
		return store.ErrInvalidDocument
	}
	_, err := s.rateRef(operatorID).Set(ctx, rateDoc{Value: rate})
	return err
}

type operatorDoc struct {
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// CreateUser checks the email and creates the operator in one transaction so
// two sign-ups cannot claim the same address.
func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || user.ID == "" || user.Password == "" {
		return store.ErrInvalidDocument
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	coll := s.operators()
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(coll.Where("email", "==", email).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return store.ErrConflict
		}
		err = tx.Create(coll.Doc(user.ID), operatorDoc{Email: email, PasswordHash: user.Password, CreatedAt: user.CreatedAt})
		if status.Code(err) == codes.AlreadyExists {
			return store.ErrConflict
		}
		return err
	})
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	iter := s.operators().Where("email", "==", strings.ToLower(strings.TrimSpace(email))).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc operatorDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &domain.UserAccount{
		ID:        snap.Ref.ID,
		Email:     doc.Email,
		Password:  doc.PasswordHash,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}
