package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
	"github.com/r3xsaler/Mi-tienda-pos/internal/xid"
)

//go:embed schema.sql
var schema string

var (
	_ store.Repository    = (*Store)(nil)
	_ store.AtomicSettler = (*Store)(nil)
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const productColumns = `id, name, category, unit_kind, acquisition_cost_local, acquisition_rate,
	profit_percent_margin, has_fixed_price, fixed_price_local, stock, code, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Category,
		&p.UnitKind,
		&p.AcquisitionCostLocal,
		&p.AcquisitionRate,
		&p.ProfitPercentMargin,
		&p.HasFixedPrice,
		&p.FixedPriceLocal,
		&p.Stock,
		&p.Code,
		&p.CreatedAt,
	)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, operatorID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE operator_id = $1
		ORDER BY lower(name), id
	`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, operatorID string, productID string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE operator_id = $1 AND id = $2
	`, operatorID, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpsertProduct creates the product when it has no id and replaces the whole
// document otherwise. created_at is never overwritten.
func (s *Store) UpsertProduct(ctx context.Context, operatorID string, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidDocument
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	saved, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (
			operator_id, id, name, category, unit_kind, acquisition_cost_local, acquisition_rate,
			profit_percent_margin, has_fixed_price, fixed_price_local, stock, code, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (operator_id, id)
		DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			unit_kind = EXCLUDED.unit_kind,
			acquisition_cost_local = EXCLUDED.acquisition_cost_local,
			acquisition_rate = EXCLUDED.acquisition_rate,
			profit_percent_margin = EXCLUDED.profit_percent_margin,
			has_fixed_price = EXCLUDED.has_fixed_price,
			fixed_price_local = EXCLUDED.fixed_price_local,
			stock = EXCLUDED.stock,
			code = EXCLUDED.code
		RETURNING `+productColumns,
		operatorID, product.ID, product.Name, product.Category, product.UnitKind,
		product.AcquisitionCostLocal, product.AcquisitionRate, product.ProfitPercentMargin,
		product.HasFixedPrice, product.FixedPriceLocal, product.Stock, product.Code, product.CreatedAt))
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Store) DeleteProduct(ctx context.Context, operatorID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE operator_id = $1 AND id = $2`, operatorID, productID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) SetStock(ctx context.Context, operatorID string, productID string, stock float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock = $3
		WHERE operator_id = $1 AND id = $2
	`, operatorID, productID, stock)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSale(ctx context.Context, db execer, operatorID string, sale domain.Sale) (domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return domain.Sale{}, store.ErrInvalidDocument
	}
	sale = sale.Clone()
	sale.ID = xid.New("sale")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(sale.Lines)
	if err != nil {
		return domain.Sale{}, err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sales (operator_id, id, items, total_local, total_usd, total_profit_local, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, operatorID, sale.ID, itemsJSON, sale.TotalLocal, sale.TotalUSD, sale.TotalProfitLocal, sale.PaymentMethod, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Sale{}, store.ErrConflict
		}
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Store) CreateSale(ctx context.Context, operatorID string, sale domain.Sale) (*domain.Sale, error) {
	saved, err := insertSale(ctx, s.db, operatorID, sale)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// SettleSale writes the sale and applies every stock decrement in one
// serializable transaction. Decrements for products that no longer exist are
// ignored.
func (s *Store) SettleSale(ctx context.Context, operatorID string, sale domain.Sale, decrements map[string]float64) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := insertSale(ctx, tx, operatorID, sale)
	if err != nil {
		return nil, err
	}
	for productID, qty := range decrements {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $3
			WHERE operator_id = $1 AND id = $2
		`, operatorID, productID, qty); err != nil {
			return nil, fmt.Errorf("decrement stock %s: %w", productID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Store) DeleteSale(ctx context.Context, operatorID string, saleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE operator_id = $1 AND id = $2`, operatorID, saleID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListOpenSales(ctx context.Context, operatorID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = store.OpenLedgerLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, items, total_local, total_usd, total_profit_local, payment_method, created_at
		FROM sales
		WHERE operator_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var itemsRaw []byte
		if err := rows.Scan(
			&sale.ID,
			&itemsRaw,
			&sale.TotalLocal,
			&sale.TotalUSD,
			&sale.TotalProfitLocal,
			&sale.PaymentMethod,
			&sale.CreatedAt,
		); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		if err := json.Unmarshal(itemsRaw, &sale.Lines); err != nil {
			return nil, fmt.Errorf("decode sale %s items: %w", sale.ID, err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateClosing(ctx context.Context, operatorID string, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	closing = closing.Clone()
	closing.ID = xid.New("closing")
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}

	salesJSON, err := json.Marshal(closing.Sales)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_closings (operator_id, id, total_local, total_usd, total_profit_local, sales_count, sales_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, operatorID, closing.ID, closing.TotalLocal, closing.TotalUSD, closing.TotalProfitLocal, closing.SalesCount, salesJSON, closing.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &closing, nil
}

const closingColumns = `id, total_local, total_usd, total_profit_local, sales_count, sales_data, created_at`

func scanClosing(row scanner) (domain.DailyClosing, error) {
	var c domain.DailyClosing
	var salesRaw []byte
	if err := row.Scan(
		&c.ID,
		&c.TotalLocal,
		&c.TotalUSD,
		&c.TotalProfitLocal,
		&c.SalesCount,
		&salesRaw,
		&c.CreatedAt,
	); err != nil {
		return domain.DailyClosing{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if err := json.Unmarshal(salesRaw, &c.Sales); err != nil {
		return domain.DailyClosing{}, fmt.Errorf("decode closing %s sales: %w", c.ID, err)
	}
	return c, nil
}

func (s *Store) GetClosing(ctx context.Context, operatorID string, closingID string) (*domain.DailyClosing, error) {
	c, err := scanClosing(s.db.QueryRowContext(ctx, `
		SELECT `+closingColumns+`
		FROM daily_closings
		WHERE operator_id = $1 AND id = $2
	`, operatorID, closingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteClosing(ctx context.Context, operatorID string, closingID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_closings WHERE operator_id = $1 AND id = $2`, operatorID, closingID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListClosings(ctx context.Context, operatorID string, limit int) ([]domain.DailyClosing, error) {
	if limit < 1 {
		limit = store.ClosingsLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+closingColumns+`
		FROM daily_closings
		WHERE operator_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	closings := make([]domain.DailyClosing, 0, limit)
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		closings = append(closings, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return closings, nil
}

func (s *Store) GetDailyRate(ctx context.Context, operatorID string) (float64, error) {
	var rate float64
	err := s.db.QueryRowContext(ctx, `SELECT daily_rate FROM settings WHERE operator_id = $1`, operatorID).Scan(&rate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return rate, nil
}

func (s *Store) SetDailyRate(ctx context.Context, operatorID string, rate float64) error {
	if !(rate > 0) {
		return store.ErrInvalidDocument
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (operator_id, daily_rate, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (operator_id)
		DO UPDATE SET daily_rate = EXCLUDED.daily_rate, updated_at = now()
	`, operatorID, rate)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || user.ID == "" || user.Password == "" {
		return store.ErrInvalidDocument
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, user.ID, email, user.Password, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM operators
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
