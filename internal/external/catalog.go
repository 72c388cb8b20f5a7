package external

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowbot-app/flowbot/internal/engine"
)

// ErrProductNotFound indicates the catalog has no such product.
var ErrProductNotFound = errors.New("product not found")

// SQLCatalog serves products and promo codes from PostgreSQL.
type SQLCatalog struct {
	db  *sql.DB
	log *slog.Logger
}

var (
	_ engine.StockChecker  = (*SQLCatalog)(nil)
	_ engine.PromoResolver = (*SQLCatalog)(nil)
)

// NewSQLCatalog creates a catalog backed by the products and promo_codes tables.
func NewSQLCatalog(db *sql.DB, log *slog.Logger) *SQLCatalog {
	if log == nil {
		log = slog.Default()
	}

	return &SQLCatalog{db: db, log: log}
}

// Product fetches one catalog entry.
func (c *SQLCatalog) Product(ctx context.Context, productID string) (*engine.Product, error) {
	const query = `
		SELECT id, name, price, stock
		FROM products
		WHERE id = $1
	`

	row := c.db.QueryRowContext(ctx, query, productID)

	var product engine.Product
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("select product: %w", err)
	}

	return &product, nil
}

// InStock reports whether the product has at least minQty units available.
func (c *SQLCatalog) InStock(ctx context.Context, productID string, minQty int) (bool, error) {
	product, err := c.Product(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return false, nil
		}
		return false, err
	}

	return product.Stock >= minQty, nil
}

// Discount resolves a promo code to its discount fraction. Unknown or
// inactive codes resolve to zero discount.
func (c *SQLCatalog) Discount(ctx context.Context, code string) (float64, error) {
	const query = `
		SELECT discount
		FROM promo_codes
		WHERE code = $1 AND active
	`

	var discount float64
	if err := c.db.QueryRowContext(ctx, query, code).Scan(&discount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select promo code: %w", err)
	}

	return discount, nil
}
