package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the requested variant does not exist.
var ErrNotFound = errors.New("variant not found")

// Variant is the sellable unit the cart backend prices against.
// UnitGross is tax inclusive.
type Variant struct {
	SKU            string           `json:"sku"`
	Name           string           `json:"name"`
	ProductName    string           `json:"productName"`
	UnitGross      decimal.Decimal  `json:"unitGross"`
	CompareAtGross *decimal.Decimal `json:"compareAtGross,omitempty"`
	Stock          int              `json:"stock"`
	ImageURL       string           `json:"imageUrl,omitempty"`
}

// Source loads variants by SKU. Unknown SKUs are absent from the result.
type Source interface {
	Variants(ctx context.Context, skus []string) (map[string]Variant, error)
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGSource reads variants from Postgres.
type PGSource struct {
	DB pgxQuerier
}

// NewPGSource constructs a Postgres-backed variant source.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{DB: pool}
}

const variantsBySKU = `
SELECT v.sku, v.name, p.name, v.price_gross, v.compare_at_gross, v.stock, COALESCE(v.image_url, '')
FROM catalog_variants v
JOIN catalog_products p ON p.id = v.product_id
WHERE v.sku = ANY($1) AND v.active`

// Variants implements Source.
func (s *PGSource) Variants(ctx context.Context, skus []string) (map[string]Variant, error) {
	out := make(map[string]Variant, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	if s == nil || s.DB == nil {
		return nil, errors.New("catalog source not configured")
	}
	rows, err := s.DB.Query(ctx, variantsBySKU, skus)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v         Variant
			compareAt decimal.NullDecimal
		)
		if err := rows.Scan(&v.SKU, &v.Name, &v.ProductName, &v.UnitGross, &compareAt, &v.Stock, &v.ImageURL); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		if compareAt.Valid {
			d := compareAt.Decimal
			v.CompareAtGross = &d
		}
		out[v.SKU] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return out, nil
}

// StaticSource serves a fixed variant set. Useful for seeding and tests.
type StaticSource map[string]Variant

// Variants implements Source.
func (s StaticSource) Variants(_ context.Context, skus []string) (map[string]Variant, error) {
	out := make(map[string]Variant, len(skus))
	for _, sku := range skus {
		if v, ok := s[sku]; ok {
			out[sku] = v
		}
	}
	return out, nil
}
