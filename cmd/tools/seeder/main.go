package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-storefront/internal/db"
)

type seedVariant struct {
	SKU       string
	Name      string
	Gross     int64
	CompareAt int64
	Stock     int
}

type seedProduct struct {
	Name     string
	Image    string
	Variants []seedVariant
}

type seedVoucher struct {
	Code       string
	Name       string
	Kind       string
	Value      int64
	PercentBps int
	MinSpend   int64
	SKUs       []string
}

var products = []seedProduct{
	{"MacBook Pro 14 M3", "https://images.unsplash.com/photo-1517336714731-489689fd1ca8?w=800", []seedVariant{
		{"MBP14-M3-512", "512GB Space Grey", 25000000, 27000000, 50},
		{"MBP14-M3-1TB", "1TB Silver", 29000000, 0, 20},
	}},
	{"iPhone 15 Pro", "https://images.unsplash.com/photo-1695048133142-1a20484d2569?w=800", []seedVariant{
		{"IP15P-128", "128GB", 20000000, 0, 100},
		{"IP15P-256", "256GB", 22500000, 0, 60},
	}},
	{"Sony WH-1000XM5", "https://images.unsplash.com/photo-1618366712010-f4ae9c647dcb?w=800", []seedVariant{
		{"WH1000XM5-BLK", "Black", 5000000, 5500000, 150},
		{"WH1000XM5-SLV", "Silver", 5000000, 5500000, 80},
	}},
	{"Nike Air Force 1", "https://images.unsplash.com/photo-1542291026-7eec264c27ff?w=800", []seedVariant{
		{"AF1-WHT-42", "White / 42", 1500000, 0, 200},
		{"AF1-WHT-43", "White / 43", 1500000, 0, 120},
	}},
	{"Dyson V15 Detect", "https://images.unsplash.com/photo-1556911220-e15b29be8c8f?w=800", []seedVariant{
		{"DYSON-V15", "Standard", 12000000, 0, 30},
	}},
	{"Kaos Hitam Polos", "https://images.unsplash.com/photo-1583743814966-8936f5b7be1a?w=800", []seedVariant{
		{"KAOS-BLK-M", "Black / M", 100000, 0, 500},
		{"KAOS-BLK-L", "Black / L", 100000, 0, 500},
	}},
}

var vouchers = []seedVoucher{
	{Code: "DISC20", Name: "Rp20.000 off", Kind: "fixed", Value: 20000},
	{Code: "WELCOME", Name: "Welcome Rp50.000", Kind: "fixed", Value: 50000, MinSpend: 250000},
	{Code: "AUDIO10", Name: "10% off headphones", Kind: "percent", PercentBps: 1000, SKUs: []string{"WH1000XM5-BLK", "WH1000XM5-SLV"}},
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if err := db.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect")
	}
	defer conn.Close(context.Background())

	if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error { return seed(ctx, tx, logger) }); err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logger.Info().Int("products", len(products)).Int("vouchers", len(vouchers)).Msg("seeding completed")
}

func seed(ctx context.Context, tx pgx.Tx, logger zerolog.Logger) error {
	for _, p := range products {
		var productID int64
		// Products have no natural key, so reuse a same-named row on reruns.
		err := tx.QueryRow(ctx, `
			WITH existing AS (
				SELECT id FROM catalog_products WHERE name = $1 ORDER BY id LIMIT 1
			), inserted AS (
				INSERT INTO catalog_products (name)
				SELECT $1 WHERE NOT EXISTS (SELECT 1 FROM existing)
				RETURNING id
			)
			SELECT id FROM existing UNION ALL SELECT id FROM inserted`, p.Name).Scan(&productID)
		if err != nil {
			return fmt.Errorf("product %s: %w", p.Name, err)
		}
		for _, v := range p.Variants {
			var compareAt *decimal.Decimal
			if v.CompareAt > 0 {
				d := decimal.NewFromInt(v.CompareAt)
				compareAt = &d
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO catalog_variants (sku, product_id, name, price_gross, compare_at_gross, stock, image_url)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (sku) DO UPDATE SET
					product_id = EXCLUDED.product_id,
					name = EXCLUDED.name,
					price_gross = EXCLUDED.price_gross,
					compare_at_gross = EXCLUDED.compare_at_gross,
					stock = EXCLUDED.stock,
					image_url = EXCLUDED.image_url,
					updated_at = now()`,
				v.SKU, productID, v.Name, decimal.NewFromInt(v.Gross), compareAt, v.Stock, p.Image)
			if err != nil {
				return fmt.Errorf("variant %s: %w", v.SKU, err)
			}
		}
		logger.Debug().Str("product", p.Name).Int("variants", len(p.Variants)).Msg("seeded product")
	}

	for _, v := range vouchers {
		_, err := tx.Exec(ctx, `
			INSERT INTO vouchers (code, name, kind, value, percent_bps, min_spend, valid_from, valid_to, skus)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now() + INTERVAL '1 year', $7)
			ON CONFLICT (code) DO NOTHING`,
			strings.ToUpper(v.Code), v.Name, v.Kind, decimal.NewFromInt(v.Value), v.PercentBps, decimal.NewFromInt(v.MinSpend), v.SKUs)
		if err != nil {
			return fmt.Errorf("voucher %s: %w", v.Code, err)
		}
	}
	return nil
}
