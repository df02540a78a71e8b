package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Source resolves voucher codes into rules.
type Source interface {
	Lookup(ctx context.Context, code string) (Rule, error)
}

// Redeemer records that a voucher was consumed by a completed order.
type Redeemer interface {
	Redeem(ctx context.Context, code string) error
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository reads vouchers from Postgres.
type Repository struct {
	DB pgxQuerier
}

// NewRepository constructs a Postgres-backed voucher repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{DB: pool}
}

const voucherByCode = `
SELECT code, name, kind, value, percent_bps, min_spend, usage_limit, used_count, valid_from, valid_to, skus
FROM vouchers
WHERE upper(code) = upper($1) AND active`

// Lookup implements Source. Unknown codes yield ErrNotEligible.
func (r *Repository) Lookup(ctx context.Context, code string) (Rule, error) {
	if r == nil || r.DB == nil {
		return Rule{}, errors.New("voucher repository not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Rule{}, fmt.Errorf("code is required: %w", ErrNotEligible)
	}
	var (
		rule       Rule
		usageLimit *int32
		validFrom  *time.Time
		validTo    *time.Time
		skus       []string
		value      decimal.Decimal
		minSpend   decimal.Decimal
	)
	err := r.DB.QueryRow(ctx, voucherByCode, trimmed).Scan(
		&rule.Code, &rule.Name, &rule.Kind, &value, &rule.PercentBps, &minSpend,
		&usageLimit, &rule.UsedCount, &validFrom, &validTo, &skus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotEligible
		}
		return Rule{}, fmt.Errorf("lookup voucher: %w", err)
	}
	rule.Value = value
	rule.MinSpend = minSpend
	rule.UsageLimit = usageLimit
	rule.ValidFrom = validFrom
	rule.ValidTo = validTo
	rule.SKUs = skus
	return rule, nil
}

const redeemVoucher = `
UPDATE vouchers SET used_count = used_count + 1
WHERE upper(code) = upper($1) AND (usage_limit IS NULL OR used_count < usage_limit)`

// Redeem implements Redeemer.
func (r *Repository) Redeem(ctx context.Context, code string) error {
	if r == nil || r.DB == nil {
		return errors.New("voucher repository not configured")
	}
	tag, err := r.DB.Exec(ctx, redeemVoucher, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("redeem voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUsageLimitReached
	}
	return nil
}

// StaticSource serves rules from memory keyed by upper-cased code.
type StaticSource map[string]Rule

// Lookup implements Source.
func (s StaticSource) Lookup(_ context.Context, code string) (Rule, error) {
	rule, ok := s[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Rule{}, ErrNotEligible
	}
	return rule, nil
}
