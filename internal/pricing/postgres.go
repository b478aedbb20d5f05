package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads the rate card from the minute_rates table. It answers
// exact (provider, region) lookups only; the default-region fallback is the
// service's job.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindRate(ctx context.Context, provider, region string, at time.Time) (MinuteRate, bool, error) {
	const q = `
SELECT id, provider, region, currency, rate_per_minute_minor, billing_increment_seconds,
       minimum_billable_seconds, effective_from, effective_to, status, created_at, updated_at
FROM minute_rates
WHERE provider = $1 AND region = $2 AND status = 'active'
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`
	var m MinuteRate
	var effectiveTo sql.NullTime
	err := r.db.QueryRowContext(ctx, q, provider, region, at.UTC()).Scan(
		&m.ID, &m.Provider, &m.Region, &m.Currency, &m.RatePerMinuteMinor,
		&m.BillingIncrementSeconds, &m.MinimumBillableSeconds,
		&m.EffectiveFrom, &effectiveTo, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return MinuteRate{}, false, nil
	}
	if err != nil {
		return MinuteRate{}, false, err
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		m.EffectiveTo = &t
	}
	return m, true, nil
}
