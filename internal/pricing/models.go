package pricing

import "time"

// Amounts are expressed in minor units (e.g., cents) using int64.

// MinuteRate defines per-minute charges for bridged calls, keyed by
// provider and destination region.
type MinuteRate struct {
	ID string `json:"id" db:"id"`

	Provider string `json:"provider" db:"provider"`

	// Region is the ISO 3166-1 alpha-2 destination region ("US", "GB").
	// DefaultRegion matches destinations no specific row covers.
	Region string `json:"region" db:"region"`

	Currency string `json:"currency" db:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status RateStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

// DefaultRegion is the catch-all region for rate rows.
const DefaultRegion = "*"
