package pricing

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory rate table useful for tests and for
// deployments that load their rate card from configuration.
type MemoryRepo struct {
	Rates []MinuteRate
}

func (r *MemoryRepo) FindRate(ctx context.Context, provider, region string, at time.Time) (MinuteRate, bool, error) {
	_ = ctx

	// Prefer the most recently effective rate row.
	var best MinuteRate
	found := false

	for _, rate := range r.Rates {
		if rate.Provider != provider {
			continue
		}
		if rate.Region != region {
			continue
		}
		if rate.Status != RateStatusActive {
			continue
		}
		if at.Before(rate.EffectiveFrom) {
			continue
		}
		if rate.EffectiveTo != nil && !at.Before(*rate.EffectiveTo) {
			continue
		}

		if !found || rate.EffectiveFrom.After(best.EffectiveFrom) {
			best = rate
			found = true
		}
	}

	return best, found, nil
}
