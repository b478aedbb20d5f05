package pricing

import (
	"context"
	"errors"
	"time"

	"coldcall-bridge/pkg/phone"
)

// Service resolves a rate for a finished bridge and computes its cost.
//
// Contract:
//   - Rates are keyed by (provider, region); the destination region is derived
//     from the dialed E.164 number.
//   - A DefaultRegion row acts as the fallback when no region-specific rate
//     exists for the provider.
//   - Pure calculation + repository lookups; no provider SDK calls.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type CallCostRequest struct {
	Provider string

	// To is the dialed E.164 number; the pricing region is derived from it.
	To string

	// DurationSeconds is the answered duration (billable seconds are derived).
	DurationSeconds int

	// At determines which effective rate to use. If zero, service clock is used.
	At time.Time
}

type CallCost struct {
	Provider string
	Region   string

	Currency string

	BillableSeconds int
	BillableMinutes int

	RatePerMinuteMinor int64
	TotalMinor         int64
}

var (
	ErrRateNotFound      = errors.New("pricing: rate not found")
	ErrInvalidPricingReq = errors.New("pricing: invalid request")
)

// CalculateCallCost computes the cost of an answered bridge.
func (s *Service) CalculateCallCost(ctx context.Context, req CallCostRequest) (CallCost, error) {
	if req.Provider == "" || req.To == "" {
		return CallCost{}, ErrInvalidPricingReq
	}
	if req.DurationSeconds <= 0 {
		return CallCost{}, ErrInvalidPricingReq
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	region := phone.RegionCode(req.To)
	if region == "" {
		region = DefaultRegion
	}

	rate, ok, err := s.repo.FindRate(ctx, req.Provider, region, at)
	if err != nil {
		return CallCost{}, err
	}
	if !ok && region != DefaultRegion {
		rate, ok, err = s.repo.FindRate(ctx, req.Provider, DefaultRegion, at)
		if err != nil {
			return CallCost{}, err
		}
	}
	if !ok {
		return CallCost{}, ErrRateNotFound
	}

	billableSec := billableSeconds(req.DurationSeconds, rate.MinimumBillableSeconds, rate.BillingIncrementSeconds)
	billableMin := billableMinutesFromSeconds(billableSec)

	total := rate.RatePerMinuteMinor * int64(billableMin)

	return CallCost{
		Provider:           req.Provider,
		Region:             rate.Region,
		Currency:           rate.Currency,
		BillableSeconds:    billableSec,
		BillableMinutes:    billableMin,
		RatePerMinuteMinor: rate.RatePerMinuteMinor,
		TotalMinor:         total,
	}, nil
}

// RateRepository abstracts rate persistence. Implementations match exactly on
// (provider, region); the default-region fallback lives in the service.
type RateRepository interface {
	FindRate(ctx context.Context, provider, region string, at time.Time) (MinuteRate, bool, error)
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	if m <= 0 {
		return 0
	}
	return m
}
