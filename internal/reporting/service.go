package reporting

import (
	"context"
	"errors"
	"time"

	"coldcall-bridge/internal/calllog"
	"coldcall-bridge/internal/session"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts read access to archived call records. Queries run
// against immutable rows, so results are stable under retries.
type Repository interface {
	ListRecords(ctx context.Context, from, to time.Time, provider string) ([]calllog.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Summary aggregates outcomes, talk time and cost over [from, to).
func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListRecords(ctx, req.Range.From, req.Range.To, req.Provider)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{Provider: req.Provider, Range: req.Range}
	for _, rec := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += rec.DurationSeconds
		if rec.AnsweredAt != nil {
			out.AnsweredCalls++
		}
		if rec.RecordingURL != "" {
			out.RecordedCalls++
		}

		switch rec.EndReason {
		case session.ReasonCompleted:
			out.CompletedCalls++
		case session.ReasonBusy:
			out.BusyCalls++
		case session.ReasonNoAnswer, session.ReasonNoAnswerTimeout:
			out.NoAnswerCalls++
		case session.ReasonRejected:
			out.RejectedCalls++
		case session.ReasonCanceled:
			out.CanceledCalls++
		default:
			// provider_error, browser_join_timeout and anything unexpected
			out.FailedCalls++
		}

		if rec.CostMinor == 0 {
			continue
		}
		// currency normalization: first priced record sets it; rows in
		// other currencies keep their outcome counts but skip the total.
		if out.Currency == "" {
			out.Currency = rec.Currency
		}
		if rec.Currency == out.Currency {
			out.TotalCostMinor += rec.CostMinor
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
