package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"coldcall-bridge/internal/calllog"
	"coldcall-bridge/internal/session"
)

func reportRecord(id, provider, reason string, dur int, cost int64, endedAt time.Time) calllog.CallRecord {
	rec := calllog.CallRecord{
		SessionID:       id,
		Provider:        provider,
		Topology:        string(session.TopologyConference),
		To:              "+16502530000",
		From:            "+12025550143",
		State:           "ended",
		EndReason:       reason,
		CreatedAt:       endedAt.Add(-2 * time.Minute),
		EndedAt:         endedAt,
		DurationSeconds: dur,
		CostMinor:       cost,
		Currency:        "USD",
	}
	if dur > 0 {
		answered := endedAt.Add(-time.Duration(dur) * time.Second)
		rec.AnsweredAt = &answered
	} else {
		rec.State = "failed"
	}
	return rec
}

func TestSummary_AggregatesOutcomes(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1750000000, 0).UTC()
	repo.Add(reportRecord("cc-1", "conference", session.ReasonCompleted, 90, 30, now))
	repo.Add(reportRecord("cc-2", "conference", session.ReasonCompleted, 30, 15, now.Add(time.Minute)))
	repo.Add(reportRecord("cc-3", "conference", session.ReasonBusy, 0, 0, now.Add(2*time.Minute)))
	repo.Add(reportRecord("cc-4", "conference", session.ReasonNoAnswerTimeout, 0, 0, now.Add(3*time.Minute)))
	repo.Add(reportRecord("cc-5", "conference", session.ReasonProviderError, 0, 0, now.Add(4*time.Minute)))

	rec := reportRecord("cc-6", "conference", session.ReasonCompleted, 60, 20, now.Add(5*time.Minute))
	rec.RecordingURL = "https://media.example.com/cc-6.mp3"
	repo.Add(rec)

	svc := NewService(repo)
	out, err := svc.Summary(context.Background(), SummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if out.TotalCalls != 6 {
		t.Fatalf("total = %d, want 6", out.TotalCalls)
	}
	if out.CompletedCalls != 3 || out.BusyCalls != 1 || out.NoAnswerCalls != 1 || out.FailedCalls != 1 {
		t.Fatalf("outcome buckets wrong: %+v", out)
	}
	if out.AnsweredCalls != 3 {
		t.Fatalf("answered = %d, want 3", out.AnsweredCalls)
	}
	if out.RecordedCalls != 1 {
		t.Fatalf("recorded = %d, want 1", out.RecordedCalls)
	}
	if out.TotalDurationSeconds != 180 {
		t.Fatalf("duration = %d, want 180", out.TotalDurationSeconds)
	}
	if out.AverageDurationSeconds != 30 {
		t.Fatalf("avg duration = %d, want 30", out.AverageDurationSeconds)
	}
	if out.TotalCostMinor != 65 || out.Currency != "USD" {
		t.Fatalf("cost = %d %s, want 65 USD", out.TotalCostMinor, out.Currency)
	}
}

func TestSummary_ProviderFilter(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1750000000, 0).UTC()
	repo.Add(reportRecord("cc-1", "conference", session.ReasonCompleted, 60, 15, now))
	repo.Add(reportRecord("cc-2", "direct", session.ReasonCompleted, 60, 25, now))

	svc := NewService(repo)
	out, err := svc.Summary(context.Background(), SummaryRequest{
		Range:    TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
		Provider: "direct",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalCostMinor != 25 {
		t.Fatalf("expected only the direct record: %+v", out)
	}
}

func TestSummary_RangeBoundsRecords(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1750000000, 0).UTC()
	repo.Add(reportRecord("cc-old", "conference", session.ReasonCompleted, 60, 15, now.Add(-2*time.Hour)))
	repo.Add(reportRecord("cc-in", "conference", session.ReasonCompleted, 60, 15, now))

	svc := NewService(repo)
	out, err := svc.Summary(context.Background(), SummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("total = %d, want only the in-range record", out.TotalCalls)
	}
}

func TestSummary_RejectsBadRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Unix(1750000000, 0).UTC()

	cases := []TimeRange{
		{},
		{From: now},
		{To: now},
		{From: now, To: now},
		{From: now, To: now.Add(-time.Minute)},
	}
	for i, r := range cases {
		if _, err := svc.Summary(context.Background(), SummaryRequest{Range: r}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}
