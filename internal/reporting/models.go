package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for aggregated bridge outcomes over a time range.
type SummaryRequest struct {
	Range TimeRange `json:"range"`

	// Provider narrows the summary to one adapter; empty means all.
	Provider string `json:"provider,omitempty"`
}

// Summary aggregates archived call records by outcome.
type Summary struct {
	Provider string    `json:"provider,omitempty"`
	Range    TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	BusyCalls      int `json:"busy_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	RejectedCalls  int `json:"rejected_calls"`
	CanceledCalls  int `json:"canceled_calls"`
	FailedCalls    int `json:"failed_calls"`

	AnsweredCalls int `json:"answered_calls"`
	RecordedCalls int `json:"recorded_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// Cost sums records in Currency; mixed-currency rows outside it are
	// counted in the outcome buckets but not in the total.
	TotalCostMinor int64  `json:"total_cost_minor"`
	Currency       string `json:"currency,omitempty"`
}
