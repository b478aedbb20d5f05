package calllog

import (
	"context"
	"database/sql"
	"time"

	"coldcall-bridge/pkg/utils"
)

// Archive persists completion records in Postgres and maintains the daily
// rollup the summary endpoint reads. Insert and rollup commit atomically;
// the record insert is keyed on session_id so redelivery is a no-op that
// also skips the rollup.
type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) Record(ctx context.Context, rec CallRecord) error {
	return utils.WithTx(ctx, a.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := insertRecord(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		return bumpDailyRollup(ctx, tx, rec)
	})
}

func (a *Archive) AttachRecording(ctx context.Context, sessionID, url string) error {
	const q = `
UPDATE call_records
SET recording_url = $2
WHERE session_id = $1
`
	_, err := a.db.ExecContext(ctx, q, sessionID, url)
	return err
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec CallRecord) (bool, error) {
	const q = `
INSERT INTO call_records (
  session_id, provider, topology, to_number, from_number, state, end_reason,
  created_at, answered_at, ended_at, duration_seconds, cost_minor, currency, recording_url
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (session_id) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		rec.SessionID,
		rec.Provider,
		rec.Topology,
		rec.To,
		rec.From,
		rec.State,
		rec.EndReason,
		rec.CreatedAt,
		rec.AnsweredAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.CostMinor,
		rec.Currency,
		rec.RecordingURL,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func bumpDailyRollup(ctx context.Context, tx *sql.Tx, rec CallRecord) error {
	answered := 0
	if rec.AnsweredAt != nil {
		answered = 1
	}
	const q = `
INSERT INTO call_summary_daily (day, provider, calls, answered, duration_seconds, cost_minor)
VALUES ($1,$2,1,$3,$4,$5)
ON CONFLICT (day, provider)
DO UPDATE SET calls            = call_summary_daily.calls + 1,
              answered         = call_summary_daily.answered + EXCLUDED.answered,
              duration_seconds = call_summary_daily.duration_seconds + EXCLUDED.duration_seconds,
              cost_minor       = call_summary_daily.cost_minor + EXCLUDED.cost_minor
`
	_, err := tx.ExecContext(ctx, q,
		rec.EndedAt.UTC().Truncate(24*time.Hour),
		rec.Provider,
		answered,
		rec.DurationSeconds,
		rec.CostMinor,
	)
	return err
}

// DailySummary is one rollup row as the summary endpoint reports it.
type DailySummary struct {
	Day             time.Time `json:"day" db:"day"`
	Provider        string    `json:"provider" db:"provider"`
	Calls           int       `json:"calls" db:"calls"`
	Answered        int       `json:"answered" db:"answered"`
	DurationSeconds int64     `json:"duration_seconds" db:"duration_seconds"`
	CostMinor       int64     `json:"cost_minor" db:"cost_minor"`
}

// Summaries returns rollup rows since a day, newest first.
func (a *Archive) Summaries(ctx context.Context, since time.Time, limit int) ([]DailySummary, error) {
	if limit <= 0 || limit > 400 {
		limit = 60
	}
	const q = `
SELECT day, provider, calls, answered, duration_seconds, cost_minor
FROM call_summary_daily
WHERE day >= $1
ORDER BY day DESC, provider
LIMIT $2
`
	rows, err := a.db.QueryContext(ctx, q, since.UTC().Truncate(24*time.Hour), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailySummary
	for rows.Next() {
		var s DailySummary
		if err := rows.Scan(&s.Day, &s.Provider, &s.Calls, &s.Answered, &s.DurationSeconds, &s.CostMinor); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRecords returns records ended in [from, to), newest first. An empty
// provider matches all providers.
func (a *Archive) ListRecords(ctx context.Context, from, to time.Time, provider string) ([]CallRecord, error) {
	const q = `
SELECT session_id, provider, topology, to_number, from_number, state, end_reason,
       created_at, answered_at, ended_at, duration_seconds, cost_minor, currency, recording_url
FROM call_records
WHERE ended_at >= $1 AND ended_at < $2
  AND ($3 = '' OR provider = $3)
ORDER BY ended_at DESC
LIMIT 10000
`
	rows, err := a.db.QueryContext(ctx, q, from.UTC(), to.UTC(), provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var answered sql.NullTime
		var recording sql.NullString
		err := rows.Scan(
			&rec.SessionID, &rec.Provider, &rec.Topology, &rec.To, &rec.From,
			&rec.State, &rec.EndReason, &rec.CreatedAt, &answered, &rec.EndedAt,
			&rec.DurationSeconds, &rec.CostMinor, &rec.Currency, &recording,
		)
		if err != nil {
			return nil, err
		}
		if answered.Valid {
			t := answered.Time
			rec.AnsweredAt = &t
		}
		rec.RecordingURL = recording.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
