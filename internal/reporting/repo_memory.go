package reporting

import (
	"context"
	"sync"
	"time"

	"coldcall-bridge/internal/calllog"
)

// MemoryRepo is an in-memory reporting repository for tests and early
// development; production reads go through the calllog Postgres archive.
type MemoryRepo struct {
	mu      sync.Mutex
	Records []calllog.CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Add(rec calllog.CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = append(r.Records, rec)
}

func (r *MemoryRepo) ListRecords(ctx context.Context, from, to time.Time, provider string) ([]calllog.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calllog.CallRecord, 0)
	for _, rec := range r.Records {
		if rec.EndedAt.Before(from) || !rec.EndedAt.Before(to) {
			continue
		}
		if provider != "" && rec.Provider != provider {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
