package calllog

import (
	"context"
	"sync"
)

// MemoryRecorder keeps records in memory for tests and local development.
type MemoryRecorder struct {
	mu      sync.Mutex
	records map[string]CallRecord
	order   []string
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: make(map[string]CallRecord)}
}

func (m *MemoryRecorder) Record(_ context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.SessionID]; ok {
		return nil
	}
	m.records[rec.SessionID] = rec
	m.order = append(m.order, rec.SessionID)
	return nil
}

func (m *MemoryRecorder) AttachRecording(_ context.Context, sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil
	}
	rec.RecordingURL = url
	m.records[sessionID] = rec
	return nil
}

// Get returns the record for a session, if delivered.
func (m *MemoryRecorder) Get(sessionID string) (CallRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	return rec, ok
}

// Len reports how many distinct sessions were recorded.
func (m *MemoryRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
