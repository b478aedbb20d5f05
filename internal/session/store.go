package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("session: not found")
	ErrAlreadyExists   = errors.New("session: already exists")
	ErrVersionConflict = errors.New("session: version conflict")
)

// Store persists session snapshots.
//
// Concurrency model: Update is a compare-and-swap on Session.Version. A
// caller reads a snapshot, mutates a clone, and submits it with the version
// it read; if another writer committed in between, the store returns
// ErrVersionConflict and the caller re-reads and reapplies. Writers on
// different sessions never contend.
type Store interface {
	// Create stores a brand-new snapshot at version 1.
	// Returns ErrAlreadyExists when the id is taken; session ids are never
	// reused, so a duplicate is a caller bug or a replayed request.
	Create(ctx context.Context, s *Session) error

	// Get returns a copy of the snapshot, or ErrNotFound when the id is
	// unknown or the snapshot aged out of retention.
	Get(ctx context.Context, id string) (*Session, error)

	// Update commits s if the stored version still equals expected, bumping
	// s.Version to expected+1. Terminal snapshots move to the retention
	// window; live ones keep the max-lifetime guard.
	Update(ctx context.Context, s *Session, expected uint64) error

	// LiveIDs lists sessions not yet terminal, for watchdog sweeps.
	LiveIDs(ctx context.Context) ([]string, error)
}
