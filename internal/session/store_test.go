package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testSnapshot(id string) *Session {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &Session{
		ID:        id,
		Provider:  "conference",
		Topology:  TopologyConference,
		State:     StateDialing,
		To:        "+16502530000",
		From:      "+15550100",
		PhoneLeg:  &Leg{Role: LegPhone, ProviderRef: "CA100"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStores(t *testing.T) {
	impls := []struct {
		name string
		make func(t *testing.T) Store
	}{
		{name: "memory", make: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "redis", make: func(t *testing.T) Store {
			_, rdb := newTestRedis(t)
			return NewRedisStore(rdb, time.Hour, 6*time.Hour)
		}},
	}

	for _, impl := range impls {
		t.Run(impl.name, func(t *testing.T) {
			t.Run("create and get roundtrip", func(t *testing.T) {
				st := impl.make(t)
				ctx := context.Background()

				s := testSnapshot("cs-1")
				if err := st.Create(ctx, s); err != nil {
					t.Fatalf("create: %v", err)
				}
				if s.Version != 1 {
					t.Fatalf("create should set version 1, got %d", s.Version)
				}

				got, err := st.Get(ctx, "cs-1")
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if got.State != StateDialing || got.To != "+16502530000" || got.Version != 1 {
					t.Fatalf("roundtrip mismatch: %+v", got)
				}
				if got.PhoneLeg == nil || got.PhoneLeg.ProviderRef != "CA100" {
					t.Fatalf("phone leg lost: %+v", got.PhoneLeg)
				}

				// Mutating the returned copy must not touch the stored snapshot.
				got.State = StateFailed
				got.PhoneLeg.Muted = true
				again, err := st.Get(ctx, "cs-1")
				if err != nil {
					t.Fatalf("get again: %v", err)
				}
				if again.State != StateDialing || again.PhoneLeg.Muted {
					t.Fatalf("store leaked a mutable reference: %+v", again)
				}
			})

			t.Run("duplicate create rejected", func(t *testing.T) {
				st := impl.make(t)
				ctx := context.Background()

				if err := st.Create(ctx, testSnapshot("cs-dup")); err != nil {
					t.Fatalf("create: %v", err)
				}
				err := st.Create(ctx, testSnapshot("cs-dup"))
				if !errors.Is(err, ErrAlreadyExists) {
					t.Fatalf("want ErrAlreadyExists, got %v", err)
				}
			})

			t.Run("get unknown id", func(t *testing.T) {
				st := impl.make(t)
				if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("want ErrNotFound, got %v", err)
				}
			})

			t.Run("update unknown id", func(t *testing.T) {
				st := impl.make(t)
				err := st.Update(context.Background(), testSnapshot("ghost"), 1)
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("want ErrNotFound, got %v", err)
				}
			})

			t.Run("stale version rejected", func(t *testing.T) {
				st := impl.make(t)
				ctx := context.Background()

				if err := st.Create(ctx, testSnapshot("cs-cas")); err != nil {
					t.Fatalf("create: %v", err)
				}

				a, _ := st.Get(ctx, "cs-cas")
				b, _ := st.Get(ctx, "cs-cas")

				a.State = StateRinging
				if err := st.Update(ctx, a, 1); err != nil {
					t.Fatalf("first update: %v", err)
				}
				if a.Version != 2 {
					t.Fatalf("winner version = %d, want 2", a.Version)
				}

				b.State = StateFailed
				if err := st.Update(ctx, b, 1); !errors.Is(err, ErrVersionConflict) {
					t.Fatalf("want ErrVersionConflict, got %v", err)
				}

				got, _ := st.Get(ctx, "cs-cas")
				if got.State != StateRinging || got.Version != 2 {
					t.Fatalf("loser overwrote winner: %+v", got)
				}
			})

			t.Run("concurrent writers single winner", func(t *testing.T) {
				st := impl.make(t)
				ctx := context.Background()

				if err := st.Create(ctx, testSnapshot("cs-race")); err != nil {
					t.Fatalf("create: %v", err)
				}

				const writers = 8
				var wg sync.WaitGroup
				results := make(chan error, writers)
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						s, err := st.Get(ctx, "cs-race")
						if err != nil {
							results <- err
							return
						}
						s.State = StateRinging
						results <- st.Update(ctx, s, 1)
					}()
				}
				wg.Wait()
				close(results)

				wins, conflicts := 0, 0
				for err := range results {
					switch {
					case err == nil:
						wins++
					case errors.Is(err, ErrVersionConflict):
						conflicts++
					default:
						t.Fatalf("unexpected error: %v", err)
					}
				}
				if wins != 1 || conflicts != writers-1 {
					t.Fatalf("wins=%d conflicts=%d, want 1/%d", wins, conflicts, writers-1)
				}
			})

			t.Run("terminal sessions leave the live index", func(t *testing.T) {
				st := impl.make(t)
				ctx := context.Background()

				if err := st.Create(ctx, testSnapshot("cs-live")); err != nil {
					t.Fatalf("create: %v", err)
				}
				if err := st.Create(ctx, testSnapshot("cs-done")); err != nil {
					t.Fatalf("create: %v", err)
				}

				done, _ := st.Get(ctx, "cs-done")
				ended := done.CreatedAt.Add(30 * time.Second)
				done.State = StateEnded
				done.EndedAt = &ended
				if err := st.Update(ctx, done, 1); err != nil {
					t.Fatalf("end: %v", err)
				}

				ids, err := st.LiveIDs(ctx)
				if err != nil {
					t.Fatalf("live ids: %v", err)
				}
				if len(ids) != 1 || ids[0] != "cs-live" {
					t.Fatalf("live ids = %v, want [cs-live]", ids)
				}
			})
		})
	}
}

func TestRedisStore_RetentionEviction(t *testing.T) {
	mr, rdb := newTestRedis(t)
	st := NewRedisStore(rdb, time.Minute, time.Hour)
	ctx := context.Background()

	if err := st.Create(ctx, testSnapshot("cs-ttl")); err != nil {
		t.Fatalf("create: %v", err)
	}

	s, _ := st.Get(ctx, "cs-ttl")
	ended := s.CreatedAt.Add(20 * time.Second)
	s.State = StateEnded
	s.EndedAt = &ended
	if err := st.Update(ctx, s, 1); err != nil {
		t.Fatalf("end: %v", err)
	}

	// Still readable inside the retention window.
	if _, err := st.Get(ctx, "cs-ttl"); err != nil {
		t.Fatalf("get inside retention: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := st.Get(ctx, "cs-ttl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want eviction after retention, got %v", err)
	}
}

func TestRedisStore_LiveIndexPrunesExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	st := NewRedisStore(rdb, time.Minute, time.Minute)
	ctx := context.Background()

	if err := st.Create(ctx, testSnapshot("cs-leak")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Crash scenario: snapshot expires via max lifetime without a terminal
	// write, leaving its id in the live set.
	mr.FastForward(2 * time.Minute)

	ids, err := st.LiveIDs(ctx)
	if err != nil {
		t.Fatalf("live ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected pruned live set, got %v", ids)
	}
	if mr.Exists(keyLiveSet) {
		if members, _ := mr.SMembers(keyLiveSet); len(members) != 0 {
			t.Fatalf("live set still holds %v", members)
		}
	}
}
