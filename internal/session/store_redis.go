package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "coldcall:session:"
	keyLiveSet = "coldcall:sessions:live"
)

// createScript stores a new snapshot only if the key is free and indexes it
// as live, atomically.
var createScript = redis.NewScript(`
-- KEYS[1] = session hash
-- KEYS[2] = live id set
-- ARGV[1] = snapshot json
-- ARGV[2] = ttl_ms
-- ARGV[3] = session id
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', '1')
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// casScript commits the snapshot only when the stored version is untouched.
// Returns -1 when the key vanished, 0 on version mismatch, 1 on commit.
var casScript = redis.NewScript(`
-- KEYS[1] = session hash
-- KEYS[2] = live id set
-- ARGV[1] = expected version
-- ARGV[2] = snapshot json
-- ARGV[3] = new version
-- ARGV[4] = ttl_ms
-- ARGV[5] = '1' when terminal
-- ARGV[6] = session id
local ver = redis.call('HGET', KEYS[1], 'version')
if not ver then
  return -1
end
if ver ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
if ARGV[5] == '1' then
  redis.call('SREM', KEYS[2], ARGV[6])
end
return 1
`)

// RedisStore keeps snapshots in redis hashes with the version held as a
// separate field so the CAS never has to parse JSON server-side.
type RedisStore struct {
	rdb *redis.Client

	// retention bounds terminal snapshots; maxLifetime bounds everything
	// else so crashed sessions cannot leak keys.
	retention   time.Duration
	maxLifetime time.Duration
}

func NewRedisStore(rdb *redis.Client, retention, maxLifetime time.Duration) *RedisStore {
	if retention <= 0 {
		retention = time.Hour
	}
	if maxLifetime <= 0 {
		maxLifetime = 6 * time.Hour
	}
	return &RedisStore{rdb: rdb, retention: retention, maxLifetime: maxLifetime}
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	s.Version = 1
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	res, err := createScript.Run(ctx, r.rdb,
		[]string{keyPrefix + s.ID, keyLiveSet},
		raw, r.maxLifetime.Milliseconds(), s.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	if res == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.HGet(ctx, keyPrefix+id, "data").Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s *Session, expected uint64) error {
	s.Version = expected + 1
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	ttl := r.maxLifetime
	terminalFlag := "0"
	if s.State.Terminal() {
		ttl = r.retention
		terminalFlag = "1"
	}

	res, err := casScript.Run(ctx, r.rdb,
		[]string{keyPrefix + s.ID, keyLiveSet},
		fmt.Sprintf("%d", expected), raw, fmt.Sprintf("%d", s.Version),
		ttl.Milliseconds(), terminalFlag, s.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrVersionConflict
	}
	return nil
}

// LiveIDs returns ids from the live index, lazily pruning entries whose
// snapshot aged out (crash before a terminal write).
func (r *RedisStore) LiveIDs(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, keyLiveSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}

	alive := ids[:0]
	for _, id := range ids {
		n, err := r.rdb.Exists(ctx, keyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("check session %s: %w", id, err)
		}
		if n == 0 {
			_ = r.rdb.SRem(ctx, keyLiveSet, id).Err()
			continue
		}
		alive = append(alive, id)
	}
	return alive, nil
}
