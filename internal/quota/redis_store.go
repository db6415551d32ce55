package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	fieldWindowStart = "window_start"
	fieldSpent       = "spent"

	// Keys outlive their window so a restart just after rollover still finds
	// the previous state and can tell it apart from the current one.
	redisKeyTTL = 62 * 24 * time.Hour
)

// RedisStore persists quota state in a Redis hash.
type RedisStore struct {
	rdb redis.Cmdable
	key string
}

// NewRedisStore returns a store keyed by provider name, e.g.
// "ingest:quota:jsearch".
func NewRedisStore(rdb redis.Cmdable, provider string) *RedisStore {
	return &RedisStore{rdb: rdb, key: "ingest:quota:" + provider}
}

func (s *RedisStore) Load(ctx context.Context) (State, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return State{}, false, errors.Wrapf(err, "HGETALL %s", s.key)
	}
	if len(vals) == 0 {
		return State{}, false, nil
	}

	startUnix, err := strconv.ParseInt(vals[fieldWindowStart], 10, 64)
	if err != nil {
		return State{}, false, errors.Wrapf(err, "parse %s.%s", s.key, fieldWindowStart)
	}
	spent, err := strconv.Atoi(vals[fieldSpent])
	if err != nil {
		return State{}, false, errors.Wrapf(err, "parse %s.%s", s.key, fieldSpent)
	}

	return State{WindowStart: time.Unix(startUnix, 0).UTC(), Spent: spent}, true, nil
}

func (s *RedisStore) Save(ctx context.Context, st State) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key,
			fieldWindowStart, st.WindowStart.Unix(),
			fieldSpent, st.Spent,
		)
		pipe.Expire(ctx, s.key, redisKeyTTL)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "HSET %s", s.key)
	}
	return nil
}

// reserveScript checks and charges the allowance in one step.
// KEYS[1] quota hash; ARGV: window start (unix), n, allowed, ttl seconds.
// Returns {granted, spent}.
var reserveScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
local want = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local allowed = tonumber(ARGV[3])
local spent = 0
if start == want then
  spent = tonumber(redis.call('HGET', KEYS[1], 'spent')) or 0
elseif start and start > want then
  return {0, allowed}
end
if spent + n > allowed then
  return {0, spent}
end
spent = spent + n
redis.call('HSET', KEYS[1], 'window_start', ARGV[1], 'spent', spent)
redis.call('EXPIRE', KEYS[1], ARGV[4])
return {1, spent}
`)

// Reserve implements SharedStore: every process charging the same provider
// key sees one count.
func (s *RedisStore) Reserve(ctx context.Context, windowStart time.Time, n, allowed int) (int, bool, error) {
	res, err := reserveScript.Run(ctx, s.rdb, []string{s.key},
		windowStart.Unix(), n, allowed, int64(redisKeyTTL/time.Second),
	).Int64Slice()
	if err != nil {
		return 0, false, errors.Wrapf(err, "reserve %s", s.key)
	}
	if len(res) != 2 {
		return 0, false, errors.Newf("reserve %s: unexpected reply %v", s.key, res)
	}
	return int(res[1]), res[0] == 1, nil
}
