package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// conditionalDecrScript atomically decrements KEYS[1] by ARGV[1] only when
// the result would stay at or above ARGV[2]. An absent key reads as 0.
// Returns {value, applied} where applied is 1 or 0.
const conditionalDecrScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local n = tonumber(ARGV[1])
local floor = tonumber(ARGV[2])
if cur - n >= floor then
	return {redis.call("DECRBY", KEYS[1], n), 1}
end
return {cur, 0}
`

var conditionalDecr = redis.NewScript(conditionalDecrScript)

// redisStore implements Store on a Redis client.
type redisStore struct {
	client redis.Cmdable // Cmdable for compatibility with ClusterClient etc.
}

// NewRedisStore wraps a pre-configured redis.Cmdable (e.g. redis.Client or
// redis.ClusterClient) as a Store.
func NewRedisStore(client redis.Cmdable) Store {
	return &redisStore{client: client}
}

// wrapErr tags a transport failure so callers can errors.Is against
// ErrUnavailable instead of misreading it as a business outcome.
func wrapErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, key, err)
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("get", key, err)
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapErr("set", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrapErr("del", key, err)
	}
	return nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapErr("expire", key, err)
	}
	return nil
}

func (s *redisStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, wrapErr("incrby", key, err)
	}
	return val, nil
}

func (s *redisStore) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	val, err := s.client.DecrBy(ctx, key, n).Result()
	if err != nil {
		return 0, wrapErr("decrby", key, err)
	}
	return val, nil
}

func (s *redisStore) ConditionalDecrBy(ctx context.Context, key string, n, floor int64) (int64, bool, error) {
	res, err := conditionalDecr.Run(ctx, s.client, []string{key}, n, floor).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("conditional decrement script failed")
		return 0, false, wrapErr("conditionaldecrby", key, err)
	}
	pair, ok := res.([]any)
	if !ok || len(pair) != 2 {
		return 0, false, fmt.Errorf("%w: conditionaldecrby %s: unexpected script result %T", ErrUnavailable, key, res)
	}
	value, okV := pair[0].(int64)
	applied, okA := pair[1].(int64)
	if !okV || !okA {
		return 0, false, fmt.Errorf("%w: conditionaldecrby %s: unexpected script result types", ErrUnavailable, key)
	}
	return value, applied == 1, nil
}

func (s *redisStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return wrapErr("hset", key, err)
	}
	return nil
}

func (s *redisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("hgetall", key, err)
	}
	return fields, nil
}

func (s *redisStore) ListPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.client.LPush(ctx, key, args...).Err(); err != nil {
		return wrapErr("lpush", key, err)
	}
	return nil
}

func (s *redisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapErr("lrange", key, err)
	}
	return vals, nil
}

func (s *redisStore) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return wrapErr("zadd", key, err)
	}
	return nil
}

func (s *redisStore) SortedSetAddNX(ctx context.Context, key string, score float64, member string) (bool, error) {
	added, err := s.client.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, wrapErr("zaddnx", key, err)
	}
	return added == 1, nil
}

func (s *redisStore) SortedSetRemove(ctx context.Context, key, member string) (bool, error) {
	removed, err := s.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, wrapErr("zrem", key, err)
	}
	return removed == 1, nil
}

func (s *redisStore) SortedSetRemoveByScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	removed, err := s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, wrapErr("zremrangebyscore", key, err)
	}
	return removed, nil
}

func (s *redisStore) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, wrapErr("zrangebyscore", key, err)
	}
	return members, nil
}

func (s *redisStore) SortedSetCard(ctx context.Context, key string) (int64, error) {
	card, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("zcard", key, err)
	}
	return card, nil
}

func (s *redisStore) SetAdd(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return wrapErr("sadd", key, err)
	}
	return nil
}

func (s *redisStore) SetRemove(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return wrapErr("srem", key, err)
	}
	return nil
}

func (s *redisStore) SetCard(ctx context.Context, key string) (int64, error) {
	card, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("scard", key, err)
	}
	return card, nil
}

// Batch executes the queued operations in one pipelined round trip. The
// pipeline is not a transaction: a connection failure partway leaves the
// already-flushed operations applied.
func (s *redisStore) Batch(ctx context.Context, fn func(b BatchOps) error) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&redisBatch{ctx: ctx, pipe: pipe})
	})
	if err != nil {
		return wrapErr("pipeline", "batch", err)
	}
	return nil
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b *redisBatch) SortedSetAdd(key string, score float64, member string) {
	b.pipe.ZAdd(b.ctx, key, redis.Z{Score: score, Member: member})
}

func (b *redisBatch) SetAdd(key, member string) {
	b.pipe.SAdd(b.ctx, key, member)
}

func (b *redisBatch) ListPush(key string, values ...string) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	b.pipe.LPush(b.ctx, key, args...)
}

func (b *redisBatch) HashSet(key string, fields map[string]string) {
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	b.pipe.HSet(b.ctx, key, args...)
}

func (b *redisBatch) Expire(key string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	b.pipe.Expire(b.ctx, key, ttl)
}

// formatScore renders a score bound for Redis range commands, mapping the
// infinities to the forms Redis expects.
func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
