package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments KEYS[1] unless it already holds ARGV[1].
// The window TTL (ARGV[2], milliseconds) is applied on the first hit and
// repaired when a counter somehow lost its expiry.
var incrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local allowed = 0
if current < limit then
	current = redis.call('INCR', KEYS[1])
	allowed = 1
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], window)
	end
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end
return {current, allowed, ttl}
`)

// casScript swaps KEYS[1] from ARGV[1] to ARGV[2] with a PX of ARGV[3].
// Returns -1 when the key is missing, 0 on mismatch, 1 on success.
var casScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Redis is a [Store] backed by a Redis deployment. Atomic operations run as
// Lua scripts so a counter or challenge record is never updated from a stale
// read, including across process instances.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a [Redis] store. prefix is prepended to every key and may
// be empty.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get implements [Store].
func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// SetWithTTL implements [Store].
func (s *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkTTL(ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete implements [Store].
func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AtomicIncrement implements [Store].
func (s *Redis) AtomicIncrement(ctx context.Context, key string, limit int64, window time.Duration) (Counter, error) {
	if err := checkKey(key); err != nil {
		return Counter{}, err
	}
	if limit <= 0 || window < time.Millisecond {
		return Counter{}, ErrInvalidArgument
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 3 {
		return Counter{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	return Counter{
		Count:   res[0],
		Limit:   limit,
		Allowed: res[1] == 1,
		ResetIn: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// CompareAndSwap implements [Store].
func (s *Redis) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if ttl < time.Millisecond {
		return false, ErrInvalidArgument
	}

	res, err := casScript.Run(ctx, s.client, []string{s.key(key)}, expected, next, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}
