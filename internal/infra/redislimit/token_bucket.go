package redislimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision は1回の判定結果
type Decision struct {
	Allowed bool
	// Remaining は判定後に残っているトークン数
	Remaining float64
}

// TokenBucket は Redis 上の分散トークンバケット。ジョブ投入の受付制限に使う
type TokenBucket struct {
	client   redis.Scripter
	prefix   string
	capacity int
	refill   float64 // 1秒あたりの補充トークン数
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket は容量と補充速度を指定してバケットを作成する
func NewTokenBucket(client redis.Scripter, prefix string, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if prefix == "" {
		prefix = "teardown:admission"
	}
	return &TokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow はキーのトークンを1つ消費できれば Allowed を返す
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + ":" + key},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate token bucket: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("unexpected token bucket result: %v", res)
	}

	allowed, _ := arr[0].(int64)
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return Decision{Allowed: allowed == 1, Remaining: remaining}, nil
}

// 残量は Lua の数値から整数に丸めて返る
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, math.floor(tokens)}
`)

// Admit は受付可否だけを返す
func (b *TokenBucket) Admit(ctx context.Context, key string) (bool, error) {
	d, err := b.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}
