package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketScript 以 token bucket 限制請求頻率
//
//	KEYS[1] - bucket 的 hash key
//	ARGV[1] - 容量
//	ARGV[2] - 每秒補充的 token 數
//	ARGV[3] - 目前時間(毫秒)
//	ARGV[4] - 本次消耗的 token 數
//
// 返回值: {是否允許(1/0), 剩餘 token 數, 需要等待的毫秒數}
//
// 流程:
//   - 1. 讀取上次的 token 數與時間，沒有紀錄時視為滿的
//   - 2. 依經過時間補充 token，不超過容量
//   - 3a. 足夠時扣除並允許
//   - 3b. 不足時計算需要等待的時間
//   - 4. 寫回狀態，閒置到補滿後自動過期
var TokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
    tokens = capacity
    ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * rate / 1000)

local allowed = 0
local retry = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
else
    retry = math.ceil((cost - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', key, math.ceil(capacity * 1000 / rate) + 1000)
return {allowed, math.floor(tokens), retry}
`)

// Decision 是一次限流判斷的結果
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter 以 redis 上的 token bucket 限制每個身份的請求頻率，
// 多個服務實例共用同一份額度
type RateLimiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	rate     float64
}

func NewRateLimiter(client *redis.Client, prefix string, capacity int, refillPerSec float64) (*RateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if capacity <= 0 || refillPerSec <= 0 {
		return nil, errors.New("capacity and refill rate must be positive")
	}
	return &RateLimiter{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		rate:     refillPerSec,
	}, nil
}

// Allow 嘗試為 identity 消耗一個 token
func (l *RateLimiter) Allow(ctx context.Context, identity string, now time.Time) (Decision, error) {
	const op = "RateLimiter.Allow"
	result, err := TokenBucketScript.Run(ctx, l.client,
		[]string{l.prefix + "ratelimit:" + identity},
		l.capacity, l.rate, now.UnixMilli(), 1,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("[%s] Fail to run token bucket script, err=%w", op, err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("[%s] Invalid script return value: %v", op, result)
	}
	return Decision{
		Allowed:    result[0] == 1,
		Remaining:  result[1],
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}
