package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type autoRenewMutexOptions struct {
	renewInterval time.Duration
	retryDelay    time.Duration
	expiry        time.Duration
	skipLockError bool
}

type AutoRenewMutexOption func(*autoRenewMutexOptions)

// WithAutoRenewMutexRenewInterval 設置續期間隔，預設為過期時間的1/3
func WithAutoRenewMutexRenewInterval(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.renewInterval = d
	}
}

// WithAutoRenewMutexRetryDelay 設置取鎖失敗後的重試延遲
func WithAutoRenewMutexRetryDelay(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.retryDelay = d
	}
}

// WithAutoRenewMutexExpiry 設置鎖過期時間
func WithAutoRenewMutexExpiry(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.expiry = d
	}
}

// WithAutoRenewMutexSkipLockError 連線錯誤時也繼續重試
func WithAutoRenewMutexSkipLockError(skip bool) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.skipLockError = skip
	}
}

// AutoRenewMutex 是持有期間會自動續期的 redis 分散式鎖
type AutoRenewMutex struct {
	mutex    *redsync.Mutex
	mu       sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	renewing bool
	options  autoRenewMutexOptions
}

func NewAutoRenewMutex(client *redis.Client, key string, opts ...AutoRenewMutexOption) *AutoRenewMutex {
	options := autoRenewMutexOptions{
		expiry:     8 * time.Second,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	rs := redsync.New(goredis.NewPool(client))
	return &AutoRenewMutex{
		mutex: rs.NewMutex(
			key,
			redsync.WithExpiry(options.expiry),
			redsync.WithTries(1),
		),
		options: options,
	}
}

// Lock 阻塞直到取得鎖或 ctx 結束。
// 回傳的 context 在續期失敗或 Unlock 時會被取消。
func (m *AutoRenewMutex) Lock(ctx context.Context) (context.Context, error) {
	const op = "AutoRenewMutex.Lock"
	for {
		err := m.mutex.LockContext(ctx)
		if err == nil {
			return m.startRenew(ctx), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var redisErr *redsync.RedisError
		if !m.options.skipLockError && errors.As(err, &redisErr) {
			return nil, fmt.Errorf("[%s] Fail to acquire lock, err=%w", op, err)
		}
		if !sleep(ctx, m.options.retryDelay) {
			return nil, ctx.Err()
		}
	}
}

// Unlock 停止續期並釋放鎖
func (m *AutoRenewMutex) Unlock() (bool, error) {
	m.stopRenew()
	m.wg.Wait()
	return m.mutex.Unlock()
}

// Valid 鎖仍在續期中且尚未過期
func (m *AutoRenewMutex) Valid() bool {
	m.mu.Lock()
	renewing := m.renewing
	m.mu.Unlock()
	return renewing && time.Now().Before(m.mutex.Until())
}

func (m *AutoRenewMutex) startRenew(parent context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.renewing = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.options.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.mutex.ExtendContext(ctx)
				if err != nil || !ok {
					m.stopRenew()
					return
				}
			}
		}
	}()
	return ctx
}

func (m *AutoRenewMutex) stopRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.renewing {
		return
	}
	m.renewing = false
	m.cancel()
}
